package mqtt

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"maintenance-automation/config"
	"maintenance-automation/internal/broker"
	"maintenance-automation/internal/engine"
	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/metrics"
	"maintenance-automation/internal/rule"
)

// MockToken implements mqtt.Token for testing
type MockToken struct {
	err  error
	done chan struct{}
}

func NewMockToken(err error) *MockToken {
	t := &MockToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *MockToken) Wait() bool                     { return true }
func (t *MockToken) WaitTimeout(time.Duration) bool { return true }
func (t *MockToken) Error() error                   { return t.err }
func (t *MockToken) Done() <-chan struct{}          { return t.done }

type publishedMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// MockClient implements mqtt.Client for testing
type MockClient struct {
	mu           sync.Mutex
	publishErr   error
	subscribeErr error
	published    []publishedMessage
	handlers     map[string]mqtt.MessageHandler
	subscribeQoS map[string]byte
	subscribes   int
}

func NewMockClient() *MockClient {
	return &MockClient{
		handlers:     make(map[string]mqtt.MessageHandler),
		subscribeQoS: make(map[string]byte),
	}
}

func (m *MockClient) Connect() mqtt.Token { return NewMockToken(nil) }
func (m *MockClient) Disconnect(uint)     {}

func (m *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return NewMockToken(m.publishErr)
	}
	data, _ := payload.([]byte)
	m.published = append(m.published, publishedMessage{topic, qos, retained, data})
	return NewMockToken(nil)
}

func (m *MockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribes++
	if m.subscribeErr != nil {
		return NewMockToken(m.subscribeErr)
	}
	m.handlers[topic] = callback
	m.subscribeQoS[topic] = qos
	return NewMockToken(nil)
}

func (m *MockClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return NewMockToken(nil)
}
func (m *MockClient) Unsubscribe(...string) mqtt.Token        { return NewMockToken(nil) }
func (m *MockClient) AddRoute(string, mqtt.MessageHandler)    {}
func (m *MockClient) IsConnected() bool                       { return true }
func (m *MockClient) IsConnectionOpen() bool                  { return true }
func (m *MockClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (m *MockClient) handler(topic string) mqtt.MessageHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[topic]
}

func (m *MockClient) messages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage(nil), m.published...)
}

func (m *MockClient) subscribeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribes
}

// mockMessage implements mqtt.Message
type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 1 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

type submitted struct {
	trigger   string
	companyID string
	payload   map[string]interface{}
}

// mockSink records submitted events and dispatches them on the caller.
type mockSink struct {
	mu    sync.Mutex
	calls []submitted
}

func (s *mockSink) Submit(evt broker.Event, done func(engine.DispatchSummary)) error {
	s.mu.Lock()
	s.calls = append(s.calls, submitted{evt.Trigger, evt.CompanyID, evt.Context})
	s.mu.Unlock()

	summary := engine.DispatchSummary{Trigger: rule.Trigger(evt.Trigger), CompanyID: evt.CompanyID}
	if _, err := rule.ParseTrigger(evt.Trigger); err != nil {
		summary.Err = err
	}
	if done != nil {
		done(summary)
	}
	return nil
}

func (s *mockSink) submitted() []submitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]submitted(nil), s.calls...)
}

func newTestBroker(client *MockClient, eventTopic string) *MQTTBroker {
	m, _ := metrics.NewMetrics(prometheus.NewRegistry())
	b := &MQTTBroker{
		logger:  logger.NewNop(),
		metrics: m,
		config: config.MQTTConfig{
			Broker:     "tcp://localhost:1883",
			ClientID:   "test",
			EventTopic: eventTopic,
			QoS:        1,
		},
	}
	b.attach(NewConnectionManagerWithClient(b, client))
	return b
}
