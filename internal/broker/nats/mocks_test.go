package nats

import (
	"errors"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"maintenance-automation/config"
	"maintenance-automation/internal/broker"
	"maintenance-automation/internal/engine"
	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/metrics"
	"maintenance-automation/internal/rule"
)

type published struct {
	subject string
	data    []byte
}

// mockConn implements ConnectionManager without a server.
type mockConn struct {
	mu         sync.Mutex
	connected  bool
	publishErr error
	published  []published
	handlers   map[string]nats.MsgHandler
}

func newMockConn() *mockConn {
	return &mockConn{connected: true, handlers: make(map[string]nats.MsgHandler)}
}

func (m *mockConn) Connect() error { return nil }

func (m *mockConn) Disconnect() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
}

func (m *mockConn) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockConn) Publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, published{subject, data})
	return nil
}

func (m *mockConn) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subject == "" {
		return nil, errors.New("invalid subject")
	}
	m.handlers[subject] = handler
	return nil, nil
}

func (m *mockConn) handler(subject string) nats.MsgHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[subject]
}

func (m *mockConn) messages() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.published...)
}

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

	summary := engine.DispatchSummary{Trigger: rule.Trigger(evt.Trigger), CompanyID: evt.CompanyID, Executions: []engine.ExecutionRef{}}
	if _, err := rule.ParseTrigger(evt.Trigger); err != nil {
		summary.Err = err
	}
	if done != nil {
		done(summary)
	}
	return nil
}

func newTestBroker(conn ConnectionManager) *NATSBroker {
	m, _ := metrics.NewMetrics(prometheus.NewRegistry())
	b := &NATSBroker{
		logger:  logger.NewNop(),
		metrics: m,
		stopCh:  make(chan struct{}),
		config: config.NATSConfig{
			EventSubject:       "automation.events.>",
			NotificationPrefix: "notifications",
			StatusSubject:      "assets.status.update",
		},
	}
	b.attach(conn)
	return b
}
