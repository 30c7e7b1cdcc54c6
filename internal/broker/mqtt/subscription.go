package mqtt

import (
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"maintenance-automation/internal/broker"
	"maintenance-automation/internal/engine"
)

// SubscriptionManagerImpl implements the SubscriptionManager interface
type SubscriptionManagerImpl struct {
	broker *MQTTBroker
	conn   ConnectionManager
	topics []string
	mu     sync.RWMutex
}

func NewSubscriptionManager(b *MQTTBroker, conn ConnectionManager) SubscriptionManager {
	return &SubscriptionManagerImpl{
		broker: b,
		conn:   conn,
		topics: make([]string, 0),
	}
}

// Subscribe subscribes to the provided topics at the configured QoS.
func (s *SubscriptionManagerImpl) Subscribe(topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.conn.IsConnected() {
		return fmt.Errorf("not connected to broker")
	}

	s.broker.logger.Info("subscribing to topics", "count", len(topics))
	if err := s.subscribe(topics); err != nil {
		return err
	}
	s.topics = append(s.topics[:0:0], topics...)
	return nil
}

func (s *SubscriptionManagerImpl) subscribe(topics []string) error {
	for _, topic := range topics {
		token := s.conn.GetClient().Subscribe(topic, s.broker.config.QoS, s.HandleMessage)
		if token.Wait() && token.Error() != nil {
			s.broker.logger.Error("failed to subscribe to topic",
				"topic", topic,
				"error", token.Error())
			return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
		}
		s.broker.logger.Debug("subscribed to topic", "topic", topic)
	}
	return nil
}

// HandleMessage queues one event. The last topic level is the trigger
// unless the payload names one.
func (s *SubscriptionManagerImpl) HandleMessage(_ mqtt.Client, msg mqtt.Message) {
	s.broker.stats.MessagesReceived.Add(1)

	s.broker.logger.Debug("processing event",
		"topic", msg.Topic(),
		"payloadSize", len(msg.Payload()))

	sink := s.broker.eventSink()
	if sink == nil {
		s.broker.stats.Errors.Add(1)
		s.broker.logger.Error("event received before the broker was started", "topic", msg.Topic())
		return
	}

	topic := msg.Topic()
	err := broker.Deliver(sink, msg.Payload(), broker.LastSegment(topic, "/"), func(summary engine.DispatchSummary) {
		if summary.Err != nil {
			s.broker.logger.Warn("event rejected",
				"topic", topic,
				"error", summary.Err)
		}
	})
	if err != nil {
		s.broker.stats.Errors.Add(1)
		s.broker.logger.Error("failed to submit event",
			"topic", topic,
			"error", err)
	}
}

// ResubscribeAll restores every known topic.
func (s *SubscriptionManagerImpl) ResubscribeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.topics) == 0 {
		return nil
	}
	return s.subscribe(s.topics)
}

func (s *SubscriptionManagerImpl) GetSubscribedTopics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]string, len(s.topics))
	copy(topics, s.topics)
	return topics
}
