package mqtt

import (
	"context"
	"fmt"
	"sync"

	"maintenance-automation/config"
	"maintenance-automation/internal/broker"
	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/metrics"
)

const brokerName = "mqtt"

// MQTTBroker publishes action messages to an MQTT broker and optionally
// consumes domain events from an event topic.
type MQTTBroker struct {
	logger  *logger.Logger
	config  config.MQTTConfig
	metrics *metrics.Metrics
	stats   broker.Stats

	sink broker.Queue

	conn ConnectionManager
	sub  SubscriptionManager
	pub  Publisher

	closeOnce sync.Once
	mu        sync.RWMutex
}

// NewBroker connects to the configured MQTT broker.
func NewBroker(cfg config.MQTTConfig, log *logger.Logger, metricsService *metrics.Metrics) (*MQTTBroker, error) {
	b := &MQTTBroker{
		logger:  log,
		config:  cfg,
		metrics: metricsService,
	}

	conn, err := NewConnectionManager(b)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}
	b.attach(conn)
	return b, nil
}

// attach wires the publisher and subscription manager to conn.
func (b *MQTTBroker) attach(conn ConnectionManager) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conn = conn
	b.pub = NewPublisher(b, conn)
	b.sub = NewSubscriptionManager(b, conn)
}

// subscriptions is nil until attach has run.
func (b *MQTTBroker) subscriptions() SubscriptionManager {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sub
}

// Start subscribes to the event topic, if one is configured, and feeds
// every event to sink.
func (b *MQTTBroker) Start(_ context.Context, sink broker.Queue) error {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()

	if b.config.EventTopic == "" {
		return nil
	}
	if err := b.sub.Subscribe([]string{b.config.EventTopic}); err != nil {
		return fmt.Errorf("failed to subscribe to event topic: %w", err)
	}
	return nil
}

func (b *MQTTBroker) eventSink() broker.Queue {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sink
}

// Publish implements Publisher
func (b *MQTTBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return b.pub.Publish(topic, qos, retained, payload)
}

func (b *MQTTBroker) IsConnected() bool {
	return b.conn.IsConnected()
}

// DefaultQoS is used by publish_mqtt when an action names none.
func (b *MQTTBroker) DefaultQoS() byte {
	return b.config.QoS
}

func (b *MQTTBroker) Close() {
	b.closeOnce.Do(func() {
		b.logger.Info("shutting down mqtt broker")
		b.conn.Disconnect()
	})
}

func (b *MQTTBroker) GetStats() broker.StatsSnapshot {
	return b.stats.Snapshot()
}

// safeMetricsUpdate safely updates metrics if they are enabled
func (b *MQTTBroker) safeMetricsUpdate(fn func(*metrics.Metrics)) {
	if b.metrics != nil {
		fn(b.metrics)
	}
}
