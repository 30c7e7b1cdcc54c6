package nats

import (
	"context"
	"fmt"
	"sync"

	"maintenance-automation/config"
	"maintenance-automation/internal/broker"
	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/metrics"
)

const brokerName = "nats"

// NATSBroker consumes domain events from NATS subjects and publishes
// notification and status messages for action handlers.
type NATSBroker struct {
	logger  *logger.Logger
	config  config.NATSConfig
	metrics *metrics.Metrics
	stats   broker.Stats

	sink broker.Queue

	conn ConnectionManager
	sub  SubscriptionManager
	pub  Publisher

	stopCh    chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
	wg sync.WaitGroup
}

// NewBroker connects to the configured NATS servers.
func NewBroker(cfg config.NATSConfig, log *logger.Logger, metricsService *metrics.Metrics) (*NATSBroker, error) {
	b := &NATSBroker{
		logger:  log,
		config:  cfg,
		metrics: metricsService,
		stopCh:  make(chan struct{}),
	}

	conn, err := NewConnectionManager(b)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}
	b.attach(conn)
	return b, nil
}

// attach wires the publisher and subscription manager to conn.
func (b *NATSBroker) attach(conn ConnectionManager) {
	b.conn = conn
	b.pub = NewPublisher(b, conn)
	b.sub = NewSubscriptionManager(b, conn, b.pub)
}

// Start subscribes to the event subject and feeds every event to sink.
func (b *NATSBroker) Start(ctx context.Context, sink broker.Queue) error {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()

	if err := b.sub.Subscribe([]string{b.config.EventSubject}); err != nil {
		return fmt.Errorf("failed to subscribe to event subject: %w", err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case <-ctx.Done():
			b.logger.Info("context done, unsubscribing from all subjects")
			b.sub.UnsubscribeAll()
		case <-b.stopCh:
		}
	}()

	return nil
}

func (b *NATSBroker) eventSink() broker.Queue {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sink
}

// Publish implements Publisher
func (b *NATSBroker) Publish(subject string, payload []byte) error {
	return b.pub.Publish(subject, payload)
}

func (b *NATSBroker) IsConnected() bool {
	return b.conn.IsConnected()
}

// NotificationPrefix is the subject prefix for send_notification.
func (b *NATSBroker) NotificationPrefix() string {
	return b.config.NotificationPrefix
}

// StatusSubject is the subject update_status publishes to.
func (b *NATSBroker) StatusSubject() string {
	return b.config.StatusSubject
}

// Close unsubscribes and disconnects. It is safe to call more than once.
func (b *NATSBroker) Close() {
	b.closeOnce.Do(func() {
		b.logger.Info("shutting down NATS broker")
		close(b.stopCh)
		b.wg.Wait()
		b.sub.UnsubscribeAll()
		b.conn.Disconnect()
	})
}

func (b *NATSBroker) GetStats() broker.StatsSnapshot {
	return b.stats.Snapshot()
}

// safeMetricsUpdate safely updates metrics if they are enabled
func (b *NATSBroker) safeMetricsUpdate(fn func(*metrics.Metrics)) {
	if b.metrics != nil {
		fn(b.metrics)
	}
}
