package nats

import (
	"fmt"

	"maintenance-automation/internal/metrics"
)

// PublisherImpl implements the Publisher interface for NATS
type PublisherImpl struct {
	broker *NATSBroker
	conn   ConnectionManager
}

func NewPublisher(b *NATSBroker, conn ConnectionManager) Publisher {
	return &PublisherImpl{
		broker: b,
		conn:   conn,
	}
}

// Publish sends payload to subject
func (p *PublisherImpl) Publish(subject string, payload []byte) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("not connected to NATS server")
	}

	if err := p.conn.Publish(subject, payload); err != nil {
		p.broker.stats.Errors.Add(1)
		p.broker.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.SetBrokerConnectionStatus(brokerName, p.conn.IsConnected())
		})
		p.broker.logger.Error("failed to publish message",
			"error", err,
			"subject", subject)
		return err
	}

	p.broker.stats.MessagesPublished.Add(1)
	p.broker.logger.Debug("published message",
		"subject", subject,
		"payloadSize", len(payload))

	return nil
}
