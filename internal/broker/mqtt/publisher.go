package mqtt

import (
	"fmt"
	"time"

	"maintenance-automation/internal/metrics"
)

const publishTimeout = 5 * time.Second

// PublisherImpl handles MQTT message publishing
type PublisherImpl struct {
	broker *MQTTBroker
	conn   ConnectionManager
}

func NewPublisher(broker *MQTTBroker, conn ConnectionManager) Publisher {
	return &PublisherImpl{
		broker: broker,
		conn:   conn,
	}
}

// Publish sends payload to topic and waits for the broker to accept it.
func (p *PublisherImpl) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("not connected to broker")
	}

	token := p.conn.GetClient().Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.broker.stats.Errors.Add(1)
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		p.broker.stats.Errors.Add(1)
		p.broker.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.SetBrokerConnectionStatus(brokerName, p.conn.IsConnected())
		})
		p.broker.logger.Error("failed to publish message",
			"error", err,
			"topic", topic)
		return err
	}

	p.broker.stats.MessagesPublished.Add(1)
	p.broker.logger.Debug("published message",
		"topic", topic,
		"qos", qos,
		"payloadSize", len(payload))

	return nil
}
