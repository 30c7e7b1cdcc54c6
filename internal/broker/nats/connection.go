package nats

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"maintenance-automation/internal/metrics"
)

// ConnectionManagerImpl implements ConnectionManager for NATS
type ConnectionManagerImpl struct {
	broker    *NATSBroker
	conn      *nats.Conn
	connected atomic.Bool
}

// NewConnectionManager creates a connection manager and connects.
func NewConnectionManager(broker *NATSBroker) (ConnectionManager, error) {
	cm := &ConnectionManagerImpl{
		broker: broker,
	}

	if err := cm.Connect(); err != nil {
		return nil, err
	}

	return cm, nil
}

// Connect establishes connection to the NATS server
func (cm *ConnectionManagerImpl) Connect() error {
	cfg := cm.broker.config
	if len(cfg.URLs) == 0 {
		return fmt.Errorf("no NATS server URLs provided")
	}

	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.ReconnectWait(time.Second * 2),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(cm.handleDisconnect),
		nats.ReconnectHandler(cm.handleReconnect),
		nats.ClosedHandler(cm.handleClosed),
	}

	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	if cfg.TLS.Enable {
		opts = append(opts, nats.ClientCert(cfg.TLS.CertFile, cfg.TLS.KeyFile))
		if cfg.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(cfg.TLS.CAFile))
		}
	}

	cm.broker.logger.Info("connecting to NATS server", "urls", cfg.URLs)

	// nats.Connect accepts a comma-separated server list
	var err error
	cm.conn, err = nats.Connect(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS server: %w", err)
	}

	cm.connected.Store(true)
	cm.broker.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(brokerName, true)
	})

	cm.broker.logger.Info("connected to NATS server", "url", cm.conn.ConnectedUrl())
	return nil
}

// Disconnect drains pending messages and closes the connection.
func (cm *ConnectionManagerImpl) Disconnect() {
	if cm.conn == nil {
		return
	}
	cm.broker.logger.Info("disconnecting from NATS server")
	if err := cm.conn.Drain(); err != nil {
		cm.conn.Close()
	}
	cm.connected.Store(false)
}

func (cm *ConnectionManagerImpl) IsConnected() bool {
	return cm.conn != nil && cm.conn.IsConnected() && cm.connected.Load()
}

func (cm *ConnectionManagerImpl) Publish(subject string, data []byte) error {
	return cm.conn.Publish(subject, data)
}

func (cm *ConnectionManagerImpl) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	return cm.conn.Subscribe(subject, handler)
}

// NATS connection event handlers

func (cm *ConnectionManagerImpl) handleDisconnect(_ *nats.Conn, err error) {
	cm.broker.logger.Error("disconnected from NATS server", "error", err)
	cm.connected.Store(false)

	cm.broker.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(brokerName, false)
	})
}

func (cm *ConnectionManagerImpl) handleReconnect(conn *nats.Conn) {
	cm.broker.logger.Info("reconnected to NATS server", "url", conn.ConnectedUrl())
	cm.connected.Store(true)
	cm.broker.stats.MarkReconnect(time.Now())

	cm.broker.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(brokerName, true)
		m.IncBrokerReconnects(brokerName)
	})

	// nats.go restores subscriptions itself; this only repairs any that
	// were dropped while disconnected.
	if cm.broker.sub != nil {
		if err := cm.broker.sub.Resubscribe(); err != nil {
			cm.broker.logger.Error("failed to resubscribe after reconnection", "error", err)
		}
	}
}

func (cm *ConnectionManagerImpl) handleClosed(_ *nats.Conn) {
	cm.broker.logger.Warn("NATS connection closed")
	cm.connected.Store(false)

	cm.broker.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(brokerName, false)
	})
}
