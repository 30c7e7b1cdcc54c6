package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"maintenance-automation/internal/metrics"
)

// ConnectionManagerImpl handles MQTT connection lifecycle
type ConnectionManagerImpl struct {
	broker    *MQTTBroker
	client    mqtt.Client
	connected atomic.Bool
}

// NewConnectionManager creates a new MQTT connection manager
func NewConnectionManager(broker *MQTTBroker) (ConnectionManager, error) {
	cm := &ConnectionManagerImpl{
		broker: broker,
	}
	cfg := broker.config

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute)

	opts.OnConnect = cm.handleConnect
	opts.OnConnectionLost = cm.handleDisconnect
	opts.OnReconnecting = cm.handleReconnecting

	if cfg.TLS.Enable {
		tlsConfig, err := newTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	cm.client = mqtt.NewClient(opts)

	if err := cm.Connect(); err != nil {
		return nil, err
	}

	return cm, nil
}

// NewConnectionManagerWithClient creates a connection manager with a provided client (for testing)
func NewConnectionManagerWithClient(broker *MQTTBroker, client mqtt.Client) ConnectionManager {
	cm := &ConnectionManagerImpl{
		broker: broker,
		client: client,
	}
	cm.connected.Store(true)
	return cm
}

// Connect establishes connection to the MQTT broker
func (cm *ConnectionManagerImpl) Connect() error {
	cm.broker.logger.Info("connecting to mqtt broker", "broker", cm.broker.config.Broker)
	if token := cm.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to broker: %w", token.Error())
	}
	return nil
}

// Disconnect cleanly disconnects from the MQTT broker
func (cm *ConnectionManagerImpl) Disconnect() {
	cm.broker.logger.Info("disconnecting from mqtt broker")
	cm.client.Disconnect(250)
	cm.connected.Store(false)
	cm.broker.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(brokerName, false)
	})
}

func (cm *ConnectionManagerImpl) IsConnected() bool {
	return cm.connected.Load()
}

func (cm *ConnectionManagerImpl) GetClient() mqtt.Client {
	return cm.client
}

// handleConnect runs on the first connection and after every reconnect.
// Clean sessions drop subscriptions, so they are restored here.
func (cm *ConnectionManagerImpl) handleConnect(_ mqtt.Client) {
	cm.broker.logger.Info("mqtt client connected", "broker", cm.broker.config.Broker)
	cm.connected.Store(true)
	cm.broker.stats.MarkReconnect(time.Now())

	cm.broker.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(brokerName, true)
	})

	sub := cm.broker.subscriptions()
	if sub == nil {
		return
	}
	if err := sub.ResubscribeAll(); err != nil {
		cm.broker.logger.Error("failed to resubscribe to topics after reconnect",
			"error", err)
		return
	}
	cm.broker.logger.Debug("resubscribed to topics",
		"topics", sub.GetSubscribedTopics())
}

func (cm *ConnectionManagerImpl) handleDisconnect(_ mqtt.Client, err error) {
	cm.broker.logger.Error("mqtt connection lost", "error", err)
	cm.connected.Store(false)

	cm.broker.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetBrokerConnectionStatus(brokerName, false)
	})
}

func (cm *ConnectionManagerImpl) handleReconnecting(_ mqtt.Client, opts *mqtt.ClientOptions) {
	server := ""
	if len(opts.Servers) > 0 {
		server = opts.Servers[0].String()
	}
	cm.broker.logger.Info("mqtt client reconnecting", "broker", server)

	cm.broker.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncBrokerReconnects(brokerName)
	})
}

// newTLSConfig loads a client certificate. The CA file is optional and
// falls back to the system pool.
func newTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if caFile == "" {
		return cfg, nil
	}

	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	cfg.RootCAs = caCertPool
	return cfg, nil
}
