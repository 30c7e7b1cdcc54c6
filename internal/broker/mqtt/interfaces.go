package mqtt

import (
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ConnectionManager handles MQTT connection lifecycle
type ConnectionManager interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	GetClient() mqtt.Client
}

// SubscriptionManager handles event topic subscriptions
type SubscriptionManager interface {
	Subscribe(topics []string) error
	HandleMessage(client mqtt.Client, msg mqtt.Message)
	ResubscribeAll() error
	GetSubscribedTopics() []string
}

// Publisher handles message publishing
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}
