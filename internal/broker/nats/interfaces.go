package nats

import (
	"github.com/nats-io/nats.go"
)

// ConnectionManager handles NATS connection lifecycle
type ConnectionManager interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// SubscriptionManager handles event subscriptions
type SubscriptionManager interface {
	Subscribe(subjects []string) error
	UnsubscribeAll() error
	Resubscribe() error
	GetSubscribedSubjects() []string
}

// Publisher handles message publishing
type Publisher interface {
	Publish(subject string, payload []byte) error
}
