package nats

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"maintenance-automation/internal/broker"
	"maintenance-automation/internal/engine"
)

// SubscriptionManagerImpl implements SubscriptionManager for NATS
type SubscriptionManagerImpl struct {
	broker   *NATSBroker
	conn     ConnectionManager
	pub      Publisher
	subjects []string
	subs     map[string]*nats.Subscription
	mu       sync.RWMutex
}

// dispatchReply is sent to request-reply callers.
type dispatchReply struct {
	engine.DispatchSummary
	Error string `json:"error,omitempty"`
}

func NewSubscriptionManager(b *NATSBroker, conn ConnectionManager, pub Publisher) SubscriptionManager {
	return &SubscriptionManagerImpl{
		broker:   b,
		conn:     conn,
		pub:      pub,
		subjects: make([]string, 0),
		subs:     make(map[string]*nats.Subscription),
	}
}

// Subscribe subscribes to the provided subjects
func (s *SubscriptionManagerImpl) Subscribe(subjects []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.conn.IsConnected() {
		return fmt.Errorf("not connected to NATS server")
	}

	s.broker.logger.Info("subscribing to subjects", "count", len(subjects))

	for _, subject := range subjects {
		if err := s.subscribeSubject(subject); err != nil {
			s.broker.logger.Error("failed to subscribe to subject",
				"subject", subject,
				"error", err)
			return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
		}
		s.broker.logger.Debug("subscribed to subject", "subject", subject)
	}

	s.subjects = append(s.subjects[:0:0], subjects...)
	return nil
}

func (s *SubscriptionManagerImpl) subscribeSubject(subject string) error {
	sub, err := s.conn.Subscribe(subject, s.handleMessage)
	if err != nil {
		return err
	}
	s.subs[subject] = sub
	return nil
}

// UnsubscribeAll unsubscribes from all subjects
func (s *SubscriptionManagerImpl) UnsubscribeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for subject, sub := range s.subs {
		if sub == nil {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			s.broker.logger.Debug("failed to unsubscribe from subject",
				"subject", subject,
				"error", err)
		}
	}

	s.subs = make(map[string]*nats.Subscription)
	s.subjects = make([]string, 0)
	return nil
}

// Resubscribe restores subscriptions that are no longer valid.
func (s *SubscriptionManagerImpl) Resubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, subject := range s.subjects {
		if sub, ok := s.subs[subject]; ok && sub != nil && sub.IsValid() {
			continue
		}
		if err := s.subscribeSubject(subject); err != nil {
			return fmt.Errorf("failed to resubscribe to subject %s: %w", subject, err)
		}
	}
	return nil
}

func (s *SubscriptionManagerImpl) GetSubscribedSubjects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subjects := make([]string, len(s.subjects))
	copy(subjects, s.subjects)
	return subjects
}

// handleMessage queues one event. The last subject token is the trigger
// unless the payload names one. Requests get the dispatch summary back
// from the worker once dispatch finishes.
func (s *SubscriptionManagerImpl) handleMessage(msg *nats.Msg) {
	s.broker.stats.MessagesReceived.Add(1)

	s.broker.logger.Debug("processing event",
		"subject", msg.Subject,
		"payloadSize", len(msg.Data))

	sink := s.broker.eventSink()
	if sink == nil {
		s.broker.stats.Errors.Add(1)
		s.broker.logger.Error("event received before the broker was started", "subject", msg.Subject)
		return
	}

	err := broker.Deliver(sink, msg.Data, broker.LastSegment(msg.Subject, "."), func(summary engine.DispatchSummary) {
		r := dispatchReply{DispatchSummary: summary}
		if summary.Err != nil {
			r.Error = summary.Err.Error()
		}
		s.reply(msg, r)
	})
	if err != nil {
		s.broker.stats.Errors.Add(1)
		s.broker.logger.Error("failed to submit event",
			"subject", msg.Subject,
			"error", err)
		s.reply(msg, dispatchReply{Error: err.Error()})
	}
}

func (s *SubscriptionManagerImpl) reply(msg *nats.Msg, r dispatchReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		s.broker.logger.Error("failed to encode reply", "error", err)
		return
	}
	if err := s.pub.Publish(msg.Reply, data); err != nil {
		s.broker.logger.Error("failed to send reply",
			"subject", msg.Reply,
			"error", err)
	}
}
