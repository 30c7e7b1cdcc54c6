// Package broker carries domain events from message brokers into the
// engine and holds what the NATS and MQTT transports share.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"maintenance-automation/internal/engine"
)

// EventSink dispatches decoded domain events synchronously.
// *engine.Engine implements it.
type EventSink interface {
	SubmitEvent(ctx context.Context, trigger string, companyID string, payload map[string]interface{}) engine.DispatchSummary
}

// Event is the wire envelope of a domain event. Trigger may be omitted
// when the subject or topic carries it.
type Event struct {
	Trigger   string                 `json:"trigger,omitempty"`
	CompanyID string                 `json:"companyId"`
	Context   map[string]interface{} `json:"context"`
}

// DecodeEvent parses an event payload. fallbackTrigger is used when the
// payload has no trigger of its own.
func DecodeEvent(data []byte, fallbackTrigger string) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("invalid event payload: %w", err)
	}
	if evt.Trigger == "" {
		evt.Trigger = fallbackTrigger
	}
	if evt.Trigger == "" {
		return Event{}, fmt.Errorf("event has no trigger")
	}
	if evt.CompanyID == "" {
		return Event{}, fmt.Errorf("event has no companyId")
	}
	if evt.Context == nil {
		evt.Context = make(map[string]interface{})
	}
	return evt, nil
}

// LastSegment returns the part of a subject or topic after the final
// separator, for example "creation" from "automation.events.creation".
func LastSegment(name string, sep string) string {
	if i := strings.LastIndex(name, sep); i >= 0 {
		return name[i+len(sep):]
	}
	return name
}

// Deliver decodes one message and queues it on q. done is passed through
// to the queue.
func Deliver(q Queue, data []byte, fallbackTrigger string, done func(engine.DispatchSummary)) error {
	evt, err := DecodeEvent(data, fallbackTrigger)
	if err != nil {
		return err
	}
	return q.Submit(evt, done)
}

// Stats holds per-transport message counters.
type Stats struct {
	MessagesReceived  atomic.Uint64
	MessagesPublished atomic.Uint64
	Errors            atomic.Uint64
	lastReconnect     atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	MessagesReceived  uint64    `json:"messagesReceived"`
	MessagesPublished uint64    `json:"messagesPublished"`
	Errors            uint64    `json:"errors"`
	LastReconnect     time.Time `json:"lastReconnect"`
}

func (s *Stats) MarkReconnect(t time.Time) {
	s.lastReconnect.Store(t.UnixNano())
}

func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		MessagesReceived:  s.MessagesReceived.Load(),
		MessagesPublished: s.MessagesPublished.Load(),
		Errors:            s.Errors.Load(),
	}
	if ns := s.lastReconnect.Load(); ns != 0 {
		snap.LastReconnect = time.Unix(0, ns)
	}
	return snap
}
