package handlers

import (
	"context"
	"encoding/json"
	"time"

	"maintenance-automation/internal/action"
	"maintenance-automation/internal/broker/nats"
	"maintenance-automation/internal/rule"
)

const defaultNotificationMessage = "Maintenance automation rule triggered"

// SendNotification publishes a notification request to
// <prefix>.<channel>. Delivery by email or chat is left to the
// subscriber.
//
// Parameters: channel (default "email"), recipient, subject, message.
type SendNotification struct {
	pub    SubjectPublisher
	prefix string
	now    func() time.Time
}

type notificationMessage struct {
	envelope
	Channel   string            `json:"channel"`
	Recipient string            `json:"recipient,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Message   string            `json:"message"`
	Context   rule.EventContext `json:"context,omitempty"`
}

func NewSendNotification(pub SubjectPublisher, prefix string) *SendNotification {
	return &SendNotification{pub: pub, prefix: prefix, now: time.Now}
}

func (h *SendNotification) Execute(ctx context.Context, params map[string]interface{}, evt rule.EventContext) action.Result {
	channel, err := stringParam(params, "channel", false)
	if err != nil {
		return action.PermanentFailure("%v", err)
	}
	if channel == "" {
		channel = "email"
	}
	recipient, err := stringParam(params, "recipient", false)
	if err != nil {
		return action.PermanentFailure("%v", err)
	}
	subject, err := stringParam(params, "subject", false)
	if err != nil {
		return action.PermanentFailure("%v", err)
	}
	message, err := stringParam(params, "message", false)
	if err != nil {
		return action.PermanentFailure("%v", err)
	}
	if message == "" {
		message = defaultNotificationMessage
	}

	data, err := json.Marshal(notificationMessage{
		envelope:  newEnvelope(ctx, h.now()),
		Channel:   channel,
		Recipient: recipient,
		Subject:   subject,
		Message:   message,
		Context:   evt,
	})
	if err != nil {
		return action.PermanentFailure("failed to encode notification: %v", err)
	}

	target := nats.JoinSubject(h.prefix, nats.SubjectToken(channel))
	if err := ctx.Err(); err != nil {
		return publishFailure(ctx, target, err)
	}
	if err := h.pub.Publish(target, data); err != nil {
		return publishFailure(ctx, target, err)
	}
	return action.Succeeded("notification sent via " + channel)
}
