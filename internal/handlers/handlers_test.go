package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"maintenance-automation/internal/action"
	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/rule"
)

type sentMessage struct {
	target   string
	qos      byte
	retained bool
	payload  []byte
}

// fakePublisher satisfies both SubjectPublisher and TopicPublisher.
type fakePublisher struct {
	mu   sync.Mutex
	err  error
	sent []sentMessage
}

func (p *fakePublisher) Publish(subject string, payload []byte) error {
	return p.record(sentMessage{target: subject, payload: payload})
}

func (p *fakePublisher) record(m sentMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, m)
	return nil
}

type fakeTopicPublisher struct {
	fakePublisher
}

func (p *fakeTopicPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return p.record(sentMessage{target: topic, qos: qos, retained: retained, payload: payload})
}

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func invocationContext() context.Context {
	return action.WithInvocation(context.Background(), action.Invocation{
		RuleID:    "r1",
		CompanyID: "acme",
		Trigger:   rule.TriggerCreation,
	})
}

func decode(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestSendNotification(t *testing.T) {
	pub := &fakePublisher{}
	h := NewSendNotification(pub, "notifications")
	h.now = func() time.Time { return fixedNow }

	res := h.Execute(invocationContext(), map[string]interface{}{
		"channel":   "email",
		"recipient": "ops@example.com",
		"message":   "Pump 7 is critical",
	}, rule.EventContext{"asset": map[string]interface{}{"isCritical": true}})

	require.True(t, res.Success, res.Message)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "notifications.email", pub.sent[0].target)

	msg := decode(t, pub.sent[0].payload)
	assert.Equal(t, "acme", msg["companyId"])
	assert.Equal(t, "r1", msg["ruleId"])
	assert.Equal(t, "creation", msg["trigger"])
	assert.Equal(t, "ops@example.com", msg["recipient"])
	assert.Equal(t, "Pump 7 is critical", msg["message"])
	assert.Equal(t, "2026-03-01T09:30:00Z", msg["sentAt"])
	assert.NotNil(t, msg["context"])
}

func TestSendNotificationDefaults(t *testing.T) {
	pub := &fakePublisher{}
	h := NewSendNotification(pub, "notifications")

	res := h.Execute(context.Background(), map[string]interface{}{}, nil)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "notifications.email", pub.sent[0].target)

	msg := decode(t, pub.sent[0].payload)
	assert.Equal(t, defaultNotificationMessage, msg["message"])
	assert.NotContains(t, msg, "companyId")
}

func TestSendNotificationInvalidParameters(t *testing.T) {
	pub := &fakePublisher{}
	h := NewSendNotification(pub, "notifications")

	tests := []struct {
		name   string
		params map[string]interface{}
	}{
		{"channel not a string", map[string]interface{}{"channel": 42}},
		{"unresolved placeholder", map[string]interface{}{"recipient": "${asset.owner}"}},
		{"message not a string", map[string]interface{}{"message": []interface{}{"a"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.Execute(context.Background(), tt.params, nil)
			assert.False(t, res.Success)
			assert.True(t, res.Permanent)
			assert.NotEmpty(t, res.Message)
		})
	}
	assert.Empty(t, pub.sent)
}

func TestSendNotificationPublishErrorIsTransient(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	h := NewSendNotification(pub, "notifications")

	res := h.Execute(context.Background(), map[string]interface{}{"channel": "sms"}, nil)
	assert.False(t, res.Success)
	assert.False(t, res.Permanent)
	assert.Contains(t, res.Message, "notifications.sms")
}

func TestCancelledContextIsPermanent(t *testing.T) {
	pub := &fakePublisher{}
	h := NewSendNotification(pub, "notifications")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.Execute(ctx, map[string]interface{}{}, nil)
	assert.False(t, res.Success)
	assert.True(t, res.Permanent)
	assert.Empty(t, pub.sent)
}

func TestUpdateStatus(t *testing.T) {
	pub := &fakePublisher{}
	h := NewUpdateStatus(pub, "assets.status.update")
	h.now = func() time.Time { return fixedNow }

	res := h.Execute(invocationContext(), map[string]interface{}{
		"assetId": "pump-7",
		"status":  "under_maintenance",
		"reason":  "scheduled inspection",
	}, nil)

	require.True(t, res.Success, res.Message)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "assets.status.update", pub.sent[0].target)

	msg := decode(t, pub.sent[0].payload)
	assert.Equal(t, "pump-7", msg["assetId"])
	assert.Equal(t, "under_maintenance", msg["status"])
	assert.Equal(t, "scheduled inspection", msg["reason"])
	assert.Equal(t, "acme", msg["companyId"])
}

func TestUpdateStatusRequiresAssetAndStatus(t *testing.T) {
	h := NewUpdateStatus(&fakePublisher{}, "assets.status.update")

	res := h.Execute(context.Background(), map[string]interface{}{"status": "retired"}, nil)
	assert.True(t, res.Permanent)
	assert.Contains(t, res.Message, "assetId")

	res = h.Execute(context.Background(), map[string]interface{}{"assetId": "pump-7", "status": "  "}, nil)
	assert.True(t, res.Permanent)
	assert.Contains(t, res.Message, "status")
}

func TestPublishMQTT(t *testing.T) {
	pub := &fakeTopicPublisher{}
	h := NewPublishMQTT(pub, 1)

	res := h.Execute(context.Background(), map[string]interface{}{
		"topic":   "plant/line1/pump-7/cmd",
		"payload": map[string]interface{}{"command": "stop"},
		"qos":     float64(2),
		"retain":  true,
	}, nil)

	require.True(t, res.Success, res.Message)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "plant/line1/pump-7/cmd", pub.sent[0].target)
	assert.Equal(t, byte(2), pub.sent[0].qos)
	assert.True(t, pub.sent[0].retained)
	assert.JSONEq(t, `{"command":"stop"}`, string(pub.sent[0].payload))
}

func TestPublishMQTTPayloadForms(t *testing.T) {
	pub := &fakeTopicPublisher{}
	h := NewPublishMQTT(pub, 1)
	evt := rule.EventContext{"status": "overdue"}

	res := h.Execute(context.Background(), map[string]interface{}{"topic": "a/b", "payload": "RESET"}, evt)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "RESET", string(pub.sent[0].payload))
	assert.Equal(t, byte(1), pub.sent[0].qos, "default qos")

	res = h.Execute(context.Background(), map[string]interface{}{"topic": "a/b", "qos": 0}, evt)
	require.True(t, res.Success, res.Message)
	assert.JSONEq(t, `{"status":"overdue"}`, string(pub.sent[1].payload))
	assert.Equal(t, byte(0), pub.sent[1].qos)
}

func TestPublishMQTTInvalidParameters(t *testing.T) {
	pub := &fakeTopicPublisher{}
	h := NewPublishMQTT(pub, 0)

	tests := []struct {
		name   string
		params map[string]interface{}
	}{
		{"missing topic", map[string]interface{}{}},
		{"wildcard topic", map[string]interface{}{"topic": "plant/#"}},
		{"qos out of range", map[string]interface{}{"topic": "a", "qos": 3}},
		{"fractional qos", map[string]interface{}{"topic": "a", "qos": 1.5}},
		{"retain not bool", map[string]interface{}{"topic": "a", "retain": "yes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.Execute(context.Background(), tt.params, nil)
			assert.False(t, res.Success)
			assert.True(t, res.Permanent)
		})
	}
	assert.Empty(t, pub.sent)
}

func TestLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := NewLog(&logger.Logger{Logger: zap.New(core)})

	res := h.Execute(invocationContext(), map[string]interface{}{"message": "asset overdue", "level": "warn"}, nil)
	require.True(t, res.Success)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "asset overdue", entries[0].Message)
	assert.Equal(t, "r1", entries[0].ContextMap()["ruleId"])

	res = h.Execute(context.Background(), map[string]interface{}{"message": "x", "level": "loud"}, nil)
	assert.True(t, res.Permanent)

	res = h.Execute(context.Background(), map[string]interface{}{}, nil)
	assert.True(t, res.Permanent)
}

func TestRegisterAll(t *testing.T) {
	reg := action.NewRegistry()
	types, err := RegisterAll(reg, Dependencies{
		Notifications:      &fakePublisher{},
		NotificationPrefix: "notifications",
		StatusSubject:      "assets.status.update",
		Logger:             logger.NewNop(),
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{TypeLog, TypeSendNotification, TypeUpdateStatus}, types)
	assert.False(t, reg.Has(TypePublishMQTT))

	_, err = RegisterAll(reg, Dependencies{Logger: logger.NewNop()})
	assert.Error(t, err, "duplicate registration")
}

func TestHandlersThroughExecutor(t *testing.T) {
	pub := &fakePublisher{}
	reg := action.NewRegistry()
	_, err := RegisterAll(reg, Dependencies{
		Notifications:      pub,
		NotificationPrefix: "notifications",
		StatusSubject:      "assets.status.update",
	})
	require.NoError(t, err)
	reg.Freeze()

	exec := action.NewExecutor(reg, action.Config{
		Timeout:     time.Second,
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}, logger.NewNop(), nil)

	outcome := exec.Run(invocationContext(), []rule.Action{
		{Type: TypeUpdateStatus, Order: 1, Parameters: map[string]interface{}{"assetId": "${asset.id}", "status": "overdue"}},
		{Type: TypeSendNotification, Order: 2, Parameters: map[string]interface{}{"recipient": "${asset.owner}"}},
	}, rule.EventContext{"asset": map[string]interface{}{"id": "pump-7", "owner": "ops"}}, action.ContinueOnFailure)

	require.True(t, outcome.Success, outcome.ErrorDetail())
	require.Len(t, pub.sent, 2)
	assert.Equal(t, "pump-7", decode(t, pub.sent[0].payload)["assetId"])
	assert.Equal(t, "ops", decode(t, pub.sent[1].payload)["recipient"])
}
