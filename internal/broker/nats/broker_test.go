package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintenance-automation/internal/broker"
	"maintenance-automation/internal/engine"
	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/rule"
)

func TestStartSubscribesToEventSubject(t *testing.T) {
	conn := newMockConn()
	b := newTestBroker(conn)
	sink := &mockSink{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx, sink))

	assert.Equal(t, []string{"automation.events.>"}, b.sub.GetSubscribedSubjects())
	require.NotNil(t, conn.handler("automation.events.>"))

	b.Close()
	b.Close()
	assert.False(t, b.IsConnected())
}

func TestStartFailsWhenDisconnected(t *testing.T) {
	conn := newMockConn()
	conn.connected = false
	b := newTestBroker(conn)
	assert.Error(t, b.Start(context.Background(), &mockSink{}))
}

func TestEventMessageReachesSink(t *testing.T) {
	conn := newMockConn()
	b := newTestBroker(conn)
	sink := &mockSink{}
	require.NoError(t, b.Start(context.Background(), sink))
	defer b.Close()

	handler := conn.handler("automation.events.>")
	handler(&nats.Msg{
		Subject: "automation.events.status_change",
		Data:    []byte(`{"companyId":"acme","context":{"status":"overdue"}}`),
	})

	require.Len(t, sink.calls, 1)
	assert.Equal(t, "status_change", sink.calls[0].trigger)
	assert.Equal(t, "acme", sink.calls[0].companyID)
	assert.Equal(t, "overdue", sink.calls[0].payload["status"])
	assert.Equal(t, uint64(1), b.GetStats().MessagesReceived)
	assert.Empty(t, conn.messages(), "no reply without a reply subject")
}

func TestEventRequestGetsSummaryReply(t *testing.T) {
	conn := newMockConn()
	b := newTestBroker(conn)
	require.NoError(t, b.Start(context.Background(), &mockSink{}))
	defer b.Close()

	handler := conn.handler("automation.events.>")
	handler(&nats.Msg{
		Subject: "automation.events.exploded",
		Reply:   "_INBOX.abc",
		Data:    []byte(`{"companyId":"acme"}`),
	})

	msgs := conn.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "_INBOX.abc", msgs[0].subject)

	var reply map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[0].data, &reply))
	assert.Equal(t, "acme", reply["companyId"])
	assert.NotEmpty(t, reply["error"])
}

func TestMalformedEventCountsError(t *testing.T) {
	conn := newMockConn()
	b := newTestBroker(conn)
	sink := &mockSink{}
	require.NoError(t, b.Start(context.Background(), sink))
	defer b.Close()

	conn.handler("automation.events.>")(&nats.Msg{Subject: "automation.events.creation", Data: []byte("{")})

	assert.Empty(t, sink.calls)
	assert.Equal(t, uint64(1), b.GetStats().Errors)
}

func TestPublish(t *testing.T) {
	conn := newMockConn()
	b := newTestBroker(conn)

	require.NoError(t, b.Publish("notifications.ops", []byte(`{"message":"hi"}`)))
	require.Len(t, conn.messages(), 1)
	assert.Equal(t, uint64(1), b.GetStats().MessagesPublished)

	conn.publishErr = errors.New("slow consumer")
	assert.Error(t, b.Publish("notifications.ops", nil))
	assert.Equal(t, uint64(1), b.GetStats().Errors)

	conn.connected = false
	assert.Error(t, b.Publish("notifications.ops", nil))
}

func TestSubjectHelpers(t *testing.T) {
	assert.Equal(t, "ops_team", SubjectToken(" ops team "))
	assert.Equal(t, "a_b@c_com", SubjectToken("a.b@c.com"))
	assert.Equal(t, "notifications.ops", JoinSubject("notifications", "ops"))
	assert.Equal(t, "notifications.ops", JoinSubject("notifications.", "ops"))
	assert.Equal(t, "ops", JoinSubject("", "ops"))
}

// gatedSink holds dispatches for "slow" until release is closed.
type gatedSink struct {
	release chan struct{}
}

func (s *gatedSink) SubmitEvent(_ context.Context, trigger, companyID string, _ map[string]interface{}) engine.DispatchSummary {
	if companyID == "slow" {
		<-s.release
	}
	return engine.DispatchSummary{Trigger: rule.Trigger(trigger), CompanyID: companyID, Executions: []engine.ExecutionRef{}}
}

func TestSlowTenantDoesNotDelayOtherTenants(t *testing.T) {
	conn := newMockConn()
	b := newTestBroker(conn)
	sink := &gatedSink{release: make(chan struct{})}
	p := broker.NewProcessor(sink, broker.ProcessorConfig{Workers: 2, QueueSize: 10}, logger.NewNop(), nil)
	defer p.Close()
	require.NoError(t, b.Start(context.Background(), p))
	defer b.Close()

	handler := conn.handler("automation.events.>")
	returned := make(chan struct{})
	go func() {
		handler(&nats.Msg{Subject: "automation.events.creation", Reply: "_INBOX.slow", Data: []byte(`{"companyId":"slow"}`)})
		handler(&nats.Msg{Subject: "automation.events.creation", Reply: "_INBOX.fast", Data: []byte(`{"companyId":"fast"}`)})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("subscription callback blocked on dispatch")
	}

	require.Eventually(t, func() bool { return len(conn.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "_INBOX.fast", conn.messages()[0].subject, "fast tenant is answered while slow tenant is still running")

	close(sink.release)
	require.Eventually(t, func() bool { return len(conn.messages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "_INBOX.slow", conn.messages()[1].subject)
}

func TestRejectedEventGetsErrorReply(t *testing.T) {
	conn := newMockConn()
	b := newTestBroker(conn)
	p := broker.NewProcessor(&gatedSink{}, broker.ProcessorConfig{Workers: 1, QueueSize: 1}, logger.NewNop(), nil)
	p.Close()
	require.NoError(t, b.Start(context.Background(), p))
	defer b.Close()

	conn.handler("automation.events.>")(&nats.Msg{
		Subject: "automation.events.creation",
		Reply:   "_INBOX.abc",
		Data:    []byte(`{"companyId":"acme"}`),
	})

	msgs := conn.messages()
	require.Len(t, msgs, 1)
	var reply map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[0].data, &reply))
	assert.Equal(t, broker.ErrProcessorStopped.Error(), reply["error"])
	assert.Equal(t, uint64(1), b.GetStats().Errors)
}
