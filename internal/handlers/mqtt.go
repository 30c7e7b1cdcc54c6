package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"maintenance-automation/internal/action"
	"maintenance-automation/internal/rule"
)

// PublishMQTT signals devices over MQTT. A string payload is sent as is;
// any other payload is JSON encoded. Without a payload the event context
// is sent.
//
// Parameters: topic (required), payload, qos (0-2), retain.
type PublishMQTT struct {
	pub        TopicPublisher
	defaultQoS byte
}

func NewPublishMQTT(pub TopicPublisher, defaultQoS byte) *PublishMQTT {
	return &PublishMQTT{pub: pub, defaultQoS: defaultQoS}
}

func (h *PublishMQTT) Execute(ctx context.Context, params map[string]interface{}, evt rule.EventContext) action.Result {
	topic, err := stringParam(params, "topic", true)
	if err != nil {
		return action.PermanentFailure("%v", err)
	}
	if strings.ContainsAny(topic, "+#") {
		return action.PermanentFailure("parameter \"topic\" must not contain wildcards: %s", topic)
	}
	qos, err := intParam(params, "qos", int(h.defaultQoS))
	if err != nil {
		return action.PermanentFailure("%v", err)
	}
	if qos < 0 || qos > 2 {
		return action.PermanentFailure("parameter \"qos\" must be 0, 1 or 2, got %d", qos)
	}
	retain, err := boolParam(params, "retain")
	if err != nil {
		return action.PermanentFailure("%v", err)
	}

	payload, err := encodePayload(params["payload"], evt)
	if err != nil {
		return action.PermanentFailure("failed to encode payload: %v", err)
	}

	if err := ctx.Err(); err != nil {
		return publishFailure(ctx, topic, err)
	}
	if err := h.pub.Publish(topic, byte(qos), retain, payload); err != nil {
		return publishFailure(ctx, topic, err)
	}
	return action.Succeeded("published to " + topic)
}

func encodePayload(raw interface{}, evt rule.EventContext) ([]byte, error) {
	switch v := raw.(type) {
	case nil:
		if evt == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(evt)
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}
