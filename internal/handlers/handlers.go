// Package handlers provides the built-in action types: send_notification,
// update_status, publish_mqtt and log.
package handlers

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"maintenance-automation/internal/action"
	"maintenance-automation/internal/logger"
)

const (
	TypeSendNotification = "send_notification"
	TypeUpdateStatus     = "update_status"
	TypePublishMQTT      = "publish_mqtt"
	TypeLog              = "log"
)

// SubjectPublisher publishes to a NATS subject.
type SubjectPublisher interface {
	Publish(subject string, payload []byte) error
}

// TopicPublisher publishes to an MQTT topic.
type TopicPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Dependencies wires handlers to their transports. A nil publisher leaves
// the matching action types unregistered.
type Dependencies struct {
	Notifications      SubjectPublisher
	NotificationPrefix string
	StatusSubject      string
	MQTT               TopicPublisher
	MQTTDefaultQoS     byte
	Logger             *logger.Logger
}

// RegisterAll registers every handler whose dependencies are present and
// returns the registered types.
func RegisterAll(reg *action.Registry, deps Dependencies) ([]string, error) {
	var registered []string
	register := func(actionType string, h action.Handler) error {
		if err := reg.Register(actionType, h); err != nil {
			return err
		}
		registered = append(registered, actionType)
		return nil
	}

	if deps.Logger != nil {
		if err := register(TypeLog, NewLog(deps.Logger)); err != nil {
			return registered, err
		}
	}
	if deps.Notifications != nil {
		if err := register(TypeSendNotification, NewSendNotification(deps.Notifications, deps.NotificationPrefix)); err != nil {
			return registered, err
		}
		if err := register(TypeUpdateStatus, NewUpdateStatus(deps.Notifications, deps.StatusSubject)); err != nil {
			return registered, err
		}
	}
	if deps.MQTT != nil {
		if err := register(TypePublishMQTT, NewPublishMQTT(deps.MQTT, deps.MQTTDefaultQoS)); err != nil {
			return registered, err
		}
	}
	return registered, nil
}

// envelope carries the rule identity every outbound message shares.
type envelope struct {
	CompanyID string    `json:"companyId,omitempty"`
	RuleID    string    `json:"ruleId,omitempty"`
	Trigger   string    `json:"trigger,omitempty"`
	SentAt    time.Time `json:"sentAt"`
}

func newEnvelope(ctx context.Context, now time.Time) envelope {
	env := envelope{SentAt: now.UTC()}
	if inv, ok := action.InvocationFrom(ctx); ok {
		env.CompanyID = inv.CompanyID
		env.RuleID = inv.RuleID
		env.Trigger = string(inv.Trigger)
	}
	return env
}

// publishFailure converts a transport error into a retryable result, or a
// permanent one when ctx is already done.
func publishFailure(ctx context.Context, target string, err error) action.Result {
	if ctx.Err() != nil {
		return action.PermanentFailure("publish to %s abandoned: %v", target, ctx.Err())
	}
	return action.Failed("publish to %s failed: %v", target, err)
}

// parameter helpers; rendered parameters arrive as decoded JSON or YAML.

func stringParam(params map[string]interface{}, key string, required bool) (string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		if required {
			return "", fmt.Errorf("parameter %q is required", key)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string, got %T", key, raw)
	}
	s = strings.TrimSpace(s)
	if required && s == "" {
		return "", fmt.Errorf("parameter %q must not be empty", key)
	}
	if strings.Contains(s, "${") {
		return "", fmt.Errorf("parameter %q has an unresolved placeholder: %s", key, s)
	}
	return s, nil
}

func boolParam(params map[string]interface{}, key string) (bool, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %q must be a boolean, got %T", key, raw)
	}
	return b, nil
}

func intParam(params map[string]interface{}, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("parameter %q must be a whole number, got %v", key, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("parameter %q must be a number, got %T", key, raw)
	}
}
