package handlers

import (
	"context"
	"encoding/json"
	"time"

	"maintenance-automation/internal/action"
	"maintenance-automation/internal/rule"
)

// UpdateStatus asks the asset service to change an asset's status by
// publishing to the status subject.
//
// Parameters: assetId (required), status (required), reason.
type UpdateStatus struct {
	pub     SubjectPublisher
	subject string
	now     func() time.Time
}

type statusUpdate struct {
	envelope
	AssetID string `json:"assetId"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

func NewUpdateStatus(pub SubjectPublisher, subject string) *UpdateStatus {
	return &UpdateStatus{pub: pub, subject: subject, now: time.Now}
}

func (h *UpdateStatus) Execute(ctx context.Context, params map[string]interface{}, _ rule.EventContext) action.Result {
	assetID, err := stringParam(params, "assetId", true)
	if err != nil {
		return action.PermanentFailure("%v", err)
	}
	status, err := stringParam(params, "status", true)
	if err != nil {
		return action.PermanentFailure("%v", err)
	}
	reason, err := stringParam(params, "reason", false)
	if err != nil {
		return action.PermanentFailure("%v", err)
	}

	data, err := json.Marshal(statusUpdate{
		envelope: newEnvelope(ctx, h.now()),
		AssetID:  assetID,
		Status:   status,
		Reason:   reason,
	})
	if err != nil {
		return action.PermanentFailure("failed to encode status update: %v", err)
	}

	if err := ctx.Err(); err != nil {
		return publishFailure(ctx, h.subject, err)
	}
	if err := h.pub.Publish(h.subject, data); err != nil {
		return publishFailure(ctx, h.subject, err)
	}
	return action.Succeeded("status of " + assetID + " set to " + status)
}
