package rule

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRule() *Rule {
	return &Rule{
		ID:        "r1",
		Name:      "Critical asset alert",
		Trigger:   TriggerCreation,
		CompanyID: "acme",
		IsActive:  true,
		Priority:  100,
		Conditions: []Condition{
			cond(0, "asset.isCritical", OperatorEquals, BoolValue(true), LogicalAnd),
			cond(1, "asset.cost", OperatorGreaterThan, NumberValue(500), LogicalOr),
		},
		Actions: []Action{
			{Type: "send_notification", Order: 0},
			{Type: "update_status", Order: 1},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(r *Rule)
		actions  ActionTypes
		wantErr  bool
		errField string
	}{
		{
			name:    "valid rule",
			mutate:  func(r *Rule) {},
			wantErr: false,
		},
		{
			name:    "valid with registered actions",
			mutate:  func(r *Rule) {},
			actions: actionSet{"send_notification": true, "update_status": true},
			wantErr: false,
		},
		{
			name:    "empty conditions allowed",
			mutate:  func(r *Rule) { r.Conditions = nil },
			wantErr: false,
		},
		{
			name: "orders starting at one",
			mutate: func(r *Rule) {
				r.Conditions[0].Order = 1
				r.Conditions[1].Order = 2
			},
			wantErr: false,
		},
		{
			name:     "missing id",
			mutate:   func(r *Rule) { r.ID = "" },
			wantErr:  true,
			errField: "id",
		},
		{
			name:     "missing company",
			mutate:   func(r *Rule) { r.CompanyID = "" },
			wantErr:  true,
			errField: "companyId",
		},
		{
			name:     "unknown trigger",
			mutate:   func(r *Rule) { r.Trigger = "exploded" },
			wantErr:  true,
			errField: "trigger",
		},
		{
			name:     "duplicate condition order",
			mutate:   func(r *Rule) { r.Conditions[1].Order = 0 },
			wantErr:  true,
			errField: "conditions",
		},
		{
			name:     "gap in condition order",
			mutate:   func(r *Rule) { r.Conditions[1].Order = 3 },
			wantErr:  true,
			errField: "conditions",
		},
		{
			name:     "duplicate action order",
			mutate:   func(r *Rule) { r.Actions[1].Order = 0 },
			wantErr:  true,
			errField: "actions",
		},
		{
			name:     "unknown operator",
			mutate:   func(r *Rule) { r.Conditions[0].Operator = "matches" },
			wantErr:  true,
			errField: "conditions[0]",
		},
		{
			name:     "in requires array",
			mutate:   func(r *Rule) { r.Conditions[0].Operator = OperatorIn },
			wantErr:  true,
			errField: "conditions[0]",
		},
		{
			name:     "greaterThan rejects bool",
			mutate:   func(r *Rule) { r.Conditions[1].Value = BoolValue(true) },
			wantErr:  true,
			errField: "conditions[1]",
		},
		{
			name:     "missing value",
			mutate:   func(r *Rule) { r.Conditions[0].Value = Value{} },
			wantErr:  true,
			errField: "conditions[0]",
		},
		{
			name:     "invalid logical operator",
			mutate:   func(r *Rule) { r.Conditions[1].LogicalOperator = "XOR" },
			wantErr:  true,
			errField: "conditions[1]",
		},
		{
			name:     "invalid field path",
			mutate:   func(r *Rule) { r.Conditions[0].Field = "asset..cost" },
			wantErr:  true,
			errField: "conditions[0]",
		},
		{
			name:     "empty action type",
			mutate:   func(r *Rule) { r.Actions[0].Type = "" },
			wantErr:  true,
			errField: "actions[0].type",
		},
		{
			name:     "unregistered action type",
			mutate:   func(r *Rule) {},
			actions:  actionSet{"send_notification": true},
			wantErr:  true,
			errField: "actions[1].type",
		},
		{
			name: "schedule on scheduled rule",
			mutate: func(r *Rule) {
				r.Trigger = TriggerScheduled
				r.Schedule = "24h"
			},
			wantErr: false,
		},
		{
			name:     "schedule on event rule",
			mutate:   func(r *Rule) { r.Schedule = "24h" },
			wantErr:  true,
			errField: "schedule",
		},
		{
			name: "bad schedule",
			mutate: func(r *Rule) {
				r.Trigger = TriggerScheduled
				r.Schedule = "daily"
			},
			wantErr:  true,
			errField: "schedule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(r)

			err := Validate(r, tt.actions)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.errField, verr.Field)
			assert.Equal(t, r.ID, verr.RuleID)
		})
	}
}

func TestValidateNilRule(t *testing.T) {
	err := Validate(nil, nil)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "rule", verr.Field)
}
