package rule

import (
	"fmt"
	"strings"
	"time"
)

// Trigger is the domain event kind that causes rule matching.
type Trigger string

const (
	TriggerCreation     Trigger = "creation"
	TriggerUpdate       Trigger = "update"
	TriggerStatusChange Trigger = "status_change"
	TriggerDeletion     Trigger = "deletion"
	TriggerScheduled    Trigger = "scheduled"
)

// ValidTriggers contains all accepted trigger kinds
var ValidTriggers = map[Trigger]bool{
	TriggerCreation:     true,
	TriggerUpdate:       true,
	TriggerStatusChange: true,
	TriggerDeletion:     true,
	TriggerScheduled:    true,
}

// ParseTrigger converts an event name into a Trigger.
func ParseTrigger(s string) (Trigger, error) {
	t := Trigger(strings.ToLower(strings.TrimSpace(s)))
	if !ValidTriggers[t] {
		return "", fmt.Errorf("unknown trigger: %q", s)
	}
	return t, nil
}

// Operator is a comparison applied by a single condition.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "notEquals"
	OperatorGreaterThan Operator = "greaterThan"
	OperatorLessThan    Operator = "lessThan"
	OperatorContains    Operator = "contains"
	OperatorIn          Operator = "in"
)

// ValidOperators maps each operator to the value kinds it accepts.
var ValidOperators = map[Operator][]Kind{
	OperatorEquals:      {KindString, KindNumber, KindBool},
	OperatorNotEquals:   {KindString, KindNumber, KindBool},
	OperatorGreaterThan: {KindString, KindNumber},
	OperatorLessThan:    {KindString, KindNumber},
	OperatorContains:    {KindString, KindNumber, KindBool},
	OperatorIn:          {KindArray},
}

// LogicalOperator combines a condition with the running result of all
// conditions before it. An empty operator behaves as AND.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Rule is a tenant-owned trigger/condition/action definition. Rules are
// read-only to the engine; callers must not mutate a Rule returned by a Store.
type Rule struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Trigger     Trigger     `json:"trigger" yaml:"trigger"`
	Conditions  []Condition `json:"conditions" yaml:"conditions"`
	Actions     []Action    `json:"actions" yaml:"actions"`
	IsActive    bool        `json:"isActive" yaml:"isActive"`
	Priority    int         `json:"priority" yaml:"priority"` // lower runs first
	CompanyID   string      `json:"companyId" yaml:"companyId"`

	// StopOnFailure overrides the engine failure policy when set.
	StopOnFailure *bool `json:"stopOnFailure,omitempty" yaml:"stopOnFailure,omitempty"`
	// Schedule is the dispatch interval of a scheduled rule, e.g. "24h".
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Interval returns the parsed schedule, or 0 when none is set.
func (r *Rule) Interval() (time.Duration, error) {
	if r.Schedule == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(r.Schedule)
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q: %w", r.Schedule, err)
	}
	return d, nil
}

// Condition is a single comparison against the event context.
type Condition struct {
	Field           string          `json:"field" yaml:"field"` // dotted path, e.g. asset.isCritical
	Operator        Operator        `json:"operator" yaml:"operator"`
	Value           Value           `json:"value" yaml:"value"`
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty" yaml:"logicalOperator,omitempty"`
	Order           int             `json:"order" yaml:"order"`
}

// Action is a named side effect executed when a rule matches.
type Action struct {
	Type       string                 `json:"type" yaml:"type"`
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Order      int                    `json:"order" yaml:"order"`
}

// EventContext is the payload of a domain event, addressed by dotted paths.
type EventContext map[string]interface{}

// ValidationError represents a malformed rule
type ValidationError struct {
	RuleID  string
	Field   string
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("rule %s: %s: %s", e.RuleID, e.Field, e.Message)
}

// RuleSet is the on-disk form of a rules file with metadata.
type RuleSet struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version" yaml:"version"`
	Rules       []Rule `json:"rules" yaml:"rules"`
}
