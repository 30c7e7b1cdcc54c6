package execution

import (
	"context"
	"fmt"
	"time"
)

// ActionOutcome is the stored per-action breakdown of an execution.
type ActionOutcome struct {
	Order      int    `json:"order"`
	Type       string `json:"type"`
	Status     string `json:"status"` // success, failure or skipped
	Message    string `json:"message,omitempty"`
	Attempts   int    `json:"attempts"`
	DurationMs int64  `json:"durationMs"`
}

// Execution is an immutable record of one matched rule's dispatch.
type Execution struct {
	ID          string          `json:"id"`
	RuleID      string          `json:"ruleId"`
	CompanyID   string          `json:"companyId"`
	Trigger     string          `json:"trigger"`
	TriggeredAt time.Time       `json:"triggeredAt"`
	Success     bool            `json:"success"`
	ErrorDetail string          `json:"errorDetail,omitempty"`
	Actions     []ActionOutcome `json:"actions,omitempty"`
}

// Query selects executions of one company. Zero fields do not filter.
type Query struct {
	CompanyID string
	RuleID    string
	Since     time.Time
	Limit     int
}

// Aggregate is the execution count over a query.
type Aggregate struct {
	Total     int
	Succeeded int
}

// Log is the append-only execution store. List returns newest first.
type Log interface {
	Append(ctx context.Context, exec Execution) error
	List(ctx context.Context, q Query) ([]Execution, error)
	Aggregate(ctx context.Context, q Query) (Aggregate, error)
}

// PersistenceError reports an execution that ran but could not be recorded.
type PersistenceError struct {
	ExecutionID string
	RuleID      string
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to record execution %s of rule %s: %v", e.ExecutionID, e.RuleID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
