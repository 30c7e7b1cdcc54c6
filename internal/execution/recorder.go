package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/metrics"
	"maintenance-automation/internal/rule"
	"maintenance-automation/internal/stats"
)

// AllTime requests stats over the whole execution log.
const AllTime = time.Duration(math.MaxInt64)

// Entry is what the dispatcher knows about a finished rule execution.
type Entry struct {
	RuleID      string
	CompanyID   string
	Trigger     rule.Trigger
	TriggeredAt time.Time // defaults to now
	Success     bool
	ErrorDetail string
	Actions     []ActionOutcome
}

// RecorderConfig holds stats defaults.
type RecorderConfig struct {
	DefaultWindow time.Duration // 0 is all-time
	RecentLimit   int
}

// Recorder appends execution records and derives per-company stats from
// the log. Nothing it reports is kept as a separate counter.
type Recorder struct {
	log     Log
	rules   rule.Store
	cfg     RecorderConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRecorder creates a recorder. metrics may be nil.
func NewRecorder(log Log, rules rule.Store, cfg RecorderConfig, lg *logger.Logger, m *metrics.Metrics) *Recorder {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 10
	}
	return &Recorder{
		log:     log,
		rules:   rules,
		cfg:     cfg,
		logger:  lg,
		metrics: m,
		now:     time.Now,
	}
}

// Record appends one execution. On a failed append the returned Execution
// still describes what ran, and the error is a *PersistenceError.
func (r *Recorder) Record(ctx context.Context, e Entry) (Execution, error) {
	exec := Execution{
		ID:          newID(),
		RuleID:      e.RuleID,
		CompanyID:   e.CompanyID,
		Trigger:     string(e.Trigger),
		TriggeredAt: e.TriggeredAt,
		Success:     e.Success,
		ErrorDetail: e.ErrorDetail,
		Actions:     e.Actions,
	}
	if exec.TriggeredAt.IsZero() {
		exec.TriggeredAt = r.now()
	}
	exec.TriggeredAt = exec.TriggeredAt.UTC()

	if r.metrics != nil {
		r.metrics.IncExecutions(exec.Success)
	}

	if err := r.log.Append(ctx, exec); err != nil {
		if r.metrics != nil {
			r.metrics.IncRecordFailures()
		}
		return exec, &PersistenceError{ExecutionID: exec.ID, RuleID: exec.RuleID, Err: err}
	}

	r.logger.Debug("execution recorded",
		"executionId", exec.ID,
		"ruleId", exec.RuleID,
		"companyId", exec.CompanyID,
		"success", exec.Success)

	return exec, nil
}

// Stats summarises a company's rules and executions. A zero window uses
// the configured default; AllTime ignores it.
func (r *Recorder) Stats(ctx context.Context, companyID string, window time.Duration) (stats.Summary, error) {
	summary := stats.Summary{
		CompanyID:        companyID,
		RecentExecutions: []stats.RecentExecution{},
	}

	if window == 0 {
		window = r.cfg.DefaultWindow
	}
	q := Query{CompanyID: companyID}
	if window > 0 && window != AllTime {
		since := r.now().Add(-window).UTC()
		q.Since = since
		summary.Since = &since
	}

	rules, err := r.rules.ListRules(ctx, companyID)
	if err != nil {
		return summary, fmt.Errorf("failed to list rules: %w", err)
	}
	summary.TotalFlows, summary.ActiveFlows, summary.FlowsByPriority = stats.CountFlows(rules)

	agg, err := r.log.Aggregate(ctx, q)
	if err != nil {
		return summary, fmt.Errorf("failed to aggregate executions: %w", err)
	}
	summary.TotalExecutions = agg.Total
	summary.SuccessfulExecutions = agg.Succeeded
	summary.AverageSuccessRate = stats.SuccessRate(agg.Succeeded, agg.Total)

	q.Limit = r.cfg.RecentLimit
	recent, err := r.log.List(ctx, q)
	if err != nil {
		return summary, fmt.Errorf("failed to list executions: %w", err)
	}

	names := make(map[string]string, len(rules))
	for _, rl := range rules {
		if rl != nil {
			names[rl.ID] = rl.Name
		}
	}
	for _, exec := range recent {
		summary.RecentExecutions = append(summary.RecentExecutions, stats.RecentExecution{
			ID:          exec.ID,
			RuleID:      exec.RuleID,
			RuleName:    names[exec.RuleID],
			Trigger:     exec.Trigger,
			TriggeredAt: exec.TriggeredAt,
			Success:     exec.Success,
			ErrorDetail: exec.ErrorDetail,
		})
	}

	if r.metrics != nil {
		r.metrics.SetSuccessRate(companyID, summary.AverageSuccessRate)
	}

	return summary, nil
}

// History returns raw execution records for a company, newest first.
func (r *Recorder) History(ctx context.Context, q Query) ([]Execution, error) {
	if q.Limit <= 0 {
		q.Limit = r.cfg.RecentLimit
	}
	return r.log.List(ctx, q)
}

// newID returns a time-ordered UUIDv7, falling back to a random UUID.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
