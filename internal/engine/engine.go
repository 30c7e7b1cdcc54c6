package engine

import (
	"context"
	"fmt"
	"time"

	"maintenance-automation/internal/action"
	"maintenance-automation/internal/execution"
	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/metrics"
	"maintenance-automation/internal/rule"
	"maintenance-automation/internal/stats"
)

// Config holds engine-wide defaults.
type Config struct {
	// Policy applies to rules that do not set StopOnFailure themselves.
	Policy action.Policy
}

// ExecutionRef points at the execution created for one matched rule.
type ExecutionRef struct {
	ExecutionID string `json:"executionId"`
	RuleID      string `json:"ruleId"`
	Success     bool   `json:"success"`
	ErrorDetail string `json:"errorDetail,omitempty"`
	// Recorded is false when the execution ran but could not be persisted.
	Recorded bool `json:"recorded"`
}

// DispatchSummary reports what a dispatch did. It is returned even when
// some or all rules failed.
type DispatchSummary struct {
	Trigger    rule.Trigger   `json:"trigger"`
	CompanyID  string         `json:"companyId"`
	Evaluated  int            `json:"evaluated"`
	Matched    int            `json:"matched"`
	Executions []ExecutionRef `json:"executions"`
	// Err is set when no rule could be evaluated at all, for example an
	// unknown trigger or an unavailable rule store.
	Err error `json:"-"`
}

// Engine dispatches domain events to the rules of the event's company.
type Engine struct {
	matcher   *rule.Matcher
	executor  *action.Executor
	recorder  *execution.Recorder
	cfg       Config
	logger    *logger.Logger
	metrics   *metrics.Metrics
	collector *stats.StatsCollector
}

// NewEngine wires the dispatcher. metrics and collector may be nil.
func NewEngine(
	store rule.Store,
	executor *action.Executor,
	recorder *execution.Recorder,
	cfg Config,
	log *logger.Logger,
	m *metrics.Metrics,
	collector *stats.StatsCollector,
) *Engine {
	if collector == nil {
		collector = stats.NewStatsCollector()
	}
	return &Engine{
		matcher:   rule.NewMatcher(store),
		executor:  executor,
		recorder:  recorder,
		cfg:       cfg,
		logger:    log,
		metrics:   m,
		collector: collector,
	}
}

// SubmitEvent is the host-facing entry point. It never panics and never
// returns an error; inspect the summary instead. Automation failures must
// not abort the caller's own operation.
func (e *Engine) SubmitEvent(ctx context.Context, trigger string, companyID string, payload map[string]interface{}) DispatchSummary {
	t, err := rule.ParseTrigger(trigger)
	if err != nil {
		e.logger.Warn("event with unknown trigger ignored",
			"trigger", trigger,
			"companyId", companyID)
		e.collector.IncErrors()
		return DispatchSummary{
			Trigger:    rule.Trigger(trigger),
			CompanyID:  companyID,
			Executions: []ExecutionRef{},
			Err:        err,
		}
	}
	return e.Dispatch(ctx, t, companyID, rule.EventContext(payload))
}

// Dispatch evaluates the company's active rules for trigger in
// (priority, id) order. Each matched rule's actions run and its execution
// is recorded before the next rule is evaluated. A started dispatch is not
// cancelled by ctx.
func (e *Engine) Dispatch(ctx context.Context, trigger rule.Trigger, companyID string, evt rule.EventContext) DispatchSummary {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	summary := DispatchSummary{
		Trigger:    trigger,
		CompanyID:  companyID,
		Executions: []ExecutionRef{},
	}

	e.collector.IncEventsReceived()
	if e.metrics != nil {
		e.metrics.IncEventsTotal(string(trigger))
	}

	if companyID == "" {
		summary.Err = fmt.Errorf("company id is required")
		e.collector.IncErrors()
		return summary
	}

	rules, err := e.matcher.Match(ctx, trigger, companyID)
	if err != nil {
		e.logger.Error("failed to match rules",
			"trigger", trigger,
			"companyId", companyID,
			"error", err)
		e.collector.IncErrors()
		summary.Err = err
		return summary
	}

	for _, r := range rules {
		e.dispatchRule(ctx, r, evt, &summary)
	}

	e.collector.AddDispatch(summary.Evaluated, summary.Matched)
	e.logger.Debug("dispatch completed",
		"trigger", trigger,
		"companyId", companyID,
		"evaluated", summary.Evaluated,
		"matched", summary.Matched,
		"duration", time.Since(start))

	return summary
}

// DispatchRule runs a single rule outside trigger matching, as the
// scheduler does for due scheduled rules.
func (e *Engine) DispatchRule(ctx context.Context, r *rule.Rule, evt rule.EventContext) DispatchSummary {
	ctx = context.WithoutCancel(ctx)
	summary := DispatchSummary{
		Trigger:    r.Trigger,
		CompanyID:  r.CompanyID,
		Executions: []ExecutionRef{},
	}
	if !r.IsActive {
		return summary
	}

	e.collector.IncEventsReceived()
	if e.metrics != nil {
		e.metrics.IncEventsTotal(string(r.Trigger))
	}

	e.dispatchRule(ctx, r, evt, &summary)
	e.collector.AddDispatch(summary.Evaluated, summary.Matched)
	return summary
}

// dispatchRule is the per-rule failure boundary. A rule that matched always
// leaves exactly one execution attempt in the summary, even if it panics.
func (e *Engine) dispatchRule(ctx context.Context, r *rule.Rule, evt rule.EventContext, summary *DispatchSummary) {
	matched := false
	recorded := false

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		e.logger.Error("rule dispatch panicked",
			"ruleId", r.ID,
			"companyId", r.CompanyID,
			"panic", p)
		e.collector.IncErrors()
		if matched && !recorded {
			e.record(ctx, r, false, fmt.Sprintf("rule execution panicked: %v", p), nil, summary)
		}
	}()

	summary.Evaluated++
	if e.metrics != nil {
		e.metrics.IncRulesEvaluated()
	}

	eval := rule.Evaluate(r.Conditions, evt)
	for _, issue := range eval.Issues {
		e.logger.Warn("condition evaluation failed",
			"ruleId", r.ID,
			"companyId", r.CompanyID,
			"order", issue.Order,
			"field", issue.Field,
			"error", issue)
	}
	if !eval.Matched {
		return
	}

	matched = true
	summary.Matched++
	if e.metrics != nil {
		e.metrics.IncRuleMatches()
	}

	actx := action.WithInvocation(ctx, action.Invocation{
		RuleID:    r.ID,
		CompanyID: r.CompanyID,
		Trigger:   r.Trigger,
	})
	outcome := e.executor.Run(actx, r.Actions, evt, e.policyFor(r))

	executed, failed := 0, 0
	for _, a := range outcome.Actions {
		if a.Status == action.StatusSkipped {
			continue
		}
		executed++
		if a.Status == action.StatusFailed {
			failed++
		}
	}
	e.collector.AddActions(executed, failed)

	recorded = true
	e.record(ctx, r, outcome.Success, outcome.ErrorDetail(), toOutcomes(outcome), summary)
}

func (e *Engine) record(ctx context.Context, r *rule.Rule, success bool, detail string, actions []execution.ActionOutcome, summary *DispatchSummary) {
	exec, err := e.recorder.Record(ctx, execution.Entry{
		RuleID:      r.ID,
		CompanyID:   r.CompanyID,
		Trigger:     r.Trigger,
		Success:     success,
		ErrorDetail: detail,
		Actions:     actions,
	})

	summary.Executions = append(summary.Executions, ExecutionRef{
		ExecutionID: exec.ID,
		RuleID:      r.ID,
		Success:     success,
		ErrorDetail: detail,
		Recorded:    err == nil,
	})

	if err != nil {
		e.logger.Error("failed to record execution",
			"ruleId", r.ID,
			"companyId", r.CompanyID,
			"executionId", exec.ID,
			"error", err)
		e.collector.IncErrors()
		return
	}

	if success {
		e.logger.Info("rule executed",
			"ruleId", r.ID,
			"companyId", r.CompanyID,
			"executionId", exec.ID)
		return
	}
	e.logger.Warn("rule executed with failures",
		"ruleId", r.ID,
		"companyId", r.CompanyID,
		"executionId", exec.ID,
		"errorDetail", detail)
}

func (e *Engine) policyFor(r *rule.Rule) action.Policy {
	if r.StopOnFailure != nil {
		if *r.StopOnFailure {
			return action.StopOnFirstFailure
		}
		return action.ContinueOnFailure
	}
	return e.cfg.Policy
}

func toOutcomes(o action.Outcome) []execution.ActionOutcome {
	out := make([]execution.ActionOutcome, len(o.Actions))
	for i, a := range o.Actions {
		out[i] = execution.ActionOutcome{
			Order:      a.Order,
			Type:       a.Type,
			Status:     string(a.Status),
			Message:    a.Message,
			Attempts:   a.Attempts,
			DurationMs: a.Duration.Milliseconds(),
		}
	}
	return out
}

// GetStats returns the company's automation summary over window; see
// execution.Recorder.Stats for window semantics.
func (e *Engine) GetStats(ctx context.Context, companyID string, window time.Duration) (stats.Summary, error) {
	return e.recorder.Stats(ctx, companyID, window)
}

// History returns execution records, newest first.
func (e *Engine) History(ctx context.Context, q execution.Query) ([]execution.Execution, error) {
	return e.recorder.History(ctx, q)
}

// RuntimeStats returns process-lifetime counters.
func (e *Engine) RuntimeStats() stats.Snapshot {
	return e.collector.GetStats()
}
