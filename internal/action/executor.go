package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/metrics"
	"maintenance-automation/internal/rule"
)

// Policy decides what happens to the remaining actions after one fails.
type Policy int

const (
	// ContinueOnFailure runs every action; any failure fails the rule.
	ContinueOnFailure Policy = iota
	// StopOnFirstFailure skips the actions after the first failure.
	StopOnFirstFailure
)

func (p Policy) String() string {
	if p == StopOnFirstFailure {
		return "stop"
	}
	return "continue"
}

// Status is the outcome of a single action.
type Status string

const (
	StatusSucceeded Status = "success"
	StatusFailed    Status = "failure"
	StatusSkipped   Status = "skipped"
)

// Config controls per-action timeout and retry.
type Config struct {
	Timeout     time.Duration // per attempt
	MaxAttempts int           // including the first
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// ActionResult is the per-action breakdown of a rule execution.
type ActionResult struct {
	Order    int           `json:"order"`
	Type     string        `json:"type"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

func (r ActionResult) Succeeded() bool { return r.Status == StatusSucceeded }

// Outcome is the aggregate result of running a rule's actions.
type Outcome struct {
	Success bool
	Actions []ActionResult
}

// ErrorDetail summarises every failed or skipped action, or "" on success.
func (o Outcome) ErrorDetail() string {
	var parts []string
	for _, a := range o.Actions {
		switch a.Status {
		case StatusFailed:
			parts = append(parts, fmt.Sprintf("action %d (%s): %s", a.Order, a.Type, a.Message))
		case StatusSkipped:
			parts = append(parts, fmt.Sprintf("action %d (%s): skipped", a.Order, a.Type))
		}
	}
	return strings.Join(parts, "; ")
}

// Executor runs a rule's actions in order through the registry, isolating
// each action behind a timeout, retry and panic boundary.
type Executor struct {
	registry *Registry
	cfg      Config
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

// NewExecutor creates an executor. metrics may be nil.
func NewExecutor(reg *Registry, cfg Config, log *logger.Logger, m *metrics.Metrics) *Executor {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	return &Executor{
		registry: reg,
		cfg:      cfg,
		logger:   log,
		metrics:  m,
	}
}

// Run executes actions strictly in Order. It never panics and never
// returns an error; failures are reported in the Outcome.
func (e *Executor) Run(ctx context.Context, actions []rule.Action, evt rule.EventContext, policy Policy) Outcome {
	ordered := make([]rule.Action, len(actions))
	copy(ordered, actions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order < ordered[j].Order
	})

	outcome := Outcome{
		Success: true,
		Actions: make([]ActionResult, 0, len(ordered)),
	}

	stopped := false
	for i := range ordered {
		a := &ordered[i]
		if stopped {
			outcome.Actions = append(outcome.Actions, ActionResult{
				Order:  a.Order,
				Type:   a.Type,
				Status: StatusSkipped,
			})
			e.observe(a.Type, StatusSkipped, 0, 0)
			continue
		}

		result := e.runAction(ctx, a, evt)
		outcome.Actions = append(outcome.Actions, result)

		if !result.Succeeded() {
			outcome.Success = false
			if policy == StopOnFirstFailure {
				stopped = true
			}
		}
	}

	if stopped {
		outcome.Success = false
	}
	return outcome
}

func (e *Executor) runAction(ctx context.Context, a *rule.Action, evt rule.EventContext) ActionResult {
	start := time.Now()
	result := ActionResult{Order: a.Order, Type: a.Type}

	h, err := e.registry.Resolve(a.Type)
	if err != nil {
		result.Status = StatusFailed
		result.Message = err.Error()
		result.Err = err
		e.logger.Warn("action handler not found",
			"actionType", a.Type,
			"order", a.Order)
		e.observe(a.Type, StatusFailed, 0, time.Since(start))
		return result
	}

	var last Result
	operation := func() error {
		result.Attempts++
		params := rule.RenderParameters(a.Parameters, evt)

		res, err := e.attempt(ctx, h, params, evt)
		if err != nil {
			if errors.Is(err, ErrHandlerPanic) {
				return backoff.Permanent(&ExecutionError{ActionType: a.Type, Order: a.Order, Err: err})
			}
			return &ExecutionError{ActionType: a.Type, Order: a.Order, Transient: true, Err: err}
		}

		last = res
		if res.Success {
			return nil
		}
		failure := errors.New(res.Message)
		if res.Message == "" {
			failure = errors.New("handler reported failure")
		}
		if res.Permanent {
			return backoff.Permanent(&ExecutionError{ActionType: a.Type, Order: a.Order, Err: failure})
		}
		return &ExecutionError{ActionType: a.Type, Order: a.Order, Transient: true, Err: failure}
	}

	notify := func(err error, wait time.Duration) {
		e.logger.Debug("retrying action",
			"actionType", a.Type,
			"order", a.Order,
			"attempt", result.Attempts,
			"wait", wait,
			"error", err)
	}

	err = backoff.RetryNotify(operation, e.newBackOff(ctx), notify)
	result.Duration = time.Since(start)

	if err == nil {
		result.Status = StatusSucceeded
		result.Message = last.Message
		e.observe(a.Type, StatusSucceeded, result.Attempts, result.Duration)
		return result
	}

	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		execErr.Attempts = result.Attempts
	} else {
		// context cancelled between attempts
		execErr = &ExecutionError{ActionType: a.Type, Order: a.Order, Attempts: result.Attempts, Err: err}
	}

	result.Status = StatusFailed
	result.Err = execErr
	result.Message = execErr.Err.Error()

	e.logger.Warn("action failed",
		"actionType", a.Type,
		"order", a.Order,
		"attempts", result.Attempts,
		"transient", execErr.Transient,
		"error", execErr.Err)
	e.observe(a.Type, StatusFailed, result.Attempts, result.Duration)

	return result
}

type attemptResult struct {
	res Result
	err error
}

// attempt runs the handler once under the per-attempt timeout. A handler
// that ignores its context is abandoned when the timeout fires.
func (e *Executor) attempt(ctx context.Context, h Handler, params map[string]interface{}, evt rule.EventContext) (Result, error) {
	actx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	done := make(chan attemptResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("%w: %v", ErrHandlerPanic, r)}
			}
		}()
		done <- attemptResult{res: h.Execute(actx, params, evt)}
	}()

	select {
	case r := <-done:
		return e.settle(ctx, actx, r)
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		select {
		case r := <-done:
			return e.settle(ctx, actx, r)
		default:
		}
		return Result{}, fmt.Errorf("%w after %s", ErrTimeout, e.cfg.Timeout)
	}
}

// settle reports a transient failure that came back after the attempt
// deadline as a timeout. Permanent failures keep their classification.
func (e *Executor) settle(ctx, actx context.Context, r attemptResult) (Result, error) {
	if r.err == nil && !r.res.Success && !r.res.Permanent &&
		ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return Result{}, fmt.Errorf("%w after %s", ErrTimeout, e.cfg.Timeout)
	}
	return r.res, r.err
}

func (e *Executor) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = e.cfg.BaseDelay
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = e.cfg.MaxDelay
	eb.MaxElapsedTime = 0
	eb.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(e.cfg.MaxAttempts-1)), ctx)
}

func (e *Executor) observe(actionType string, status Status, attempts int, d time.Duration) {
	if e.metrics != nil {
		e.metrics.ObserveAction(actionType, string(status), attempts, d)
	}
}
