package action

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/metrics"
	"maintenance-automation/internal/rule"
)

func testConfig() Config {
	return Config{
		Timeout:     50 * time.Millisecond,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
	}
}

func setupTestExecutor(t *testing.T, reg *Registry) *Executor {
	t.Helper()
	m, err := metrics.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return NewExecutor(reg, testConfig(), logger.NewNop(), m)
}

// countingHandler records every call and replies from a script; the last
// entry repeats once the script is exhausted.
type countingHandler struct {
	mu     sync.Mutex
	calls  int
	script []Result
	params []map[string]interface{}
}

func (h *countingHandler) Execute(_ context.Context, params map[string]interface{}, _ rule.EventContext) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.params = append(h.params, params)
	idx := h.calls - 1
	if idx >= len(h.script) {
		idx = len(h.script) - 1
	}
	return h.script[idx]
}

func (h *countingHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func TestExecutorRunsInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	record := func(name string) Handler {
		return HandlerFunc(func(context.Context, map[string]interface{}, rule.EventContext) Result {
			mu.Lock()
			seen = append(seen, name)
			mu.Unlock()
			return Succeeded(name + " done")
		})
	}

	reg := NewRegistry()
	reg.MustRegister("a", record("a"))
	reg.MustRegister("b", record("b"))
	reg.MustRegister("c", record("c"))
	exec := setupTestExecutor(t, reg)

	outcome := exec.Run(context.Background(), []rule.Action{
		{Type: "c", Order: 2},
		{Type: "a", Order: 0},
		{Type: "b", Order: 1},
	}, nil, ContinueOnFailure)

	assert.True(t, outcome.Success)
	assert.Equal(t, []string{"a", "b", "c"}, seen)
	require.Len(t, outcome.Actions, 3)
	assert.Equal(t, "a done", outcome.Actions[0].Message)
	assert.Equal(t, 1, outcome.Actions[0].Attempts)
	assert.Empty(t, outcome.ErrorDetail())
}

func TestExecutorEmptyActions(t *testing.T) {
	exec := setupTestExecutor(t, NewRegistry())
	outcome := exec.Run(context.Background(), nil, nil, ContinueOnFailure)
	assert.True(t, outcome.Success)
	assert.Empty(t, outcome.Actions)
}

// [A(fails, transient), B(succeeds)] with continue: both run, A retried.
func TestExecutorTransientFailureThenSuccess(t *testing.T) {
	a := &countingHandler{script: []Result{Failed("smtp unavailable")}}
	b := &countingHandler{script: []Result{Succeeded("status updated")}}

	reg := NewRegistry()
	reg.MustRegister("A", a)
	reg.MustRegister("B", b)
	exec := setupTestExecutor(t, reg)

	outcome := exec.Run(context.Background(), []rule.Action{
		{Type: "A", Order: 0},
		{Type: "B", Order: 1},
	}, nil, ContinueOnFailure)

	assert.False(t, outcome.Success)
	require.Len(t, outcome.Actions, 2)

	assert.Equal(t, StatusFailed, outcome.Actions[0].Status)
	assert.Equal(t, 3, outcome.Actions[0].Attempts)
	assert.Equal(t, "smtp unavailable", outcome.Actions[0].Message)
	assert.Equal(t, 3, a.Calls())

	var execErr *ExecutionError
	require.True(t, errors.As(outcome.Actions[0].Err, &execErr))
	assert.True(t, execErr.Transient)
	assert.Equal(t, 3, execErr.Attempts)

	assert.Equal(t, StatusSucceeded, outcome.Actions[1].Status)
	assert.Equal(t, 1, b.Calls())
	assert.Contains(t, outcome.ErrorDetail(), "action 0 (A): smtp unavailable")
}

func TestExecutorRetryRecovers(t *testing.T) {
	h := &countingHandler{script: []Result{Failed("busy"), Succeeded("sent")}}
	reg := NewRegistry()
	reg.MustRegister("send", h)
	exec := setupTestExecutor(t, reg)

	outcome := exec.Run(context.Background(), []rule.Action{{Type: "send"}}, nil, ContinueOnFailure)

	assert.True(t, outcome.Success)
	assert.Equal(t, 2, outcome.Actions[0].Attempts)
	assert.Equal(t, "sent", outcome.Actions[0].Message)
}

func TestExecutorPermanentFailureNotRetried(t *testing.T) {
	h := &countingHandler{script: []Result{PermanentFailure("missing parameter %q", "recipient")}}
	reg := NewRegistry()
	reg.MustRegister("send", h)
	exec := setupTestExecutor(t, reg)

	outcome := exec.Run(context.Background(), []rule.Action{{Type: "send"}}, nil, ContinueOnFailure)

	assert.False(t, outcome.Success)
	assert.Equal(t, 1, h.Calls())
	assert.Equal(t, `missing parameter "recipient"`, outcome.Actions[0].Message)

	var execErr *ExecutionError
	require.True(t, errors.As(outcome.Actions[0].Err, &execErr))
	assert.False(t, execErr.Transient)
}

func TestExecutorTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	slow := HandlerFunc(func(ctx context.Context, _ map[string]interface{}, _ rule.EventContext) Result {
		calls.Add(1)
		<-ctx.Done()
		return Failed("cancelled")
	})

	reg := NewRegistry()
	reg.MustRegister("slow", slow)
	exec := setupTestExecutor(t, reg)

	outcome := exec.Run(context.Background(), []rule.Action{{Type: "slow"}}, nil, ContinueOnFailure)

	assert.False(t, outcome.Success)
	assert.Equal(t, 3, outcome.Actions[0].Attempts)
	assert.ErrorIs(t, outcome.Actions[0].Err, ErrTimeout)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSettleAfterDeadline(t *testing.T) {
	exec := setupTestExecutor(t, NewRegistry())
	ctx := context.Background()
	expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
	defer cancel()

	// A permanent failure that lands after the deadline stays permanent.
	res, err := exec.settle(ctx, expired, attemptResult{res: PermanentFailure("unknown asset")})
	require.NoError(t, err)
	assert.True(t, res.Permanent)
	assert.Equal(t, "unknown asset", res.Message)

	_, err = exec.settle(ctx, expired, attemptResult{res: Failed("context deadline exceeded")})
	assert.ErrorIs(t, err, ErrTimeout)

	res, err = exec.settle(ctx, expired, attemptResult{res: Succeeded("late")})
	require.NoError(t, err)
	assert.True(t, res.Success)

	// Before the deadline a transient failure is reported as is.
	live, cancelLive := context.WithTimeout(ctx, time.Minute)
	defer cancelLive()
	res, err = exec.settle(ctx, live, attemptResult{res: Failed("busy")})
	require.NoError(t, err)
	assert.Equal(t, "busy", res.Message)
}

func TestExecutorHandlerIgnoringContextIsAbandoned(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	stuck := HandlerFunc(func(context.Context, map[string]interface{}, rule.EventContext) Result {
		<-release
		return Succeeded("late")
	})

	reg := NewRegistry()
	reg.MustRegister("stuck", stuck)
	cfg := testConfig()
	cfg.MaxAttempts = 1
	exec := NewExecutor(reg, cfg, logger.NewNop(), nil)

	start := time.Now()
	outcome := exec.Run(context.Background(), []rule.Action{{Type: "stuck"}}, nil, ContinueOnFailure)

	assert.False(t, outcome.Success)
	assert.ErrorIs(t, outcome.Actions[0].Err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecutorPanicIsContained(t *testing.T) {
	var calls atomic.Int32
	boom := HandlerFunc(func(context.Context, map[string]interface{}, rule.EventContext) Result {
		calls.Add(1)
		panic("nil map write")
	})
	after := &countingHandler{script: []Result{Succeeded("ok")}}

	reg := NewRegistry()
	reg.MustRegister("boom", boom)
	reg.MustRegister("after", after)
	exec := setupTestExecutor(t, reg)

	outcome := exec.Run(context.Background(), []rule.Action{
		{Type: "boom", Order: 0},
		{Type: "after", Order: 1},
	}, nil, ContinueOnFailure)

	assert.False(t, outcome.Success)
	assert.ErrorIs(t, outcome.Actions[0].Err, ErrHandlerPanic)
	assert.Equal(t, int32(1), calls.Load(), "panics are not retried")
	assert.Equal(t, StatusSucceeded, outcome.Actions[1].Status)
}

func TestExecutorUnregisteredType(t *testing.T) {
	after := &countingHandler{script: []Result{Succeeded("ok")}}
	reg := NewRegistry()
	reg.MustRegister("after", after)
	exec := setupTestExecutor(t, reg)

	outcome := exec.Run(context.Background(), []rule.Action{
		{Type: "create_task", Order: 0},
		{Type: "after", Order: 1},
	}, nil, ContinueOnFailure)

	assert.False(t, outcome.Success)
	assert.Equal(t, StatusFailed, outcome.Actions[0].Status)
	assert.Equal(t, 0, outcome.Actions[0].Attempts)

	var notFound *HandlerNotFoundError
	assert.True(t, errors.As(outcome.Actions[0].Err, &notFound))
	assert.Contains(t, outcome.ErrorDetail(), `no handler registered for action type "create_task"`)
	assert.Equal(t, 1, after.Calls())
}

func TestExecutorStopOnFirstFailure(t *testing.T) {
	first := &countingHandler{script: []Result{PermanentFailure("denied")}}
	second := &countingHandler{script: []Result{Succeeded("ok")}}

	reg := NewRegistry()
	reg.MustRegister("first", first)
	reg.MustRegister("second", second)
	exec := setupTestExecutor(t, reg)

	outcome := exec.Run(context.Background(), []rule.Action{
		{Type: "first", Order: 0},
		{Type: "second", Order: 1},
		{Type: "missing", Order: 2},
	}, nil, StopOnFirstFailure)

	assert.False(t, outcome.Success)
	require.Len(t, outcome.Actions, 3)
	assert.Equal(t, StatusFailed, outcome.Actions[0].Status)
	assert.Equal(t, StatusSkipped, outcome.Actions[1].Status)
	assert.Equal(t, StatusSkipped, outcome.Actions[2].Status)
	assert.Equal(t, 0, second.Calls())
	assert.Contains(t, outcome.ErrorDetail(), "action 1 (second): skipped")
}

func TestExecutorRendersParameters(t *testing.T) {
	h := &countingHandler{script: []Result{Succeeded("ok")}}
	reg := NewRegistry()
	reg.MustRegister("notify", h)
	exec := setupTestExecutor(t, reg)

	evt := rule.EventContext{"asset": map[string]interface{}{"name": "Pump"}}
	outcome := exec.Run(context.Background(), []rule.Action{{
		Type:       "notify",
		Parameters: map[string]interface{}{"subject": "Check ${asset.name}"},
	}}, evt, ContinueOnFailure)

	require.True(t, outcome.Success)
	require.Len(t, h.params, 1)
	assert.Equal(t, "Check Pump", h.params[0]["subject"])
}

func TestExecutorCancelledContextStopsRetries(t *testing.T) {
	h := &countingHandler{script: []Result{Failed("busy")}}
	reg := NewRegistry()
	reg.MustRegister("send", h)

	cfg := testConfig()
	cfg.MaxAttempts = 10
	cfg.BaseDelay = 20 * time.Millisecond
	cfg.MaxDelay = 20 * time.Millisecond
	exec := NewExecutor(reg, cfg, logger.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	outcome := exec.Run(ctx, []rule.Action{{Type: "send"}}, nil, ContinueOnFailure)
	assert.False(t, outcome.Success)
	assert.Less(t, h.Calls(), 10)
}

func TestNewExecutorDefaults(t *testing.T) {
	exec := NewExecutor(NewRegistry(), Config{}, logger.NewNop(), nil)
	assert.Equal(t, DefaultConfig(), exec.cfg)
}
