package action

import (
	"context"
	"fmt"

	"maintenance-automation/internal/rule"
)

// Result is what a handler reports for one attempt. A failed Result is
// retried unless Permanent is set.
type Result struct {
	Success   bool
	Message   string
	Permanent bool
}

func Succeeded(message string) Result {
	return Result{Success: true, Message: message}
}

// Failed reports a transient failure that the executor may retry.
func Failed(format string, args ...interface{}) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

// PermanentFailure reports a failure that retrying cannot fix, such as
// invalid parameters.
func PermanentFailure(format string, args ...interface{}) Result {
	return Result{Message: fmt.Sprintf(format, args...), Permanent: true}
}

// Handler performs the side effect behind one action type. Handlers may be
// invoked concurrently from different dispatches and must honour ctx,
// which carries the per-attempt timeout.
type Handler interface {
	Execute(ctx context.Context, params map[string]interface{}, evt rule.EventContext) Result
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, params map[string]interface{}, evt rule.EventContext) Result

func (f HandlerFunc) Execute(ctx context.Context, params map[string]interface{}, evt rule.EventContext) Result {
	return f(ctx, params, evt)
}

// Invocation identifies the rule whose actions are running.
type Invocation struct {
	RuleID    string
	CompanyID string
	Trigger   rule.Trigger
}

type invocationKey struct{}

// WithInvocation attaches inv to ctx for handlers to read.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

func InvocationFrom(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}
