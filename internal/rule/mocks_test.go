package rule

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/metrics"
)

// newMockMetrics creates a new metrics instance for testing
func newMockMetrics() *metrics.Metrics {
	// Create a test registry that we can throw away
	reg := prometheus.NewRegistry()
	m, _ := metrics.NewMetrics(reg)
	return m
}

func newTestStore() *InMemoryStore {
	return NewInMemoryStore(logger.NewNop(), newMockMetrics())
}

// fakeStore returns a fixed rule list regardless of the query.
type fakeStore struct {
	rules []*Rule
	err   error
}

func (f *fakeStore) ListActiveRules(context.Context, Trigger, string) ([]*Rule, error) {
	return f.rules, f.err
}

func (f *fakeStore) ListRules(context.Context, string) ([]*Rule, error) {
	return f.rules, f.err
}

func (f *fakeStore) ListActiveRulesByTrigger(context.Context, Trigger) ([]*Rule, error) {
	return f.rules, f.err
}

var errStoreDown = errors.New("store unavailable")

type actionSet map[string]bool

func (s actionSet) Has(actionType string) bool { return s[actionType] }

func cond(order int, field string, op Operator, v Value, logical LogicalOperator) Condition {
	return Condition{Field: field, Operator: op, Value: v, LogicalOperator: logical, Order: order}
}
