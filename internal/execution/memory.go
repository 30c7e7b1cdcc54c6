package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryLog keeps executions in process memory, partitioned by company.
type MemoryLog struct {
	mu        sync.RWMutex
	byCompany map[string][]Execution
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		byCompany: make(map[string][]Execution),
	}
}

// Append implements Log
func (l *MemoryLog) Append(_ context.Context, exec Execution) error {
	if exec.ID == "" || exec.CompanyID == "" {
		return fmt.Errorf("execution id and company id are required")
	}

	stored := exec
	if exec.Actions != nil {
		stored.Actions = make([]ActionOutcome, len(exec.Actions))
		copy(stored.Actions, exec.Actions)
	}

	l.mu.Lock()
	l.byCompany[exec.CompanyID] = append(l.byCompany[exec.CompanyID], stored)
	l.mu.Unlock()
	return nil
}

// List implements Log
func (l *MemoryLog) List(_ context.Context, q Query) ([]Execution, error) {
	l.mu.RLock()
	var out []Execution
	for _, exec := range l.byCompany[q.CompanyID] {
		if matches(exec, q) {
			out = append(out, exec)
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].TriggeredAt.After(out[j].TriggeredAt)
		}
		return out[i].ID > out[j].ID
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Aggregate implements Log
func (l *MemoryLog) Aggregate(_ context.Context, q Query) (Aggregate, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var agg Aggregate
	for _, exec := range l.byCompany[q.CompanyID] {
		if !matches(exec, q) {
			continue
		}
		agg.Total++
		if exec.Success {
			agg.Succeeded++
		}
	}
	return agg, nil
}

func matches(exec Execution, q Query) bool {
	if q.RuleID != "" && exec.RuleID != q.RuleID {
		return false
	}
	if !q.Since.IsZero() && exec.TriggeredAt.Before(q.Since) {
		return false
	}
	return true
}
