package execution

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLogAppendValidates(t *testing.T) {
	log := NewMemoryLog()
	assert.Error(t, log.Append(context.Background(), Execution{CompanyID: "acme"}))
	assert.Error(t, log.Append(context.Background(), Execution{ID: "e1"}))
}

func TestMemoryLogIsolatesStoredActions(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	actions := []ActionOutcome{{Type: "log", Status: "success"}}
	require.NoError(t, log.Append(ctx, Execution{ID: "e1", CompanyID: "acme", Actions: actions}))
	actions[0].Status = "failure"

	stored, err := log.List(ctx, Query{CompanyID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "success", stored[0].Actions[0].Status)
}

func TestMemoryLogOrderingAndAggregate(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	// Appended out of time order
	require.NoError(t, log.Append(ctx, Execution{ID: "e2", CompanyID: "acme", TriggeredAt: base.Add(2 * time.Minute), Success: true}))
	require.NoError(t, log.Append(ctx, Execution{ID: "e1", CompanyID: "acme", TriggeredAt: base.Add(time.Minute), Success: false}))
	require.NoError(t, log.Append(ctx, Execution{ID: "e3", CompanyID: "acme", TriggeredAt: base.Add(3 * time.Minute), Success: true}))

	list, err := log.List(ctx, Query{CompanyID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "e3", list[0].ID)
	assert.Equal(t, "e2", list[1].ID)
	assert.Equal(t, "e1", list[2].ID)

	agg, err := log.Aggregate(ctx, Query{CompanyID: "acme", Since: base.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, Aggregate{Total: 2, Succeeded: 2}, agg)
}

func TestMemoryLogConcurrentTenants(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	var wg sync.WaitGroup
	for c := 0; c < 10; c++ {
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(c, i int) {
				defer wg.Done()
				_ = log.Append(ctx, Execution{
					ID:          fmt.Sprintf("c%d-e%d", c, i),
					CompanyID:   fmt.Sprintf("company-%d", c),
					TriggeredAt: time.Now(),
					Success:     true,
				})
			}(c, i)
		}
	}
	wg.Wait()

	for c := 0; c < 10; c++ {
		company := fmt.Sprintf("company-%d", c)
		list, err := log.List(ctx, Query{CompanyID: company})
		require.NoError(t, err)
		assert.Len(t, list, 20)
		for _, exec := range list {
			assert.Equal(t, company, exec.CompanyID)
		}
	}
}
