package rule

import (
	"context"
	"fmt"
)

// Matcher selects the active rules for a trigger and company in
// evaluation order.
type Matcher struct {
	store Store
}

func NewMatcher(store Store) *Matcher {
	return &Matcher{store: store}
}

// Match returns active rules for trigger and companyID sorted by
// (Priority, ID). The store result is filtered again so a store that
// over-selects cannot leak inactive or foreign-tenant rules.
func (m *Matcher) Match(ctx context.Context, trigger Trigger, companyID string) ([]*Rule, error) {
	candidates, err := m.store.ListActiveRules(ctx, trigger, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules for %s/%s: %w", companyID, trigger, err)
	}

	matched := make([]*Rule, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, r := range candidates {
		if r == nil || !r.IsActive || r.Trigger != trigger || r.CompanyID != companyID {
			continue
		}
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		matched = append(matched, r)
	}

	SortRules(matched)
	return matched, nil
}
