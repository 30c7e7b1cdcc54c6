package rule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/metrics"
)

// Store is the read contract the engine consumes from rule management.
// Every call observes one consistent snapshot of the rules.
type Store interface {
	ListActiveRules(ctx context.Context, trigger Trigger, companyID string) ([]*Rule, error)
	ListRules(ctx context.Context, companyID string) ([]*Rule, error)
	ListActiveRulesByTrigger(ctx context.Context, trigger Trigger) ([]*Rule, error)
}

type indexKey struct {
	companyID string
	trigger   Trigger
}

// snapshot is immutable once published
type snapshot struct {
	byCompany map[string][]*Rule
	active    map[indexKey][]*Rule
	byTrigger map[Trigger][]*Rule
	count     int
	updated   time.Time
}

// IndexStats tracks rule index statistics
type IndexStats struct {
	RuleCount   int       // Total number of rules
	ActiveRules int       // Rules with IsActive set
	Lookups     uint64    // Number of store reads
	LastUpdate  time.Time // Last index update time
}

// InMemoryStore is a copy-on-write rule index keyed by company and trigger.
// Reads never block; writers rebuild and atomically publish a new snapshot.
type InMemoryStore struct {
	current atomic.Pointer[snapshot]
	rules   map[string]map[string]Rule // companyID -> ruleID -> rule
	lookups atomic.Uint64
	logger  *logger.Logger
	metrics *metrics.Metrics
	mu      sync.Mutex // serializes writers
}

// NewInMemoryStore creates an empty store. metrics may be nil.
func NewInMemoryStore(log *logger.Logger, m *metrics.Metrics) *InMemoryStore {
	s := &InMemoryStore{
		rules:   make(map[string]map[string]Rule),
		logger:  log,
		metrics: m,
	}
	s.current.Store(buildSnapshot(s.rules))
	return s
}

// Load replaces every rule in the store.
func (s *InMemoryStore) Load(rules []Rule) error {
	next := make(map[string]map[string]Rule)
	for i := range rules {
		r := rules[i]
		if r.ID == "" || r.CompanyID == "" {
			return fmt.Errorf("rule %d: id and companyId are required", i)
		}
		if next[r.CompanyID] == nil {
			next[r.CompanyID] = make(map[string]Rule)
		}
		if _, dup := next[r.CompanyID][r.ID]; dup {
			return fmt.Errorf("duplicate rule id %s for company %s", r.ID, r.CompanyID)
		}
		next[r.CompanyID][r.ID] = r
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = next
	s.publish()

	s.logger.Info("rules loaded into index", "count", len(rules))
	return nil
}

// Upsert adds or replaces a single rule.
func (s *InMemoryStore) Upsert(r Rule) error {
	if r.ID == "" || r.CompanyID == "" {
		return fmt.Errorf("rule id and companyId are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rules[r.CompanyID] == nil {
		s.rules[r.CompanyID] = make(map[string]Rule)
	}
	s.rules[r.CompanyID][r.ID] = r
	s.publish()

	s.logger.Debug("rule added to index",
		"ruleId", r.ID,
		"companyId", r.CompanyID,
		"trigger", r.Trigger)
	return nil
}

// Remove deletes a rule; removing an unknown rule is a no-op.
func (s *InMemoryStore) Remove(companyID, ruleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	company := s.rules[companyID]
	if _, ok := company[ruleID]; !ok {
		return
	}
	delete(company, ruleID)
	if len(company) == 0 {
		delete(s.rules, companyID)
	}
	s.publish()

	s.logger.Debug("rule removed from index",
		"ruleId", ruleID,
		"companyId", companyID)
}

// publish must be called with mu held
func (s *InMemoryStore) publish() {
	snap := buildSnapshot(s.rules)
	s.current.Store(snap)

	if s.metrics != nil {
		s.metrics.SetRulesActive(float64(countActive(snap)))
	}
}

func buildSnapshot(rules map[string]map[string]Rule) *snapshot {
	snap := &snapshot{
		byCompany: make(map[string][]*Rule),
		active:    make(map[indexKey][]*Rule),
		byTrigger: make(map[Trigger][]*Rule),
		updated:   time.Now(),
	}

	for companyID, company := range rules {
		for _, r := range company {
			snap.byCompany[companyID] = append(snap.byCompany[companyID], &r)
			snap.count++
			if !r.IsActive {
				continue
			}
			key := indexKey{companyID: companyID, trigger: r.Trigger}
			snap.active[key] = append(snap.active[key], &r)
			snap.byTrigger[r.Trigger] = append(snap.byTrigger[r.Trigger], &r)
		}
	}

	for _, list := range snap.byCompany {
		SortRules(list)
	}
	for _, list := range snap.active {
		SortRules(list)
	}
	for _, list := range snap.byTrigger {
		SortRules(list)
	}

	return snap
}

func countActive(snap *snapshot) int {
	n := 0
	for _, list := range snap.byTrigger {
		n += len(list)
	}
	return n
}

// ListActiveRules implements Store
func (s *InMemoryStore) ListActiveRules(_ context.Context, trigger Trigger, companyID string) ([]*Rule, error) {
	s.lookups.Add(1)
	snap := s.current.Load()
	return cloneList(snap.active[indexKey{companyID: companyID, trigger: trigger}]), nil
}

// ListRules implements Store
func (s *InMemoryStore) ListRules(_ context.Context, companyID string) ([]*Rule, error) {
	s.lookups.Add(1)
	snap := s.current.Load()
	return cloneList(snap.byCompany[companyID]), nil
}

// ListActiveRulesByTrigger implements Store
func (s *InMemoryStore) ListActiveRulesByTrigger(_ context.Context, trigger Trigger) ([]*Rule, error) {
	s.lookups.Add(1)
	snap := s.current.Load()
	return cloneList(snap.byTrigger[trigger]), nil
}

// GetStats returns current index statistics
func (s *InMemoryStore) GetStats() IndexStats {
	snap := s.current.Load()
	return IndexStats{
		RuleCount:   snap.count,
		ActiveRules: countActive(snap),
		Lookups:     s.lookups.Load(),
		LastUpdate:  snap.updated,
	}
}

func cloneList(list []*Rule) []*Rule {
	if len(list) == 0 {
		return nil
	}
	out := make([]*Rule, len(list))
	copy(out, list)
	return out
}

// SortRules orders rules by ascending priority, ties broken by id.
func SortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}
