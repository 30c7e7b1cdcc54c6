package engine

import (
	"context"
	"sync"
	"time"

	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/rule"
)

// Scheduler fires active scheduled rules. Each rule carries its own
// interval; a rule without one runs on every tick. A rule seen for the
// first time is due immediately.
type Scheduler struct {
	engine   *Engine
	store    rule.Store
	interval time.Duration
	logger   *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	lastRun map[string]time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(engine *Engine, store rule.Store, interval time.Duration, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		engine:   engine,
		store:    store,
		interval: interval,
		logger:   log,
		now:      time.Now,
		lastRun:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
	}
}

// Start runs the tick loop until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.Tick(ctx)
		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info("scheduler started", "interval", s.interval)
}

// Stop ends the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// Tick dispatches every due scheduled rule once and returns how many ran.
func (s *Scheduler) Tick(ctx context.Context) int {
	rules, err := s.store.ListActiveRulesByTrigger(ctx, rule.TriggerScheduled)
	if err != nil {
		s.logger.Error("failed to list scheduled rules", "error", err)
		return 0
	}

	now := s.now()
	ran := 0
	seen := make(map[string]struct{}, len(rules))

	for _, r := range rules {
		if r == nil || !r.IsActive || r.Trigger != rule.TriggerScheduled {
			continue
		}
		key := r.CompanyID + "/" + r.ID
		seen[key] = struct{}{}

		every, err := r.Interval()
		if err != nil {
			s.logger.Warn("skipping scheduled rule",
				"ruleId", r.ID,
				"companyId", r.CompanyID,
				"error", err)
			continue
		}
		if !s.due(key, every, now) {
			continue
		}

		evt := rule.EventContext{
			"companyId":   r.CompanyID,
			"ruleId":      r.ID,
			"scheduledAt": now.UTC().Format(time.RFC3339),
		}
		summary := s.engine.DispatchRule(ctx, r, evt)
		ran++

		s.logger.Debug("scheduled rule dispatched",
			"ruleId", r.ID,
			"companyId", r.CompanyID,
			"matched", summary.Matched)
	}

	s.forget(seen)
	return ran
}

func (s *Scheduler) due(key string, every time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastRun[key]
	if ok && every > 0 && now.Sub(last) < every {
		return false
	}
	s.lastRun[key] = now
	return true
}

// forget drops last-run entries of rules that are no longer scheduled.
func (s *Scheduler) forget(seen map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.lastRun {
		if _, ok := seen[key]; !ok {
			delete(s.lastRun, key)
		}
	}
}
