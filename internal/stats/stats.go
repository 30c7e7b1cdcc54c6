package stats

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// StatsCollector counts engine activity since process start. The counters
// are runtime telemetry only; success rates always come from the execution
// log.
type StatsCollector struct {
	StartTime time.Time

	eventsReceived  atomic.Uint64
	rulesEvaluated  atomic.Uint64
	rulesMatched    atomic.Uint64
	actionsExecuted atomic.Uint64
	actionFailures  atomic.Uint64
	errors          atomic.Uint64

	mu         sync.RWMutex
	lastUpdate time.Time
}

// NewStatsCollector creates a new stats collector
func NewStatsCollector() *StatsCollector {
	now := time.Now()
	return &StatsCollector{
		StartTime:  now,
		lastUpdate: now,
	}
}

func (s *StatsCollector) touch() {
	s.mu.Lock()
	s.lastUpdate = time.Now()
	s.mu.Unlock()
}

func (s *StatsCollector) IncEventsReceived() {
	s.eventsReceived.Add(1)
	s.touch()
}

// AddDispatch records the counts of one completed dispatch.
func (s *StatsCollector) AddDispatch(evaluated, matched int) {
	s.rulesEvaluated.Add(uint64(evaluated))
	s.rulesMatched.Add(uint64(matched))
	s.touch()
}

// AddActions records executed actions and how many of them failed.
func (s *StatsCollector) AddActions(executed, failed int) {
	s.actionsExecuted.Add(uint64(executed))
	s.actionFailures.Add(uint64(failed))
	s.touch()
}

func (s *StatsCollector) IncErrors() {
	s.errors.Add(1)
	s.touch()
}

// Snapshot is a point-in-time copy of the collector counters.
type Snapshot struct {
	Uptime          string    `json:"uptime"`
	EventsReceived  uint64    `json:"events_received"`
	RulesEvaluated  uint64    `json:"rules_evaluated"`
	RulesMatched    uint64    `json:"rules_matched"`
	ActionsExecuted uint64    `json:"actions_executed"`
	ActionFailures  uint64    `json:"action_failures"`
	Errors          uint64    `json:"errors"`
	EventRate       float64   `json:"event_rate"`
	LastUpdate      time.Time `json:"last_update"`
}

// GetStats returns current statistics
func (s *StatsCollector) GetStats() Snapshot {
	s.mu.RLock()
	last := s.lastUpdate
	s.mu.RUnlock()

	return Snapshot{
		Uptime:          time.Since(s.StartTime).String(),
		EventsReceived:  s.eventsReceived.Load(),
		RulesEvaluated:  s.rulesEvaluated.Load(),
		RulesMatched:    s.rulesMatched.Load(),
		ActionsExecuted: s.actionsExecuted.Load(),
		ActionFailures:  s.actionFailures.Load(),
		Errors:          s.errors.Load(),
		EventRate:       s.CalculateRate(),
		LastUpdate:      last,
	}
}

// GetStatsJSON returns stats as JSON
func (s *StatsCollector) GetStatsJSON() ([]byte, error) {
	return json.Marshal(s.GetStats())
}

// CalculateRate calculates events received per second of uptime
func (s *StatsCollector) CalculateRate() float64 {
	uptime := time.Since(s.StartTime).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(s.eventsReceived.Load()) / uptime
}
