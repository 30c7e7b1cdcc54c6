package stats

import (
	"time"

	"maintenance-automation/internal/rule"
)

// Priority bucket bounds. Priorities above HighPriorityThreshold are high,
// those up to LowPriorityThreshold are low, everything between is medium.
const (
	HighPriorityThreshold = 300
	LowPriorityThreshold  = 100
)

type Bucket string

const (
	BucketHigh   Bucket = "high"
	BucketMedium Bucket = "medium"
	BucketLow    Bucket = "low"
)

// BucketOf classifies a rule priority for dashboards. It does not affect
// evaluation order.
func BucketOf(priority int) Bucket {
	switch {
	case priority > HighPriorityThreshold:
		return BucketHigh
	case priority > LowPriorityThreshold:
		return BucketMedium
	default:
		return BucketLow
	}
}

type FlowsByPriority struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// RecentExecution is the dashboard view of one execution record.
type RecentExecution struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"ruleId"`
	RuleName    string    `json:"ruleName,omitempty"`
	Trigger     string    `json:"trigger"`
	TriggeredAt time.Time `json:"triggeredAt"`
	Success     bool      `json:"success"`
	ErrorDetail string    `json:"errorDetail,omitempty"`
}

// Summary is the per-company automation overview.
type Summary struct {
	CompanyID            string            `json:"companyId"`
	Since                *time.Time        `json:"since,omitempty"` // nil for all-time
	TotalFlows           int               `json:"totalFlows"`
	ActiveFlows          int               `json:"activeFlows"`
	TotalExecutions      int               `json:"totalExecutions"`
	SuccessfulExecutions int               `json:"successfulExecutions"`
	AverageSuccessRate   float64           `json:"averageSuccessRate"`
	RecentExecutions     []RecentExecution `json:"recentExecutions"`
	FlowsByPriority      FlowsByPriority   `json:"flowsByPriority"`
}

// SuccessRate is succeeded/total as a percentage, 0 when total is 0.
func SuccessRate(succeeded, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(succeeded) / float64(total) * 100
}

// CountFlows counts rules, active rules, and rules per priority bucket.
func CountFlows(rules []*rule.Rule) (total, active int, byPriority FlowsByPriority) {
	for _, r := range rules {
		if r == nil {
			continue
		}
		total++
		if r.IsActive {
			active++
		}
		switch BucketOf(r.Priority) {
		case BucketHigh:
			byPriority.High++
		case BucketMedium:
			byPriority.Medium++
		default:
			byPriority.Low++
		}
	}
	return total, active, byPriority
}
