package rule

import (
	"fmt"
	"regexp"
	"sort"
)

var (
	// validFieldPattern matches dotted field paths:
	// - Each segment starts with a letter or underscore
	// - Segments contain letters, numbers, underscores
	// - Numeric segments index into arrays
	validFieldPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.([a-zA-Z_][a-zA-Z0-9_]*|[0-9]+))*$`)
)

// ActionTypes reports whether an action type has a registered handler.
type ActionTypes interface {
	Has(actionType string) bool
}

// Validate checks a rule at save or load time. When actions is non-nil,
// every action type must be registered there.
func Validate(r *Rule, actions ActionTypes) error {
	if r == nil {
		return &ValidationError{Field: "rule", Message: "rule cannot be nil"}
	}

	invalid := func(field, format string, args ...interface{}) error {
		return &ValidationError{RuleID: r.ID, Field: field, Message: fmt.Sprintf(format, args...)}
	}

	if r.ID == "" {
		return invalid("id", "rule id cannot be empty")
	}
	if r.CompanyID == "" {
		return invalid("companyId", "company id cannot be empty")
	}
	if !ValidTriggers[r.Trigger] {
		return invalid("trigger", "invalid trigger: %q", r.Trigger)
	}

	if r.Schedule != "" {
		if r.Trigger != TriggerScheduled {
			return invalid("schedule", "schedule is only valid for %s rules", TriggerScheduled)
		}
		d, err := r.Interval()
		if err != nil {
			return invalid("schedule", "%v", err)
		}
		if d <= 0 {
			return invalid("schedule", "schedule must be greater than 0")
		}
	}

	condOrders := make([]int, len(r.Conditions))
	for i := range r.Conditions {
		if err := validateCondition(&r.Conditions[i]); err != nil {
			return invalid(fmt.Sprintf("conditions[%d]", i), "%v", err)
		}
		condOrders[i] = r.Conditions[i].Order
	}
	if err := validateOrders(condOrders); err != nil {
		return invalid("conditions", "%v", err)
	}

	actionOrders := make([]int, len(r.Actions))
	for i, a := range r.Actions {
		if a.Type == "" {
			return invalid(fmt.Sprintf("actions[%d].type", i), "action type cannot be empty")
		}
		if actions != nil && !actions.Has(a.Type) {
			return invalid(fmt.Sprintf("actions[%d].type", i), "unknown action type: %s", a.Type)
		}
		actionOrders[i] = a.Order
	}
	if err := validateOrders(actionOrders); err != nil {
		return invalid("actions", "%v", err)
	}

	return nil
}

// validateCondition validates a single condition
func validateCondition(c *Condition) error {
	if c.Field == "" {
		return fmt.Errorf("field cannot be empty")
	}
	if !validFieldPattern.MatchString(c.Field) {
		return fmt.Errorf("invalid field path: %s", c.Field)
	}

	kinds, ok := ValidOperators[c.Operator]
	if !ok {
		return fmt.Errorf("invalid operator: %s", c.Operator)
	}
	if !c.Value.IsValid() {
		return fmt.Errorf("value is required")
	}
	if !kindAllowed(kinds, c.Value.Kind()) {
		return fmt.Errorf("operator %s does not accept a %s value", c.Operator, c.Value.Kind())
	}

	switch c.LogicalOperator {
	case "", LogicalAnd, LogicalOr:
	default:
		return fmt.Errorf("invalid logical operator: %s", c.LogicalOperator)
	}

	return nil
}

func kindAllowed(kinds []Kind, k Kind) bool {
	for _, allowed := range kinds {
		if allowed == k {
			return true
		}
	}
	return false
}

// validateOrders requires unique, consecutive order values starting at 0 or 1.
func validateOrders(orders []int) error {
	if len(orders) == 0 {
		return nil
	}

	sorted := make([]int, len(orders))
	copy(sorted, orders)
	sort.Ints(sorted)

	if sorted[0] != 0 && sorted[0] != 1 {
		return fmt.Errorf("order must start at 0 or 1, got %d", sorted[0])
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return fmt.Errorf("duplicate order %d", sorted[i])
		}
		if sorted[i] != sorted[i-1]+1 {
			return fmt.Errorf("order values must be dense, gap after %d", sorted[i-1])
		}
	}

	return nil
}
