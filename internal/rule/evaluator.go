package rule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrFieldMissing = errors.New("field not found in event context")
	ErrTypeMismatch = errors.New("type mismatch")
)

// ConditionError describes a condition that could not be evaluated. The
// condition counts as false; it is reported, never propagated.
type ConditionError struct {
	Order    int
	Field    string
	Operator Operator
	Err      error
	Detail   string
}

func (e *ConditionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("condition %d (%s %s): %v", e.Order, e.Field, e.Operator, e.Err)
	}
	return fmt.Sprintf("condition %d (%s %s): %v: %s", e.Order, e.Field, e.Operator, e.Err, e.Detail)
}

func (e *ConditionError) Unwrap() error { return e.Err }

// Evaluation is the outcome of evaluating a rule's conditions.
type Evaluation struct {
	Matched bool
	Issues  []*ConditionError
}

// Evaluate folds conditions left to right in Order. An empty list matches.
// The first condition seeds the result; every later condition merges its
// own result into the accumulated one using its LogicalOperator, so
// [A, B(OR), C(AND)] is ((A OR B) AND C) with no operator precedence.
func Evaluate(conditions []Condition, evt EventContext) Evaluation {
	if len(conditions) == 0 {
		return Evaluation{Matched: true}
	}

	ordered := make([]Condition, len(conditions))
	copy(ordered, conditions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order < ordered[j].Order
	})

	var eval Evaluation
	for i := range ordered {
		c := &ordered[i]
		r, issue := evaluateCondition(c, evt)
		if issue != nil {
			eval.Issues = append(eval.Issues, issue)
		}

		if i == 0 {
			eval.Matched = r
			continue
		}
		if c.LogicalOperator == LogicalOr {
			eval.Matched = eval.Matched || r
		} else {
			eval.Matched = eval.Matched && r
		}
	}

	return eval
}

// evaluateCondition evaluates a single condition against the event context
func evaluateCondition(c *Condition, evt EventContext) (bool, *ConditionError) {
	fail := func(err error, detail string) (bool, *ConditionError) {
		return false, &ConditionError{
			Order:    c.Order,
			Field:    c.Field,
			Operator: c.Operator,
			Err:      err,
			Detail:   detail,
		}
	}

	raw, ok := Lookup(evt, c.Field)
	if !ok {
		return fail(ErrFieldMissing, "")
	}
	field, err := ValueOf(raw)
	if err != nil {
		return fail(ErrTypeMismatch, err.Error())
	}

	switch c.Operator {
	case OperatorEquals, OperatorNotEquals:
		eq, ok := valuesEqual(field, c.Value)
		if !ok {
			return fail(ErrTypeMismatch, fmt.Sprintf("cannot compare %s with %s", field.Kind(), c.Value.Kind()))
		}
		if c.Operator == OperatorNotEquals {
			return !eq, nil
		}
		return eq, nil

	case OperatorGreaterThan, OperatorLessThan:
		cmp, ok := compareOrdered(field, c.Value)
		if !ok {
			return fail(ErrTypeMismatch, fmt.Sprintf("cannot order %s against %s", field.Kind(), c.Value.Kind()))
		}
		if c.Operator == OperatorGreaterThan {
			return cmp > 0, nil
		}
		return cmp < 0, nil

	case OperatorContains:
		switch field.Kind() {
		case KindString:
			if c.Value.Kind() != KindString {
				return fail(ErrTypeMismatch, "contains on a string field needs a string value")
			}
			return strings.Contains(field.Str(), c.Value.Str()), nil
		case KindArray:
			return memberOf(c.Value, field.Items()), nil
		default:
			return fail(ErrTypeMismatch, fmt.Sprintf("contains needs a string or array field, got %s", field.Kind()))
		}

	case OperatorIn:
		if c.Value.Kind() != KindArray {
			return fail(ErrTypeMismatch, "in needs an array value")
		}
		if !field.isScalar() {
			return fail(ErrTypeMismatch, fmt.Sprintf("in needs a scalar field, got %s", field.Kind()))
		}
		return memberOf(field, c.Value.Items()), nil

	default:
		return fail(ErrTypeMismatch, fmt.Sprintf("unknown operator %q", c.Operator))
	}
}

// valuesEqual reports equality of two scalars. Numeric strings compare
// equal to numbers; other cross-kind pairs are not comparable.
func valuesEqual(a, b Value) (bool, bool) {
	if a.Kind() == b.Kind() {
		switch a.Kind() {
		case KindString:
			return a.Str() == b.Str(), true
		case KindNumber:
			return a.Num() == b.Num(), true
		case KindBool:
			return a.Bool() == b.Bool(), true
		}
		return false, false
	}

	an, aok := asNumber(a)
	bn, bok := asNumber(b)
	if aok && bok {
		return an == bn, true
	}
	return false, false
}

// compareOrdered orders numbers numerically and strings lexically.
func compareOrdered(a, b Value) (int, bool) {
	if a.Kind() == KindString && b.Kind() == KindString {
		return strings.Compare(a.Str(), b.Str()), true
	}

	an, aok := asNumber(a)
	bn, bok := asNumber(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case an < bn:
		return -1, true
	case an > bn:
		return 1, true
	default:
		return 0, true
	}
}

func memberOf(needle Value, haystack []Value) bool {
	for _, item := range haystack {
		if eq, ok := valuesEqual(needle, item); ok && eq {
			return true
		}
	}
	return false
}

func asNumber(v Value) (float64, bool) {
	switch v.Kind() {
	case KindNumber:
		return v.Num(), true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str()), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
