// Package storage holds the pieces shared by the SQL-backed rule stores and
// execution logs.
package storage

import (
	"encoding/json"
	"fmt"
	"sort"

	"maintenance-automation/internal/execution"
	"maintenance-automation/internal/rule"
)

type ruleKey struct {
	companyID string
	ruleID    string
}

// Assembler builds rules from rows of the rule, condition and action
// tables. Rows may arrive in any order, but a condition or action row for
// a rule that was never added is dropped.
type Assembler struct {
	rules map[ruleKey]*rule.Rule
}

func NewAssembler() *Assembler {
	return &Assembler{rules: make(map[ruleKey]*rule.Rule)}
}

func (a *Assembler) AddRule(r rule.Rule) {
	r.Conditions = nil
	r.Actions = nil
	a.rules[ruleKey{r.CompanyID, r.ID}] = &r
}

func (a *Assembler) AddCondition(companyID, ruleID string, c rule.Condition) {
	if r, ok := a.rules[ruleKey{companyID, ruleID}]; ok {
		r.Conditions = append(r.Conditions, c)
	}
}

func (a *Assembler) AddAction(companyID, ruleID string, act rule.Action) {
	if r, ok := a.rules[ruleKey{companyID, ruleID}]; ok {
		r.Actions = append(r.Actions, act)
	}
}

// Rules returns the assembled rules in dispatch order, with conditions and
// actions sorted by Order.
func (a *Assembler) Rules() []*rule.Rule {
	out := make([]*rule.Rule, 0, len(a.rules))
	for _, r := range a.rules {
		sort.SliceStable(r.Conditions, func(i, j int) bool { return r.Conditions[i].Order < r.Conditions[j].Order })
		sort.SliceStable(r.Actions, func(i, j int) bool { return r.Actions[i].Order < r.Actions[j].Order })
		out = append(out, r)
	}
	rule.SortRules(out)
	return out
}

// EncodeValue serialises a condition value for a JSON column.
func EncodeValue(v rule.Value) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode condition value: %w", err)
	}
	return b, nil
}

func DecodeValue(b []byte) (rule.Value, error) {
	var v rule.Value
	if err := json.Unmarshal(b, &v); err != nil {
		return rule.Value{}, fmt.Errorf("failed to decode condition value: %w", err)
	}
	return v, nil
}

// EncodeParameters serialises action parameters; nil becomes "{}".
func EncodeParameters(params map[string]interface{}) ([]byte, error) {
	if params == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode action parameters: %w", err)
	}
	return b, nil
}

func DecodeParameters(b []byte) (map[string]interface{}, error) {
	params := make(map[string]interface{})
	if len(b) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(b, &params); err != nil {
		return nil, fmt.Errorf("failed to decode action parameters: %w", err)
	}
	return params, nil
}

// EncodeOutcomes serialises the per-action breakdown of an execution.
func EncodeOutcomes(actions []execution.ActionOutcome) ([]byte, error) {
	if actions == nil {
		actions = []execution.ActionOutcome{}
	}
	b, err := json.Marshal(actions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode action outcomes: %w", err)
	}
	return b, nil
}

func DecodeOutcomes(b []byte) ([]execution.ActionOutcome, error) {
	var actions []execution.ActionOutcome
	if len(b) == 0 {
		return actions, nil
	}
	if err := json.Unmarshal(b, &actions); err != nil {
		return nil, fmt.Errorf("failed to decode action outcomes: %w", err)
	}
	return actions, nil
}
