package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Oofersky/executor-balancer/internal/models"
)

var ErrUnknownField = errors.New("unknown rule field")

// Evaluate reports whether every condition of the rule holds for the given
// executor/request pair. Conditions are ANDed; a rule with no conditions
// never matches. Evaluation fails closed: unknown fields, unsupported
// operators and undecodable literals make the condition false, never an
// error.
func Evaluate(rule models.Rule, executor models.Executor, request models.Request) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	for _, cond := range rule.Conditions {
		if !matchCondition(cond, executor, request) {
			return false
		}
	}
	return true
}

// ActiveMatches returns the active rules matching the pair, ordered by
// priority ascending then creation order.
func ActiveMatches(ruleSet []models.Rule, executor models.Executor, request models.Request) []models.Rule {
	matched := make([]models.Rule, 0, len(ruleSet))
	for _, r := range ruleSet {
		if r.IsActive && Evaluate(r, executor, request) {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched
}

// ValidateRule rejects rules that could never match or that reference
// fields outside the registry. Called at creation time so stored rules
// only hit the fail-closed path when the registry shrinks.
func ValidateRule(rule models.Rule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return errors.New("rule name is required")
	}
	if len(rule.Conditions) == 0 {
		return errors.New("rule must have at least one condition")
	}
	for i, cond := range rule.Conditions {
		spec, ok := LookupField(cond.Field)
		if !ok {
			return fmt.Errorf("condition %d: %w: %q", i, ErrUnknownField, cond.Field)
		}
		if !cond.Operator.Valid() {
			return fmt.Errorf("condition %d: invalid operator %q", i, cond.Operator)
		}
		if !operatorAllowed(spec.Type, cond.Operator) {
			return fmt.Errorf("condition %d: operator %q not supported for %s field %q",
				i, cond.Operator, spec.Type, cond.Field)
		}
		if !literalDecodes(spec.Type, cond) {
			return fmt.Errorf("condition %d: value does not decode as %s for field %q",
				i, spec.Type, cond.Field)
		}
	}
	return nil
}

func matchCondition(cond models.RuleCondition, executor models.Executor, request models.Request) bool {
	spec, ok := LookupField(cond.Field)
	if !ok {
		return false
	}
	if !operatorAllowed(spec.Type, cond.Operator) {
		return false
	}
	val := resolveField(spec, executor, request)
	switch spec.Type {
	case TypeNumber:
		return matchNumber(val.num, cond)
	case TypeString:
		return matchString(val.str, cond)
	case TypeStringSet:
		return matchSet(val.set, cond)
	}
	return false
}

func matchNumber(have float64, cond models.RuleCondition) bool {
	if cond.Operator == models.OpIn || cond.Operator == models.OpNotIn {
		var want []float64
		if err := json.Unmarshal(cond.Value, &want); err != nil {
			return false
		}
		found := false
		for _, w := range want {
			if w == have {
				found = true
				break
			}
		}
		if cond.Operator == models.OpIn {
			return found
		}
		return !found
	}

	want, ok := decodeNumber(cond.Value)
	if !ok {
		return false
	}
	switch cond.Operator {
	case models.OpEquals:
		return have == want
	case models.OpNotEquals:
		return have != want
	case models.OpGreaterThan:
		return have > want
	case models.OpLessThan:
		return have < want
	case models.OpGreaterThanOrEqual:
		return have >= want
	case models.OpLessThanOrEqual:
		return have <= want
	}
	return false
}

func matchString(have string, cond models.RuleCondition) bool {
	if cond.Operator == models.OpIn || cond.Operator == models.OpNotIn {
		var want []string
		if err := json.Unmarshal(cond.Value, &want); err != nil {
			return false
		}
		found := false
		for _, w := range want {
			if w == have {
				found = true
				break
			}
		}
		if cond.Operator == models.OpIn {
			return found
		}
		return !found
	}

	var want string
	if err := json.Unmarshal(cond.Value, &want); err != nil {
		return false
	}
	switch cond.Operator {
	case models.OpEquals:
		return have == want
	case models.OpNotEquals:
		return have != want
	case models.OpContains:
		return strings.Contains(have, want)
	}
	return false
}

// Set membership is case-insensitive, matching how skills and languages
// are compared during scoring.
func matchSet(have []string, cond models.RuleCondition) bool {
	if cond.Operator != models.OpContains {
		return false
	}
	var want string
	if err := json.Unmarshal(cond.Value, &want); err != nil {
		return false
	}
	for _, item := range have {
		if strings.EqualFold(item, want) {
			return true
		}
	}
	return false
}

// decodeNumber accepts a JSON number or a numeric string, the two shapes
// rule-building clients send in practice.
func decodeNumber(raw json.RawMessage) (float64, bool) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func literalDecodes(t ValueType, cond models.RuleCondition) bool {
	if cond.Operator == models.OpIn || cond.Operator == models.OpNotIn {
		switch t {
		case TypeNumber:
			var want []float64
			return json.Unmarshal(cond.Value, &want) == nil
		default:
			var want []string
			return json.Unmarshal(cond.Value, &want) == nil
		}
	}
	switch t {
	case TypeNumber:
		_, ok := decodeNumber(cond.Value)
		return ok
	default:
		var s string
		return json.Unmarshal(cond.Value, &s) == nil
	}
}
