package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/flowforge/automation/pkg/model"
)

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIsTrue      Operator = "is_true"
	OpIsFalse     Operator = "is_false"
)

type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// Set matches when every condition matches.
type Set struct {
	Conditions []Condition `json:"conditions"`
}

type Definition struct {
	Sets []Set `json:"sets"`
}

// Evaluator matches rule task definitions against trigger data.
// A task triggers when any of its sets matches.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

func (e *Evaluator) Evaluate(ctx context.Context, task *model.RuleTask, trigger model.JSONB) (model.RuleResult, error) {
	def, err := parseDefinition(task.Rules)
	if err != nil {
		return model.RuleResult{}, fmt.Errorf("rule task %d: %w", task.ID, err)
	}

	result := model.RuleResult{Sets: make([]bool, len(def.Sets))}
	for i, set := range def.Sets {
		matched := true
		for _, cond := range set.Conditions {
			ok, err := match(cond, lookup(trigger, cond.Field))
			if err != nil {
				return model.RuleResult{}, fmt.Errorf("rule task %d set %d: %w", task.ID, i, err)
			}
			if !ok {
				matched = false
				break
			}
		}
		result.Sets[i] = matched
		result.Trigger = result.Trigger || matched
	}
	return result, nil
}

func parseDefinition(raw model.JSONB) (Definition, error) {
	var def Definition
	if raw == nil {
		return def, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return def, err
	}
	if err := json.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("decode rules: %w", err)
	}
	return def, nil
}

func lookup(data map[string]interface{}, path string) interface{} {
	var current interface{} = data
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case model.JSONB:
		return m, true
	}
	return nil, false
}

func match(cond Condition, actual interface{}) (bool, error) {
	got := stringify(actual)
	want := stringify(cond.Value)

	switch cond.Operator {
	case OpEquals:
		return strings.EqualFold(got, want), nil
	case OpNotEquals:
		return !strings.EqualFold(got, want), nil
	case OpContains:
		return strings.Contains(strings.ToLower(got), strings.ToLower(want)), nil
	case OpNotContains:
		return !strings.Contains(strings.ToLower(got), strings.ToLower(want)), nil
	case OpStartsWith:
		return strings.HasPrefix(strings.ToLower(got), strings.ToLower(want)), nil
	case OpEndsWith:
		return strings.HasSuffix(strings.ToLower(got), strings.ToLower(want)), nil
	case OpIsEmpty:
		return got == "", nil
	case OpIsNotEmpty:
		return got != "", nil
	case OpIsTrue:
		return truthy(got), nil
	case OpIsFalse:
		return !truthy(got), nil
	case OpGt, OpGte, OpLt, OpLte:
		a, errA := strconv.ParseFloat(got, 64)
		b, errB := strconv.ParseFloat(want, 64)
		if errA != nil || errB != nil {
			return false, nil
		}
		switch cond.Operator {
		case OpGt:
			return a > b, nil
		case OpGte:
			return a >= b, nil
		case OpLt:
			return a < b, nil
		default:
			return a <= b, nil
		}
	default:
		return false, fmt.Errorf("unsupported operator %q", cond.Operator)
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
