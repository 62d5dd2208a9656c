package rules

import (
	"context"
	"testing"

	"github.com/flowforge/automation/pkg/model"
)

func TestEvaluate(t *testing.T) {
	task := &model.RuleTask{
		ID: 4,
		Rules: model.JSONB{
			"sets": []interface{}{
				map[string]interface{}{
					"conditions": []interface{}{
						map[string]interface{}{"field": "lead.leadStatus", "operator": "equals", "value": "customer"},
						map[string]interface{}{"field": "lead.score", "operator": "gte", "value": 50},
					},
				},
				map[string]interface{}{
					"conditions": []interface{}{
						map[string]interface{}{"field": "lead.emailAddress", "operator": "ends_with", "value": "@acme.io"},
					},
				},
			},
		},
	}

	trigger := model.JSONB{"lead": map[string]interface{}{
		"leadStatus":   "Customer",
		"score":        float64(30),
		"emailAddress": "pat@acme.io",
	}}

	result, err := NewEvaluator().Evaluate(context.Background(), task, trigger)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.Trigger || len(result.Sets) != 2 || result.Sets[0] || !result.Sets[1] {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestEvaluateUnknownOperator(t *testing.T) {
	task := &model.RuleTask{Rules: model.JSONB{"sets": []interface{}{
		map[string]interface{}{"conditions": []interface{}{
			map[string]interface{}{"field": "x", "operator": "sounds_like", "value": "y"},
		}},
	}}}
	if _, err := NewEvaluator().Evaluate(context.Background(), task, model.JSONB{}); err == nil {
		t.Fatalf("expected error for unsupported operator")
	}
}

func TestEvaluateEmpty(t *testing.T) {
	result, err := NewEvaluator().Evaluate(context.Background(), &model.RuleTask{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Trigger || len(result.Sets) != 0 {
		t.Fatalf("empty rules must not trigger: %+v", result)
	}
}
