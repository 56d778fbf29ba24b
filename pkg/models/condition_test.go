package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCondition_Evaluate(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"amount": 1500.0,
		"status": "approved",
		"request": map[string]any{
			"owner": map[string]any{
				"name": "alice",
			},
			"tags": []any{"urgent", "finance"},
		},
	}

	tests := []struct {
		name      string
		condition Condition
		want      string
	}{
		{
			name:      "equals string match",
			condition: Condition{Field: "status", Operator: OperatorEquals, Value: "approved"},
			want:      "true",
		},
		{
			name:      "equals numeric match across types",
			condition: Condition{Field: "amount", Operator: OperatorEquals, Value: 1500},
			want:      "true",
		},
		{
			name:      "notEquals",
			condition: Condition{Field: "status", Operator: OperatorNotEquals, Value: "rejected"},
			want:      "true",
		},
		{
			name:      "greaterThan",
			condition: Condition{Field: "amount", Operator: OperatorGreaterThan, Value: 1000},
			want:      "true",
		},
		{
			name:      "greaterThan false",
			condition: Condition{Field: "amount", Operator: OperatorGreaterThan, Value: 2000},
			want:      "false",
		},
		{
			name:      "lessThan with string value",
			condition: Condition{Field: "amount", Operator: OperatorLessThan, Value: "2000"},
			want:      "true",
		},
		{
			name:      "contains on string",
			condition: Condition{Field: "status", Operator: OperatorContains, Value: "rov"},
			want:      "true",
		},
		{
			name:      "contains on list",
			condition: Condition{Field: "request.tags", Operator: OperatorContains, Value: "urgent"},
			want:      "true",
		},
		{
			name:      "dotted path lookup",
			condition: Condition{Field: "request.owner.name", Operator: OperatorEquals, Value: "alice"},
			want:      "true",
		},
		{
			name:      "missing field yields false",
			condition: Condition{Field: "does.not.exist", Operator: OperatorEquals, Value: "x"},
			want:      "false",
		},
		{
			name:      "path through non-map yields false",
			condition: Condition{Field: "status.nested", Operator: OperatorEquals, Value: "x"},
			want:      "false",
		},
		{
			name:      "unknown operator yields false",
			condition: Condition{Field: "status", Operator: "matches", Value: "approved"},
			want:      "false",
		},
		{
			name:      "empty condition yields false",
			condition: Condition{},
			want:      "false",
		},
		{
			name:      "non-numeric greaterThan yields false",
			condition: Condition{Field: "status", Operator: OperatorGreaterThan, Value: 10},
			want:      "false",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := tt.condition.Evaluate(data)
			assert.Equal(t, tt.want, got)

			// Evaluation is pure: a second run over the same inputs agrees.
			assert.Equal(t, got, tt.condition.Evaluate(data))
		})
	}
}

func TestCondition_Evaluate_NilData(t *testing.T) {
	t.Parallel()

	c := Condition{Field: "a", Operator: OperatorEquals, Value: 1}
	assert.Equal(t, "false", c.Evaluate(nil))
}
