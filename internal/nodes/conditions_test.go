package nodes

import (
	"testing"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusserg007/botconstructor/internal/engine"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

func handleOf(t *testing.T, out *engine.Outcome) string {
	t.Helper()
	require.NotNil(t, out)
	return out.Handle
}

func TestTextContains(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		data map[string]any
		text string
		want string
	}{
		{"contains ignores case", map[string]any{"pattern": "HELLO"}, "well hello there", engine.HandleTrue},
		{"case sensitive", map[string]any{"pattern": "HELLO", "caseSensitive": true}, "well hello there", engine.HandleFalse},
		{"equals", map[string]any{"pattern": "hello", "matchType": "equals"}, "Hello", engine.HandleTrue},
		{"starts with", map[string]any{"pattern": "/buy", "matchType": "startsWith"}, "/buy 3", engine.HandleTrue},
		{"ends with", map[string]any{"pattern": "?", "matchType": "endsWith"}, "why", engine.HandleFalse},
		{"regex", map[string]any{"pattern": `^\d{3}$`, "matchType": "regex"}, "123", engine.HandleTrue},
		{"templated pattern", map[string]any{"pattern": "{{word}}"}, "say abc", engine.HandleTrue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := h.mustRun(schema.NodeConditionText, tt.data, map[string]any{"messageText": tt.text, "word": "abc"})
			assert.Equal(t, tt.want, handleOf(t, out))
		})
	}

	_, err := h.run(schema.NodeConditionText, map[string]any{"pattern": "(", "matchType": "regex"}, nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestVariableCompare(t *testing.T) {
	h := newHarness(t)
	vars := map[string]any{"age": 18.0, "name": "Ann", "limit": "18", "flag": true}

	tests := []struct {
		left, op, right string
		want            bool
	}{
		{"age", "==", "limit", true},
		{"age", "===", "limit", false},
		{"age", ">=", "18", true},
		{"age", "<", "{{limit}}", false},
		{"name", "!=", "Bob", true},
		{"name", "contains", "nn", true},
		{"name", "startsWith", "An", true},
		{"name", "endsWith", "x", false},
		{"flag", "==", "true", true},
		{"name", ">", "5", false},
	}
	for _, tt := range tests {
		t.Run(tt.left+tt.op+tt.right, func(t *testing.T) {
			out := h.mustRun(schema.NodeConditionVariable, map[string]any{
				"variable1": tt.left, "operator": tt.op, "variable2": tt.right,
			}, vars)
			assert.Equal(t, tt.want, out.Handle == engine.HandleTrue)
		})
	}

	_, err := h.run(schema.NodeConditionVariable, map[string]any{"variable1": "a", "operator": "~", "variable2": "b"}, nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestLogicCondition(t *testing.T) {
	h := newHarness(t)
	vars := map[string]any{"age": 20.0, "city": "Riga"}

	run := func(data map[string]any) string {
		return h.mustRun(schema.NodeConditionLogic, data, vars).Handle
	}

	assert.Equal(t, engine.HandleTrue, run(map[string]any{"conditions": []any{"age > 18", `city == "Riga"`}}))
	assert.Equal(t, engine.HandleFalse, run(map[string]any{"conditions": []any{"age > 18", "age > 30"}}))
	assert.Equal(t, engine.HandleTrue, run(map[string]any{"operator": "OR", "conditions": []any{"age > 30", "age > 18"}}))
	assert.Equal(t, engine.HandleFalse, run(map[string]any{"operator": "OR", "conditions": []any{"age > 30"}}))
	assert.Equal(t, engine.HandleTrue, run(map[string]any{"operator": "NOT", "conditions": []any{"age > 30"}}))
	assert.Equal(t, engine.HandleTrue, run(map[string]any{"conditions": []any{"currentHour == 15"}}))
	assert.Equal(t, engine.HandleTrue, run(map[string]any{"expression": `vars.age >= 18.0 && system.userId == "u1"`}))

	_, err := h.run(schema.NodeConditionLogic, map[string]any{"operator": "XOR"}, vars)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestTimeCondition(t *testing.T) {
	h := newHarness(t)

	// fixedNow is Friday 2025-03-14 15:09 UTC.
	assert.Equal(t, engine.HandleTrue, h.mustRun(schema.NodeConditionTime, map[string]any{"timeType": "hour", "operator": ">=", "value": 9}, nil).Handle)
	assert.Equal(t, engine.HandleTrue, h.mustRun(schema.NodeConditionTime, map[string]any{"timeType": "weekday", "operator": "==", "value": "5"}, nil).Handle)
	assert.Equal(t, engine.HandleFalse, h.mustRun(schema.NodeConditionTime, map[string]any{"timeType": "month", "operator": ">", "value": 3}, nil).Handle)
	assert.Equal(t, engine.HandleTrue, h.mustRun(schema.NodeConditionTime, map[string]any{"timeType": "hour", "operator": "==", "value": 18, "timezone": "Europe/Moscow"}, nil).Handle)

	_, err := h.run(schema.NodeConditionTime, map[string]any{"timeType": "century"}, nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestRandomCondition(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, engine.HandleTrue, h.mustRun(schema.NodeConditionRandom, map[string]any{"probability": 1}, nil).Handle)
	assert.Equal(t, engine.HandleFalse, h.mustRun(schema.NodeConditionRandom, map[string]any{"probability": 0}, nil).Handle)

	first := h.mustRun(schema.NodeConditionRandom, map[string]any{"probability": 0.5, "seed": 42}, nil).Handle
	for range 5 {
		assert.Equal(t, first, h.mustRun(schema.NodeConditionRandom, map[string]any{"probability": 0.5, "seed": 42}, nil).Handle)
	}

	_, err := h.run(schema.NodeConditionRandom, map[string]any{"probability": 2}, nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestSeededRoll(t *testing.T) {
	r := seededRoll(42)
	assert.GreaterOrEqual(t, r, 0.0)
	assert.Less(t, r, 1.0)
	assert.Equal(t, r, seededRoll(42))
}

func TestSwitchCondition(t *testing.T) {
	h := newHarness(t)
	data := map[string]any{
		"variable": "plan",
		"cases": []any{
			map[string]any{"value": "free", "output": "case-free"},
			map[string]any{"value": "pro", "output": "case-pro"},
			map[string]any{"value": "team"},
		},
		"defaultCase": "other",
	}

	assert.Equal(t, "case-pro", h.mustRun(schema.NodeConditionSwitch, data, map[string]any{"plan": "pro"}).Handle)
	assert.Equal(t, "case-2", h.mustRun(schema.NodeConditionSwitch, data, map[string]any{"plan": "team"}).Handle)
	assert.Equal(t, "other", h.mustRun(schema.NodeConditionSwitch, data, map[string]any{"plan": "gold"}).Handle)

	delete(data, "defaultCase")
	out := h.mustRun(schema.NodeConditionSwitch, data, map[string]any{"plan": "gold"})
	assert.True(t, out.Halt)
}

func TestExistsCondition(t *testing.T) {
	h := newHarness(t)
	vars := map[string]any{"name": "Ann", "blank": "", "list": []any{}, "profile": map[string]any{"age": 3.0}}

	tests := []struct {
		variable, check string
		want            bool
	}{
		{"name", "exists", true},
		{"missing", "exists", false},
		{"missing", "notExists", true},
		{"blank", "empty", true},
		{"list", "empty", true},
		{"name", "notEmpty", true},
		{"profile.age", "exists", true},
	}
	for _, tt := range tests {
		t.Run(tt.variable+"/"+tt.check, func(t *testing.T) {
			out := h.mustRun(schema.NodeConditionExists, map[string]any{"variable": tt.variable, "checkType": tt.check}, vars)
			assert.Equal(t, tt.want, out.Handle == engine.HandleTrue)
		})
	}
}

func TestTypeCondition(t *testing.T) {
	h := newHarness(t)
	vars := map[string]any{"s": "x", "n": 1.0, "b": false, "a": []any{}, "o": map[string]any{}}

	for name, typ := range map[string]string{"s": "string", "n": "number", "b": "boolean", "a": "array", "o": "object"} {
		out := h.mustRun(schema.NodeConditionType, map[string]any{"variable": name, "expectedType": typ}, vars)
		assert.Equal(t, engine.HandleTrue, out.Handle, name)
	}
	out := h.mustRun(schema.NodeConditionType, map[string]any{"variable": "s", "expectedType": "number"}, vars)
	assert.Equal(t, engine.HandleFalse, out.Handle)
}
