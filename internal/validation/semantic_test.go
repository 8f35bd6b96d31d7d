package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusserg007/botconstructor/pkg/schema"
)

func TestSemantic_Clean(t *testing.T) {
	result := checkSemantic(greeter(), nil)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestSemantic_DuplicateNodeID(t *testing.T) {
	s := greeter()
	s.Nodes = append(s.Nodes, node("yes", schema.NodeLog, nil))
	result := checkSemantic(s, nil)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, "nodes[4].id", result.Errors[0].Path)
	assert.Contains(t, result.Errors[0].Message, "nodes[2]")
}

func TestSemantic_DanglingEdges(t *testing.T) {
	s := greeter()
	s.Edges = append(s.Edges, edge("ghost", "yes", ""), edge("yes", "void", ""))
	result := checkSemantic(s, nil)

	require.Len(t, result.Errors, 2)
	assert.Equal(t, "edges[3].source", result.Errors[0].Path)
	assert.Equal(t, "edges[4].target", result.Errors[1].Path)
	assert.Equal(t, schema.ErrCodeBadReference, result.Errors[0].Code)
}

func TestSemantic_DuplicateEdgeWarns(t *testing.T) {
	s := greeter()
	s.Edges = append(s.Edges, edge("check", "yes", "true"))
	result := checkSemantic(s, nil)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "duplicate edge")
}

func TestSemantic_UnknownNodeType(t *testing.T) {
	known := typeSet{
		schema.NodeTriggerCommand: true,
		schema.NodeConditionText:  true,
		schema.NodeSendMessage:    true,
	}
	s := greeter()
	s.Nodes = append(s.Nodes, node("x", "action-teleport", nil))
	result := checkSemantic(s, known)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeUnknownNodeType, result.Errors[0].Code)
	assert.Equal(t, "x", result.Errors[0].NodeID)
}

func TestSemantic_NodeSettings(t *testing.T) {
	for _, tc := range []struct {
		name    string
		node    schema.Node
		wantErr bool
	}{
		{"command without command", node("n", schema.NodeTriggerCommand, nil), false},
		{"bad message pattern", node("n", schema.NodeTriggerMessage, map[string]any{"pattern": "(["}), true},
		{"bad pattern in list", node("n", schema.NodeTriggerMessage, map[string]any{"patterns": []any{"ok", "(["}}), true},
		{"schedule without cron", node("n", schema.NodeTriggerSchedule, nil), true},
		{"schedule with bad cron", node("n", schema.NodeTriggerSchedule, map[string]any{"cron": "every day"}), true},
		{"terminal input request", node("n", schema.NodeRequestInput, nil), false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := &schema.BotSchema{Nodes: []schema.Node{tc.node}}
			result := checkSemantic(s, nil)
			if tc.wantErr {
				assert.False(t, result.Valid(), result.Summary())
			} else {
				assert.True(t, result.Valid(), result.Summary())
				assert.Len(t, result.Warnings, 1)
			}
		})
	}
}

func TestSemantic_GoodCron(t *testing.T) {
	s := &schema.BotSchema{Nodes: []schema.Node{
		node("n", schema.NodeTriggerSchedule, map[string]any{"cron": "0 9 * * 1-5"}),
	}}
	result := checkSemantic(s, nil)
	assert.True(t, result.Valid(), result.Summary())
	assert.Empty(t, result.Warnings)
}

func TestSemantic_ConditionHandleNeverTaken(t *testing.T) {
	s := greeter()
	s.Edges = append(s.Edges, edge("check", "yes", "maybe"))
	result := checkSemantic(s, nil)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "check", result.Warnings[0].NodeID)
}

func TestSemantic_Switch(t *testing.T) {
	s := &schema.BotSchema{
		Nodes: []schema.Node{
			node("sw", schema.NodeConditionSwitch, map[string]any{
				"variable": "plan",
				"cases": []any{
					map[string]any{"value": "free", "output": "free"},
					map[string]any{"value": "pro"},
					"oops",
				},
			}),
			node("a", schema.NodeLog, nil),
			node("b", schema.NodeLog, nil),
		},
		Edges: []schema.Edge{
			edge("sw", "a", "free"),
			edge("sw", "b", "premium"),
		},
	}
	result := checkSemantic(s, nil)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, "nodes[0].data.cases[2]", result.Errors[0].Path)

	summary := result.Summary()
	assert.Contains(t, summary, `switch case "case-1" has no outgoing edge`)
	assert.Contains(t, summary, `handle "premium" that no case selects`)
	assert.NotContains(t, summary, `"free" has no outgoing edge`)
}
