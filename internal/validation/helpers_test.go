package validation

import (
	"github.com/fusserg007/botconstructor/pkg/schema"
)

type typeSet map[string]bool

func (s typeSet) Has(t string) bool { return s[t] }

func node(id, typ string, data map[string]any) schema.Node {
	return schema.Node{ID: id, Type: typ, Data: data}
}

func edge(src, dst, handle string) schema.Edge {
	return schema.Edge{Source: src, Target: dst, SourceHandle: handle}
}

func greeter() *schema.BotSchema {
	return &schema.BotSchema{
		ID: "greeter",
		Nodes: []schema.Node{
			node("start", schema.NodeTriggerCommand, map[string]any{"command": "/start"}),
			node("check", schema.NodeConditionText, map[string]any{"pattern": "hi"}),
			node("yes", schema.NodeSendMessage, map[string]any{"message": "hello"}),
			node("no", schema.NodeSendMessage, map[string]any{"message": "bye"}),
		},
		Edges: []schema.Edge{
			edge("start", "check", ""),
			edge("check", "yes", "true"),
			edge("check", "no", "false"),
		},
	}
}

func hasIssue(issues []schema.ValidationIssue, code, nodeID string) bool {
	for _, i := range issues {
		if i.Code == code && (nodeID == "" || i.NodeID == nodeID) {
			return true
		}
	}
	return false
}
