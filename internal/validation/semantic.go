package validation

import (
	"fmt"
	"regexp"

	"github.com/robfig/cron/v3"

	"github.com/fusserg007/botconstructor/internal/engine"
	"github.com/fusserg007/botconstructor/internal/expressions"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// checkSemantic verifies what the JSON Schema cannot: unique node ids,
// edge endpoints, registered node types and per-type settings.
func checkSemantic(s *schema.BotSchema, types NodeTypes) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]int, len(s.Nodes))
	for i, n := range s.Nodes {
		if first, dup := ids[n.ID]; dup {
			result.AddNodeError(fmt.Sprintf("nodes[%d].id", i), n.ID, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q (first at nodes[%d])", n.ID, first))
			continue
		}
		ids[n.ID] = i
	}

	seenEdges := make(map[schema.Edge]bool, len(s.Edges))
	for i, e := range s.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if _, ok := ids[e.Source]; !ok {
			result.AddError(path+".source", schema.ErrCodeBadReference,
				fmt.Sprintf("references non-existent node %q", e.Source))
		}
		if _, ok := ids[e.Target]; !ok {
			result.AddError(path+".target", schema.ErrCodeBadReference,
				fmt.Sprintf("references non-existent node %q", e.Target))
		}
		key := schema.Edge{Source: e.Source, Target: e.Target, SourceHandle: e.SourceHandle}
		if seenEdges[key] {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate edge %s -> %s", e.Source, e.Target))
		}
		seenEdges[key] = true
	}

	for i := range s.Nodes {
		n := &s.Nodes[i]
		path := fmt.Sprintf("nodes[%d]", i)
		if types != nil && !types.Has(n.Type) {
			result.AddNodeError(path+".type", n.ID, schema.ErrCodeUnknownNodeType,
				fmt.Sprintf("no handler for node type %q", n.Type))
			continue
		}
		checkNodeSettings(n, path, outgoing(s, n.ID), result)
	}

	return result
}

func outgoing(s *schema.BotSchema, id string) []schema.Edge {
	var out []schema.Edge
	for _, e := range s.Edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// checkNodeSettings covers the node types whose settings decide whether the
// node can work at all.
func checkNodeSettings(n *schema.Node, path string, edges []schema.Edge, result *schema.ValidationResult) {
	switch n.Type {
	case schema.NodeTriggerCommand:
		if str(n.Data, "command") == "" {
			result.AddNodeWarning(path+".data.command", n.ID, schema.ErrCodeValidation,
				"command trigger has no command and will never fire")
		}

	case schema.NodeTriggerMessage:
		patterns := list(n.Data, "patterns")
		if p := str(n.Data, "pattern"); p != "" {
			patterns = append(patterns, p)
		}
		for _, p := range patterns {
			if _, err := regexp.Compile(p); err != nil {
				result.AddNodeError(path+".data.pattern", n.ID, schema.ErrCodeValidation,
					fmt.Sprintf("pattern %q does not compile: %v", p, err))
			}
		}

	case schema.NodeTriggerSchedule:
		spec := str(n.Data, "cron")
		if spec == "" {
			result.AddNodeError(path+".data.cron", n.ID, schema.ErrCodeValidation,
				"schedule trigger needs a cron expression")
		} else if _, err := cron.ParseStandard(spec); err != nil {
			result.AddNodeError(path+".data.cron", n.ID, schema.ErrCodeValidation,
				fmt.Sprintf("cron %q: %v", spec, err))
		}

	case schema.NodeRequestInput:
		if len(edges) == 0 {
			result.AddNodeWarning(path, n.ID, schema.ErrCodeValidation,
				"input is requested at a terminal node; the answer is never used")
		}

	case schema.NodeConditionSwitch:
		checkSwitch(n, path, edges, result)

	default:
		if isBranching(n.Type) {
			for i, e := range edges {
				switch e.SourceHandle {
				case "", engine.HandleOutput, engine.HandleTrue, engine.HandleFalse:
				default:
					result.AddNodeWarning(fmt.Sprintf("%s.edges[%d]", path, i), n.ID, schema.ErrCodeValidation,
						fmt.Sprintf("condition edge handle %q is never taken", e.SourceHandle))
				}
			}
		}
	}
}

func isBranching(nodeType string) bool {
	switch nodeType {
	case schema.NodeConditionText, schema.NodeConditionVariable, schema.NodeConditionLogic,
		schema.NodeConditionTime, schema.NodeConditionRandom, schema.NodeConditionExists,
		schema.NodeConditionType:
		return true
	}
	return false
}

// checkSwitch warns about cases that lead nowhere and edges no case selects.
func checkSwitch(n *schema.Node, path string, edges []schema.Edge, result *schema.ValidationResult) {
	handles := make(map[string]bool, len(edges))
	for _, e := range edges {
		handles[e.SourceHandle] = true
	}

	outputs := map[string]bool{engine.HandleDefault: true, "": true, engine.HandleOutput: true}
	cases, _ := n.Data["cases"].([]any)
	if len(cases) == 0 {
		result.AddNodeWarning(path+".data.cases", n.ID, schema.ErrCodeValidation, "switch has no cases")
	}
	for i, item := range cases {
		cs, ok := item.(map[string]any)
		if !ok {
			result.AddNodeError(fmt.Sprintf("%s.data.cases[%d]", path, i), n.ID, schema.ErrCodeValidation,
				"switch case must be an object")
			continue
		}
		out := str(cs, "output")
		if out == "" {
			out = fmt.Sprintf("case-%d", i)
		}
		outputs[out] = true
		if !handles[out] {
			result.AddNodeWarning(fmt.Sprintf("%s.data.cases[%d]", path, i), n.ID, schema.ErrCodeValidation,
				fmt.Sprintf("switch case %q has no outgoing edge", out))
		}
	}
	if def := str(n.Data, "defaultCase"); def != "" {
		outputs[def] = true
	}
	for _, e := range edges {
		if !outputs[e.SourceHandle] {
			result.AddNodeWarning(path, n.ID, schema.ErrCodeValidation,
				fmt.Sprintf("edge to %q uses handle %q that no case selects", e.Target, e.SourceHandle))
		}
	}
}

func str(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	return expressions.Stringify(v)
}

func list(data map[string]any, key string) []string {
	items, _ := data[key].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := expressions.Stringify(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
