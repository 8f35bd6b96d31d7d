package diagram

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/fusserg007/botconstructor/internal/store"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// maxLabel bounds label length in runes.
const maxLabel = 40

// labelKeys are the node settings that best describe a node, in order.
var labelKeys = []string{"label", "command", "message", "prompt", "pattern", "cron", "expression", "variable", "url"}

// Build constructs a DiagramModel from a bot schema and an optional run
// trace. Edges that point at unknown nodes are left out.
func Build(bot *schema.BotSchema, trace *store.RunTrace) (*DiagramModel, error) {
	if bot == nil {
		return nil, errors.New("diagram: nil schema")
	}

	overlay := make(map[string]*StatusOverlay)
	if trace != nil {
		for _, nt := range trace.Nodes {
			overlay[nt.NodeID] = &StatusOverlay{Status: nt.Status, Retries: nt.Retries, Error: nt.Error}
		}
	}

	model := &DiagramModel{Title: bot.Name}
	if model.Title == "" {
		model.Title = bot.ID
	}

	known := make(map[string]bool, len(bot.Nodes))
	for i := range bot.Nodes {
		n := &bot.Nodes[i]
		known[n.ID] = true
		model.Nodes = append(model.Nodes, &Node{
			ID:     n.ID,
			Type:   n.Type,
			Label:  nodeLabel(n),
			Kind:   kindOf(n.Type),
			Status: overlay[n.ID],
		})
	}

	for _, e := range bot.Edges {
		if !known[e.Source] || !known[e.Target] {
			continue
		}
		model.Edges = append(model.Edges, Edge{From: e.Source, To: e.Target, Label: edgeLabel(e.SourceHandle)})
	}

	model.Levels = buildLevels(model)
	return model, nil
}

// kindOf maps a node type to its diagram kind.
func kindOf(nodeType string) NodeKind {
	if nodeType == schema.NodeRequestInput {
		return NodeKindInput
	}
	category, _, _ := strings.Cut(nodeType, "-")
	switch category {
	case "trigger":
		return NodeKindTrigger
	case "condition":
		return NodeKindCondition
	case "data", "utility", "integration":
		return NodeKindData
	case "scenario":
		return NodeKindScenario
	default:
		return NodeKindAction
	}
}

func nodeLabel(n *schema.Node) string {
	for _, key := range labelKeys {
		if s, ok := n.Data[key].(string); ok && strings.TrimSpace(s) != "" {
			return truncate(firstLine(s))
		}
	}
	return n.Type
}

func edgeLabel(handle string) string {
	switch handle {
	case "", "output", "default":
		return ""
	}
	return handle
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxLabel {
		return s
	}
	r := []rune(s)
	return string(r[:maxLabel-1]) + "…"
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// buildLevels groups nodes by their distance from the nearest trigger.
// Nodes no trigger reaches form a final level. Order within a level
// follows the schema.
func buildLevels(model *DiagramModel) [][]string {
	out := make(map[string][]string)
	for _, e := range model.Edges {
		out[e.From] = append(out[e.From], e.To)
	}

	depth := make(map[string]int)
	var queue []string
	for _, n := range model.Nodes {
		if n.Kind == NodeKindTrigger {
			depth[n.ID] = 0
			queue = append(queue, n.ID)
		}
	}
	maxDepth := -1
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		maxDepth = max(maxDepth, depth[id])
		for _, next := range out[id] {
			if _, seen := depth[next]; !seen {
				depth[next] = depth[id] + 1
				queue = append(queue, next)
			}
		}
	}

	levels := make([][]string, maxDepth+1)
	var orphans []string
	for _, n := range model.Nodes {
		d, ok := depth[n.ID]
		if !ok {
			orphans = append(orphans, n.ID)
			continue
		}
		levels[d] = append(levels[d], n.ID)
	}
	if len(orphans) > 0 {
		levels = append(levels, orphans)
	}
	return levels
}
