package validation

import (
	"fmt"
	"sort"

	"github.com/fusserg007/botconstructor/pkg/schema"
)

// checkGraph looks at the schema as a whole: it needs an entry point,
// every node should be reachable from one, and cycles are reported.
// Cycles are legal since the hop guard bounds a run, so they only warn.
func checkGraph(s *schema.BotSchema) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	next := make(map[string][]string, len(s.Nodes))
	inDegree := make(map[string]int, len(s.Nodes))
	for _, n := range s.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range s.Edges {
		next[e.Source] = append(next[e.Source], e.Target)
		inDegree[e.Target]++
	}

	roots := make([]string, 0)
	for _, n := range s.Nodes {
		if schema.IsTriggerType(n.Type) {
			roots = append(roots, n.ID)
		}
	}
	if len(roots) == 0 {
		result.AddWarning("nodes", schema.ErrCodeValidation, "schema has no trigger nodes and will never run")
	}

	// Reachability: BFS from every trigger.
	reachable := make(map[string]bool, len(s.Nodes))
	queue := append([]string(nil), roots...)
	for _, r := range roots {
		reachable[r] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, t := range next[id] {
			if !reachable[t] {
				reachable[t] = true
				queue = append(queue, t)
			}
		}
	}
	if len(roots) > 0 {
		for i, n := range s.Nodes {
			if !reachable[n.ID] {
				result.AddNodeWarning(fmt.Sprintf("nodes[%d]", i), n.ID, schema.ErrCodeValidation,
					fmt.Sprintf("node %q is unreachable from any trigger", n.ID))
			}
		}
	}

	// Kahn's algorithm: whatever is left over sits on or behind a cycle.
	queue = queue[:0]
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)
	visited := make(map[string]bool, len(s.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited[id] = true
		for _, t := range next[id] {
			inDegree[t]--
			if inDegree[t] == 0 {
				queue = append(queue, t)
			}
		}
	}
	if len(visited) != len(inDegree) {
		var cyclic []string
		for id := range inDegree {
			if !visited[id] {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		result.AddWarning("edges", schema.ErrCodeCycleDetected,
			fmt.Sprintf("graph contains a cycle; nodes on or after it: %v", cyclic))
	}

	return result
}
