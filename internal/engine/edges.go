package engine

import "github.com/fusserg007/botconstructor/pkg/schema"

func unlabelled(e schema.Edge) bool {
	return e.SourceHandle == "" || e.SourceHandle == HandleOutput
}

// selectTargets returns the targets of the edges that handle selects, in
// schema order.
//
// The default handle follows unlabelled edges. "default" also follows
// unlabelled edges. A boolean outcome on a node whose edges carry no labels
// at all follows them only when true.
func selectTargets(edges []schema.Edge, handle string) []string {
	var out []string
	switch handle {
	case "", HandleOutput:
		for _, e := range edges {
			if unlabelled(e) {
				out = append(out, e.Target)
			}
		}
	case HandleTrue, HandleFalse:
		labelled := false
		for _, e := range edges {
			if !unlabelled(e) {
				labelled = true
				break
			}
		}
		if !labelled {
			if handle == HandleTrue {
				for _, e := range edges {
					out = append(out, e.Target)
				}
			}
			return out
		}
		for _, e := range edges {
			if e.SourceHandle == handle {
				out = append(out, e.Target)
			}
		}
	case HandleDefault:
		for _, e := range edges {
			if e.SourceHandle == HandleDefault || unlabelled(e) {
				out = append(out, e.Target)
			}
		}
	default:
		for _, e := range edges {
			if e.SourceHandle == handle {
				out = append(out, e.Target)
			}
		}
	}
	return out
}
