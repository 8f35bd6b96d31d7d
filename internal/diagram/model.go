package diagram

// NodeKind classifies a diagram node by its bot node category.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindAction    NodeKind = "action"
	NodeKindInput     NodeKind = "input"
	NodeKindCondition NodeKind = "condition"
	NodeKindData      NodeKind = "data"
	NodeKindScenario  NodeKind = "scenario"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is one schema node.
type Node struct {
	ID     string
	Type   string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the state a node reached in a recorded run.
type StatusOverlay struct {
	Status  string // pending, running, completed, failed, fallback, waiting
	Retries int
	Error   string
}

// Edge is a schema edge; Label is its source handle when it branches.
type Edge struct {
	From  string
	To    string
	Label string
}

// Node returns the node with the given ID, or nil.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
