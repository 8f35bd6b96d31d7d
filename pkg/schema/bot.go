package schema

import (
	"encoding/json"
	"sync"
)

// BotSchema is the node/edge graph a user designs in the editor. It is
// treated as immutable while executions are running against it.
type BotSchema struct {
	ID        string              `json:"id"`
	Name      string              `json:"name,omitempty"`
	Version   string              `json:"version,omitempty"`
	Nodes     []Node              `json:"nodes"`
	Edges     []Edge              `json:"edges"`
	Variables map[string]Variable `json:"variables,omitempty"`
	Settings  map[string]any      `json:"settings,omitempty"`

	indexOnce sync.Once
	nodes     map[string]*Node
	outgoing  map[string][]Edge
}

// Node is a typed unit of behavior with a free-form configuration bag.
type Node struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Data     map[string]any `json:"data,omitempty"`
	Position *Position      `json:"position,omitempty"`
}

// Position is the editor canvas location; the runtime ignores it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge connects two nodes. SourceHandle discriminates branches
// ("true", "false", "output-2", ...).
type Edge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Variable is a declared schema variable with its default value.
type Variable struct {
	Name         string `json:"name,omitempty"`
	Type         string `json:"type,omitempty"`
	DefaultValue any    `json:"defaultValue,omitempty"`
	Description  string `json:"description,omitempty"`
}

// ParseBotSchema decodes a schema document.
func ParseBotSchema(data []byte) (*BotSchema, error) {
	var s BotSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, NewError(ErrCodeValidation, "invalid bot schema JSON").WithCause(err)
	}
	return &s, nil
}

func (s *BotSchema) index() {
	s.indexOnce.Do(func() {
		s.nodes = make(map[string]*Node, len(s.Nodes))
		for i := range s.Nodes {
			s.nodes[s.Nodes[i].ID] = &s.Nodes[i]
		}
		s.outgoing = make(map[string][]Edge, len(s.Nodes))
		for _, e := range s.Edges {
			s.outgoing[e.Source] = append(s.outgoing[e.Source], e)
		}
	})
}

// NodeByID returns the node with the given id.
func (s *BotSchema) NodeByID(id string) (*Node, bool) {
	s.index()
	n, ok := s.nodes[id]
	return n, ok
}

// OutgoingEdges returns the edges leaving nodeID in schema order.
func (s *BotSchema) OutgoingEdges(nodeID string) []Edge {
	s.index()
	return s.outgoing[nodeID]
}

// Triggers returns the trigger nodes in schema order.
func (s *BotSchema) Triggers() []*Node {
	s.index()
	var out []*Node
	for i := range s.Nodes {
		if IsTriggerType(s.Nodes[i].Type) {
			out = append(out, &s.Nodes[i])
		}
	}
	return out
}

// DefaultVariables returns the declared variable defaults.
func (s *BotSchema) DefaultVariables() map[string]any {
	out := make(map[string]any, len(s.Variables))
	for name, v := range s.Variables {
		if v.DefaultValue != nil {
			out[name] = v.DefaultValue
		}
	}
	return out
}
