package expressions

import "context"

// Engine evaluates expressions inside node configuration.
// Three implementations: CEL (logic conditions), Expr (math, filters and
// condition lists), GoJQ (JSON queries).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Set bundles the engines a node handler may need.
type Set struct {
	CEL  *CELEngine
	Expr *ExprEngine
	JQ   *GoJQEngine
}

// NewSet builds all three engines.
func NewSet() (*Set, error) {
	c, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Set{CEL: c, Expr: NewExprEngine(), JQ: NewGoJQEngine()}, nil
}
