package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/fusserg007/botconstructor/internal/expressions"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// Edge handles with a meaning to the walker.
const (
	HandleOutput  = "output"
	HandleTrue    = "true"
	HandleFalse   = "false"
	HandleDefault = "default"
)

// Handler executes one node type.
type Handler interface {
	Type() string
	Execute(ctx context.Context, node *schema.Node, ec *ExecutionContext, env *Env) (*Outcome, error)
}

// ExecFunc is the body of a handler built with HandlerOf.
type ExecFunc func(ctx context.Context, node *schema.Node, ec *ExecutionContext, env *Env) (*Outcome, error)

type funcHandler struct {
	typ string
	fn  ExecFunc
}

func (h funcHandler) Type() string { return h.typ }

func (h funcHandler) Execute(ctx context.Context, node *schema.Node, ec *ExecutionContext, env *Env) (*Outcome, error) {
	return h.fn(ctx, node, ec, env)
}

// HandlerOf adapts a function to a Handler for typ.
func HandlerOf(typ string, fn ExecFunc) Handler {
	return funcHandler{typ: typ, fn: fn}
}

// InputRequest pauses the run until the user's next message arrives.
type InputRequest struct {
	Variable  string
	InputType string
}

// Outcome is what a handler decided. The zero value continues along the
// default edges.
type Outcome struct {
	// Handle selects the outgoing edges to follow.
	Handle string
	// Actions are delivered in order after the handler returns.
	Actions []schema.Action
	// Variables and State are merged into the run.
	Variables map[string]any
	State     map[string]any
	Logs      []string
	// Wait pauses the run after the actions are delivered.
	Wait *InputRequest
	// Halt stops this branch without error.
	Halt bool
}

// Next is the default outcome.
func Next() *Outcome { return &Outcome{} }

// Branch selects the "true" or "false" edges.
func Branch(ok bool) *Outcome {
	if ok {
		return &Outcome{Handle: HandleTrue}
	}
	return &Outcome{Handle: HandleFalse}
}

// SetVar records a variable assignment and returns o.
func (o *Outcome) SetVar(name string, v any) *Outcome {
	if o.Variables == nil {
		o.Variables = make(map[string]any)
	}
	o.Variables[name] = v
	return o
}

// Emit appends an action and returns o.
func (o *Outcome) Emit(a schema.Action) *Outcome {
	o.Actions = append(o.Actions, a)
	return o
}

// Env gives a handler the services and the template scope of its run.
// Templates resolve against the variables as they are when the node runs.
type Env struct {
	Exprs   *expressions.Set
	Logger  *slog.Logger
	Trigger TriggerData
	Now     time.Time

	scope    expressions.Scope
	renderer *expressions.Renderer
}

// NewEnv builds an Env over ec. Engine code and handler tests use it.
func NewEnv(ec *ExecutionContext, exprs *expressions.Set, renderer *expressions.Renderer, logger *slog.Logger, now time.Time) *Env {
	if renderer == nil {
		renderer = expressions.NewRenderer()
	}
	return &Env{
		Exprs:  exprs,
		Logger: logger,
		Now:    now,
		scope: expressions.Scope{
			Vars: ec.Variables,
			User: ec.UserState,
			Info: ec.SystemInfo(),
			Now:  now,
		},
		renderer: renderer,
	}
}

// Scope is the template and expression scope.
func (e *Env) Scope() expressions.Scope { return e.scope }

// Render resolves {{name}} references in s.
func (e *Env) Render(s string) string { return e.renderer.Render(s, e.scope) }

// RenderValue renders every string inside v.
func (e *Env) RenderValue(v any) any { return e.renderer.RenderValue(v, e.scope) }

// Resolve looks a name up in the variables, then the system variables.
func (e *Env) Resolve(name string) (any, bool) { return e.scope.Resolve(name) }
