package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fusserg007/botconstructor/internal/adapter"
	"github.com/fusserg007/botconstructor/internal/expressions"
	"github.com/fusserg007/botconstructor/internal/logging"
	"github.com/fusserg007/botconstructor/internal/recovery"
	"github.com/fusserg007/botconstructor/internal/streaming"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// DefaultMaxHops bounds node executions per run.
const DefaultMaxHops = 500

// DefaultMaxRetries is the caller-side retry bound for handlers and
// deliveries. The severity tier usually bounds lower.
const DefaultMaxRetries = 3

// Config holds engine limits.
type Config struct {
	MaxHops    int
	MaxRetries int
}

// Engine interprets bot schemas. One Engine serves every bot and user in
// the process; all run state lives in the ExecutionContext and the run.
type Engine struct {
	registry *Registry
	errors   *recovery.Handler
	hub      streaming.EventHub
	exprs    *expressions.Set
	renderer *expressions.Renderer
	logger   *slog.Logger
	now      func() time.Time
	cfg      Config

	patterns sync.Map // regexp source -> *regexp.Regexp
	runs     sync.Map // execution id -> *atomic.Bool
	active   atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets limits. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		if cfg.MaxHops > 0 {
			e.cfg.MaxHops = cfg.MaxHops
		}
		if cfg.MaxRetries > 0 {
			e.cfg.MaxRetries = cfg.MaxRetries
		}
	}
}

// WithHub publishes execution events to hub.
func WithHub(hub streaming.EventHub) Option {
	return func(e *Engine) { e.hub = hub }
}

// WithExpressions sets the expression engines handed to handlers.
func WithExpressions(s *expressions.Set) Option {
	return func(e *Engine) { e.exprs = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

// New creates an Engine over a handler registry and an error handler.
func New(reg *Registry, errs *recovery.Handler, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		errors:   errs,
		renderer: expressions.NewRenderer(),
		now:      time.Now,
		cfg:      Config{MaxHops: DefaultMaxHops, MaxRetries: DefaultMaxRetries},
	}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	if e.errors == nil {
		e.errors = recovery.NewHandler(recovery.WithLogger(e.logger))
	}
	return e
}

// Registry returns the handler registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Errors returns the error handler.
func (e *Engine) Errors() *recovery.Handler { return e.errors }

// Active returns the number of runs in progress.
func (e *Engine) Active() int64 { return e.active.Load() }

// CreateExecutionContext starts the state of a new run. seed is copied.
func (e *Engine) CreateExecutionContext(userID, chatID, platform string, seed map[string]any) *ExecutionContext {
	vars := expressions.DeepCopyMap(seed)
	if vars == nil {
		vars = make(map[string]any)
	}
	return &ExecutionContext{
		ExecutionID: NewExecutionID(),
		UserID:      userID,
		ChatID:      chatID,
		Platform:    platform,
		Variables:   vars,
		UserState:   make(map[string]any),
		StartedAt:   e.now(),
	}
}

// ExecuteSchema matches trigger against the schema's trigger nodes and runs
// the graph from the first match. A trigger matching nothing yields a
// failed result with one informational error and no actions.
func (e *Engine) ExecuteSchema(ctx context.Context, s *schema.BotSchema, triggerType string, trigger TriggerData, ec *ExecutionContext, m adapter.Messenger) *ExecutionResult {
	ec.SchemaID = s.ID
	trigger.Type = triggerType

	start := e.MatchTrigger(s, trigger)
	if start == nil {
		res := newResult(ec)
		res.Status = schema.RunStatusNoMatch
		res.Errors = []string{fmt.Sprintf("no trigger in schema %q matches %s event", s.ID, triggerType)}
		e.logger.DebugContext(ctx, "no matching trigger", "bot_id", s.ID, "trigger", triggerType)
		return res
	}
	return e.execute(ctx, s, ec, trigger, m, start.ID)
}

// ExecuteNode runs the graph starting at nodeID. Used to continue a run
// after the user answered an input request.
func (e *Engine) ExecuteNode(ctx context.Context, nodeID string, s *schema.BotSchema, ec *ExecutionContext, m adapter.Messenger) *ExecutionResult {
	ec.SchemaID = s.ID
	return e.execute(ctx, s, ec, TriggerData{NodeID: nodeID}, m, nodeID)
}

// StopExecution asks a run to stop before its next node or delivery.
// Reports whether the run was found.
func (e *Engine) StopExecution(executionID string) bool {
	v, ok := e.runs.Load(executionID)
	if !ok {
		return false
	}
	v.(*atomic.Bool).Store(true)
	return true
}

func (e *Engine) execute(ctx context.Context, s *schema.BotSchema, ec *ExecutionContext, td TriggerData, m adapter.Messenger, startID string) *ExecutionResult {
	stopped := &atomic.Bool{}
	e.runs.Store(ec.ExecutionID, stopped)
	e.active.Add(1)
	defer func() {
		e.runs.Delete(ec.ExecutionID)
		e.active.Add(-1)
	}()

	ctx = logging.WithExecutionID(logging.WithBotID(ctx, s.ID), ec.ExecutionID)
	ctx = logging.WithUserID(ctx, ec.UserID)

	r := &run{
		eng:       e,
		schema:    s,
		ec:        ec,
		trigger:   td,
		messenger: m,
		stopped:   stopped,
		res:       newResult(ec),
	}
	r.publish(ctx, schema.EventRunStarted, nil, map[string]any{"start_node": startID, "trigger": td.Type})
	r.walk(ctx, startID)
	return r.finish(ctx)
}

func newResult(ec *ExecutionContext) *ExecutionResult {
	return &ExecutionResult{
		ExecutionID: ec.ExecutionID,
		Actions:     []schema.Action{},
		Variables:   expressions.DeepCopyMap(ec.Variables),
		UserState:   expressions.DeepCopyMap(ec.UserState),
	}
}
