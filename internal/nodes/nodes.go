// Package nodes implements the handler for every node type a bot schema
// may contain.
package nodes

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/fusserg007/botconstructor/internal/engine"
	"github.com/fusserg007/botconstructor/internal/logging"
	"github.com/fusserg007/botconstructor/internal/recovery"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// DefaultMaxDelay caps action-delay nodes.
const DefaultMaxDelay = 5 * time.Minute

// Deps are the services handlers need beyond their node data.
type Deps struct {
	HTTP     *http.Client
	Records  RecordSink
	Logger   *slog.Logger
	MaxDelay time.Duration
	// Sleep waits for delay nodes; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand is the source for random nodes without a seed.
	Rand *rand.Rand
	// MaxResponseBody limits HTTP response bodies read by integrations.
	MaxResponseBody int64

	rng *syncRand
}

// syncRand serializes access to a rand.Rand shared by concurrent runs.
type syncRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (s *syncRand) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

func (s *syncRand) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.IntN(n)
}

func (d *Deps) defaults() {
	if d.HTTP == nil {
		d.HTTP = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if d.Records == nil {
		d.Records = &MemorySink{}
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.MaxDelay <= 0 {
		d.MaxDelay = DefaultMaxDelay
	}
	if d.Sleep == nil {
		d.Sleep = recovery.WaitForBackoff
	}
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	if d.MaxResponseBody <= 0 {
		d.MaxResponseBody = defaultMaxResponseBody
	}
	if d.rng == nil {
		d.rng = &syncRand{r: d.Rand}
	}
}

// Handlers returns a handler for every built-in node type.
func Handlers(deps Deps) []engine.Handler {
	deps.defaults()
	all := make([]engine.Handler, 0, 48)
	all = append(all, TriggerHandlers()...)
	all = append(all, ActionHandlers(deps)...)
	all = append(all, ConditionHandlers(deps)...)
	all = append(all, DataHandlers(deps)...)
	all = append(all, IntegrationHandlers(deps)...)
	all = append(all, ScenarioHandlers()...)
	return all
}

// Register installs every built-in handler and the legacy aliases.
func Register(reg *engine.Registry, deps Deps) error {
	for _, h := range Handlers(deps) {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return reg.RegisterAlias(schema.NodeUtilityMath, schema.NodeDataMath)
}

// NewRegistry returns a registry with every built-in handler.
func NewRegistry(deps Deps) (*engine.Registry, error) {
	reg := engine.NewRegistry()
	if err := Register(reg, deps); err != nil {
		return nil, err
	}
	return reg, nil
}

func passThrough(typ string) engine.Handler {
	return engine.HandlerOf(typ, func(context.Context, *schema.Node, *engine.ExecutionContext, *engine.Env) (*engine.Outcome, error) {
		return engine.Next(), nil
	})
}

// TriggerHandlers are entry points; matching happens in the engine, so
// executing one just moves on.
func TriggerHandlers() []engine.Handler {
	types := []string{
		schema.NodeTriggerCommand, schema.NodeTriggerMessage, schema.NodeTriggerCallback,
		schema.NodeTriggerSchedule, schema.NodeTriggerEvent, schema.NodeTriggerCondition,
		schema.NodeTriggerWebhook,
	}
	out := make([]engine.Handler, len(types))
	for i, t := range types {
		out[i] = passThrough(t)
	}
	return out
}

// ScenarioHandlers are containers produced by template scenarios; their
// content lives in the nodes they connect to.
func ScenarioHandlers() []engine.Handler {
	return []engine.Handler{
		passThrough(schema.NodeScenarioFAQ),
		passThrough(schema.NodeScenarioQuiz),
		passThrough(schema.NodeScenarioSupport),
	}
}
