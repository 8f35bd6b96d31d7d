package recovery

import (
	"sort"
	"sync"
	"time"

	"github.com/fusserg007/botconstructor/pkg/schema"
)

// BreakerState is the state of one circuit.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes every circuit in a registry.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// Cooldown is how long an open circuit rejects before probing.
	Cooldown time.Duration
	// HalfOpenMax probe requests are let through while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the default thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type circuit struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	lastFailure      time.Time
	halfOpenAttempts int
}

// BreakerStats describes one circuit.
type BreakerStats struct {
	Key                 string `json:"key"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// BreakerRegistry keeps one circuit per key; the runtime keys by platform
// so a failing messenger does not slow the others down.
type BreakerRegistry struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	config   BreakerConfig
	now      func() time.Time
}

// NewBreakerRegistry creates a registry with cfg.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &BreakerRegistry{
		circuits: make(map[string]*circuit),
		config:   cfg,
		now:      time.Now,
	}
}

// Allow returns nil when a call for key may proceed, or a CIRCUIT_OPEN
// error.
func (r *BreakerRegistry) Allow(key string) error {
	c := r.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case BreakerOpen:
		if r.now().Sub(c.lastFailure) >= r.config.Cooldown {
			c.state = BreakerHalfOpen
			c.halfOpenAttempts = 1
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit open for %q after %d consecutive failures", key, c.failures).
			WithDetails(map[string]any{
				"key":                key,
				"cooldown_remaining": (r.config.Cooldown - r.now().Sub(c.lastFailure)).String(),
			})
	case BreakerHalfOpen:
		if c.halfOpenAttempts >= r.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit half-open for %q: probe already in flight", key)
		}
		c.halfOpenAttempts++
	}
	return nil
}

// Success closes the circuit for key.
func (r *BreakerRegistry) Success(key string) {
	c := r.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.halfOpenAttempts = 0
	c.state = BreakerClosed
}

// Failure counts a failure and returns the resulting state.
func (r *BreakerRegistry) Failure(key string) BreakerState {
	c := r.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	c.lastFailure = r.now()
	if c.state == BreakerHalfOpen || c.failures >= r.config.FailureThreshold {
		c.state = BreakerOpen
	}
	return c.state
}

// State returns the state of key, moving open circuits whose cooldown has
// passed to half-open.
func (r *BreakerRegistry) State(key string) BreakerState {
	c := r.get(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == BreakerOpen && r.now().Sub(c.lastFailure) >= r.config.Cooldown {
		c.state = BreakerHalfOpen
		c.halfOpenAttempts = 0
	}
	return c.state
}

// Stats lists every known circuit sorted by key.
func (r *BreakerRegistry) Stats() []BreakerStats {
	r.mu.Lock()
	keys := make([]string, 0, len(r.circuits))
	for k := range r.circuits {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)

	out := make([]BreakerStats, 0, len(keys))
	for _, k := range keys {
		st := r.State(k)
		c := r.get(k)
		c.mu.Lock()
		out = append(out, BreakerStats{Key: k, State: st.String(), ConsecutiveFailures: c.failures})
		c.mu.Unlock()
	}
	return out
}

func (r *BreakerRegistry) get(key string) *circuit {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.circuits[key]
	if !ok {
		c = &circuit{}
		r.circuits[key] = c
	}
	return c
}
