package recovery

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/fusserg007/botconstructor/internal/logging"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// Fallback texts sent when a failure could not be recovered.
const (
	FallbackText         = "Произошла ошибка при выполнении команды. Попробуйте позже."
	DispatchFallbackText = "Произошла ошибка при обработке вашего сообщения. Попробуйте позже."
)

// recentLimit is how many records Stats returns.
const recentLimit = 50

// ErrorContext locates a failure in a run.
type ErrorContext struct {
	ExecutionID string    `json:"execution_id,omitempty"`
	NodeID      string    `json:"node_id,omitempty"`
	NodeType    string    `json:"node_type,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	ChatID      string    `json:"chat_id,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	SchemaID    string    `json:"schema_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ErrorInfo is a classified failure. It is built fresh for every failed
// attempt.
type ErrorInfo struct {
	Err         error
	Kind        Kind
	Context     ErrorContext
	Severity    Severity
	Recoverable bool
	RetryCount  int
	MaxRetries  int
}

// Verdict is what HandleError decided about one failure.
type Verdict struct {
	Handled     bool
	Recovered   bool
	ShouldRetry bool
	// Continue means the caller should proceed as if the operation
	// succeeded with default values.
	Continue bool
	Fallback *schema.Action
	Info     *ErrorInfo
}

// Observer is notified after every handled error.
type Observer func(ctx context.Context, info *ErrorInfo, v Verdict)

// Stats is a point-in-time view of the error log and its tallies.
type Stats struct {
	Total      int64            `json:"total"`
	Retained   int              `json:"retained"`
	ByKind     map[string]int64 `json:"by_kind"`
	ByNodeType map[string]int64 `json:"by_node_type"`
	ByNode     map[string]int64 `json:"by_node"`
	ByPlatform map[string]int64 `json:"by_platform"`
	Recent     []Record         `json:"recent"`
}

// Handler classifies failures, runs recovery strategies and keeps the
// error log. One Handler is shared by every run in the process.
type Handler struct {
	log    *RingLog
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time

	mu         sync.RWMutex
	strategies map[Kind]Strategy
	observers  []Observer
	byKind     map[string]int64
	byNodeType map[string]int64
	byNode     map[string]int64
	byPlatform map[string]int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogCapacity sets the ring log capacity.
func WithLogCapacity(n int) Option {
	return func(h *Handler) { h.log = NewRingLog(n) }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithSleep replaces the backoff wait. Tests use it to record delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(h *Handler) { h.sleep = fn }
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(h *Handler) { h.now = fn }
}

// NewHandler creates a Handler with the network and validation strategies
// registered.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		sleep:      WaitForBackoff,
		now:        time.Now,
		strategies: make(map[Kind]Strategy),
		byKind:     make(map[string]int64),
		byNodeType: make(map[string]int64),
		byNode:     make(map[string]int64),
		byPlatform: make(map[string]int64),
	}
	for _, o := range opts {
		o(h)
	}
	if h.log == nil {
		h.log = NewRingLog(DefaultLogCapacity)
	}
	if h.logger == nil {
		h.logger = logging.Discard()
	}
	h.strategies[KindNetwork] = NetworkStrategy{}
	h.strategies[KindValidation] = ValidationStrategy{}
	return h
}

// RegisterStrategy installs or replaces the strategy for a kind.
func (h *Handler) RegisterStrategy(k Kind, s Strategy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.strategies[k] = s
}

// Observe adds an observer called after every handled error.
func (h *Handler) Observe(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, o)
}

// HandleError classifies err, logs it, tries the strategy registered for
// its kind and decides whether the operation should be retried.
func (h *Handler) HandleError(ctx context.Context, err error, ectx ErrorContext) Verdict {
	return h.handle(ctx, err, ectx, 0)
}

func (h *Handler) handle(ctx context.Context, err error, ectx ErrorContext, retryCount int) Verdict {
	if ectx.Timestamp.IsZero() {
		ectx.Timestamp = h.now()
	}
	kind := Classify(err)
	sev := SeverityOf(kind)
	info := &ErrorInfo{
		Err:         err,
		Kind:        kind,
		Context:     ectx,
		Severity:    sev,
		Recoverable: Recoverable(kind),
		RetryCount:  retryCount,
		MaxRetries:  MaxRetriesFor(sev),
	}

	h.record(ctx, info)

	v := Verdict{Handled: true, Info: info, Fallback: FallbackAction(ectx)}
	if info.Recoverable {
		h.mu.RLock()
		s := h.strategies[kind]
		h.mu.RUnlock()
		if s != nil && s.CanRecover(info) && s.Recover(ctx, info) {
			v.Recovered = true
			v.Continue = s.Mode() == ModeContinue
		}
	}
	v.ShouldRetry = !v.Recovered && info.RetryCount < info.MaxRetries && kind == KindNetwork

	h.mu.RLock()
	observers := h.observers
	h.mu.RUnlock()
	for _, o := range observers {
		o(ctx, info, v)
	}
	return v
}

func (h *Handler) record(ctx context.Context, info *ErrorInfo) {
	h.log.Append(Record{
		Kind:        info.Kind,
		Severity:    info.Severity,
		Code:        schema.CodeOf(info.Err),
		Message:     info.Err.Error(),
		Recoverable: info.Recoverable,
		RetryCount:  info.RetryCount,
		Context:     info.Context,
		At:          info.Context.Timestamp,
	})

	h.mu.Lock()
	h.byKind[string(info.Kind)]++
	if info.Context.NodeType != "" {
		h.byNodeType[info.Context.NodeType]++
	}
	if info.Context.NodeID != "" {
		h.byNode[info.Context.NodeID]++
	}
	if info.Context.Platform != "" {
		h.byPlatform[info.Context.Platform]++
	}
	h.mu.Unlock()

	h.logger.LogAttrs(ctx, levelFor(info.Severity), "node error",
		slog.String("kind", string(info.Kind)),
		slog.String("severity", string(info.Severity)),
		slog.String("node_type", info.Context.NodeType),
		slog.Int("retry", info.RetryCount),
		slog.String("error", info.Err.Error()),
	)
}

func levelFor(s Severity) slog.Level {
	switch s {
	case SeverityCritical, SeverityHigh:
		return slog.LevelError
	case SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Stats returns totals, tallies and the 50 most recent records.
func (h *Handler) Stats() Stats {
	h.mu.RLock()
	s := Stats{
		ByKind:     maps.Clone(h.byKind),
		ByNodeType: maps.Clone(h.byNodeType),
		ByNode:     maps.Clone(h.byNode),
		ByPlatform: maps.Clone(h.byPlatform),
	}
	h.mu.RUnlock()

	s.Total = h.log.Total()
	s.Retained = h.log.Len()
	s.Recent = h.log.Recent(recentLimit)
	return s
}

// Log exposes the ring log.
func (h *Handler) Log() *RingLog { return h.log }

// Reset clears the log and all tallies.
func (h *Handler) Reset() {
	h.log.Clear()
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.byKind)
	clear(h.byNodeType)
	clear(h.byNode)
	clear(h.byPlatform)
}

// FallbackAction is the polite message sent to the failing chat.
func FallbackAction(ectx ErrorContext) *schema.Action {
	return &schema.Action{
		Type:     schema.ActionSendMessage,
		NodeID:   ectx.NodeID,
		ChatID:   ectx.ChatID,
		Text:     FallbackText,
		Fallback: true,
	}
}
