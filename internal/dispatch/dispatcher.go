// Package dispatch connects inbound messenger events to the engine: it
// owns the registered bot schemas, loads and saves sessions around each
// run and turns engine results into bot responses.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fusserg007/botconstructor/internal/adapter"
	"github.com/fusserg007/botconstructor/internal/engine"
	"github.com/fusserg007/botconstructor/internal/expressions"
	"github.com/fusserg007/botconstructor/internal/logging"
	"github.com/fusserg007/botconstructor/internal/recovery"
	"github.com/fusserg007/botconstructor/internal/session"
	"github.com/fusserg007/botconstructor/internal/streaming"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// DefaultActiveWindow is how recent a session's activity must be to count
// as active in Stats.
const DefaultActiveWindow = 5 * time.Minute

// Validator checks a schema before it is registered.
type Validator interface {
	Validate(s *schema.BotSchema) *schema.ValidationResult
}

// BotInfo describes a registered bot.
type BotInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Version      string    `json:"version,omitempty"`
	Nodes        int       `json:"nodes"`
	Edges        int       `json:"edges"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Stats is the runtime overview.
type Stats struct {
	ActiveBots         int              `json:"activeBots"`
	TotalSessions      int              `json:"totalSessions"`
	ActiveSessions     int              `json:"activeSessions"`
	WaitingSessions    int              `json:"waitingSessions"`
	SessionsByPlatform map[string]int   `json:"sessionsByPlatform"`
	TotalErrors        int64            `json:"totalErrors"`
	ErrorsByType       map[string]int64 `json:"errorsByType"`
	ActiveExecutions   int64            `json:"activeExecutions"`
	Pool               PoolMetrics      `json:"pool"`
}

type registeredBot struct {
	schema *schema.BotSchema
	at     time.Time
}

// Dispatcher routes inbound events to bot schemas. It is safe for
// concurrent use; events for the same session are processed one at a time.
type Dispatcher struct {
	engine    *engine.Engine
	sessions  *session.Store
	validator Validator
	hub       streaming.EventHub
	pool      *Pool
	logger    *slog.Logger
	now       func() time.Time
	window    time.Duration

	mu   sync.RWMutex
	bots map[string]registeredBot

	locks *keyLocks
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithValidator checks schemas on registration.
func WithValidator(v Validator) Option {
	return func(d *Dispatcher) { d.validator = v }
}

// WithHub publishes dispatch-level events.
func WithHub(h streaming.EventHub) Option {
	return func(d *Dispatcher) { d.hub = h }
}

// WithPool sets the pool used by Enqueue.
func WithPool(p *Pool) Option {
	return func(d *Dispatcher) { d.pool = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides time.Now.
func WithClock(fn func() time.Time) Option {
	return func(d *Dispatcher) { d.now = fn }
}

// WithActiveWindow sets the Stats activity window.
func WithActiveWindow(w time.Duration) Option {
	return func(d *Dispatcher) { d.window = w }
}

// New builds a Dispatcher over an engine and a session store.
func New(eng *engine.Engine, sessions *session.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		engine:   eng,
		sessions: sessions,
		logger:   logging.Discard(),
		now:      time.Now,
		window:   DefaultActiveWindow,
		bots:     make(map[string]registeredBot),
		locks:    newKeyLocks(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.pool == nil {
		d.pool = NewPool(8)
	}
	return d
}

// Engine returns the engine runs are executed on.
func (d *Dispatcher) Engine() *engine.Engine { return d.engine }

// Sessions returns the session store.
func (d *Dispatcher) Sessions() *session.Store { return d.sessions }

// RegisterBotSchema validates s and makes it answer events for botID,
// replacing any previous schema. Validation errors refuse registration;
// warnings are logged.
func (d *Dispatcher) RegisterBotSchema(botID string, s *schema.BotSchema) error {
	if botID == "" {
		return schema.NewError(schema.ErrCodeValidation, "bot id is required")
	}
	if s == nil {
		return schema.NewError(schema.ErrCodeValidation, "schema is required")
	}
	if d.validator != nil {
		res := d.validator.Validate(s)
		if err := res.ToError(); err != nil {
			return err
		}
		for _, w := range res.Warnings {
			d.logger.Warn("schema warning", "bot_id", botID, "issue", w.String())
		}
	}
	if s.ID == "" {
		s.ID = botID
	}

	d.mu.Lock()
	d.bots[botID] = registeredBot{schema: s, at: d.now()}
	d.mu.Unlock()

	d.logger.Info("bot registered", "bot_id", botID, "name", s.Name, "nodes", len(s.Nodes))
	return nil
}

// UnregisterBotSchema removes a bot. Reports whether it was registered.
func (d *Dispatcher) UnregisterBotSchema(botID string) bool {
	d.mu.Lock()
	_, ok := d.bots[botID]
	delete(d.bots, botID)
	d.mu.Unlock()
	if ok {
		d.logger.Info("bot unregistered", "bot_id", botID)
	}
	return ok
}

// Schema returns the schema registered for botID.
func (d *Dispatcher) Schema(botID string) (*schema.BotSchema, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.bots[botID]
	return b.schema, ok
}

// Bots lists registered bots by id.
func (d *Dispatcher) Bots() []BotInfo {
	d.mu.RLock()
	out := make([]BotInfo, 0, len(d.bots))
	for id, b := range d.bots {
		out = append(out, BotInfo{
			ID:           id,
			Name:         b.schema.Name,
			Version:      b.schema.Version,
			Nodes:        len(b.schema.Nodes),
			Edges:        len(b.schema.Edges),
			RegisteredAt: b.at,
		})
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ProcessMessage handles one inbound event for botID. It always returns a
// response; processing failures become a single fallback message.
func (d *Dispatcher) ProcessMessage(ctx context.Context, botID string, msg schema.BotMessage, m adapter.Messenger) *schema.BotResponse {
	return d.process(ctx, botID, msg, m, nil)
}

// RunTrigger starts botID at trigger node nodeID, the way schedules and
// webhooks enter a schema. payload is exposed to the run as {{payload}}.
func (d *Dispatcher) RunTrigger(ctx context.Context, botID, nodeID string, msg schema.BotMessage, payload map[string]any, m adapter.Messenger) *schema.BotResponse {
	s, ok := d.Schema(botID)
	if !ok {
		return notRegistered(botID)
	}
	n, ok := s.NodeByID(nodeID)
	if !ok || !schema.IsTriggerType(n.Type) {
		return &schema.BotResponse{
			Success:   false,
			Responses: []schema.ResponseItem{},
			Errors:    []string{fmt.Sprintf("node %q is not a trigger of bot %q", nodeID, botID)},
			UserState: map[string]any{},
		}
	}
	return d.process(ctx, botID, msg, m, &engine.TriggerData{
		Type:    schema.TriggerKindOf(n.Type),
		NodeID:  nodeID,
		Text:    msg.Text,
		Payload: payload,
	})
}

// Enqueue processes msg on the dispatch pool and hands the response to
// done, which may be nil.
func (d *Dispatcher) Enqueue(ctx context.Context, botID string, msg schema.BotMessage, m adapter.Messenger, done func(*schema.BotResponse)) error {
	return d.pool.Submit(ctx, func(ctx context.Context) error {
		resp := d.ProcessMessage(ctx, botID, msg, m)
		if done != nil {
			done(resp)
		}
		if !resp.Success {
			return fmt.Errorf("bot %s: %s", botID, strings.Join(resp.Errors, "; "))
		}
		return nil
	})
}

// Shutdown waits for queued events.
func (d *Dispatcher) Shutdown() {
	d.pool.Shutdown()
}

func notRegistered(botID string) *schema.BotResponse {
	return &schema.BotResponse{
		Success:   false,
		Responses: []schema.ResponseItem{},
		Errors:    []string{fmt.Sprintf("bot %q is not registered", botID)},
		UserState: map[string]any{},
	}
}

func (d *Dispatcher) process(ctx context.Context, botID string, msg schema.BotMessage, m adapter.Messenger, trigger *engine.TriggerData) (resp *schema.BotResponse) {
	ctx = logging.WithBotID(ctx, botID)
	ctx = logging.WithUserID(ctx, msg.UserID)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("processing message: panic: %v", r)
			d.logger.ErrorContext(ctx, "dispatch panic", "error", err)
			resp = d.fail(ctx, msg, m, err)
		}
	}()

	s, ok := d.Schema(botID)
	if !ok {
		return notRegistered(botID)
	}
	if msg.Platform == "" {
		msg.Platform = adapter.PlatformOf(m, "unknown")
	}

	key := session.Key(msg.Platform, msg.UserID, msg.ChatID)
	unlock, err := d.locks.lock(ctx, key)
	if err != nil {
		return d.fail(ctx, msg, m, fmt.Errorf("waiting for session %s: %w", key, err))
	}
	defer unlock()

	sess := d.sessions.GetSession(ctx, msg.Platform, msg.UserID, msg.ChatID)
	ec := d.engine.CreateExecutionContext(msg.UserID, msg.ChatID, msg.Platform, seedVariables(s.DefaultVariables(), sess.Variables, msg, trigger))
	ec.MessageID = msg.MessageID
	ec.SchemaID = s.ID
	ec.UserState = expressions.DeepCopyMap(sess.State)
	if ec.UserState == nil {
		ec.UserState = make(map[string]any)
	}

	d.sessions.SetActiveExecution(key, ec.ExecutionID)
	defer d.sessions.SetActiveExecution(key, "")

	var res *engine.ExecutionResult
	if trigger == nil && sess.WaitingForInput && msg.Text != "" && !resumable(s, sess.NextNodes) {
		// Sessions are keyed per user and chat, not per bot.
		d.logger.DebugContext(ctx, "pending input belongs to another schema; starting over", "next_nodes", sess.NextNodes)
	} else if trigger == nil && sess.WaitingForInput && msg.Text != "" {
		if next, processed := d.sessions.ProcessInput(ctx, key, msg.Text); processed {
			ec.Variables[sess.InputVariable] = msg.Text
			d.publish(ctx, schema.EventInputReceived, ec, map[string]any{
				"variable":   sess.InputVariable,
				"next_nodes": next,
			})
			res = d.resume(ctx, s, ec, next, m)
		}
	}
	if res == nil {
		td := classify(msg)
		if trigger != nil {
			td = *trigger
		}
		res = d.engine.ExecuteSchema(ctx, s, td.Type, td, ec, m)
	}

	d.save(ctx, key, sess, res)

	return &schema.BotResponse{
		Success:   res.Success,
		Responses: responseItems(res.Actions),
		Errors:    res.Errors,
		UserState: res.UserState,
	}
}

// resumable reports whether every continuation node exists in s.
func resumable(s *schema.BotSchema, next []string) bool {
	for _, id := range next {
		if _, ok := s.NodeByID(id); !ok {
			return false
		}
	}
	return len(next) > 0
}

// resume runs each continuation node in order on one context, so later
// nodes see what earlier ones set. If a continuation pauses again, the
// nodes not yet run are kept for after the next answer.
func (d *Dispatcher) resume(ctx context.Context, s *schema.BotSchema, ec *engine.ExecutionContext, next []string, m adapter.Messenger) *engine.ExecutionResult {
	acc := &engine.ExecutionResult{
		ExecutionID: ec.ExecutionID,
		Status:      schema.RunStatusCompleted,
		Success:     true,
		Actions:     []schema.Action{},
	}
	for i, nodeID := range next {
		r := d.engine.ExecuteNode(ctx, nodeID, s, ec, m)
		acc.Actions = append(acc.Actions, r.Actions...)
		acc.Errors = append(acc.Errors, r.Errors...)
		acc.Logs = append(acc.Logs, r.Logs...)
		acc.Hops += r.Hops
		acc.Success = acc.Success && r.Success
		acc.Variables = r.Variables
		acc.UserState = r.UserState
		if r.Status != schema.RunStatusCompleted && acc.Status != schema.RunStatusFailed {
			acc.Status = r.Status
		}
		if r.WaitingForInput {
			acc.WaitingForInput = true
			acc.InputVariable = r.InputVariable
			acc.NextNodes = append(slices.Clone(r.NextNodes), next[i+1:]...)
			break
		}
		if r.Status == schema.RunStatusStopped {
			break
		}
	}
	if acc.Variables == nil {
		acc.Variables = expressions.DeepCopyMap(ec.Variables)
		acc.UserState = expressions.DeepCopyMap(ec.UserState)
	}
	return acc
}

// save folds the run's variables and state into the session and records
// a new pause when the run asked for input.
func (d *Dispatcher) save(ctx context.Context, key string, sess *session.UserSession, res *engine.ExecutionResult) {
	if sess.Variables == nil {
		sess.Variables = make(map[string]any)
	}
	if sess.State == nil {
		sess.State = make(map[string]any)
	}
	maps.Copy(sess.Variables, res.Variables)
	maps.Copy(sess.State, res.UserState)
	sess.WaitingForInput = false
	sess.InputVariable = ""
	sess.NextNodes = nil
	d.sessions.UpdateSession(ctx, sess)

	if !res.WaitingForInput {
		return
	}
	if len(res.NextNodes) == 0 {
		d.logger.DebugContext(ctx, "input requested at a terminal node; not waiting", "variable", res.InputVariable)
		return
	}
	if err := d.sessions.SetWaitingForInput(ctx, key, res.InputVariable, res.NextNodes); err != nil {
		d.logger.WarnContext(ctx, "could not record input request", "error", err)
	}
}

// fail delivers the dispatch fallback best-effort and builds its response.
func (d *Dispatcher) fail(ctx context.Context, msg schema.BotMessage, m adapter.Messenger, err error) *schema.BotResponse {
	if m != nil && msg.ChatID != "" {
		if serr := safeSend(ctx, m, msg.ChatID, recovery.DispatchFallbackText); serr != nil {
			d.logger.WarnContext(ctx, "dispatch fallback not delivered", "error", serr)
		}
	}
	return fallbackResponse(msg.ChatID, err)
}

func safeSend(ctx context.Context, m adapter.Messenger, chatID, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("messenger panicked: %v", r)
		}
	}()
	return m.SendMessage(ctx, chatID, text, nil)
}

// classify picks the trigger kind for an event: command, then callback,
// then plain message.
func classify(msg schema.BotMessage) engine.TriggerData {
	switch {
	case msg.Command != "":
		return engine.TriggerData{Type: schema.TriggerCommand, Command: msg.Command, Text: msg.Text}
	case msg.CallbackData != "":
		return engine.TriggerData{Type: schema.TriggerCallback, CallbackData: msg.CallbackData, Text: msg.Text}
	case strings.HasPrefix(strings.TrimSpace(msg.Text), "/"):
		return engine.TriggerData{Type: schema.TriggerCommand, Command: strings.TrimSpace(msg.Text), Text: msg.Text}
	default:
		return engine.TriggerData{Type: schema.TriggerMessage, Text: msg.Text}
	}
}

// seedVariables builds a run's starting variables: schema defaults, then
// the session's, then the event's own fields, which always reflect the
// current message.
func seedVariables(defaults, sessionVars map[string]any, msg schema.BotMessage, trigger *engine.TriggerData) map[string]any {
	vars := expressions.DeepCopyMap(defaults)
	if vars == nil {
		vars = make(map[string]any)
	}
	maps.Copy(vars, expressions.DeepCopyMap(sessionVars))
	vars["messageText"] = msg.Text
	if msg.MessageID != "" {
		vars["messageId"] = msg.MessageID
	}
	if msg.CallbackData != "" {
		vars["callbackData"] = msg.CallbackData
	}
	for k, v := range map[string]string{
		"userName":  msg.UserName,
		"firstName": msg.FirstName,
		"lastName":  msg.LastName,
	} {
		if v != "" {
			vars[k] = v
		}
	}
	if trigger != nil && trigger.Payload != nil {
		vars["payload"] = expressions.DeepCopyMap(trigger.Payload)
	}
	return vars
}

// StopUserExecution stops the run currently serving the session, if any.
func (d *Dispatcher) StopUserExecution(platform, userID, chatID string) bool {
	id := d.sessions.ActiveExecution(session.Key(platform, userID, chatID))
	if id == "" {
		return false
	}
	return d.engine.StopExecution(id)
}

// ClearUserState drops the session.
func (d *Dispatcher) ClearUserState(ctx context.Context, platform, userID, chatID string) bool {
	return d.sessions.ClearSession(ctx, platform, userID, chatID)
}

// Stats summarises bots, sessions, errors and in-flight work.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	bots := len(d.bots)
	d.mu.RUnlock()

	ss := d.sessions.Stats(d.window)
	es := d.engine.Errors().Stats()
	return Stats{
		ActiveBots:         bots,
		TotalSessions:      ss.Total,
		ActiveSessions:     ss.Active,
		WaitingSessions:    ss.Waiting,
		SessionsByPlatform: ss.ByPlatform,
		TotalErrors:        es.Total,
		ErrorsByType:       es.ByKind,
		ActiveExecutions:   d.engine.Active(),
		Pool:               d.pool.Metrics(),
	}
}

func (d *Dispatcher) publish(ctx context.Context, typ string, ec *engine.ExecutionContext, data map[string]any) {
	if d.hub == nil {
		return
	}
	err := d.hub.Publish(ctx, streaming.ExecutionEvent{
		Type:        typ,
		ExecutionID: ec.ExecutionID,
		BotID:       ec.SchemaID,
		UserID:      ec.UserID,
		ChatID:      ec.ChatID,
		Platform:    ec.Platform,
		Data:        data,
		Timestamp:   d.now(),
	})
	if err != nil {
		d.logger.DebugContext(ctx, "publish failed", "event", typ, "error", err)
	}
}
