package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/fusserg007/botconstructor/internal/logging"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// DefaultTimeout is how long a session may stay idle before the sweeper
// evicts it.
const DefaultTimeout = 30 * time.Minute

// persistTimeout bounds a single write-through call.
const persistTimeout = 5 * time.Second

// Persister mirrors sessions outside the process. The store stays the
// source of truth; persister failures are logged, never returned to a run.
type Persister interface {
	SaveSession(ctx context.Context, s *UserSession) error
	LoadSession(ctx context.Context, key string) (*UserSession, error)
	DeleteSession(ctx context.Context, key string) error
	ListSessions(ctx context.Context) ([]*UserSession, error)
}

// Stats summarises the store.
type Stats struct {
	Total      int            `json:"total"`
	Active     int            `json:"active"`
	Waiting    int            `json:"waiting"`
	ByPlatform map[string]int `json:"byPlatform"`
}

type entry struct {
	mu sync.Mutex
	s  *UserSession
}

// Store keeps sessions in memory. Each key has its own lock; the map lock is
// only held to find or create entries.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	timeout  time.Duration

	persister Persister
	logger    *slog.Logger
	now       func() time.Time
	onExpire  func(*UserSession)
}

// Option configures a Store.
type Option func(*Store)

// WithPersister enables write-through persistence.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithTimeout sets the idle timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

// WithExpireHook is called for every session the sweeper evicts.
func WithExpireHook(fn func(*UserSession)) Option {
	return func(s *Store) { s.onExpire = fn }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		timeout:  DefaultTimeout,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}

func (st *Store) lookup(key string) (*entry, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, ok := st.sessions[key]
	return e, ok
}

// GetSession returns a copy of the session for the triple, creating it (or
// loading it from the persister) when absent, and touches LastActivity.
func (st *Store) GetSession(ctx context.Context, platform, userID, chatID string) *UserSession {
	key := Key(platform, userID, chatID)
	e, ok := st.lookup(key)
	if !ok {
		loaded := st.load(ctx, key)

		st.mu.Lock()
		e, ok = st.sessions[key]
		if !ok {
			if loaded == nil {
				loaded = newSession(platform, userID, chatID, st.now())
			} else {
				loaded = loaded.Clone()
			}
			e = &entry{s: loaded}
			st.sessions[key] = e
		}
		st.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.s.LastActivity = st.now()
	return e.s.Clone()
}

// Peek returns a copy of the session without creating or touching it.
func (st *Store) Peek(key string) (*UserSession, bool) {
	e, ok := st.lookup(key)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Clone(), true
}

// UpdateSession replaces the stored session with a copy of s and writes it
// through to the persister.
func (st *Store) UpdateSession(ctx context.Context, s *UserSession) {
	cp := s.Clone()
	cp.LastActivity = st.now()
	if cp.SessionID == "" {
		cp.SessionID = NewSessionID()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.LastActivity
	}
	key := cp.Key()

	st.mu.Lock()
	e, ok := st.sessions[key]
	if !ok {
		e = &entry{}
		st.sessions[key] = e
	}
	st.mu.Unlock()

	e.mu.Lock()
	e.s = cp
	saved := cp.Clone()
	e.mu.Unlock()

	st.persist(ctx, saved)
}

// mutate runs fn on the live session under its lock and persists the
// result. NOT_FOUND when key is unknown.
func (st *Store) mutate(ctx context.Context, key string, fn func(s *UserSession) error) error {
	e, ok := st.lookup(key)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "session %q not found", key)
	}
	e.mu.Lock()
	if err := fn(e.s); err != nil {
		e.mu.Unlock()
		return err
	}
	e.s.LastActivity = st.now()
	saved := e.s.Clone()
	e.mu.Unlock()

	st.persist(ctx, saved)
	return nil
}

// SetVariable writes one session variable.
func (st *Store) SetVariable(ctx context.Context, key, name string, value any) error {
	return st.mutate(ctx, key, func(s *UserSession) error {
		s.Variables[name] = value
		return nil
	})
}

// GetVariable reads one session variable.
func (st *Store) GetVariable(key, name string) (any, bool) {
	e, ok := st.lookup(key)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.s.Variables[name]
	return v, ok
}

// SetState writes one state flag.
func (st *Store) SetState(ctx context.Context, key, name string, value any) error {
	return st.mutate(ctx, key, func(s *UserSession) error {
		s.State[name] = value
		return nil
	})
}

// GetState reads one state flag.
func (st *Store) GetState(key, name string) (any, bool) {
	e, ok := st.lookup(key)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.s.State[name]
	return v, ok
}

// SetWaitingForInput records a pending input request. Both the variable
// name and at least one continuation node are required.
func (st *Store) SetWaitingForInput(ctx context.Context, key, variable string, nextNodes []string) error {
	if variable == "" || len(nextNodes) == 0 {
		return schema.NewError(schema.ErrCodeValidation,
			"waiting for input needs an input variable and continuation nodes")
	}
	return st.mutate(ctx, key, func(s *UserSession) error {
		s.WaitingForInput = true
		s.InputVariable = variable
		s.NextNodes = slices.Clone(nextNodes)
		return nil
	})
}

// ProcessInput consumes a pending input request: input is stored under the
// input variable, the waiting fields are cleared together and the
// continuation nodes are returned. Without a pending request it returns
// processed=false and changes nothing.
func (st *Store) ProcessInput(ctx context.Context, key, input string) (nextNodes []string, processed bool) {
	e, ok := st.lookup(key)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	if !e.s.WaitingForInput {
		e.mu.Unlock()
		return nil, false
	}
	e.s.Variables[e.s.InputVariable] = input
	nextNodes = e.s.NextNodes
	e.s.clearWaiting()
	e.s.LastActivity = st.now()
	saved := e.s.Clone()
	e.mu.Unlock()

	st.persist(ctx, saved)
	return nextNodes, true
}

// SetActiveExecution records which run is serving the session; "" clears it.
func (st *Store) SetActiveExecution(key, executionID string) {
	e, ok := st.lookup(key)
	if !ok {
		return
	}
	e.mu.Lock()
	e.s.ActiveExecution = executionID
	e.mu.Unlock()
}

// ActiveExecution returns the run currently serving the session.
func (st *Store) ActiveExecution(key string) string {
	e, ok := st.lookup(key)
	if !ok {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.ActiveExecution
}

// ClearSession removes the session for the triple.
func (st *Store) ClearSession(ctx context.Context, platform, userID, chatID string) bool {
	key := Key(platform, userID, chatID)
	st.mu.Lock()
	_, ok := st.sessions[key]
	delete(st.sessions, key)
	st.mu.Unlock()

	if ok {
		st.forget(ctx, key)
	}
	return ok
}

// Stats counts sessions in total, per platform, waiting for input and
// active within the given window.
func (st *Store) Stats(activeWithin time.Duration) Stats {
	now := st.now()
	stats := Stats{ByPlatform: make(map[string]int)}
	for _, s := range st.Export() {
		stats.Total++
		stats.ByPlatform[s.Platform]++
		if s.WaitingForInput {
			stats.Waiting++
		}
		if now.Sub(s.LastActivity) <= activeWithin {
			stats.Active++
		}
	}
	return stats
}

// Len is the number of sessions held.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Timeout returns the idle timeout.
func (st *Store) Timeout() time.Duration {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.timeout
}

// SetTimeout changes the idle timeout.
func (st *Store) SetTimeout(d time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.timeout = d
}

// Sweep evicts sessions idle for longer than the timeout and returns how
// many were removed. Persisted copies are deleted as well.
func (st *Store) Sweep(ctx context.Context) int {
	now := st.now()
	timeout := st.Timeout()

	st.mu.Lock()
	var expired []*UserSession
	for key, e := range st.sessions {
		e.mu.Lock()
		if now.Sub(e.s.LastActivity) > timeout {
			expired = append(expired, e.s)
			delete(st.sessions, key)
		}
		e.mu.Unlock()
	}
	st.mu.Unlock()

	for _, s := range expired {
		st.forget(ctx, s.Key())
		if st.onExpire != nil {
			st.onExpire(s)
		}
	}
	return len(expired)
}

// forget removes the persisted copy of key, if any.
func (st *Store) forget(ctx context.Context, key string) {
	if st.persister == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := st.persister.DeleteSession(pctx, key); err != nil && schema.CodeOf(err) != schema.ErrCodeNotFound {
		logging.LogWith(ctx, st.logger).Warn("session delete failed", "key", key, "error", err)
	}
}

// expired reports whether s has been idle longer than the timeout.
func (st *Store) expired(s *UserSession) bool {
	return st.now().Sub(s.LastActivity) > st.Timeout()
}

// Export returns copies of every session.
func (st *Store) Export() []*UserSession {
	st.mu.RLock()
	entries := make([]*entry, 0, len(st.sessions))
	for _, e := range st.sessions {
		entries = append(entries, e)
	}
	st.mu.RUnlock()

	out := make([]*UserSession, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.s.Clone())
		e.mu.Unlock()
	}
	return out
}

// Import loads sessions, replacing any with the same key.
func (st *Store) Import(sessions []*UserSession) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range sessions {
		if s == nil {
			continue
		}
		st.sessions[s.Key()] = &entry{s: s.Clone()}
	}
}

// Warm imports every live session the persister holds. Copies idle past
// the timeout are deleted instead.
func (st *Store) Warm(ctx context.Context) (int, error) {
	if st.persister == nil {
		return 0, nil
	}
	sessions, err := st.persister.ListSessions(ctx)
	if err != nil {
		return 0, err
	}
	live := sessions[:0]
	for _, s := range sessions {
		if s == nil {
			continue
		}
		if st.expired(s) {
			st.forget(ctx, s.Key())
			continue
		}
		live = append(live, s)
	}
	st.Import(live)
	return len(live), nil
}

func (st *Store) load(ctx context.Context, key string) *UserSession {
	if st.persister == nil {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	s, err := st.persister.LoadSession(pctx, key)
	if err != nil {
		if schema.CodeOf(err) != schema.ErrCodeNotFound {
			logging.LogWith(ctx, st.logger).Warn("session load failed", "key", key, "error", err)
		}
		return nil
	}
	if s == nil {
		return nil
	}
	if st.expired(s) {
		st.forget(ctx, key)
		return nil
	}
	return s
}

func (st *Store) persist(ctx context.Context, s *UserSession) {
	if st.persister == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := st.persister.SaveSession(pctx, s); err != nil {
		logging.LogWith(ctx, st.logger).Warn("session save failed", "key", s.Key(), "error", err)
	}
}
