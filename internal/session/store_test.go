package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fusserg007/botconstructor/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memPersister struct {
	mu      sync.Mutex
	saved   map[string]*UserSession
	deleted []string
}

func newMemPersister() *memPersister {
	return &memPersister{saved: make(map[string]*UserSession)}
}

func (p *memPersister) SaveSession(_ context.Context, s *UserSession) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved[s.Key()] = s.Clone()
	return nil
}

func (p *memPersister) LoadSession(_ context.Context, key string) (*UserSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.saved[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "session %q not found", key)
	}
	return s.Clone(), nil
}

func (p *memPersister) DeleteSession(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.saved, key)
	p.deleted = append(p.deleted, key)
	return nil
}

func (p *memPersister) ListSessions(context.Context) ([]*UserSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*UserSession, 0, len(p.saved))
	for _, s := range p.saved {
		out = append(out, s.Clone())
	}
	return out, nil
}

func TestGetSession_CreatesAndReturnsCopy(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	s := st.GetSession(ctx, "telegram", "u1", "c1")
	assert.Contains(t, s.SessionID, "session_")
	assert.Equal(t, "telegram:u1:c1", s.Key())

	s.Variables["leak"] = true
	again := st.GetSession(ctx, "telegram", "u1", "c1")
	assert.NotContains(t, again.Variables, "leak")
	assert.Equal(t, s.SessionID, again.SessionID)
	assert.Equal(t, 1, st.Len())
}

func TestGetSession_TouchesLastActivity(t *testing.T) {
	clock := newFakeClock()
	st := NewStore(WithClock(clock.Now))
	ctx := context.Background()

	first := st.GetSession(ctx, "p", "u", "c")
	clock.Advance(time.Minute)
	second := st.GetSession(ctx, "p", "u", "c")
	assert.Equal(t, first.LastActivity.Add(time.Minute), second.LastActivity)
}

func TestUpdateSession_Persists(t *testing.T) {
	p := newMemPersister()
	st := NewStore(WithPersister(p))
	ctx := context.Background()

	s := st.GetSession(ctx, "p", "u", "c")
	s.Variables["name"] = "Ann"
	s.State["step"] = 2.0
	st.UpdateSession(ctx, s)

	got, ok := st.Peek(s.Key())
	require.True(t, ok)
	assert.Equal(t, "Ann", got.Variables["name"])
	assert.Equal(t, 2.0, got.State["step"])

	p.mu.Lock()
	assert.Equal(t, "Ann", p.saved["p:u:c"].Variables["name"])
	p.mu.Unlock()
}

func TestVariablesAndState(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	key := st.GetSession(ctx, "p", "u", "c").Key()

	require.NoError(t, st.SetVariable(ctx, key, "age", 30.0))
	require.NoError(t, st.SetState(ctx, key, "vip", true))

	v, ok := st.GetVariable(key, "age")
	assert.True(t, ok)
	assert.Equal(t, 30.0, v)

	v, ok = st.GetState(key, "vip")
	assert.True(t, ok)
	assert.Equal(t, true, v)

	err := st.SetVariable(ctx, "p:missing:c", "x", 1)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestWaitingForInput_RoundTrip(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	key := st.GetSession(ctx, "p", "u", "c").Key()

	require.NoError(t, st.SetWaitingForInput(ctx, key, "email", []string{"n2", "n3"}))

	s, _ := st.Peek(key)
	assert.True(t, s.WaitingForInput)
	assert.Equal(t, "email", s.InputVariable)
	assert.Equal(t, []string{"n2", "n3"}, s.NextNodes)

	next, processed := st.ProcessInput(ctx, key, "a@b.c")
	assert.True(t, processed)
	assert.Equal(t, []string{"n2", "n3"}, next)

	s, _ = st.Peek(key)
	assert.False(t, s.WaitingForInput)
	assert.Empty(t, s.InputVariable)
	assert.Empty(t, s.NextNodes)
	assert.Equal(t, "a@b.c", s.Variables["email"])
}

func TestProcessInput_NoPendingIsNoop(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	key := st.GetSession(ctx, "p", "u", "c").Key()
	before, _ := st.Peek(key)

	next, processed := st.ProcessInput(ctx, key, "hello")
	assert.False(t, processed)
	assert.Nil(t, next)

	after, _ := st.Peek(key)
	assert.Equal(t, before.Variables, after.Variables)

	_, processed = st.ProcessInput(ctx, "nope", "x")
	assert.False(t, processed)
}

func TestProcessInput_ConcurrentConsumesOnce(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	key := st.GetSession(ctx, "p", "u", "c").Key()
	require.NoError(t, st.SetWaitingForInput(ctx, key, "v", []string{"n"}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	consumed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := st.ProcessInput(ctx, key, "x"); ok {
				mu.Lock()
				consumed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, consumed)
}

func TestSetWaitingForInput_RequiresFields(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	key := st.GetSession(ctx, "p", "u", "c").Key()

	assert.Error(t, st.SetWaitingForInput(ctx, key, "", []string{"n"}))
	assert.Error(t, st.SetWaitingForInput(ctx, key, "v", nil))
}

func TestClearSession(t *testing.T) {
	p := newMemPersister()
	st := NewStore(WithPersister(p))
	ctx := context.Background()
	st.GetSession(ctx, "p", "u", "c")

	assert.True(t, st.ClearSession(ctx, "p", "u", "c"))
	assert.False(t, st.ClearSession(ctx, "p", "u", "c"))
	assert.Equal(t, 0, st.Len())
	assert.Equal(t, []string{"p:u:c"}, p.deleted)
}

func TestStats(t *testing.T) {
	clock := newFakeClock()
	st := NewStore(WithClock(clock.Now))
	ctx := context.Background()

	st.GetSession(ctx, "telegram", "old", "c")
	clock.Advance(20 * time.Minute)
	key := st.GetSession(ctx, "telegram", "u2", "c").Key()
	st.GetSession(ctx, "vk", "u3", "c")
	require.NoError(t, st.SetWaitingForInput(ctx, key, "v", []string{"n"}))

	stats := st.Stats(5 * time.Minute)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.Waiting)
	assert.Equal(t, map[string]int{"telegram": 2, "vk": 1}, stats.ByPlatform)
}

func TestSweep_EvictsIdle(t *testing.T) {
	clock := newFakeClock()
	var expired []string
	st := NewStore(
		WithClock(clock.Now),
		WithTimeout(10*time.Minute),
		WithExpireHook(func(s *UserSession) { expired = append(expired, s.Key()) }),
	)
	ctx := context.Background()

	st.GetSession(ctx, "p", "idle", "c")
	clock.Advance(8 * time.Minute)
	st.GetSession(ctx, "p", "fresh", "c")
	clock.Advance(5 * time.Minute)

	assert.Equal(t, 1, st.Sweep(ctx))
	assert.Equal(t, []string{"p:idle:c"}, expired)
	_, ok := st.Peek("p:fresh:c")
	assert.True(t, ok)

	st.SetTimeout(time.Minute)
	assert.Equal(t, 1, st.Sweep(ctx))
	assert.Equal(t, 0, st.Len())
}

func TestExportImport(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	s := st.GetSession(ctx, "p", "u", "c")
	s.Variables["x"] = "y"
	st.UpdateSession(ctx, s)

	other := NewStore()
	other.Import(st.Export())
	got, ok := other.Peek("p:u:c")
	require.True(t, ok)
	assert.Equal(t, "y", got.Variables["x"])
}

func TestWarmAndLoadOnMiss(t *testing.T) {
	p := newMemPersister()
	ctx := context.Background()
	seed := newSession("p", "u", "c", time.Now())
	seed.Variables["kept"] = "yes"
	require.NoError(t, p.SaveSession(ctx, seed))

	st := NewStore(WithPersister(p))
	got := st.GetSession(ctx, "p", "u", "c")
	assert.Equal(t, seed.SessionID, got.SessionID)
	assert.Equal(t, "yes", got.Variables["kept"])

	warm := NewStore(WithPersister(p))
	n, err := warm.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, warm.Len())
}

func TestSweep_DeletesPersistedWaitingSession(t *testing.T) {
	clock := newFakeClock()
	p := newMemPersister()
	st := NewStore(WithClock(clock.Now), WithPersister(p))
	ctx := context.Background()

	first := st.GetSession(ctx, "telegram", "u", "c")
	key := first.Key()
	require.NoError(t, st.SetWaitingForInput(ctx, key, "name", []string{"greet"}))
	require.Contains(t, p.saved, key)

	clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, st.Sweep(ctx))
	assert.NotContains(t, p.saved, key)
	assert.Contains(t, p.deleted, key)

	again := st.GetSession(ctx, "telegram", "u", "c")
	assert.NotEqual(t, first.SessionID, again.SessionID)
	assert.False(t, again.WaitingForInput)
	assert.Empty(t, again.NextNodes)
}

func TestLoadOnMiss_DropsStaleRecord(t *testing.T) {
	clock := newFakeClock()
	p := newMemPersister()
	ctx := context.Background()
	stale := newSession("p", "u", "c", clock.Now())
	stale.WaitingForInput = true
	stale.NextNodes = []string{"greet"}
	require.NoError(t, p.SaveSession(ctx, stale))

	clock.Advance(time.Hour)
	st := NewStore(WithClock(clock.Now), WithPersister(p))
	got := st.GetSession(ctx, "p", "u", "c")
	assert.NotEqual(t, stale.SessionID, got.SessionID)
	assert.False(t, got.WaitingForInput)
	assert.NotContains(t, p.saved, stale.Key())
}

func TestWarm_SkipsStaleSessions(t *testing.T) {
	clock := newFakeClock()
	p := newMemPersister()
	ctx := context.Background()
	require.NoError(t, p.SaveSession(ctx, newSession("p", "old", "c", clock.Now())))
	clock.Advance(40 * time.Minute)
	require.NoError(t, p.SaveSession(ctx, newSession("p", "new", "c", clock.Now())))

	st := NewStore(WithClock(clock.Now), WithPersister(p))
	n, err := st.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, st.Len())
	_, ok := st.Peek("p:new:c")
	assert.True(t, ok)
	assert.Equal(t, []string{"p:old:c"}, p.deleted)
}

func TestActiveExecution(t *testing.T) {
	st := NewStore()
	key := st.GetSession(context.Background(), "p", "u", "c").Key()

	st.SetActiveExecution(key, "exec_1")
	assert.Equal(t, "exec_1", st.ActiveExecution(key))
	st.SetActiveExecution(key, "")
	assert.Empty(t, st.ActiveExecution(key))
	assert.Empty(t, st.ActiveExecution("missing"))
}

func TestConcurrentDistinctKeys(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i)
			for j := 0; j < 20; j++ {
				s := st.GetSession(ctx, "p", user, "c")
				s.Variables["owner"] = user
				s.Variables["n"] = j
				st.UpdateSession(ctx, s)
			}
		}(i)
	}
	wg.Wait()

	for _, s := range st.Export() {
		assert.Equal(t, s.UserID, s.Variables["owner"])
		assert.Equal(t, 19, s.Variables["n"])
	}
	assert.Equal(t, 30, st.Len())
}
