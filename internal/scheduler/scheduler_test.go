package scheduler

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusserg007/botconstructor/internal/adapter"
	"github.com/fusserg007/botconstructor/internal/dispatch"
	"github.com/fusserg007/botconstructor/internal/streaming"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

type triggerCall struct {
	BotID, NodeID string
	Msg           schema.BotMessage
	Payload       map[string]any
	Messenger     adapter.Messenger
}

// fakeRunner serves schemas from a map and records RunTrigger calls.
type fakeRunner struct {
	mu      sync.Mutex
	bots    map[string]*schema.BotSchema
	calls   []triggerCall
	fail    bool
	block   chan struct{}
	entered chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{bots: make(map[string]*schema.BotSchema)}
}

func (r *fakeRunner) set(id string, s *schema.BotSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == nil {
		delete(r.bots, id)
		return
	}
	r.bots[id] = s
}

func (r *fakeRunner) Bots() []dispatch.BotInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dispatch.BotInfo
	for id := range r.bots {
		out = append(out, dispatch.BotInfo{ID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeRunner) Schema(id string) (*schema.BotSchema, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.bots[id]
	return s, ok
}

func (r *fakeRunner) RunTrigger(_ context.Context, botID, nodeID string, msg schema.BotMessage, payload map[string]any, m adapter.Messenger) *schema.BotResponse {
	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, triggerCall{BotID: botID, NodeID: nodeID, Msg: msg, Payload: payload, Messenger: m})
	if r.fail {
		return &schema.BotResponse{Success: false, Errors: []string{"boom"}}
	}
	return &schema.BotResponse{Success: true}
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func scheduled(cronExpr string, data map[string]any) *schema.BotSchema {
	if data == nil {
		data = map[string]any{}
	}
	data["cron"] = cronExpr
	return &schema.BotSchema{
		Nodes: []schema.Node{
			{ID: "every", Type: schema.NodeTriggerSchedule, Data: data},
			{ID: "say", Type: schema.NodeSendMessage, Data: map[string]any{"message": "tick"}},
		},
		Edges: []schema.Edge{{Source: "every", Target: "say"}},
	}
}

func newTestScheduler(r *fakeRunner, opts ...Option) (*Scheduler, *clock) {
	c := &clock{t: time.Date(2025, 3, 14, 9, 0, 30, 0, time.UTC)}
	return New(r, nil, append([]Option{WithClock(c.now)}, opts...)...), c
}

func TestScheduler_FiresWhenDue(t *testing.T) {
	r := newFakeRunner()
	r.set("news", scheduled("*/5 * * * *", map[string]any{"chatId": "c1", "platform": "telegram"}))
	s, c := newTestScheduler(r)

	s.tick(context.Background())
	assert.Equal(t, 0, r.callCount(), "first sight only schedules")

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 5, 0, 0, time.UTC), jobs[0].NextRun)

	c.advance(5 * time.Minute)
	s.tick(context.Background())
	require.Equal(t, 1, r.callCount())

	call := r.calls[0]
	assert.Equal(t, "news", call.BotID)
	assert.Equal(t, "every", call.NodeID)
	assert.Equal(t, "c1", call.Msg.ChatID)
	assert.Equal(t, "c1", call.Msg.UserID)
	assert.Equal(t, "telegram", call.Msg.Platform)
	assert.Equal(t, "*/5 * * * *", call.Payload["cron"])
	assert.Equal(t, "2025-03-14T09:05:30Z", call.Payload["scheduledAt"])

	jobs = s.Jobs()
	assert.Equal(t, "success", jobs[0].LastStatus)
	assert.Equal(t, 1, jobs[0].Runs)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 10, 0, 0, time.UTC), jobs[0].NextRun)

	s.tick(context.Background())
	assert.Equal(t, 1, r.callCount(), "not due again yet")
}

func TestScheduler_DefaultTarget(t *testing.T) {
	target := targetOf(&schema.Node{Data: map[string]any{}})
	assert.Equal(t, schema.BotMessage{UserID: "scheduler", ChatID: "scheduler", Platform: DefaultPlatform}, target)

	target = targetOf(&schema.Node{Data: map[string]any{"userId": "u7"}})
	assert.Equal(t, "u7", target.ChatID)
}

func TestScheduler_Timezone(t *testing.T) {
	r := newFakeRunner()
	r.set("tz", scheduled("0 12 * * *", map[string]any{"timezone": "Europe/Moscow"}))
	s, _ := newTestScheduler(r)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "Europe/Moscow", jobs[0].Timezone)
	// 12:00 Moscow is 09:00 UTC, already passed at 09:00:30.
	assert.Equal(t, time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC), jobs[0].NextRun.UTC())
}

func TestScheduler_InvalidCronIsReported(t *testing.T) {
	r := newFakeRunner()
	r.set("bad", scheduled("whenever", nil))
	s, c := newTestScheduler(r)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].NextRun.IsZero())
	assert.Contains(t, jobs[0].Error, "whenever")

	c.advance(24 * time.Hour)
	s.tick(context.Background())
	assert.Equal(t, 0, r.callCount())
}

func TestScheduler_FollowsSchemaChanges(t *testing.T) {
	r := newFakeRunner()
	r.set("a", scheduled("0 * * * *", nil))
	s, _ := newTestScheduler(r)
	require.Len(t, s.Jobs(), 1)
	assert.Equal(t, 10, s.Jobs()[0].NextRun.Hour())

	r.set("a", scheduled("30 9 * * *", nil))
	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "30 9 * * *", jobs[0].Cron)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC), jobs[0].NextRun)

	r.set("a", nil)
	assert.Empty(t, s.Jobs())
}

func TestScheduler_RunNow(t *testing.T) {
	r := newFakeRunner()
	r.set("a", scheduled("@daily", nil))
	hub := streaming.NewMemoryHub()
	s, _ := newTestScheduler(r, WithHub(hub))

	events, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{Types: []string{schema.EventScheduleFired}})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.RunNow(context.Background(), "a", "every"))
	assert.Equal(t, 1, r.callCount())

	select {
	case ev := <-events:
		assert.Equal(t, "a", ev.BotID)
		assert.Equal(t, "every", ev.NodeID)
	case <-time.After(time.Second):
		t.Fatal("no schedule.fired event")
	}

	err = s.RunNow(context.Background(), "a", "missing")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestScheduler_FailedRunRecorded(t *testing.T) {
	r := newFakeRunner()
	r.fail = true
	r.set("a", scheduled("@hourly", nil))
	s, _ := newTestScheduler(r)

	err := s.RunNow(context.Background(), "a", "every")
	require.Error(t, err)
	assert.Equal(t, "error", s.Jobs()[0].LastStatus)
}

func TestScheduler_InflightDedup(t *testing.T) {
	r := newFakeRunner()
	r.block = make(chan struct{})
	r.entered = make(chan struct{}, 1)
	r.set("a", scheduled("@hourly", nil))
	s, _ := newTestScheduler(r)

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "a", "every") }()
	<-r.entered

	err := s.RunNow(context.Background(), "a", "every")
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))

	close(r.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, r.callCount())
}

func TestScheduler_MessengerPerPlatform(t *testing.T) {
	r := newFakeRunner()
	r.set("a", scheduled("@hourly", map[string]any{"platform": "vk", "chatId": "c"}))
	rec := adapter.NewRecorder("vk")
	var asked []string
	s := New(r, func(p string) adapter.Messenger {
		asked = append(asked, p)
		return rec
	})

	require.NoError(t, s.RunNow(context.Background(), "a", "every"))
	assert.Equal(t, []string{"vk"}, asked)
	assert.Same(t, rec, r.calls[0].Messenger)
}

func TestScheduler_StartStop(t *testing.T) {
	r := newFakeRunner()
	s := New(r, nil, WithInterval(10*time.Millisecond))

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}
