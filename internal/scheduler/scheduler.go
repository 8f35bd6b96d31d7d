// Package scheduler fires trigger-schedule nodes of registered bots on
// their cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fusserg007/botconstructor/internal/adapter"
	"github.com/fusserg007/botconstructor/internal/dispatch"
	"github.com/fusserg007/botconstructor/internal/expressions"
	"github.com/fusserg007/botconstructor/internal/logging"
	"github.com/fusserg007/botconstructor/internal/streaming"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// DefaultInterval is how often the scheduler looks for due triggers.
const DefaultInterval = 30 * time.Second

// DefaultPlatform is used when a schedule node names no platform.
const DefaultPlatform = "scheduler"

// Runner is the part of the dispatcher the scheduler drives.
type Runner interface {
	Bots() []dispatch.BotInfo
	Schema(botID string) (*schema.BotSchema, bool)
	RunTrigger(ctx context.Context, botID, nodeID string, msg schema.BotMessage, payload map[string]any, m adapter.Messenger) *schema.BotResponse
}

// MessengerFunc picks the messenger for a platform.
type MessengerFunc func(platform string) adapter.Messenger

// Job is the schedule state of one trigger node.
type Job struct {
	BotID      string    `json:"botId"`
	NodeID     string    `json:"nodeId"`
	Cron       string    `json:"cron"`
	Timezone   string    `json:"timezone,omitempty"`
	NextRun    time.Time `json:"nextRun"`
	LastRun    time.Time `json:"lastRun,omitzero"`
	LastStatus string    `json:"lastStatus,omitempty"`
	Runs       int       `json:"runs"`
	Error      string    `json:"error,omitempty"`

	target schema.BotMessage
	spec   string
}

func jobKey(botID, nodeID string) string { return botID + "/" + nodeID }

// Scheduler polls registered schemas for schedule triggers and runs the
// due ones.
type Scheduler struct {
	runner    Runner
	messenger MessengerFunc
	parser    cron.Parser
	logger    *slog.Logger
	hub       streaming.EventHub
	now       func() time.Time
	interval  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	jobsMu sync.Mutex
	jobs   map[string]*Job

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithHub publishes schedule.fired events.
func WithHub(h streaming.EventHub) Option {
	return func(s *Scheduler) { s.hub = h }
}

// WithClock overrides time.Now.
func WithClock(fn func() time.Time) Option {
	return func(s *Scheduler) { s.now = fn }
}

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// New creates a Scheduler. messenger may be nil; runs then only record
// their actions.
func New(runner Runner, messenger MessengerFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:    runner,
		messenger: messenger,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:    logging.Discard(),
		now:       time.Now,
		interval:  DefaultInterval,
		jobs:      make(map[string]*Job),
		inflight:  make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the background loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop ends the loop and waits for the current tick.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.logger.Info("scheduler stopped")
	return nil
}

// tick syncs the job table with the registered schemas and fires what
// is due.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	for _, job := range s.sync(now) {
		if job.NextRun.IsZero() || job.NextRun.After(now) {
			continue
		}
		if err := s.fire(ctx, job.BotID, job.NodeID, now); err != nil {
			s.logger.Error("scheduled trigger failed",
				slog.String("bot_id", job.BotID),
				slog.String("node_id", job.NodeID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sync rebuilds the job table from the schedule nodes of every registered
// bot. Existing jobs keep their next run unless their expression changed.
func (s *Scheduler) sync(now time.Time) []Job {
	seen := make(map[string]bool)

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	for _, info := range s.runner.Bots() {
		bot, ok := s.runner.Schema(info.ID)
		if !ok {
			continue
		}
		for _, n := range bot.Triggers() {
			if n.Type != schema.NodeTriggerSchedule {
				continue
			}
			key := jobKey(info.ID, n.ID)
			seen[key] = true

			expr := stringData(n.Data, "cron")
			tz := stringData(n.Data, "timezone")
			spec := expr
			if tz != "" {
				spec = "CRON_TZ=" + tz + " " + expr
			}

			job, exists := s.jobs[key]
			if !exists {
				job = &Job{BotID: info.ID, NodeID: n.ID}
				s.jobs[key] = job
			}
			job.target = targetOf(n)
			if exists && job.spec == spec {
				continue
			}
			job.Cron, job.Timezone, job.spec = expr, tz, spec
			job.Error = ""
			next, err := s.next(spec, now)
			if err != nil {
				job.NextRun = time.Time{}
				job.Error = err.Error()
				s.logger.Warn("schedule trigger disabled", slog.String("bot_id", info.ID),
					slog.String("node_id", n.ID), slog.String("error", err.Error()))
				continue
			}
			job.NextRun = next
		}
	}

	for key := range s.jobs {
		if !seen[key] {
			delete(s.jobs, key)
		}
	}

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return jobKey(out[i].BotID, out[i].NodeID) < jobKey(out[k].BotID, out[k].NodeID) })
	return out
}

func (s *Scheduler) next(spec string, from time.Time) (time.Time, error) {
	if spec == "" {
		return time.Time{}, fmt.Errorf("cron expression is empty")
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	return sched.Next(from), nil
}

// targetOf reads who a scheduled run talks to.
func targetOf(n *schema.Node) schema.BotMessage {
	platform := stringData(n.Data, "platform")
	if platform == "" {
		platform = DefaultPlatform
	}
	userID := stringData(n.Data, "userId")
	chatID := stringData(n.Data, "chatId")
	if userID == "" {
		userID = chatID
	}
	if chatID == "" {
		chatID = userID
	}
	if userID == "" {
		userID, chatID = "scheduler", "scheduler"
	}
	return schema.BotMessage{UserID: userID, ChatID: chatID, Platform: platform}
}

// RunNow fires a schedule trigger immediately, outside its cron timing.
func (s *Scheduler) RunNow(ctx context.Context, botID, nodeID string) error {
	s.sync(s.now())
	return s.fire(ctx, botID, nodeID, s.now())
}

// fire runs one job unless it is already running.
func (s *Scheduler) fire(ctx context.Context, botID, nodeID string, now time.Time) error {
	key := jobKey(botID, nodeID)

	s.jobsMu.Lock()
	job, ok := s.jobs[key]
	var target schema.BotMessage
	var spec string
	if ok {
		target, spec = job.target, job.spec
	}
	s.jobsMu.Unlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no schedule trigger %s", key)
	}

	if !s.tryAcquire(key) {
		return schema.NewErrorf(schema.ErrCodeConflict, "schedule trigger %s is already running", key)
	}
	defer s.release(key)

	s.logger.Info("firing schedule trigger", slog.String("bot_id", botID), slog.String("node_id", nodeID))
	s.publish(ctx, botID, nodeID, target, now)

	var m adapter.Messenger
	if s.messenger != nil {
		m = s.messenger(target.Platform)
	}
	target.Timestamp = now
	payload := map[string]any{
		"scheduledAt": now.UTC().Format(time.RFC3339),
		"cron":        spec,
	}
	resp := s.runner.RunTrigger(ctx, botID, nodeID, target, payload, m)

	status := "success"
	var runErr error
	if !resp.Success {
		status = "error"
		runErr = fmt.Errorf("run failed: %v", resp.Errors)
	}

	s.jobsMu.Lock()
	if j, ok := s.jobs[key]; ok {
		j.LastRun = now
		j.LastStatus = status
		j.Runs++
		if j.spec != "" {
			if next, err := s.next(j.spec, now); err == nil {
				j.NextRun = next
			}
		}
	}
	s.jobsMu.Unlock()
	return runErr
}

func (s *Scheduler) publish(ctx context.Context, botID, nodeID string, target schema.BotMessage, now time.Time) {
	if s.hub == nil {
		return
	}
	_ = s.hub.Publish(ctx, streaming.ExecutionEvent{
		Type:      schema.EventScheduleFired,
		BotID:     botID,
		NodeID:    nodeID,
		NodeType:  schema.NodeTriggerSchedule,
		UserID:    target.UserID,
		ChatID:    target.ChatID,
		Platform:  target.Platform,
		Timestamp: now,
	})
}

// Jobs lists every known schedule trigger, refreshed against the
// registered schemas.
func (s *Scheduler) Jobs() []Job {
	return s.sync(s.now())
}

func (s *Scheduler) tryAcquire(key string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[key]; ok {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, key)
}

func stringData(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	return expressions.Stringify(v)
}
