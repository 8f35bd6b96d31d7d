package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fusserg007/botconstructor/internal/adapter"
	"github.com/fusserg007/botconstructor/internal/dispatch"
	"github.com/fusserg007/botconstructor/internal/engine"
	"github.com/fusserg007/botconstructor/internal/nodes"
	"github.com/fusserg007/botconstructor/internal/recovery"
	"github.com/fusserg007/botconstructor/internal/session"
	"github.com/fusserg007/botconstructor/internal/store"
	"github.com/fusserg007/botconstructor/internal/streaming"
	"github.com/fusserg007/botconstructor/internal/validation"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// app is one wired bot runtime.
type app struct {
	cfg        Config
	logger     *slog.Logger
	hub        *streaming.MemoryHub
	store      *store.LibSQLStore // nil when persistence is memory
	events     *store.EventLog    // nil without store
	sessions   *session.Store
	validator  *validation.BotValidator
	dispatcher *dispatch.Dispatcher
	breakers   *recovery.BreakerRegistry
	out        io.Writer

	closers []func() error
}

// newApp wires store, sessions, engine and dispatcher from cfg.
// Outbound messages go to out through a per-platform circuit breaker.
func newApp(ctx context.Context, cfg Config, logger *slog.Logger, out io.Writer) (_ *app, err error) {
	rt := &app{
		cfg:      cfg,
		logger:   logger,
		hub:      streaming.NewMemoryHub(),
		breakers: recovery.NewBreakerRegistry(recovery.DefaultBreakerConfig()),
		out:      out,
	}
	defer func() {
		if err != nil {
			rt.close()
		}
	}()

	sessionOpts := []session.Option{
		session.WithTimeout(cfg.SessionTimeout),
		session.WithLogger(logger),
		session.WithExpireHook(rt.sessionExpired),
	}

	if cfg.Persistence != PersistMemory {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		st, err := store.NewLibSQLStore(dbURI(cfg.DBPath))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, st.Close)
		if err := st.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		rt.store = st
		rt.events = store.NewEventLog(st, logger)
		stop, err := rt.events.Attach(ctx, rt.hub)
		if err != nil {
			return nil, fmt.Errorf("attach event log: %w", err)
		}
		rt.closers = append(rt.closers, func() error { stop(); return nil })
	}

	switch cfg.Persistence {
	case PersistLibSQL:
		sessionOpts = append(sessionOpts, session.WithPersister(rt.store))
	case PersistRedis:
		rs, err := store.NewRedisSessions(ctx, cfg.RedisURL, cfg.SessionTimeout)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, rs.Close)
		sessionOpts = append(sessionOpts, session.WithPersister(rs))
	}

	rt.sessions = session.NewStore(sessionOpts...)
	if n, err := rt.sessions.Warm(ctx); err != nil {
		logger.Warn("sessions not restored", "error", err)
	} else if n > 0 {
		logger.Info("sessions restored", "count", n)
	}

	deps := nodes.Deps{Logger: logger}
	if rt.store != nil {
		deps.Records = nodes.RecordSinkFunc(rt.saveRecord)
	}
	reg, err := nodes.NewRegistry(deps)
	if err != nil {
		return nil, fmt.Errorf("register node handlers: %w", err)
	}

	rt.validator, err = validation.NewBotValidator(reg)
	if err != nil {
		return nil, err
	}

	errs := recovery.NewHandler(
		recovery.WithLogCapacity(cfg.ErrorLogCap),
		recovery.WithLogger(logger),
	)
	eng := engine.New(reg, errs,
		engine.WithHub(rt.hub),
		engine.WithLogger(logger),
		engine.WithConfig(engine.Config{MaxHops: cfg.MaxHops, MaxRetries: cfg.MaxRetries}),
	)
	rt.dispatcher = dispatch.New(eng, rt.sessions,
		dispatch.WithValidator(rt.validator),
		dispatch.WithHub(rt.hub),
		dispatch.WithPool(dispatch.NewPool(cfg.PoolSize)),
		dispatch.WithLogger(logger),
	)
	return rt, nil
}

// dbURI turns a plain path into the file URI libSQL expects.
func dbURI(path string) string {
	if strings.Contains(path, ":") {
		return path
	}
	return "file:" + path
}

func (rt *app) saveRecord(ctx context.Context, rec nodes.Record) error {
	return rt.store.AppendRecord(ctx, &store.DataRecord{
		BotID:       rec.BotID,
		Collection:  rec.Collection,
		ExecutionID: rec.ExecutionID,
		NodeID:      rec.NodeID,
		Platform:    rec.Platform,
		UserID:      rec.UserID,
		ChatID:      rec.ChatID,
		Data:        rec.Data,
		CreatedAt:   rec.CreatedAt,
	})
}

func (rt *app) sessionExpired(s *session.UserSession) {
	_ = rt.hub.Publish(context.Background(), streaming.ExecutionEvent{
		Type:     schema.EventSessionExpired,
		UserID:   s.UserID,
		ChatID:   s.ChatID,
		Platform: s.Platform,
		Data:     map[string]any{"sessionId": s.SessionID},
	})
}

// messenger prints outbound messages, guarded by the platform's breaker.
func (rt *app) messenger(platform string) adapter.Messenger {
	return adapter.NewBreaker(adapter.NewConsole(rt.out, platform), platform, rt.breakers)
}

// loadBots registers every schema persisted in the store, then every
// *.json file in the bots directory. File bots are named after the file.
func (rt *app) loadBots(ctx context.Context) (int, error) {
	loaded := 0
	if rt.store != nil {
		records, err := rt.store.ListBots(ctx)
		if err != nil {
			return 0, err
		}
		for _, rec := range records {
			if err := rt.register(rec.ID, rec.Definition); err != nil {
				rt.logger.Warn("stored bot skipped", "bot_id", rec.ID, "error", err)
				continue
			}
			loaded++
		}
	}

	if rt.cfg.BotsDir == "" {
		return loaded, nil
	}
	files, err := filepath.Glob(filepath.Join(rt.cfg.BotsDir, "*.json"))
	if err != nil {
		return loaded, err
	}
	for _, path := range files {
		id := strings.TrimSuffix(filepath.Base(path), ".json")
		data, err := os.ReadFile(path)
		if err != nil {
			return loaded, err
		}
		if err := rt.register(id, data); err != nil {
			return loaded, fmt.Errorf("%s: %w", path, err)
		}
		loaded++
	}
	return loaded, nil
}

func (rt *app) register(id string, doc []byte) error {
	bot, res := rt.validator.ValidateDocument(doc)
	if !res.Valid() {
		return res.ToError()
	}
	return rt.dispatcher.RegisterBotSchema(id, bot)
}

func (rt *app) close() error {
	if rt.dispatcher != nil {
		rt.dispatcher.Shutdown()
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}
