package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fusserg007/botconstructor/internal/logging"
)

// DefaultSweepInterval is how often idle sessions are looked for.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically evicts idle sessions from a Store.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper; interval <= 0 means DefaultSweepInterval.
func NewSweeper(store *Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Start launches the sweep loop.
func (w *Sweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return fmt.Errorf("sweeper already started")
	}
	sctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(sctx, w.done)
	w.logger.Info("session sweeper started", "interval", w.interval, "timeout", w.store.Timeout())
	return nil
}

func (w *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.store.Sweep(ctx); n > 0 {
				w.logger.Info("expired sessions evicted", "count", n)
			}
		}
	}
}

// Stop halts the loop and waits for it to exit. Safe to call when not
// started.
func (w *Sweeper) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
