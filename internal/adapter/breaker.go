package adapter

import (
	"context"

	"github.com/fusserg007/botconstructor/internal/recovery"
)

// Breaker guards a Messenger with a circuit keyed by platform. Once the
// circuit opens, sends fail fast with CIRCUIT_OPEN until the cooldown
// passes.
type Breaker struct {
	inner    Messenger
	platform string
	circuits *recovery.BreakerRegistry
}

// NewBreaker wraps inner. Circuits are shared through reg so every bot on
// the same platform sees the same state.
func NewBreaker(inner Messenger, platform string, reg *recovery.BreakerRegistry) *Breaker {
	return &Breaker{inner: inner, platform: PlatformOf(inner, platform), circuits: reg}
}

func (b *Breaker) Platform() string { return b.platform }

func (b *Breaker) SendMessage(ctx context.Context, chatID, text string, opts map[string]any) error {
	return b.guard(func() error { return b.inner.SendMessage(ctx, chatID, text, opts) })
}

func (b *Breaker) SendMedia(ctx context.Context, chatID, mediaType, url string, opts map[string]any) error {
	return b.guard(func() error { return b.inner.SendMedia(ctx, chatID, mediaType, url, opts) })
}

func (b *Breaker) guard(send func() error) error {
	if err := b.circuits.Allow(b.platform); err != nil {
		return err
	}
	if err := send(); err != nil {
		b.circuits.Failure(b.platform)
		return err
	}
	b.circuits.Success(b.platform)
	return nil
}

var _ Messenger = (*Breaker)(nil)
