// Package adapter holds the outbound side of messenger platforms: the
// Messenger contract the engine delivers through and a few implementations
// that need no network.
package adapter

import (
	"context"
)

// Messenger delivers messages to one platform.
type Messenger interface {
	SendMessage(ctx context.Context, chatID, text string, opts map[string]any) error
	SendMedia(ctx context.Context, chatID, mediaType, url string, opts map[string]any) error
}

// Platformer is implemented by messengers that know their platform name.
type Platformer interface {
	Platform() string
}

// PlatformOf returns m's platform name, or fallback.
func PlatformOf(m Messenger, fallback string) string {
	if p, ok := m.(Platformer); ok && p.Platform() != "" {
		return p.Platform()
	}
	return fallback
}
