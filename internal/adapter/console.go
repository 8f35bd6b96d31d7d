package adapter

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Console prints deliveries as a chat transcript. Used by the simulate
// command.
type Console struct {
	platform string
	mu       sync.Mutex
	w        io.Writer
}

// NewConsole writes to w.
func NewConsole(w io.Writer, platform string) *Console {
	return &Console{w: w, platform: platform}
}

func (c *Console) Platform() string { return c.platform }

func (c *Console) SendMessage(_ context.Context, chatID, text string, opts map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "bot -> %s: %s%s\n", chatID, text, formatOptions(opts))
	return err
}

func (c *Console) SendMedia(_ context.Context, chatID, mediaType, url string, opts map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "bot -> %s: [%s] %s%s\n", chatID, mediaType, url, formatOptions(opts))
	return err
}

func formatOptions(opts map[string]any) string {
	if len(opts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, opts[k]))
	}
	return " {" + strings.Join(parts, " ") + "}"
}

var _ Messenger = (*Console)(nil)
