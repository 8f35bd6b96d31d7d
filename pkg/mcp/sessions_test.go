package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_WatchAndList(t *testing.T) {
	r := NewSessionRegistry()

	r.Watch("shop", "s-2")
	r.Watch("shop", "s-1")
	r.Watch("shop", "s-1")
	r.Watch("faq", "s-2")

	assert.Equal(t, []string{"s-1", "s-2"}, r.Watchers("shop"))
	assert.Equal(t, []string{"s-2"}, r.Watchers("faq"))
	assert.Empty(t, r.Watchers("unknown"))
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()

	r.Watch("shop", "s-1")
	r.Watch("faq", "s-1")
	r.Watch("shop", "s-2")

	r.Remove("s-1")
	assert.Equal(t, []string{"s-2"}, r.Watchers("shop"))
	assert.Empty(t, r.Watchers("faq"))
	assert.NotContains(t, r.watchers, "faq")
}
