package adapter

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusserg007/botconstructor/internal/recovery"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

func TestRecorder_RecordsAndFails(t *testing.T) {
	r := NewRecorder("telegram")
	ctx := context.Background()

	require.NoError(t, r.SendMessage(ctx, "c1", "hi", nil))
	require.NoError(t, r.SendMedia(ctx, "c1", "photo", "http://x/p.png", map[string]any{"caption": "cap"}))

	boom := errors.New("boom")
	r.FailWith(boom, 1)
	assert.ErrorIs(t, r.SendMessage(ctx, "c1", "lost", nil), boom)
	require.NoError(t, r.SendMessage(ctx, "c1", "after", nil))

	assert.Equal(t, []string{"hi", "after"}, r.Texts())
	ds := r.Deliveries()
	require.Len(t, ds, 3)
	assert.Equal(t, "photo", ds[1].MediaType)
	assert.Equal(t, "telegram", PlatformOf(r, "x"))

	r.Reset()
	assert.Empty(t, r.Deliveries())
}

func TestConsole_Transcript(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, "console")
	ctx := context.Background()

	require.NoError(t, c.SendMessage(ctx, "chat", "Привет", map[string]any{"parseMode": "HTML"}))
	require.NoError(t, c.SendMedia(ctx, "chat", "photo", "http://img", nil))

	assert.Equal(t, "bot -> chat: Привет {parseMode=HTML}\nbot -> chat: [photo] http://img\n", buf.String())
}

func TestBreaker_OpensPerPlatform(t *testing.T) {
	reg := recovery.NewBreakerRegistry(recovery.BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	inner := NewRecorder("vk")
	inner.FailWith(errors.New("connection refused"), -1)
	b := NewBreaker(inner, "", reg)
	ctx := context.Background()

	assert.Error(t, b.SendMessage(ctx, "c", "1", nil))
	assert.Error(t, b.SendMessage(ctx, "c", "2", nil))

	err := b.SendMessage(ctx, "c", "3", nil)
	assert.Equal(t, schema.ErrCodeCircuitOpen, schema.CodeOf(err))
	assert.Equal(t, recovery.BreakerOpen, reg.State("vk"))

	other := NewBreaker(NewRecorder("telegram"), "", reg)
	assert.NoError(t, other.SendMessage(ctx, "c", "ok", nil))
}
