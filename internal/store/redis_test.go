package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusserg007/botconstructor/internal/session"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

func newTestRedis(t *testing.T) *RedisSessions {
	t.Helper()
	url := os.Getenv("BOTRT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("BOTRT_TEST_REDIS_URL not set")
	}
	r, err := NewRedisSessions(context.Background(), url, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedisSessions_RoundTrip(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	us := &session.UserSession{
		SessionID: "session_r",
		Platform:  "test",
		UserID:    "redis-user",
		ChatID:    "c",
		Variables: map[string]any{"k": "v"},
	}
	require.NoError(t, r.SaveSession(ctx, us))
	t.Cleanup(func() { _ = r.DeleteSession(ctx, us.Key()) })

	got, err := r.LoadSession(ctx, us.Key())
	require.NoError(t, err)
	assert.Equal(t, "v", got.Variables["k"])

	list, err := r.ListSessions(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	require.NoError(t, r.DeleteSession(ctx, us.Key()))
	_, err = r.LoadSession(ctx, us.Key())
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestNewRedisSessions_RequiresURL(t *testing.T) {
	_, err := NewRedisSessions(context.Background(), "", time.Minute)
	assert.Error(t, err)
}
