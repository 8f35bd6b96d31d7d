package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusserg007/botconstructor/internal/streaming"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

func TestEventLog_ReplayRun(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s, nil)
	ctx := context.Background()

	for _, ev := range []streaming.ExecutionEvent{
		{Type: schema.EventRunStarted, ExecutionID: "e1", BotID: "bot"},
		{Type: schema.EventNodeStarted, ExecutionID: "e1", NodeID: "api"},
		{Type: schema.EventNodeRetrying, ExecutionID: "e1", NodeID: "api"},
		{Type: schema.EventNodeFailed, ExecutionID: "e1", NodeID: "api", Data: map[string]any{"error": "timeout"}},
		{Type: schema.EventNodeFallback, ExecutionID: "e1", NodeID: "api"},
		{Type: schema.EventNodeStarted, ExecutionID: "e1", NodeID: "ask"},
		{Type: schema.EventInputWaiting, ExecutionID: "e1", NodeID: "ask"},
		{Type: schema.EventRunFinished, ExecutionID: "e1", Data: map[string]any{"status": "waiting"}},
	} {
		require.NoError(t, el.Record(ctx, ev))
	}

	trace, err := el.ReplayRun(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "bot", trace.BotID)
	assert.Equal(t, "waiting", trace.Status)
	require.NotNil(t, trace.FinishedAt)
	require.Len(t, trace.Nodes, 2)
	assert.Equal(t, NodeTrace{NodeID: "api", Status: "fallback", Retries: 1, Error: "timeout"}, trace.Nodes[0])
	assert.Equal(t, "waiting", trace.Nodes[1].Status)
}

func TestEventLog_ReplayUnknownRun(t *testing.T) {
	el := NewEventLog(newTestStore(t), nil)
	_, err := el.ReplayRun(context.Background(), "nope")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestEventLog_RecordSkipsRunlessEvents(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s, nil)
	require.NoError(t, el.Record(context.Background(), streaming.ExecutionEvent{Type: schema.EventSessionExpired}))

	events, err := s.GetEventsByType(context.Background(), schema.EventSessionExpired, EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventLog_AttachRecordsHubEvents(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s, nil)
	hub := streaming.NewMemoryHub()
	ctx := context.Background()

	stop, err := el.Attach(ctx, hub)
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, streaming.ExecutionEvent{Type: schema.EventRunStarted, ExecutionID: "e9"}))
	require.NoError(t, hub.Publish(ctx, streaming.ExecutionEvent{Type: schema.EventRunFinished, ExecutionID: "e9",
		Data: map[string]any{"status": "completed"}}))

	assert.Eventually(t, func() bool {
		events, err := s.GetEvents(ctx, "e9", 0)
		return err == nil && len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)
	stop()

	trace, err := el.ReplayRun(ctx, "e9")
	require.NoError(t, err)
	assert.Equal(t, "completed", trace.Status)
}
