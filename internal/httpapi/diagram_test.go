package httpapi

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusserg007/botconstructor/internal/store"
	"github.com/fusserg007/botconstructor/internal/streaming"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

func TestDiagram_Formats(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "hello", helloBot)

	rec := ts.do(t, http.MethodGet, "/bots/hello/diagram", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "mermaid")
	assert.Contains(t, rec.Body.String(), "graph TD")
	assert.Contains(t, rec.Body.String(), "c -->|true| yes")

	rec = ts.do(t, http.MethodGet, "/bots/hello/diagram?format=ascii", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "=== hello ===")

	rec = ts.do(t, http.MethodGet, "/bots/hello/diagram?format=svg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<svg")

	rec = ts.do(t, http.MethodGet, "/bots/hello/diagram?format=gif", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiagram_Errors(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "hello", helloBot)

	rec := ts.do(t, http.MethodGet, "/bots/ghost/diagram", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/bots/hello/diagram?run=missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDiagram_RunOverlay(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "hello", helloBot)
	ts.register(t, "orders", orderBot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, err := store.NewEventLog(ts.store, nil).Attach(ctx, ts.hub)
	require.NoError(t, err)
	defer stop()

	finished, unsubscribe, err := ts.hub.Subscribe(ctx, streaming.EventFilter{
		BotID: "hello",
		Types: []string{schema.EventRunFinished},
	})
	require.NoError(t, err)
	defer unsubscribe()

	rec := ts.do(t, http.MethodPost, "/bots/hello/messages", message("u1", "hello"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var execID string
	select {
	case ev := <-finished:
		execID = ev.ExecutionID
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	require.NotEmpty(t, execID)

	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/bots/hello/diagram?run="+execID, "")
		body := rec.Body.String()
		return rec.Code == http.StatusOK &&
			strings.Contains(body, "class yes completed") &&
			strings.Contains(body, "class c completed")
	}, 5*time.Second, 20*time.Millisecond)

	rec = ts.do(t, http.MethodGet, "/bots/orders/diagram?run="+execID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
