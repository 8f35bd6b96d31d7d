package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// --- Mock store ---

type mockSaver struct {
	mu   sync.Mutex
	bots []*store.BotRecord
	err  error
}

func (m *mockSaver) SaveBot(_ context.Context, bot *store.BotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.bots = append(m.bots, bot)
	return nil
}

// --- Helpers ---

func noSleep(context.Context, time.Duration) error { return nil }

func helloDoc() map[string]any {
	return map[string]any{
		"name": "hello",
		"nodes": []any{
			map[string]any{"id": "t", "type": "trigger-message"},
			map[string]any{"id": "c", "type": "condition-text-contains", "data": map[string]any{"pattern": "hello"}},
			map[string]any{"id": "yes", "type": "action-send-message", "data": map[string]any{"message": "Hello to you too"}},
			map[string]any{"id": "no", "type": "action-send-message", "data": map[string]any{"message": "Say hello first"}},
		},
		"edges": []any{
			map[string]any{"source": "t", "target": "c"},
			map[string]any{"source": "c", "target": "yes", "sourceHandle": "true"},
			map[string]any{"source": "c", "target": "no", "sourceHandle": "false"},
		},
	}
}

type stubRuns map[string]*store.RunTrace

func (r stubRuns) ReplayRun(_ context.Context, id string) (*store.RunTrace, error) {
	if t, ok := r[id]; ok {
		return t, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", id)
}

type harness struct {
	srv   *BotServer
	d     *dispatch.Dispatcher
	hub   *streaming.MemoryHub
	saver *mockSaver
	out   *adapter.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg, err := nodes.NewRegistry(nodes.Deps{Sleep: noSleep})
	require.NoError(t, err)
	v, err := validation.NewBotValidator(reg)
	require.NoError(t, err)

	hub := streaming.NewMemoryHub()
	eng := engine.New(reg, recovery.NewHandler(recovery.WithSleep(noSleep)), engine.WithHub(hub))
	d := dispatch.New(eng, session.NewStore(), dispatch.WithHub(hub))
	t.Cleanup(d.Shutdown)

	h := &harness{d: d, hub: hub, saver: &mockSaver{}, out: adapter.NewRecorder(DefaultPlatform)}
	h.srv = NewBotServer(Deps{
		Dispatcher: d,
		Validator:  v,
		Store:      h.saver,
		Runs:       stubRuns{
			"run-1": {ExecutionID: "run-1", BotID: "hello", Nodes: []store.NodeTrace{
				{NodeID: "t", Status: "completed"},
				{NodeID: "c", Status: "failed", Error: "boom"},
			}},
			"run-2": {ExecutionID: "run-2", BotID: "other"},
		},
		Messenger:  func(string) adapter.Messenger { return h.out },
	})
	return h
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func decodeResult[T any](t *testing.T, result *mcp.CallToolResult) T {
	t.Helper()
	require.False(t, result.IsError, resultText(t, result))
	var v T
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &v))
	return v
}

func (h *harness) register(t *testing.T) {
	t.Helper()
	result, err := h.srv.handleRegisterSchema(context.Background(), buildRequest("bot.register_schema", map[string]any{
		"bot_id": "hello",
		"schema": helloDoc(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
}

// --- Tests ---

func TestRegisterSchemaTool(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	bot, ok := h.d.Schema("hello")
	require.True(t, ok)
	assert.Equal(t, "hello", bot.ID)
	assert.Len(t, bot.Nodes, 4)

	require.Len(t, h.saver.bots, 1)
	assert.Equal(t, "hello", h.saver.bots[0].ID)
	assert.Equal(t, "hello", h.saver.bots[0].Name)
}

func TestRegisterSchemaTool_Invalid(t *testing.T) {
	h := newHarness(t)
	doc := helloDoc()
	doc["nodes"] = append(doc["nodes"].([]any), map[string]any{"id": "x", "type": "action-teleport"})

	result, err := h.srv.handleRegisterSchema(context.Background(), buildRequest("bot.register_schema", map[string]any{
		"bot_id": "hello",
		"schema": doc,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	_, ok := h.d.Schema("hello")
	assert.False(t, ok)
	assert.Empty(t, h.saver.bots)
}

func TestRegisterSchemaTool_MissingArgs(t *testing.T) {
	h := newHarness(t)

	result, err := h.srv.handleRegisterSchema(context.Background(), buildRequest("bot.register_schema", map[string]any{
		"schema": helloDoc(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = h.srv.handleRegisterSchema(context.Background(), buildRequest("bot.register_schema", map[string]any{
		"bot_id": "hello",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestProcessMessageTool(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	result, err := h.srv.handleProcessMessage(context.Background(), buildRequest("bot.process_message", map[string]any{
		"bot_id":  "hello",
		"user_id": "u1",
		"text":    "hello bot",
	}))
	require.NoError(t, err)
	resp := decodeResult[schema.BotResponse](t, result)
	assert.True(t, resp.Success)
	require.Len(t, resp.Responses, 1)
	assert.Equal(t, "Hello to you too", resp.Responses[0].Data["message"])
	assert.Equal(t, "u1", resp.Responses[0].Data["chatId"])
	assert.Equal(t, []string{"Hello to you too"}, h.out.Texts())
}

func TestProcessMessageTool_UnknownBot(t *testing.T) {
	h := newHarness(t)

	result, err := h.srv.handleProcessMessage(context.Background(), buildRequest("bot.process_message", map[string]any{
		"bot_id":  "ghost",
		"user_id": "u1",
		"text":    "hi",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestValidateTool(t *testing.T) {
	h := newHarness(t)

	result, err := h.srv.handleValidate(context.Background(), buildRequest("bot.validate", map[string]any{
		"schema": helloDoc(),
	}))
	require.NoError(t, err)
	ok := decodeResult[map[string]any](t, result)
	assert.Equal(t, true, ok["valid"])

	result, err = h.srv.handleValidate(context.Background(), buildRequest("bot.validate", map[string]any{
		"schema": map[string]any{"edges": []any{}},
	}))
	require.NoError(t, err)
	bad := decodeResult[map[string]any](t, result)
	assert.Equal(t, false, bad["valid"])
	assert.NotEmpty(t, bad["errors"])
}

func TestStatsTool(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	_, err := h.srv.handleProcessMessage(context.Background(), buildRequest("bot.process_message", map[string]any{
		"bot_id": "hello", "user_id": "u1", "text": "hello",
	}))
	require.NoError(t, err)

	result, err := h.srv.handleStats(context.Background(), buildRequest("bot.stats", nil))
	require.NoError(t, err)
	st := decodeResult[struct {
		Runtime dispatch.Stats `json:"runtime"`
		Errors  recovery.Stats `json:"errors"`
	}](t, result)
	assert.Equal(t, 1, st.Runtime.ActiveBots)
	assert.Equal(t, 1, st.Runtime.SessionsByPlatform[DefaultPlatform])
	assert.Zero(t, st.Errors.Total)
}

func TestStopUserTool(t *testing.T) {
	h := newHarness(t)

	result, err := h.srv.handleStopUser(context.Background(), buildRequest("bot.stop_user", map[string]any{
		"platform": "telegram", "user_id": "u1", "chat_id": "c1",
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"stopped": false}, decodeResult[map[string]bool](t, result))

	result, err = h.srv.handleStopUser(context.Background(), buildRequest("bot.stop_user", map[string]any{
		"platform": "telegram", "user_id": "u1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListTool(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	result, err := h.srv.handleList(context.Background(), buildRequest("bot.list", nil))
	require.NoError(t, err)
	list := decodeResult[struct {
		Bots []dispatch.BotInfo `json:"bots"`
	}](t, result)
	require.Len(t, list.Bots, 1)
	assert.Equal(t, "hello", list.Bots[0].ID)
}

func TestWatchTool_NeedsSession(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	result, err := h.srv.handleWatch(context.Background(), buildRequest("bot.watch", map[string]any{"bot_id": "hello"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = h.srv.handleWatch(context.Background(), buildRequest("bot.watch", map[string]any{"bot_id": "ghost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDiagramTool(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	result, err := h.srv.handleDiagram(context.Background(), buildRequest("bot.diagram", map[string]any{"bot_id": "hello"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	text := resultText(t, result)
	assert.Contains(t, text, "graph TD")
	assert.Contains(t, text, "c -->|false| no")
	assert.NotContains(t, text, "class c failed")

	result, err = h.srv.handleDiagram(context.Background(), buildRequest("bot.diagram", map[string]any{
		"bot_id": "hello",
		"run_id": "run-1",
		"format": "ascii",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), "[FAIL]")
}

func TestDiagramTool_Errors(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	for name, args := range map[string]map[string]any{
		"unknown bot":    {"bot_id": "ghost"},
		"unknown run":    {"bot_id": "hello", "run_id": "missing"},
		"foreign run":    {"bot_id": "hello", "run_id": "run-2"},
		"unknown format": {"bot_id": "hello", "format": "gif"},
	} {
		t.Run(name, func(t *testing.T) {
			result, err := h.srv.handleDiagram(context.Background(), buildRequest("bot.diagram", args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

func TestRelay_ForgetsGoneSessions(t *testing.T) {
	h := newHarness(t)
	h.srv.Sessions().Watch("hello", "gone")

	relay := h.srv.NewRelay()
	relay.deliver(streaming.ExecutionEvent{Type: schema.EventRunFinished, BotID: "hello"})

	assert.Empty(t, h.srv.Sessions().Watchers("hello"))
}

func TestRelay_RunStopsWithContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.srv.NewRelay().Run(ctx, h.hub) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
