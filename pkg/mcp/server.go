// Package mcp exposes a running bot dispatcher as MCP tools, so an agent can
// register schemas, drive conversations and watch their events.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fusserg007/botconstructor/internal/adapter"
	"github.com/fusserg007/botconstructor/internal/dispatch"
	"github.com/fusserg007/botconstructor/internal/store"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// DocumentValidator checks a raw schema document.
type DocumentValidator interface {
	ValidateDocument(data []byte) (*schema.BotSchema, *schema.ValidationResult)
}

// BotSaver persists registered schemas.
type BotSaver interface {
	SaveBot(ctx context.Context, bot *store.BotRecord) error
}

// RunReplayer rebuilds a recorded run for diagram overlays.
type RunReplayer interface {
	ReplayRun(ctx context.Context, executionID string) (*store.RunTrace, error)
}

// Deps holds the dependencies for creating a BotServer. Dispatcher is
// required.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Validator  DocumentValidator
	Store      BotSaver
	Runs       RunReplayer
	Messenger  func(platform string) adapter.Messenger
	Logger     *slog.Logger
}

// BotServer wraps an MCP server with the bot tool handlers.
type BotServer struct {
	deps      Deps
	logger    *slog.Logger
	sessions  *SessionRegistry
	mcpServer *server.MCPServer
}

// NewBotServer creates a BotServer with every tool registered.
func NewBotServer(deps Deps) *BotServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &BotServer{
		deps:     deps,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"botrunner",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Bot runtime for visual chat-bot schemas. Use bot.register_schema to load a schema, bot.process_message to talk to it as a messenger user, bot.validate to check a schema without loading it, bot.stats and bot.list to inspect the runtime, bot.stop_user to abort a user's run, bot.diagram to draw a bot and the path a run took through it, and bot.watch to receive a bot's execution events as notifications."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *BotServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *BotServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the watcher registry fed by bot.watch.
func (s *BotServer) Sessions() *SessionRegistry {
	return s.sessions
}

func (s *BotServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: processMessageTool(), Handler: s.handleProcessMessage},
		{Tool: registerSchemaTool(), Handler: s.handleRegisterSchema},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: statsTool(), Handler: s.handleStats},
		{Tool: stopUserTool(), Handler: s.handleStopUser},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: watchTool(), Handler: s.handleWatch},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func processMessageTool() mcp.Tool {
	return mcp.NewTool("bot.process_message",
		mcp.WithDescription("Send an inbound messenger update to a registered bot"),
		mcp.WithString("bot_id", mcp.Required(), mcp.Description("ID of the registered bot")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Messenger user ID")),
		mcp.WithString("chat_id", mcp.Description("Chat ID (default: user_id)")),
		mcp.WithString("text", mcp.Description("Message text; a leading / makes it a command")),
		mcp.WithString("command", mcp.Description("Explicit command, e.g. /start")),
		mcp.WithString("callback_data", mcp.Description("Inline button payload")),
		mcp.WithString("platform", mcp.Description("Messenger platform (default: mcp)")),
		mcp.WithString("first_name", mcp.Description("User's first name")),
	)
}

func registerSchemaTool() mcp.Tool {
	return mcp.NewTool("bot.register_schema",
		mcp.WithDescription("Validate and register a bot schema"),
		mcp.WithString("bot_id", mcp.Required(), mcp.Description("ID to register the bot under")),
		mcp.WithObject("schema", mcp.Required(), mcp.Description("Bot schema document with nodes, edges and variables")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("bot.validate",
		mcp.WithDescription("Validate a bot schema without registering it"),
		mcp.WithObject("schema", mcp.Required(), mcp.Description("Bot schema document")),
	)
}

func statsTool() mcp.Tool {
	return mcp.NewTool("bot.stats",
		mcp.WithDescription("Report runtime statistics and recent errors"),
		mcp.WithNumber("errors", mcp.Description("How many recent errors to include (default: 10)")),
	)
}

func stopUserTool() mcp.Tool {
	return mcp.NewTool("bot.stop_user",
		mcp.WithDescription("Stop the active run of one conversation"),
		mcp.WithString("platform", mcp.Required(), mcp.Description("Messenger platform")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Messenger user ID")),
		mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat ID")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("bot.list",
		mcp.WithDescription("List registered bots"),
	)
}

func watchTool() mcp.Tool {
	return mcp.NewTool("bot.watch",
		mcp.WithDescription("Receive a bot's execution events as notifications on this session"),
		mcp.WithString("bot_id", mcp.Required(), mcp.Description("ID of the bot to watch")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("bot.diagram",
		mcp.WithDescription("Draw a registered bot, optionally colored by the node states of one run"),
		mcp.WithString("bot_id", mcp.Required(), mcp.Description("ID of the registered bot")),
		mcp.WithString("format", mcp.Enum("mermaid", "ascii", "svg"), mcp.Description("Output format (default: mermaid)")),
		mcp.WithString("run_id", mcp.Description("Execution ID whose node states to overlay")),
	)
}
