package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fusserg007/botconstructor/internal/adapter"
	"github.com/fusserg007/botconstructor/internal/diagram"
	"github.com/fusserg007/botconstructor/internal/store"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// DefaultPlatform tags messages sent through bot.process_message without a
// platform.
const DefaultPlatform = "mcp"

// handleProcessMessage runs one inbound update and returns the BotResponse.
func (s *BotServer) handleProcessMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	botID, err := req.RequireString("bot_id")
	if err != nil {
		return mcp.NewToolResultError("bot_id is required"), nil
	}
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	if _, ok := s.deps.Dispatcher.Schema(botID); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("bot %q is not registered", botID)), nil
	}

	msg := schema.BotMessage{
		UserID:       userID,
		ChatID:       req.GetString("chat_id", userID),
		Text:         req.GetString("text", ""),
		Command:      req.GetString("command", ""),
		CallbackData: req.GetString("callback_data", ""),
		Platform:     req.GetString("platform", DefaultPlatform),
		FirstName:    req.GetString("first_name", ""),
		Timestamp:    time.Now().UTC(),
	}

	resp := s.deps.Dispatcher.ProcessMessage(ctx, botID, msg, s.messenger(msg.Platform))
	return marshalResult(resp)
}

// handleRegisterSchema validates and loads a schema.
func (s *BotServer) handleRegisterSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	botID, err := req.RequireString("bot_id")
	if err != nil {
		return mcp.NewToolResultError("bot_id is required"), nil
	}
	doc, errResult := schemaArg(req)
	if errResult != nil {
		return errResult, nil
	}

	var (
		bot      *schema.BotSchema
		warnings []schema.ValidationIssue
	)
	if s.deps.Validator != nil {
		var res *schema.ValidationResult
		bot, res = s.deps.Validator.ValidateDocument(doc)
		if !res.Valid() {
			return mcp.NewToolResultError(res.Summary()), nil
		}
		warnings = res.Warnings
	} else if bot, err = schema.ParseBotSchema(doc); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid schema: %v", err)), nil
	}
	bot.ID = botID

	if s.deps.Store != nil {
		now := time.Now().UTC()
		if err := s.deps.Store.SaveBot(ctx, &store.BotRecord{
			ID:         botID,
			Name:       bot.Name,
			Version:    bot.Version,
			Definition: doc,
			CreatedAt:  now,
			UpdatedAt:  now,
		}); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to store bot: %v", err)), nil
		}
	}

	if err := s.deps.Dispatcher.RegisterBotSchema(botID, bot); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("register failed: %v", err)), nil
	}

	return marshalResult(map[string]any{
		"id":       botID,
		"nodes":    len(bot.Nodes),
		"warnings": issues(warnings),
	})
}

func (s *BotServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.Validator == nil {
		return mcp.NewToolResultError("no validator configured"), nil
	}
	doc, errResult := schemaArg(req)
	if errResult != nil {
		return errResult, nil
	}
	_, res := s.deps.Validator.ValidateDocument(doc)
	return marshalResult(map[string]any{
		"valid":    res.Valid(),
		"errors":   issues(res.Errors),
		"warnings": issues(res.Warnings),
	})
}

func (s *BotServer) handleStats(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	errs := s.deps.Dispatcher.Engine().Errors()
	st := errs.Stats()
	st.Recent = errs.Log().Recent(max(mcp.ParseInt(req, "errors", 10), 0))
	return marshalResult(map[string]any{
		"runtime": s.deps.Dispatcher.Stats(),
		"errors":  st,
	})
}

func (s *BotServer) handleStopUser(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	platform, err := req.RequireString("platform")
	if err != nil {
		return mcp.NewToolResultError("platform is required"), nil
	}
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	chatID, err := req.RequireString("chat_id")
	if err != nil {
		return mcp.NewToolResultError("chat_id is required"), nil
	}
	return marshalResult(map[string]any{
		"stopped": s.deps.Dispatcher.StopUserExecution(platform, userID, chatID),
	})
}

func (s *BotServer) handleList(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(map[string]any{"bots": s.deps.Dispatcher.Bots()})
}

// handleWatch binds the calling session to a bot's events; a Relay
// delivers them.
func (s *BotServer) handleWatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	botID, err := req.RequireString("bot_id")
	if err != nil {
		return mcp.NewToolResultError("bot_id is required"), nil
	}
	if _, ok := s.deps.Dispatcher.Schema(botID); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("bot %q is not registered", botID)), nil
	}
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return mcp.NewToolResultError("bot.watch needs a session-bound transport"), nil
	}
	s.sessions.Watch(botID, session.SessionID())
	return marshalResult(map[string]any{"ok": true, "bot_id": botID})
}

func (s *BotServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	botID, err := req.RequireString("bot_id")
	if err != nil {
		return mcp.NewToolResultError("bot_id is required"), nil
	}
	bot, ok := s.deps.Dispatcher.Schema(botID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("bot %q is not registered", botID)), nil
	}

	var trace *store.RunTrace
	if runID := req.GetString("run_id", ""); runID != "" {
		if s.deps.Runs == nil {
			return mcp.NewToolResultError("run history is not recorded"), nil
		}
		trace, err = s.deps.Runs.ReplayRun(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if trace.BotID != botID {
			return mcp.NewToolResultError(fmt.Sprintf("run %q does not belong to bot %q", runID, botID)), nil
		}
	}

	model, err := diagram.Build(bot, trace)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	switch format := req.GetString("format", "mermaid"); format {
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "svg":
		svg, err := diagram.RenderSVG(ctx, model)
		if err != nil {
			s.logger.Error("diagram render failed", "bot_id", botID, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(svg)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown diagram format %q", format)), nil
	}
}

// --- Internal helpers ---

func (s *BotServer) messenger(platform string) adapter.Messenger {
	if s.deps.Messenger == nil {
		return nil
	}
	return s.deps.Messenger(platform)
}

// schemaArg re-encodes the schema object argument as a JSON document.
func schemaArg(req mcp.CallToolRequest) ([]byte, *mcp.CallToolResult) {
	raw := mcp.ParseStringMap(req, "schema", nil)
	if raw == nil {
		return nil, mcp.NewToolResultError("schema is required")
	}
	doc, err := json.Marshal(raw)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid schema: %v", err))
	}
	return doc, nil
}

func issues(in []schema.ValidationIssue) []schema.ValidationIssue {
	if in == nil {
		return []schema.ValidationIssue{}
	}
	return in
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
