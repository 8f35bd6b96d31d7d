package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/fusserg007/botconstructor/internal/streaming"
)

// Relay pushes hub events to the MCP sessions watching the event's bot.
type Relay struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
	logger    *slog.Logger
}

// NewRelay creates a relay for the server's watchers.
func (s *BotServer) NewRelay() *Relay {
	return &Relay{mcpServer: s.mcpServer, sessions: s.sessions, logger: s.logger}
}

// Run forwards events until ctx is done.
func (r *Relay) Run(ctx context.Context, hub streaming.EventHub) error {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(ev)
		}
	}
}

// deliver is best effort: sessions that are gone are forgotten.
func (r *Relay) deliver(ev streaming.ExecutionEvent) {
	payload := map[string]any{
		"type":         ev.Type,
		"bot_id":       ev.BotID,
		"execution_id": ev.ExecutionID,
		"node_id":      ev.NodeID,
		"user_id":      ev.UserID,
		"chat_id":      ev.ChatID,
		"data":         ev.Data,
		"timestamp":    ev.Timestamp,
	}
	for _, sid := range r.sessions.Watchers(ev.BotID) {
		err := r.mcpServer.SendNotificationToSpecificClient(sid, "notifications/message", payload)
		if errors.Is(err, server.ErrSessionNotFound) {
			r.sessions.Remove(sid)
			continue
		}
		if err != nil {
			r.logger.Debug("event not relayed", "session", sid, "error", err)
		}
	}
}
