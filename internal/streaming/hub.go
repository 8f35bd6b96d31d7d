package streaming

import (
	"context"
	"time"
)

// ExecutionEvent is a real-time event emitted while a bot schema runs.
type ExecutionEvent struct {
	Type        string         `json:"type"`
	ExecutionID string         `json:"execution_id,omitempty"`
	BotID       string         `json:"bot_id,omitempty"`
	NodeID      string         `json:"node_id,omitempty"`
	NodeType    string         `json:"node_type,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	ChatID      string         `json:"chat_id,omitempty"`
	Platform    string         `json:"platform,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// EventFilter selects events for a subscriber. Empty fields match all.
type EventFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	BotID       string   `json:"bot_id,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	Types       []string `json:"types,omitempty"`
}

// EventHub provides pub/sub for execution events.
type EventHub interface {
	Publish(ctx context.Context, event ExecutionEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan ExecutionEvent, func(), error)
}
