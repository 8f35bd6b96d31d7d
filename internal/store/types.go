package store

import (
	"encoding/json"
	"time"
)

// BotRecord is a registered bot schema as stored.
type BotRecord struct {
	ID         string          `json:"id"`
	Name       string          `json:"name,omitempty"`
	Version    string          `json:"version,omitempty"`
	Definition json.RawMessage `json:"definition"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// DataRecord is one row written by a save-data node.
type DataRecord struct {
	ID          string         `json:"id"`
	BotID       string         `json:"bot_id,omitempty"`
	Collection  string         `json:"collection"`
	ExecutionID string         `json:"execution_id,omitempty"`
	NodeID      string         `json:"node_id,omitempty"`
	Platform    string         `json:"platform,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	ChatID      string         `json:"chat_id,omitempty"`
	Data        map[string]any `json:"data"`
	CreatedAt   time.Time      `json:"created_at"`
}

// RecordFilter narrows ListRecords.
type RecordFilter struct {
	BotID      string
	Collection string
	UserID     string
	Limit      int
}

// Event is an immutable entry of a run's history.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	BotID       string          `json:"bot_id,omitempty"`
	NodeID      string          `json:"node_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// EventFilter narrows GetEventsByType.
type EventFilter struct {
	BotID string
	Since time.Time
	Limit int
}
