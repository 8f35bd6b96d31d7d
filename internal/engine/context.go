package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/fusserg007/botconstructor/internal/expressions"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// ExecutionContext is the mutable state of one run. It is owned by exactly
// one run and never shared between goroutines.
type ExecutionContext struct {
	ExecutionID string         `json:"executionId"`
	SchemaID    string         `json:"schemaId,omitempty"`
	UserID      string         `json:"userId"`
	ChatID      string         `json:"chatId"`
	MessageID   string         `json:"messageId,omitempty"`
	Platform    string         `json:"platform"`
	Variables   map[string]any `json:"variables"`
	UserState   map[string]any `json:"userState"`
	StartedAt   time.Time      `json:"startedAt"`
}

// NewExecutionID returns "exec_" followed by a time-ordered UUID.
func NewExecutionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "exec_" + uuid.NewString()
	}
	return "exec_" + id.String()
}

// SystemInfo returns the run-level values exposed as system variables.
func (ec *ExecutionContext) SystemInfo() expressions.SystemInfo {
	return expressions.SystemInfo{
		UserID:      ec.UserID,
		ChatID:      ec.ChatID,
		Platform:    ec.Platform,
		ExecutionID: ec.ExecutionID,
		StartedAt:   ec.StartedAt,
	}
}

// TriggerData is the inbound event a run starts from.
type TriggerData struct {
	// Type is one of the schema.Trigger* kinds.
	Type         string         `json:"type"`
	Command      string         `json:"command,omitempty"`
	Text         string         `json:"text,omitempty"`
	CallbackData string         `json:"callbackData,omitempty"`
	// NodeID restricts matching to one trigger node. Schedule, event and
	// webhook triggers are always addressed this way.
	NodeID  string         `json:"nodeId,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ExecutionResult is what a run produced. Actions accumulated before a
// failure are always kept.
type ExecutionResult struct {
	ExecutionID     string           `json:"executionId"`
	Status          schema.RunStatus `json:"status"`
	Success         bool             `json:"success"`
	Actions         []schema.Action  `json:"actions"`
	Errors          []string         `json:"errors,omitempty"`
	Logs            []string         `json:"logs,omitempty"`
	Variables       map[string]any   `json:"variables"`
	UserState       map[string]any   `json:"userState"`
	WaitingForInput bool             `json:"waitingForInput"`
	InputVariable   string           `json:"inputVariable,omitempty"`
	NextNodes       []string         `json:"nextNodes,omitempty"`
	Hops            int              `json:"hops"`
}
