package schema

import "time"

// ActionType identifies a side-effect request emitted by a node.
type ActionType string

const (
	ActionSendMessage      ActionType = "send_message"
	ActionSendMedia        ActionType = "send_media"
	ActionDelay            ActionType = "delay"
	ActionSendNotification ActionType = "send_notification"
	ActionSaveData         ActionType = "save_data"
	ActionHTTPRequest      ActionType = "http_request"
	ActionLog              ActionType = "log"
)

// Action is a typed side-effect request produced during a run.
type Action struct {
	Type      ActionType     `json:"type"`
	NodeID    string         `json:"node_id,omitempty"`
	ChatID    string         `json:"chat_id,omitempty"`
	Text      string         `json:"text,omitempty"`
	MediaType string         `json:"media_type,omitempty"`
	MediaURL  string         `json:"media_url,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Fallback  bool           `json:"fallback,omitempty"`
}

// BotMessage is an inbound messenger event.
type BotMessage struct {
	UserID       string    `json:"userId"`
	ChatID       string    `json:"chatId"`
	MessageID    string    `json:"messageId,omitempty"`
	Text         string    `json:"text,omitempty"`
	Command      string    `json:"command,omitempty"`
	CallbackData string    `json:"callbackData,omitempty"`
	Platform     string    `json:"platform"`
	UserName     string    `json:"userName,omitempty"`
	FirstName    string    `json:"firstName,omitempty"`
	LastName     string    `json:"lastName,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
}

// Response item types.
const (
	ResponseMessage = "message"
	ResponseMedia   = "media"
	ResponseAction  = "action"
)

// ResponseItem is one delivery-agnostic entry of a BotResponse.
type ResponseItem struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// BotResponse is what the dispatch layer returns for one inbound event.
type BotResponse struct {
	Success   bool           `json:"success"`
	Responses []ResponseItem `json:"responses"`
	Errors    []string       `json:"errors,omitempty"`
	UserState map[string]any `json:"userState"`
}
