package dispatch

import (
	"maps"

	"github.com/fusserg007/botconstructor/internal/recovery"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// responseItem translates one engine action into its delivery-agnostic
// response entry.
func responseItem(a schema.Action) schema.ResponseItem {
	switch a.Type {
	case schema.ActionSendMessage:
		data := map[string]any{
			"chatId":  a.ChatID,
			"message": a.Text,
			"options": optionsOf(a),
		}
		if a.Fallback {
			data["fallback"] = true
		}
		return schema.ResponseItem{Type: schema.ResponseMessage, Data: data}
	case schema.ActionSendMedia:
		return schema.ResponseItem{Type: schema.ResponseMedia, Data: map[string]any{
			"chatId":    a.ChatID,
			"mediaType": a.MediaType,
			"url":       a.MediaURL,
			"options":   optionsOf(a),
		}}
	default:
		data := maps.Clone(a.Data)
		if data == nil {
			data = make(map[string]any)
		}
		data["action"] = string(a.Type)
		if a.NodeID != "" {
			data["nodeId"] = a.NodeID
		}
		if a.ChatID != "" {
			data["chatId"] = a.ChatID
		}
		if a.Text != "" {
			data["text"] = a.Text
		}
		return schema.ResponseItem{Type: schema.ResponseAction, Data: data}
	}
}

func optionsOf(a schema.Action) map[string]any {
	if a.Options == nil {
		return map[string]any{}
	}
	return a.Options
}

func responseItems(actions []schema.Action) []schema.ResponseItem {
	items := make([]schema.ResponseItem, 0, len(actions))
	for _, a := range actions {
		items = append(items, responseItem(a))
	}
	return items
}

// fallbackResponse is what a caller gets when processing itself failed.
func fallbackResponse(chatID string, err error) *schema.BotResponse {
	return &schema.BotResponse{
		Success: false,
		Responses: []schema.ResponseItem{{
			Type: schema.ResponseMessage,
			Data: map[string]any{
				"chatId":   chatID,
				"message":  recovery.DispatchFallbackText,
				"options":  map[string]any{},
				"fallback": true,
			},
		}},
		Errors:    []string{err.Error()},
		UserState: map[string]any{},
	}
}
