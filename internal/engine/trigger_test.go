package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fusserg007/botconstructor/pkg/schema"
)

func triggerSchema() *schema.BotSchema {
	return &schema.BotSchema{
		ID: "bot",
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTriggerCommand, Data: map[string]any{"command": "/start"}},
			{ID: "help", Type: schema.NodeTriggerCommand, Data: map[string]any{"command": "help"}},
			{ID: "order", Type: schema.NodeTriggerMessage, Data: map[string]any{"patterns": []any{"^order \\d+$"}}},
			{ID: "exact", Type: schema.NodeTriggerMessage, Data: map[string]any{"pattern": "Yes", "caseSensitive": true}},
			{ID: "any", Type: schema.NodeTriggerMessage},
			{ID: "buy", Type: schema.NodeTriggerCallback, Data: map[string]any{"callbackData": "buy"}},
			{ID: "cb", Type: schema.NodeTriggerCallback},
			{ID: "cron", Type: schema.NodeTriggerSchedule, Data: map[string]any{"cron": "0 9 * * *"}},
		},
	}
}

func TestMatchTrigger(t *testing.T) {
	e := New(NewRegistry(), nil)
	s := triggerSchema()

	tests := []struct {
		name string
		td   TriggerData
		want string
	}{
		{"command with slash", TriggerData{Type: schema.TriggerCommand, Command: "/start"}, "start"},
		{"command without slash", TriggerData{Type: schema.TriggerCommand, Command: "start"}, "start"},
		{"command with bot suffix and payload", TriggerData{Type: schema.TriggerCommand, Command: "/START@shop_bot ref42"}, "start"},
		{"command node without slash", TriggerData{Type: schema.TriggerCommand, Command: "/help"}, "help"},
		{"unknown command", TriggerData{Type: schema.TriggerCommand, Command: "/nope"}, ""},
		{"regex case-insensitive", TriggerData{Type: schema.TriggerMessage, Text: "ORDER 42"}, "order"},
		{"case-sensitive miss falls through", TriggerData{Type: schema.TriggerMessage, Text: "yes"}, "any"},
		{"case-sensitive hit", TriggerData{Type: schema.TriggerMessage, Text: "Yes"}, "exact"},
		{"callback exact", TriggerData{Type: schema.TriggerCallback, CallbackData: "buy"}, "buy"},
		{"callback any", TriggerData{Type: schema.TriggerCallback, CallbackData: "other"}, "cb"},
		{"schedule by node", TriggerData{Type: schema.TriggerSchedule, NodeID: "cron"}, "cron"},
		{"schedule wrong node", TriggerData{Type: schema.TriggerSchedule, NodeID: "x"}, ""},
		{"webhook none", TriggerData{Type: schema.TriggerWebhook}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := e.MatchTrigger(s, tt.td)
			if tt.want == "" {
				assert.Nil(t, n)
				return
			}
			if assert.NotNil(t, n) {
				assert.Equal(t, tt.want, n.ID)
			}
		})
	}
}

func TestMatchTrigger_InvalidPatternSkipped(t *testing.T) {
	e := New(NewRegistry(), nil)
	s := &schema.BotSchema{Nodes: []schema.Node{
		{ID: "bad", Type: schema.NodeTriggerMessage, Data: map[string]any{"patterns": []any{"("}}},
		{ID: "good", Type: schema.NodeTriggerMessage, Data: map[string]any{"patterns": []any{"hi"}}},
	}}
	n := e.MatchTrigger(s, TriggerData{Type: schema.TriggerMessage, Text: "hi"})
	if assert.NotNil(t, n) {
		assert.Equal(t, "good", n.ID)
	}
}

func TestNormalizeCommand(t *testing.T) {
	assert.Equal(t, "start", NormalizeCommand("/start"))
	assert.Equal(t, "start", NormalizeCommand("  Start  "))
	assert.Equal(t, "menu", NormalizeCommand("/menu@bot x y"))
	assert.Equal(t, "", NormalizeCommand(""))
}
