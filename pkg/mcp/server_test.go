package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBotServer(t *testing.T) {
	s := NewBotServer(Deps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.Sessions())
}

func TestToolRegistration(t *testing.T) {
	s := NewBotServer(Deps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 8)

	for _, name := range []string{
		"bot.process_message",
		"bot.register_schema",
		"bot.validate",
		"bot.stats",
		"bot.stop_user",
		"bot.list",
		"bot.watch",
		"bot.diagram",
	} {
		assert.NotNil(t, s.mcpServer.GetTool(name), "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		toolName    string
		description string
	}{
		{"bot.process_message", "Send an inbound messenger update to a registered bot"},
		{"bot.register_schema", "Validate and register a bot schema"},
		{"bot.validate", "Validate a bot schema without registering it"},
		{"bot.stop_user", "Stop the active run of one conversation"},
		{"bot.diagram", "Draw a registered bot, optionally colored by the node states of one run"},
	}

	s := NewBotServer(Deps{})

	for _, tc := range tests {
		t.Run(tc.toolName, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
