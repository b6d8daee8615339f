package mcp

import (
	"context"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer is shared by the prompt tests. The prompt handlers never reach
// the agentctx backend, so it is built with no fakes (see newTestServer in
// tools_test.go).
var testServer = newTestServer(nil, nil, nil)

func TestRegisterPrompts(t *testing.T) {
	// Verify the server and its underlying MCP server were created.
	assert.NotNil(t, testServer, "testServer should be initialized")
	assert.NotNil(t, testServer.mcpServer, "MCPServer should be initialized")
}

func TestBeforeDecisionPrompt(t *testing.T) {
	ctx := context.Background()

	result, err := testServer.handleBeforeDecisionPrompt(ctx, mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{
			Name:      "before-decision",
			Arguments: map[string]string{"topic": "caching strategy"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Contains(t, result.Description, "caching strategy",
		"description should reference the topic")
	require.NotEmpty(t, result.Messages, "expected at least one message")

	msg := result.Messages[0]
	assert.Equal(t, mcplib.RoleUser, msg.Role)

	tc, ok := msg.Content.(mcplib.TextContent)
	require.True(t, ok, "message content should be TextContent")
	assert.Contains(t, tc.Text, "deciolog_check",
		"prompt should instruct the agent to call deciolog_check")
	assert.Contains(t, tc.Text, "deciolog_remember",
		"prompt should instruct the agent to call deciolog_remember after")
	assert.Contains(t, tc.Text, "caching strategy",
		"prompt should reference the specific topic")
}

func TestBeforeDecisionPrompt_MissingTopic(t *testing.T) {
	ctx := context.Background()

	_, err := testServer.handleBeforeDecisionPrompt(ctx, mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{
			Name:      "before-decision",
			Arguments: map[string]string{},
		},
	})
	require.Error(t, err, "should error when topic is missing")
	assert.Contains(t, err.Error(), "topic")
}

func TestBeforeDecisionPrompt_EmptyTopic(t *testing.T) {
	ctx := context.Background()

	_, err := testServer.handleBeforeDecisionPrompt(ctx, mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{
			Name:      "before-decision",
			Arguments: map[string]string{"topic": ""},
		},
	})
	require.Error(t, err, "should error when topic is empty")
	assert.Contains(t, err.Error(), "topic")
}

func TestAfterDecisionPrompt(t *testing.T) {
	ctx := context.Background()

	result, err := testServer.handleAfterDecisionPrompt(ctx, mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{
			Name: "after-decision",
			Arguments: map[string]string{
				"topic":   "transport security",
				"outcome": "chose mTLS",
			},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Contains(t, result.Description, "transport security",
		"description should reference the topic")
	require.NotEmpty(t, result.Messages)

	msg := result.Messages[0]
	assert.Equal(t, mcplib.RoleUser, msg.Role)

	tc, ok := msg.Content.(mcplib.TextContent)
	require.True(t, ok, "message content should be TextContent")
	assert.Contains(t, tc.Text, "deciolog_remember",
		"prompt should instruct the agent to call deciolog_remember")
	assert.Contains(t, tc.Text, "transport security",
		"prompt should reference the specific topic")
	assert.Contains(t, tc.Text, "chose mTLS",
		"prompt should include the outcome")
}

func TestAfterDecisionPrompt_MissingFields(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]string
	}{
		{
			name: "missing both",
			args: map[string]string{},
		},
		{
			name: "missing outcome",
			args: map[string]string{"topic": "architecture"},
		},
		{
			name: "missing topic",
			args: map[string]string{"outcome": "test"},
		},
		{
			name: "empty topic",
			args: map[string]string{"topic": "", "outcome": "test"},
		},
		{
			name: "empty outcome",
			args: map[string]string{"topic": "architecture", "outcome": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testServer.handleAfterDecisionPrompt(ctx, mcplib.GetPromptRequest{
				Params: mcplib.GetPromptParams{
					Name:      "after-decision",
					Arguments: tt.args,
				},
			})
			require.Error(t, err, "should error when required fields are missing")
			assert.Contains(t, err.Error(), "required")
		})
	}
}

func TestAgentSetupPrompt(t *testing.T) {
	ctx := context.Background()

	result, err := testServer.handleAgentSetupPrompt(ctx, mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{
			Name: "agent-setup",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.NotEmpty(t, result.Description)
	require.NotEmpty(t, result.Messages)

	msg := result.Messages[0]
	assert.Equal(t, mcplib.RoleUser, msg.Role)

	tc, ok := msg.Content.(mcplib.TextContent)
	require.True(t, ok, "message content should be TextContent")

	// Verify key sections of the setup prompt.
	assert.Contains(t, tc.Text, "Check Before",
		"setup prompt should explain check-before workflow")
	assert.Contains(t, tc.Text, "deciolog_summary",
		"setup prompt should mention deciolog_summary tool")
	assert.Contains(t, tc.Text, "deciolog_check",
		"setup prompt should mention deciolog_check tool")
	assert.Contains(t, tc.Text, "deciolog_context",
		"setup prompt should mention deciolog_context tool")
	assert.Contains(t, tc.Text, "deciolog_remember",
		"setup prompt should mention deciolog_remember tool")
	assert.Contains(t, tc.Text, "Confidence",
		"setup prompt should explain confidence levels")
	assert.Contains(t, tc.Text, "Scopes",
		"setup prompt should list scopes")
}

func TestAgentSetupPrompt_NoArgs(t *testing.T) {
	ctx := context.Background()

	// agent-setup takes no arguments. Calling with empty args should work.
	result, err := testServer.handleAgentSetupPrompt(ctx, mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{
			Name:      "agent-setup",
			Arguments: map[string]string{},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.Messages)
}

func TestBeforeDecisionPrompt_VariousTopics(t *testing.T) {
	ctx := context.Background()

	topics := []string{"architecture", "security", "model selection", "trade-off", "deployment"}
	for _, topic := range topics {
		t.Run(topic, func(t *testing.T) {
			result, err := testServer.handleBeforeDecisionPrompt(ctx, mcplib.GetPromptRequest{
				Params: mcplib.GetPromptParams{
					Name:      "before-decision",
					Arguments: map[string]string{"topic": topic},
				},
			})
			require.NoError(t, err)
			require.NotNil(t, result)
			assert.Contains(t, result.Description, topic)

			tc, ok := result.Messages[0].Content.(mcplib.TextContent)
			require.True(t, ok)
			// The template puts the topic in the opening line and in the
			// suggested deciolog_check query.
			assert.Contains(t, tc.Text, topic)
		})
	}
}
