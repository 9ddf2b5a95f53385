package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicProvider_Chat(t *testing.T) {
	var captured map[string]any
	var key, version, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("x-api-key")
		version = r.Header.Get("anthropic-version")
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)

		w.Write([]byte(`{
			"id": "msg_1",
			"stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "Calling the API."},
				{"type": "tool_use", "id": "toolu_1", "name": "echo", "input": {"message": "hi"}}
			],
			"usage": {"input_tokens": 20, "output_tokens": 8}
		}`))
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "ant-key", BaseURL: srv.URL, Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, defaultAnthropicModel, p.Model())

	resp, err := p.Chat(context.Background(), ChatRequest{
		System: "system text",
		Messages: []Message{
			{Role: RoleUser, Content: "do two things"},
			{Role: RoleAssistant, Content: "ok", ToolCalls: []ToolCall{
				{ID: "a", Name: "echo", Arguments: map[string]any{"message": "1"}},
				{ID: "b", Name: "echo"},
			}},
			{Role: RoleTool, ToolCallID: "a", Content: "1"},
			{Role: RoleTool, ToolCallID: "b", Content: "2"},
		},
		Tools:       []mcp.Tool{echoTool()},
		Temperature: 0.3,
	})
	require.NoError(t, err)

	assert.Equal(t, "ant-key", key)
	assert.Equal(t, anthropicVersion, version)
	assert.Equal(t, "/v1/messages", path)
	assert.Equal(t, "system text", captured["system"])
	assert.InDelta(t, 0.3, captured["temperature"], 1e-9)

	messages := captured["messages"].([]any)
	require.Len(t, messages, 3, "both tool results share one user message")

	assistant := messages[1].(map[string]any)
	blocks := assistant["content"].([]any)
	require.Len(t, blocks, 3)
	assert.Equal(t, "text", blocks[0].(map[string]any)["type"])
	assert.Equal(t, map[string]any{}, blocks[2].(map[string]any)["input"])

	results := messages[2].(map[string]any)
	assert.Equal(t, "user", results["role"])
	resultBlocks := results["content"].([]any)
	require.Len(t, resultBlocks, 2)
	assert.Equal(t, "b", resultBlocks[1].(map[string]any)["tool_use_id"])

	tools := captured["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Contains(t, tools[0].(map[string]any), "input_schema")

	assert.Equal(t, "Calling the API.", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"message": "hi"}, resp.ToolCalls[0].Arguments)
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, 20, resp.Usage.InputTokens)
}

func TestAnthropicProvider_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: srv.URL, Logger: quietLogger()})
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}
