// Package llm holds the chat-with-tools clients the agents talk to.
// Providers are stateless: every Chat call carries the full conversation.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Role of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single message in a conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // Tool calls made by assistant
	ToolCallID string     `json:"tool_call_id,omitempty"` // ID for tool response messages
	Name       string     `json:"name,omitempty"`         // Tool name for tool response messages
}

// ToolCall is a model's request to run a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatRequest is one round trip to a model.
type ChatRequest struct {
	System      string
	Messages    []Message
	Tools       []mcp.Tool
	MaxTokens   int
	Temperature float64
}

// ChatResponse is a unified response from any provider.
type ChatResponse struct {
	Text       string
	ToolCalls  []ToolCall
	Usage      TokenUsage
	StopReason string
}

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Provider is implemented by every model backend.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Model() string
}

// APIError is returned when a provider answers with a non-2xx status.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API request failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

const defaultMaxTokens = 4000

func (r ChatRequest) withDefaults() ChatRequest {
	if r.MaxTokens <= 0 {
		r.MaxTokens = defaultMaxTokens
	}
	return r
}

// toolSchema returns the JSON schema of a tool's input as a generic map.
// Tools built from a raw schema and tools built with mcp-go's options are
// both supported.
func toolSchema(tool mcp.Tool) map[string]any {
	if len(tool.RawInputSchema) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(tool.RawInputSchema, &schema); err == nil {
			return schema
		}
	}

	properties := tool.InputSchema.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(tool.InputSchema.Required) > 0 {
		schema["required"] = tool.InputSchema.Required
	}
	return schema
}
