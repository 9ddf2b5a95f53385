package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	anthropicVersion        = "2023-06-01"
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// AnthropicProvider implements Provider for Anthropic's Messages API
type AnthropicProvider struct {
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	model      string
	endpoint   string
}

// Anthropic API structures
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Usage      anthropicUsage          `json:"usage"`
	StopReason string                  `json:"stop_reason"`
}

type anthropicContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	Input map[string]any `json:"input,omitempty"`
	Name  string         `json:"name,omitempty"`
	ID    string         `json:"id,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the Anthropic provider")
	}

	p := &AnthropicProvider{
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		model:      cfg.Model,
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: defaultProviderTimeout}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.model == "" {
		p.model = defaultAnthropicModel
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	p.endpoint = strings.TrimSuffix(baseURL, "/") + "/v1/messages"
	return p, nil
}

// Name returns the name of this provider
func (p *AnthropicProvider) Name() string {
	return "Anthropic"
}

// Model returns the configured model.
func (p *AnthropicProvider) Model() string {
	return p.model
}

// Chat sends the conversation to the Messages API.
func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req = req.withDefaults()

	request := anthropicRequest{
		Model:       p.model,
		Messages:    p.convertMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Tools:       p.convertTools(req.Tools),
		Temperature: req.Temperature,
	}

	reqBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	p.logger.Debug("Sending chat request", "provider", p.Name(), "model", p.model, "messages", len(request.Messages), "tools", len(request.Tools))

	startTime := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	p.logger.Info("Chat request completed", "provider", p.Name(), "status", resp.StatusCode, "duration", time.Since(startTime))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &APIError{Provider: p.Name(), StatusCode: resp.StatusCode, Body: string(body)}
	}

	var anthropicResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&anthropicResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return p.convertResponse(&anthropicResp), nil
}

// convertTools converts MCP tools to Anthropic format
func (p *AnthropicProvider) convertTools(mcpTools []mcp.Tool) []anthropicTool {
	if len(mcpTools) == 0 {
		return nil
	}

	tools := make([]anthropicTool, len(mcpTools))
	for i, mcpTool := range mcpTools {
		tools[i] = anthropicTool{
			Name:        mcpTool.Name,
			Description: mcpTool.Description,
			InputSchema: toolSchema(mcpTool),
		}
	}
	return tools
}

// convertMessages converts a conversation to Anthropic format. Tool results
// become tool_result blocks, and results following the same assistant turn
// share one user message.
func (p *AnthropicProvider) convertMessages(history []Message) []anthropicMessage {
	messages := make([]anthropicMessage, 0, len(history))

	for _, msg := range history {
		switch msg.Role {
		case RoleTool:
			block := map[string]any{
				"type":        "tool_result",
				"tool_use_id": msg.ToolCallID,
				"content":     msg.Content,
			}
			if n := len(messages); n > 0 && messages[n-1].Role == string(RoleUser) {
				if blocks, ok := messages[n-1].Content.([]any); ok && isToolResults(blocks) {
					messages[n-1].Content = append(blocks, block)
					continue
				}
			}
			messages = append(messages, anthropicMessage{Role: string(RoleUser), Content: []any{block}})

		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, anthropicMessage{Role: string(RoleAssistant), Content: msg.Content})
				continue
			}
			content := make([]any, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				content = append(content, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, toolCall := range msg.ToolCalls {
				input := toolCall.Arguments
				if input == nil {
					input = map[string]any{}
				}
				content = append(content, map[string]any{
					"type":  "tool_use",
					"id":    toolCall.ID,
					"name":  toolCall.Name,
					"input": input,
				})
			}
			messages = append(messages, anthropicMessage{Role: string(RoleAssistant), Content: content})

		default:
			messages = append(messages, anthropicMessage{Role: string(RoleUser), Content: msg.Content})
		}
	}

	return messages
}

func isToolResults(blocks []any) bool {
	for _, b := range blocks {
		m, ok := b.(map[string]any)
		if !ok || m["type"] != "tool_result" {
			return false
		}
	}
	return len(blocks) > 0
}

// convertResponse converts an Anthropic response to the unified format
func (p *AnthropicProvider) convertResponse(resp *anthropicResponse) *ChatResponse {
	out := &ChatResponse{
		Usage: TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		StopReason: resp.StopReason,
	}

	textParts := make([]string, 0, len(resp.Content))
	for _, content := range resp.Content {
		switch content.Type {
		case "text":
			if content.Text != "" {
				textParts = append(textParts, content.Text)
			}
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        content.ID,
				Name:      content.Name,
				Arguments: content.Input,
			})
		default:
			p.logger.Warn("Unknown content type", "type", content.Type)
		}
	}
	out.Text = strings.Join(textParts, "\n")
	return out
}
