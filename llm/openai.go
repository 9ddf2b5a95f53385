package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultOpenAIModel      = "gpt-4o"
	defaultAzureAPIVersion  = "2024-06-01"
	defaultProviderTimeout  = 60 * time.Second
	maxErrorBodyBytes int64 = 4096
)

// OpenAIConfig configures an OpenAI-compatible provider. Setting
// AzureEndpoint switches to Azure OpenAI routing and authentication.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	AzureEndpoint   string
	AzureDeployment string
	AzureAPIVersion string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// OpenAIProvider implements Provider for the OpenAI chat completions API
// and the Azure OpenAI variant of it.
type OpenAIProvider struct {
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	model      string
	endpoint   string
	azure      bool
}

// OpenAI API structures
type openAIRequest struct {
	Model       string          `json:"model,omitempty"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// NewOpenAIProvider creates a new OpenAI-compatible provider
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		if cfg.AzureEndpoint != "" {
			return nil, fmt.Errorf("AZURE_OPENAI_API_KEY is required for the Azure OpenAI provider")
		}
		return nil, fmt.Errorf("OPENAI_API_KEY is required for the OpenAI provider")
	}

	p := &OpenAIProvider{
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

	if cfg.AzureEndpoint != "" {
		if cfg.AzureDeployment == "" {
			return nil, fmt.Errorf("AZURE_OPENAI_DEPLOYMENT is required for the Azure OpenAI provider")
		}
		version := cfg.AzureAPIVersion
		if version == "" {
			version = defaultAzureAPIVersion
		}
		p.azure = true
		p.endpoint = fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			strings.TrimSuffix(cfg.AzureEndpoint, "/"),
			url.PathEscape(cfg.AzureDeployment),
			url.QueryEscape(version),
		)
		if p.model == "" {
			p.model = cfg.AzureDeployment
		}
		return p, nil
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	p.endpoint = strings.TrimSuffix(baseURL, "/") + "/chat/completions"
	if p.model == "" {
		p.model = defaultOpenAIModel
	}
	return p, nil
}

// Name returns the name of this provider
func (p *OpenAIProvider) Name() string {
	if p.azure {
		return "Azure OpenAI"
	}
	return "OpenAI"
}

// Model returns the configured model or deployment.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Chat sends the conversation to the chat completions endpoint.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req = req.withDefaults()

	request := openAIRequest{
		Messages:    p.convertMessages(req.System, req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	// Azure routes by deployment, the model field is ignored there.
	if !p.azure {
		request.Model = p.model
	}
	if tools := p.convertTools(req.Tools); len(tools) > 0 {
		request.Tools = tools
		request.ToolChoice = "auto"
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
	if p.azure {
		httpReq.Header.Set("api-key", p.apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

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

	var openaiResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return p.convertResponse(&openaiResp), nil
}

// convertTools converts MCP tools to OpenAI format
func (p *OpenAIProvider) convertTools(mcpTools []mcp.Tool) []openAITool {
	if len(mcpTools) == 0 {
		return nil
	}

	tools := make([]openAITool, len(mcpTools))
	for i, mcpTool := range mcpTools {
		tools[i] = openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        mcpTool.Name,
				Description: mcpTool.Description,
				Parameters:  toolSchema(mcpTool),
			},
		}
	}
	return tools
}

// convertMessages converts a conversation to OpenAI format
func (p *OpenAIProvider) convertMessages(system string, history []Message) []openAIMessage {
	messages := make([]openAIMessage, 0, len(history)+1)

	if system != "" {
		messages = append(messages, openAIMessage{Role: string(RoleSystem), Content: system})
	}

	for _, msg := range history {
		switch msg.Role {
		case RoleAssistant:
			openaiMsg := openAIMessage{Role: string(RoleAssistant), Content: msg.Content}
			if len(msg.ToolCalls) > 0 {
				if msg.Content == "" {
					openaiMsg.Content = nil
				}
				for _, toolCall := range msg.ToolCalls {
					argBytes, _ := json.Marshal(toolCall.Arguments)
					openaiMsg.ToolCalls = append(openaiMsg.ToolCalls, openAIToolCall{
						ID:   toolCall.ID,
						Type: "function",
						Function: openAIFunctionCall{
							Name:      toolCall.Name,
							Arguments: string(argBytes),
						},
					})
				}
			}
			messages = append(messages, openaiMsg)
		case RoleTool:
			messages = append(messages, openAIMessage{
				Role:       string(RoleTool),
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		default:
			messages = append(messages, openAIMessage{Role: string(msg.Role), Content: msg.Content})
		}
	}

	return messages
}

// convertResponse converts an OpenAI response to the unified format
func (p *OpenAIProvider) convertResponse(resp *openAIResponse) *ChatResponse {
	out := &ChatResponse{
		Usage: TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	out.StopReason = choice.FinishReason
	if content, ok := choice.Message.Content.(string); ok {
		out.Text = content
	}

	for _, toolCall := range choice.Message.ToolCalls {
		if toolCall.Type != "" && toolCall.Type != "function" {
			continue
		}
		var arguments map[string]any
		if toolCall.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &arguments); err != nil {
				p.logger.Warn("Failed to parse tool arguments", "error", err, "arguments", toolCall.Function.Arguments)
			}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        toolCall.ID,
			Name:      toolCall.Function.Name,
			Arguments: arguments,
		})
	}
	return out
}
