package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ToolName is the name the connector is registered under.
const ToolName = "unified_endpoint_connector"

const toolDescription = "Performs exactly one HTTP request against the target API and returns the " +
	"status code and response body as JSON. Use the method and path of an operation from the " +
	"OpenAPI document, substitute every {placeholder} through path_params, and pass query " +
	"parameters, headers and a JSON body where the operation needs them. Failures such as " +
	"\"Error 404: Not Found\" are returned as tool errors; report them instead of retrying."

// ToolOptions configures the MCP tool wrapper.
type ToolOptions struct {
	// BaseURL is used when the caller omits base_url.
	BaseURL string
	Logger  *slog.Logger
}

// toolArgs mirrors the tool's input schema.
type toolArgs struct {
	BaseURL     string            `json:"base_url"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	PathParams  map[string]any    `json:"path_params"`
	QueryParams Params            `json:"query_params"`
	Headers     map[string]string `json:"headers"`
	Body        any               `json:"body"`
	TimeoutMS   float64           `json:"timeout_ms"`
}

// Tool exposes a Connector as an MCP tool.
type Tool struct {
	conn    *Connector
	baseURL string
	logger  *slog.Logger
}

// NewTool wraps conn as the unified_endpoint_connector tool.
func NewTool(conn *Connector, opts ToolOptions) *Tool {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{
		conn:    conn,
		baseURL: opts.BaseURL,
		logger:  logger,
	}
}

// Name returns the tool's unique identifier
func (t *Tool) Name() string {
	return ToolName
}

// Tool creates and returns the MCP tool definition
func (t *Tool) Tool() mcp.Tool {
	return mcp.NewToolWithRawSchema(ToolName, toolDescription, t.schema())
}

// ServerTool pairs the definition with its handler for registration on an
// MCP server.
func (t *Tool) ServerTool() server.ServerTool {
	return server.ServerTool{
		Tool:    t.Tool(),
		Handler: t.Handler,
	}
}

func (t *Tool) schema() json.RawMessage {
	methods := make([]string, 0, len(Methods))
	for _, m := range Methods {
		methods = append(methods, string(m))
	}

	baseURL := map[string]any{
		"type":        "string",
		"description": "Absolute http(s) base URL of the API, e.g. https://api.example.com/v1",
	}
	required := []string{"method", "path"}
	if t.baseURL == "" {
		required = append([]string{"base_url"}, required...)
	} else {
		baseURL["description"] = fmt.Sprintf("Base URL of the API. Defaults to %s", t.baseURL)
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"base_url": baseURL,
			"method": map[string]any{
				"type":        "string",
				"enum":        methods,
				"description": "HTTP method of the operation",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Operation path as written in the OpenAPI document, e.g. /users/{user_id}",
			},
			"path_params": map[string]any{
				"type":                 "object",
				"description":          "Values for every {placeholder} in path",
				"additionalProperties": map[string]any{"type": []string{"string", "number", "integer", "boolean"}},
			},
			"query_params": map[string]any{
				"type":                 "object",
				"description":          "Query string parameters",
				"additionalProperties": map[string]any{"type": []string{"string", "number", "integer", "boolean"}},
			},
			"headers": map[string]any{
				"type":                 "object",
				"description":          "Extra request headers",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"description": "JSON request body, if the operation takes one",
			},
			"timeout_ms": map[string]any{
				"type":        "number",
				"description": "Request timeout in milliseconds",
			},
		},
		"required": required,
	}

	data, _ := json.Marshal(schema)
	return data
}

// Handler executes the tool. Connector failures come back as tool errors,
// never as a Go error, so the model can read and report them.
func (t *Tool) Handler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	endpointReq, failure := t.decode(req.GetArguments())
	if failure != nil {
		t.logger.Debug("Rejected tool arguments", "tool", ToolName, "reason", failure.Message)
		return resultFor(failure)
	}

	t.logger.Debug("Calling endpoint for tool",
		"tool", ToolName,
		"method", endpointReq.Method,
		"path", endpointReq.Path,
	)

	return resultFor(t.conn.Call(ctx, endpointReq))
}

// Call decodes raw tool arguments and performs the call. Used by in-process
// callers that bypass the MCP transport.
func (t *Tool) Call(ctx context.Context, arguments map[string]any) Result {
	endpointReq, failure := t.decode(arguments)
	if failure != nil {
		return failure
	}
	return t.conn.Call(ctx, endpointReq)
}

func (t *Tool) decode(arguments map[string]any) (Request, *Failure) {
	data, err := json.Marshal(arguments)
	if err != nil {
		return Request{}, invalidInput("arguments are not JSON: %v", err)
	}

	var args toolArgs
	if err := json.Unmarshal(data, &args); err != nil {
		return Request{}, invalidInput("invalid arguments: %v", err)
	}

	if args.BaseURL == "" {
		args.BaseURL = t.baseURL
	}
	if args.TimeoutMS < 0 {
		return Request{}, invalidInput("timeout_ms must be positive, got %v", args.TimeoutMS)
	}

	pathParams := make(map[string]string, len(args.PathParams))
	for name, value := range args.PathParams {
		s, err := queryValue(value)
		if err != nil {
			return Request{}, invalidInput("path parameter %q: %v", name, err)
		}
		pathParams[name] = s
	}

	return Request{
		BaseURL:     strings.TrimSpace(args.BaseURL),
		Path:        args.Path,
		Method:      Method(args.Method),
		PathParams:  pathParams,
		QueryParams: args.QueryParams,
		Headers:     args.Headers,
		Body:        args.Body,
		Timeout:     time.Duration(args.TimeoutMS * float64(time.Millisecond)),
	}, nil
}

func resultFor(res Result) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool response: %w", err)
	}
	if !res.OK() {
		return mcp.NewToolResultError(string(data)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
