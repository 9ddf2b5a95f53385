package smartapi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/paulgrammer/smartapi-connect/connector"
	"github.com/paulgrammer/smartapi-connect/pipeline"
)

// CallerPromptName is the MCP prompt that hands an external model the API
// Caller's instructions for a session.
const CallerPromptName = "call_session_api"

// CallerPromptHandler renders the API Caller's prompts against a session's
// document so an MCP client can drive the connector tool itself.
type CallerPromptHandler struct {
	sessions    *SessionStore
	promptLimit int
	logger      *slog.Logger
}

// NewCallerPromptHandler creates a new caller prompt handler
func NewCallerPromptHandler(sessions *SessionStore, promptLimit int, logger *slog.Logger) *CallerPromptHandler {
	return &CallerPromptHandler{
		sessions:    sessions,
		promptLimit: promptLimit,
		logger:      logger,
	}
}

// CreateMCPPrompt describes the prompt and its arguments
func (h *CallerPromptHandler) CreateMCPPrompt() mcp.Prompt {
	return mcp.NewPrompt(CallerPromptName,
		mcp.WithPromptDescription(fmt.Sprintf(
			"Instructions for answering a plain-language request with the %s tool against the API loaded in a SmartAPI Connect session",
			connector.ToolName)),
		mcp.WithArgument("session_id",
			mcp.ArgumentDescription("ID of the browser session holding the OpenAPI document"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("request",
			mcp.ArgumentDescription("What the API should do, in plain language"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("base_url",
			mcp.ArgumentDescription("API base URL; defaults to the session's base URL"),
		),
	)
}

func (h *CallerPromptHandler) ServerPrompt() server.ServerPrompt {
	return server.ServerPrompt{Prompt: h.CreateMCPPrompt(), Handler: h.Handler}
}

// Handler handles prompt requests
func (h *CallerPromptHandler) Handler(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	args := req.Params.Arguments

	sess, ok := h.sessions.Get(args["session_id"])
	if !ok {
		return nil, fmt.Errorf("session %q not found", args["session_id"])
	}
	st := sess.State()

	baseURL := args["base_url"]
	if baseURL == "" {
		baseURL = st.BaseURL
	}

	stages, err := pipeline.SingleStage.Stages()
	if err != nil {
		return nil, err
	}
	system, user, err := pipeline.RenderPrompts(stages[len(stages)-1], pipeline.Input{
		Document: st.document,
		Request:  args["request"],
		BaseURL:  baseURL,
	}, h.promptLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}

	h.logger.Debug("Rendered caller prompt", "session", sess.ID, "prompt", CallerPromptName)

	return mcp.NewGetPromptResult(
		fmt.Sprintf("Call %s for: %s", st.DocumentTitle, args["request"]),
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(system+"\n"+user)),
		},
	), nil
}
