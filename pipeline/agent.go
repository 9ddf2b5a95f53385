package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/paulgrammer/smartapi-connect/llm"
)

// DefaultMaxToolIterations bounds the model/tool round trips of one task.
const DefaultMaxToolIterations = 5

// Agent is a TaskExecutor backed by a language model. Tools run in-process
// through their MCP handlers.
type Agent struct {
	Role      string
	Goal      string
	Backstory string
	Tools     []server.ServerTool
	Provider  llm.Provider

	MaxToolIterations int
	Temperature       float64
	MaxTokens         int
	Logger            *slog.Logger
}

// Execute runs the task: system prompt from the agent's persona, user prompt
// from the task and upstream outputs, then tool calls until the model
// answers with plain text.
func (a *Agent) Execute(ctx context.Context, pc PromptContext) (Output, error) {
	if a.Provider == nil {
		return Output{}, fmt.Errorf("agent %q has no provider", a.Role)
	}
	logger := a.logger()

	var tools []mcp.Tool
	handlers := make(map[string]server.ToolHandlerFunc, len(a.Tools))
	for _, st := range a.Tools {
		tools = append(tools, st.Tool)
		handlers[st.Tool.Name] = st.Handler
	}

	maxIterations := a.MaxToolIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxToolIterations
	}

	req := llm.ChatRequest{
		System:      a.systemPrompt(pc, len(tools) > 0),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: a.userPrompt(pc)}},
		Tools:       tools,
		MaxTokens:   a.MaxTokens,
		Temperature: a.Temperature,
	}

	toolCalls := 0
	for iteration := 0; ; iteration++ {
		if iteration == maxIterations {
			// Out of tool budget: ask for a final answer with tools withheld.
			logger.Warn("Tool iteration limit reached", "agent", a.Role, "task", pc.TaskID, "limit", maxIterations)
			req.Tools = nil
			req.Messages = append(req.Messages, llm.Message{
				Role:    llm.RoleUser,
				Content: "The tool budget for this task is used up. Give your final answer now from what you have.",
			})
		}

		resp, err := a.Provider.Chat(ctx, req)
		if err != nil {
			return Output{}, fmt.Errorf("failed to get response from %s: %w", a.Provider.Name(), err)
		}

		if len(resp.ToolCalls) == 0 || req.Tools == nil {
			return Output{
				TaskID:    pc.TaskID,
				Agent:     a.Role,
				Text:      strings.TrimSpace(resp.Text),
				ToolCalls: toolCalls,
			}, nil
		}

		req.Messages = append(req.Messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			toolCalls++
			logger.Info("Executing tool", "agent", a.Role, "task", pc.TaskID, "tool", call.Name)

			text := a.runTool(ctx, handlers, call)
			req.Messages = append(req.Messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    text,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}

		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
	}
}

// runTool invokes a tool handler and returns the text the model sees.
// Unknown tools and handler errors are reported back to the model.
func (a *Agent) runTool(ctx context.Context, handlers map[string]server.ToolHandlerFunc, call llm.ToolCall) string {
	handler, ok := handlers[call.Name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", call.Name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = call.Name
	req.Params.Arguments = call.Arguments

	result, err := handler(ctx, req)
	if err != nil {
		a.logger().Error("Tool execution failed", "tool", call.Name, "error", err)
		return fmt.Sprintf("Error executing tool %s: %v", call.Name, err)
	}
	return toolResultText(result)
}

func toolResultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		default:
			if b, err := json.Marshal(c); err == nil {
				parts = append(parts, string(b))
			}
		}
	}
	return strings.Join(parts, "\n")
}

func (a *Agent) systemPrompt(pc PromptContext, withTools bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n", a.Role)
	if a.Backstory != "" {
		fmt.Fprintf(&b, "%s\n", pc.Render(a.Backstory))
	}
	if a.Goal != "" {
		fmt.Fprintf(&b, "\nYour personal goal is: %s\n", pc.Render(a.Goal))
	}
	if withTools {
		b.WriteString("\nUse the provided tools when the task needs them. Never invent tool results.\n")
	}
	return b.String()
}

func (a *Agent) userPrompt(pc PromptContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current task: %s\n", pc.Render(pc.Description))
	fmt.Fprintf(&b, "\nThis is the expected criteria for your final answer: %s\n", pc.Render(pc.ExpectedOutput))

	if len(pc.Upstream) > 0 {
		b.WriteString("\nThis is the context you're working with:\n")
		for _, out := range pc.Upstream {
			name := out.Agent
			if name == "" {
				name = out.TaskID
			}
			fmt.Fprintf(&b, "\n--- %s ---\n%s\n", name, out.Text)
		}
	}
	return b.String()
}

// RenderPrompts returns the system and user prompts the stage's agent
// receives for in, without upstream context.
func RenderPrompts(st Stage, in Input, promptLimit int) (system, user string, err error) {
	inputs, err := resolveInputs(in, promptLimit)
	if err != nil {
		return "", "", err
	}
	task := Task{ID: st.TaskID, Description: st.Description, ExpectedOutput: st.ExpectedOutput}
	pc := PromptContext{
		TaskID:         task.ID,
		Description:    task.Description,
		ExpectedOutput: task.expectedOutput(),
		Inputs:         inputs,
	}
	a := &Agent{Role: st.Persona.Role, Goal: st.Persona.Goal, Backstory: st.Persona.Backstory}
	return a.systemPrompt(pc, st.Persona.UsesTools), a.userPrompt(pc), nil
}

func (a *Agent) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
