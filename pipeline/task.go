// Package pipeline runs the agents that turn a natural-language request into
// one API call: tasks with declared dependencies, executed sequentially or in
// parallel, followed by a summary of what the connector did.
package pipeline

import (
	"context"
	"strings"
)

// DefaultExpectedOutput is used for tasks declared without one.
const DefaultExpectedOutput = "A concise, complete answer to the task, including every detail later tasks need."

// Input names, referenced as {name} in goals and task descriptions.
const (
	InputData    = "data"
	InputCatalog = "catalog"
	InputRequest = "request"
	InputBaseURL = "base_url"
)

// PromptContext is everything an executor sees for one task.
type PromptContext struct {
	TaskID         string
	Description    string
	ExpectedOutput string

	// Inputs maps placeholder names (without braces) to their values.
	Inputs map[string]string

	// Upstream holds outputs of the tasks this one may build on.
	Upstream []Output
}

// Render substitutes {name} placeholders in s from the inputs.
func (pc PromptContext) Render(s string) string {
	if len(pc.Inputs) == 0 || !strings.Contains(s, "{") {
		return s
	}
	pairs := make([]string, 0, 2*len(pc.Inputs))
	for name, value := range pc.Inputs {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// Output is the result of one task.
type Output struct {
	TaskID string `json:"task_id"`
	Agent  string `json:"agent,omitempty"`
	Text   string `json:"text"`
	// ToolCalls counts tool invocations made while producing Text.
	ToolCalls int `json:"tool_calls,omitempty"`
}

// TaskExecutor performs one task.
type TaskExecutor interface {
	Execute(ctx context.Context, pc PromptContext) (Output, error)
}

// ExecutorFunc adapts a function to TaskExecutor.
type ExecutorFunc func(ctx context.Context, pc PromptContext) (Output, error)

// Execute calls f(ctx, pc).
func (f ExecutorFunc) Execute(ctx context.Context, pc PromptContext) (Output, error) {
	return f(ctx, pc)
}

// Task is a node of the graph.
type Task struct {
	ID             string
	Description    string
	ExpectedOutput string
	Executor       TaskExecutor
	DependsOn      []string
}

func (t Task) expectedOutput() string {
	if strings.TrimSpace(t.ExpectedOutput) == "" {
		return DefaultExpectedOutput
	}
	return t.ExpectedOutput
}
