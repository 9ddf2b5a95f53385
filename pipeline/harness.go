package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"

	"github.com/paulgrammer/smartapi-connect/connector"
	"github.com/paulgrammer/smartapi-connect/llm"
	"github.com/paulgrammer/smartapi-connect/openapi"
)

var (
	// ErrEmptyRequest is returned when the request text is blank.
	ErrEmptyRequest = errors.New("request text is empty")
	// ErrNoDocument is returned when no OpenAPI document was supplied.
	ErrNoDocument = errors.New("no OpenAPI document loaded")
	// ErrNoProvider is returned by NewHarness when neither a provider nor an
	// executor factory is supplied.
	ErrNoProvider = errors.New("no language model provider configured")
)

// DefaultPromptLimit is the largest document, in bytes, passed verbatim to
// the agents. Larger documents are replaced by their operation catalog.
const DefaultPromptLimit = 48 << 10

// Outcome classifies a finished run.
type Outcome string

const (
	OutcomeNoMatch       Outcome = "no_match"
	OutcomeCallFailed    Outcome = "call_failed"
	OutcomeCallSucceeded Outcome = "call_succeeded"
)

// Input is what one run works on.
type Input struct {
	Document *openapi.Document
	Request  string
	// BaseURL defaults to the document's first server URL.
	BaseURL string
}

// Summary describes a finished run.
type Summary struct {
	RunID       string           `json:"run_id"`
	Outcome     Outcome          `json:"outcome"`
	Operation   string           `json:"operation,omitempty"`
	URL         string           `json:"url,omitempty"`
	Result      connector.Result `json:"result,omitempty"`
	Calls       []Call           `json:"calls"`
	Outputs     []Output         `json:"outputs"`
	FinalOutput string           `json:"final_output"`
	Topology    Topology         `json:"topology"`
	Mode        Mode             `json:"mode"`
	Duration    time.Duration    `json:"duration_ns"`
}

// Headline is a one-line description of the outcome for end users.
func (s *Summary) Headline() string {
	switch s.Outcome {
	case OutcomeCallSucceeded:
		if ok, isSuccess := s.Result.(*connector.Success); isSuccess {
			return fmt.Sprintf("%s returned status %d", s.Operation, ok.StatusCode)
		}
	case OutcomeCallFailed:
		if f, isFailure := s.Result.(*connector.Failure); isFailure {
			return f.UserMessage()
		}
	}
	return "No API endpoint matched the request."
}

// ExecutorFactory builds the executor for one stage. tools is empty for
// stages that may not call the connector.
type ExecutorFactory func(p Persona, tools []server.ServerTool) TaskExecutor

// HarnessOption configures a Harness.
type HarnessOption func(*Harness)

// WithHarnessLogger sets the logger.
func WithHarnessLogger(logger *slog.Logger) HarnessOption {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithTopology selects the agent arrangement.
func WithTopology(t Topology) HarnessOption {
	return func(h *Harness) {
		h.topology = t
	}
}

// WithMode selects sequential or parallel execution.
func WithMode(m Mode) HarnessOption {
	return func(h *Harness) {
		h.mode = m
	}
}

// WithPromptLimit sets the document size above which agents see the
// operation catalog instead of the raw document.
func WithPromptLimit(n int) HarnessOption {
	return func(h *Harness) {
		h.promptLimit = n
	}
}

// WithAgentSettings tunes the agents built by the default executor factory.
func WithAgentSettings(maxToolIterations int, temperature float64, maxTokens int) HarnessOption {
	return func(h *Harness) {
		h.maxToolIterations = maxToolIterations
		h.temperature = temperature
		h.maxTokens = maxTokens
	}
}

// WithExecutorFactory replaces the LLM-backed agents.
func WithExecutorFactory(f ExecutorFactory) HarnessOption {
	return func(h *Harness) {
		h.newExecutor = f
	}
}

// Harness wires agents, the task graph and the connector for each run.
type Harness struct {
	conn     *connector.Connector
	provider llm.Provider
	logger   *slog.Logger

	topology    Topology
	mode        Mode
	promptLimit int

	maxToolIterations int
	temperature       float64
	maxTokens         int

	newExecutor ExecutorFactory
}

// NewHarness creates a harness. provider may be nil when an executor
// factory is supplied.
func NewHarness(conn *connector.Connector, provider llm.Provider, opts ...HarnessOption) (*Harness, error) {
	if conn == nil {
		return nil, fmt.Errorf("connector is required")
	}

	h := &Harness{
		conn:        conn,
		provider:    provider,
		logger:      slog.Default(),
		topology:    ThreeStage,
		mode:        Parallel,
		promptLimit: DefaultPromptLimit,
	}
	for _, opt := range opts {
		opt(h)
	}

	if _, err := h.topology.Stages(); err != nil {
		return nil, err
	}
	if _, err := ParseMode(string(h.mode)); err != nil {
		return nil, err
	}
	if h.newExecutor == nil {
		if provider == nil {
			return nil, ErrNoProvider
		}
		h.newExecutor = h.agentFor
	}
	return h, nil
}

// Topology returns the configured topology.
func (h *Harness) Topology() Topology { return h.topology }

// Mode returns the configured execution mode.
func (h *Harness) Mode() Mode { return h.mode }

func (h *Harness) agentFor(p Persona, tools []server.ServerTool) TaskExecutor {
	return &Agent{
		Role:              p.Role,
		Goal:              p.Goal,
		Backstory:         p.Backstory,
		Tools:             tools,
		Provider:          h.provider,
		MaxToolIterations: h.maxToolIterations,
		Temperature:       h.temperature,
		MaxTokens:         h.maxTokens,
		Logger:            h.logger,
	}
}

// Run executes one request end to end. Connector failures are part of the
// Summary; errors are returned only for invalid input or agent failures.
func (h *Harness) Run(ctx context.Context, in Input) (*Summary, error) {
	inputs, err := resolveInputs(in, h.promptLimit)
	if err != nil {
		return nil, err
	}
	baseURL := inputs[InputBaseURL]

	runID := uuid.NewString()
	logger := h.logger.With("run_id", runID)
	start := time.Now()

	// A fresh recorder per run keeps concurrent runs apart.
	recorder := &Recorder{}
	tool := connector.NewTool(h.conn.With(connector.WithObserver(recorder)), connector.ToolOptions{
		BaseURL: baseURL,
		Logger:  logger,
	})

	stages, err := h.topology.Stages()
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(stages))
	for _, st := range stages {
		var tools []server.ServerTool
		if st.Persona.UsesTools {
			tools = []server.ServerTool{tool.ServerTool()}
		}
		tasks = append(tasks, Task{
			ID:             st.TaskID,
			Description:    st.Description,
			ExpectedOutput: st.ExpectedOutput,
			Executor:       h.newExecutor(st.Persona, tools),
			DependsOn:      st.DependsOn,
		})
	}

	graph, err := NewGraph(tasks, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build task graph: %w", err)
	}

	logger.Info("Processing request", "topology", h.topology, "mode", h.mode, "base_url", baseURL)

	outputs, err := graph.Run(ctx, h.mode, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to process request: %w", err)
	}

	summary := &Summary{
		RunID:    runID,
		Outcome:  OutcomeNoMatch,
		Calls:    recorder.Calls(),
		Outputs:  outputs,
		Topology: h.topology,
		Mode:     h.mode,
		Duration: time.Since(start),
	}
	if len(outputs) > 0 {
		summary.FinalOutput = outputs[len(outputs)-1].Text
	}

	if last, ok := recorder.Last(); ok {
		summary.Result = last.Result
		summary.URL = last.Result.Target()
		summary.Operation = operationName(in.Document, last.Request)
		if last.Result.OK() {
			summary.Outcome = OutcomeCallSucceeded
		} else {
			summary.Outcome = OutcomeCallFailed
		}
	}

	logger.Info("Request processed", "outcome", summary.Outcome, "operation", summary.Operation,
		"calls", len(summary.Calls), "duration", summary.Duration)
	return summary, nil
}

// resolveInputs validates in and returns the values substituted into task
// descriptions. An empty base URL falls back to the document's server URL.
func resolveInputs(in Input, promptLimit int) (map[string]string, error) {
	if in.Document == nil {
		return nil, ErrNoDocument
	}
	request := strings.TrimSpace(in.Request)
	if request == "" {
		return nil, ErrEmptyRequest
	}

	baseURL := strings.TrimSpace(in.BaseURL)
	if baseURL == "" {
		baseURL, _ = in.Document.ServerURL()
	}

	return map[string]string{
		InputData:    in.Document.PromptText(promptLimit),
		InputCatalog: in.Document.Catalog(),
		InputRequest: request,
		InputBaseURL: baseURL,
	}, nil
}

// operationName prefers the documented operation over the raw request.
func operationName(doc *openapi.Document, req connector.Request) string {
	method, ok := connector.ParseMethod(string(req.Method))
	if !ok {
		return strings.TrimSpace(string(req.Method) + " " + req.Path)
	}
	if op, found := doc.Lookup(method, req.Path); found {
		return op.String()
	}
	return string(method) + " " + req.Path
}
