// Package smartapi is the presentation layer of SmartAPI Connect: a browser
// UI for uploading an OpenAPI document and running natural-language requests
// against the described API, plus an MCP SSE endpoint exposing the unified
// endpoint connector as a tool.
package smartapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/paulgrammer/smartapi-connect/connector"
	"github.com/paulgrammer/smartapi-connect/llm"
	"github.com/paulgrammer/smartapi-connect/pipeline"
)

// ErrNoHarness is returned when a request is processed without a language
// model configured.
var ErrNoHarness = errors.New("no language model is configured; set LLM_PROVIDER and its credentials")

// Option is a function that configures the server
type Option func(*Server)

// WithName sets the MCP server name
func WithName(name string) Option {
	return func(s *Server) {
		s.config.Name = name
	}
}

// WithAddr sets the listen address
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.config.Addr = addr
	}
}

// WithBaseURL sets the externally reachable server URL
func WithBaseURL(baseURL string) Option {
	return func(s *Server) {
		s.config.BaseURL = baseURL
	}
}

// WithLogger sets the server logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProvider sets the language model the agents use
func WithProvider(p llm.Provider) Option {
	return func(s *Server) {
		s.provider = p
	}
}

// WithHarnessOptions appends options applied after the configured ones
func WithHarnessOptions(opts ...pipeline.HarnessOption) Option {
	return func(s *Server) {
		s.harnessOpts = append(s.harnessOpts, opts...)
	}
}

// WithConnectorOptions appends options applied after the configured ones
func WithConnectorOptions(opts ...connector.Option) Option {
	return func(s *Server) {
		s.connectorOpts = append(s.connectorOpts, opts...)
	}
}

// config holds server identity and addresses
type config struct {
	Name    string
	Version string
	Addr    string
	BaseURL string
}

// Server serves the UI, the JSON API and the MCP endpoint.
type Server struct {
	config config
	cfg    *Config
	logger *slog.Logger

	provider      llm.Provider
	harnessOpts   []pipeline.HarnessOption
	connectorOpts []connector.Option

	metrics   *Metrics
	connector *connector.Connector
	harness   *pipeline.Harness
	sessions  *SessionStore

	tools     []server.ServerTool
	mcpServer *server.MCPServer
	sseServer *server.SSEServer
	handler   http.Handler

	transport transport.Interface
	client    *client.Client

	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewServer builds a server from cfg. A nil cfg uses DefaultConfig.
func NewServer(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config: config{
			Name:    cfg.Server.Name,
			Version: cfg.Server.Version,
			Addr:    cfg.Server.Addr,
			BaseURL: cfg.Server.BaseURL,
		},
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: NewMetrics(),
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}

	if s.config.BaseURL == "" {
		s.config.BaseURL = defaultBaseURL(s.config.Addr)
	}
	s.config.BaseURL = strings.TrimRight(s.config.BaseURL, "/")

	connectorOpts := []connector.Option{
		connector.WithLogger(s.logger),
		connector.WithClientConfig(cfg.Connector.ClientConfig()),
		connector.WithDefaultTimeout(cfg.Connector.Timeout.Std()),
		connector.WithDefaultHeaders(cfg.Connector.DefaultHeaders),
		connector.WithMaxResponseBytes(cfg.Connector.MaxResponseBytes),
		connector.WithObserver(s.metrics),
	}
	s.connector = connector.New(append(connectorOpts, s.connectorOpts...)...)

	if err := s.setupHarness(); err != nil {
		return nil, err
	}

	s.sessions = NewSessionStore(cfg.Session.IdleTTL.Std(), s.logger)
	s.sessions.onChange = func(active int) {
		s.metrics.activeSessions.Set(float64(active))
	}

	s.setupMCP()
	s.handler = s.routes()

	return s, nil
}

func defaultBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://localhost" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// setupHarness builds the pipeline. Without a provider the server still
// serves the UI and the MCP tool, and process actions report ErrNoHarness.
func (s *Server) setupHarness() error {
	topology, err := pipeline.ParseTopology(s.cfg.Pipeline.Topology)
	if err != nil {
		return err
	}
	mode, err := pipeline.ParseMode(s.cfg.Pipeline.Mode)
	if err != nil {
		return err
	}

	opts := []pipeline.HarnessOption{
		pipeline.WithHarnessLogger(s.logger),
		pipeline.WithTopology(topology),
		pipeline.WithMode(mode),
		pipeline.WithPromptLimit(s.cfg.Pipeline.PromptLimit),
		pipeline.WithAgentSettings(s.cfg.LLM.MaxToolIterations, s.cfg.LLM.Temperature, s.cfg.LLM.MaxTokens),
	}

	harness, err := pipeline.NewHarness(s.connector, s.metrics.MeterProvider(s.provider), append(opts, s.harnessOpts...)...)
	if errors.Is(err, pipeline.ErrNoProvider) {
		s.logger.Warn("No language model configured; request processing is disabled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to set up pipeline: %w", err)
	}
	s.harness = harness
	return nil
}

// setupMCP registers the connector tool, the session catalog resource and
// the caller prompt on an MCP server reachable over SSE.
func (s *Server) setupMCP() {
	tool := connector.NewTool(s.connector, connector.ToolOptions{Logger: s.logger})
	s.AddTools(tool.ServerTool())

	s.mcpServer = server.NewMCPServer(
		s.config.Name, s.config.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
		server.WithPromptCapabilities(false),
		server.WithLogging(),
		server.WithHooks(newServerHooks(s.logger, s.metrics)),
	)
	s.mcpServer.AddTools(s.tools...)

	catalog := NewCatalogResource(s.sessions)
	s.mcpServer.AddResourceTemplate(catalog.ResourceTemplate(), catalog.Handler)

	prompt := NewCallerPromptHandler(s.sessions, s.cfg.Pipeline.PromptLimit, s.logger)
	s.mcpServer.AddPrompts(prompt.ServerPrompt())

	s.sseServer = server.NewSSEServer(s.mcpServer,
		server.WithBaseURL(s.config.BaseURL),
		server.WithUseFullURLForMessageEndpoint(true),
	)

	s.logger.Info("Added tool", "name", tool.Name())
}

// AddTools registers additional MCP tools. Tools added after NewServer are
// registered on the running MCP server too.
func (s *Server) AddTools(tools ...server.ServerTool) {
	s.tools = append(s.tools, tools...)
	if s.mcpServer != nil {
		s.mcpServer.AddTools(tools...)
	}
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Sessions exposes the session store.
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

// Metrics exposes the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Process runs one request through the pipeline, bounded by the configured
// process timeout.
func (s *Server) Process(ctx context.Context, in pipeline.Input) (*pipeline.Summary, error) {
	if s.harness == nil {
		return nil, ErrNoHarness
	}

	if timeout := s.cfg.Session.ProcessTimeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	summary, err := s.harness.Run(ctx, in)
	s.metrics.observeRun(s.harness, summary, err, time.Since(start))
	return summary, err
}

// Start listens on the configured address and serves until ctx is done.
// Make sure to defer Close() after Start().
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln in the background, then connects an MCP client to the
// server's own SSE endpoint so Client() is ready when Serve returns. If the
// client cannot connect, the server is shut down before Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, s.stop = context.WithCancel(ctx)

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.sessions.Run(ctx, s.cfg.Session.CleanupInterval.Std())
	}()

	go func() {
		defer s.wg.Done()

		s.logger.Info("SmartAPI Connect listening", "addr", ln.Addr().String(), "base_url", s.config.BaseURL)

		serveErr := make(chan error, 1)
		go func() {
			serveErr <- httpServer.Serve(ln)
		}()

		select {
		case err := <-serveErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("HTTP server error", "error", err)
			}
			return
		case <-ctx.Done():
		}

		s.logger.Info("Shutting down HTTP server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := s.sseServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown SSE server", "error", err)
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", "error", err)
		} else {
			s.logger.Info("HTTP server shutdown successfully")
		}
	}()

	sse, err := transport.NewSSE(s.config.BaseURL + "/sse")
	if err != nil {
		s.Close()
		return fmt.Errorf("transport.NewSSE(): %w", err)
	}
	s.transport = sse

	if err := s.transport.Start(ctx); err != nil {
		s.Close()
		return fmt.Errorf("transport.Start(): %w", err)
	}

	s.client = client.NewClient(s.transport)

	var initReq mcp.InitializeRequest
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: s.config.Name + " self-check", Version: s.config.Version}
	if _, err := s.client.Initialize(ctx, initReq); err != nil {
		s.Close()
		return fmt.Errorf("client.Initialize(): %w", err)
	}

	return nil
}

// Close disconnects the MCP client, stops serving and waits for the server
// goroutines.
func (s *Server) Close() {
	if s.stop != nil {
		s.stop()
	}
	if s.transport != nil {
		s.transport.Close()
		s.transport = nil
		s.client = nil
	}

	s.wg.Wait()
}

// Client returns an MCP client connected to the server.
// The client is already initialized, i.e. you do _not_ need to call Client.Initialize().
func (s *Server) Client() *client.Client {
	return s.client
}
