package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	smartapi "github.com/paulgrammer/smartapi-connect"
	"github.com/paulgrammer/smartapi-connect/connector"
	"github.com/paulgrammer/smartapi-connect/llm"
	"github.com/paulgrammer/smartapi-connect/openapi"
	"github.com/paulgrammer/smartapi-connect/pipeline"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	envFile    string
	logLevel   string
	logFormat  string

	// Serve flags
	addr    string
	baseURL string

	// Call flags
	callMethod  string
	callPath    string
	pathParams  []string
	queryParams []string
	headers     []string
	body        string
	timeoutMS   int

	// Run flags
	topology string
	mode     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "smartapi",
		Short: "SmartAPI Connect - natural-language access to any OpenAPI-described API",
		Long: `SmartAPI Connect turns a plain-language request into an HTTP call against an
API described by an OpenAPI document. A pipeline of language-model agents picks
the endpoint and the unified endpoint connector performs the call.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web UI, JSON API and MCP endpoint",
		RunE:  runServe,
	}

	callCmd := &cobra.Command{
		Use:   "call [base-url]",
		Short: "Call an endpoint directly through the connector",
		Args:  cobra.ExactArgs(1),
		RunE:  runCall,
	}

	runCmd := &cobra.Command{
		Use:   "run [openapi.json] [request]",
		Short: "Process one natural-language request and print the summary",
		Args:  cobra.ExactArgs(2),
		RunE:  runOnce,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment variables from this file (default: .env if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	// Serve flags
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&baseURL, "base-url", "", "Externally reachable server URL (overrides config)")

	// Call flags
	callCmd.Flags().StringVarP(&callMethod, "method", "X", "GET", "HTTP method")
	callCmd.Flags().StringVarP(&callPath, "path", "p", "/", "Endpoint path, may contain {placeholders}")
	callCmd.Flags().StringArrayVar(&pathParams, "param", nil, "Path parameter name=value")
	callCmd.Flags().StringArrayVarP(&queryParams, "query", "q", nil, "Query parameter name=value")
	callCmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Header name=value")
	callCmd.Flags().StringVarP(&body, "data", "d", "", "Request body (JSON or text)")
	callCmd.Flags().IntVar(&timeoutMS, "timeout-ms", 0, "Request timeout in milliseconds")

	// Run flags
	runCmd.Flags().StringVar(&baseURL, "base-url", "", "API base URL (default: the document's server URL)")
	runCmd.Flags().StringVar(&topology, "topology", "", "Agent topology (single, two-stage, three-stage)")
	runCmd.Flags().StringVar(&mode, "mode", "", "Execution mode (sequential, parallel)")

	rootCmd.AddCommand(serveCmd, callCmd, runCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// setup loads the env file and installs the default logger.
func setup() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file '%s': %w", envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch logFormat {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", logFormat)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func loadConfig() (*smartapi.Config, error) {
	if configFile == "" {
		return smartapi.DefaultConfig(), nil
	}
	return smartapi.ParseConfig(configFile)
}

// newProvider builds the configured language model. A missing configuration
// is not an error: the server runs without request processing.
func newProvider(cfg *smartapi.Config, logger *slog.Logger) llm.Provider {
	factory := llm.NewProviderFactory(logger, nil)
	provider, err := factory.CreateProviderFromEnv(cfg.LLM.ProviderConfig)
	if err != nil {
		logger.Warn("No LLM provider configured", "error", err)
		return nil
	}
	return llm.NewRateLimitedProvider(provider, cfg.LLM.RequestsPerMinute, cfg.LLM.Burst)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := []smartapi.Option{smartapi.WithLogger(logger)}
	if addr != "" {
		opts = append(opts, smartapi.WithAddr(addr))
	}
	if baseURL != "" {
		opts = append(opts, smartapi.WithBaseURL(baseURL))
	}
	if provider := newProvider(cfg, logger); provider != nil {
		opts = append(opts, smartapi.WithProvider(provider))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := smartapi.NewServer(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info("Server started successfully")

	<-ctx.Done()
	logger.Info("Shutting down server...")
	return nil
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	conn := connector.New(
		connector.WithLogger(slog.Default()),
		connector.WithClientConfig(cfg.Connector.ClientConfig()),
		connector.WithDefaultTimeout(cfg.Connector.Timeout.Std()),
		connector.WithDefaultHeaders(cfg.Connector.DefaultHeaders),
		connector.WithMaxResponseBytes(cfg.Connector.MaxResponseBytes),
	)
	tool := connector.NewTool(conn, connector.ToolOptions{Logger: slog.Default()})

	arguments := map[string]any{
		"base_url": args[0],
		"method":   callMethod,
		"path":     callPath,
	}
	for flag, values := range map[string][]string{"path_params": pathParams, "query_params": queryParams, "headers": headers} {
		if len(values) == 0 {
			continue
		}
		pairs, err := parsePairs(values)
		if err != nil {
			return err
		}
		arguments[flag] = pairs
	}
	if body != "" {
		var decoded any
		if err := json.Unmarshal([]byte(body), &decoded); err != nil {
			decoded = body
		}
		arguments["body"] = decoded
	}
	if timeoutMS > 0 {
		arguments["timeout_ms"] = timeoutMS
	}

	result := tool.Call(cmd.Context(), arguments)
	if err := printJSON(result); err != nil {
		return err
	}
	if !result.OK() {
		return errors.New(result.(*connector.Failure).UserMessage())
	}
	return nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if topology != "" {
		cfg.Pipeline.Topology = topology
	}
	if mode != "" {
		cfg.Pipeline.Mode = mode
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read OpenAPI document: %w", err)
	}
	doc, err := openapi.Decode(data)
	if err != nil {
		return err
	}

	provider := newProvider(cfg, logger)
	if provider == nil {
		return smartapi.ErrNoHarness
	}

	srv, err := smartapi.NewServer(cfg, smartapi.WithLogger(logger), smartapi.WithProvider(provider))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := srv.Process(ctx, pipeline.Input{Document: doc, Request: args[1], BaseURL: baseURL})
	if err != nil {
		return err
	}
	logger.Info(summary.Headline(), "run_id", summary.RunID, "outcome", summary.Outcome, "duration", summary.Duration)
	return printJSON(summary)
}

// parsePairs splits name=value flags.
func parsePairs(values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, v := range values {
		name, value, ok := strings.Cut(v, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", v)
		}
		out[name] = value
	}
	return out, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
