package smartapi

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paulgrammer/smartapi-connect/connector"
	"github.com/paulgrammer/smartapi-connect/llm"
	"github.com/paulgrammer/smartapi-connect/pipeline"
)

// Config represents the complete SmartAPI Connect configuration
type Config struct {
	Server    *ServerConfig    `json:"server" yaml:"server"`
	Connector *ConnectorConfig `json:"connector" yaml:"connector"`
	LLM       *LLMConfig       `json:"llm" yaml:"llm"`
	Pipeline  *PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	Session   *SessionConfig   `json:"session" yaml:"session"`
}

// ServerConfig defines the HTTP listener, UI and MCP settings
type ServerConfig struct {
	// Name and Version identify the MCP server
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`

	// Addr is the listen address
	Addr string `json:"addr" yaml:"addr"`

	// BaseURL is the externally reachable URL of this server, used for the
	// MCP SSE message endpoint. Defaults to http://localhost<addr>.
	BaseURL string `json:"base_url" yaml:"base_url"`

	// MaxUploadBytes bounds uploaded OpenAPI documents
	MaxUploadBytes int64 `json:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// ConnectorConfig tunes the unified endpoint connector
type ConnectorConfig struct {
	Timeout          Duration          `json:"timeout" yaml:"timeout"`
	MaxResponseBytes int64             `json:"max_response_bytes" yaml:"max_response_bytes"`
	DefaultHeaders   map[string]string `json:"default_headers,omitempty" yaml:"default_headers,omitempty"`

	DialTimeout        Duration `json:"dial_timeout" yaml:"dial_timeout"`
	TLSTimeout         Duration `json:"tls_timeout" yaml:"tls_timeout"`
	MaxIdleConns       int      `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxConnsPerHost    int      `json:"max_conns_per_host" yaml:"max_conns_per_host"`
	MaxRedirects       int      `json:"max_redirects" yaml:"max_redirects"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// LLMConfig selects the model backend. Empty provider fields are filled from
// the environment.
type LLMConfig struct {
	llm.ProviderConfig `yaml:",inline"`

	RequestsPerMinute float64 `json:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int     `json:"burst" yaml:"burst"`
	Temperature       float64 `json:"temperature" yaml:"temperature"`
	MaxTokens         int     `json:"max_tokens" yaml:"max_tokens"`
	MaxToolIterations int     `json:"max_tool_iterations" yaml:"max_tool_iterations"`
}

// PipelineConfig selects the agent arrangement
type PipelineConfig struct {
	Topology    string `json:"topology" yaml:"topology"`
	Mode        string `json:"mode" yaml:"mode"`
	PromptLimit int    `json:"prompt_limit" yaml:"prompt_limit"`
}

// SessionConfig controls browser sessions
type SessionConfig struct {
	IdleTTL         Duration `json:"idle_ttl" yaml:"idle_ttl"`
	CleanupInterval Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	// ProcessTimeout bounds one process action
	ProcessTimeout Duration `json:"process_timeout" yaml:"process_timeout"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	setConfigDefaults(cfg)
	return cfg
}

// ParseConfig reads and parses a YAML configuration file
func ParseConfig(filename string) (*Config, error) {
	// Expand path to handle environment variables and home directory
	expandedPath := expandPath(filename)

	data, err := os.ReadFile(expandedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", expandedPath, err)
	}

	return ParseConfigFromBytes(data)
}

// ParseConfigFromBytes parses configuration from byte data
func ParseConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	setConfigDefaults(&cfg)

	// Expand before validating so ${VARS} are checked as resolved values
	postProcessParsedConfig(&cfg)

	if err := validateParsedConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setConfigDefaults sets default values for the configuration
func setConfigDefaults(cfg *Config) {
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	if cfg.Server.Name == "" {
		cfg.Server.Name = "SmartAPI Connect"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "1.0.0"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8888"
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		cfg.Server.MaxUploadBytes = 5 << 20
	}

	if cfg.Connector == nil {
		cfg.Connector = &ConnectorConfig{}
	}
	client := connector.DefaultClientConfig()
	if cfg.Connector.Timeout == 0 {
		cfg.Connector.Timeout = Duration(connector.DefaultTimeout)
	}
	if cfg.Connector.MaxResponseBytes <= 0 {
		cfg.Connector.MaxResponseBytes = connector.DefaultMaxResponseBytes
	}
	if cfg.Connector.DialTimeout == 0 {
		cfg.Connector.DialTimeout = Duration(client.DialTimeout)
	}
	if cfg.Connector.TLSTimeout == 0 {
		cfg.Connector.TLSTimeout = Duration(client.TLSHandshakeTimeout)
	}
	if cfg.Connector.MaxIdleConns <= 0 {
		cfg.Connector.MaxIdleConns = client.MaxIdleConns
	}
	if cfg.Connector.MaxConnsPerHost <= 0 {
		cfg.Connector.MaxConnsPerHost = client.MaxConnsPerHost
	}
	if cfg.Connector.MaxRedirects <= 0 {
		cfg.Connector.MaxRedirects = client.MaxRedirects
	}

	if cfg.LLM == nil {
		cfg.LLM = &LLMConfig{}
	}
	if cfg.LLM.MaxToolIterations <= 0 {
		cfg.LLM.MaxToolIterations = pipeline.DefaultMaxToolIterations
	}

	if cfg.Pipeline == nil {
		cfg.Pipeline = &PipelineConfig{}
	}
	if cfg.Pipeline.Topology == "" {
		cfg.Pipeline.Topology = string(pipeline.ThreeStage)
	}
	if cfg.Pipeline.Mode == "" {
		cfg.Pipeline.Mode = string(pipeline.Parallel)
	}
	if cfg.Pipeline.PromptLimit == 0 {
		cfg.Pipeline.PromptLimit = pipeline.DefaultPromptLimit
	}

	if cfg.Session == nil {
		cfg.Session = &SessionConfig{}
	}
	if cfg.Session.IdleTTL == 0 {
		cfg.Session.IdleTTL = Duration(30 * time.Minute)
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = Duration(time.Minute)
	}
	if cfg.Session.ProcessTimeout == 0 {
		cfg.Session.ProcessTimeout = Duration(5 * time.Minute)
	}
}

// validateParsedConfig validates the parsed configuration
func validateParsedConfig(cfg *Config) error {
	if cfg.Server == nil || cfg.Connector == nil || cfg.LLM == nil || cfg.Pipeline == nil || cfg.Session == nil {
		return fmt.Errorf("all configuration sections must be present")
	}

	if cfg.Server.BaseURL != "" {
		u, err := url.Parse(cfg.Server.BaseURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("server.base_url must be an absolute http(s) URL, got %q", cfg.Server.BaseURL)
		}
	}

	if cfg.Connector.Timeout < 0 {
		return fmt.Errorf("connector.timeout must not be negative")
	}

	if cfg.LLM.Type != "" {
		if _, err := llm.GetProviderFromString(string(cfg.LLM.Type)); err != nil {
			return fmt.Errorf("llm.provider: %w", err)
		}
	}
	if cfg.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must not be negative")
	}

	if _, err := pipeline.ParseTopology(cfg.Pipeline.Topology); err != nil {
		return fmt.Errorf("pipeline.topology: %w", err)
	}
	if _, err := pipeline.ParseMode(cfg.Pipeline.Mode); err != nil {
		return fmt.Errorf("pipeline.mode: %w", err)
	}

	if cfg.Session.IdleTTL < 0 || cfg.Session.ProcessTimeout < 0 {
		return fmt.Errorf("session durations must not be negative")
	}

	return nil
}

// postProcessParsedConfig expands environment variables in string settings
func postProcessParsedConfig(cfg *Config) {
	cfg.Server.Addr = os.ExpandEnv(cfg.Server.Addr)
	cfg.Server.BaseURL = os.ExpandEnv(cfg.Server.BaseURL)

	for name, value := range cfg.Connector.DefaultHeaders {
		cfg.Connector.DefaultHeaders[name] = os.ExpandEnv(value)
	}

	cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)
	cfg.LLM.BaseURL = os.ExpandEnv(cfg.LLM.BaseURL)
	cfg.LLM.Model = os.ExpandEnv(cfg.LLM.Model)
	cfg.LLM.Deployment = os.ExpandEnv(cfg.LLM.Deployment)

	// Aliases such as "claude" resolve to their canonical provider
	if t, err := llm.GetProviderFromString(os.ExpandEnv(string(cfg.LLM.Type))); err == nil {
		cfg.LLM.Type = t
	}
}

// ClientConfig converts the connector section into transport settings.
func (c *ConnectorConfig) ClientConfig() connector.ClientConfig {
	client := connector.DefaultClientConfig()
	client.DialTimeout = c.DialTimeout.Std()
	client.TLSHandshakeTimeout = c.TLSTimeout.Std()
	client.MaxIdleConns = c.MaxIdleConns
	client.MaxConnsPerHost = c.MaxConnsPerHost
	client.MaxRedirects = c.MaxRedirects
	client.InsecureSkipVerify = c.InsecureSkipVerify
	return client
}

// expandPath expands environment variables and home directory in paths
func expandPath(path string) string {
	expanded := os.ExpandEnv(path)

	if strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			expanded = filepath.Join(home, expanded[2:])
		}
	}

	return expanded
}
