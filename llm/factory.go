package llm

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// ProviderType represents different LLM providers
type ProviderType string

const (
	ProviderAzure     ProviderType = "azure"
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
)

// ProviderConfig holds configuration for LLM providers
type ProviderConfig struct {
	Type    ProviderType `yaml:"provider" json:"provider"`
	APIKey  string       `yaml:"api_key" json:"-"`
	BaseURL string       `yaml:"base_url" json:"base_url,omitempty"`
	Model   string       `yaml:"model" json:"model,omitempty"`

	// Azure OpenAI only; BaseURL holds the resource endpoint.
	Deployment string `yaml:"deployment" json:"deployment,omitempty"`
	APIVersion string `yaml:"api_version" json:"api_version,omitempty"`
}

// ProviderFactory creates LLM providers based on configuration
type ProviderFactory struct {
	logger     *slog.Logger
	httpClient *http.Client
	getenv     func(string) string
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory(logger *slog.Logger, httpClient *http.Client) *ProviderFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderFactory{
		logger:     logger,
		httpClient: httpClient,
		getenv:     os.Getenv,
	}
}

// CreateProvider creates an LLM provider based on the configuration
func (f *ProviderFactory) CreateProvider(config ProviderConfig) (Provider, error) {
	f.logger.Info("Creating LLM provider", "type", config.Type, "model", config.Model)

	switch config.Type {
	case ProviderAzure:
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:          config.APIKey,
			Model:           config.Model,
			AzureEndpoint:   config.BaseURL,
			AzureDeployment: config.Deployment,
			AzureAPIVersion: config.APIVersion,
			HTTPClient:      f.httpClient,
			Logger:          f.logger,
		})
	case ProviderOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:     config.APIKey,
			BaseURL:    config.BaseURL,
			Model:      config.Model,
			HTTPClient: f.httpClient,
			Logger:     f.logger,
		})
	case ProviderAnthropic:
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:     config.APIKey,
			BaseURL:    config.BaseURL,
			Model:      config.Model,
			HTTPClient: f.httpClient,
			Logger:     f.logger,
		})
	default:
		return nil, fmt.Errorf("unsupported provider type: %q", config.Type)
	}
}

// CreateProviderFromEnv creates a provider based on environment variables,
// with fields already set in base taking precedence.
func (f *ProviderFactory) CreateProviderFromEnv(base ProviderConfig) (Provider, error) {
	config, err := f.ConfigFromEnv(base)
	if err != nil {
		return nil, err
	}
	return f.CreateProvider(config)
}

// ConfigFromEnv completes base from the environment. When no provider type
// is set, LLM_PROVIDER decides; failing that, the first provider with
// credentials present wins, in the order Azure OpenAI, Anthropic, OpenAI.
func (f *ProviderFactory) ConfigFromEnv(base ProviderConfig) (ProviderConfig, error) {
	config := base

	if config.Type == "" {
		if providerEnv := f.getenv("LLM_PROVIDER"); providerEnv != "" {
			providerType, err := GetProviderFromString(providerEnv)
			if err != nil {
				return config, fmt.Errorf("invalid LLM_PROVIDER value '%s': %w", providerEnv, err)
			}
			config.Type = providerType
		} else {
			f.logger.Info("LLM_PROVIDER not set, auto-detecting from available environment variables")
			switch {
			case f.getenv("AZURE_OPENAI_ENDPOINT") != "":
				config.Type = ProviderAzure
			case f.getenv("ANTHROPIC_API_KEY") != "":
				config.Type = ProviderAnthropic
			case f.getenv("OPENAI_API_KEY") != "":
				config.Type = ProviderOpenAI
			default:
				return config, fmt.Errorf("no LLM provider configured. Please set LLM_PROVIDER or one of: AZURE_OPENAI_ENDPOINT, ANTHROPIC_API_KEY, OPENAI_API_KEY")
			}
		}
	}

	switch config.Type {
	case ProviderAzure:
		config.BaseURL = firstSet(config.BaseURL, f.getenv("AZURE_OPENAI_ENDPOINT"))
		config.APIKey = firstSet(config.APIKey, f.getenv("AZURE_OPENAI_API_KEY"))
		config.Deployment = firstSet(config.Deployment, f.getenv("AZURE_OPENAI_DEPLOYMENT"))
		config.APIVersion = firstSet(config.APIVersion, f.getenv("AZURE_OPENAI_API_VERSION"), defaultAzureAPIVersion)
		if config.BaseURL == "" {
			return config, fmt.Errorf("AZURE_OPENAI_ENDPOINT environment variable is required for Azure OpenAI provider")
		}
		if config.APIKey == "" {
			return config, fmt.Errorf("AZURE_OPENAI_API_KEY environment variable is required for Azure OpenAI provider")
		}
		if config.Deployment == "" {
			return config, fmt.Errorf("AZURE_OPENAI_DEPLOYMENT environment variable is required for Azure OpenAI provider")
		}

	case ProviderAnthropic:
		config.APIKey = firstSet(config.APIKey, f.getenv("ANTHROPIC_API_KEY"))
		config.Model = firstSet(config.Model, f.getenv("ANTHROPIC_MODEL"), defaultAnthropicModel)
		if config.APIKey == "" {
			return config, fmt.Errorf("ANTHROPIC_API_KEY environment variable is required for Anthropic provider")
		}

	case ProviderOpenAI:
		config.APIKey = firstSet(config.APIKey, f.getenv("OPENAI_API_KEY"))
		config.BaseURL = firstSet(config.BaseURL, f.getenv("OPENAI_BASE_URL"), defaultOpenAIBaseURL)
		config.Model = firstSet(config.Model, f.getenv("OPENAI_MODEL"), defaultOpenAIModel)
		if config.APIKey == "" {
			return config, fmt.Errorf("OPENAI_API_KEY environment variable is required for OpenAI provider")
		}

	default:
		return config, fmt.Errorf("unsupported provider type: %q", config.Type)
	}

	return config, nil
}

// GetProviderFromString converts a string to ProviderType
func GetProviderFromString(provider string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "azure", "azure-openai", "azure_openai":
		return ProviderAzure, nil
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
