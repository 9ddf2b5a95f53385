package smartapi

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/paulgrammer/smartapi-connect/connector"
	"github.com/paulgrammer/smartapi-connect/llm"
	"github.com/paulgrammer/smartapi-connect/pipeline"
)

func TestParseConfigFromBytes_Defaults(t *testing.T) {
	cfg, err := ParseConfigFromBytes([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "SmartAPI Connect", cfg.Server.Name)
	assert.Equal(t, ":8888", cfg.Server.Addr)
	assert.EqualValues(t, 5<<20, cfg.Server.MaxUploadBytes)
	assert.Equal(t, connector.DefaultTimeout, cfg.Connector.Timeout.Std())
	assert.EqualValues(t, connector.DefaultMaxResponseBytes, cfg.Connector.MaxResponseBytes)
	assert.Equal(t, pipeline.DefaultMaxToolIterations, cfg.LLM.MaxToolIterations)
	assert.Equal(t, string(pipeline.ThreeStage), cfg.Pipeline.Topology)
	assert.Equal(t, string(pipeline.Parallel), cfg.Pipeline.Mode)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTTL.Std())
	assert.Equal(t, 5*time.Minute, cfg.Session.ProcessTimeout.Std())

	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfigFromBytes_Full(t *testing.T) {
	t.Setenv("SMARTAPI_TEST_KEY", "sk-test")
	t.Setenv("SMARTAPI_TEST_TOKEN", "tok")

	cfg, err := ParseConfigFromBytes([]byte(`
server:
  addr: "127.0.0.1:9000"
  base_url: https://smartapi.example.com/
connector:
  timeout: 10
  dial_timeout: 2s
  max_redirects: 3
  default_headers:
    Authorization: "Bearer ${SMARTAPI_TEST_TOKEN}"
llm:
  provider: claude
  api_key: ${SMARTAPI_TEST_KEY}
  model: claude-3-5-sonnet-latest
  requests_per_minute: 30
  temperature: 0.2
pipeline:
  topology: two-stage
  mode: sequential
session:
  idle_ttl: 1h
  process_timeout: "90"
`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Connector.Timeout.Std())
	assert.Equal(t, "Bearer tok", cfg.Connector.DefaultHeaders["Authorization"])
	assert.Equal(t, llm.ProviderAnthropic, cfg.LLM.Type)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "claude-3-5-sonnet-latest", cfg.LLM.Model)
	assert.Equal(t, 30.0, cfg.LLM.RequestsPerMinute)
	assert.Equal(t, "two-stage", cfg.Pipeline.Topology)
	assert.Equal(t, time.Hour, cfg.Session.IdleTTL.Std())
	assert.Equal(t, 90*time.Second, cfg.Session.ProcessTimeout.Std())

	client := cfg.Connector.ClientConfig()
	assert.Equal(t, 2*time.Second, client.DialTimeout)
	assert.Equal(t, 3, client.MaxRedirects)
	assert.Equal(t, connector.DefaultClientConfig().MaxIdleConns, client.MaxIdleConns)
}

func TestParseConfigFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"malformed", "server: [", "failed to parse YAML config"},
		{"base url scheme", "server:\n  base_url: ftp://host", "server.base_url"},
		{"bad duration", "connector:\n  timeout: soon", "invalid duration format"},
		{"negative timeout", "connector:\n  timeout: -1s", "connector.timeout"},
		{"unknown provider", "llm:\n  provider: parrot", "llm.provider"},
		{"negative rate", "llm:\n  requests_per_minute: -5", "requests_per_minute"},
		{"unknown topology", "pipeline:\n  topology: four-stage", "pipeline.topology"},
		{"unknown mode", "pipeline:\n  mode: hierarchical", "pipeline.mode"},
		{"negative ttl", "session:\n  idle_ttl: -1m", "session durations"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfigFromBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smartapi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  name: Test Connect\n"), 0o600))

	t.Setenv("SMARTAPI_TEST_DIR", dir)
	cfg, err := ParseConfig("${SMARTAPI_TEST_DIR}/smartapi.yaml")
	require.NoError(t, err)
	assert.Equal(t, "Test Connect", cfg.Server.Name)

	_, err = ParseConfig(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "config.yaml"), expandPath("~/config.yaml"))
	assert.Equal(t, "/etc/smartapi.yaml", expandPath("/etc/smartapi.yaml"))
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`45`), &d))
	assert.Equal(t, 45*time.Second, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`"2.5"`), &d))
	assert.Equal(t, 2500*time.Millisecond, d.Std())

	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	out, err := json.Marshal(Duration(3 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"3s"`, string(out))

	var holder struct {
		D Duration `yaml:"d"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("d: 250ms"), &holder))
	assert.Equal(t, 250*time.Millisecond, holder.D.Std())

	err = yaml.Unmarshal([]byte("d: [1, 2]"), &holder)
	assert.ErrorContains(t, err, "duration must be a scalar")
}

func TestDefaultBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8888", defaultBaseURL(":8888"))
	assert.Equal(t, "http://localhost:80", defaultBaseURL("0.0.0.0:80"))
	assert.Equal(t, "http://127.0.0.1:9000", defaultBaseURL("127.0.0.1:9000"))
}
