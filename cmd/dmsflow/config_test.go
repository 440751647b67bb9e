package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateConfig points HOME at a temp dir and clears every variable
// loadConfig reads.
func isolateConfig(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"LLM_PROVIDER", "OLLAMA_URL", "OLLAMA_MODEL", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "ANTHROPIC_MODEL",
		"DMSFLOW_LISTEN_ADDR", "DMSFLOW_LOG_LEVEL", "DMSFLOW_STORE_DRIVER", "DMSFLOW_DB_PATH",
		"DMSFLOW_POSTGRES_DSN", "DMSFLOW_LLM_PROVIDER", "DMSFLOW_POOL_SIZE", "DMSFLOW_QUEUE_SIZE",
		"DMSFLOW_HISTORY_SIZE", "DMSFLOW_LLM_TIMEOUT", "DMSFLOW_WEBHOOK_TIMEOUT", "DMSFLOW_MCP",
	} {
		t.Setenv(k, "")
	}
	return home
}

func writeSettingsFile(t *testing.T, home, body string) {
	t.Helper()
	dir := filepath.Join(home, ".dmsflow")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(body), 0o600))
}

func TestLoadConfig_Defaults(t *testing.T) {
	home := isolateConfig(t)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8540", cfg.ListenAddr)
	assert.Equal(t, "libsql", cfg.StoreDriver)
	assert.Equal(t, filepath.Join(home, ".dmsflow", "flows.db"), cfg.DBPath)
	assert.Equal(t, "ollama", cfg.LLMProvider)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.LLMTimeout))
	assert.False(t, cfg.MCP)
}

func TestLoadConfig_Layers(t *testing.T) {
	home := isolateConfig(t)
	writeSettingsFile(t, home, `{
		"listen_addr": ":9000",
		"pool_size": 4,
		"llm_provider": "openai",
		"llm_timeout": "45s",
		"webhook_timeout": 5
	}`)

	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("DMSFLOW_POOL_SIZE", "8")
	t.Setenv("OLLAMA_MODEL", "mistral")
	t.Setenv("DMSFLOW_MCP", "1")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr, "settings.json over default")
	assert.Equal(t, 8, cfg.PoolSize, "env over settings.json")
	assert.Equal(t, "anthropic", cfg.LLMProvider)
	assert.Equal(t, "mistral", cfg.OllamaModel)
	assert.Equal(t, 45*time.Second, time.Duration(cfg.LLMTimeout))
	assert.Equal(t, 5*time.Second, time.Duration(cfg.WebhookTimeout))
	assert.True(t, cfg.MCP)

	t.Setenv("DMSFLOW_LLM_PROVIDER", "ollama")
	cfg, err = loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.LLMProvider, "prefixed key beats bare provider key")
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name     string
		settings string
		env      map[string]string
		want     string
	}{
		{"bad json", `{"pool_size": "x"`, nil, "parse"},
		{"bad pool size", "", map[string]string{"DMSFLOW_POOL_SIZE": "many"}, "DMSFLOW_POOL_SIZE"},
		{"bad timeout", "", map[string]string{"DMSFLOW_LLM_TIMEOUT": "soon"}, "DMSFLOW_LLM_TIMEOUT"},
		{"unknown driver", `{"store_driver": "mongo"}`, nil, "unknown store_driver"},
		{"postgres without dsn", `{"store_driver": "postgres"}`, nil, "requires postgres_dsn"},
		{"unknown provider", "", map[string]string{"LLM_PROVIDER": "gemini"}, "unknown llm_provider"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			home := isolateConfig(t)
			if tc.settings != "" {
				writeSettingsFile(t, home, tc.settings)
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := loadConfig()
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, time.Duration(d))
	require.NoError(t, json.Unmarshal([]byte(`"20"`), &d))
	assert.Equal(t, 20*time.Second, time.Duration(d))
	require.NoError(t, json.Unmarshal([]byte(`2.5`), &d))
	assert.Equal(t, 2500*time.Millisecond, time.Duration(d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	out, err := json.Marshal(Duration(10 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"10s"`, string(out))
}

func TestLibsqlDSN(t *testing.T) {
	assert.Equal(t, "file:/var/lib/flows.db", Config{DBPath: "/var/lib/flows.db"}.libsqlDSN())
	assert.Equal(t, "file:/x.db", Config{DBPath: "file:/x.db"}.libsqlDSN())
	assert.Equal(t, "libsql://db.example.com", Config{DBPath: "libsql://db.example.com"}.libsqlDSN())
}

func TestDiffConfigs(t *testing.T) {
	old := defaultConfig()

	same := diffConfigs(old, old)
	assert.False(t, same.LogLevelChanged)
	assert.Empty(t, same.RestartNeeded)

	next := old
	next.LogLevel = "debug"
	next.PoolSize = 20
	next.OllamaModel = "mistral"
	d := diffConfigs(old, next)
	assert.True(t, d.LogLevelChanged)
	assert.Equal(t, []string{"pool", "llm"}, d.RestartNeeded)
}

func TestWriteSettings_OmitsKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	cfg := defaultConfig()
	cfg.OpenAIKey = "sk-secret"
	cfg.AnthropicKey = "ak-secret"

	require.NoError(t, writeSettings(path, cfg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	var back Config
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, cfg.ListenAddr, back.ListenAddr)
	assert.Equal(t, cfg.LLMTimeout, back.LLMTimeout)
}
