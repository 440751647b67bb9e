package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dmscode/dmsflow/internal/llm"
)

// Duration is a time.Duration that reads "30s" strings or whole seconds from JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := parseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or number of seconds: %s", data)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// parseDuration accepts Go duration syntax or a bare number of seconds.
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Config holds all dmsflow server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	LogLevel   string `json:"log_level"`
	PoolSize   int    `json:"pool_size"`
	QueueSize  int    `json:"queue_size"`

	StoreDriver string `json:"store_driver"`
	DBPath      string `json:"db_path"`
	PostgresDSN string `json:"postgres_dsn,omitempty"`

	LLMProvider    string   `json:"llm_provider"`
	OllamaURL      string   `json:"ollama_url"`
	OllamaModel    string   `json:"ollama_model"`
	OpenAIKey      string   `json:"openai_api_key,omitempty"`
	OpenAIModel    string   `json:"openai_model,omitempty"`
	AnthropicKey   string   `json:"anthropic_api_key,omitempty"`
	AnthropicModel string   `json:"anthropic_model,omitempty"`
	LLMTimeout     Duration `json:"llm_timeout"`
	WebhookTimeout Duration `json:"webhook_timeout"`
	ExtractionURL  string   `json:"extraction_url,omitempty"`
	ExtractionTO   Duration `json:"extraction_timeout"`
	CalendarURL    string   `json:"calendar_url,omitempty"`
	SMTPAddr       string   `json:"smtp_addr,omitempty"`
	SMTPFrom       string   `json:"smtp_from,omitempty"`
	FilesRoot      string   `json:"files_root,omitempty"`
	HistorySize    int      `json:"history_size"`
	MCP            bool     `json:"mcp"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:     ":8540",
		LogLevel:       "info",
		PoolSize:       10,
		QueueSize:      100,
		StoreDriver:    "libsql",
		DBPath:         filepath.Join(dmsflowDir(), "flows.db"),
		LLMProvider:    "ollama",
		OllamaURL:      "http://localhost:11434",
		OllamaModel:    "llama3.2",
		LLMTimeout:     Duration(llm.DefaultTimeout),
		WebhookTimeout: Duration(10 * time.Second),
		ExtractionTO:   Duration(60 * time.Second),
		HistorySize:    100,
	}
}

func dmsflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dmsflow"
	}
	return filepath.Join(home, ".dmsflow")
}

func settingsPath() string {
	return filepath.Join(dmsflowDir(), "settings.json")
}

func pidPath() string {
	return filepath.Join(dmsflowDir(), "dmsflow.pid")
}

func loadConfig() (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", settingsPath(), err)
		}
	}

	// Layer 3: env vars override. The bare provider keys are read first so
	// their DMSFLOW_ counterparts win.
	envString(&cfg.LLMProvider, "LLM_PROVIDER")
	envString(&cfg.OllamaURL, "OLLAMA_URL")
	envString(&cfg.OllamaModel, "OLLAMA_MODEL")
	envString(&cfg.OpenAIKey, "OPENAI_API_KEY")
	envString(&cfg.AnthropicKey, "ANTHROPIC_API_KEY")
	envString(&cfg.AnthropicModel, "ANTHROPIC_MODEL")

	envString(&cfg.ListenAddr, "DMSFLOW_LISTEN_ADDR")
	envString(&cfg.LogLevel, "DMSFLOW_LOG_LEVEL")
	envString(&cfg.StoreDriver, "DMSFLOW_STORE_DRIVER")
	envString(&cfg.DBPath, "DMSFLOW_DB_PATH")
	envString(&cfg.PostgresDSN, "DMSFLOW_POSTGRES_DSN")
	envString(&cfg.LLMProvider, "DMSFLOW_LLM_PROVIDER")
	envString(&cfg.OllamaURL, "DMSFLOW_OLLAMA_URL")
	envString(&cfg.OllamaModel, "DMSFLOW_OLLAMA_MODEL")
	envString(&cfg.OpenAIKey, "DMSFLOW_OPENAI_API_KEY")
	envString(&cfg.OpenAIModel, "DMSFLOW_OPENAI_MODEL")
	envString(&cfg.AnthropicKey, "DMSFLOW_ANTHROPIC_API_KEY")
	envString(&cfg.AnthropicModel, "DMSFLOW_ANTHROPIC_MODEL")
	envString(&cfg.ExtractionURL, "DMSFLOW_EXTRACTION_URL")
	envString(&cfg.CalendarURL, "DMSFLOW_CALENDAR_URL")
	envString(&cfg.SMTPAddr, "DMSFLOW_SMTP_ADDR")
	envString(&cfg.SMTPFrom, "DMSFLOW_SMTP_FROM")
	envString(&cfg.FilesRoot, "DMSFLOW_FILES_ROOT")

	if err := envInt(&cfg.PoolSize, "DMSFLOW_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if err := envInt(&cfg.QueueSize, "DMSFLOW_QUEUE_SIZE"); err != nil {
		return cfg, err
	}
	if err := envInt(&cfg.HistorySize, "DMSFLOW_HISTORY_SIZE"); err != nil {
		return cfg, err
	}
	if err := envDuration(&cfg.LLMTimeout, "DMSFLOW_LLM_TIMEOUT"); err != nil {
		return cfg, err
	}
	if err := envDuration(&cfg.WebhookTimeout, "DMSFLOW_WEBHOOK_TIMEOUT"); err != nil {
		return cfg, err
	}
	if err := envDuration(&cfg.ExtractionTO, "DMSFLOW_EXTRACTION_TIMEOUT"); err != nil {
		return cfg, err
	}
	if v := os.Getenv("DMSFLOW_MCP"); v != "" {
		cfg.MCP = v == "true" || v == "1"
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case "memory", "libsql":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("store_driver postgres requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown store_driver %q (want memory, libsql or postgres)", c.StoreDriver)
	}
	switch c.LLMProvider {
	case "ollama", "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm_provider %q (want ollama, openai or anthropic)", c.LLMProvider)
	}
	return nil
}

func (c Config) llmConfig() llm.Config {
	return llm.Config{
		Provider:       c.LLMProvider,
		Timeout:        time.Duration(c.LLMTimeout),
		OllamaURL:      c.OllamaURL,
		OllamaModel:    c.OllamaModel,
		OpenAIKey:      c.OpenAIKey,
		OpenAIModel:    c.OpenAIModel,
		AnthropicKey:   c.AnthropicKey,
		AnthropicModel: c.AnthropicModel,
	}
}

// libsqlDSN turns a plain path into the file URI libSQL expects.
func (c Config) libsqlDSN() string {
	if strings.Contains(c.DBPath, ":") {
		return c.DBPath
	}
	return "file:" + c.DBPath
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(dst *Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := parseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = Duration(d)
	return nil
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.StoreDriver != new.StoreDriver || old.DBPath != new.DBPath || old.PostgresDSN != new.PostgresDSN {
		d.RestartNeeded = append(d.RestartNeeded, "store")
	}
	if old.PoolSize != new.PoolSize || old.QueueSize != new.QueueSize {
		d.RestartNeeded = append(d.RestartNeeded, "pool")
	}
	if old.llmConfig() != new.llmConfig() {
		d.RestartNeeded = append(d.RestartNeeded, "llm")
	}
	return d
}
