package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// runInit writes settings.json from flags and signals a running server to
// reload it.
func runInit(args []string) {
	defaults := defaultConfig()

	fs := flag.NewFlagSet("init", flag.ExitOnError)
	listenAddr := fs.String("listen-addr", defaults.ListenAddr, "TCP listen address")
	logLevel := fs.String("log-level", defaults.LogLevel, "log level: debug, info, warn, error")
	poolSize := fs.Int("pool-size", defaults.PoolSize, "worker pool size")
	queueSize := fs.Int("queue-size", defaults.QueueSize, "pending run queue size")
	storeDriver := fs.String("store", defaults.StoreDriver, "flow store: memory, libsql, postgres")
	dbPath := fs.String("db-path", defaults.DBPath, "libsql database path")
	provider := fs.String("llm-provider", defaults.LLMProvider, "reasoning backend: ollama, openai, anthropic")
	filesRoot := fs.String("files-root", "", "directory file actions are confined to")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	dir := dmsflowDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot create %s: %v\n", dir, err)
		os.Exit(1)
	}

	cfg := defaults
	cfg.ListenAddr = *listenAddr
	cfg.LogLevel = *logLevel
	cfg.PoolSize = *poolSize
	cfg.QueueSize = *queueSize
	cfg.StoreDriver = *storeDriver
	cfg.DBPath = *dbPath
	cfg.LLMProvider = *provider
	cfg.FilesRoot = *filesRoot
	if err := cfg.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := writeSettings(settingsPath(), cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config written to %s\n", settingsPath())

	signalRunningServer()
}

// writeSettings stores cfg as indented JSON. API keys stay in the
// environment and are never written.
func writeSettings(path string, cfg Config) error {
	cfg.OpenAIKey = ""
	cfg.AnthropicKey = ""
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}

// signalRunningServer sends SIGHUP to a running dmsflow server (via pidfile).
// Returns true if the server was signaled.
func signalRunningServer() bool {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Check if process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return false
	}
	fmt.Printf("Signaled running server (PID %d) to reload configuration\n", pid)
	return true
}
