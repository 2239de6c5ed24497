package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all rulekit process configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath                    string   `json:"db_path"` // empty disables the store and the reloader
	LogLevel                  string   `json:"log_level"`
	Parallelism               int      `json:"parallelism"` // 0 selects GOMAXPROCS
	ReloadSchedule            string   `json:"reload_schedule"`
	WorkflowFiles             []string `json:"workflow_files"`
	ExceptionAsFailureMessage bool     `json:"exception_as_failure_message"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:       "info",
		ReloadSchedule: "@every 1m",
	}
}

func rulekitDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rulekit"
	}
	return filepath.Join(home, ".rulekit")
}

func settingsPath() string {
	return filepath.Join(rulekitDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("RULEKIT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("RULEKIT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RULEKIT_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Parallelism = n
		}
	}
	if v := os.Getenv("RULEKIT_RELOAD_SCHEDULE"); v != "" {
		cfg.ReloadSchedule = v
	}
	if v := os.Getenv("RULEKIT_WORKFLOW_FILES"); v != "" {
		cfg.WorkflowFiles = splitList(v)
	}
	if v := os.Getenv("RULEKIT_EXCEPTION_AS_FAILURE_MESSAGE"); v != "" {
		cfg.ExceptionAsFailureMessage = v == "true" || v == "1"
	}

	return cfg
}

// dbURI turns a plain path into the file URI libSQL expects.
func (c Config) dbURI() string {
	if c.DBPath == "" || strings.Contains(c.DBPath, ":") {
		return c.DBPath
	}
	return "file:" + c.DBPath
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
