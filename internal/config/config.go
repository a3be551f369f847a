// Package config handles Second Brain configuration.
//
// Config files are JSON. String values prefixed with "$" are resolved against
// environment variables in a single pass at load time, so the rest of the
// system never sees an unresolved "$VAR" token.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvConfigPath overrides the default config location.
const EnvConfigPath = "SB_CONFIG_PATH"

// Config holds all configuration.
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	// Routing
	ConfidenceThreshold float64 `json:"confidence_threshold"`

	// Conversation state TTL in minutes
	StateTTLMinutes int `json:"state_ttl_minutes"`

	LogLevel string `json:"log_level"`

	Server ServerConfig `json:"server"`
	Retry  RetryConfig  `json:"retry"`
	Digest DigestConfig `json:"digest"`

	// Adapter selection
	Capture    AdapterConfig `json:"capture"`
	Classifier AdapterConfig `json:"classifier"`
	Storage    AdapterConfig `json:"storage"`
	Notifier   AdapterConfig `json:"notifier"`
}

// ServerConfig for the webhook/API server.
type ServerConfig struct {
	Port          int    `json:"port"`
	Host          string `json:"host"`
	WebhookSecret string `json:"webhook_secret"`
	BotName       string `json:"bot_name"`
	BotID         string `json:"bot_id"`
	BotEmail      string `json:"bot_email"`
}

// RetryConfig bounds external-call retries.
type RetryConfig struct {
	MaxAttempts   int `json:"max_attempts"`
	BackoffBaseMS int `json:"backoff_base_ms"`
	MaxBackoffMS  int `json:"max_backoff_ms"`
}

// BackoffBase returns the base wait as a duration.
func (r RetryConfig) BackoffBase() time.Duration {
	return time.Duration(r.BackoffBaseMS) * time.Millisecond
}

// MaxBackoff returns the wait cap as a duration.
func (r RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMS) * time.Millisecond
}

// DigestConfig for digest scheduling in serve mode.
type DigestConfig struct {
	DailyAt  string `json:"daily_at"`  // "08:00"
	WeeklyAt string `json:"weekly_at"` // "17:00"
	ListCap  int    `json:"list_cap"`  // max items per rendered list
	RoomID   string `json:"room_id"`   // thread scheduled digests post to
}

// AdapterConfig selects a named adapter implementation and its settings.
type AdapterConfig struct {
	Adapter  string            `json:"adapter"`
	Settings map[string]string `json:"settings"`
}

// Setting returns a named setting or a fallback.
func (a AdapterConfig) Setting(key, fallback string) string {
	if v, ok := a.Settings[key]; ok && v != "" {
		return v
	}
	return fallback
}

// StateTTL returns the PendingOperation lifetime.
func (c *Config) StateTTL() time.Duration {
	return time.Duration(c.StateTTLMinutes) * time.Minute
}

// Default returns default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".secondbrain")

	return &Config{
		DataDir:             dataDir,
		ConfidenceThreshold: 0.6,
		StateTTLMinutes:     30,
		LogLevel:            "info",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Retry: RetryConfig{
			MaxAttempts:   4,
			BackoffBaseMS: 500,
			MaxBackoffMS:  8000,
		},
		Digest: DigestConfig{
			DailyAt:  "08:00",
			WeeklyAt: "17:00",
			ListCap:  20,
		},
		Capture:    AdapterConfig{Adapter: "queue"},
		Classifier: AdapterConfig{Adapter: "rules"},
		Storage:    AdapterConfig{Adapter: "sqlite"},
		Notifier:   AdapterConfig{Adapter: "console"},
	}
}

// Load loads config from path, falling back to $SB_CONFIG_PATH, then to
// defaults when no file exists. A .env file next to the working directory is
// loaded first so "$VAR" references resolve against it.
func Load(path string) (*Config, error) {
	LoadDotenv(".env")

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	cfg := Default()
	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	resolved, err := ResolveEnv(data)
	if err != nil {
		return nil, fmt.Errorf("resolve config %s: %w", path, err)
	}
	if err := json.Unmarshal(resolved, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes config to path (or its default location). Secrets that came
// from the environment are written back as-is; callers keep "$VAR" references
// in their files instead of literals.
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ResolveEnv walks a raw JSON document and replaces every string value of the
// form "$NAME" with the NAME environment variable. Unset variables leave the
// token untouched so misconfiguration is visible rather than silently empty.
func ResolveEnv(raw []byte) ([]byte, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(resolveValue(doc))
}

func resolveValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "$") && len(val) > 1 {
			if env, ok := os.LookupEnv(val[1:]); ok {
				return env
			}
		}
		return val
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = resolveValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = resolveValue(item)
		}
		return out
	default:
		return v
	}
}

// LoadDotenv reads KEY=VALUE lines from path into the process environment.
// Existing variables are never overwritten; missing files are fine.
func LoadDotenv(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
}
