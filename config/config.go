// Package config loads the runtime configuration for sidekick from a .env
// file and environment variables. Only values are defined here; components
// receive them at wiring time and never read the environment themselves.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full configuration surface consumed by the core.
type Config struct {
	BaseDir string

	Debounce           time.Duration
	HeartbeatInterval  time.Duration
	SessionIdleTimeout time.Duration
	TurnTimeout        time.Duration

	AdminConversationKey string

	Search SearchConfig
	Model  ModelConfig
	Log    LogConfig
}

// SearchConfig holds the retrieval tuning constants.
type SearchConfig struct {
	TopK        int
	RRFConstant float64
	BM25K1      float64
	BM25B       float64
}

// ModelConfig selects the external model collaborators.
type ModelConfig struct {
	AnthropicModel string
	EmbeddingModel string
	MaxTokens      int64
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string
	Format string
}

// Default returns the configuration used when no overrides are present.
func Default() *Config {
	return &Config{
		BaseDir:            "workspace",
		Debounce:           2 * time.Second,
		HeartbeatInterval:  time.Minute,
		SessionIdleTimeout: 30 * time.Minute,
		TurnTimeout:        5 * time.Minute,
		Search: SearchConfig{
			TopK:        5,
			RRFConstant: 60,
			BM25K1:      1.5,
			BM25B:       0.75,
		},
		Model: ModelConfig{
			AnthropicModel: "claude-3-5-sonnet-20241022",
			EmbeddingModel: "text-embedding-3-small",
			MaxTokens:      4096,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads .env (if present) and environment variables, layered over the
// defaults. Keys use SIDEKICK_ prefixed, underscore separated names, e.g.
// SIDEKICK_BASE_DIR, SIDEKICK_SESSION_IDLE_TIMEOUT.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	err := k.Load(env.Provider("SIDEKICK_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "SIDEKICK_"))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := Default()

	if v := k.String("base_dir"); v != "" {
		cfg.BaseDir = v
	}
	if v := k.String("admin_conversation_key"); v != "" {
		cfg.AdminConversationKey = v
	}
	if v := k.Int("search_top_k"); v > 0 {
		cfg.Search.TopK = v
	}
	if v := k.Float64("search_rrf_constant"); v > 0 {
		cfg.Search.RRFConstant = v
	}
	if v := k.Float64("search_bm25_k1"); v > 0 {
		cfg.Search.BM25K1 = v
	}
	if v := k.Float64("search_bm25_b"); v > 0 {
		cfg.Search.BM25B = v
	}
	if v := k.String("anthropic_model"); v != "" {
		cfg.Model.AnthropicModel = v
	}
	if v := k.String("embedding_model"); v != "" {
		cfg.Model.EmbeddingModel = v
	}
	if v := k.Int64("model_max_tokens"); v > 0 {
		cfg.Model.MaxTokens = v
	}
	if v := k.String("log_level"); v != "" {
		cfg.Log.Level = v
	}
	if v := k.String("log_format"); v != "" {
		cfg.Log.Format = v
	}

	for key, dst := range map[string]*time.Duration{
		"debounce":             &cfg.Debounce,
		"heartbeat_interval":   &cfg.HeartbeatInterval,
		"session_idle_timeout": &cfg.SessionIdleTimeout,
		"turn_timeout":         &cfg.TurnTimeout,
	} {
		s := k.String(key)
		if s == "" {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", key, err)
		}
		*dst = d
	}

	return cfg, nil
}
