// Package config loads runtime configuration from a YAML file overlaid with
// environment variables, following the same env-wins-over-file precedence the
// rest of this codebase's ancestor used.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// ModelSpec names a provider + model pair the LLM Gateway can target.
type ModelSpec struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url,omitempty"`
}

// AnthropicPromptCacheConfig controls Anthropic prompt-caching scope.
type AnthropicPromptCacheConfig struct {
	Enabled       bool `yaml:"enabled"`
	CacheSystem   bool `yaml:"cache_system"`
	CacheTools    bool `yaml:"cache_tools"`
	CacheMessages bool `yaml:"cache_messages"`
}

// AnthropicConfig configures the Anthropic provider client.
type AnthropicConfig struct {
	APIKey      string                      `yaml:"api_key"`
	Model       string                      `yaml:"model"`
	BaseURL     string                      `yaml:"base_url,omitempty"`
	PromptCache AnthropicPromptCacheConfig  `yaml:"prompt_cache"`
	ExtraParams map[string]any              `yaml:"extra_params,omitempty"`
}

// OpenAIConfig configures the OpenAI-compatible provider client (also used
// for self-hosted OpenAI-API-compatible servers such as mlx_lm.server).
type OpenAIConfig struct {
	APIKey      string         `yaml:"api_key"`
	Model       string         `yaml:"model"`
	BaseURL     string         `yaml:"base_url,omitempty"`
	API         string         `yaml:"api,omitempty"` // "completions" (default) or "responses"
	LogPayloads bool           `yaml:"log_payloads"`
	ExtraParams map[string]any `yaml:"extra_params,omitempty"`
}

// GoogleConfig configures the Gemini provider client.
type GoogleConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
	Timeout int    `yaml:"timeout_seconds,omitempty"`
}

// AsAnthropic, AsOpenAI and AsGoogle translate a ModelSpec plus
// provider-specific extras into the concrete config type each provider
// package's New constructor expects.
func (m ModelSpec) AsAnthropic(cache AnthropicPromptCacheConfig, extra map[string]any) AnthropicConfig {
	return AnthropicConfig{APIKey: m.APIKey, Model: m.Model, BaseURL: m.BaseURL, PromptCache: cache, ExtraParams: extra}
}

func (m ModelSpec) AsOpenAI(api string, logPayloads bool, extra map[string]any) OpenAIConfig {
	return OpenAIConfig{APIKey: m.APIKey, Model: m.Model, BaseURL: m.BaseURL, API: api, LogPayloads: logPayloads, ExtraParams: extra}
}

func (m ModelSpec) AsGoogle(timeoutSeconds int) GoogleConfig {
	return GoogleConfig{APIKey: m.APIKey, Model: m.Model, BaseURL: m.BaseURL, Timeout: timeoutSeconds}
}

// LLMConfig configures the Gateway's primary/fallback routing and retry policy.
type LLMConfig struct {
	Primary         ModelSpec     `yaml:"primary"`
	Fallback        ModelSpec     `yaml:"fallback"`
	Attempts        int           `yaml:"attempts"`
	FailThreshold   int           `yaml:"fail_threshold"`
	FallbackRetries int           `yaml:"fallback_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	DSN         string `yaml:"dsn"`
	MaxConns    int32  `yaml:"max_conns"`
	MinConns    int32  `yaml:"min_conns"`
	ConnLife    time.Duration
	ConnIdle    time.Duration
}

// VectorStoreConfig selects and sizes the C3 vector backend.
type VectorStoreConfig struct {
	Backend    string `yaml:"backend"` // "qdrant" | "embedded" | "memory"
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
	Metric     string `yaml:"metric"` // cosine|l2|ip
	Path       string `yaml:"path"`   // file path for the embedded backend
}

// EmbeddingConfig configures the text-embedding endpoint used by C3/C7/C9.
type EmbeddingConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Path      string        `yaml:"path"`
	APIKey    string        `yaml:"api_key"`
	APIHeader string        `yaml:"api_header"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ResearchConfig tunes the Research Graph (C8) and RAG Agent (C7).
type ResearchConfig struct {
	RecursionLimit int           `yaml:"recursion_limit"`
	RoleMaxRetries int           `yaml:"role_max_retries"`
	RAGMaxSteps    int           `yaml:"rag_max_steps"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	WaitTimeout    time.Duration `yaml:"wait_timeout"`
	SearxngURL     string        `yaml:"searxng_url"`
}

// EventsConfig selects the C11 event bus backend.
type EventsConfig struct {
	Backend      string   `yaml:"backend"` // "inproc" | "kafka"
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
}

// ObservabilityConfig configures OpenTelemetry export and log verbosity.
type ObservabilityConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
	LogLevel     string `yaml:"log_level"`
	LogPretty    bool   `yaml:"log_pretty"`
}

// AuthConfig is intentionally thin: authentication itself is an external
// collaborator (spec.md §1, §6); this only describes how to read the
// already-verified actor out of the request context.
type AuthConfig struct {
	ActorHeader string `yaml:"actor_header"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Config is the root configuration object.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	LLM           LLMConfig           `yaml:"llm"`
	VectorStore   VectorStoreConfig   `yaml:"vector_store"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Research      ResearchConfig      `yaml:"research"`
	Events        EventsConfig        `yaml:"events"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
}

// Default returns a Config with conservative defaults matching spec.md §5
// (5 minute coordinator poll deadline, 300s per-call LLM timeout, etc).
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		LLM: LLMConfig{
			Attempts:        3,
			FailThreshold:   3,
			FallbackRetries: 3,
			RetryBackoff:    60 * time.Second,
			CallTimeout:     300 * time.Second,
		},
		VectorStore: VectorStoreConfig{
			Backend:    "embedded",
			Dimensions: 1536,
			Metric:     "cosine",
			Path:       "./data/vectors.db",
		},
		Research: ResearchConfig{
			RecursionLimit: 20000,
			RoleMaxRetries: 3,
			RAGMaxSteps:    12,
			PollInterval:   60 * time.Second,
			WaitTimeout:    5 * time.Minute,
			SearxngURL:     "http://localhost:8888",
		},
		Events: EventsConfig{Backend: "inproc"},
		Observability: ObservabilityConfig{
			ServiceName: "scholiabot",
			LogLevel:    "info",
		},
		Auth: AuthConfig{ActorHeader: "X-Actor-Id"},
	}
}

// Load reads configuration from a YAML file (if path is non-empty and exists)
// layered under Default(), then applies environment variable overrides. A
// .env file, if present, is loaded first via godotenv so env overrides can be
// driven from a checked-in-but-gitignored file during development.
func Load(path string) (Config, error) {
	_ = godotenv.Overload()

	cfg := Default()
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		cfg.LLM.Primary.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.LLM.Fallback.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("VECTOR_STORE_BACKEND")); v != "" {
		cfg.VectorStore.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("VECTOR_STORE_DSN")); v != "" {
		cfg.VectorStore.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_API_KEY")); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("SEARXNG_URL")); v != "" {
		cfg.Research.SearxngURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
}
