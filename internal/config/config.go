// Package config loads and validates cogrouter's runtime configuration:
// provider credentials, specialist definitions, and the tunables listed in
// spec.md §6's recognized-options table.
package config

import (
	"fmt"
	"os"

	"cogrouter/internal/logging"

	yaml "gopkg.in/yaml.v3"
)

// AnthropicPromptCacheConfig controls Anthropic prompt-caching of the
// system block, tool definitions, and message history.
type AnthropicPromptCacheConfig struct {
	Enabled      bool `yaml:"enabled,omitempty"`
	CacheSystem  bool `yaml:"cache_system,omitempty"`
	CacheTools   bool `yaml:"cache_tools,omitempty"`
	CacheMessages bool `yaml:"cache_messages,omitempty"`
}

// AnthropicConfig configures the Anthropic provider client.
type AnthropicConfig struct {
	APIKey      string                     `yaml:"api_key"`
	BaseURL     string                     `yaml:"base_url,omitempty"`
	Model       string                     `yaml:"model"`
	ExtraParams map[string]any             `yaml:"extra_params,omitempty"`
	PromptCache AnthropicPromptCacheConfig `yaml:"prompt_cache,omitempty"`
}

// GoogleConfig configures the Google (Gemini) provider client.
type GoogleConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model"`
	Timeout int    `yaml:"timeout_seconds,omitempty"`
}

// OpenAIConfig configures the OpenAI provider client. API selects the wire
// surface: "completions" or "responses".
type OpenAIConfig struct {
	API         string         `yaml:"api,omitempty"`
	BaseURL     string         `yaml:"base_url,omitempty"`
	APIKey      string         `yaml:"api_key"`
	Model       string         `yaml:"model"`
	ExtraParams map[string]any `yaml:"extra_params,omitempty"`
	LogPayloads bool           `yaml:"log_payloads,omitempty"`
}

// LLMClientConfig selects and configures the default provider used when a
// request doesn't name one, per spec.md §6's provider fallback rule.
type LLMClientConfig struct {
	Provider  string          `yaml:"provider"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Google    GoogleConfig    `yaml:"google"`
}

// SpecialistConfig describes one Brain Registry entry (component M): a
// stage with its own provider/model, an indexed description used for
// nearest-neighbor selection, and tool permissions.
type SpecialistConfig struct {
	Name                       string            `yaml:"name"`
	Description                string            `yaml:"description"`
	Provider                   string            `yaml:"provider"`
	Model                      string            `yaml:"model,omitempty"`
	BaseURL                    string            `yaml:"base_url,omitempty"`
	APIKey                     string            `yaml:"api_key,omitempty"`
	API                        string            `yaml:"api,omitempty"`
	Paused                     bool              `yaml:"paused,omitempty"`
	EnableTools                bool              `yaml:"enable_tools,omitempty"`
	AllowTools                 []string          `yaml:"allow_tools,omitempty"`
	ExtraHeaders               map[string]string `yaml:"extra_headers,omitempty"`
	ExtraParams                map[string]any    `yaml:"extra_params,omitempty"`
	ReasoningEffort            string            `yaml:"reasoning_effort,omitempty"`
	System                     string            `yaml:"system,omitempty"`
	Order                      int               `yaml:"order,omitempty"`
	SummaryContextWindowTokens int               `yaml:"summary_context_window_tokens,omitempty"`
}

// EmbeddingConfig controls the on-disk/S3 embedding cache (components B, C)
// and the upstream embedding endpoint used to produce vectors.
type EmbeddingConfig struct {
	CachePath    string `yaml:"cache_path"`
	CacheEnabled bool   `yaml:"cache_enabled"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	APIKey       string `yaml:"api_key,omitempty"`
	Model        string `yaml:"model,omitempty"`
	Dimensions   int    `yaml:"dimensions,omitempty"`

	// CacheBackend selects the embedding cache store: "" / "disk" (default)
	// or "s3", for deployments sharing one cache across indexer instances.
	CacheBackend string `yaml:"cache_backend,omitempty"`
	S3Bucket     string `yaml:"s3_bucket,omitempty"`
	S3Prefix     string `yaml:"s3_prefix,omitempty"`
	S3Region     string `yaml:"s3_region,omitempty"`
	S3Endpoint   string `yaml:"s3_endpoint,omitempty"`
	S3AccessKey  string `yaml:"s3_access_key,omitempty"`
	S3SecretKey  string `yaml:"s3_secret_key,omitempty"`
}

// ContextConfig bounds the token budget handed to the Code Retriever (I, J).
type ContextConfig struct {
	MaxTokens      int `yaml:"max_tokens"`
	ReservedTokens int `yaml:"reserved_tokens"`
}

// IndexerConfig tunes the indexing pipeline's worker pool (components B-F).
type IndexerConfig struct {
	WorkerThreads  int `yaml:"worker_threads"`
	PerFileDelayMs int `yaml:"per_file_delay_ms"`
}

// WatcherConfig tunes filesystem-watch debounce/settle windows.
type WatcherConfig struct {
	DebounceMs int `yaml:"debounce_ms"`
	SettleMs   int `yaml:"settle_ms"`

	// Queue selects how settled file-change events are dispatched:
	// "" (default) runs an in-process worker pool; "kafka" routes
	// through KafkaQueue so multiple indexer instances can share one
	// durable change-event stream.
	Queue        string   `yaml:"queue,omitempty"`
	KafkaBrokers []string `yaml:"kafka_brokers,omitempty"`
	KafkaTopic   string   `yaml:"kafka_topic,omitempty"`
	KafkaGroupID string   `yaml:"kafka_group_id,omitempty"`
}

// SchedulerConfig tunes the Brain-Chain Scheduler's ReAct loop (N).
type SchedulerConfig struct {
	MaxIterations int `yaml:"max_iterations"`
}

// SupervisorConfig tunes the Supervisor's re-evaluation gate (O).
type SupervisorConfig struct {
	MaxReevaluations int `yaml:"max_reevaluations"`
}

// QualityConfig tunes the Quality Gates' trust thresholds (P).
type QualityConfig struct {
	Threshold            float64 `yaml:"threshold"`
	ConsistencyThreshold float64 `yaml:"consistency_threshold"`
}

// TokenConfig bounds per-user monthly spend (component Q).
type TokenConfig struct {
	DefaultMonthlyQuota int `yaml:"default_monthly_quota"`
	WarnPct             int `yaml:"warn_pct"`
}

// TTSConfig configures the text-to-speech tool's upstream endpoint.
type TTSConfig struct {
	Model   string `yaml:"model,omitempty"`
	Voice   string `yaml:"voice,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// ExecConfig bounds the shell-exec tool (internal/tools/cli).
type ExecConfig struct {
	BlockBinaries     []string `yaml:"block_binaries,omitempty"`
	MaxCommandSeconds int      `yaml:"max_command_seconds,omitempty"`
}

// SpecialistRoute is a keyword/regex rule mapping a query to a named
// specialist, used by internal/specialists.Route as a cheaper
// pre-filter ahead of the Brain Registry's nearest-neighbor lookup.
type SpecialistRoute struct {
	Name     string   `yaml:"name"`
	Contains []string `yaml:"contains,omitempty"`
	Regex    []string `yaml:"regex,omitempty"`
}

// TelemetryConfig names component R's spans and carries the standard
// OTEL_EXPORTER_OTLP_* settings for an operator-registered TracerProvider.
// This process does not construct a TracerProvider or exporter itself —
// ServiceName is the one field it consumes directly (internal/timeline's
// tracer name); Enabled/Endpoint/Insecure only take effect if something
// outside this process (auto-instrumentation, a sidecar) registers a real
// provider against the global otel API. ClickHouse is the durable sink this
// module actually ships for stage timelines.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`

	ClickHouse ClickHouseConfig `yaml:"clickhouse,omitempty"`
}

// ClickHouseConfig points R's durable stage-timeline sink at a ClickHouse
// table. Empty DSN disables the sink; StartStageSpan still records to the
// in-memory Recorder and the OTel tracer either way.
type ClickHouseConfig struct {
	DSN             string `yaml:"dsn,omitempty"`
	Database        string `yaml:"database,omitempty"`
	StagesTable     string `yaml:"stages_table,omitempty"`
	TimestampColumn string `yaml:"timestamp_column,omitempty"`
	TimeoutSeconds  int    `yaml:"timeout_seconds,omitempty"`
}

// Config is the fully-resolved runtime configuration for cogrouterd.
type Config struct {
	Workdir      string `yaml:"workdir"`
	DataPath     string `yaml:"data_path,omitempty"`
	LogPath      string `yaml:"log_path"`
	LogLevel     string `yaml:"log_level"`
	LogPayloads  bool   `yaml:"log_payloads"`
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// GoogleGeminiKey is read directly by tools that call the Gemini API
	// outside of the llm.Provider abstraction (e.g. speech transcription).
	GoogleGeminiKey string `yaml:"google_gemini_key,omitempty"`

	// OpenAI is the directly-addressed default OpenAI client config,
	// consulted by tools ahead of LLMClient.OpenAI so a tool-specific
	// override doesn't require reconfiguring the default chat provider.
	OpenAI OpenAIConfig `yaml:"openai,omitempty"`

	LLMClient        LLMClientConfig    `yaml:"llm_client"`
	Specialists      []SpecialistConfig `yaml:"specialists,omitempty"`
	SpecialistRoutes []SpecialistRoute  `yaml:"specialist_routes,omitempty"`

	TTS  TTSConfig  `yaml:"tts,omitempty"`
	Exec ExecConfig `yaml:"exec,omitempty"`

	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Context    ContextConfig    `yaml:"context"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Quality    QualityConfig    `yaml:"quality"`
	Token      TokenConfig      `yaml:"token"`
	OTel       TelemetryConfig  `yaml:"otel"`
}

// applyDefaults fills every recognized option from spec.md §6 that wasn't
// set explicitly, logging each substitution the way the teacher's loader
// logged its own fallback defaults.
func applyDefaults(cfg *Config) {
	if cfg.Embedding.CachePath == "" {
		cfg.Embedding.CachePath = "./cache"
		logging.Log.Debug("config: embedding.cache.path defaulted to ./cache")
	}
	if !cfg.Embedding.CacheEnabled {
		cfg.Embedding.CacheEnabled = true
	}
	if cfg.Exec.MaxCommandSeconds <= 0 {
		cfg.Exec.MaxCommandSeconds = 30
	}
	if cfg.Context.MaxTokens <= 0 {
		cfg.Context.MaxTokens = 8000
	}
	if cfg.Context.ReservedTokens <= 0 {
		cfg.Context.ReservedTokens = 1000
	}
	if cfg.Indexer.WorkerThreads <= 0 {
		cfg.Indexer.WorkerThreads = 3
	}
	if cfg.Indexer.PerFileDelayMs <= 0 {
		cfg.Indexer.PerFileDelayMs = 100
	}
	if cfg.Watcher.DebounceMs <= 0 {
		cfg.Watcher.DebounceMs = 1000
	}
	if cfg.Watcher.SettleMs <= 0 {
		cfg.Watcher.SettleMs = 500
	}
	if cfg.Scheduler.MaxIterations <= 0 {
		cfg.Scheduler.MaxIterations = 2
	}
	if cfg.Supervisor.MaxReevaluations <= 0 {
		cfg.Supervisor.MaxReevaluations = 3
	}
	if cfg.Quality.Threshold <= 0 {
		cfg.Quality.Threshold = 0.75
	}
	if cfg.Quality.ConsistencyThreshold <= 0 {
		cfg.Quality.ConsistencyThreshold = 0.85
	}
	if cfg.Token.DefaultMonthlyQuota <= 0 {
		cfg.Token.DefaultMonthlyQuota = 100000
	}
	if cfg.Token.WarnPct <= 0 {
		cfg.Token.WarnPct = 80
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "cogrouter"
	}
	if cfg.LLMClient.Provider == "" {
		cfg.LLMClient.Provider = "default"
	}
}

// LoadConfig reads cfg from a YAML file and fills in spec.md §6's defaults
// for any option left unset.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", filename, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling %s: %w", filename, err)
	}

	applyDefaults(&cfg)
	logging.Log.Info("config: loaded " + filename)
	return &cfg, nil
}
