package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load reads configuration from environment variables (optionally .env),
// applying spec.md §6's defaults for anything left unset.
func Load() (Config, error) {
	// Use Overload so .env values override existing OS environment variables,
	// letting local/.env config deterministically control dev runs.
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.SystemPrompt = strings.TrimSpace(os.Getenv("SYSTEM_PROMPT"))
	cfg.Workdir = strings.TrimSpace(os.Getenv("WORKDIR"))
	cfg.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))
	cfg.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	cfg.LogPayloads = boolFromEnv("LOG_PAYLOADS", false)

	cfg.LLMClient.Provider = strings.TrimSpace(os.Getenv("LLM_PROVIDER"))

	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.LLMClient.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_MODEL")); v != "" {
		cfg.LLMClient.OpenAI.Model = v
	}
	if v := firstNonEmpty(os.Getenv("OPENAI_BASE_URL"), os.Getenv("OPENAI_API_BASE_URL")); v != "" {
		cfg.LLMClient.OpenAI.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API")); v != "" {
		cfg.LLMClient.OpenAI.API = v
	}
	cfg.LLMClient.OpenAI.LogPayloads = cfg.LogPayloads

	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		cfg.LLMClient.Anthropic.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")); v != "" {
		cfg.LLMClient.Anthropic.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")); v != "" {
		cfg.LLMClient.Anthropic.BaseURL = v
	}

	if v := strings.TrimSpace(os.Getenv("GOOGLE_LLM_API_KEY")); v != "" {
		cfg.LLMClient.Google.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_LLM_MODEL")); v != "" {
		cfg.LLMClient.Google.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_LLM_BASE_URL")); v != "" {
		cfg.LLMClient.Google.BaseURL = v
	}

	cfg.Embedding.CachePath = strings.TrimSpace(os.Getenv("EMBEDDING_CACHE_PATH"))
	cfg.Embedding.CacheEnabled = boolFromEnv("EMBEDDING_CACHE_ENABLED", true)

	cfg.Context.MaxTokens = intFromEnv("CONTEXT_MAX_TOKENS", 0)
	cfg.Context.ReservedTokens = intFromEnv("CONTEXT_RESERVED_TOKENS", 0)

	cfg.Indexer.WorkerThreads = intFromEnv("INDEXER_WORKER_THREADS", 0)
	cfg.Indexer.PerFileDelayMs = intFromEnv("INDEXER_PER_FILE_DELAY_MS", 0)

	cfg.Watcher.DebounceMs = intFromEnv("WATCHER_DEBOUNCE_MS", 0)
	cfg.Watcher.SettleMs = intFromEnv("WATCHER_SETTLE_MS", 0)

	cfg.Scheduler.MaxIterations = intFromEnv("SCHEDULER_MAX_ITERATIONS", 0)
	cfg.Supervisor.MaxReevaluations = intFromEnv("SUPERVISOR_MAX_REEVALUATIONS", 0)

	cfg.Quality.Threshold = floatFromEnv("QUALITY_THRESHOLD", 0)
	cfg.Quality.ConsistencyThreshold = floatFromEnv("CONSISTENCY_THRESHOLD", 0)

	cfg.Token.DefaultMonthlyQuota = intFromEnv("TOKEN_DEFAULT_MONTHLY_QUOTA", 0)
	cfg.Token.WarnPct = intFromEnv("TOKEN_WARN_PCT", 0)

	cfg.OTel.ServiceName = strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME"))
	cfg.OTel.Endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	cfg.OTel.Enabled = boolFromEnv("OTEL_ENABLED", cfg.OTel.Endpoint != "")
	cfg.OTel.Insecure = boolFromEnv("OTEL_INSECURE", false)

	if err := loadSpecialists(&cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	return cfg, nil
}

// loadSpecialists parses SPECIALISTS_CONFIG, a YAML document of
// []SpecialistConfig, matching the teacher's convention of accepting bulk
// structured config through a single env var rather than one var per
// field. Empty/unset leaves cfg.Specialists nil.
func loadSpecialists(cfg *Config) error {
	raw := strings.TrimSpace(os.Getenv("SPECIALISTS_CONFIG"))
	if raw == "" {
		return nil
	}
	return yaml.Unmarshal([]byte(raw), &cfg.Specialists)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func boolFromEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}
