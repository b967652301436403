package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Load reads and validates configuration from the process environment, per
// the variables documented in the environment contract (MODEL_PATH,
// CONTEXT_SIZE, MAX_QUEUE_SIZE, and friends).
func Load() (*Config, error) {
	return LoadFromEnv(os.LookupEnv)
}

// LookupFunc mirrors os.LookupEnv. Exposed so tests can supply a fixed
// environment without mutating process-global state.
type LookupFunc func(key string) (string, bool)

// LoadFromEnv builds a [Config] from an arbitrary environment lookup
// function and validates the result.
func LoadFromEnv(lookup LookupFunc) (*Config, error) {
	var errs []error

	modelPath, ok := lookup("MODEL_PATH")
	if !ok || modelPath == "" {
		errs = append(errs, errors.New("MODEL_PATH is required"))
	}

	contextSize := envInt(lookup, "CONTEXT_SIZE", 4096, &errs)
	cfg := &Config{
		Model: ModelConfig{
			Path:          modelPath,
			ModelsDir:     envString(lookup, "MODELS_DIR", defaultModelsDir()),
			GPULayers:     envInt(lookup, "GPU_LAYERS", 0, &errs),
			ContextSize:   contextSize,
			BatchSize:     envInt(lookup, "BATCH_SIZE", contextSize, &errs),
			TemplatesFile: envString(lookup, "TEMPLATES_FILE", ""),
		},
		Server: ServerConfig{
			Host:        envString(lookup, "HOST", "127.0.0.1"),
			Port:        envInt(lookup, "PORT", 3000, &errs),
			EnableCORS:  envBool(lookup, "ENABLE_CORS", false, &errs),
			MetricsAddr: envString(lookup, "METRICS_ADDR", ""),
		},
		Admission: AdmissionConfig{
			MaxQueueSize: envInt(lookup, "MAX_QUEUE_SIZE", 100, &errs),
		},
		RateLimit: RateLimitConfig{
			Enabled: envBool(lookup, "ENABLE_RATE_LIMIT", false, &errs),
			Max:     envInt(lookup, "RATE_LIMIT_MAX", 60, &errs),
			Window:  time.Duration(envInt(lookup, "RATE_LIMIT_WINDOW", 60, &errs)) * time.Second,
		},
		RAG: RAGConfig{
			Enabled:     envBool(lookup, "RAG_ENABLED", false, &errs),
			DatabaseURL: envString(lookup, "RAG_DATABASE_URL", ""),
			TopK:        envInt(lookup, "RAG_TOP_K", 4, &errs),
		},
		Embeddings: EmbeddingsConfig{
			Provider: EmbeddingsProvider(envString(lookup, "EMBEDDINGS_PROVIDER", string(EmbeddingsNone))),
			Model:    envString(lookup, "EMBEDDINGS_MODEL", ""),
			BaseURL:  envString(lookup, "EMBEDDINGS_BASE_URL", ""),
			APIKey:   envString(lookup, "EMBEDDINGS_API_KEY", ""),
		},
		Logging: LoggingConfig{
			Format: LogFormat(envString(lookup, "LOG_FORMAT", string(LogFormatJSON))),
			Level:  envString(lookup, "LOG_LEVEL", "info"),
		},
	}

	if err := Validate(cfg); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants not already caught during parsing.
// It returns a joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Model.ContextSize <= 0 {
		errs = append(errs, fmt.Errorf("CONTEXT_SIZE must be positive, got %d", cfg.Model.ContextSize))
	}
	if cfg.Model.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must be positive, got %d", cfg.Model.BatchSize))
	}
	if cfg.Model.GPULayers < 0 {
		errs = append(errs, fmt.Errorf("GPU_LAYERS must not be negative, got %d", cfg.Model.GPULayers))
	}
	if cfg.Admission.MaxQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_QUEUE_SIZE must be positive, got %d", cfg.Admission.MaxQueueSize))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be in [1, 65535], got %d", cfg.Server.Port))
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.Max <= 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_MAX must be positive when ENABLE_RATE_LIMIT is set, got %d", cfg.RateLimit.Max))
		}
		if cfg.RateLimit.Window <= 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW must be positive when ENABLE_RATE_LIMIT is set, got %s", cfg.RateLimit.Window))
		}
	}
	if cfg.RAG.Enabled && cfg.RAG.DatabaseURL == "" {
		errs = append(errs, errors.New("RAG_DATABASE_URL is required when RAG_ENABLED is set"))
	}
	if !cfg.Embeddings.Provider.IsValid() {
		errs = append(errs, fmt.Errorf("EMBEDDINGS_PROVIDER %q is invalid; valid values: none, openai, ollama", cfg.Embeddings.Provider))
	}
	if !cfg.Logging.Format.IsValid() {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q is invalid; valid values: json, text", cfg.Logging.Format))
	}

	return errors.Join(errs...)
}

func defaultModelsDir() string {
	if _, err := os.Stat("./models"); err == nil {
		return "./models"
	}
	return "../models"
}

func envString(lookup LookupFunc, key, def string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(lookup LookupFunc, key string, def int, errs *[]error) int {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q: %w", key, v, err))
		return def
	}
	return n
}

func envBool(lookup LookupFunc, key string, def bool, errs *[]error) bool {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid boolean %q: %w", key, v, err))
		return def
	}
	return b
}
