// Package config loads the hippocampus configuration: one YAML file,
// HIPPOCAMPUS_* environment overrides on top, defaults underneath.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/juspay/hippocampus/pkg/provider"
	"github.com/juspay/hippocampus/pkg/store"
)

// Config is the full runtime configuration.
type Config struct {
	Server   Server          `yaml:"server"`
	Store    Storage         `yaml:"store"`
	Provider provider.Config `yaml:"provider"`
	Decay    Decay           `yaml:"decay"`
	Search   Search          `yaml:"search"`
	Logging  Logging         `yaml:"logging"`
}

// Server configures the REST listener.
type Server struct {
	Addr string `yaml:"addr"`

	// APIKeys enables bearer-token auth when non-empty.
	APIKeys []string `yaml:"api_keys"`

	CORSOrigins []string `yaml:"cors_origins"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Storage selects and configures the persistence backend.
type Storage struct {
	// Driver is one of "sqlite", "postgres", "memory".
	Driver string `yaml:"driver"`

	// Path is the database file for the sqlite driver.
	Path string `yaml:"path"`

	// DSN is the connection string for the postgres driver.
	DSN string `yaml:"dsn"`

	// Dimensions fixes the embedding width for the postgres vector
	// column. Zero defers to the embedder's dimensions.
	Dimensions int `yaml:"dimensions"`
}

// Decay overrides the per-strand decay rates.
type Decay struct {
	Rates     map[string]float64 `yaml:"rates"`
	MinSignal float64            `yaml:"min_signal"`
}

// Search overrides the retrieval defaults.
type Search struct {
	DefaultLimit  int     `yaml:"default_limit"`
	MinFinalScore float64 `yaml:"min_final_score"`
}

// Logging configures the zap logger.
type Logging struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "json" or "console".
	Format string `yaml:"format"`
}

// DefaultConfig returns a fully usable embedded setup: sqlite file next
// to the working directory, native embedder, no completer.
func DefaultConfig() Config {
	return Config{
		Server: Server{
			Addr:            ":8900",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: Storage{
			Driver: "sqlite",
			Path:   "hippocampus.db",
		},
		Provider: provider.DefaultConfig(),
		Decay: Decay{
			MinSignal: 0.01,
		},
		Search: Search{
			DefaultLimit:  10,
			MinFinalScore: 0.35,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file when path
// is non-empty, then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers HIPPOCAMPUS_* variables over the loaded values.
func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString("HIPPOCAMPUS_SERVER_ADDR", &c.Server.Addr)
	if v, ok := os.LookupEnv("HIPPOCAMPUS_API_KEYS"); ok {
		c.Server.APIKeys = splitNonEmpty(v)
	}
	if v, ok := os.LookupEnv("HIPPOCAMPUS_CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = splitNonEmpty(v)
	}

	setString("HIPPOCAMPUS_STORE_DRIVER", &c.Store.Driver)
	setString("HIPPOCAMPUS_STORE_PATH", &c.Store.Path)
	setString("HIPPOCAMPUS_STORE_DSN", &c.Store.DSN)
	if v, ok := os.LookupEnv("HIPPOCAMPUS_STORE_DIMENSIONS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Store.Dimensions = n
		}
	}

	setString("HIPPOCAMPUS_EMBEDDER", &c.Provider.Embedder)
	setString("HIPPOCAMPUS_COMPLETER", &c.Provider.Completer)
	setString("HIPPOCAMPUS_OPENAI_API_KEY", &c.Provider.OpenAI.APIKey)
	setString("HIPPOCAMPUS_OPENAI_BASE_URL", &c.Provider.OpenAI.BaseURL)
	setString("HIPPOCAMPUS_OLLAMA_ENDPOINT", &c.Provider.Ollama.Endpoint)

	setString("HIPPOCAMPUS_LOG_LEVEL", &c.Logging.Level)
	setString("HIPPOCAMPUS_LOG_FORMAT", &c.Logging.Format)
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("config: store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown store.driver %q (want sqlite, postgres, or memory)", c.Store.Driver)
	}
	if c.Store.Dimensions < 0 {
		return fmt.Errorf("config: store.dimensions must not be negative")
	}

	switch c.Provider.Embedder {
	case "", "native", "openai", "ollama":
	default:
		return fmt.Errorf("config: unknown provider.embedder %q (want native, openai, or ollama)", c.Provider.Embedder)
	}
	switch c.Provider.Completer {
	case "", "none", "openai", "ollama":
	default:
		return fmt.Errorf("config: unknown provider.completer %q (want none, openai, or ollama)", c.Provider.Completer)
	}
	if c.Provider.Embedder == "openai" && c.Provider.OpenAI.APIKey == "" {
		return fmt.Errorf("config: provider.openai.api_key is required for the openai embedder (or set HIPPOCAMPUS_OPENAI_API_KEY)")
	}

	for strand, rate := range c.Decay.Rates {
		if _, ok := store.ParseStrand(strand); !ok {
			return fmt.Errorf("config: decay.rates: unknown strand %q", strand)
		}
		if rate <= 0 || rate > 1 {
			return fmt.Errorf("config: decay.rates.%s must be in (0,1], got %g", strand, rate)
		}
	}
	if c.Decay.MinSignal < 0 || c.Decay.MinSignal >= 1 {
		return fmt.Errorf("config: decay.min_signal must be in [0,1), got %g", c.Decay.MinSignal)
	}

	if c.Search.DefaultLimit < 0 {
		return fmt.Errorf("config: search.default_limit must not be negative")
	}
	if c.Search.MinFinalScore < 0 || c.Search.MinFinalScore > 1 {
		return fmt.Errorf("config: search.min_final_score must be in [0,1], got %g", c.Search.MinFinalScore)
	}

	if _, err := zapcore.ParseLevel(levelOrDefault(c.Logging.Level)); err != nil {
		return fmt.Errorf("config: unknown logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config: unknown logging.format %q (want json or console)", c.Logging.Format)
	}
	return nil
}

// BuildLogger constructs the zap logger described by the logging
// section.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(levelOrDefault(c.Logging.Level))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var zc zap.Config
	if c.Logging.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("config: build logger: %w", err)
	}
	return logger, nil
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return level
}

func splitNonEmpty(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
