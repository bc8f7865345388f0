package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all keepsake configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Memory    MemoryConfig    `mapstructure:"memory" yaml:"memory"`
	Decay     DecayConfig     `mapstructure:"decay" yaml:"decay"`
	Audit     AuditConfig     `mapstructure:"audit" yaml:"audit"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind" yaml:"bind"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type LLMConfig struct {
	Provider       string `mapstructure:"provider" yaml:"provider"` // "none", "anthropic", "ollama"
	Model          string `mapstructure:"model" yaml:"model"`
	MaxTokens      int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	OllamaURL      string `mapstructure:"ollama_url" yaml:"ollama_url"`
	OllamaModel    string `mapstructure:"ollama_model" yaml:"ollama_model"`
	EmbeddingModel string `mapstructure:"embedding_model" yaml:"embedding_model"` // e.g. "nomic-embed-text"
	AnthropicKey   string `mapstructure:"anthropic_key" yaml:"-"`
}

// MemoryConfig tunes retrieval and assembly.
type MemoryConfig struct {
	RetrievalMode       string        `mapstructure:"retrieval_mode" yaml:"retrieval_mode"` // "lexical", "similarity"
	RetrievalLimit      int           `mapstructure:"retrieval_limit" yaml:"retrieval_limit"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	SimilarityCount     int           `mapstructure:"similarity_count" yaml:"similarity_count"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	DecayWindowDays     int           `mapstructure:"decay_window_days" yaml:"decay_window_days"`
	HalfLifeDays        float64       `mapstructure:"half_life_days" yaml:"half_life_days"`
	MinConfidence       float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
}

// DecayConfig controls the batch decay job.
type DecayConfig struct {
	Schedule    string        `mapstructure:"schedule" yaml:"schedule"` // cron spec
	Policy      string        `mapstructure:"policy" yaml:"policy"`     // "half_life", "incremental"
	BatchLimit  int           `mapstructure:"batch_limit" yaml:"batch_limit"`
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
}

type AuditConfig struct {
	Async         bool          `mapstructure:"async" yaml:"async"`
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// SchedulerConfig selects the decay run lock. An empty RedisURL uses an
// in-process lock.
type SchedulerConfig struct {
	RedisURL string        `mapstructure:"redis_url" yaml:"redis_url"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "console", "json"
}

// Batch limit bounds for the decay job.
const (
	MinBatchLimit = 500
	MaxBatchLimit = 5000
)

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37780,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider:       "none",
			Model:          "claude-haiku-4-5-20251001",
			MaxTokens:      1024,
			OllamaURL:      "http://localhost:11434",
			OllamaModel:    "llama3.2",
			EmbeddingModel: "nomic-embed-text",
		},
		Memory: MemoryConfig{
			RetrievalMode:       "lexical",
			RetrievalLimit:      50,
			SimilarityThreshold: 0.75,
			SimilarityCount:     30,
			CacheTTL:            3 * time.Minute,
			DecayWindowDays:     90,
			HalfLifeDays:        60,
			MinConfidence:       0.5,
		},
		Decay: DecayConfig{
			Schedule:    "0 3 * * *",
			Policy:      "half_life",
			BatchLimit:  1000,
			MinInterval: time.Hour,
		},
		Audit: AuditConfig{
			Async:         true,
			BatchSize:     64,
			FlushInterval: 2 * time.Second,
		},
		Scheduler: SchedulerConfig{
			LockTTL: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultConfigPath returns ~/.keepsake/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".keepsake", "config.yaml"), nil
}

// Load layers defaults, an optional YAML file and KEEPSAKE_* environment
// variables. An empty path reads ~/.keepsake/config.yaml when it exists.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("KEEPSAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		if p, err := DefaultConfigPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.AnthropicKey = key
		if cfg.LLM.Provider == "" || cfg.LLM.Provider == "none" {
			cfg.LLM.Provider = "anthropic"
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	defaults := map[string]any{
		"server.bind":                 d.Server.Bind,
		"server.port":                 d.Server.Port,
		"database.path":               d.Database.Path,
		"llm.provider":                d.LLM.Provider,
		"llm.model":                   d.LLM.Model,
		"llm.max_tokens":              d.LLM.MaxTokens,
		"llm.ollama_url":              d.LLM.OllamaURL,
		"llm.ollama_model":            d.LLM.OllamaModel,
		"llm.embedding_model":         d.LLM.EmbeddingModel,
		"llm.anthropic_key":           d.LLM.AnthropicKey,
		"memory.retrieval_mode":       d.Memory.RetrievalMode,
		"memory.retrieval_limit":      d.Memory.RetrievalLimit,
		"memory.similarity_threshold": d.Memory.SimilarityThreshold,
		"memory.similarity_count":     d.Memory.SimilarityCount,
		"memory.cache_ttl":            d.Memory.CacheTTL,
		"memory.decay_window_days":    d.Memory.DecayWindowDays,
		"memory.half_life_days":       d.Memory.HalfLifeDays,
		"memory.min_confidence":       d.Memory.MinConfidence,
		"decay.schedule":              d.Decay.Schedule,
		"decay.policy":                d.Decay.Policy,
		"decay.batch_limit":           d.Decay.BatchLimit,
		"decay.min_interval":          d.Decay.MinInterval,
		"audit.async":                 d.Audit.Async,
		"audit.batch_size":            d.Audit.BatchSize,
		"audit.flush_interval":        d.Audit.FlushInterval,
		"scheduler.redis_url":         d.Scheduler.RedisURL,
		"scheduler.lock_ttl":          d.Scheduler.LockTTL,
		"log.level":                   d.Log.Level,
		"log.format":                  d.Log.Format,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Memory.RetrievalMode {
	case "lexical", "similarity":
	default:
		errs = append(errs, fmt.Errorf("memory.retrieval_mode: unknown mode %q", c.Memory.RetrievalMode))
	}
	switch c.Decay.Policy {
	case "half_life", "incremental":
	default:
		errs = append(errs, fmt.Errorf("decay.policy: unknown policy %q", c.Decay.Policy))
	}
	switch c.LLM.Provider {
	case "none", "anthropic", "ollama":
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	if c.Memory.SimilarityThreshold < 0 || c.Memory.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("memory.similarity_threshold: %v outside [0,1]", c.Memory.SimilarityThreshold))
	}
	if c.Memory.HalfLifeDays <= 0 {
		errs = append(errs, fmt.Errorf("memory.half_life_days: must be positive"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// DecayWindow is the assembly cutoff for unreinforced facts.
func (c *Config) DecayWindow() time.Duration {
	return time.Duration(c.Memory.DecayWindowDays) * 24 * time.Hour
}

// BatchLimit returns the decay page size clamped to [MinBatchLimit, MaxBatchLimit].
func (c *Config) BatchLimit() int {
	n := c.Decay.BatchLimit
	if n < MinBatchLimit {
		return MinBatchLimit
	}
	if n > MaxBatchLimit {
		return MaxBatchLimit
	}
	return n
}
