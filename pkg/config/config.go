// Package config loads engine configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// JobMode selects how background jobs execute.
type JobMode string

const (
	JobModeNative      JobMode = "native"
	JobModeDistributed JobMode = "distributed"
)

// ProviderConfig configures one LLM provider entry.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// Config holds every tunable of the corpus engine.
type Config struct {
	Port              string                   `yaml:"port"`
	CorpusPath        string                   `yaml:"corpus_path"`
	AudioDir          string                   `yaml:"audio_dir"`
	ExportsDir        string                   `yaml:"exports_dir"`
	PolicyPath        string                   `yaml:"policy_path"`
	RetentionDays     int                      `yaml:"retention_days"`
	MaxUploadBytes    int64                    `yaml:"max_upload_bytes"`
	AllowedAudioExt   []string                 `yaml:"allowed_audio_ext"`
	JobMode           JobMode                  `yaml:"job_mode"`
	BrokerURL         string                   `yaml:"broker_url,omitempty"`
	WorkerConcurrency int                      `yaml:"worker_concurrency"`
	QueueThreshold    int                      `yaml:"queue_threshold"`
	MaxJobAttempts    int                      `yaml:"max_job_attempts"`
	EmbeddingDim      int                      `yaml:"embedding_dim"`
	LLMDefaultModel   string                   `yaml:"llm_default_model"`
	LLMProviders      []ProviderConfig         `yaml:"llm_providers"`
	ExportSigningKey  string                   `yaml:"export_signing_key"`
	RequestTimeout    time.Duration            `yaml:"request_timeout"`
	JobTimeouts       map[string]time.Duration `yaml:"job_timeouts,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:              "8080",
		CorpusPath:        "storage/corpus.db",
		AudioDir:          "storage/audio",
		ExportsDir:        "storage/exports",
		PolicyPath:        "policy.yaml",
		RetentionDays:     90,
		MaxUploadBytes:    256 << 20,
		AllowedAudioExt:   []string{"wav", "mp3", "m4a", "flac"},
		JobMode:           JobModeNative,
		WorkerConcurrency: 4,
		QueueThreshold:    64,
		MaxJobAttempts:    3,
		EmbeddingDim:      768,
		LLMDefaultModel:   "echo",
		RequestTimeout:    30 * time.Second,
	}
}

// Load reads the YAML file at path (if it exists), applies environment
// overrides and validates the result. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CORPUS_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("CORPUS_PATH"); v != "" {
		cfg.CorpusPath = v
	}
	if v := os.Getenv("CORPUS_AUDIO_DIR"); v != "" {
		cfg.AudioDir = v
	}
	if v := os.Getenv("CORPUS_EXPORTS_DIR"); v != "" {
		cfg.ExportsDir = v
	}
	if v := os.Getenv("CORPUS_BROKER_URL"); v != "" {
		cfg.BrokerURL = v
		cfg.JobMode = JobModeDistributed
	}
	if v := os.Getenv("CORPUS_EXPORT_SIGNING_KEY"); v != "" {
		cfg.ExportSigningKey = v
	}
	if v := os.Getenv("CORPUS_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionDays = n
		}
	}
	if v := os.Getenv("CORPUS_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WorkerConcurrency = n
		}
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.CorpusPath == "" {
		return fmt.Errorf("config: corpus_path is required")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("config: retention_days must be positive")
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("config: embedding_dim must be positive")
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("config: worker_concurrency must be positive")
	}
	switch c.JobMode {
	case JobModeNative, JobModeDistributed:
	default:
		return fmt.Errorf("config: unknown job_mode %q", c.JobMode)
	}
	if c.JobMode == JobModeDistributed && c.BrokerURL == "" {
		return fmt.Errorf("config: job_mode distributed requires broker_url")
	}
	return nil
}

// JobTimeout returns the configured timeout for a job kind, defaulting to
// five minutes.
func (c *Config) JobTimeout(kind string) time.Duration {
	if d, ok := c.JobTimeouts[kind]; ok && d > 0 {
		return d
	}
	return 5 * time.Minute
}

// AllowedExt reports whether ext (without the dot) may be uploaded.
func (c *Config) AllowedExt(ext string) bool {
	for _, e := range c.AllowedAudioExt {
		if e == ext {
			return true
		}
	}
	return false
}
