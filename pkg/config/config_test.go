package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/corpus/pkg/config"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, config.JobModeNative, cfg.JobMode)
	assert.Equal(t, 768, cfg.EmbeddingDim)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
retention_days: 30
embedding_dim: 8
allowed_audio_ext: [wav, ogg]
job_timeouts:
  transcribe: 90s
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.Equal(t, []string{"wav", "ogg"}, cfg.AllowedAudioExt)
	assert.Equal(t, 90*time.Second, cfg.JobTimeout("transcribe"))
	assert.Equal(t, 5*time.Minute, cfg.JobTimeout("diarize"), "unset kinds use the default")
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CORPUS_PORT", "7070")
	t.Setenv("CORPUS_BROKER_URL", "redis://localhost:6379/0")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, config.JobModeDistributed, cfg.JobMode, "a broker url switches to distributed mode")
	assert.Equal(t, "redis://localhost:6379/0", cfg.BrokerURL)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty corpus path", func(c *config.Config) { c.CorpusPath = "" }},
		{"zero retention", func(c *config.Config) { c.RetentionDays = 0 }},
		{"zero embedding dim", func(c *config.Config) { c.EmbeddingDim = 0 }},
		{"zero concurrency", func(c *config.Config) { c.WorkerConcurrency = 0 }},
		{"unknown job mode", func(c *config.Config) { c.JobMode = "batch" }},
		{"distributed without broker", func(c *config.Config) { c.JobMode = config.JobModeDistributed }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestAllowedExt(t *testing.T) {
	cfg := config.Default()
	assert.True(t, cfg.AllowedExt("wav"))
	assert.False(t, cfg.AllowedExt("txt"))
	assert.False(t, cfg.AllowedExt(""))
}
