package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1.0, cfg.Resources.CPUPerTrial)
	assert.Equal(t, 0.3, cfg.Resources.GPUPerTrial)
	assert.Equal(t, 400000, cfg.Resources.LargeGraphEdges)
	assert.Equal(t, ModeFlat, cfg.Search.Mode)
	assert.Equal(t, 2, cfg.Ensemble.TopK)
	assert.Equal(t, 0.02, cfg.Ensemble.Tolerance)
	assert.Equal(t, 2*time.Second, cfg.Driver.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Driver.SmallMargin)
	assert.Equal(t, 60*time.Second, cfg.Driver.LargeMargin)
	assert.Equal(t, 120*time.Second, cfg.Driver.MarginThreshold)
	assert.Equal(t, "sqlite", cfg.Store.Type)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
resources:
  cpus: 8
  gpu_per_trial: 0.5
search:
  mode: sampled
  patience: 5
driver:
  poll_interval: 500ms
store:
  type: memory
`), 0644))

	t.Setenv("GNNSEARCH_ENSEMBLE_TOP_K", "3")

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 8.0, cfg.Resources.CPUs)
	assert.Equal(t, 0.5, cfg.Resources.GPUPerTrial)
	assert.Equal(t, 1.0, cfg.Resources.CPUPerTrial, "unset keys keep defaults")
	assert.Equal(t, ModeSampled, cfg.Search.Mode)
	assert.Equal(t, 5, cfg.Search.Patience)
	assert.Equal(t, 500*time.Millisecond, cfg.Driver.PollInterval)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 3, cfg.Ensemble.TopK)
}

func TestNewViperMissingFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no claim", func(c *Config) { c.Resources.CPUPerTrial = 0; c.Resources.GPUPerTrial = 0 }},
		{"negative claim", func(c *Config) { c.Resources.GPUPerTrial = -1 }},
		{"bad mode", func(c *Config) { c.Search.Mode = "bayes" }},
		{"top_k zero", func(c *Config) { c.Ensemble.TopK = 0 }},
		{"negative tolerance", func(c *Config) { c.Ensemble.Tolerance = -0.1 }},
		{"zero poll", func(c *Config) { c.Driver.PollInterval = 0 }},
		{"bad store", func(c *Config) { c.Store.Type = "redis" }},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Endpoint = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoggingConfigNewLogger(t *testing.T) {
	l, err := LoggingConfig{Level: "warn"}.NewLogger("driver")
	require.NoError(t, err)
	assert.Equal(t, "WARN", l.Level().String())

	dir := t.TempDir()
	l, err = LoggingConfig{Level: "debug", Dir: dir}.NewLogger("driver")
	require.NoError(t, err)
	defer l.Close()
	_, err = os.Stat(filepath.Join(dir, "driver.log"))
	assert.NoError(t, err)
}

func TestValidateStatusServerSecurity(t *testing.T) {
	cfg := Default()
	cfg.Metrics.TLSCert = "cert.pem"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for tls_cert without tls_key")
	}

	cfg = Default()
	cfg.Metrics.ClientCA = "ca.pem"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for client_ca without TLS")
	}

	cfg = Default()
	cfg.Metrics.TokenHash = "$2a$10$abc"
	if !cfg.Metrics.AuthEnabled() || cfg.Metrics.TLSEnabled() {
		t.Error("token hash should enable auth only")
	}
}
