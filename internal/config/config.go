package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/autograph/gnnsearch/pkg/logging"
	"github.com/autograph/gnnsearch/pkg/resources"
)

// EnvPrefix is prepended to every environment override, e.g.
// GNNSEARCH_RESOURCES_GPU_PER_TRIAL=0.5
const EnvPrefix = "GNNSEARCH"

// Search modes
const (
	ModeFlat    = "flat"
	ModeSampled = "sampled"
)

// Config is the full runtime configuration
type Config struct {
	Resources ResourcesConfig `mapstructure:"resources" yaml:"resources"`
	Search    SearchConfig    `mapstructure:"search" yaml:"search"`
	Ensemble  EnsembleConfig  `mapstructure:"ensemble" yaml:"ensemble"`
	Driver    DriverConfig    `mapstructure:"driver" yaml:"driver"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// ResourcesConfig controls capacity detection and the per-trial claim
type ResourcesConfig struct {
	CPUs            float64 `mapstructure:"cpus" yaml:"cpus"` // 0 = detect
	GPUs            float64 `mapstructure:"gpus" yaml:"gpus"` // 0 = detect, negative = ignore GPUs
	CPUPerTrial     float64 `mapstructure:"cpu_per_trial" yaml:"cpu_per_trial"`
	GPUPerTrial     float64 `mapstructure:"gpu_per_trial" yaml:"gpu_per_trial"`
	MaxConcurrent   int     `mapstructure:"max_concurrent" yaml:"max_concurrent"` // 0 = uncapped
	LargeGraphEdges int     `mapstructure:"large_graph_edges" yaml:"large_graph_edges"`
	RequireGPU      bool    `mapstructure:"require_gpu" yaml:"require_gpu"`
}

// Budget returns the per-trial claim
func (r ResourcesConfig) Budget() resources.Budget {
	return resources.Budget{CPUPerTrial: r.CPUPerTrial, GPUPerTrial: r.GPUPerTrial}
}

// SearchConfig selects the search space and how it is walked
type SearchConfig struct {
	SpaceFile string `mapstructure:"space_file" yaml:"space_file"` // empty = built-in space
	Mode      string `mapstructure:"mode" yaml:"mode"`
	MaxTrials int    `mapstructure:"max_trials" yaml:"max_trials"` // 0 = whole space
	Seed      int64  `mapstructure:"seed" yaml:"seed"`
	Patience  int    `mapstructure:"patience" yaml:"patience"` // sampled mode only, 0 = off
}

// EnsembleConfig controls top-K selection
type EnsembleConfig struct {
	TopK      int     `mapstructure:"top_k" yaml:"top_k"`
	Tolerance float64 `mapstructure:"tolerance" yaml:"tolerance"`
}

// DriverConfig holds the deadline and polling parameters
type DriverConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SmallMargin      time.Duration `mapstructure:"small_margin" yaml:"small_margin"`
	LargeMargin      time.Duration `mapstructure:"large_margin" yaml:"large_margin"`
	MarginThreshold  time.Duration `mapstructure:"margin_threshold" yaml:"margin_threshold"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	UseValInTraining bool          `mapstructure:"use_val_in_training" yaml:"use_val_in_training"`
	CheckpointDir    string        `mapstructure:"checkpoint_dir" yaml:"checkpoint_dir"` // empty = no checkpoints
}

// StoreConfig selects the run history backend
type StoreConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

// MetricsConfig controls the status server
type MetricsConfig struct {
	// Addr enables the status server; empty = no server
	Addr string `mapstructure:"addr" yaml:"addr"`
	// Textfile receives a metrics snapshot after each run
	Textfile string `mapstructure:"textfile" yaml:"textfile,omitempty"`

	Token string `mapstructure:"token" yaml:"token,omitempty"`
	// TokenHash is a bcrypt hash and is preferred over Token
	TokenHash string `mapstructure:"token_hash" yaml:"token_hash,omitempty"`

	TLSCert string `mapstructure:"tls_cert" yaml:"tls_cert,omitempty"`
	TLSKey  string `mapstructure:"tls_key" yaml:"tls_key,omitempty"`
	// ClientCA requires client certificates signed by this CA
	ClientCA string `mapstructure:"client_ca" yaml:"client_ca,omitempty"`
}

// AuthEnabled reports whether the status server requires a token
func (m MetricsConfig) AuthEnabled() bool {
	return m.Token != "" || m.TokenHash != ""
}

// TLSEnabled reports whether the status server serves HTTPS
func (m MetricsConfig) TLSEnabled() bool {
	return m.TLSCert != ""
}

// TracingConfig controls OpenTelemetry export
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// LoggingConfig controls the logger
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
	Dir   string `mapstructure:"dir" yaml:"dir"` // empty = stderr only
}

// NewLogger builds the logger described by the config
func (l LoggingConfig) NewLogger(component string) (*logging.Logger, error) {
	level := logging.ParseLevel(l.Level)
	if l.Dir == "" {
		return logging.NewLogger(level, l.JSON).WithField("component", component), nil
	}
	return logging.NewFileLogger(l.Dir, component, level, l.JSON)
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("resources.cpus", 0.0)
	v.SetDefault("resources.gpus", 0.0)
	v.SetDefault("resources.cpu_per_trial", 1.0)
	v.SetDefault("resources.gpu_per_trial", 0.3)
	v.SetDefault("resources.max_concurrent", 0)
	v.SetDefault("resources.large_graph_edges", resources.DefaultLargeGraphEdges)
	v.SetDefault("resources.require_gpu", false)

	v.SetDefault("search.space_file", "")
	v.SetDefault("search.mode", ModeFlat)
	v.SetDefault("search.max_trials", 0)
	v.SetDefault("search.seed", 42)
	v.SetDefault("search.patience", 0)

	v.SetDefault("ensemble.top_k", 2)
	v.SetDefault("ensemble.tolerance", 0.02)

	v.SetDefault("driver.poll_interval", 2*time.Second)
	v.SetDefault("driver.small_margin", 30*time.Second)
	v.SetDefault("driver.large_margin", 60*time.Second)
	v.SetDefault("driver.margin_threshold", 120*time.Second)
	v.SetDefault("driver.stop_timeout", 10*time.Second)
	v.SetDefault("driver.use_val_in_training", false)
	v.SetDefault("driver.checkpoint_dir", "")

	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.dsn", "")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("metrics.token", "")
	v.SetDefault("metrics.token_hash", "")
	v.SetDefault("metrics.tls_cert", "")
	v.SetDefault("metrics.tls_key", "")
	v.SetDefault("metrics.client_ca", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "gnnsearch")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.dir", "")
}

// NewViper returns a viper instance with defaults, environment overrides
// and, when cfgFile is set, that file. Without cfgFile it looks for
// $HOME/.gnnsearch/config.yaml and tolerates its absence.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
		return v, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".gnnsearch"))
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if err := c.Resources.Budget().Validate(); err != nil {
		return fmt.Errorf("resources: %w", err)
	}
	if c.Resources.CPUs < 0 {
		return fmt.Errorf("resources.cpus must be non-negative")
	}
	if c.Resources.MaxConcurrent < 0 {
		return fmt.Errorf("resources.max_concurrent must be non-negative")
	}
	switch c.Search.Mode {
	case ModeFlat, ModeSampled:
	default:
		return fmt.Errorf("search.mode must be %q or %q, got %q", ModeFlat, ModeSampled, c.Search.Mode)
	}
	if c.Search.MaxTrials < 0 || c.Search.Patience < 0 {
		return fmt.Errorf("search.max_trials and search.patience must be non-negative")
	}
	if c.Ensemble.TopK < 1 {
		return fmt.Errorf("ensemble.top_k must be at least 1")
	}
	if c.Ensemble.Tolerance < 0 {
		return fmt.Errorf("ensemble.tolerance must be non-negative")
	}
	if c.Driver.PollInterval <= 0 {
		return fmt.Errorf("driver.poll_interval must be positive")
	}
	if c.Driver.SmallMargin < 0 || c.Driver.LargeMargin < 0 || c.Driver.StopTimeout < 0 {
		return fmt.Errorf("driver margins and stop_timeout must be non-negative")
	}
	switch c.Store.Type {
	case "memory", "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("store.type %q is not supported", c.Store.Type)
	}
	if (c.Metrics.TLSCert == "") != (c.Metrics.TLSKey == "") {
		return fmt.Errorf("metrics.tls_cert and metrics.tls_key must be set together")
	}
	if c.Metrics.ClientCA != "" && !c.Metrics.TLSEnabled() {
		return fmt.Errorf("metrics.client_ca requires metrics.tls_cert")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	return nil
}
