// Package config provides configuration loading for agentjj.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. Defaults match the behavior agents rely on when no file is
// present: the engine binary on PATH, the current directory as the
// repository, a 30 second command timeout, and a 1000-entry operation log.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for configuration validation.
var (
	ErrInvalidRepoPath = errors.New("invalid repository path")
	ErrInvalidTimeout  = errors.New("timeout must be positive")
	ErrInvalidCapacity = errors.New("capacity must be positive")
)

// Config holds the complete agentjj configuration.
type Config struct {
	Engine    EngineConfig    `koanf:"engine"`
	Log       LogConfig       `koanf:"log"`
	Hooks     HooksConfig     `koanf:"hooks"`
	Learning  LearningConfig  `koanf:"learning"`
	HTTP      HTTPConfig      `koanf:"http"`
	Watch     WatchConfig     `koanf:"watch"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Logging   LoggingConfig   `koanf:"logging"`
	Secrets   SecretsConfig   `koanf:"secrets"`
}

// EngineConfig configures the wrapped version-control engine.
type EngineConfig struct {
	// BinPath is the engine executable. Resolved via PATH when relative.
	BinPath string `koanf:"bin_path"`

	// RepoPath is the working-copy directory commands run in.
	RepoPath string `koanf:"repo_path"`

	// Timeout bounds every subprocess invocation.
	Timeout Duration `koanf:"timeout"`

	// Verbose records full command output instead of head excerpts.
	Verbose bool `koanf:"verbose"`

	// OutputLimit caps recorded stdout/stderr excerpts, in bytes.
	OutputLimit int `koanf:"output_limit"`
}

// LogConfig configures the in-memory operation log.
type LogConfig struct {
	// MaxEntries is the log capacity; the oldest entry is evicted first.
	MaxEntries int `koanf:"max_entries"`
}

// HooksConfig configures session lifecycle hooks.
type HooksConfig struct {
	// AllowHighRisk lifts the high-risk execution gate globally.
	// Per-call overrides remain available when this is false.
	AllowHighRisk bool `koanf:"allow_high_risk"`
}

// LearningConfig configures the learning store sync adapter.
type LearningConfig struct {
	Enabled bool `koanf:"enabled"`

	// Backend selects the store implementation: "chromem" or "qdrant".
	Backend string `koanf:"backend"`

	// Tag is the default collection operations are filed under.
	Tag string `koanf:"tag"`

	// Path is the chromem persistence directory; empty keeps it in memory.
	Path string `koanf:"path"`

	// QueueCapacity bounds the local retry queue (drop-oldest overflow).
	QueueCapacity int `koanf:"queue_capacity"`

	// SyncInterval is how often the background syncer drains the queue.
	SyncInterval Duration `koanf:"sync_interval"`

	// RatePerSecond limits pushes to the store.
	RatePerSecond float64 `koanf:"rate_per_second"`

	Qdrant    QdrantConfig    `koanf:"qdrant"`
	NATS      NATSConfig      `koanf:"nats"`
	Embedding EmbeddingConfig `koanf:"embedding"`
}

// QdrantConfig configures the remote qdrant backend.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// NATSConfig configures the optional operation event relay.
type NATSConfig struct {
	// URL enables the relay when non-empty, e.g. nats://127.0.0.1:4222.
	URL string `koanf:"url"`

	// SubjectPrefix is prepended to every published subject.
	SubjectPrefix string `koanf:"subject_prefix"`
}

// EmbeddingConfig selects how learning records are embedded.
type EmbeddingConfig struct {
	// Provider is "hash" (deterministic, no external service),
	// "fastembed" (local ONNX models, needs CGO), or "openai"
	// (any OpenAI-compatible endpoint).
	Provider string `koanf:"provider"`

	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	CacheDir string `koanf:"cache_dir"`
}

// HTTPConfig configures the observation HTTP server.
type HTTPConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Addr            string   `koanf:"addr"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// WatchConfig configures the out-of-band operation watcher.
type WatchConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Debounce Duration `koanf:"debounce"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // "grpc" or "http"
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

// LoggingConfig holds the coarse logging knobs exposed in the config file.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "console"
}

// SecretsConfig configures output scrubbing.
type SecretsConfig struct {
	Enabled bool `koanf:"enabled"`

	// UserAllowlistPath points at a TOML allowlist merged with the
	// repository's .gitleaks.toml.
	UserAllowlistPath string `koanf:"user_allowlist_path"`
}

// New returns a Config populated with defaults. Use the With* builders to
// adjust it when embedding agentjj as a library.
func New() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// WithBinPath sets the engine executable path.
func (c *Config) WithBinPath(path string) *Config {
	c.Engine.BinPath = path
	return c
}

// WithRepoPath sets the repository working-copy directory.
func (c *Config) WithRepoPath(path string) *Config {
	c.Engine.RepoPath = path
	return c
}

// WithTimeout sets the per-command timeout.
func (c *Config) WithTimeout(d time.Duration) *Config {
	c.Engine.Timeout = Duration(d)
	return c
}

// WithVerbose toggles full-output recording.
func (c *Config) WithVerbose(v bool) *Config {
	c.Engine.Verbose = v
	return c
}

// WithMaxLogEntries sets the operation log capacity.
func (c *Config) WithMaxLogEntries(n int) *Config {
	c.Log.MaxEntries = n
	return c
}

// WithLearningSync toggles learning store sync.
func (c *Config) WithLearningSync(enabled bool) *Config {
	c.Learning.Enabled = enabled
	return c
}

// applyDefaults fills zero values with production defaults.
func applyDefaults(cfg *Config) {
	if cfg.Engine.BinPath == "" {
		cfg.Engine.BinPath = "jj"
	}
	if cfg.Engine.RepoPath == "" {
		cfg.Engine.RepoPath = "."
	}
	if cfg.Engine.Timeout == 0 {
		cfg.Engine.Timeout = Duration(30 * time.Second)
	}
	if cfg.Engine.OutputLimit == 0 {
		cfg.Engine.OutputLimit = 8192
	}
	if cfg.Log.MaxEntries == 0 {
		cfg.Log.MaxEntries = 1000
	}
	if cfg.Learning.Backend == "" {
		cfg.Learning.Backend = "chromem"
	}
	if cfg.Learning.Tag == "" {
		cfg.Learning.Tag = "agentjj"
	}
	if cfg.Learning.QueueCapacity == 0 {
		cfg.Learning.QueueCapacity = 256
	}
	if cfg.Learning.SyncInterval == 0 {
		cfg.Learning.SyncInterval = Duration(5 * time.Second)
	}
	if cfg.Learning.RatePerSecond == 0 {
		cfg.Learning.RatePerSecond = 10
	}
	if cfg.Learning.Qdrant.Host == "" {
		cfg.Learning.Qdrant.Host = "localhost"
	}
	if cfg.Learning.Qdrant.Port == 0 {
		cfg.Learning.Qdrant.Port = 6334
	}
	if cfg.Learning.NATS.SubjectPrefix == "" {
		cfg.Learning.NATS.SubjectPrefix = "agentjj"
	}
	if cfg.Learning.Embedding.Provider == "" {
		cfg.Learning.Embedding.Provider = "hash"
	}
	if cfg.Learning.Embedding.Model == "" {
		cfg.Learning.Embedding.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = "127.0.0.1:8611"
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = Duration(500 * time.Millisecond)
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "agentjj"
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = 1.0
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// ValidateRepoPath rejects repository paths that could escape the intended
// working tree or smuggle NUL bytes into the subprocess environment.
func ValidateRepoPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: path is empty", ErrInvalidRepoPath)
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("%w: path contains NUL byte", ErrInvalidRepoPath)
	}
	for _, part := range strings.Split(strings.ReplaceAll(path, "\\", "/"), "/") {
		if part == ".." {
			return fmt.Errorf("%w: path contains traversal component", ErrInvalidRepoPath)
		}
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Engine.BinPath == "" {
		return fmt.Errorf("engine.bin_path must not be empty")
	}
	if err := ValidateRepoPath(c.Engine.RepoPath); err != nil {
		return err
	}
	if c.Engine.Timeout.Duration() <= 0 {
		return fmt.Errorf("%w: engine.timeout is %s", ErrInvalidTimeout, c.Engine.Timeout.Duration())
	}
	if c.Engine.OutputLimit <= 0 {
		return fmt.Errorf("%w: engine.output_limit is %d", ErrInvalidCapacity, c.Engine.OutputLimit)
	}
	if c.Log.MaxEntries <= 0 {
		return fmt.Errorf("%w: log.max_entries is %d", ErrInvalidCapacity, c.Log.MaxEntries)
	}
	switch c.Learning.Backend {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("learning.backend must be \"chromem\" or \"qdrant\", got %q", c.Learning.Backend)
	}
	if c.Learning.QueueCapacity <= 0 {
		return fmt.Errorf("%w: learning.queue_capacity is %d", ErrInvalidCapacity, c.Learning.QueueCapacity)
	}
	if c.Learning.SyncInterval.Duration() <= 0 {
		return fmt.Errorf("%w: learning.sync_interval is %s", ErrInvalidTimeout, c.Learning.SyncInterval.Duration())
	}
	switch c.Learning.Embedding.Provider {
	case "hash", "fastembed", "openai":
	default:
		return fmt.Errorf("learning.embedding.provider must be \"hash\", \"fastembed\" or \"openai\", got %q", c.Learning.Embedding.Provider)
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr must not be empty when http is enabled")
	}
	switch c.Telemetry.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol must be \"grpc\" or \"http\", got %q", c.Telemetry.Protocol)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be in [0,1], got %g", c.Telemetry.SampleRatio)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"console\", got %q", c.Logging.Format)
	}
	return nil
}
