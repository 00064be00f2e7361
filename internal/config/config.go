package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
)

// DefaultConfigPath is used when no --config flag is given. A missing file at
// this path is not an error; defaults apply.
const DefaultConfigPath = "memoryd.yaml"

// Config represents the daemon configuration.
type Config struct {
	// DataDir is the data root holding memory-state.json, chats/, memory/ and logs/.
	DataDir string `yaml:"data_dir"`
	// PIDFile is the liveness marker path. Defaults to <data_dir>/memoryd.pid.
	PIDFile     string          `yaml:"pid_file,omitempty"`
	Intervals   IntervalsConfig `yaml:"intervals"`
	Startup     StartupConfig   `yaml:"startup"`
	Shutdown    ShutdownConfig  `yaml:"shutdown"`
	Logging     LoggingConfig   `yaml:"logging"`
	Metrics     MetricsConfig   `yaml:"metrics,omitempty"`
	Archive     ArchiveConfig   `yaml:"archive,omitempty"`
	Events      EventsConfig    `yaml:"events,omitempty"`
	WatchConfig bool            `yaml:"watch_config,omitempty"`
}

// IntervalsConfig holds the period of each recurring task as a Go duration string.
type IntervalsConfig struct {
	ChatBackup    string `yaml:"chat_backup"`
	StateSave     string `yaml:"state_save"`
	HealthCheck   string `yaml:"health_check"`
	SessionDetect string `yaml:"session_detect"`
}

// StartupConfig controls the startup sequence.
type StartupConfig struct {
	// StageDelay is a cosmetic pause between stages ("0s" disables it).
	StageDelay string `yaml:"stage_delay"`
}

// ShutdownConfig controls how long shutdown waits and how final flushes are retried.
type ShutdownConfig struct {
	Timeout         string           `yaml:"timeout"`
	FlushRetries    int              `yaml:"flush_retries"`
	FlushRetryDelay string           `yaml:"flush_retry_delay"`
	FlushBackoff    RetryBackoffMode `yaml:"flush_backoff"`
}

// LoggingConfig controls console and daily file logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables the optional /metrics and /healthz endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// ArchiveConfig configures the long-term durable store.
type ArchiveConfig struct {
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

// EventsConfig configures lifecycle event publishing.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// Load loads configuration from the specified file. A missing file at
// DefaultConfigPath yields defaults; any other missing path is an error.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	if configPath == "" {
		configPath = DefaultConfigPath
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- operator-supplied config path
	if err != nil {
		if os.IsNotExist(err) && configPath == DefaultConfigPath {
			cfg := Default()
			return cfg, cfg.ResolvePaths()
		}
		if os.IsNotExist(err) {
			return nil, derrors.ConfigNotFound(configPath)
		}
		return nil, derrors.ConfigInvalid(configPath, fmt.Errorf("read config file: %w", err))
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, derrors.ConfigInvalid(configPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML (after environment expansion), applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePaths makes data_dir absolute and derives pid_file when unset.
func (c *Config) ResolvePaths() error {
	abs, err := filepath.Abs(c.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data_dir: %w", err)
	}
	c.DataDir = abs
	if c.PIDFile == "" {
		c.PIDFile = filepath.Join(c.DataDir, "memoryd.pid")
	}
	return nil
}

// ChatBackupInterval returns the parsed chat backup period.
func (c *Config) ChatBackupInterval() time.Duration {
	return durationOr(c.Intervals.ChatBackup, DefaultChatBackupInterval)
}

// StateSaveInterval returns the parsed state save period.
func (c *Config) StateSaveInterval() time.Duration {
	return durationOr(c.Intervals.StateSave, DefaultStateSaveInterval)
}

// HealthCheckInterval returns the parsed health check period.
func (c *Config) HealthCheckInterval() time.Duration {
	return durationOr(c.Intervals.HealthCheck, DefaultHealthCheckInterval)
}

// SessionDetectInterval returns the parsed session detection period.
func (c *Config) SessionDetectInterval() time.Duration {
	return durationOr(c.Intervals.SessionDetect, DefaultSessionDetectInterval)
}

// StageDelay returns the cosmetic pause between startup stages.
func (c *Config) StageDelay() time.Duration {
	return durationOr(c.Startup.StageDelay, DefaultStageDelay)
}

// ShutdownTimeout bounds how long shutdown waits for in-flight tasks and flushes.
func (c *Config) ShutdownTimeout() time.Duration {
	return durationOr(c.Shutdown.Timeout, DefaultShutdownTimeout)
}

// FlushRetryDelay returns the base delay between final flush retries.
func (c *Config) FlushRetryDelay() time.Duration {
	return durationOr(c.Shutdown.FlushRetryDelay, DefaultFlushRetryDelay)
}

// Redacted returns a copy suitable for echoing into the state snapshot.
// Credentials embedded in connection URLs are stripped.
func (c *Config) Redacted() Config {
	out := *c
	out.Events.NATSURL = redactURL(c.Events.NATSURL)
	return out
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	return u.String()
}

func durationOr(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
