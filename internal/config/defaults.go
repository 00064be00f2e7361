package config

import "time"

// Default periods of the recurring daemon tasks.
const (
	DefaultChatBackupInterval    = 60 * time.Second
	DefaultStateSaveInterval     = 300 * time.Second
	DefaultHealthCheckInterval   = 30 * time.Second
	DefaultSessionDetectInterval = 10 * time.Second

	DefaultStageDelay      = 200 * time.Millisecond
	DefaultShutdownTimeout = 30 * time.Second
	DefaultFlushRetryDelay = 500 * time.Millisecond
	DefaultFlushRetries    = 2

	DefaultDataDir       = "./memory-data"
	DefaultEventsSubject = "memoryd.events"
)

// Default returns a configuration with every field populated.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir,
		Intervals: IntervalsConfig{
			ChatBackup:    DefaultChatBackupInterval.String(),
			StateSave:     DefaultStateSaveInterval.String(),
			HealthCheck:   DefaultHealthCheckInterval.String(),
			SessionDetect: DefaultSessionDetectInterval.String(),
		},
		Startup: StartupConfig{StageDelay: DefaultStageDelay.String()},
		Shutdown: ShutdownConfig{
			Timeout:         DefaultShutdownTimeout.String(),
			FlushRetries:    DefaultFlushRetries,
			FlushRetryDelay: DefaultFlushRetryDelay.String(),
			FlushBackoff:    RetryBackoffLinear,
		},
		Logging: LoggingConfig{
			Level:  string(LogLevelInfo),
			Format: string(LogFormatText),
		},
	}
}

// applyDefaults fills fields an explicit YAML document left empty.
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.DataDir == "" {
		cfg.DataDir = d.DataDir
	}
	if cfg.Intervals.ChatBackup == "" {
		cfg.Intervals.ChatBackup = d.Intervals.ChatBackup
	}
	if cfg.Intervals.StateSave == "" {
		cfg.Intervals.StateSave = d.Intervals.StateSave
	}
	if cfg.Intervals.HealthCheck == "" {
		cfg.Intervals.HealthCheck = d.Intervals.HealthCheck
	}
	if cfg.Intervals.SessionDetect == "" {
		cfg.Intervals.SessionDetect = d.Intervals.SessionDetect
	}
	if cfg.Startup.StageDelay == "" {
		cfg.Startup.StageDelay = d.Startup.StageDelay
	}
	if cfg.Shutdown.Timeout == "" {
		cfg.Shutdown.Timeout = d.Shutdown.Timeout
	}
	if cfg.Shutdown.FlushRetryDelay == "" {
		cfg.Shutdown.FlushRetryDelay = d.Shutdown.FlushRetryDelay
	}
	if cfg.Shutdown.FlushBackoff == "" {
		cfg.Shutdown.FlushBackoff = d.Shutdown.FlushBackoff
	} else {
		cfg.Shutdown.FlushBackoff = NormalizeRetryBackoff(cfg.Shutdown.FlushBackoff)
	}
	cfg.Logging.Level = string(NormalizeLogLevel(cfg.Logging.Level))
	cfg.Logging.Format = string(NormalizeLogFormat(cfg.Logging.Format))
	if cfg.Events.NATSURL != "" && cfg.Events.Subject == "" {
		cfg.Events.Subject = DefaultEventsSubject
	}
}
