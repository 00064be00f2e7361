package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
)

// ValidateConfig validates the complete configuration structure.
func ValidateConfig(cfg *Config) error {
	validator := newConfigurationValidator(cfg)
	return validator.validate()
}

// configurationValidator coordinates validation across all configuration domains.
type configurationValidator struct {
	config *Config
}

func newConfigurationValidator(config *Config) *configurationValidator {
	return &configurationValidator{config: config}
}

func (cv *configurationValidator) validate() error {
	if strings.TrimSpace(cv.config.DataDir) == "" {
		return derrors.ValidationFailed("data_dir", "must not be empty")
	}
	if err := cv.validateIntervals(); err != nil {
		return err
	}
	if err := cv.validateStartup(); err != nil {
		return err
	}
	if err := cv.validateShutdown(); err != nil {
		return err
	}
	if err := cv.validateEvents(); err != nil {
		return err
	}
	return nil
}

// validateIntervals requires every task period to be a positive duration.
func (cv *configurationValidator) validateIntervals() error {
	fields := []struct {
		name  string
		value string
	}{
		{"intervals.chat_backup", cv.config.Intervals.ChatBackup},
		{"intervals.state_save", cv.config.Intervals.StateSave},
		{"intervals.health_check", cv.config.Intervals.HealthCheck},
		{"intervals.session_detect", cv.config.Intervals.SessionDetect},
	}
	for _, f := range fields {
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return derrors.ValidationFailed(f.name, fmt.Sprintf("invalid duration %q", f.value))
		}
		if d <= 0 {
			return derrors.ValidationFailed(f.name, "must be positive")
		}
	}
	return nil
}

func (cv *configurationValidator) validateStartup() error {
	d, err := time.ParseDuration(cv.config.Startup.StageDelay)
	if err != nil {
		return derrors.ValidationFailed("startup.stage_delay", fmt.Sprintf("invalid duration %q", cv.config.Startup.StageDelay))
	}
	if d < 0 {
		return derrors.ValidationFailed("startup.stage_delay", "cannot be negative")
	}
	return nil
}

func (cv *configurationValidator) validateShutdown() error {
	s := cv.config.Shutdown
	timeout, err := time.ParseDuration(s.Timeout)
	if err != nil || timeout <= 0 {
		return derrors.ValidationFailed("shutdown.timeout", fmt.Sprintf("invalid positive duration %q", s.Timeout))
	}
	if _, err := time.ParseDuration(s.FlushRetryDelay); err != nil {
		return derrors.ValidationFailed("shutdown.flush_retry_delay", fmt.Sprintf("invalid duration %q", s.FlushRetryDelay))
	}
	if s.FlushRetries < 0 {
		return derrors.ValidationFailed("shutdown.flush_retries", "cannot be negative")
	}
	switch s.FlushBackoff {
	case RetryBackoffFixed, RetryBackoffLinear, RetryBackoffExponential:
	default:
		return derrors.ValidationFailed("shutdown.flush_backoff", fmt.Sprintf("invalid value %q (allowed: fixed|linear|exponential)", s.FlushBackoff))
	}
	return nil
}

func (cv *configurationValidator) validateEvents() error {
	raw := cv.config.Events.NATSURL
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return derrors.ValidationFailed("events.nats_url", "must be an absolute URL such as nats://host:4222")
	}
	return nil
}
