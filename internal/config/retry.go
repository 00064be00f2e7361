package config

import "strings"

// RetryBackoffMode selects how delays between final flush retries grow.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// NormalizeRetryBackoff maps user input (case-insensitive) onto a mode.
// Unknown values are returned unchanged so validation can report them.
func NormalizeRetryBackoff(raw RetryBackoffMode) RetryBackoffMode {
	switch m := RetryBackoffMode(strings.ToLower(strings.TrimSpace(string(raw)))); m {
	case RetryBackoffFixed, RetryBackoffLinear, RetryBackoffExponential:
		return m
	default:
		return raw
	}
}
