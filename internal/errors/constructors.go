package errors

// Convenience functions for common error patterns

// Config errors

func ConfigNotFound(path string) *ClassifiedError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ConfigInvalid(path string, cause error) *ClassifiedError {
	return Wrap(cause, CategoryConfig, SeverityFatal, "configuration invalid").
		WithContext("path", path)
}

func ValidationFailed(field, reason string) *ClassifiedError {
	return New(CategoryValidation, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Lifecycle errors

// StartupFailed reports the stage that aborted the startup sequence.
func StartupFailed(stage string, cause error) *ClassifiedError {
	return Wrap(cause, CategoryStartup, SeverityFatal, "startup stage failed").
		WithContext("stage", stage)
}

// AlreadyRunning reports a live liveness marker owned by another process.
func AlreadyRunning(pid int) *ClassifiedError {
	return New(CategoryDaemon, SeverityFatal, "daemon already running").
		WithContext("pid", pid)
}

// NotRunning reports that no liveness marker exists.
func NotRunning() *ClassifiedError {
	return New(CategoryDaemon, SeverityInfo, "daemon not running")
}

func SignalHandlingFailed(signal string, cause error) *ClassifiedError {
	return Wrap(cause, CategorySignal, SeverityError, "signal handler failed").
		WithContext("signal", signal)
}

// Persistence errors

// IOFailed reports a failed persistence read or write. These are recovered
// locally by the caller and never terminate the daemon.
func IOFailed(operation, path string, cause error) *ClassifiedError {
	return WrapRetryable(cause, CategoryIO, SeverityError, "persistence operation failed").
		WithContext("operation", operation).
		WithContext("path", path)
}

// External collaborators

func ExternalUnavailable(service string, cause error) *ClassifiedError {
	return WrapRetryable(cause, CategoryExternal, SeverityWarning, "external service unavailable").
		WithContext("service", service)
}

// Internal errors

func InternalError(message string, cause error) *ClassifiedError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
