package executor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCliNotFound is matched by every CliNotFoundError.
	ErrCliNotFound = errors.New("claude cli not found")
	// ErrStreamConsumed is returned when the output of a process is iterated twice.
	ErrStreamConsumed = errors.New("process output already consumed")
	// ErrSupervisorClosed is returned by Spawn after CleanupAll has run.
	ErrSupervisorClosed = errors.New("supervisor closed")
)

// CliNotFoundError reports that no usable CLI executable could be resolved.
type CliNotFoundError struct {
	Configured string
	Err        error
}

func (e *CliNotFoundError) Error() string {
	msg := "claude cli not found or not accessible"
	if e.Configured != "" {
		msg += fmt.Sprintf(" (configured path %q)", e.Configured)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CliNotFoundError) Is(target error) bool { return target == ErrCliNotFound }

func (e *CliNotFoundError) Unwrap() error { return e.Err }

// Failure kinds carried by ExecutionError.
const (
	FailureEarlyExit     = "early_exit"
	FailureWrite         = "write_failed"
	FailureSilentStart   = "no_initial_output"
	FailureTotalTimeout  = "total_timeout"
	FailureInactivity    = "inactivity_timeout"
	FailureStart         = "start_failed"
	FailureAbnormalClose = "abnormal_exit"
)

// ExecutionError is a terminal failure of one CLI run.
type ExecutionError struct {
	Kind     string
	Message  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		b.WriteString(". Stderr: ")
		b.WriteString(s)
	}
	return b.String()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Timeout reports whether a watchdog ended the run.
func (e *ExecutionError) Timeout() bool {
	return e.Kind == FailureTotalTimeout || e.Kind == FailureInactivity || e.Kind == FailureSilentStart
}

// ConfigurationError marks settings that can never produce a working run,
// such as an unparsable MCP config.
type ConfigurationError struct {
	Setting string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %v", e.Setting, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
