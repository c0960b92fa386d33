package executor

import "time"

// Config tunes a Supervisor. Zero durations disable the matching watchdog,
// except KillTimeout and WatchdogStopTimeout which fall back to defaults.
type Config struct {
	// CLIPath is tried before the PATH lookup.
	CLIPath string
	// MCPConfigPath is passed to the CLI only when the file exists.
	MCPConfigPath string

	TotalTimeout         time.Duration
	InactivityTimeout    time.Duration
	KillTimeout          time.Duration
	InitialOutputTimeout time.Duration
	// EarlyExitWindow is how long Spawn watches for a failing start.
	EarlyExitWindow     time.Duration
	WatchdogStopTimeout time.Duration

	// StdoutPTY attaches stdout to a pseudo-terminal so node flushes every line.
	StdoutPTY    bool
	MaxLineBytes int
}

// DefaultConfig returns the production timeouts.
func DefaultConfig() Config {
	return Config{
		TotalTimeout:         time.Hour,
		InactivityTimeout:    5 * time.Minute,
		KillTimeout:          5 * time.Second,
		InitialOutputTimeout: 5 * time.Second,
		EarlyExitWindow:      300 * time.Millisecond,
		WatchdogStopTimeout:  200 * time.Millisecond,
		MaxLineBytes:         16 * 1024 * 1024,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.KillTimeout <= 0 {
		c.KillTimeout = def.KillTimeout
	}
	if c.WatchdogStopTimeout <= 0 {
		c.WatchdogStopTimeout = def.WatchdogStopTimeout
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = def.MaxLineBytes
	}
	return c
}

// State is the lifecycle position of a managed process.
type State int32

const (
	StateSpawned State = iota
	StateWriting
	StateStreaming
	StateCompleting
	StateTerminated
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateWriting:
		return "writing"
	case StateStreaming:
		return "streaming"
	case StateCompleting:
		return "completing"
	case StateTerminated:
		return "terminated"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}
