package executor

// Options carries the per-request CLI flags.
type Options struct {
	SystemPrompt    string
	SkipPermissions bool
	AllowedTools    []string
	DisallowedTools []string
	Skills          []string
	SkillOptions    map[string]any
	// Env is merged over the host environment of the CLI.
	Env map[string]string
}

// Request describes one CLI run. It is not modified after Spawn.
type Request struct {
	Prompt        string
	SessionID     string
	WorkspacePath string
	Options       Options
}
