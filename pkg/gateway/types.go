package gateway

import (
	"errors"
	"fmt"
	"strings"
)

var ErrPromptRequired = errors.New("prompt is required")

// Route names the protocol a stream is served with.
type Route string

const (
	RouteNative Route = "native"
	RouteChat   Route = "openai"
)

// NativeRequest is the payload of the native protocol.
type NativeRequest struct {
	Prompt          string         `json:"prompt"`
	SessionID       string         `json:"session-id,omitempty"`
	Workspace       string         `json:"workspace,omitempty"`
	SystemPrompt    string         `json:"system-prompt,omitempty"`
	SkipPermissions bool           `json:"dangerously-skip-permissions,omitempty"`
	AllowedTools    []string       `json:"allowed-tools,omitempty"`
	DisallowedTools []string       `json:"disallowed-tools,omitempty"`
	Skills          []string       `json:"skills,omitempty"`
	SkillOptions    map[string]any `json:"skill-options,omitempty"`
	// Files are paths relative to the workspace or absolute.
	Files []string `json:"files,omitempty"`
}

// ToolConflictError reports tools that are both allowed and disallowed.
type ToolConflictError struct {
	Tools []string
}

func (e *ToolConflictError) Error() string {
	return fmt.Sprintf("tools cannot be both allowed and disallowed: %s", strings.Join(e.Tools, ", "))
}

func checkTools(allowed, disallowed []string) error {
	if len(allowed) == 0 || len(disallowed) == 0 {
		return nil
	}
	denied := make(map[string]bool, len(disallowed))
	for _, t := range disallowed {
		denied[t] = true
	}
	var both []string
	for _, t := range allowed {
		if denied[t] {
			both = append(both, t)
		}
	}
	if len(both) > 0 {
		return &ToolConflictError{Tools: both}
	}
	return nil
}
