package openai

import (
	"strconv"
	"strings"
)

// SessionConfig is the continuation state carried in chat text. Empty strings
// and nil pointers, slices and maps mean "not set"; a non-nil empty slice is
// an explicit empty list.
type SessionConfig struct {
	SessionID       string
	Workspace       string
	SkipPermissions *bool
	AllowedTools    []string
	DisallowedTools []string
	Skills          []string
	SkillOptions    map[string]any
	ShowThinking    *bool
}

// Merge resolves every key to its first set value, so layers go from the
// most to the least specific.
func Merge(layers ...SessionConfig) SessionConfig {
	var out SessionConfig
	for _, l := range layers {
		if out.SessionID == "" {
			out.SessionID = l.SessionID
		}
		if out.Workspace == "" {
			out.Workspace = l.Workspace
		}
		if out.SkipPermissions == nil {
			out.SkipPermissions = l.SkipPermissions
		}
		if out.AllowedTools == nil {
			out.AllowedTools = l.AllowedTools
		}
		if out.DisallowedTools == nil {
			out.DisallowedTools = l.DisallowedTools
		}
		if out.Skills == nil {
			out.Skills = l.Skills
		}
		if out.SkillOptions == nil {
			out.SkillOptions = l.SkillOptions
		}
		if out.ShowThinking == nil {
			out.ShowThinking = l.ShowThinking
		}
	}
	return out
}

func (c SessionConfig) IsZero() bool {
	return c.SessionID == "" && c.Workspace == "" && c.SkipPermissions == nil &&
		c.AllowedTools == nil && c.DisallowedTools == nil && c.Skills == nil &&
		c.SkillOptions == nil && c.ShowThinking == nil
}

func (c SessionConfig) SkipsPermissions() bool {
	return c.SkipPermissions != nil && *c.SkipPermissions
}

func (c SessionConfig) ThinkingVisible() bool {
	return c.ShowThinking != nil && *c.ShowThinking
}

// Summary renders c in the token syntax so the next request can recover it
// from the assistant message.
func (c SessionConfig) Summary() string {
	var b strings.Builder
	line := func(key, value string) {
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteByte('\n')
	}

	if c.SessionID != "" {
		line("session-id", c.SessionID)
	}
	if c.Workspace != "" {
		line("workspace", c.Workspace)
	}
	if c.SkipPermissions != nil {
		line("dangerously-skip-permissions", strconv.FormatBool(*c.SkipPermissions))
	}
	if len(c.AllowedTools) > 0 {
		line("allowed-tools", encodeList(c.AllowedTools))
	}
	if len(c.DisallowedTools) > 0 {
		line("disallowed-tools", encodeList(c.DisallowedTools))
	}
	if c.ShowThinking != nil {
		line("thinking", strconv.FormatBool(*c.ShowThinking))
	}
	if len(c.Skills) > 0 {
		line("skills", encodeList(c.Skills))
	}
	if len(c.SkillOptions) > 0 {
		if data, err := json.Marshal(c.SkillOptions); err == nil {
			line("skill-options", string(data))
		}
	}
	return b.String()
}

func encodeList(items []string) string {
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func boolPtr(v bool) *bool { return &v }
