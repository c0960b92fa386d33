package executor

import (
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mylxsw/asteria/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BuildArguments returns the CLI argument list. The order of the optional
// flags is fixed and flags with empty values are left out.
func (s *Supervisor) BuildArguments(sessionID string, opts Options) []string {
	args := []string{"-p", "--verbose", "--output-format", "stream-json"}

	if path := s.mcpConfigPath(); path != "" {
		args = append(args, "--mcp-config", path)
	}
	if sessionID != "" {
		args = append(args, "--resume", sessionID)
	}
	if opts.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--system-prompt", opts.SystemPrompt)
	}
	if tools := joinNonEmpty(opts.AllowedTools); tools != "" {
		args = append(args, "--allowedTools", tools)
	}
	if tools := joinNonEmpty(opts.DisallowedTools); tools != "" {
		args = append(args, "--disallowedTools", tools)
	}
	if skills := joinNonEmpty(opts.Skills); skills != "" {
		args = append(args, "--skills", skills)
	}
	if len(opts.SkillOptions) > 0 {
		data, err := json.Marshal(opts.SkillOptions)
		if err != nil {
			log.Warningf("skill options dropped, cannot encode: %v", err)
		} else {
			args = append(args, "--skillOptions", string(data))
		}
	}

	return args
}

// mcpConfigPath returns the absolute MCP config path if the file exists.
func (s *Supervisor) mcpConfigPath() string {
	if s.cfg.MCPConfigPath == "" {
		return ""
	}
	info, err := os.Stat(s.cfg.MCPConfigPath)
	if err != nil || info.IsDir() {
		return ""
	}
	abs, err := filepath.Abs(s.cfg.MCPConfigPath)
	if err != nil {
		return s.cfg.MCPConfigPath
	}
	return abs
}

func joinNonEmpty(items []string) string {
	kept := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			kept = append(kept, item)
		}
	}
	return strings.Join(kept, ",")
}
