package executor

import (
	"os"

	"github.com/mylxsw/asteria/log"
)

const cliName = "claude"

// ResolveExecutable returns the CLI path or "" when none is usable. The
// configured path wins over PATH.
func (s *Supervisor) ResolveExecutable() string {
	if configured := s.cfg.CLIPath; configured != "" {
		for _, candidate := range executableCandidates(configured) {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}
		log.Warningf("configured claude cli path %q does not exist, falling back to PATH", configured)
	}

	path, err := s.lookPath(cliName)
	if err != nil {
		log.Debugf("claude cli lookup failed: %v", err)
		return ""
	}
	return path
}
