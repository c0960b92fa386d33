//go:build windows

package executor

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// Windows has no graceful signal for console programs started this way.
const killOnShutdown = true

func executableCandidates(path string) []string {
	return []string{path, path + ".cmd", path + ".bat"}
}

// platformCommand routes npm shims and bare names through cmd.exe, which is
// the only way CreateProcess can start a .cmd or .bat file.
func platformCommand(path string, args []string) (string, []string) {
	ext := strings.ToLower(filepath.Ext(path))
	bare := ext == "" && !strings.ContainsAny(path, `\/`)
	if ext == ".cmd" || ext == ".bat" || bare {
		return "cmd.exe", append([]string{"/c", path}, args...)
	}
	return path, args
}

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func terminateProcess(p *os.Process) error {
	return p.Kill()
}

func killProcess(p *os.Process) error {
	return p.Kill()
}
