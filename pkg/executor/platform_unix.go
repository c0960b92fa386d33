//go:build !windows

package executor

import (
	"os"
	"os/exec"
	"syscall"
)

const killOnShutdown = false

func executableCandidates(path string) []string {
	return []string{path}
}

func platformCommand(path string, args []string) (string, []string) {
	return path, args
}

// setProcessGroup puts the CLI in its own group so signals reach the
// MCP servers it starts.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateProcess(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGTERM); err == nil {
		return nil
	}
	return p.Signal(syscall.SIGTERM)
}

func killProcess(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return p.Kill()
}
