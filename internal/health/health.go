// Package health reports whether the gateway can serve requests.
package health

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/mylxsw/asteria/log"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const cliCheckTimeout = 5 * time.Second

type Result struct {
	Status    Status         `json:"status"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	Timestamp string         `json:"timestamp"`
}

type Report struct {
	Status    Status            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    float64           `json:"uptime"`
	Version   string            `json:"version"`
	Checks    map[string]Result `json:"checks"`
}

// Resolver finds the CLI executable.
type Resolver interface {
	ResolveExecutable() string
}

type Options struct {
	Resolver      Resolver
	WorkspaceBase string
	MCPConfigPath string
	Version       string
}

type Checker struct {
	opts    Options
	started time.Time
	now     func() time.Time
}

func NewChecker(opts Options) *Checker {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Checker{opts: opts, started: time.Now(), now: time.Now}
}

// Check runs all checks concurrently.
func (c *Checker) Check(ctx context.Context) Report {
	checks := map[string]func(context.Context) Result{
		"claudeCli": c.checkCLI,
		"workspace": c.checkWorkspace,
		"mcpConfig": c.checkMCPConfig,
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	results := make(map[string]Result, len(checks))
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check func(context.Context) Result) {
			defer wg.Done()
			res := check(ctx)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	report := Report{
		Status:    Overall(results),
		Timestamp: c.timestamp(),
		Uptime:    c.now().Sub(c.started).Seconds(),
		Version:   c.opts.Version,
		Checks:    results,
	}
	log.WithFields(log.Fields{
		"claudeCli": results["claudeCli"].Status,
		"workspace": results["workspace"].Status,
		"mcpConfig": results["mcpConfig"].Status,
	}).Debugf("health check completed with status: %s", report.Status)
	return report
}

// Overall folds check results: any unhealthy wins over any degraded.
func Overall(results map[string]Result) Status {
	status := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

func (c *Checker) checkCLI(ctx context.Context) Result {
	path := ""
	if c.opts.Resolver != nil {
		path = c.opts.Resolver.ResolveExecutable()
	}
	if path == "" {
		suggestion := "Ensure Claude CLI is installed and available in your PATH, or set CLAUDE_CLI_PATH to the full path"
		if runtime.GOOS == "windows" {
			suggestion = "Install the CLI with npm and make sure claude.cmd is on PATH, or set CLAUDE_CLI_PATH to the full path including .cmd"
		}
		return c.result(StatusUnhealthy, "Claude CLI is not available or not working", map[string]any{
			"error":      "Claude CLI not found",
			"platform":   runtime.GOOS,
			"suggestion": suggestion,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, cliCheckTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "--version")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return c.result(StatusUnhealthy, "Claude CLI check timed out", map[string]any{
			"timeout": cliCheckTimeout.String(),
			"command": path,
		})
	case err != nil:
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return c.result(StatusUnhealthy, "Claude CLI returned non-zero exit code", map[string]any{
			"exitCode": code,
			"stdout":   strings.TrimSpace(stdout.String()),
			"stderr":   strings.TrimSpace(stderr.String()),
			"command":  path,
			"error":    err.Error(),
		})
	}

	version := strings.TrimSpace(stdout.String())
	if version == "" {
		version = "unknown"
	}
	return c.result(StatusHealthy, "Claude CLI is available and responsive", map[string]any{
		"version":  version,
		"exitCode": 0,
		"command":  path,
	})
}

func (c *Checker) checkWorkspace(context.Context) Result {
	base, err := filepath.Abs(c.opts.WorkspaceBase)
	if err != nil {
		return c.result(StatusUnhealthy, "Workspace directory is not accessible", map[string]any{"error": err.Error()})
	}

	info, err := os.Stat(base)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return c.result(StatusUnhealthy, "Workspace base path does not exist", map[string]any{"path": base})
	case err != nil:
		return c.result(StatusUnhealthy, "Workspace directory is not accessible", map[string]any{"path": base, "error": err.Error()})
	case !info.IsDir():
		return c.result(StatusUnhealthy, "Workspace base path is not a directory", map[string]any{"path": base, "type": "file"})
	}

	probe := filepath.Join(base, ".health-check-test")
	if err := os.Mkdir(probe, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return c.result(StatusDegraded, "Workspace directory is readable but not writable", map[string]any{
			"path":       base,
			"readable":   true,
			"writable":   false,
			"writeError": err.Error(),
		})
	}
	_ = os.Remove(probe)

	return c.result(StatusHealthy, "Workspace directory is accessible and writable", map[string]any{
		"path":     base,
		"readable": true,
		"writable": true,
	})
}

func (c *Checker) checkMCPConfig(context.Context) Result {
	path := c.opts.MCPConfigPath
	if path == "" {
		return c.result(StatusHealthy, "MCP is disabled (no configuration file found)", map[string]any{
			"enabled":    false,
			"configPath": nil,
		})
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return c.result(StatusHealthy, "MCP is disabled (no configuration file found)", map[string]any{
			"enabled":    false,
			"configPath": path,
		})
	}

	if err := ValidateMCPConfig(path); err != nil {
		return c.result(StatusDegraded, "MCP configuration file is invalid", map[string]any{
			"enabled":    true,
			"configPath": path,
			"error":      err.Error(),
		})
	}
	return c.result(StatusHealthy, "MCP configuration file is valid", map[string]any{
		"enabled":    true,
		"configPath": path,
	})
}

func (c *Checker) result(status Status, message string, details map[string]any) Result {
	return Result{Status: status, Message: message, Details: details, Timestamp: c.timestamp()}
}

func (c *Checker) timestamp() string {
	return c.now().UTC().Format(time.RFC3339Nano)
}
