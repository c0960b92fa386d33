package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mylxsw/asteria/log"
	"github.com/supremeagent/claudegate/pkg/executor/claude"
)

const (
	diagnosticReadTimeout = 500 * time.Millisecond
	shutdownGrace         = 100 * time.Millisecond
	killWait              = time.Second
)

// Hooks observes process lifecycle. OnRelease fires exactly once for every
// process OnSpawn saw.
type Hooks struct {
	OnSpawn   func(p *Process)
	OnRelease func(p *Process)
	OnTimeout func(p *Process, kind string)
}

// Supervisor spawns CLI processes and guarantees their cleanup. One instance
// is shared by all requests.
type Supervisor struct {
	cfg      Config
	hooks    Hooks
	registry *Registry
	closed   atomic.Bool

	commandRun func(name string, arg ...string) *exec.Cmd
	lookPath   func(file string) (string, error)
}

func New(cfg Config, hooks Hooks) *Supervisor {
	return &Supervisor{
		cfg:        cfg.withDefaults(),
		hooks:      hooks,
		registry:   NewRegistry(),
		commandRun: exec.Command,
		lookPath:   exec.LookPath,
	}
}

// Registry exposes the active process set.
func (s *Supervisor) Registry() *Registry { return s.registry }

func (s *Supervisor) Config() Config { return s.cfg }

// Spawn starts the CLI for req, writes the prompt and closes stdin. The
// returned process must be consumed with StreamLines, which releases it.
func (s *Supervisor) Spawn(ctx context.Context, req Request) (*Process, error) {
	if s.closed.Load() {
		return nil, ErrSupervisorClosed
	}

	path := s.ResolveExecutable()
	if path == "" {
		return nil, &CliNotFoundError{Configured: s.cfg.CLIPath}
	}

	if active := s.registry.Len(); active > 0 {
		log.Debugf("spawning claude cli with %d processes already active", active)
	}

	name, argv := platformCommand(path, s.BuildArguments(req.SessionID, req.Options))
	cmd := s.commandRun(name, argv...)
	cmd.Dir = req.WorkspacePath
	cmd.Env = BuildCommandEnv(req.Options.Env)
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ExecutionError{Kind: FailureStart, Message: "failed to open claude cli stdin", Err: err}
	}
	stdoutR, stdoutW, err := openStdout(s.cfg.StdoutPTY)
	if err != nil {
		_ = stdin.Close()
		return nil, &ExecutionError{Kind: FailureStart, Message: "failed to open claude cli stdout", Err: err}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		closeAll(stdoutR, stdoutW)
		return nil, &ExecutionError{Kind: FailureStart, Message: "failed to open claude cli stderr", Err: err}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, &CliNotFoundError{Configured: path, Err: err}
		}
		return nil, &ExecutionError{Kind: FailureStart, Message: "failed to start claude cli", Err: err}
	}
	// The child holds its own copies now.
	closeAll(stdoutW, stderrW)

	p := newProcess(cmd, stdoutR, stderrR, req)
	go p.wait()
	s.registry.Add(p)
	if s.hooks.OnSpawn != nil {
		s.hooks.OnSpawn(p)
	}
	if s.closed.Load() {
		// CleanupAll ran between the check above and Add.
		s.release(p)
		return nil, ErrSupervisorClosed
	}
	log.WithFields(log.Fields{
		"pid":       p.pid,
		"session":   req.SessionID,
		"workspace": req.WorkspacePath,
	}).Infof("claude cli started: %s", path)

	p.setState(StateWriting)
	if err := writePrompt(ctx, stdin, req.Prompt); err != nil {
		if ctx.Err() != nil {
			s.release(p)
			return nil, ctx.Err()
		}
		if p.shutdown.Load() {
			s.release(p)
			return nil, ErrSupervisorClosed
		}
		stderr := p.collectStderr(diagnosticReadTimeout)
		s.release(p)
		return nil, &ExecutionError{
			Kind:     FailureWrite,
			Message:  "failed to write prompt to claude cli",
			ExitCode: p.ExitCode(),
			Stderr:   stderr,
			Err:      err,
		}
	}

	if err := s.probeEarlyExit(ctx, p); err != nil {
		s.release(p)
		return nil, err
	}
	return p, nil
}

func writePrompt(ctx context.Context, stdin io.WriteCloser, prompt string) error {
	done := make(chan error, 1)
	go func() {
		_, err := io.WriteString(stdin, prompt)
		if cerr := stdin.Close(); err == nil {
			err = cerr
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = stdin.Close()
		return ctx.Err()
	}
}

// probeEarlyExit fails when the process dies with a non-zero code inside the
// early exit window. A clean exit still has its output buffered in the pipe.
func (s *Supervisor) probeEarlyExit(ctx context.Context, p *Process) error {
	if s.cfg.EarlyExitWindow <= 0 {
		return nil
	}
	timer := time.NewTimer(s.cfg.EarlyExitWindow)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.exited:
		if p.shutdown.Load() {
			return ErrSupervisorClosed
		}
		code := p.ExitCode()
		if code == 0 {
			return nil
		}
		return &ExecutionError{
			Kind:     FailureEarlyExit,
			Message:  fmt.Sprintf("claude process exited immediately with code %d", code),
			ExitCode: code,
			Stderr:   p.collectStderr(diagnosticReadTimeout),
		}
	}
}

// StreamLines yields the stdout lines of p until EOF or the result line. The
// sequence can be ranged over once; ending the range early, cancelling ctx or
// any failure releases the process before the range statement returns.
// Cancellation ends the sequence without an error.
func (s *Supervisor) StreamLines(ctx context.Context, p *Process) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !p.consumed.CompareAndSwap(false, true) {
			yield("", ErrStreamConsumed)
			return
		}
		s.readLoop(ctx, p, yield)
	}
}

func (s *Supervisor) readLoop(ctx context.Context, p *Process, yield func(string, error) bool) {
	p.setState(StateStreaming)
	lines := p.startReader(s.cfg.MaxLineBytes)
	silent := make(chan struct{})

	group := newTaskGroup(ctx)
	group.Go("total-timeout", func(ctx context.Context) { s.watchTotal(ctx, p) })
	group.Go("inactivity", func(ctx context.Context) { s.watchInactivity(ctx, p) })
	group.Go("initial-output", func(ctx context.Context) { s.watchInitialOutput(ctx, p, silent) })
	group.Go("stderr-drain", func(ctx context.Context) { s.drainStderr(ctx, p) })
	defer func() {
		group.Stop(s.cfg.WatchdogStopTimeout)
		s.release(p)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debugf("claude[%d]: request cancelled, stopping stream", p.pid)
			return
		case <-silent:
			yield("", s.terminalError(p))
			return
		case line, ok := <-lines:
			if !ok {
				if err := s.terminalError(p); err != nil {
					yield("", err)
				}
				return
			}
			if !yield(line, nil) {
				return
			}
			if claude.IsResultSuccess(line) {
				p.setState(StateCompleting)
				return
			}
		}
	}
}

// terminalError explains why output ended, or returns nil for a normal end.
func (s *Supervisor) terminalError(p *Process) error {
	if p.shutdown.Load() {
		return ErrSupervisorClosed
	}
	failure := p.failed()
	if failure == nil {
		if p.LineCount() > 0 || !p.waitExit(diagnosticReadTimeout) || p.ExitCode() == 0 {
			return nil
		}
		failure = &ExecutionError{
			Kind:    FailureAbnormalClose,
			Message: fmt.Sprintf("claude process exited with code %d without output", p.ExitCode()),
		}
	}

	// Give the drain a moment to pick up the last words.
	timer := time.NewTimer(diagnosticReadTimeout)
	select {
	case <-p.stderrDone:
	case <-timer.C:
	}
	timer.Stop()

	failure.ExitCode = p.ExitCode()
	failure.Stderr = p.Stderr()
	return failure
}

// release unregisters p and stops it. Only the first call has an effect.
func (s *Supervisor) release(p *Process) {
	p.releaseOnce.Do(func() {
		if s.registry.Discard(p) && s.hooks.OnRelease != nil {
			s.hooks.OnRelease(p)
		}
		close(p.released)
		s.stopProcess(p)
		p.closePipes()
		log.Debugf("claude[%d]: released in state %s", p.pid, p.State())
	})
}

func (s *Supervisor) stopProcess(p *Process) {
	if !p.Alive() {
		return
	}
	p.terminate()
	if p.waitExit(s.cfg.KillTimeout) {
		return
	}
	log.Warningf("claude[%d]: did not exit within %s, killing", p.pid, s.cfg.KillTimeout)
	p.kill()
	if p.waitExit(killWait) {
		return
	}
	log.Errorf("claude[%d]: still running after kill, it may be a zombie", p.pid)
}

// CleanupAll terminates every tracked process. It runs once; later and
// concurrent calls return immediately, and Spawn is refused afterwards.
func (s *Supervisor) CleanupAll() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	procs := s.registry.Drain()
	if len(procs) == 0 {
		return
	}
	log.Infof("terminating %d active claude processes", len(procs))

	var wg sync.WaitGroup
	for _, p := range procs {
		p.shutdown.Store(true)
		if s.hooks.OnRelease != nil {
			s.hooks.OnRelease(p)
		}
		wg.Add(1)
		go func(p *Process) {
			defer wg.Done()
			if !p.Alive() {
				return
			}
			p.terminate()
			if killOnShutdown || !p.waitExit(shutdownGrace) {
				p.kill()
			}
		}(p)
	}
	wg.Wait()
}

func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}
