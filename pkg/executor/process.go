package executor

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mylxsw/asteria/log"
)

const (
	stderrTailLines = 50
	maxStderrBytes  = 64 * 1024
)

// Process is one running CLI invocation owned by a Supervisor.
type Process struct {
	ID        string
	SessionID string
	Workspace string

	cmd       *exec.Cmd
	pid       int
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	spawnedAt time.Time

	lastActivity atomic.Int64
	lines        atomic.Int64
	state        atomic.Int32
	consumed     atomic.Bool
	// shutdown is set when CleanupAll took the process away.
	shutdown atomic.Bool

	exited   chan struct{}
	exitCode int

	released    chan struct{}
	releaseOnce sync.Once

	drainOnce  sync.Once
	stderrDone chan struct{}
	diag       *tailBuffer

	mu      sync.Mutex
	failure *ExecutionError
}

func newProcess(cmd *exec.Cmd, stdout, stderr io.ReadCloser, req Request) *Process {
	now := time.Now()
	p := &Process{
		ID:         uuid.New().String(),
		SessionID:  req.SessionID,
		Workspace:  req.WorkspacePath,
		cmd:        cmd,
		pid:        cmd.Process.Pid,
		stdout:     stdout,
		stderr:     stderr,
		spawnedAt:  now,
		exited:     make(chan struct{}),
		exitCode:   -1,
		released:   make(chan struct{}),
		stderrDone: make(chan struct{}),
		diag:       newTailBuffer(stderrTailLines),
	}
	p.lastActivity.Store(now.UnixNano())
	return p
}

func (p *Process) PID() int { return p.pid }

func (p *Process) State() State { return State(p.state.Load()) }

func (p *Process) SpawnedAt() time.Time { return p.spawnedAt }

// LastActivity is the time of the most recent stdout line, or the spawn time.
func (p *Process) LastActivity() time.Time {
	return time.Unix(0, p.lastActivity.Load())
}

// LineCount is the number of non-empty stdout lines read so far.
func (p *Process) LineCount() int64 { return p.lines.Load() }

// Exited is closed once the OS process has been reaped.
func (p *Process) Exited() <-chan struct{} { return p.exited }

func (p *Process) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// ExitCode is -1 while the process runs or when it died from a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.exited:
		return p.exitCode
	default:
		return -1
	}
}

// Stderr returns the retained tail of the diagnostic output.
func (p *Process) Stderr() string { return p.diag.String() }

func (p *Process) setState(s State) { p.state.Store(int32(s)) }

func (p *Process) touch() {
	p.lines.Add(1)
	p.lastActivity.Store(time.Now().UnixNano())
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	close(p.exited)
	log.Debugf("claude[%d]: exited with code %d: %v", p.pid, p.exitCode, err)
}

func (p *Process) waitExit(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.exited:
		return true
	case <-timer.C:
		return false
	}
}

func (p *Process) terminate() {
	if !p.Alive() {
		return
	}
	if err := terminateProcess(p.cmd.Process); err != nil {
		log.Debugf("claude[%d]: terminate: %v", p.pid, err)
	}
	p.setState(StateTerminated)
}

func (p *Process) kill() {
	if !p.Alive() {
		return
	}
	if err := killProcess(p.cmd.Process); err != nil {
		log.Debugf("claude[%d]: kill: %v", p.pid, err)
	}
	p.setState(StateKilled)
}

// fail records the first terminal failure; later calls report false.
func (p *Process) fail(kind, message string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failure != nil {
		return false
	}
	p.failure = &ExecutionError{Kind: kind, Message: message}
	return true
}

func (p *Process) failed() *ExecutionError {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failure == nil {
		return nil
	}
	copied := *p.failure
	return &copied
}

// startReader scans stdout into the returned channel, which is closed on EOF.
func (p *Process) startReader(maxLine int) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)

		scanner := bufio.NewScanner(p.stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			p.touch()
			select {
			case out <- line:
			case <-p.released:
				return
			}
		}
		if err := scanner.Err(); err != nil && !endOfOutput(err) {
			log.Warningf("claude[%d]: stdout read failed, ending stream: %v", p.pid, err)
		}
	}()
	return out
}

// startStderrDrain logs stderr lines and keeps their tail. It runs once per
// process and returns a channel closed when stderr reaches EOF.
func (p *Process) startStderrDrain() <-chan struct{} {
	p.drainOnce.Do(func() {
		go func() {
			defer close(p.stderrDone)
			scanner := bufio.NewScanner(p.stderr)
			scanner.Buffer(make([]byte, 0, 4096), maxStderrBytes)
			for scanner.Scan() {
				line := strings.TrimRight(scanner.Text(), "\r")
				if strings.TrimSpace(line) == "" {
					continue
				}
				p.diag.Write(line)
				log.WithFields(log.Fields{"pid": p.pid}).Debugf("claude stderr: %s", line)
			}
		}()
	})
	return p.stderrDone
}

// collectStderr reads what is left on stderr, giving up after d. It must not
// run alongside the drain.
func (p *Process) collectStderr(d time.Duration) string {
	out := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(io.LimitReader(p.stderr, maxStderrBytes))
		out <- data
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case data := <-out:
		return strings.TrimSpace(string(data))
	case <-timer.C:
		return ""
	}
}

func (p *Process) closePipes() {
	_ = p.stdout.Close()
	_ = p.stderr.Close()
}

// endOfOutput reports read errors that just mean the writer went away. A
// pseudo-terminal reports EIO once the child exits.
func endOfOutput(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EIO)
}
