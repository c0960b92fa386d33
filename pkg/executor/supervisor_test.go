package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

type hookCounter struct {
	spawned  atomic.Int32
	released atomic.Int32
	timeouts sync.Map
}

func (h *hookCounter) hooks() Hooks {
	return Hooks{
		OnSpawn:   func(*Process) { h.spawned.Add(1) },
		OnRelease: func(*Process) { h.released.Add(1) },
		OnTimeout: func(_ *Process, kind string) { h.timeouts.Store(kind, true) },
	}
}

func newHelperSupervisor(t *testing.T, cfg Config, counter *hookCounter) *Supervisor {
	t.Helper()
	cfg.CLIPath = os.Args[0]
	if cfg.EarlyExitWindow == 0 {
		cfg.EarlyExitWindow = 20 * time.Millisecond
	}
	if cfg.InitialOutputTimeout == 0 {
		cfg.InitialOutputTimeout = 5 * time.Second
	}
	var hooks Hooks
	if counter != nil {
		hooks = counter.hooks()
	}
	s := New(cfg, hooks)
	s.commandRun = mockCommand
	return s
}

func mockCommand(name string, arg ...string) *exec.Cmd {
	args := append([]string{"-test.run=TestHelperProcess", "--"}, arg...)
	return exec.Command(os.Args[0], args...)
}

func helperRequest(t *testing.T, mode string) Request {
	return Request{
		Prompt:        "hi",
		WorkspacePath: t.TempDir(),
		Options: Options{Env: map[string]string{
			"GO_WANT_HELPER_PROCESS": "1",
			"HELPER_MODE":            mode,
		}},
	}
}

func collect(t *testing.T, s *Supervisor, ctx context.Context, p *Process) ([]string, error) {
	t.Helper()
	var lines []string
	for line, err := range s.StreamLines(ctx, p) {
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func assertReleased(t *testing.T, s *Supervisor, p *Process, counter *hookCounter) {
	t.Helper()
	if n := s.Registry().Len(); n != 0 {
		t.Fatalf("expected empty registry, got %d", n)
	}
	if p != nil && p.Alive() {
		t.Fatal("expected process to be stopped")
	}
	if counter != nil && counter.spawned.Load() != counter.released.Load() {
		t.Fatalf("expected one release per spawn, got %d spawned %d released",
			counter.spawned.Load(), counter.released.Load())
	}
}

func TestSupervisorStreamsUntilResult(t *testing.T) {
	counter := &hookCounter{}
	s := newHelperSupervisor(t, DefaultConfig(), counter)

	p, err := s.Spawn(context.Background(), helperRequest(t, "e2e"))
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	if s.Registry().Len() != 1 {
		t.Fatal("expected spawned process to be registered")
	}

	start := time.Now()
	lines, err := collect(t, s, context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[2], `"success"`) {
		t.Fatalf("expected result line last, got %s", lines[2])
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("stream should stop at the result line, took %s", elapsed)
	}
	assertReleased(t, s, p, counter)
}

func TestSupervisorWritesPromptAndArguments(t *testing.T) {
	s := newHelperSupervisor(t, DefaultConfig(), nil)
	req := helperRequest(t, "echo")
	req.SessionID = "abc-123"
	req.Prompt = "line one\nline two"

	p, err := s.Spawn(context.Background(), req)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	lines, err := collect(t, s, context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected one echo line, got %v", lines)
	}

	var echo struct {
		Prompt string   `json:"prompt"`
		Args   []string `json:"args"`
		Dir    string   `json:"dir"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &echo); err != nil {
		t.Fatal(err)
	}
	if echo.Prompt != req.Prompt {
		t.Errorf("expected prompt %q on stdin, got %q", req.Prompt, echo.Prompt)
	}
	if strings.Join(echo.Args, " ") != "-p --verbose --output-format stream-json --resume abc-123" {
		t.Errorf("unexpected args %v", echo.Args)
	}
	wantDir, _ := filepath.EvalSymlinks(req.WorkspacePath)
	gotDir, _ := filepath.EvalSymlinks(echo.Dir)
	if gotDir != wantDir {
		t.Errorf("expected cli to run in %s, got %s", wantDir, gotDir)
	}
}

func TestSupervisorEarlyExit(t *testing.T) {
	counter := &hookCounter{}
	s := newHelperSupervisor(t, Config{EarlyExitWindow: 5 * time.Second}, counter)

	_, err := s.Spawn(context.Background(), helperRequest(t, "fail"))
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.Kind != FailureEarlyExit || execErr.ExitCode != 3 {
		t.Fatalf("unexpected failure %+v", execErr)
	}
	if !strings.Contains(execErr.Stderr, "not logged in") {
		t.Fatalf("expected stderr to be captured, got %q", execErr.Stderr)
	}
	assertReleased(t, s, nil, counter)
}

func TestSupervisorInitialOutputTimeout(t *testing.T) {
	counter := &hookCounter{}
	s := newHelperSupervisor(t, Config{InitialOutputTimeout: 300 * time.Millisecond}, counter)

	p, err := s.Spawn(context.Background(), helperRequest(t, "silent"))
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	start := time.Now()
	_, err = collect(t, s, context.Background(), p)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.Kind != FailureSilentStart {
		t.Fatalf("expected silent start failure, got %v", err)
	}
	if !execErr.Timeout() {
		t.Fatal("expected silent start to count as a timeout")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("silent start detected too late: %s", elapsed)
	}
	if !strings.Contains(execErr.Stderr, "waiting for auth") {
		t.Errorf("expected stderr tail in error, got %q", execErr.Stderr)
	}
	if _, ok := counter.timeouts.Load(FailureSilentStart); !ok {
		t.Error("expected timeout hook to fire")
	}
	assertReleased(t, s, p, counter)
}

func TestSupervisorInactivityTimeout(t *testing.T) {
	counter := &hookCounter{}
	s := newHelperSupervisor(t, Config{InactivityTimeout: 300 * time.Millisecond}, counter)

	p, err := s.Spawn(context.Background(), helperRequest(t, "slow"))
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	lines, err := collect(t, s, context.Background(), p)
	if len(lines) != 1 {
		t.Fatalf("expected the first line before the timeout, got %v", lines)
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.Kind != FailureInactivity {
		t.Fatalf("expected inactivity failure, got %v", err)
	}
	assertReleased(t, s, p, counter)
}

func TestSupervisorTotalTimeout(t *testing.T) {
	counter := &hookCounter{}
	s := newHelperSupervisor(t, Config{TotalTimeout: 500 * time.Millisecond, InactivityTimeout: time.Minute}, counter)

	p, err := s.Spawn(context.Background(), helperRequest(t, "chatty"))
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	lines, err := collect(t, s, context.Background(), p)
	if len(lines) == 0 {
		t.Fatal("expected output before the total timeout")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.Kind != FailureTotalTimeout {
		t.Fatalf("expected total timeout failure, got %v", err)
	}
	assertReleased(t, s, p, counter)
}

func TestSupervisorCancellation(t *testing.T) {
	counter := &hookCounter{}
	s := newHelperSupervisor(t, Config{KillTimeout: time.Second}, counter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, err := s.Spawn(ctx, helperRequest(t, "slow"))
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	var cancelledAt time.Time
	for _, err := range s.StreamLines(ctx, p) {
		if err != nil {
			t.Fatalf("cancellation must not surface as an error: %v", err)
		}
		cancelledAt = time.Now()
		cancel()
	}
	if cancelledAt.IsZero() {
		t.Fatal("expected a line before cancelling")
	}
	if elapsed := time.Since(cancelledAt); elapsed > 3*time.Second {
		t.Fatalf("cleanup took too long: %s", elapsed)
	}
	assertReleased(t, s, p, counter)
}

func TestSupervisorStopAfterEarlyBreak(t *testing.T) {
	counter := &hookCounter{}
	s := newHelperSupervisor(t, DefaultConfig(), counter)

	p, err := s.Spawn(context.Background(), helperRequest(t, "chatty"))
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}
	for range s.StreamLines(context.Background(), p) {
		break
	}
	assertReleased(t, s, p, counter)

	for _, err := range s.StreamLines(context.Background(), p) {
		if !errors.Is(err, ErrStreamConsumed) {
			t.Fatalf("expected ErrStreamConsumed, got %v", err)
		}
	}
}

func TestSupervisorCliNotFound(t *testing.T) {
	s := New(Config{CLIPath: "/definitely/not/here/claude"}, Hooks{})
	s.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }

	_, err := s.Spawn(context.Background(), Request{Prompt: "hi", WorkspacePath: t.TempDir()})
	if !errors.Is(err, ErrCliNotFound) {
		t.Fatalf("expected ErrCliNotFound, got %v", err)
	}
	var notFound *CliNotFoundError
	if !errors.As(err, &notFound) || notFound.Configured != "/definitely/not/here/claude" {
		t.Fatalf("expected configured path in error, got %v", err)
	}
}

func TestSupervisorCleanupAll(t *testing.T) {
	counter := &hookCounter{}
	s := newHelperSupervisor(t, DefaultConfig(), counter)

	var procs []*Process
	for i := 0; i < 2; i++ {
		p, err := s.Spawn(context.Background(), helperRequest(t, "slow"))
		if err != nil {
			t.Fatalf("spawn failed: %v", err)
		}
		procs = append(procs, p)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.CleanupAll()
		}()
	}
	wg.Wait()

	for _, p := range procs {
		if !p.waitExit(2 * time.Second) {
			t.Fatalf("process %d survived cleanup", p.PID())
		}
	}
	if counter.released.Load() != 2 {
		t.Fatalf("expected 2 releases, got %d", counter.released.Load())
	}

	// Streams of drained processes must not release them a second time.
	for _, p := range procs {
		_, _ = collect(t, s, context.Background(), p)
	}
	assertReleased(t, s, nil, counter)

	if _, err := s.Spawn(context.Background(), helperRequest(t, "e2e")); !errors.Is(err, ErrSupervisorClosed) {
		t.Fatalf("expected ErrSupervisorClosed, got %v", err)
	}
}

func TestSupervisorCleanupAllInterruptsStream(t *testing.T) {
	counter := &hookCounter{}
	s := newHelperSupervisor(t, DefaultConfig(), counter)

	p, err := s.Spawn(context.Background(), helperRequest(t, "slow"))
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	var lines int
	var streamErr error
	for line, err := range s.StreamLines(context.Background(), p) {
		if err != nil {
			streamErr = err
			break
		}
		if line != "" {
			lines++
			go s.CleanupAll()
		}
	}

	if lines == 0 {
		t.Fatal("expected output before shutdown")
	}
	if !errors.Is(streamErr, ErrSupervisorClosed) {
		t.Fatalf("expected ErrSupervisorClosed after output, got %v", streamErr)
	}
	assertReleased(t, s, p, counter)
}

func TestSupervisorCleanupAllDuringSpawn(t *testing.T) {
	counter := &hookCounter{}
	s := newHelperSupervisor(t, Config{EarlyExitWindow: 10 * time.Second}, counter)

	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for s.Registry().Len() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		s.CleanupAll()
	}()

	start := time.Now()
	_, err := s.Spawn(context.Background(), helperRequest(t, "slow"))
	if !errors.Is(err, ErrSupervisorClosed) {
		t.Fatalf("expected ErrSupervisorClosed, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("spawn waited out the early exit window")
	}
	assertReleased(t, s, nil, counter)
}

// TestHelperProcess stands in for the claude cli.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	if os.Getenv("HELPER_MODE") == "stubborn" {
		signal.Ignore(syscall.SIGTERM)
	}

	prompt, _ := io.ReadAll(os.Stdin)

	switch os.Getenv("HELPER_MODE") {
	case "e2e":
		fmt.Println(`{"type":"system","subtype":"init","session_id":"abc"}`)
		fmt.Println(`{"type":"assistant","message":{"stop_reason":"end_turn","content":[{"type":"text","text":"hello"}]}}`)
		fmt.Println(`{"type":"result","subtype":"success","result":"hello"}`)
		fmt.Println(`{"type":"assistant","message":{"content":[{"type":"text","text":"late"}]}}`)
		time.Sleep(30 * time.Second)
	case "echo":
		args := os.Args
		for i, a := range args {
			if a == "--" {
				args = args[i+1:]
				break
			}
		}
		dir, _ := os.Getwd()
		out, _ := json.Marshal(map[string]any{"prompt": string(prompt), "args": args, "dir": dir})
		fmt.Println(string(out))
	case "fail":
		fmt.Fprintln(os.Stderr, "boom: not logged in")
		os.Exit(3)
	case "silent":
		fmt.Fprintln(os.Stderr, "waiting for auth")
		time.Sleep(30 * time.Second)
	case "slow", "stubborn":
		fmt.Println(`{"type":"system","subtype":"init","session_id":"abc"}`)
		time.Sleep(30 * time.Second)
	case "chatty":
		for i := 0; i < 1500; i++ {
			fmt.Println(`{"type":"keep_alive"}`)
			time.Sleep(20 * time.Millisecond)
		}
	}
}
