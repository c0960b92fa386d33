package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/mylxsw/asteria/log"
)

// taskGroup owns the supervisory goroutines of one read loop.
type taskGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	tasks  []groupTask
}

type groupTask struct {
	name string
	done chan struct{}
}

func newTaskGroup(parent context.Context) *taskGroup {
	ctx, cancel := context.WithCancel(parent)
	return &taskGroup{ctx: ctx, cancel: cancel}
}

func (g *taskGroup) Go(name string, fn func(ctx context.Context)) {
	t := groupTask{name: name, done: make(chan struct{})}
	g.tasks = append(g.tasks, t)
	go func() {
		defer close(t.done)
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("watchdog %s panicked: %v", name, err)
			}
		}()
		fn(g.ctx)
	}()
}

// Stop cancels every task and waits at most bound for each. It returns the
// names of tasks that were still running.
func (g *taskGroup) Stop(bound time.Duration) []string {
	g.cancel()

	var late []string
	for _, t := range g.tasks {
		timer := time.NewTimer(bound)
		select {
		case <-t.done:
		case <-timer.C:
			late = append(late, t.name)
			log.Warningf("watchdog %s did not stop within %s", t.name, bound)
		}
		timer.Stop()
	}
	return late
}

func (s *Supervisor) watchTotal(ctx context.Context, p *Process) {
	if s.cfg.TotalTimeout <= 0 {
		return
	}
	timer := time.NewTimer(time.Until(p.spawnedAt.Add(s.cfg.TotalTimeout)))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-p.exited:
		return
	case <-timer.C:
	}

	s.expire(ctx, p, FailureTotalTimeout,
		fmt.Sprintf("claude process exceeded the total timeout of %s", s.cfg.TotalTimeout))
}

func (s *Supervisor) watchInactivity(ctx context.Context, p *Process) {
	window := s.cfg.InactivityTimeout
	if window <= 0 {
		return
	}
	timer := time.NewTimer(window)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.exited:
			return
		case <-timer.C:
		}

		idle := time.Since(p.LastActivity())
		if idle < window {
			timer.Reset(window - idle)
			continue
		}
		s.expire(ctx, p, FailureInactivity,
			fmt.Sprintf("claude process produced no output for %s", window))
		return
	}
}

// watchInitialOutput closes silent when the process has printed nothing
// within the initial output window.
func (s *Supervisor) watchInitialOutput(ctx context.Context, p *Process, silent chan<- struct{}) {
	if s.cfg.InitialOutputTimeout <= 0 {
		return
	}
	timer := time.NewTimer(time.Until(p.spawnedAt.Add(s.cfg.InitialOutputTimeout)))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-p.exited:
		return
	case <-timer.C:
	}

	if p.LineCount() > 0 {
		return
	}
	msg := fmt.Sprintf("claude process started but produced no output within %s", s.cfg.InitialOutputTimeout)
	if !p.fail(FailureSilentStart, msg) {
		return
	}
	log.Warningf("claude[%d]: %s", p.pid, msg)
	s.notifyTimeout(p, FailureSilentStart)
	p.terminate()
	close(silent)
}

func (s *Supervisor) drainStderr(ctx context.Context, p *Process) {
	select {
	case <-ctx.Done():
	case <-p.startStderrDrain():
	}
}

// expire terminates p for a timeout and escalates to a kill when the grace
// window passes.
func (s *Supervisor) expire(ctx context.Context, p *Process, kind, msg string) {
	if !p.fail(kind, msg) {
		return
	}
	log.Warningf("claude[%d]: %s, terminating", p.pid, msg)
	s.notifyTimeout(p, kind)
	p.terminate()

	timer := time.NewTimer(s.cfg.KillTimeout)
	defer timer.Stop()
	select {
	case <-p.exited:
	case <-ctx.Done():
	case <-timer.C:
		log.Warningf("claude[%d]: still running %s after terminate, killing", p.pid, s.cfg.KillTimeout)
		p.kill()
	}
}

func (s *Supervisor) notifyTimeout(p *Process, kind string) {
	if s.hooks.OnTimeout != nil {
		s.hooks.OnTimeout(p, kind)
	}
}
