//go:build !windows

package executor

import (
	"context"
	"testing"
	"time"
)

func TestSupervisorEscalatesToKill(t *testing.T) {
	counter := &hookCounter{}
	s := newHelperSupervisor(t, Config{KillTimeout: 300 * time.Millisecond}, counter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, err := s.Spawn(ctx, helperRequest(t, "stubborn"))
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	for range s.StreamLines(ctx, p) {
		cancel()
	}

	if p.State() != StateKilled {
		t.Fatalf("expected process to be killed, state %s", p.State())
	}
	assertReleased(t, s, p, counter)
}
