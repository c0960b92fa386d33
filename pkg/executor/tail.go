package executor

import (
	"strings"
	"sync"
)

// tailBuffer keeps the most recent lines written to it.
type tailBuffer struct {
	mu       sync.Mutex
	buf      []string
	capacity int
	pos      int
	full     bool
}

func newTailBuffer(capacity int) *tailBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &tailBuffer{buf: make([]string, capacity), capacity: capacity}
}

func (t *tailBuffer) Write(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf[t.pos] = line
	t.pos = (t.pos + 1) % t.capacity
	if t.pos == 0 {
		t.full = true
	}
}

// Lines returns the retained lines oldest first.
func (t *tailBuffer) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		out := make([]string, t.pos)
		copy(out, t.buf[:t.pos])
		return out
	}
	out := make([]string, t.capacity)
	copy(out, t.buf[t.pos:])
	copy(out[t.capacity-t.pos:], t.buf[:t.pos])
	return out
}

func (t *tailBuffer) String() string {
	return strings.Join(t.Lines(), "\n")
}
