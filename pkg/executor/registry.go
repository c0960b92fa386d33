package executor

import "sync"

// Registry is the set of processes spawned and not yet released.
type Registry struct {
	mu    sync.Mutex
	procs map[*Process]struct{}
}

func NewRegistry() *Registry {
	return &Registry{procs: make(map[*Process]struct{})}
}

func (r *Registry) Add(p *Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[p] = struct{}{}
}

// Discard removes p and reports whether it was still registered. Only the
// first of several racing calls gets true.
func (r *Registry) Discard(p *Process) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.procs[p]; !ok {
		return false
	}
	delete(r.procs, p)
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

func (r *Registry) Snapshot() []*Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Process, 0, len(r.procs))
	for p := range r.procs {
		out = append(out, p)
	}
	return out
}

// Drain empties the registry and returns what it held.
func (r *Registry) Drain() []*Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Process, 0, len(r.procs))
	for p := range r.procs {
		out = append(out, p)
	}
	r.procs = make(map[*Process]struct{})
	return out
}
