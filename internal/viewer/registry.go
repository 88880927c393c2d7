// Package viewer tracks how many event-stream connections are currently
// attached to each job in this process. The notification dispatcher uses the
// counts to skip notifying owners who are already watching.
package viewer

import "sync"

// Registry is a per-process viewer counter. Counts never go negative and
// zero-count entries are dropped eagerly.
type Registry struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewRegistry() *Registry {
	return &Registry{counts: make(map[string]int)}
}

// Attach records one more viewer for the job and returns the new count.
func (r *Registry) Attach(jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[jobID]++
	return r.counts[jobID]
}

// Detach removes one viewer. Extra detaches are swallowed at zero.
func (r *Registry) Detach(jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.counts[jobID]
	if !ok {
		return 0
	}
	n--
	if n <= 0 {
		delete(r.counts, jobID)
		return 0
	}
	r.counts[jobID] = n
	return n
}

// Count returns the current viewer count for the job.
func (r *Registry) Count(jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[jobID]
}
