// Package jobs implements the Job Registry (C10): process-wide, mutex-guarded
// progress/status for long-running background work — the bulk summary flow
// (spec.md §4.4.8) and research/RAG session status (§4.8, §6). Entries are
// ephemeral and do not survive a process restart (spec.md §9).
package jobs

import (
	"sync"
	"time"
)

// Status is one job's progress snapshot.
type Status struct {
	IsRunning bool
	Total     int
	Processed int
	StartTime time.Time
	LastError string
}

// ETA estimates remaining duration from the current rate, or zero if there
// isn't enough progress yet to extrapolate from.
func (s Status) ETA(now time.Time) time.Duration {
	if !s.IsRunning || s.Processed <= 0 || s.Total <= s.Processed {
		return 0
	}
	elapsed := now.Sub(s.StartTime)
	perItem := elapsed / time.Duration(s.Processed)
	remaining := s.Total - s.Processed
	return perItem * time.Duration(remaining)
}

// Registry is a mutex-guarded map of job status keyed by an arbitrary key —
// a user_id for the bulk summary flow, a session id for research/RAG runs.
// Grounded on the teacher's internal/agentd runStore (utils.go): a small
// in-memory slice/map mutated under one mutex, no persistence.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Status
	now  func() time.Time
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{jobs: map[string]*Status{}, now: time.Now}
}

// Start marks key as running with the given total, resetting any prior
// status (a fresh bulk run replaces a stale completed/failed one).
func (r *Registry) Start(key string, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[key] = &Status{IsRunning: true, Total: total, StartTime: r.now()}
}

// Progress increments the processed count for key by delta.
func (r *Registry) Progress(key string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.jobs[key]; ok {
		s.Processed += delta
	}
}

// Finish marks key as no longer running. errMsg, if non-empty, is recorded
// as the job's last error; a successful finish passes "".
func (r *Registry) Finish(key string, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.jobs[key]; ok {
		s.IsRunning = false
		s.LastError = errMsg
	}
}

// Get returns a copy of key's current status, and whether any status has
// ever been recorded for it.
func (r *Registry) Get(key string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.jobs[key]
	if !ok {
		return Status{}, false
	}
	return *s, true
}
