// Package registry provides the in-memory keyed stores that own job records.
// Each job variant gets its own instance; instances are plain injectable
// values so tests can run against isolated registries.
package registry

import (
	"sync"

	"mediaforge/internal/models"
)

// Job is any record a registry can store.
type Job interface {
	JobStatus() models.JobStatus
}

// Mirror is invoked with a snapshot of the record after every Create and
// Update. It is best-effort persistence (see internal/store); a nil mirror
// is skipped.
type Mirror[T Job] func(T)

// Registry is a mutex-guarded keyed store of job records. Records are held
// by value, so every read hands the caller its own copy and mutation only
// happens through Update.
type Registry[T Job] struct {
	mu     sync.RWMutex
	jobs   map[string]T
	order  []string
	mirror Mirror[T]
}

func New[T Job](mirror Mirror[T]) *Registry[T] {
	return &Registry[T]{
		jobs:   make(map[string]T),
		mirror: mirror,
	}
}

// Create stores a new record under its ID. It returns false if the ID is
// already taken.
func (r *Registry[T]) Create(id string, job T) bool {
	r.mu.Lock()
	if _, exists := r.jobs[id]; exists {
		r.mu.Unlock()
		return false
	}
	r.jobs[id] = job
	r.order = append(r.order, id)
	r.mu.Unlock()

	if r.mirror != nil {
		r.mirror(job)
	}
	return true
}

// Get returns a copy of the record.
func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Update applies fn to the stored record while holding the lock and returns
// the resulting copy. fn touches only the fields it wants to change; legality
// of the transition is the caller's responsibility.
func (r *Registry[T]) Update(id string, fn func(*T)) (T, bool) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		var zero T
		return zero, false
	}
	fn(&job)
	r.jobs[id] = job
	r.mu.Unlock()

	if r.mirror != nil {
		r.mirror(job)
	}
	return job, true
}

// Delete removes the record. The job's artifact, if any, is left on disk;
// reclaiming it is the retention tracker's concern.
func (r *Registry[T]) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return false
	}
	delete(r.jobs, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns copies of all records in creation order.
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.jobs))
	for _, id := range r.order {
		out = append(out, r.jobs[id])
	}
	return out
}

// ListByStatus returns copies of all records currently in the given status,
// in creation order.
func (r *Registry[T]) ListByStatus(status models.JobStatus) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []T
	for _, id := range r.order {
		if job := r.jobs[id]; job.JobStatus() == status {
			out = append(out, job)
		}
	}
	return out
}

// Len reports how many records the registry holds.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
