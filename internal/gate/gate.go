// Package gate bounds how many remote-download jobs may run at once.
package gate

import "golang.org/x/sync/semaphore"

// Gate is a counter-based admission limiter. There is no queue: a request
// over the bound is refused immediately and the caller decides what to do.
type Gate struct {
	sem *semaphore.Weighted
	max int64
}

func New(max int64) *Gate {
	if max <= 0 {
		max = 1
	}
	return &Gate{sem: semaphore.NewWeighted(max), max: max}
}

// TryAdmit claims one slot without blocking. The caller must call Release
// exactly once for every successful admission, regardless of outcome.
func (g *Gate) TryAdmit() bool {
	return g.sem.TryAcquire(1)
}

// Release returns a slot claimed by TryAdmit.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Max reports the configured ceiling.
func (g *Gate) Max() int64 { return g.max }
