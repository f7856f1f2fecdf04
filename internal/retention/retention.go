// Package retention reclaims disk space for artifacts that were never
// collected. It owns file paths only; it has no reference back to job
// records, so files orphaned by a crash are still swept up.
package retention

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultGrace         = 5 * time.Minute
	DefaultCeiling       = 30 * time.Minute
)

type artifact struct {
	path                string
	createdAt           time.Time
	downloadedAt        time.Time
	deleteAfterDownload bool
}

// Tracker records artifacts and deletes them once they pass either the
// post-download grace window or the absolute retention ceiling, whichever
// fires first.
type Tracker struct {
	logger  *slog.Logger
	dirs    []string
	grace   time.Duration
	ceiling time.Duration

	mu        sync.Mutex
	artifacts map[string]*artifact

	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer
}

// New builds a tracker sweeping the given output directories. dirs is the
// backstop scan list; tracked artifacts may live anywhere.
func New(logger *slog.Logger, dirs []string, grace, ceiling time.Duration) *Tracker {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Tracker{
		logger:    logger,
		dirs:      dirs,
		grace:     grace,
		ceiling:   ceiling,
		artifacts: make(map[string]*artifact),
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// Track starts managing the artifact written for a job. Called once the file
// exists on disk.
func (t *Tracker) Track(jobID, path string, deleteAfterDownload bool) {
	t.mu.Lock()
	t.artifacts[jobID] = &artifact{
		path:                path,
		createdAt:           t.now(),
		deleteAfterDownload: deleteAfterDownload,
	}
	t.mu.Unlock()
}

// MarkDownloaded records the first retrieval of a job's artifact. When the
// artifact is flagged delete-after-download, a one-shot deletion fires after
// the grace window regardless of the sweep cadence.
func (t *Tracker) MarkDownloaded(jobID string) {
	t.mu.Lock()
	a, ok := t.artifacts[jobID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if a.downloadedAt.IsZero() {
		a.downloadedAt = t.now()
		if a.deleteAfterDownload {
			t.afterFunc(t.grace, func() { t.DeleteNow(jobID) })
		}
	}
	t.mu.Unlock()
}

// DeleteNow removes the artifact immediately and stops tracking it.
func (t *Tracker) DeleteNow(jobID string) bool {
	t.mu.Lock()
	a, ok := t.artifacts[jobID]
	if ok {
		delete(t.artifacts, jobID)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	t.removeFile(a.path)
	return true
}

// Sweep deletes every tracked artifact past its window, then age-scans the
// output directories for files the tracker never learned about.
func (t *Tracker) Sweep() {
	now := t.now()

	t.mu.Lock()
	var expired []*artifact
	for id, a := range t.artifacts {
		pastCeiling := now.Sub(a.createdAt) >= t.ceiling
		pastGrace := a.deleteAfterDownload && !a.downloadedAt.IsZero() && now.Sub(a.downloadedAt) >= t.grace
		if pastCeiling || pastGrace {
			expired = append(expired, a)
			delete(t.artifacts, id)
		}
	}
	t.mu.Unlock()

	for _, a := range expired {
		t.removeFile(a.path)
	}

	t.sweepDirs(now)

	if len(expired) > 0 {
		t.logger.Info("retention sweep removed tracked artifacts", "count", len(expired))
	}
}

// sweepDirs is the registry-independent backstop: anything in a known output
// directory whose modification time is past the ceiling gets deleted.
func (t *Tracker) sweepDirs(now time.Time) {
	for _, dir := range t.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				t.logger.Warn("sweep could not read directory", "dir", dir, "error", err)
			}
			continue
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) < t.ceiling {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if entry.IsDir() {
				// Stale scratch directories (e.g. abandoned page splits)
				// are reclaimed whole.
				if err := os.RemoveAll(path); err != nil {
					t.logger.Warn("failed to delete stale directory", "path", path, "error", err)
				}
				continue
			}
			t.removeFile(path)
		}
	}
}

// removeFile deletes best-effort: a failed or already-done deletion is logged
// and never aborts the rest of a sweep.
func (t *Tracker) removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		t.logger.Warn("failed to delete artifact", "path", path, "error", err)
	}
}

// Start runs the sweep loop until ctx is done.
func (t *Tracker) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Sweep()
			}
		}
	}()
}
