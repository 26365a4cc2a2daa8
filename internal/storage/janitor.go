package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Retention defaults.
const (
	DefaultRetention     = 7 * 24 * time.Hour
	DefaultSweepInterval = 24 * time.Hour
)

// SweepResult counts what a sweep removed.
type SweepResult struct {
	Artifacts int
	WorkDirs  int
}

// Sweep removes .pdf artifacts and orphaned work directories last modified before now-retention.
// Files that fail to delete are logged and skipped.
func (s *Store) Sweep(now time.Time, retention time.Duration) (SweepResult, error) {
	var result SweepResult
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := now.Add(-retention)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return result, fmt.Errorf("failed to list output directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		if s.expired(entry, cutoff) {
			path := filepath.Join(s.dir, entry.Name())
			if err := os.Remove(path); err != nil {
				s.logger.Warn("failed to remove expired artifact", "path", path, "error", err)
				continue
			}
			result.Artifacts++
		}
	}

	tempRoot := filepath.Join(s.dir, tempDirName)
	runs, err := os.ReadDir(tempRoot)
	if err != nil && !os.IsNotExist(err) {
		return result, fmt.Errorf("failed to list work directories: %w", err)
	}
	for _, run := range runs {
		if !run.IsDir() || !s.expired(run, cutoff) {
			continue
		}
		path := filepath.Join(tempRoot, run.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("failed to remove orphaned work directory", "path", path, "error", err)
			continue
		}
		result.WorkDirs++
	}

	return result, nil
}

func (s *Store) expired(entry os.DirEntry, cutoff time.Time) bool {
	info, err := entry.Info()
	if err != nil {
		return false
	}
	return info.ModTime().Before(cutoff)
}

// SweepHook runs after every successful sweep, for example to prune history rows older than cutoff.
type SweepHook func(ctx context.Context, cutoff time.Time, result SweepResult)

// Janitor sweeps a Store on a fixed interval.
type Janitor struct {
	store     *Store
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	hooks     []SweepHook
}

// NewJanitor creates a Janitor. Zero durations select the defaults.
func NewJanitor(store *Store, interval, retention time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Janitor{store: store, interval: interval, retention: retention, now: time.Now}
}

// OnSweep registers a hook run after each successful sweep.
func (j *Janitor) OnSweep(hook SweepHook) {
	j.hooks = append(j.hooks, hook)
}

// RunOnce performs a single sweep, logs its outcome and runs the hooks.
func (j *Janitor) RunOnce(ctx context.Context) (SweepResult, error) {
	now := j.now()
	cutoff := now.Add(-j.retention)
	j.store.logger.Info("sweeping expired artifacts", "cutoff", cutoff.Format(time.RFC3339))

	result, err := j.store.Sweep(now, j.retention)
	if err != nil {
		j.store.logger.Error("sweep failed", "error", err)
		return result, err
	}
	j.store.logger.Info("sweep complete", "artifacts_removed", result.Artifacts, "work_dirs_removed", result.WorkDirs)
	for _, hook := range j.hooks {
		hook(ctx, cutoff, result)
	}
	return result, nil
}

// Run sweeps once per interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = j.RunOnce(ctx)
		}
	}
}
