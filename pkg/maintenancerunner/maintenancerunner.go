// Package maintenancerunner hosts the fixed set of one-shot maintenance
// actions an operator can run against the cache tier — backup-protect,
// sync orphans back to the array, fix orphans that already have a
// backup, restore every ".plexcached" sidecar, and permanently delete
// sidecars once their cache copies are trusted — mutually exclusive with
// an in-progress caching run.
package maintenancerunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/plexcache-r/plexcache/pkg/activitylog"
	"github.com/plexcache-r/plexcache/pkg/cachetracker"
	"github.com/plexcache-r/plexcache/pkg/excludelist"
	"github.com/plexcache-r/plexcache/pkg/logging"
	"github.com/plexcache-r/plexcache/pkg/pathrouter"
	"github.com/plexcache-r/plexcache/pkg/sidecar"
	"github.com/plexcache-r/plexcache/pkg/tiermover"
)

// Action identifies one of the fixed maintenance actions a Runner can
// perform.
type Action string

const (
	// ActionBackupProtect adds every orphaned cache file (present on the
	// cache tier but absent from the exclude list) to the exclude list, so
	// the external bulk mover leaves it alone until a later caching run
	// reconciles it properly.
	ActionBackupProtect Action = "backup-protect"
	// ActionSyncOrphans copies every orphaned cache file with no array-side
	// backup or duplicate back to the array, verifies the copy by size,
	// and only then removes the cache copy.
	ActionSyncOrphans Action = "sync-to-array"
	// ActionFixWithBackup resolves every orphaned cache file that already
	// has an array-side backup or duplicate: the backup is restored (or
	// the duplicate is trusted) and the redundant cache copy is deleted,
	// with no data movement required.
	ActionFixWithBackup Action = "fix-with-backup"
	// ActionRestorePlexcached renames every ".plexcached" sidecar found
	// under the configured search paths back to its original name — the
	// emergency "put everything back" recovery path.
	ActionRestorePlexcached Action = "restore-plexcached"
	// ActionDeletePlexcached permanently deletes every ".plexcached"
	// sidecar found under the configured search paths, committing to the
	// cache copies and giving up the ability to roll back.
	ActionDeletePlexcached Action = "delete-plexcached"
)

// State mirrors operationrunner.State for UI parity between the two
// runners.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Result summarizes the outcome of one maintenance action.
type Result struct {
	Action    Action
	Succeeded int
	Failed    int
	Details   []string
}

// Status is a snapshot of a Runner's current state.
type Status struct {
	State      State
	Action     Action
	StartedAt  time.Time
	FinishedAt time.Time
	Result     *Result
	Error      string
}

// Runner executes maintenance actions against the cache tier one at a
// time, mutually exclusive with an in-progress OperationRunner run.
type Runner struct {
	CacheTracker *cachetracker.Tracker
	ExcludeList  *excludelist.List
	Router       *pathrouter.Router
	Mover        *tiermover.Mover
	ActivityLog  *activitylog.Log

	// CacheDirs lists every cacheable mapping's cache-tier directory, the
	// search scope for orphan detection.
	CacheDirs []string
	// SidecarSearchPaths lists every array-tier root to search for
	// ".plexcached" files, used by ActionRestorePlexcached and
	// ActionDeletePlexcached.
	SidecarSearchPaths []string

	logger *logging.Logger

	mu     sync.Mutex
	state  State
	status Status

	otherBusy func() bool
}

// New constructs a Runner. logger is sub-loggered under "maintenance".
func New(cacheTracker *cachetracker.Tracker, excludeList *excludelist.List, router *pathrouter.Router,
	mover *tiermover.Mover, activityLog *activitylog.Log, cacheDirs, sidecarSearchPaths []string, logger *logging.Logger) *Runner {
	return &Runner{
		CacheTracker:       cacheTracker,
		ExcludeList:        excludeList,
		Router:             router,
		Mover:              mover,
		ActivityLog:        activityLog,
		CacheDirs:          cacheDirs,
		SidecarSearchPaths: sidecarSearchPaths,
		logger:             logger.Sublogger("maintenance"),
		state:              StateIdle,
	}
}

// SetMutualExclusion wires a callback consulted before every Start to
// refuse running alongside an in-progress OperationRunner run.
func (r *Runner) SetMutualExclusion(busy func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.otherBusy = busy
}

// Busy reports whether an action is currently in progress, for an
// OperationRunner's own mutual-exclusion check.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateRunning
}

// Status returns a snapshot of the runner's current state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Dismiss transitions a Completed or Failed runner back to Idle.
func (r *Runner) Dismiss() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateCompleted && r.state != StateFailed {
		return false
	}
	r.state = StateIdle
	r.status = Status{State: StateIdle}
	return true
}

// ErrRunnerBusy is returned by Start when a maintenance action is already
// in progress.
var ErrRunnerBusy = errors.New("maintenance runner: an action is already in progress")

// ErrOperationRunning is returned by Start when an OperationRunner run
// holds the mutual-exclusion lock.
var ErrOperationRunning = errors.New("maintenance runner: a caching run is in progress")

// Start launches action in the background, dryRun previewing without
// making any filesystem change. The returned channel is closed once the
// action finishes.
func (r *Runner) Start(ctx context.Context, action Action, dryRun bool) (<-chan struct{}, error) {
	r.mu.Lock()
	if r.state == StateRunning {
		r.mu.Unlock()
		return nil, ErrRunnerBusy
	}
	if r.otherBusy != nil && r.otherBusy() {
		r.mu.Unlock()
		return nil, ErrOperationRunning
	}
	r.state = StateRunning
	r.status = Status{State: StateRunning, Action: action, StartedAt: time.Now()}
	r.mu.Unlock()

	done := make(chan struct{})
	go r.run(ctx, action, dryRun, done)
	return done, nil
}

func (r *Runner) run(ctx context.Context, action Action, dryRun bool, done chan struct{}) {
	defer close(done)

	result, err := r.execute(ctx, action, dryRun)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.FinishedAt = time.Now()
	r.status.Result = &result
	if err != nil {
		r.state = StateFailed
		r.status.Error = err.Error()
	} else {
		r.state = StateCompleted
	}
	r.status.State = r.state

	detail := fmt.Sprintf("%s: %d succeeded, %d failed", action, result.Succeeded, result.Failed)
	logAction := activitylog.ActionMoved
	if result.Failed > 0 || err != nil {
		logAction = activitylog.ActionError
	}
	r.ActivityLog.Append(logAction, string(action), 0, detail, "maintenance")
}

func (r *Runner) execute(ctx context.Context, action Action, dryRun bool) (Result, error) {
	result := Result{Action: action}

	switch action {
	case ActionBackupProtect:
		r.backupProtect(&result, dryRun)
	case ActionSyncOrphans:
		r.syncOrphans(ctx, &result, dryRun)
	case ActionFixWithBackup:
		r.fixWithBackup(&result, dryRun)
	case ActionRestorePlexcached:
		r.restorePlexcached(&result, dryRun)
	case ActionDeletePlexcached:
		r.deletePlexcached(&result, dryRun)
	default:
		return result, fmt.Errorf("unknown maintenance action: %s", action)
	}
	return result, nil
}

func (r *Runner) trackedPaths() map[string]bool {
	tracked := make(map[string]bool)
	for p := range r.CacheTracker.CachedEntries() {
		tracked[p] = true
	}
	if entries, err := r.ExcludeList.Entries(); err == nil {
		for _, p := range entries {
			tracked[p] = true
		}
	}
	return tracked
}

// backupProtect adds every orphaned cache file to the exclude list so the
// external mover leaves it in place until a normal run reconciles it.
func (r *Runner) backupProtect(result *Result, dryRun bool) {
	report := Audit(r.Router, r.CacheDirs, r.trackedPaths())
	for _, o := range report.Orphans {
		if dryRun {
			result.Details = append(result.Details, fmt.Sprintf("would protect: %s", o.CachePath))
			result.Succeeded++
			continue
		}
		r.ExcludeList.Add(o.CachePath)
		result.Succeeded++
	}
}

// syncOrphans copies every no-backup orphan back to the array, verifying
// the copy by size before removing the cache copy, mirroring the
// original sync_to_array tool's copy-verify-delete order.
func (r *Runner) syncOrphans(ctx context.Context, result *Result, dryRun bool) {
	report := Audit(r.Router, r.CacheDirs, r.trackedPaths())
	for _, o := range report.Orphans {
		if o.Status != OrphanNoBackup || o.ArrayPath == "" {
			continue
		}
		if dryRun {
			result.Details = append(result.Details, fmt.Sprintf("would sync: %s -> %s", o.CachePath, o.ArrayPath))
			result.Succeeded++
			continue
		}

		job := tiermover.Job{RealPath: o.ArrayPath, CachePath: o.CachePath}
		code, err := r.Mover.MoveToArray(ctx, job, nil)
		if err != nil || code != tiermover.ResultSuccess {
			result.Failed++
			result.Details = append(result.Details, fmt.Sprintf("failed to sync %s: %v", o.CachePath, err))
			continue
		}
		result.Succeeded++
		r.ActivityLog.Append(activitylog.ActionRestored, o.ArrayPath, fileSize(o.ArrayPath), "orphan sync", "maintenance")
	}
}

// fixWithBackup resolves every orphan that already has a backup or
// duplicate on the array: restore the backup (or trust the duplicate),
// then delete the now-redundant cache copy.
func (r *Runner) fixWithBackup(result *Result, dryRun bool) {
	report := Audit(r.Router, r.CacheDirs, r.trackedPaths())
	for _, o := range report.Orphans {
		if o.Status == OrphanNoBackup {
			continue
		}
		if dryRun {
			result.Details = append(result.Details, fmt.Sprintf("would fix: %s (%s)", o.CachePath, o.Status))
			result.Succeeded++
			continue
		}

		if o.Status == OrphanHasBackup {
			backupPath := sidecar.BackupPath(o.ArrayPath)
			if err := os.Rename(backupPath, o.ArrayPath); err != nil {
				result.Failed++
				result.Details = append(result.Details, fmt.Sprintf("failed to restore backup for %s: %v", o.CachePath, err))
				continue
			}
		}
		if err := os.Remove(o.CachePath); err != nil {
			result.Failed++
			result.Details = append(result.Details, fmt.Sprintf("failed to remove cache copy %s: %v", o.CachePath, err))
			continue
		}
		result.Succeeded++
	}
}

func (r *Runner) restorePlexcached(result *Result, dryRun bool) {
	restorer := sidecar.NewRestorer(r.SidecarSearchPaths, r.logger)
	restoreResult := restorer.RestoreAll(dryRun)
	result.Succeeded = restoreResult.Succeeded
	result.Failed = restoreResult.Failed
}

// deletePlexcached permanently removes every ".plexcached" sidecar,
// forfeiting the ability to roll a cache move back.
func (r *Runner) deletePlexcached(result *Result, dryRun bool) {
	restorer := sidecar.NewRestorer(r.SidecarSearchPaths, r.logger)
	for _, backupPath := range restorer.FindAll() {
		if dryRun {
			result.Details = append(result.Details, fmt.Sprintf("would delete: %s", backupPath))
			result.Succeeded++
			continue
		}
		if err := os.Remove(backupPath); err != nil {
			result.Failed++
			result.Details = append(result.Details, fmt.Sprintf("failed to delete %s: %v", backupPath, err))
			continue
		}
		result.Succeeded++
	}
}

func fileSize(path string) int64 {
	if info, err := os.Stat(path); err == nil {
		return info.Size()
	}
	return 0
}
