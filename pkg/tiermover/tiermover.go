// Package tiermover performs the actual byte movement between the array
// and cache tiers: chunked, cancellable copies with progress reporting, a
// bounded-concurrency worker pool, hard-link-aware caching of seeded
// downloads, and the ".plexcached, don't delete" safety convention that
// lets every move to cache be undone as long as the sidecar backup exists.
package tiermover

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/plexcache-r/plexcache/pkg/cachetracker"
	"github.com/plexcache-r/plexcache/pkg/excludelist"
	"github.com/plexcache-r/plexcache/pkg/logging"
	"github.com/plexcache-r/plexcache/pkg/mediaidentity"
	"github.com/plexcache-r/plexcache/pkg/platform"
	"github.com/plexcache-r/plexcache/pkg/sidecar"
)

// chunkSize is the buffer size used for chunked copies; it bounds how much
// work is done between cancellation checks and progress callback calls.
const chunkSize = 8 * 1024 * 1024

// minimumSpaceBuffer is held back on the destination filesystem beyond the
// source file's size, as headroom for filesystem metadata overhead.
const minimumSpaceBuffer = 64 * 1024 * 1024

// Result codes returned by Mover.MoveToCache and Mover.MoveToArray,
// mirroring the outcomes a caller needs to distinguish when summarizing a
// batch: success, hard failure, partial success (copy completed but a
// subsequent bookkeeping step failed), skipped for insufficient space, and
// cancelled mid-transfer.
type Result int

const (
	ResultSuccess Result = iota
	ResultError
	ResultPartial
	ResultSkippedSpace
	ResultSkippedHardlink
	ResultCancelled
)

// ProgressFunc reports cumulative bytes copied out of total for a single
// file's transfer.
type ProgressFunc func(copied, total int64)

// Job describes one file to move, already resolved to its real (array) and
// cache paths.
type Job struct {
	RealPath  string
	CachePath string
	Source    string // "ondeck", "watchlist", or "pre-existing"
	MediaType string
	Episode   *cachetracker.EpisodeInfo
	// UseSymlink, if true, leaves a symlink at RealPath pointing at
	// CachePath after a successful cache move, for media servers that
	// require every library path to resolve on the array filesystem.
	UseSymlink bool
}

// JobResult pairs a Job with the outcome of moving it.
type JobResult struct {
	Job   Job
	Code  Result
	Err   error
}

// Mover executes Jobs against the array/cache filesystems.
type Mover struct {
	CacheTracker *cachetracker.Tracker
	ExcludeList  *excludelist.List
	logger       *logging.Logger

	// CreateBackups controls whether a cache-bound move renames the array
	// original aside to a ".plexcached" sidecar (true, the default, safe
	// and reversible) or deletes it outright once the copy is verified
	// (false — required for hard-linked files, since renaming one half of
	// a hard-linked pair away can confuse the filesystem's link-count
	// bookkeeping on some platforms).
	CreateBackups bool
	// HardlinkPolicy is "skip" (default, leave hard-linked files on the
	// array untouched) or "move" (cache them, deleting rather than
	// renaming the array link so sibling hard links — e.g. a torrent
	// client's seed copy — are preserved).
	HardlinkPolicy string
	// CleanupEmptyFolders removes array-side or cache-side parent
	// directories left empty by a move, stopping at the tier root.
	CleanupEmptyFolders bool
	// StopCheck is polled between chunks during a copy; when it returns
	// true the in-flight copy is cancelled and partial output cleaned up.
	StopCheck func() bool
	// Platform supplies Unraid-aware disk-space and inode-search behavior
	// for array-side restores. Left nil, array restores fall back to a
	// generic statfs check and an inode search under the file's own
	// directory, which is
	// correct on any non-union filesystem.
	Platform *platform.Adapter
}

// New constructs a Mover.
func New(cache *cachetracker.Tracker, excludeList *excludelist.List, logger *logging.Logger) *Mover {
	return &Mover{
		CacheTracker:        cache,
		ExcludeList:         excludeList,
		logger:              logger.Sublogger("tiermover"),
		CreateBackups:       true,
		HardlinkPolicy:      "skip",
		CleanupEmptyFolders: true,
		Platform:            platform.New(),
	}
}

// MoveToCache copies job.RealPath to job.CachePath and replaces the array
// original with either a ".plexcached" backup or nothing at all, depending
// on CreateBackups and whether the file is hard-linked. Every intermediate
// failure leaves the array original intact: the copy is verified before
// the array side is touched at all.
func (m *Mover) MoveToCache(ctx context.Context, job Job, progress ProgressFunc) (Result, error) {
	info, err := os.Stat(job.RealPath)
	if err != nil {
		return ResultError, fmt.Errorf("stat array file: %w", err)
	}

	isHardlinked := hardLinkCount(info) > 1
	var originalInode *uint64
	if isHardlinked {
		if m.HardlinkPolicy == "skip" {
			m.logger.Warnf("skipping hard-linked file (%d links): %s", hardLinkCount(info), job.RealPath)
			return ResultSkippedHardlink, nil
		}
		ino := inodeOf(info)
		originalInode = &ino
		m.logger.Printf("caching hard-linked file (%d links, seed copy preserved): %s", hardLinkCount(info), job.RealPath)
	}

	cacheDir := filepath.Dir(job.CachePath)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return ResultError, fmt.Errorf("create cache directory: %w", err)
	}

	if err := m.cleanupUpgradeBackup(job.CachePath); err != nil {
		m.logger.Warnf("unable to clean up superseded backup for %s: %v", job.CachePath, err)
	}

	if ok, reason := m.hasSpaceFor(job.CachePath, info.Size()); !ok {
		m.logger.Warnf("skipping cache move for %s: %s", job.RealPath, reason)
		return ResultSkippedSpace, nil
	}

	if err := copyFile(ctx, job.RealPath, job.CachePath, m.StopCheck, progress); err != nil {
		os.Remove(job.CachePath)
		if err == errCancelled {
			return ResultCancelled, nil
		}
		return ResultError, fmt.Errorf("copy to cache: %w", err)
	}

	if _, err := os.Stat(job.CachePath); err != nil {
		return ResultError, fmt.Errorf("copy verification failed: %w", err)
	}

	if m.CreateBackups && !isHardlinked {
		if _, err := sidecar.CreateBackup(job.RealPath); err != nil {
			os.Remove(job.CachePath)
			return ResultError, fmt.Errorf("backing up array original: %w", err)
		}
	} else {
		if err := os.Remove(job.RealPath); err != nil {
			os.Remove(job.CachePath)
			return ResultError, fmt.Errorf("removing array original: %w", err)
		}
	}

	if job.UseSymlink {
		if err := createSymlink(job.RealPath, job.CachePath); err != nil {
			m.logger.Warnf("unable to create symlink at %s: %v", job.RealPath, err)
		}
	}

	m.ExcludeList.Add(job.CachePath)
	m.ExcludeList.CleanupStale(job.CachePath, func(p string) bool {
		_, err := os.Lstat(p)
		return err == nil
	})
	m.CacheTracker.RecordCacheTime(job.CachePath, job.Source, originalInode, job.MediaType, job.Episode)

	m.logger.Printf("cached: %s", filepath.Base(job.CachePath))
	return ResultSuccess, nil
}

// cleanupUpgradeBackup removes a stale ".plexcached" backup left by a
// previous version of the same media under a different filename — the
// residue of a Radarr/Sonarr quality upgrade — so the new cache entry
// doesn't accumulate an orphaned backup alongside it.
func (m *Mover) cleanupUpgradeBackup(cachePath string) error {
	backup := sidecar.BackupPath(cachePath)
	if _, err := os.Stat(backup); err == nil {
		return nil // this exact backup already exists; nothing stale to clean
	}

	dir := filepath.Dir(cachePath)
	identity := mediaidentity.Identity(cachePath)
	isSubtitle := mediaidentity.IsSubtitle(cachePath)
	old, found := mediaidentity.FindMatchingSidecar(dir, identity, isSubtitle)
	if !found || old == backup {
		return nil
	}

	oldName := filepath.Base(old)
	m.logger.Printf("upgrade detected during cache: %s -> %s", oldName, filepath.Base(cachePath))
	if err := os.Remove(old); err != nil {
		return err
	}
	return nil
}

// MoveToArray restores job.CachePath back to the array, either by renaming
// a matching ".plexcached" backup into place (the common, fast path) or by
// copying the cache file directly when no backup exists (upgrade or
// backups-disabled scenarios). The cache copy is only deleted once the
// array file is confirmed present.
func (m *Mover) MoveToArray(ctx context.Context, job Job, progress ProgressFunc) (Result, error) {
	if job.UseSymlink {
		if info, err := os.Lstat(job.RealPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
			if err := os.Remove(job.RealPath); err != nil {
				return ResultError, fmt.Errorf("removing symlink before restore: %w", err)
			}
		}
	}

	if ok, err := m.restoreHardLink(job); ok {
		return ResultSuccess, err
	}

	backup := sidecar.BackupPath(job.RealPath)
	if _, err := os.Stat(backup); err == nil {
		if err := m.restoreExactBackup(ctx, job, backup, progress); err != nil {
			switch err {
			case errCancelled:
				return ResultCancelled, nil
			case errSkippedSpace:
				return ResultSkippedSpace, nil
			default:
				return ResultError, err
			}
		}
	} else if err := m.restoreViaUpgradeOrCopy(ctx, job, progress); err != nil {
		switch err {
		case errCancelled:
			return ResultCancelled, nil
		case errSkippedSpace:
			return ResultSkippedSpace, nil
		default:
			return ResultError, err
		}
	}

	if _, err := os.Stat(job.RealPath); err != nil {
		return ResultError, fmt.Errorf("array file missing after restore: %w", err)
	}

	if err := os.Remove(job.CachePath); err != nil && !os.IsNotExist(err) {
		return ResultPartial, fmt.Errorf("array restored but cache file could not be removed: %w", err)
	}
	if m.CleanupEmptyFolders {
		removeEmptyParents(filepath.Dir(job.CachePath))
	}

	m.CacheTracker.RemoveEntry(job.CachePath)
	m.ExcludeList.Remove(job.CachePath)

	m.logger.Printf("restored: %s", filepath.Base(job.RealPath))
	return ResultSuccess, nil
}

// restoreHardLink attempts to recreate the array copy by hard-linking to a
// sibling copy with the same inode recorded at cache time (e.g. a seed
// copy preserved by a torrent client), avoiding a full copy. The first
// return value reports whether this path was taken at all.
func (m *Mover) restoreHardLink(job Job) (bool, error) {
	inode, ok := m.CacheTracker.OriginalInode(job.CachePath)
	if !ok {
		return false, nil
	}
	if _, err := os.Stat(job.RealPath); err == nil {
		return false, nil
	}

	sibling, found := findFileByInode(filepath.Dir(job.RealPath), inode)
	if !found && m.Platform != nil && m.Platform.IsUnraid {
		sibling, found = m.Platform.FindFileByInode(inode, job.RealPath)
	}
	if !found {
		return false, nil
	}

	if err := os.Link(sibling, job.RealPath); err != nil {
		m.logger.Warnf("could not hard-link %s from %s, falling back to copy: %v", job.RealPath, sibling, err)
		return false, nil
	}

	if err := os.Remove(job.CachePath); err != nil && !os.IsNotExist(err) {
		return true, fmt.Errorf("hard-link restored but cache file could not be removed: %w", err)
	}
	m.CacheTracker.RemoveEntry(job.CachePath)
	m.ExcludeList.Remove(job.CachePath)
	m.logger.Printf("restored hard link from seed copy: %s", filepath.Base(job.RealPath))
	return true, nil
}

func (m *Mover) restoreExactBackup(ctx context.Context, job Job, backup string, progress ProgressFunc) error {
	cacheInfo, cacheErr := os.Stat(job.CachePath)
	backupInfo, err := os.Stat(backup)
	if err != nil {
		return fmt.Errorf("stat backup: %w", err)
	}

	if cacheErr == nil && cacheInfo.Size() != backupInfo.Size() {
		m.logger.Printf("in-place upgrade detected (%d -> %d bytes): %s", backupInfo.Size(), cacheInfo.Size(), filepath.Base(job.RealPath))
		if err := os.Remove(backup); err != nil {
			return fmt.Errorf("removing stale backup: %w", err)
		}
		return m.copyToArray(ctx, job, progress)
	}

	if err := os.Rename(backup, job.RealPath); err != nil {
		return fmt.Errorf("restoring backup: %w", err)
	}
	return nil
}

func (m *Mover) restoreViaUpgradeOrCopy(ctx context.Context, job Job, progress ProgressFunc) error {
	dir := filepath.Dir(job.RealPath)
	identity := mediaidentity.Identity(job.CachePath)
	isSubtitle := mediaidentity.IsSubtitle(job.CachePath)

	if old, found := mediaidentity.FindMatchingSidecar(dir, identity, isSubtitle); found {
		oldName := filepath.Base(old)
		m.logger.Printf("upgrade detected: %s -> %s", oldName, filepath.Base(job.RealPath))
		if err := os.Remove(old); err != nil {
			return fmt.Errorf("removing superseded backup: %w", err)
		}
	}

	return m.copyToArray(ctx, job, progress)
}

// errSkippedSpace signals copyToArray declined to copy due to
// insufficient free space on the destination filesystem, as distinct from
// a hard I/O failure.
var errSkippedSpace = errors.New("insufficient disk space")

// copyToArray copies job.CachePath to job.RealPath, preflighting the
// destination disk's free space with the Unraid-aware check when
// Platform reports a union-filesystem array, and falling back to a plain
// statfs check otherwise.
func (m *Mover) copyToArray(ctx context.Context, job Job, progress ProgressFunc) error {
	src, dst := job.CachePath, job.RealPath
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create array directory: %w", err)
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat cache file: %w", err)
	}

	if ok, reason := m.hasSpaceForArrayRestore(job, srcInfo.Size()); !ok {
		m.logger.Warnf("skipping array restore for %s: %s", dst, reason)
		return errSkippedSpace
	}
	if err := copyFile(ctx, src, dst, m.StopCheck, progress); err != nil {
		os.Remove(dst)
		return err
	}
	dstInfo, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("copy verification failed: %w", err)
	}
	if dstInfo.Size() != srcInfo.Size() {
		os.Remove(dst)
		return fmt.Errorf("size mismatch after copy: cache %d bytes, array %d bytes", srcInfo.Size(), dstInfo.Size())
	}
	return nil
}

// hasSpaceForArrayRestore resolves the array disk actually receiving
// job.RealPath (on a union filesystem, that's not necessarily the
// filesystem job.RealPath's own path resolves to) and checks it has
// room, falling back to a generic statfs check when Platform isn't
// tracking a union array.
func (m *Mover) hasSpaceForArrayRestore(job Job, size int64) (bool, string) {
	if m.Platform != nil && m.Platform.IsUnraid {
		check, err := m.Platform.CheckArraySpace(job.CachePath, sidecar.BackupPath(job.RealPath), job.RealPath)
		if err == nil {
			return check.Sufficient, check.Reason
		}
		m.logger.Warnf("array space check failed, falling back to generic check: %v", err)
	}
	return m.hasSpaceFor(job.RealPath, size)
}

// hasSpaceFor reports whether the filesystem containing dst has at least
// size bytes plus a fixed safety buffer free. A free-space query failure
// (no statfs support, or similar) is treated as "sufficient" rather than
// blocking the move, matching the original's behavior on platforms with no
// disk-abstraction layer to check in the first place.
func (m *Mover) hasSpaceFor(dst string, size int64) (bool, string) {
	free, err := freeSpace(dst)
	if err != nil {
		return true, ""
	}
	required := size + minimumSpaceBuffer
	if free < required {
		return false, fmt.Sprintf("need %d bytes, have %d bytes free", required, free)
	}
	return true, ""
}

// Pool executes Jobs against a Mover with bounded concurrency, using a
// semaphore to throttle submission so a stop request takes effect quickly
// instead of waiting for an entire batch to drain.
type Pool struct {
	mover       *Mover
	sem         *semaphore.Weighted
	destination string // "cache" or "array"
}

// NewPool constructs a Pool bounded to maxConcurrent simultaneous transfers.
func NewPool(mover *Mover, destination string, maxConcurrent int64) *Pool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Pool{mover: mover, sem: semaphore.NewWeighted(maxConcurrent), destination: destination}
}

// Run executes every job, respecting the pool's concurrency bound, and
// returns one JobResult per job (in completion order, not submission
// order). ctx cancellation stops submitting new jobs and causes in-flight
// jobs to be cancelled at their next chunk boundary.
func (p *Pool) Run(ctx context.Context, jobs []Job, progress func(job Job, copied, total int64)) []JobResult {
	results := make(chan JobResult, len(jobs))
	var wg sync.WaitGroup

	for _, job := range jobs {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			results <- JobResult{Job: job, Code: ResultCancelled}
			continue
		}
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			defer p.sem.Release(1)

			var perFileProgress ProgressFunc
			if progress != nil {
				perFileProgress = func(copied, total int64) { progress(j, copied, total) }
			}

			var code Result
			var err error
			if p.destination == "cache" {
				code, err = p.mover.MoveToCache(ctx, j, perFileProgress)
			} else {
				code, err = p.mover.MoveToArray(ctx, j, perFileProgress)
			}
			results <- JobResult{Job: j, Code: code, Err: err}
		}(job)
	}

	wg.Wait()
	close(results)

	collected := make([]JobResult, 0, len(jobs))
	for r := range results {
		collected = append(collected, r)
	}
	return collected
}
