package controlloop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/plexcache-r/plexcache/pkg/activitylog"
	"github.com/plexcache-r/plexcache/pkg/cachetracker"
	"github.com/plexcache-r/plexcache/pkg/ctlerr"
	"github.com/plexcache-r/plexcache/pkg/filefilter"
	"github.com/plexcache-r/plexcache/pkg/mediaserver"
	"github.com/plexcache-r/plexcache/pkg/ondecktracker"
	"github.com/plexcache-r/plexcache/pkg/tiermover"
)

// Summary reports the outcome of a single Run call, for logging and for
// surfacing to a status API.
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time

	FilesCached   int
	BytesCached   int64
	FilesRestored int
	BytesRestored int64
	FilesEvicted  int
	BytesEvicted  int64

	CandidatesDroppedByLimit int
	Warnings                 []string
	Errors                   []string

	// Skipped, if non-empty, explains why the run did nothing at all
	// (another instance holds the lock, or the external mover is active).
	Skipped string
}

func (s *Summary) warn(format string, args ...interface{}) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

func (s *Summary) fail(format string, args ...interface{}) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// Run executes one full pass: lock acquisition, mover-conflict detection,
// media-server discovery, classification, tier moves, eviction, and
// bookkeeping cleanup. A non-nil error is only returned for conditions
// that prevented the run from starting at all; per-file failures during
// the run are instead accumulated into the returned Summary.
func (c *ControlLoop) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{StartedAt: time.Now()}
	defer func() { summary.FinishedAt = time.Now() }()

	// 1. Acquire single-instance lock.
	c.setPhase(PhaseAcquiringLock)
	if err := c.lock.Lock(false); err != nil {
		summary.Skipped = "another instance is already running"
		return summary, nil
	}
	defer c.lock.Unlock()

	// 2. Mover-conflict probe.
	c.setPhase(PhaseCheckingMover)
	if c.Platform.IsMoverRunning() {
		summary.Skipped = "external bulk mover is running"
		return summary, nil
	}

	// 3. Config/components are already loaded and legacy filenames already
	// migrated in New; just make sure the data directory still exists.
	c.setPhase(PhaseLoadingConfig)
	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensuring data directory: %w", err)
	}
	c.refreshCacheLimits()

	// 4. Clean stale exclude entries.
	c.setPhase(PhaseCleaningExcludes)
	c.cleanStaleExcludes()

	// 5. One-time backup migration.
	c.setPhase(PhaseMigratingBackups)
	if mig := c.runOneTimeMigration(ctx); mig.BackupsCreated > 0 || mig.Errors > 0 {
		c.logger.Printf("migration: created %d backups (%d errors)", mig.BackupsCreated, mig.Errors)
		if mig.Errors > 0 {
			summary.warn("migration: %d backups could not be created", mig.Errors)
		}
	}

	// 6. Connect to media server; degrade gracefully if unreachable.
	c.setPhase(PhaseConnecting)
	sections, err := c.MediaServer.GetLibrarySections(ctx)
	watchlistDataComplete := true
	if err != nil {
		summary.warn("unable to reach media server: %v", err)
		watchlistDataComplete = false
	}
	validSections := c.resolveValidSections(sections)

	// 7. Skip active sessions.
	c.setPhase(PhaseScanningSessions)
	activeSessions := make(map[string]bool)
	if sessionPaths, err := c.MediaServer.GetActiveSessions(ctx); err == nil {
		for _, p := range sessionPaths {
			realPath, _ := c.Router.ConvertPlexToReal(p)
			activeSessions[realPath] = true
		}
	} else {
		summary.warn("unable to fetch active sessions: %v", err)
	}
	c.Filter.ActiveSessions = activeSessions
	if c.Config.ExitIfActiveSession && len(activeSessions) > 0 {
		summary.Skipped = fmt.Sprintf("%d active session(s) in progress", len(activeSessions))
		return summary, nil
	}

	// 8. Fetch OnDeck.
	c.setPhase(PhaseFetchingOnDeck)
	var candidates []filefilter.CacheCandidate
	c.OnDeckTracker.PrepareForRun()
	if onDeckItems, err := c.MediaServer.GetOnDeck(ctx, validSections, c.Config.Plex.DaysToMonitor, c.Config.Plex.NumberEpisodes); err == nil {
		candidates = append(candidates, c.absorbOnDeckItems(onDeckItems)...)
	} else {
		summary.warn("unable to fetch OnDeck: %v", err)
	}
	c.OnDeckTracker.CleanupUnseen()

	// 9. Fetch watchlists.
	c.setPhase(PhaseFetchingWatchlist)
	if c.Config.Plex.RemoteWatchlistToggle && c.Config.Plex.WatchlistRSSURL != "" {
		candidates = append(candidates, c.absorbWatchlist(ctx, sections)...)
	} else if c.Config.Plex.WatchlistToggle {
		c.logger.Debugf("local-account watchlist fetching is not available; configure remoteWatchlistToggle and watchlistRSSURL instead")
	}
	if !watchlistDataComplete {
		summary.warn("watchlist data incomplete: media server was unreachable this run")
	}

	// 10. Fetch subtitle sidecars.
	c.setPhase(PhaseFetchingSubtitles)
	c.discoverSubtitles()

	// 11. Determine files to move back to array.
	c.setPhase(PhasePlanningMoveBack)
	var moveBackPlan filefilter.MoveBackPlan
	if c.Config.Retention.WatchedMove {
		needed := filefilter.BuildNeededMediaSets(c.OnDeckTracker, c.WatchlistTracker, c.CacheTracker)
		moveBackPlan = c.Filter.PlanMoveBackToArray(needed)

		for _, entry := range moveBackPlan.StaleExcludeEntries {
			c.ExcludeList.Remove(entry)
		}
		if holds := filefilter.GroupRetentionHolds(moveBackPlan.RetentionHolds); len(holds) > 0 {
			for _, line := range filefilter.FormatRetentionSummary(holds, 10) {
				c.logger.Printf("%s", line)
			}
		}
	}

	// 12. Apply cache-size limit.
	c.setPhase(PhaseApplyingCacheLimit)
	toCache, _ := c.Filter.FilterToCache(candidates)
	sortCandidatesByPriority(toCache)
	accepted, dropped := c.applyCacheSizeLimit(toCache)
	summary.CandidatesDroppedByLimit = dropped
	if dropped > 0 {
		c.logger.Printf("cache-size limit: deferred %d candidate(s) to a later run", dropped)
	}

	// 13. Move to array: execute the restores planned in step 11, freeing
	// space on the cache tier ahead of the new cache moves in step 15.
	c.setPhase(PhaseMovingToArray)
	restored, bytesRestored := c.moveBackToArray(ctx, moveBackPlan, summary)
	summary.FilesRestored += restored
	summary.BytesRestored += bytesRestored

	// 14. Run eviction if enabled, to make room for the incoming batch.
	c.setPhase(PhaseEvicting)
	var incomingBytes int64
	for _, cand := range accepted {
		incomingBytes += fileSize(cand.RealPath)
	}
	cachedPaths := make([]string, 0, len(c.CacheTracker.CachedEntries()))
	for p := range c.CacheTracker.CachedEntries() {
		cachedPaths = append(cachedPaths, p)
	}
	var trackedBytes int64
	for _, p := range cachedPaths {
		trackedBytes += fileSize(p)
	}
	if evictionCandidates := c.Eviction.Plan(trackedBytes, cachedPaths, incomingBytes); len(evictionCandidates) > 0 {
		result := c.Eviction.Evict(ctx, evictionCandidates)
		summary.FilesEvicted += result.FilesEvicted
		summary.BytesEvicted += result.BytesFreed
		for _, err := range result.Errors {
			summary.fail("eviction: %v", err)
		}
	}

	// 15. Move to cache.
	c.setPhase(PhaseMovingToCache)
	cached, bytesCached := c.moveToCache(ctx, accepted, summary)
	summary.FilesCached += cached
	summary.BytesCached += bytesCached

	// 16. Rewrite the external mover's exclude file.
	c.setPhase(PhaseSyncingExcludes)
	if err := c.ExcludeList.SyncMoverExclusionsFile(c.Config.Paths.MoverExclusionsFile); err != nil {
		summary.warn("unable to sync mover exclusions file: %v", err)
	}

	// 17. Cleanup.
	c.setPhase(PhaseCleaningUp)
	c.CacheTracker.CleanupMissing(func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	})
	c.OnDeckTracker.CleanupStaleEntries(7 * 24 * time.Hour)
	c.WatchlistTracker.CleanupStale(time.Duration(c.Config.Retention.WatchlistRetentionDays*2+7) * 24 * time.Hour)

	c.recordSummary(summary)
	c.setPhase(PhaseIdle)
	return summary, nil
}

// resolveValidSections returns the section keys to restrict OnDeck
// discovery to: the configured list if non-empty, or every section
// reported by the server otherwise.
func (c *ControlLoop) resolveValidSections(sections []mediaserver.Section) []int {
	if len(c.Config.Plex.ValidSections) > 0 {
		return c.Config.Plex.ValidSections
	}
	keys := make([]int, 0, len(sections))
	for _, s := range sections {
		keys = append(keys, s.Key)
	}
	return keys
}

// absorbOnDeckItems converts media-server OnDeck entries into cache
// candidates, recording each in the OnDeck tracker along the way. Results
// are deliberately labeled with a single synthetic username since this
// client does not distinguish between multiple Plex accounts sharing one
// server token.
func (c *ControlLoop) absorbOnDeckItems(items []mediaserver.OnDeckItem) []filefilter.CacheCandidate {
	var candidates []filefilter.CacheCandidate
	for _, item := range items {
		realPath, _ := c.Router.ConvertPlexToReal(item.FilePath)
		username := item.Username
		if username == "" {
			username = "default"
		}

		var onDeckPos *ondecktracker.EpisodePosition
		var cacheEpisode *cachetracker.EpisodeInfo
		mediaType := "movie"
		if item.Episode != nil {
			onDeckPos = &ondecktracker.EpisodePosition{Show: item.Episode.Show, Season: item.Episode.Season, Episode: item.Episode.Episode}
			cacheEpisode = &cachetracker.EpisodeInfo{Show: item.Episode.Show, Season: item.Episode.Season, Episode: item.Episode.Episode}
			mediaType = "episode"
		}

		c.OnDeckTracker.UpdateEntry(realPath, username, onDeckPos, item.IsCurrent)
		candidates = append(candidates, filefilter.CacheCandidate{
			RealPath:  realPath,
			Source:    filefilter.SourceOnDeck,
			MediaType: mediaType,
			Episode:   cacheEpisode,
		})
	}
	return candidates
}

// absorbWatchlist fetches the configured RSS watchlist feed, resolves
// each title against the library index, and records every resolved item
// in the watchlist tracker.
func (c *ControlLoop) absorbWatchlist(ctx context.Context, sections []mediaserver.Section) []filefilter.CacheCandidate {
	cachePath := filepath.Join(c.dataDir, "rss_cache.json")
	items, err := c.MediaServer.GetWatchlistRSS(ctx, c.Config.Plex.WatchlistRSSURL, "remote", cachePath)
	if err != nil {
		c.logger.Warnf("unable to fetch watchlist: %v", err)
		return nil
	}

	idx := c.buildLibraryIndex(ctx, sections)
	var candidates []filefilter.CacheCandidate
	for _, item := range items {
		resolved := c.resolveWatchlistItem(ctx, idx, item)
		if len(resolved) == 0 {
			continue
		}
		for _, cand := range resolved {
			c.WatchlistTracker.UpdateEntry(cand.RealPath, item.Username, item.WatchlistedAt)
		}
		candidates = append(candidates, resolved...)
	}
	return candidates
}

// sortCandidatesByPriority orders OnDeck candidates ahead of watchlist
// candidates in place, so the cache-size-limit pass accepts OnDeck content
// first when space is tight.
func sortCandidatesByPriority(candidates []filefilter.CacheCandidate) {
	rank := func(c filefilter.CacheCandidate) int {
		if c.Source == filefilter.SourceOnDeck {
			return 0
		}
		return 1
	}
	sort.SliceStable(candidates, func(i, j int) bool { return rank(candidates[i]) < rank(candidates[j]) })
}

// moveBackToArray executes plan.ToArray via a bounded-concurrency pool and
// clears the matching pending exclude entries for every successful
// restore.
func (c *ControlLoop) moveBackToArray(ctx context.Context, plan filefilter.MoveBackPlan, summary *Summary) (restored int, bytesRestored int64) {
	if len(plan.ToArray) == 0 {
		return 0, 0
	}

	jobs := make([]tiermover.Job, 0, len(plan.ToArray))
	for _, cachePath := range plan.ToArray {
		realPath, _ := c.Router.ConvertCacheToReal(cachePath)
		if realPath == "" {
			continue
		}
		mediaType, episode, _ := c.CacheTracker.MediaInfo(cachePath)
		jobs = append(jobs, tiermover.Job{
			RealPath:   realPath,
			CachePath:  cachePath,
			MediaType:  mediaType,
			Episode:    episode,
			UseSymlink: c.Config.UseSymlinks,
		})
	}

	if c.OnBatchStart != nil {
		c.OnBatchStart("array", len(jobs))
	}

	concurrency := int64(c.Config.Concurrency.MaxConcurrentMovesArray)
	pool := tiermover.NewPool(c.Mover, "array", concurrency)
	results := pool.Run(ctx, jobs, c.transferProgress("array"))

	for _, r := range results {
		success := r.Code == tiermover.ResultSuccess
		if !success {
			c.recordMoveFailure(summary, "move to array", r.Job.CachePath, r.Err)
		} else {
			size := fileSize(r.Job.RealPath)
			restored++
			bytesRestored += size
			c.ActivityLog.Append(activitylog.ActionRestored, r.Job.RealPath, size, "", "operation")
		}
		if c.OnJobDone != nil {
			c.OnJobDone("array", r.Job, success)
		}
	}
	return restored, bytesRestored
}

// recordMoveFailure classifies a failed tier-move error and records it on
// summary: kinds an operator can't fix by waiting (permission, no space,
// invariant) go to Errors; everything else (transient network blips, a
// source file vanishing mid-pass) goes to Warnings since a later run is
// expected to clear them on its own.
func (c *ControlLoop) recordMoveFailure(summary *Summary, op, path string, err error) {
	if err == nil {
		return
	}
	kind := ctlerr.Classify(err)
	c.logger.Warnf("%s failed for %s (%s): %v", op, path, kind, err)
	if kind.Retryable() {
		summary.warn("%s: %s: %v", op, path, err)
	} else {
		summary.fail("%s: %s: %v", op, path, err)
	}
}

// moveToCache executes accepted candidates via a bounded-concurrency pool.
func (c *ControlLoop) moveToCache(ctx context.Context, accepted []filefilter.CacheCandidate, summary *Summary) (cached int, bytesCached int64) {
	if len(accepted) == 0 {
		return 0, 0
	}

	jobs := make([]tiermover.Job, 0, len(accepted))
	for _, cand := range accepted {
		cachePath, ok := c.Filter.CachePathFor(cand.RealPath)
		if !ok {
			continue
		}
		jobs = append(jobs, tiermover.Job{
			RealPath:   cand.RealPath,
			CachePath:  cachePath,
			Source:     string(cand.Source),
			MediaType:  cand.MediaType,
			Episode:    cand.Episode,
			UseSymlink: c.Config.UseSymlinks,
		})
	}

	if c.OnBatchStart != nil {
		c.OnBatchStart("cache", len(jobs))
	}

	concurrency := int64(c.Config.Concurrency.MaxConcurrentMovesCache)
	pool := tiermover.NewPool(c.Mover, "cache", concurrency)
	results := pool.Run(ctx, jobs, c.transferProgress("cache"))

	for _, r := range results {
		success := r.Code == tiermover.ResultSuccess
		if !success {
			c.recordMoveFailure(summary, "move to cache", r.Job.RealPath, r.Err)
		} else {
			size := fileSize(r.Job.CachePath)
			cached++
			bytesCached += size
			c.ActivityLog.Append(activitylog.ActionCached, r.Job.CachePath, size, "", "operation")
		}
		if c.OnJobDone != nil {
			c.OnJobDone("cache", r.Job, success)
		}
	}
	return cached, bytesCached
}

// transferProgress adapts a tiermover.Pool progress callback to the
// control loop's own OnTransferProgress hook, returning nil (no callback
// at all) when nothing is listening, so the pool can skip the bookkeeping
// that callback triggers internally.
func (c *ControlLoop) transferProgress(direction string) func(job tiermover.Job, copied, total int64) {
	if c.OnTransferProgress == nil {
		return nil
	}
	return func(job tiermover.Job, copied, total int64) {
		c.OnTransferProgress(direction, job, copied, total)
	}
}

func (c *ControlLoop) recordSummary(summary *Summary) {
	detail := fmt.Sprintf("cached=%d restored=%d evicted=%d", summary.FilesCached, summary.FilesRestored, summary.FilesEvicted)
	action := activitylog.ActionMoved
	if len(summary.Errors) > 0 {
		action = activitylog.ActionError
		detail = fmt.Sprintf("%s errors=%d", detail, len(summary.Errors))
	}
	c.ActivityLog.Append(action, "run-summary", 0, detail, "operation")
}

// cleanStaleExcludes removes exclude-file entries that correspond to
// neither a tracked cache entry nor an existing file on disk — residue
// left behind whenever the cache tier is swept by some process other than
// plexcache itself.
func (c *ControlLoop) cleanStaleExcludes() {
	entries, err := c.ExcludeList.Entries()
	if err != nil {
		c.logger.Warnf("unable to read exclude list: %v", err)
		return
	}

	tracked := c.CacheTracker.CachedEntries()
	removed := 0
	for _, entry := range entries {
		if _, ok := tracked[entry]; ok {
			continue
		}
		if _, err := os.Lstat(entry); err != nil {
			c.ExcludeList.Remove(entry)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Printf("cleaned up %d stale exclude entries", removed)
	}
}
