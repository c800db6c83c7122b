// Package controlloop wires every plexcache component together into the
// single run a scheduled invocation (or the on-demand API trigger)
// actually executes: lock acquisition, mover-conflict detection, discovery
// against the media server, cache/array classification, tier moves,
// eviction, and bookkeeping cleanup, in that order.
package controlloop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/plexcache-r/plexcache/pkg/activitylog"
	"github.com/plexcache-r/plexcache/pkg/cachetracker"
	"github.com/plexcache-r/plexcache/pkg/config"
	"github.com/plexcache-r/plexcache/pkg/eviction"
	"github.com/plexcache-r/plexcache/pkg/excludelist"
	"github.com/plexcache-r/plexcache/pkg/filefilter"
	"github.com/plexcache-r/plexcache/pkg/filesystem/locking"
	"github.com/plexcache-r/plexcache/pkg/logging"
	"github.com/plexcache-r/plexcache/pkg/mediaserver"
	"github.com/plexcache-r/plexcache/pkg/ondecktracker"
	"github.com/plexcache-r/plexcache/pkg/pathrouter"
	"github.com/plexcache-r/plexcache/pkg/platform"
	"github.com/plexcache-r/plexcache/pkg/priority"
	"github.com/plexcache-r/plexcache/pkg/tiermover"
	"github.com/plexcache-r/plexcache/pkg/watchlisttracker"
)

// Phase names one of the numbered stages a run passes through, published
// via OnPhase so a status API or CLI progress line can report where a run
// currently stands.
type Phase string

const (
	PhaseAcquiringLock      Phase = "acquiring-lock"
	PhaseCheckingMover      Phase = "checking-mover"
	PhaseLoadingConfig      Phase = "loading-config"
	PhaseCleaningExcludes   Phase = "cleaning-excludes"
	PhaseMigratingBackups   Phase = "migrating-backups"
	PhaseConnecting         Phase = "connecting"
	PhaseScanningSessions   Phase = "scanning-sessions"
	PhaseFetchingOnDeck     Phase = "fetching-ondeck"
	PhaseFetchingWatchlist  Phase = "fetching-watchlist"
	PhaseFetchingSubtitles  Phase = "fetching-subtitles"
	PhasePlanningMoveBack   Phase = "planning-move-back"
	PhaseApplyingCacheLimit Phase = "applying-cache-limit"
	PhaseMovingToArray      Phase = "moving-to-array"
	PhaseEvicting           Phase = "evicting"
	PhaseMovingToCache      Phase = "moving-to-cache"
	PhaseSyncingExcludes    Phase = "syncing-excludes"
	PhaseCleaningUp         Phase = "cleaning-up"
	PhaseIdle               Phase = "idle"
)

// legacyRenames maps a tracking-file name used before the data-directory
// convention existed to its current name within that directory. Renames
// are attempted in order and are a no-op once the current name exists.
var legacyRenames = []struct{ legacy, current string }{
	{"plexcache_timestamps.json", "timestamps.json"},
	{"plexcache_ondeck_tracker.json", "ondeck_tracker.json"},
	{"plexcache_watchlist_tracker.json", "watchlist_tracker.json"},
	{"plexcache_rss_cache.json", "rss_cache.json"},
}

// migrationFlagName marks the data directory as having completed the
// one-time backup-migration pass (see migration.go); its presence skips
// that pass on every subsequent run.
const migrationFlagName = "plexcache_migration_v2.complete"

// ControlLoop owns every long-lived component a run needs and executes
// the full run sequence via Run.
type ControlLoop struct {
	Config *config.Configuration
	logger *logging.Logger

	dataDir string
	lock    *locking.Locker

	Router           *pathrouter.Router
	CacheTracker     *cachetracker.Tracker
	OnDeckTracker    *ondecktracker.Tracker
	WatchlistTracker *watchlisttracker.Tracker
	ExcludeList      *excludelist.List
	Filter           *filefilter.Filter
	Mover            *tiermover.Mover
	Scorer           *priority.Scorer
	Eviction         *eviction.Engine
	MediaServer      *mediaserver.Client
	ActivityLog      *activitylog.Log
	Platform         *platform.Adapter

	// OnPhase, if set, is invoked as Run transitions between phases, for a
	// caller that wants to surface live progress.
	OnPhase func(Phase)

	// OnTransferProgress, if set, is invoked from within a move-to-cache or
	// move-to-array batch on every chunk TierMover completes, for a caller
	// driving a byte-level progress bar (see pkg/operationrunner, which
	// derives its primary progress percentage from this rather than from
	// file counts).
	OnTransferProgress func(direction string, job tiermover.Job, copiedBytes, totalBytes int64)

	// OnBatchStart and OnJobDone, if set, report file-level progress for a
	// move-to-cache or move-to-array batch: OnBatchStart once with the
	// batch's total file count, then OnJobDone once per file as it
	// finishes.
	OnBatchStart func(direction string, total int)
	OnJobDone    func(direction string, job tiermover.Job, success bool)
}

// New wires every component from cfg, migrating legacy tracking-file names
// into the configured data directory first so the trackers constructed
// below read the right files on their very first load.
func New(cfg *config.Configuration, logger *logging.Logger) (*ControlLoop, error) {
	dataDir := cfg.Paths.DataFolder
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	migrateLegacyFilenames(dataDir, logger)

	router := pathrouter.New(cfg.Paths.PathMappings, logger)
	cacheTracker := cachetracker.New(filepath.Join(dataDir, "timestamps.json"), logger)
	onDeckTracker := ondecktracker.New(filepath.Join(dataDir, "ondeck_tracker.json"), logger)
	watchlistTracker := watchlisttracker.New(filepath.Join(dataDir, "watchlist_tracker.json"), logger)

	excludePath := filepath.Join(dataDir, "plexcache_cached_files.txt")
	excludeList := excludelist.New(excludePath, newHostPathTranslator(cfg.Paths.PathMappings), logger)

	filter := filefilter.New(router, cacheTracker, onDeckTracker, watchlistTracker, excludeList, logger)
	filter.CacheRetentionHours = cfg.Retention.CacheRetentionHours
	filter.OnDeckRetentionDays = cfg.Retention.OnDeckRetentionDays
	filter.WatchlistRetentionDays = cfg.Retention.WatchlistRetentionDays

	platformAdapter := platform.New()

	mover := tiermover.New(cacheTracker, excludeList, logger)
	mover.CreateBackups = cfg.CreatePlexcachedBackups
	if cfg.HardlinkedFiles != "" {
		mover.HardlinkPolicy = cfg.HardlinkedFiles
	}
	mover.CleanupEmptyFolders = cfg.CleanupEmptyFolders
	mover.Platform = platformAdapter

	scorer := &priority.Scorer{
		CacheTracker:        cacheTracker,
		OnDeckTracker:       onDeckTracker,
		WatchlistTracker:    watchlistTracker,
		EvictionMinPriority: cfg.CacheLimit.EvictionMinPriority,
		NumberEpisodes:      cfg.Plex.NumberEpisodes,
	}

	evictionEngine := eviction.New(cacheTracker, router, scorer, mover, logger)
	if cfg.CacheLimit.EvictionMode != "" {
		evictionEngine.Mode = eviction.Mode(cfg.CacheLimit.EvictionMode)
	}
	if cfg.CacheLimit.EvictionThresholdPercent > 0 {
		evictionEngine.ThresholdPercent = cfg.CacheLimit.EvictionThresholdPercent
	}

	mediaClient := mediaserver.New(cfg.Plex.URL, cfg.Plex.Token, logger)
	activityLog := activitylog.New(filepath.Join(dataDir, "activity_log.json"), 24*30, logger)

	lock, err := locking.NewLocker(filepath.Join(dataDir, "plexcache.lock"), 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating lock file: %w", err)
	}

	cl := &ControlLoop{
		Config:           cfg,
		logger:           logger.Sublogger("controlloop"),
		dataDir:          dataDir,
		lock:             lock,
		Router:           router,
		CacheTracker:     cacheTracker,
		OnDeckTracker:    onDeckTracker,
		WatchlistTracker: watchlistTracker,
		ExcludeList:      excludeList,
		Filter:           filter,
		Mover:            mover,
		Scorer:           scorer,
		Eviction:         evictionEngine,
		MediaServer:      mediaClient,
		ActivityLog:      activityLog,
		Platform:         platformAdapter,
	}
	cl.refreshCacheLimits()
	return cl, nil
}

func (c *ControlLoop) setPhase(p Phase) {
	c.logger.Debugf("entering phase: %s", p)
	if c.OnPhase != nil {
		c.OnPhase(p)
	}
}

// migrateLegacyFilenames renames tracking files left behind by an older,
// flat-layout deployment into dataDir under their current names. It never
// overwrites a file that already exists under the current name.
func migrateLegacyFilenames(dataDir string, logger *logging.Logger) {
	searchDirs := []string{dataDir, filepath.Dir(dataDir), "."}
	for _, r := range legacyRenames {
		if r.legacy == r.current {
			continue
		}
		target := filepath.Join(dataDir, r.current)
		if _, err := os.Stat(target); err == nil {
			continue
		}
		for _, dir := range searchDirs {
			legacyPath := filepath.Join(dir, r.legacy)
			if legacyPath == target {
				continue
			}
			if _, err := os.Stat(legacyPath); err != nil {
				continue
			}
			if err := os.Rename(legacyPath, target); err != nil {
				logger.Warnf("unable to migrate legacy tracking file %s: %v", legacyPath, err)
				continue
			}
			logger.Printf("migrated legacy tracking file %s -> %s", legacyPath, target)
			break
		}
	}
}

// hostPathTranslator translates between a cache-tier path as this process
// sees it and the same path as the host running an external bulk mover
// sees it, for deployments where the container and host mount the cache
// drive at different locations.
type hostPathTranslator struct {
	toHost   map[string]string
	fromHost map[string]string
}

// newHostPathTranslator builds a translator from the HostCachePath
// overrides present in mappings. It returns nil (a no-op) if no mapping
// sets a distinct host path.
func newHostPathTranslator(mappings []config.PathMapping) excludelist.HostPathTranslator {
	t := &hostPathTranslator{toHost: make(map[string]string), fromHost: make(map[string]string)}
	for _, m := range mappings {
		if m.CachePath == "" || m.HostCachePath == "" || m.HostCachePath == m.CachePath {
			continue
		}
		t.toHost[m.CachePath] = m.HostCachePath
		t.fromHost[m.HostCachePath] = m.CachePath
	}
	if len(t.toHost) == 0 {
		return nil
	}
	return t
}

func (t *hostPathTranslator) ToHost(containerPath string) string {
	for cachePrefix, hostPrefix := range t.toHost {
		if strings.HasPrefix(containerPath, cachePrefix) {
			return hostPrefix + strings.TrimPrefix(containerPath, cachePrefix)
		}
	}
	return containerPath
}

func (t *hostPathTranslator) FromHost(hostPath string) string {
	for hostPrefix, cachePrefix := range t.fromHost {
		if strings.HasPrefix(hostPath, hostPrefix) {
			return cachePrefix + strings.TrimPrefix(hostPath, hostPrefix)
		}
	}
	return hostPath
}

// cacheDriveTotalBytes resolves the cache tier's total capacity: an
// explicit absolute CacheDriveSize override if configured, or the real
// filesystem capacity under the first enabled cacheable mapping otherwise.
func (c *ControlLoop) cacheDriveTotalBytes() uint64 {
	if c.Config.CacheLimit.CacheDriveSize != 0 && !c.Config.CacheLimit.CacheDriveSize.IsPercent() {
		return uint64(c.Config.CacheLimit.CacheDriveSize)
	}
	for _, m := range c.Config.Paths.PathMappings {
		if !m.Enabled || !m.Cacheable || m.CachePath == "" {
			continue
		}
		if total, err := platform.TotalSpace(m.CachePath); err == nil && total > 0 {
			return total
		}
	}
	return 0
}

// refreshCacheLimits recomputes eviction's byte-denominated limit from the
// configured cache limit (absolute or percentage) against the cache
// drive's current total capacity. Called once at construction and again
// at the start of every run, since a percentage limit's meaning can shift
// if the underlying filesystem is resized between runs.
func (c *ControlLoop) refreshCacheLimits() {
	total := c.cacheDriveTotalBytes()
	c.Eviction.CacheLimitBytes = int64(c.Config.CacheLimit.CacheLimit.ResolveAgainst(total))
}
