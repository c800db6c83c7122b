// Package config defines plexcache's on-disk configuration document and the
// atomic load/save machinery around it.
package config

import (
	"fmt"
	"os"

	"github.com/plexcache-r/plexcache/pkg/encoding"
	"github.com/plexcache-r/plexcache/pkg/logging"
)

// PathMapping maps a single media library's Plex-visible path to its real
// filesystem path and (optionally) a cache destination, with independent
// enable/cacheable toggles so a library can be excluded from caching
// without removing its mapping entirely.
type PathMapping struct {
	// Name is a human-readable identifier used in logging and diagnostics.
	Name string `yaml:"name"`
	// PlexPath is the path as the media server sees it.
	PlexPath string `yaml:"plexPath"`
	// RealPath is the actual array-backed filesystem path corresponding to
	// PlexPath.
	RealPath string `yaml:"realPath"`
	// CachePath is the cache-tier destination path for this mapping. Empty
	// if the mapping is not cacheable.
	CachePath string `yaml:"cachePath,omitempty"`
	// HostCachePath overrides CachePath for the purposes of the exclude-file
	// protocol, when plexcache runs inside a container whose volume mounts
	// differ from the host path the external bulk mover sees.
	HostCachePath string `yaml:"hostCachePath,omitempty"`
	// Cacheable controls whether files under this mapping are eligible to be
	// moved to the cache tier.
	Cacheable bool `yaml:"cacheable"`
	// Enabled toggles the mapping on or off without deleting it from the
	// configuration file.
	Enabled bool `yaml:"enabled"`
}

// PlexConfig holds media-server connection settings and the policy knobs
// governing OnDeck/watchlist discovery.
type PlexConfig struct {
	URL             string   `yaml:"url"`
	Token           string   `yaml:"token"`
	ValidSections   []int    `yaml:"validSections,omitempty"`
	NumberEpisodes  int      `yaml:"numberEpisodes"`
	DaysToMonitor   int      `yaml:"daysToMonitor"`
	UsersToggle     bool     `yaml:"usersToggle"`
	SkipOnDeck      []string `yaml:"skipOnDeck,omitempty"`
	SkipWatchlist   []string `yaml:"skipWatchlist,omitempty"`
	// WatchlistToggle enables fetching the local account's watchlist at all.
	WatchlistToggle bool `yaml:"watchlistToggle"`
	// RemoteWatchlistToggle enables fetching watchlists via the public RSS
	// feed, for accounts that only share a watchlist URL rather than full
	// server access.
	RemoteWatchlistToggle bool   `yaml:"remoteWatchlistToggle"`
	WatchlistRSSURL       string `yaml:"watchlistRSSURL,omitempty"`
}

// PathConfig holds filesystem locations, including the multi-library path
// mapping table.
type PathConfig struct {
	DataFolder   string        `yaml:"dataFolder"`
	PathMappings []PathMapping `yaml:"pathMappings"`
	// MoverExclusionsFile, if set, is the external bulk mover's own
	// exclusion file (e.g. Unraid's mover tuning exclusions list). The
	// plexcache-managed section of that file is rewritten every run below
	// a sentinel tag; content above the tag is left for the user to
	// maintain by hand. Empty disables this integration.
	MoverExclusionsFile string `yaml:"moverExclusionsFile,omitempty"`
}

// RetentionConfig governs how long files stay on the cache tier once
// cached, independent of eviction pressure.
type RetentionConfig struct {
	// CacheRetentionHours is the minimum time a file must remain on the
	// cache tier after being cached before it is eligible to be moved back
	// to the array, protecting against thrashing on repeated short runs.
	CacheRetentionHours int `yaml:"cacheRetentionHours"`
	// WatchlistRetentionDays auto-expires watchlist-sourced cache entries
	// this many days after being added, even if still on a watchlist. Zero
	// disables this expiry. Fractional days are supported.
	WatchlistRetentionDays float64 `yaml:"watchlistRetentionDays"`
	// OnDeckRetentionDays auto-expires OnDeck-sourced cache entries this
	// many days after a user first saw them OnDeck, once every current
	// user of the file has exceeded the window. Zero disables this expiry.
	OnDeckRetentionDays float64 `yaml:"onDeckRetentionDays"`
	// WatchedMove, if false, disables move-back to the array entirely:
	// cached files only ever leave the cache tier via eviction.
	WatchedMove bool `yaml:"watchedMove"`
}

// CacheLimitConfig bounds how much of the cache tier plexcache is allowed to
// consume, and how it behaves once near those bounds.
type CacheLimitConfig struct {
	// CacheDriveSize manually overrides auto-detected cache drive capacity
	// (useful for ZFS pools where the dataset size differs from pool size).
	// Zero means auto-detect.
	CacheDriveSize ByteSize `yaml:"cacheDriveSize,omitempty"`
	// CacheLimit caps total cache drive usage (all consumers, not just
	// plexcache-managed files). Zero means unlimited.
	CacheLimit ByteSize `yaml:"cacheLimit,omitempty"`
	// MinFreeSpace is a safety floor of free space to preserve on the cache
	// drive regardless of CacheLimit. Zero disables the floor.
	MinFreeSpace ByteSize `yaml:"minFreeSpace,omitempty"`
	// PlexcacheQuota caps space used specifically by plexcache-tracked
	// files, as opposed to CacheLimit's whole-drive accounting. Zero means
	// unlimited.
	PlexcacheQuota ByteSize `yaml:"plexcacheQuota,omitempty"`
	// EvictionMode selects the eviction strategy once a limit is
	// approached: "smart" (priority-based), "fifo", or "none".
	EvictionMode string `yaml:"evictionMode"`
	// EvictionThresholdPercent is the percentage of CacheLimit at which
	// eviction begins.
	EvictionThresholdPercent int `yaml:"evictionThresholdPercent"`
	// EvictionMinPriority floors the priority score below which an entry is
	// eligible for smart eviction.
	EvictionMinPriority int `yaml:"evictionMinPriority"`
}

// ConcurrencyConfig bounds how many tier-move workers run in each
// direction and how moves are retried.
type ConcurrencyConfig struct {
	MaxConcurrentMovesArray int `yaml:"maxConcurrentMovesArray"`
	MaxConcurrentMovesCache int `yaml:"maxConcurrentMovesCache"`
	RetryLimit              int `yaml:"retryLimit"`
	RetryDelaySeconds       int `yaml:"retryDelaySeconds"`
}

// NotificationConfig configures optional run-summary notifications.
type NotificationConfig struct {
	// Type selects the delivery mechanism: "none", "webhook", or "both".
	Type       string   `yaml:"type"`
	WebhookURL string   `yaml:"webhookURL,omitempty"`
	Levels     []string `yaml:"levels,omitempty"`
}

// Configuration is the complete plexcache configuration document.
type Configuration struct {
	Plex         PlexConfig         `yaml:"plex"`
	Paths        PathConfig         `yaml:"paths"`
	Retention    RetentionConfig    `yaml:"retention"`
	CacheLimit   CacheLimitConfig   `yaml:"cacheLimit"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency"`
	Notification NotificationConfig `yaml:"notification"`

	// CreatePlexcachedBackups enables the rename-to-.plexcached safety net
	// when moving files to the cache tier.
	CreatePlexcachedBackups bool `yaml:"createPlexcachedBackups"`
	// HardlinkedFiles controls handling of files with additional hard
	// links (e.g. a seeding torrent client's copy): "skip" or "move".
	HardlinkedFiles string `yaml:"hardlinkedFiles"`
	// CleanupEmptyFolders removes empty parent directories left behind on
	// the cache tier after a to-array move.
	CleanupEmptyFolders bool `yaml:"cleanupEmptyFolders"`
	// ExcludedFolders lists additional directory names to skip during cache
	// scanning, beyond the always-skipped dot-prefixed directories.
	ExcludedFolders []string `yaml:"excludedFolders,omitempty"`
	// UseSymlinks leaves a symlink at the array location pointing at the
	// cache copy after caching, for media servers that require every
	// library path to resolve on the array filesystem.
	UseSymlinks bool `yaml:"useSymlinks"`
	// ExitIfActiveSession aborts the entire run if any file with an active
	// playback session would otherwise be touched; when false, only the
	// individual files in active sessions are skipped.
	ExitIfActiveSession bool `yaml:"exitIfActiveSession"`
}

// Default returns a Configuration populated with the same defaults as the
// original implementation's dataclasses, so a freshly generated config file
// is immediately runnable (minus Plex credentials and path mappings).
func Default() *Configuration {
	return &Configuration{
		Plex: PlexConfig{
			NumberEpisodes:        10,
			DaysToMonitor:         183,
			UsersToggle:           true,
			WatchlistToggle:       true,
			RemoteWatchlistToggle: false,
		},
		Paths: PathConfig{
			DataFolder: "data",
		},
		Retention: RetentionConfig{
			CacheRetentionHours: 12,
			WatchedMove:         true,
		},
		CacheLimit: CacheLimitConfig{
			EvictionMode:             "none",
			EvictionThresholdPercent: 90,
			EvictionMinPriority:      60,
		},
		Concurrency: ConcurrencyConfig{
			MaxConcurrentMovesArray: 2,
			MaxConcurrentMovesCache: 5,
			RetryLimit:              5,
			RetryDelaySeconds:       10,
		},
		Notification: NotificationConfig{
			Type: "none",
		},
		CreatePlexcachedBackups: true,
		HardlinkedFiles:         "skip",
		CleanupEmptyFolders:     true,
	}
}

// Load reads and parses a configuration document from path, starting from
// Default() so that fields omitted from the file on disk still take on
// sensible defaults.
func Load(path string) (*Configuration, error) {
	config := Default()
	if err := encoding.LoadAndUnmarshalYAML(path, config); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file %s does not exist: %w", path, err)
		}
		return nil, fmt.Errorf("unable to load configuration from %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save atomically writes the configuration to path.
func (c *Configuration) Save(path string, logger *logging.Logger) error {
	return encoding.MarshalAndSaveYAML(path, logger, c)
}

// Validate performs structural validation beyond what YAML decoding alone
// catches: required fields, mutually-consistent enum values, and at least
// one enabled path mapping.
func (c *Configuration) Validate() error {
	if c.Plex.URL == "" {
		return fmt.Errorf("plex.url must be set")
	}
	if c.Plex.Token == "" {
		return fmt.Errorf("plex.token must be set")
	}

	hasEnabledMapping := false
	for i, mapping := range c.Paths.PathMappings {
		if mapping.PlexPath == "" || mapping.RealPath == "" {
			return fmt.Errorf("path mapping %d (%q): plexPath and realPath are both required", i, mapping.Name)
		}
		if mapping.Enabled {
			hasEnabledMapping = true
		}
	}
	if !hasEnabledMapping {
		return fmt.Errorf("at least one enabled path mapping is required")
	}

	switch c.CacheLimit.EvictionMode {
	case "smart", "fifo", "none", "":
	default:
		return fmt.Errorf("cacheLimit.evictionMode must be one of smart, fifo, none (got %q)", c.CacheLimit.EvictionMode)
	}

	switch c.HardlinkedFiles {
	case "skip", "move", "":
	default:
		return fmt.Errorf("hardlinkedFiles must be one of skip, move (got %q)", c.HardlinkedFiles)
	}

	return nil
}

// EnabledMappings returns the subset of PathMappings with Enabled set.
func (c *Configuration) EnabledMappings() []PathMapping {
	var result []PathMapping
	for _, mapping := range c.Paths.PathMappings {
		if mapping.Enabled {
			result = append(result, mapping)
		}
	}
	return result
}
