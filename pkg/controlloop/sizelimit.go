package controlloop

import (
	"os"

	"github.com/plexcache-r/plexcache/pkg/filefilter"
	"github.com/plexcache-r/plexcache/pkg/platform"
)

// applyCacheSizeLimit filters candidates — already ordered by caller
// priority, OnDeck ahead of watchlist — down to those that fit within the
// configured whole-drive cache limit and the min-free-space floor. Each
// accepted candidate's estimated size is folded into the running total so
// later, lower-priority candidates see a tighter remaining budget.
func (c *ControlLoop) applyCacheSizeLimit(candidates []filefilter.CacheCandidate) (accepted []filefilter.CacheCandidate, dropped int) {
	limitBytes := c.Eviction.CacheLimitBytes
	minFree := int64(c.Config.CacheLimit.MinFreeSpace.ResolveAgainst(c.cacheDriveTotalBytes()))

	var usedBytes int64
	for cachePath := range c.CacheTracker.CachedEntries() {
		if info, err := os.Stat(cachePath); err == nil {
			usedBytes += info.Size()
		}
	}

	cacheDir := c.firstCacheableDir()

	for _, cand := range candidates {
		if _, ok := c.Filter.CachePathFor(cand.RealPath); !ok {
			continue
		}
		size := fileSize(cand.RealPath)

		if limitBytes > 0 && usedBytes+size > limitBytes {
			dropped++
			continue
		}
		if minFree > 0 && cacheDir != "" {
			if free, err := platform.FreeSpace(cacheDir); err == nil && free-size < minFree {
				dropped++
				continue
			}
		}

		usedBytes += size
		accepted = append(accepted, cand)
	}
	return accepted, dropped
}

func (c *ControlLoop) firstCacheableDir() string {
	for _, m := range c.Config.Paths.PathMappings {
		if m.Enabled && m.Cacheable && m.CachePath != "" {
			return m.CachePath
		}
	}
	return ""
}

func fileSize(path string) int64 {
	if info, err := os.Stat(path); err == nil {
		return info.Size()
	}
	return 0
}
