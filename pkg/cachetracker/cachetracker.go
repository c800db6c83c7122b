// Package cachetracker records when and why each file was moved to the
// cache tier, enforcing the minimum retention period and maintaining a
// subtitle-to-parent-video reverse index so that a subtitle file delegates
// its retention/source/media-identity queries to the video it belongs to.
package cachetracker

import (
	"sync"
	"time"

	"github.com/plexcache-r/plexcache/pkg/logging"
	"github.com/plexcache-r/plexcache/pkg/trackerstore"
)

// EpisodeInfo identifies a TV episode's place within its show, used by the
// priority scorer's OnDeck-proximity contribution.
type EpisodeInfo struct {
	Show    string `json:"show"`
	Season  int    `json:"season"`
	Episode int    `json:"episode"`
}

// Entry records why and when a file was cached.
type Entry struct {
	CachedAt time.Time `json:"cachedAt"`
	// Source is one of "ondeck", "watchlist", "pre-existing", or "unknown".
	Source string `json:"source"`
	// OriginalInode is set for hard-linked files, so the array-side inode
	// can be located again if the hard link needs restoring.
	OriginalInode *uint64 `json:"originalInode,omitempty"`
	// MediaType is "episode" or "movie"; empty if unknown (e.g. legacy
	// entries predating media-type tracking).
	MediaType string `json:"mediaType,omitempty"`
	// Episode is populated when MediaType is "episode".
	Episode *EpisodeInfo `json:"episode,omitempty"`
	// Subtitles lists cache-tier subtitle paths associated with this entry.
	Subtitles []string `json:"subtitles,omitempty"`
}

// LastSeen implements trackerstore.Entry. Cache entries are swept by a
// separate file-existence check (see CleanupMissing), so the generic
// age-based sweep is not used for this tracker; LastSeen simply reports
// CachedAt for completeness.
func (e Entry) LastSeen() time.Time { return e.CachedAt }

// Tracker wraps a trackerstore.Store[Entry] with cache-specific semantics:
// never-overwrite-on-record, retention-period queries, and subtitle
// delegation via a reverse index maintained alongside the store.
type Tracker struct {
	store  *trackerstore.Store[Entry]
	logger *logging.Logger

	mu               sync.Mutex
	subtitleToParent map[string]string
}

// New constructs a Tracker backed by the JSON document at path.
func New(path string, logger *logging.Logger) *Tracker {
	t := &Tracker{
		logger:           logger.Sublogger("cachetracker"),
		subtitleToParent: make(map[string]string),
	}
	t.store = trackerstore.New[Entry](path, "cache-timestamp", logger,
		trackerstore.WithPostLoadHook(func(data map[string]Entry) map[string]Entry {
			t.buildReverseIndex(data)
			return data
		}),
	)
	return t
}

func (t *Tracker) buildReverseIndex(data map[string]Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subtitleToParent = make(map[string]string)
	for parent, entry := range data {
		for _, sub := range entry.Subtitles {
			t.subtitleToParent[sub] = parent
		}
	}
}

// resolve returns the path an entry should actually be looked up under:
// path itself if it has a direct or filename-fallback entry, or its parent
// video's path if path is a tracked subtitle.
func (t *Tracker) resolve(path string) (string, bool) {
	if _, ok := t.store.Get(path); ok {
		return path, true
	}
	t.mu.Lock()
	parent, ok := t.subtitleToParent[path]
	t.mu.Unlock()
	if ok {
		if _, exists := t.store.Get(parent); exists {
			return parent, true
		}
	}
	return path, false
}

// RecordCacheTime records cachePath's cache time and source, unless an
// entry already exists — a cache timestamp is set once, the first time a
// file lands on the cache tier, and never overwritten by subsequent runs
// that find it still present.
func (t *Tracker) RecordCacheTime(cachePath, source string, originalInode *uint64, mediaType string, episode *EpisodeInfo) {
	if _, exists := t.store.Get(cachePath); exists {
		t.logger.Debugf("timestamp already exists for %s", cachePath)
		return
	}
	t.store.Set(cachePath, Entry{
		CachedAt:      time.Now(),
		Source:        source,
		OriginalInode: originalInode,
		MediaType:     mediaType,
		Episode:       episode,
	})
}

// RemoveEntry clears cachePath's tracking entry, along with any reverse
// index linkage (if cachePath was itself a subtitle, or if it was a parent
// with associated subtitles).
func (t *Tracker) RemoveEntry(cachePath string) {
	entry, ok := t.store.Get(cachePath)
	if ok {
		t.mu.Lock()
		for _, sub := range entry.Subtitles {
			delete(t.subtitleToParent, sub)
		}
		t.mu.Unlock()
		t.store.Remove(cachePath)
		return
	}

	t.mu.Lock()
	parent, isSubtitle := t.subtitleToParent[cachePath]
	if isSubtitle {
		delete(t.subtitleToParent, cachePath)
	}
	t.mu.Unlock()

	if isSubtitle {
		t.store.Update(parent, func(e Entry) Entry {
			e.Subtitles = removeString(e.Subtitles, cachePath)
			return e
		})
	}
}

// OriginalInode returns the recorded original inode for a hard-linked
// cache-side file, if any.
func (t *Tracker) OriginalInode(cachePath string) (uint64, bool) {
	entry, ok := t.store.Get(cachePath)
	if !ok || entry.OriginalInode == nil {
		return 0, false
	}
	return *entry.OriginalInode, true
}

// IsWithinRetentionPeriod reports whether cachePath (or, for a tracked
// subtitle, its parent video) was cached fewer than retentionHours ago. A
// file with no timestamp is treated as outside its retention period, so
// that files moved to cache by means other than plexcache (or via a format
// predating this tracker) aren't pinned indefinitely.
func (t *Tracker) IsWithinRetentionPeriod(cachePath string, retentionHours int) bool {
	resolved, ok := t.resolve(cachePath)
	if !ok {
		return false
	}
	entry, ok := t.store.Get(resolved)
	if !ok || entry.CachedAt.IsZero() {
		return false
	}
	return time.Since(entry.CachedAt) < time.Duration(retentionHours)*time.Hour
}

// RetentionRemaining returns the number of hours left in cachePath's
// retention period (negative or zero once expired).
func (t *Tracker) RetentionRemaining(cachePath string, retentionHours int) float64 {
	resolved, ok := t.resolve(cachePath)
	if !ok {
		return 0
	}
	entry, ok := t.store.Get(resolved)
	if !ok || entry.CachedAt.IsZero() {
		return 0
	}
	return float64(retentionHours) - time.Since(entry.CachedAt).Hours()
}

// HoursSinceCached returns how many hours ago cachePath was cached,
// delegating to a parent video if cachePath is a tracked subtitle. The
// second return value is false if nothing is tracked for the path.
func (t *Tracker) HoursSinceCached(cachePath string) (float64, bool) {
	resolved, ok := t.resolve(cachePath)
	if !ok {
		return 0, false
	}
	entry, ok := t.store.Get(resolved)
	if !ok || entry.CachedAt.IsZero() {
		return 0, false
	}
	return time.Since(entry.CachedAt).Hours(), true
}

// Source returns the recorded cache source for cachePath, delegating to a
// parent video if cachePath is a tracked subtitle. It returns "unknown" if
// nothing is tracked.
func (t *Tracker) Source(cachePath string) string {
	resolved, ok := t.resolve(cachePath)
	if !ok {
		return "unknown"
	}
	entry, ok := t.store.Get(resolved)
	if !ok || entry.Source == "" {
		return "unknown"
	}
	return entry.Source
}

// MediaInfo returns the recorded media type and episode info for cachePath,
// delegating to a parent video if cachePath is a tracked subtitle.
func (t *Tracker) MediaInfo(cachePath string) (mediaType string, episode *EpisodeInfo, ok bool) {
	resolved, resolvedOK := t.resolve(cachePath)
	if !resolvedOK {
		return "", nil, false
	}
	entry, exists := t.store.Get(resolved)
	if !exists {
		return "", nil, false
	}
	return entry.MediaType, entry.Episode, true
}

// AssociateSubtitles bulk-links subtitle cache paths to their parent
// video's tracker entry, removing any standalone entries the subtitles may
// have accrued and updating the reverse index.
func (t *Tracker) AssociateSubtitles(subtitlesByParent map[string][]string) {
	for parent, subs := range subtitlesByParent {
		if len(subs) == 0 {
			continue
		}
		if _, exists := t.store.Get(parent); !exists {
			continue
		}

		t.store.Update(parent, func(e Entry) Entry {
			existing := make(map[string]bool, len(e.Subtitles))
			for _, s := range e.Subtitles {
				existing[s] = true
			}
			for _, sub := range subs {
				if !existing[sub] {
					e.Subtitles = append(e.Subtitles, sub)
					existing[sub] = true
				}
			}
			return e
		})

		t.mu.Lock()
		for _, sub := range subs {
			t.subtitleToParent[sub] = parent
			t.store.Remove(sub)
		}
		t.mu.Unlock()
	}
}

// FindParentVideo returns the parent video cache path for a tracked
// subtitle, if any.
func (t *Tracker) FindParentVideo(subtitlePath string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	parent, ok := t.subtitleToParent[subtitlePath]
	return parent, ok
}

// CachedEntries returns every tracked path and its entry.
func (t *Tracker) CachedEntries() map[string]Entry {
	return t.store.All()
}

// CleanupMissing removes tracker entries for cache paths no longer present
// on disk, as reported by the exists callback (typically os.Stat-backed).
// It returns the number of entries removed.
func (t *Tracker) CleanupMissing(exists func(path string) bool) int {
	missing := t.store.Filter(func(path string, _ Entry) bool {
		return !exists(path)
	})
	for path := range missing {
		t.RemoveEntry(path)
	}
	return len(missing)
}

func removeString(list []string, target string) []string {
	result := list[:0]
	for _, s := range list {
		if s != target {
			result = append(result, s)
		}
	}
	return result
}
