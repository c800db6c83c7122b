// Package watchlisttracker records when each file was added to a user's
// watchlist, and by whom, so that watchlist-sourced cache entries can be
// expired a configurable number of days after being added — independent of
// whether the item remains on the watchlist.
package watchlisttracker

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/plexcache-r/plexcache/pkg/encoding"
	"github.com/plexcache-r/plexcache/pkg/logging"
)

// Entry records a watchlist item's earliest add time and the users who
// have it watchlisted.
type Entry struct {
	WatchlistedAt time.Time `json:"watchlistedAt"`
	Users         []string  `json:"users"`
	LastSeenAt    time.Time `json:"lastSeen"`
}

// Tracker is a thread-safe, file-backed store of watchlist entries.
type Tracker struct {
	path   string
	logger *logging.Logger

	mu   sync.Mutex
	data map[string]Entry
}

// New constructs a Tracker backed by the JSON document at path.
func New(path string, logger *logging.Logger) *Tracker {
	t := &Tracker{path: path, logger: logger.Sublogger("watchlist"), data: make(map[string]Entry)}
	if err := encoding.LoadAndUnmarshalJSON(path, &t.data); err != nil {
		t.logger.Debugf("no existing watchlist data at %s (%v); starting empty", path, err)
		t.data = make(map[string]Entry)
	}
	return t
}

func (t *Tracker) save() {
	if err := encoding.MarshalAndSaveJSON(t.path, t.logger, t.data); err != nil {
		t.logger.Warnf("unable to save watchlist data: %v", err)
	}
}

func (t *Tracker) findByFilename(path string) (string, Entry, bool) {
	target := filepath.Base(path)
	for key, entry := range t.data {
		if filepath.Base(key) == target {
			return key, entry, true
		}
	}
	return "", Entry{}, false
}

// Get returns the entry for path, if tracked, falling back to a
// filename-only match.
func (t *Tracker) Get(path string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.data[path]; ok {
		return entry, true
	}
	if _, entry, ok := t.findByFilename(path); ok {
		return entry, true
	}
	return Entry{}, false
}

// UpdateEntry records that username has filePath on their watchlist as of
// watchlistedAt. If the entry already exists, the user is added to its
// user list if not already present, and the stored watchlistedAt is
// moved only if the new timestamp is earlier — the entry keeps the
// earliest add time seen across users. LastSeenAt is always refreshed.
func (t *Tracker) UpdateEntry(filePath, username string, watchlistedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	entry, exists := t.data[filePath]
	if !exists {
		ts := watchlistedAt
		if ts.IsZero() {
			ts = now
		}
		t.data[filePath] = Entry{WatchlistedAt: ts, Users: []string{username}, LastSeenAt: now}
		t.logger.Debugf("[user:%s] added new watchlist entry: %s", username, filePath)
		t.save()
		return
	}

	if !containsString(entry.Users, username) {
		entry.Users = append(entry.Users, username)
	}
	if !watchlistedAt.IsZero() && watchlistedAt.Before(entry.WatchlistedAt) {
		entry.WatchlistedAt = watchlistedAt
		t.logger.Debugf("[user:%s] updated watchlist timestamp: %s", username, filePath)
	}
	entry.LastSeenAt = now
	t.data[filePath] = entry
	t.save()
}

// IsExpired reports whether filePath was added to the watchlist more than
// retentionDays ago. An unknown path, or retentionDays <= 0 (retention
// disabled), conservatively reports not expired.
func (t *Tracker) IsExpired(filePath string, retentionDays float64) bool {
	if retentionDays <= 0 {
		return false
	}

	t.mu.Lock()
	entry, ok := t.data[filePath]
	if !ok {
		_, entry, ok = t.findByFilename(filePath)
	}
	t.mu.Unlock()
	if !ok || entry.WatchlistedAt.IsZero() {
		return false
	}

	ageDays := time.Since(entry.WatchlistedAt).Hours() / 24
	return ageDays > retentionDays
}

// CleanupMissing is a deliberate no-op: watchlist entries are keyed by the
// media-server-reported path, which for a containerized media server does
// not correspond to a filesystem path this process can stat. Staleness is
// instead enforced purely by CleanupStale's last-seen window.
func (t *Tracker) CleanupMissing() int {
	return 0
}

// CleanupStale removes entries not seen in more than maxAge, returning the
// number removed.
func (t *Tracker) CleanupStale(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var stale []string
	for path, entry := range t.data {
		if entry.LastSeenAt.IsZero() || now.Sub(entry.LastSeenAt) > maxAge {
			stale = append(stale, path)
		}
	}
	for _, path := range stale {
		delete(t.data, path)
	}
	if len(stale) > 0 {
		t.save()
		t.logger.Printf("cleaned up %d stale watchlist entries", len(stale))
	}
	return len(stale)
}

// All returns a shallow copy of every tracked entry.
func (t *Tracker) All() map[string]Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make(map[string]Entry, len(t.data))
	for k, v := range t.data {
		result[k] = v
	}
	return result
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
