// Package ondecktracker records which users have each file in their
// OnDeck queue, along with TV episode position metadata, so that priority
// scoring can favor items actively being watched and per-user retention
// can expire an item only once every current user has exceeded their
// window.
package ondecktracker

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/plexcache-r/plexcache/pkg/encoding"
	"github.com/plexcache-r/plexcache/pkg/logging"
)

// EpisodePosition identifies a TV episode's place within its show, and
// whether this entry represents the user's actual current OnDeck episode
// as opposed to a prefetched future one.
type EpisodePosition struct {
	Show            string `json:"show"`
	Season          int    `json:"season"`
	Episode         int    `json:"episode"`
	IsCurrentOnDeck bool   `json:"isCurrentOnDeck"`
}

// Entry records OnDeck membership for a single file.
type Entry struct {
	Users         []string             `json:"users"`
	OnDeckUsers   []string             `json:"onDeckUsers,omitempty"`
	FirstSeenAt   time.Time            `json:"firstSeen"`
	LastSeenAt    time.Time            `json:"lastSeen"`
	UserFirstSeen map[string]time.Time `json:"userFirstSeen,omitempty"`
	Episode       *EpisodePosition     `json:"episode,omitempty"`
}

// Tracker is a thread-safe, file-backed store of OnDeck entries.
type Tracker struct {
	path   string
	logger *logging.Logger

	mu         sync.Mutex
	data       map[string]Entry
	seenThisRun map[string]bool
}

// New constructs a Tracker backed by the JSON document at path.
func New(path string, logger *logging.Logger) *Tracker {
	t := &Tracker{path: path, logger: logger.Sublogger("ondeck"), data: make(map[string]Entry)}
	if err := encoding.LoadAndUnmarshalJSON(path, &t.data); err != nil {
		t.logger.Debugf("no existing OnDeck data at %s (%v); starting empty", path, err)
		t.data = make(map[string]Entry)
	}
	return t
}

func (t *Tracker) save() {
	if err := encoding.MarshalAndSaveJSON(t.path, t.logger, t.data); err != nil {
		t.logger.Warnf("unable to save OnDeck data: %v", err)
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

// Get returns the entry for path, falling back to a filename-only match.
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

// PrepareForRun clears the per-run fields (current user list, episode
// position) on every entry so UpdateEntry calls during this run repopulate
// them from scratch, while preserving FirstSeenAt/UserFirstSeen so OnDeck
// retention accumulates correctly across runs. It does not persist the
// store — UpdateEntry calls will do that as entries are refreshed — and it
// resets the seen-this-run set that CleanupUnseen consults afterward.
func (t *Tracker) PrepareForRun() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seenThisRun = make(map[string]bool)
	for path, entry := range t.data {
		entry.Users = nil
		entry.OnDeckUsers = nil
		entry.Episode = nil
		t.data[path] = entry
	}
	t.logger.Debugf("prepared OnDeck tracker for new run")
}

// UpdateEntry records that username has filePath OnDeck, optionally with
// TV episode position info, and whether this is the user's actual current
// OnDeck episode (as opposed to a prefetched future one).
func (t *Tracker) UpdateEntry(filePath, username string, episode *EpisodePosition, isCurrentOnDeck bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seenThisRun != nil {
		t.seenThisRun[filePath] = true
	}

	now := time.Now()
	entry, exists := t.data[filePath]
	if !exists {
		entry = Entry{
			Users:         []string{username},
			FirstSeenAt:   now,
			LastSeenAt:    now,
			UserFirstSeen: map[string]time.Time{username: now},
		}
		if isCurrentOnDeck {
			entry.OnDeckUsers = []string{username}
		}
		if episode != nil {
			ep := *episode
			ep.IsCurrentOnDeck = isCurrentOnDeck
			entry.Episode = &ep
		}
		t.data[filePath] = entry
		t.logger.Debugf("[user:%s] added new OnDeck entry: %s", username, filePath)
		t.save()
		return
	}

	if !containsString(entry.Users, username) {
		entry.Users = append(entry.Users, username)
	}
	entry.LastSeenAt = now
	if entry.FirstSeenAt.IsZero() {
		entry.FirstSeenAt = now
	}
	if entry.UserFirstSeen == nil {
		entry.UserFirstSeen = make(map[string]time.Time)
	}
	if _, ok := entry.UserFirstSeen[username]; !ok {
		entry.UserFirstSeen[username] = now
	}

	if isCurrentOnDeck && !containsString(entry.OnDeckUsers, username) {
		entry.OnDeckUsers = append(entry.OnDeckUsers, username)
	}

	if episode != nil {
		if entry.Episode == nil {
			ep := *episode
			ep.IsCurrentOnDeck = isCurrentOnDeck
			entry.Episode = &ep
		} else if isCurrentOnDeck && !entry.Episode.IsCurrentOnDeck {
			entry.Episode.IsCurrentOnDeck = true
		}
	}

	t.data[filePath] = entry
	t.save()
}

// UserCount returns the number of users who currently have filePath OnDeck.
func (t *Tracker) UserCount(filePath string) int {
	entry, ok := t.Get(filePath)
	if !ok {
		return 0
	}
	return len(entry.Users)
}

// EpisodePosition returns the episode position recorded for filePath, if
// any.
func (t *Tracker) EpisodePosition(filePath string) (EpisodePosition, bool) {
	entry, ok := t.Get(filePath)
	if !ok || entry.Episode == nil {
		return EpisodePosition{}, false
	}
	return *entry.Episode, true
}

// PositionsForShow returns the (season, episode) of every entry currently
// marked as a user's actual OnDeck episode (not merely prefetched) for the
// named show, matched case-insensitively.
func (t *Tracker) PositionsForShow(show string) [][2]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	showLower := strings.ToLower(show)
	var positions [][2]int
	for _, entry := range t.data {
		if entry.Episode == nil || !entry.Episode.IsCurrentOnDeck {
			continue
		}
		if strings.ToLower(entry.Episode.Show) != showLower {
			continue
		}
		positions = append(positions, [2]int{entry.Episode.Season, entry.Episode.Episode})
	}
	return positions
}

// EarliestPositionForShow returns the earliest (season, episode) among
// PositionsForShow's results — the position of the user furthest behind in
// the show.
func (t *Tracker) EarliestPositionForShow(show string) ([2]int, bool) {
	positions := t.PositionsForShow(show)
	if len(positions) == 0 {
		return [2]int{}, false
	}
	earliest := positions[0]
	for _, p := range positions[1:] {
		if p[0] < earliest[0] || (p[0] == earliest[0] && p[1] < earliest[1]) {
			earliest = p
		}
	}
	return earliest, true
}

// CleanupStaleEntries removes entries not seen within maxAge, returning the
// count removed. OnDeck items change frequently, so callers typically use a
// much shorter window than watchlist or cache-timestamp cleanup.
func (t *Tracker) CleanupStaleEntries(maxAge time.Duration) int {
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
		t.logger.Debugf("cleaned up %d stale OnDeck entries", len(stale))
	}
	return len(stale)
}

// CleanupUnseen removes every entry not touched by an UpdateEntry call
// since the last PrepareForRun, and trims UserFirstSeen on survivors down
// to their currently active users. It is a no-op (returning 0) if
// PrepareForRun was never called.
func (t *Tracker) CleanupUnseen() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seenThisRun == nil {
		return 0
	}

	var unseen []string
	for path := range t.data {
		if !t.seenThisRun[path] {
			unseen = append(unseen, path)
		}
	}
	for _, path := range unseen {
		delete(t.data, path)
	}

	for path, entry := range t.data {
		if entry.UserFirstSeen == nil {
			continue
		}
		current := make(map[string]bool, len(entry.Users))
		for _, u := range entry.Users {
			current[u] = true
		}
		for u := range entry.UserFirstSeen {
			if !current[u] {
				delete(entry.UserFirstSeen, u)
			}
		}
		t.data[path] = entry
	}

	if len(unseen) > 0 {
		t.save()
		t.logger.Debugf("removed %d OnDeck entries no longer on any user's OnDeck", len(unseen))
	}
	return len(unseen)
}

// IsExpired reports whether every current user of filePath has exceeded
// retentionDays since they first saw it OnDeck. If any current user is
// still within their window, the item is protected and this returns false.
// retentionDays <= 0 disables expiry; an unknown path, or one with no
// current users, conservatively reports not expired.
func (t *Tracker) IsExpired(filePath string, retentionDays float64) bool {
	if retentionDays <= 0 {
		return false
	}

	t.mu.Lock()
	entry, ok := t.data[filePath]
	t.mu.Unlock()
	if !ok || len(entry.Users) == 0 {
		return false
	}

	now := time.Now()
	for _, user := range entry.Users {
		firstSeen, ok := entry.UserFirstSeen[user]
		if !ok {
			firstSeen = entry.FirstSeenAt
		}
		if firstSeen.IsZero() {
			return false
		}
		ageDays := now.Sub(firstSeen).Hours() / 24
		if ageDays <= retentionDays {
			return false
		}
	}
	return true
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
