// Package trackerstore implements a generic, mutex-guarded, atomically
// persisted entry store. pkg/cachetracker is built on top of it; the
// OnDeck and watchlist trackers keep their own maps. Entries are addressed by filesystem
// path, with a filename-only fallback lookup for when a stored path and a
// probed path differ only in a cache-tier path prefix.
package trackerstore

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"time"

	"github.com/plexcache-r/plexcache/pkg/encoding"
	"github.com/plexcache-r/plexcache/pkg/logging"
)

// Entry is the minimal shape every concrete tracker's entry must support so
// that Store's generic cleanup logic can operate on it.
type Entry interface {
	// LastSeen returns the time this entry was last observed as present on
	// the media server, or the zero Time if never recorded.
	LastSeen() time.Time
}

// Store is a generic, thread-safe, file-backed map of path to entry. It
// persists as a single JSON document and supports a post-load migration
// hook for schema evolution.
type Store[E Entry] struct {
	path   string
	name   string
	logger *logging.Logger

	mu      sync.Mutex
	data    map[string]E
	postLoad func(map[string]E) map[string]E
}

// Option configures a Store at construction time.
type Option[E Entry] func(*Store[E])

// WithPostLoadHook registers a function run once immediately after loading
// (or on an empty store if the file doesn't exist yet), allowed to rewrite
// the loaded map — used for one-time migrations such as deriving a subtitle
// reverse index.
func WithPostLoadHook[E Entry](hook func(map[string]E) map[string]E) Option[E] {
	return func(s *Store[E]) {
		s.postLoad = hook
	}
}

// New creates a Store backed by the JSON document at path, immediately
// attempting to load existing data. A load failure (missing file, corrupt
// JSON) is logged and treated as an empty store rather than a fatal error,
// matching the tolerance of a tool that must keep operating across restarts
// even if its state file was hand-edited into an invalid state.
func New[E Entry](path, name string, logger *logging.Logger, options ...Option[E]) *Store[E] {
	s := &Store[E]{
		path:   path,
		name:   name,
		logger: logger.Sublogger(name),
		data:   make(map[string]E),
	}
	for _, opt := range options {
		opt(s)
	}

	if err := encoding.LoadAndUnmarshalJSON(path, &s.data); err != nil {
		s.logger.Debugf("no existing %s data at %s (%v); starting empty", name, path, err)
		s.data = make(map[string]E)
	} else {
		s.logger.Debugf("loaded %d %s entries from %s", len(s.data), name, path)
	}

	if s.postLoad != nil {
		s.data = s.postLoad(s.data)
	}

	return s
}

// save persists the current data under the lock. Callers must hold mu.
func (s *Store[E]) save() {
	if err := encoding.MarshalAndSaveJSON(s.path, s.logger, s.data); err != nil {
		s.logger.Warnf("unable to save %s data: %v", s.name, err)
	}
}

// findByFilename looks for an entry whose key's base name matches path's
// base name, used as a fallback when a cache-tier path doesn't match the
// array-rooted path under which an entry was originally recorded.
func (s *Store[E]) findByFilename(path string) (string, E, bool) {
	target := filepath.Base(path)
	for key, entry := range s.data {
		if filepath.Base(key) == target {
			return key, entry, true
		}
	}
	var zero E
	return "", zero, false
}

// Get returns the entry for path, falling back to a filename-only match.
func (s *Store[E]) Get(path string) (E, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.data[path]; ok {
		return entry, true
	}
	if _, entry, ok := s.findByFilename(path); ok {
		return entry, true
	}
	var zero E
	return zero, false
}

// Set stores (or replaces) the entry for path and persists the store.
func (s *Store[E]) Set(path string, entry E) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = entry
	s.save()
}

// Remove deletes path's entry, if any, and persists the store.
func (s *Store[E]) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[path]; ok {
		delete(s.data, path)
		s.save()
		s.logger.Debugf("removed entry for %s", path)
	}
}

// Update looks up path (with filename fallback), invokes fn on the current
// entry if found, and persists the mutation. The key under which the entry
// is stored is preserved (fn cannot rename the entry). It is a no-op if no
// entry exists, matching the original semantics where these mark-cached
// style updates only apply to media already being tracked for another
// reason (OnDeck/watchlist membership).
func (s *Store[E]) Update(path string, fn func(E) E) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := path
	entry, ok := s.data[key]
	if !ok {
		var foundKey string
		foundKey, entry, ok = s.findByFilename(path)
		if !ok {
			return
		}
		key = foundKey
	}

	s.data[key] = fn(entry)
	s.save()
}

// All returns a shallow copy of every tracked entry, keyed by path.
func (s *Store[E]) All() map[string]E {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]E, len(s.data))
	for k, v := range s.data {
		result[k] = v
	}
	return result
}

// Filter returns every entry for which predicate returns true.
func (s *Store[E]) Filter(predicate func(path string, entry E) bool) map[string]E {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]E)
	for k, v := range s.data {
		if predicate(k, v) {
			result[k] = v
		}
	}
	return result
}

// CleanupStale removes entries whose LastSeen is older than maxAge, and
// returns the number removed. An entry with a zero LastSeen is always
// considered stale, matching the original implementation's treatment of
// entries with no recorded timestamp.
func (s *Store[E]) CleanupStale(maxAge time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []string
	for path, entry := range s.data {
		last := entry.LastSeen()
		if last.IsZero() || now.Sub(last) > maxAge {
			stale = append(stale, path)
		}
	}

	for _, path := range stale {
		delete(s.data, path)
	}

	if len(stale) > 0 {
		s.save()
		s.logger.Printf("cleaned up %d stale %s entries", len(stale), s.name)
	}

	return len(stale)
}

// Len returns the number of tracked entries.
func (s *Store[E]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// MarshalForDebug renders the store's current contents as indented JSON,
// used by diagnostic CLI commands.
func (s *Store[E]) MarshalForDebug() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.MarshalIndent(s.data, "", "  ")
}
