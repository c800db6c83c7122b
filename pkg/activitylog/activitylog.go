// Package activitylog records recent per-file cache operations in a single
// shared, append-front, retention-capped log that both the OperationRunner
// and MaintenanceRunner write to and the UI reads from.
package activitylog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plexcache-r/plexcache/pkg/encoding"
	"github.com/plexcache-r/plexcache/pkg/logging"
)

// Action labels an Event by what happened to the file.
type Action string

const (
	ActionCached   Action = "Cached"
	ActionRestored Action = "Restored"
	ActionMoved    Action = "Moved" // copy-based operation: upgrade, eviction, or backup-less restore
	ActionError    Action = "Error"
)

// Event is one entry in the log: a single file, one action, one outcome.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"sizeBytes,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Runner    string    `json:"runner"` // "operation" or "maintenance"
}

// maxEntries bounds the on-disk log regardless of retention, so a runaway
// burst of events can't grow the file unboundedly between retention sweeps.
const maxEntries = 500

// Log is a file-backed, mutex-guarded, append-front event list. Every
// writer re-reads the file immediately before appending, so that two
// in-process singleton runners (which never run concurrently, but may run
// back-to-back within the same process lifetime) never clobber each
// other's entries — this relies on there being no cross-process writer, not
// on any file locking.
type Log struct {
	path   string
	logger *logging.Logger

	mu             sync.Mutex
	retentionHours int
}

// New constructs a Log backed by the JSON document at path. retentionHours
// of zero disables time-based filtering (only the entry-count cap applies).
func New(path string, retentionHours int, logger *logging.Logger) *Log {
	return &Log{
		path:           path,
		logger:         logger.Sublogger("activitylog"),
		retentionHours: retentionHours,
	}
}

// Append adds a new event to the front of the log, re-reading the current
// on-disk contents first so a concurrent writer's entries aren't lost.
func (l *Log) Append(action Action, path string, sizeBytes int64, detail, runner string) Event {
	id, err := uuid.NewRandom()
	if err != nil {
		l.logger.Warnf("unable to generate activity event id: %v", err)
	}

	event := Event{
		ID:        id.String(),
		Timestamp: time.Now(),
		Action:    action,
		Path:      path,
		SizeBytes: sizeBytes,
		Detail:    detail,
		Runner:    runner,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.loadLocked()
	events = append([]Event{event}, events...)
	events = l.filterLocked(events)
	l.saveLocked(events)

	return event
}

// Recent returns up to limit of the most recent events, retention-filtered.
// limit of 0 or negative returns every retained event.
func (l *Log) Recent(limit int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.filterLocked(l.loadLocked())
	if limit <= 0 || limit >= len(events) {
		return events
	}
	return events[:limit]
}

func (l *Log) loadLocked() []Event {
	var events []Event
	if err := encoding.LoadAndUnmarshalJSON(l.path, &events); err != nil {
		return nil
	}
	return events
}

// filterLocked drops events older than the retention window (if configured)
// and trims the list to maxEntries, always keeping the newest entries since
// the list is maintained newest-first.
func (l *Log) filterLocked(events []Event) []Event {
	if l.retentionHours > 0 {
		cutoff := time.Now().Add(-time.Duration(l.retentionHours) * time.Hour)
		filtered := events[:0:0]
		for _, e := range events {
			if e.Timestamp.After(cutoff) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if len(events) > maxEntries {
		events = events[:maxEntries]
	}
	return events
}

func (l *Log) saveLocked(events []Event) {
	if err := encoding.MarshalAndSaveJSON(l.path, l.logger, events); err != nil {
		l.logger.Warnf("unable to persist activity log: %v", err)
	}
}
