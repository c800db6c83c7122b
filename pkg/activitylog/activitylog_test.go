package activitylog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/plexcache-r/plexcache/pkg/logging"
)

func TestAppendAndRecentOrdersNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.json")
	log := New(path, 0, logging.RootLogger)

	log.Append(ActionCached, "/cache/A.mkv", 100, "", "operation")
	log.Append(ActionCached, "/cache/B.mkv", 200, "", "operation")

	events := log.Recent(0)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Path != "/cache/B.mkv" {
		t.Fatalf("expected most recent event first, got %s", events[0].Path)
	}
}

func TestAppendPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.json")
	first := New(path, 0, logging.RootLogger)
	first.Append(ActionRestored, "/real/A.mkv", 50, "", "maintenance")

	second := New(path, 0, logging.RootLogger)
	events := second.Recent(0)
	if len(events) != 1 || events[0].Path != "/real/A.mkv" {
		t.Fatalf("expected persisted event to be visible from a new Log instance, got %v", events)
	}
}

func TestAppendDoesNotLoseConcurrentWriterEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.json")
	writerA := New(path, 0, logging.RootLogger)
	writerB := New(path, 0, logging.RootLogger)

	writerA.Append(ActionCached, "/cache/A.mkv", 1, "", "operation")
	writerB.Append(ActionRestored, "/real/B.mkv", 2, "", "maintenance")
	writerA.Append(ActionMoved, "/cache/C.mkv", 3, "", "operation")

	events := writerB.Recent(0)
	if len(events) != 3 {
		t.Fatalf("expected all three events from both writers preserved, got %d: %v", len(events), events)
	}
}

func TestRetentionFiltersOldEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.json")
	log := New(path, 1, logging.RootLogger)

	stale := Event{ID: "stale", Timestamp: time.Now().Add(-48 * time.Hour), Action: ActionCached, Path: "/cache/old.mkv"}
	log.mu.Lock()
	log.saveLocked([]Event{stale})
	log.mu.Unlock()

	log.Append(ActionCached, "/cache/new.mkv", 10, "", "operation")

	events := log.Recent(0)
	if len(events) != 1 || events[0].Path != "/cache/new.mkv" {
		t.Fatalf("expected stale event filtered out, got %v", events)
	}
}

func TestRecentRespectsLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.json")
	log := New(path, 0, logging.RootLogger)
	for i := 0; i < 5; i++ {
		log.Append(ActionCached, "/cache/x.mkv", 1, "", "operation")
	}

	events := log.Recent(2)
	if len(events) != 2 {
		t.Fatalf("expected limit to cap results to 2, got %d", len(events))
	}
}
