package ondecktracker

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/plexcache-r/plexcache/pkg/logging"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "ondeck.json"), logging.RootLogger)
}

func TestUpdateEntryNewAndExisting(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdateEntry("/data/shows/S01E01.mkv", "Brandon", nil, true)

	entry, ok := tr.Get("/data/shows/S01E01.mkv")
	if !ok || len(entry.Users) != 1 || entry.FirstSeenAt.IsZero() {
		t.Fatalf("unexpected entry: %+v, %v", entry, ok)
	}

	tr.UpdateEntry("/data/shows/S01E01.mkv", "Home", nil, false)
	entry, _ = tr.Get("/data/shows/S01E01.mkv")
	if len(entry.Users) != 2 {
		t.Fatalf("expected second user appended, got %v", entry.Users)
	}
	if len(entry.OnDeckUsers) != 1 || entry.OnDeckUsers[0] != "Brandon" {
		t.Fatalf("expected only Brandon as current OnDeck user, got %v", entry.OnDeckUsers)
	}
}

func TestEpisodeInfoUpgradesToCurrentOnDeck(t *testing.T) {
	tr := newTestTracker(t)
	ep := EpisodePosition{Show: "Foundation", Season: 2, Episode: 5}
	tr.UpdateEntry("/data/shows/S02E05.mkv", "Brandon", &ep, false)

	got, ok := tr.EpisodePosition("/data/shows/S02E05.mkv")
	if !ok || got.IsCurrentOnDeck {
		t.Fatalf("expected prefetched episode to not be current OnDeck yet, got %+v", got)
	}

	tr.UpdateEntry("/data/shows/S02E05.mkv", "Home", &ep, true)
	got, _ = tr.EpisodePosition("/data/shows/S02E05.mkv")
	if !got.IsCurrentOnDeck {
		t.Fatal("expected episode to upgrade to current OnDeck once any user has it current")
	}
}

func TestPositionsForShowAndEarliest(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdateEntry("/data/shows/S02E05.mkv", "Brandon", &EpisodePosition{Show: "Foundation", Season: 2, Episode: 5}, true)
	tr.UpdateEntry("/data/shows/S01E10.mkv", "Home", &EpisodePosition{Show: "Foundation", Season: 1, Episode: 10}, true)

	earliest, ok := tr.EarliestPositionForShow("foundation")
	if !ok || earliest != [2]int{1, 10} {
		t.Fatalf("expected earliest position (1,10), got %v, %v", earliest, ok)
	}
}

func TestPrepareForRunAndCleanupUnseen(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdateEntry("/data/shows/a.mkv", "Brandon", nil, true)
	tr.UpdateEntry("/data/shows/b.mkv", "Brandon", nil, true)

	tr.PrepareForRun()
	tr.UpdateEntry("/data/shows/a.mkv", "Brandon", nil, true)
	// b.mkv is not refreshed this run — simulates falling off OnDeck.

	removed := tr.CleanupUnseen()
	if removed != 1 {
		t.Fatalf("expected 1 unseen entry removed, got %d", removed)
	}
	if _, ok := tr.Get("/data/shows/b.mkv"); ok {
		t.Fatal("expected b.mkv entry to be removed")
	}
	if _, ok := tr.Get("/data/shows/a.mkv"); !ok {
		t.Fatal("expected a.mkv entry to survive")
	}
}

func TestPrepareForRunPreservesFirstSeen(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdateEntry("/data/shows/a.mkv", "Brandon", nil, true)
	entry, _ := tr.Get("/data/shows/a.mkv")
	original := entry.FirstSeenAt

	tr.PrepareForRun()
	tr.UpdateEntry("/data/shows/a.mkv", "Brandon", nil, true)

	entry, _ = tr.Get("/data/shows/a.mkv")
	if !entry.FirstSeenAt.Equal(original) {
		t.Fatalf("expected FirstSeenAt to survive a prepare/update cycle, got %v vs %v", entry.FirstSeenAt, original)
	}
}

func TestIsExpiredRequiresAllUsersExpired(t *testing.T) {
	tr := newTestTracker(t)
	tr.mu.Lock()
	tr.data["/data/shows/a.mkv"] = Entry{
		Users: []string{"Brandon", "Home"},
		UserFirstSeen: map[string]time.Time{
			"Brandon": time.Now().Add(-40 * 24 * time.Hour),
			"Home":    time.Now().Add(-1 * time.Hour),
		},
		FirstSeenAt: time.Now().Add(-40 * 24 * time.Hour),
	}
	tr.mu.Unlock()

	if tr.IsExpired("/data/shows/a.mkv", 30) {
		t.Fatal("expected item to stay protected while any user is within retention")
	}

	tr.mu.Lock()
	entry := tr.data["/data/shows/a.mkv"]
	entry.UserFirstSeen["Home"] = time.Now().Add(-40 * 24 * time.Hour)
	tr.data["/data/shows/a.mkv"] = entry
	tr.mu.Unlock()

	if !tr.IsExpired("/data/shows/a.mkv", 30) {
		t.Fatal("expected item to expire once all users exceed retention")
	}
}

func TestCleanupStaleEntries(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdateEntry("/data/shows/a.mkv", "Brandon", nil, true)

	tr.mu.Lock()
	entry := tr.data["/data/shows/a.mkv"]
	entry.LastSeenAt = time.Now().Add(-48 * time.Hour)
	tr.data["/data/shows/a.mkv"] = entry
	tr.mu.Unlock()

	removed := tr.CleanupStaleEntries(24 * time.Hour)
	if removed != 1 {
		t.Fatalf("expected 1 stale entry removed, got %d", removed)
	}
}
