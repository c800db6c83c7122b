package cachetracker

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/plexcache-r/plexcache/pkg/logging"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache-timestamps.json")
	return New(path, logging.RootLogger)
}

func TestRecordCacheTimeDoesNotOverwrite(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordCacheTime("/mnt/cache/movies/a.mkv", "ondeck", nil, "movie", nil)

	entries := tr.CachedEntries()
	first := entries["/mnt/cache/movies/a.mkv"].CachedAt

	time.Sleep(time.Millisecond)
	tr.RecordCacheTime("/mnt/cache/movies/a.mkv", "watchlist", nil, "movie", nil)

	entries = tr.CachedEntries()
	entry := entries["/mnt/cache/movies/a.mkv"]
	if !entry.CachedAt.Equal(first) {
		t.Fatalf("expected cache time to remain unchanged, got %v vs %v", entry.CachedAt, first)
	}
	if entry.Source != "ondeck" {
		t.Fatalf("expected original source 'ondeck' to be preserved, got %s", entry.Source)
	}
}

func TestIsWithinRetentionPeriod(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordCacheTime("/mnt/cache/movies/a.mkv", "ondeck", nil, "movie", nil)

	if !tr.IsWithinRetentionPeriod("/mnt/cache/movies/a.mkv", 12) {
		t.Fatal("expected freshly cached file to be within its retention period")
	}
	if tr.IsWithinRetentionPeriod("/mnt/cache/movies/a.mkv", -1) {
		t.Fatal("expected a negative retention window to always be expired")
	}
}

func TestIsWithinRetentionPeriodUnknownPathIsExpired(t *testing.T) {
	tr := newTestTracker(t)
	if tr.IsWithinRetentionPeriod("/mnt/cache/movies/never-tracked.mkv", 12) {
		t.Fatal("expected an untracked path to report as outside its retention period")
	}
}

func TestAssociateSubtitlesAndDelegation(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordCacheTime("/mnt/cache/shows/S01E01.mkv", "ondeck", nil, "episode",
		&EpisodeInfo{Show: "Example", Season: 1, Episode: 1})

	tr.AssociateSubtitles(map[string][]string{
		"/mnt/cache/shows/S01E01.mkv": {"/mnt/cache/shows/S01E01.en.srt"},
	})

	if !tr.IsWithinRetentionPeriod("/mnt/cache/shows/S01E01.en.srt", 12) {
		t.Fatal("expected subtitle to delegate retention check to its parent video")
	}
	if got := tr.Source("/mnt/cache/shows/S01E01.en.srt"); got != "ondeck" {
		t.Fatalf("expected subtitle to delegate source to parent, got %s", got)
	}
	mediaType, episode, ok := tr.MediaInfo("/mnt/cache/shows/S01E01.en.srt")
	if !ok || mediaType != "episode" || episode == nil || episode.Show != "Example" {
		t.Fatalf("expected subtitle to delegate media info to parent, got %s %+v %v", mediaType, episode, ok)
	}

	parent, ok := tr.FindParentVideo("/mnt/cache/shows/S01E01.en.srt")
	if !ok || parent != "/mnt/cache/shows/S01E01.mkv" {
		t.Fatalf("expected reverse index to resolve parent, got %s, %v", parent, ok)
	}

	// The subtitle must not also carry its own standalone tracker entry.
	entries := tr.CachedEntries()
	if _, exists := entries["/mnt/cache/shows/S01E01.en.srt"]; exists {
		t.Fatal("expected subtitle to not have a standalone entry after association")
	}
}

func TestAssociateSubtitlesIsIdempotent(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordCacheTime("/mnt/cache/shows/S01E01.mkv", "ondeck", nil, "episode", nil)

	subs := map[string][]string{
		"/mnt/cache/shows/S01E01.mkv": {"/mnt/cache/shows/S01E01.en.srt"},
	}
	tr.AssociateSubtitles(subs)
	tr.AssociateSubtitles(subs)

	entries := tr.CachedEntries()
	parent := entries["/mnt/cache/shows/S01E01.mkv"]
	if len(parent.Subtitles) != 1 {
		t.Fatalf("expected exactly one subtitle tracked after repeated association, got %v", parent.Subtitles)
	}
}

func TestRemoveEntryParentClearsSubtitleIndex(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordCacheTime("/mnt/cache/shows/S01E01.mkv", "ondeck", nil, "episode", nil)
	tr.AssociateSubtitles(map[string][]string{
		"/mnt/cache/shows/S01E01.mkv": {"/mnt/cache/shows/S01E01.en.srt"},
	})

	tr.RemoveEntry("/mnt/cache/shows/S01E01.mkv")

	if _, ok := tr.FindParentVideo("/mnt/cache/shows/S01E01.en.srt"); ok {
		t.Fatal("expected reverse index entry to be cleared when parent is removed")
	}
}

func TestRemoveEntrySubtitleOnlyStripsFromParent(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordCacheTime("/mnt/cache/shows/S01E01.mkv", "ondeck", nil, "episode", nil)
	tr.AssociateSubtitles(map[string][]string{
		"/mnt/cache/shows/S01E01.mkv": {"/mnt/cache/shows/S01E01.en.srt"},
	})

	tr.RemoveEntry("/mnt/cache/shows/S01E01.en.srt")

	if _, ok := tr.FindParentVideo("/mnt/cache/shows/S01E01.en.srt"); ok {
		t.Fatal("expected subtitle reverse index entry to be removed")
	}
	entries := tr.CachedEntries()
	parent := entries["/mnt/cache/shows/S01E01.mkv"]
	if len(parent.Subtitles) != 0 {
		t.Fatalf("expected parent's subtitle list to be emptied, got %v", parent.Subtitles)
	}
}

func TestCleanupMissingRemovesAbsentFiles(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordCacheTime("/mnt/cache/movies/gone.mkv", "ondeck", nil, "movie", nil)
	tr.RecordCacheTime("/mnt/cache/movies/present.mkv", "ondeck", nil, "movie", nil)

	removed := tr.CleanupMissing(func(path string) bool {
		return path == "/mnt/cache/movies/present.mkv"
	})
	if removed != 1 {
		t.Fatalf("expected 1 entry removed, got %d", removed)
	}
	entries := tr.CachedEntries()
	if _, ok := entries["/mnt/cache/movies/gone.mkv"]; ok {
		t.Fatal("expected missing file's entry to be cleaned up")
	}
	if _, ok := entries["/mnt/cache/movies/present.mkv"]; !ok {
		t.Fatal("expected present file's entry to survive cleanup")
	}
}

func TestOriginalInode(t *testing.T) {
	tr := newTestTracker(t)
	inode := uint64(12345)
	tr.RecordCacheTime("/mnt/cache/movies/hardlinked.mkv", "pre-existing", &inode, "movie", nil)

	got, ok := tr.OriginalInode("/mnt/cache/movies/hardlinked.mkv")
	if !ok || got != inode {
		t.Fatalf("expected original inode %d, got %d, %v", inode, got, ok)
	}
}

func TestPersistsReverseIndexAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache-timestamps.json")
	tr := New(path, logging.RootLogger)
	tr.RecordCacheTime("/mnt/cache/shows/S01E01.mkv", "ondeck", nil, "episode", nil)
	tr.AssociateSubtitles(map[string][]string{
		"/mnt/cache/shows/S01E01.mkv": {"/mnt/cache/shows/S01E01.en.srt"},
	})

	reloaded := New(path, logging.RootLogger)
	parent, ok := reloaded.FindParentVideo("/mnt/cache/shows/S01E01.en.srt")
	if !ok || parent != "/mnt/cache/shows/S01E01.mkv" {
		t.Fatalf("expected reverse index to be rebuilt from persisted subtitle lists, got %s, %v", parent, ok)
	}
}
