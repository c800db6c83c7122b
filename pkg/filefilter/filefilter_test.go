package filefilter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/plexcache-r/plexcache/pkg/cachetracker"
	"github.com/plexcache-r/plexcache/pkg/config"
	"github.com/plexcache-r/plexcache/pkg/excludelist"
	"github.com/plexcache-r/plexcache/pkg/logging"
	"github.com/plexcache-r/plexcache/pkg/ondecktracker"
	"github.com/plexcache-r/plexcache/pkg/pathrouter"
	"github.com/plexcache-r/plexcache/pkg/watchlisttracker"
)

func newTestFilter(t *testing.T) (*Filter, string, string) {
	t.Helper()
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	cache := filepath.Join(dir, "cache")
	if err := os.MkdirAll(real, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(cache, 0o755); err != nil {
		t.Fatal(err)
	}

	router := pathrouter.New([]config.PathMapping{
		{Name: "movies", Enabled: true, PlexPath: "/data/movies", RealPath: real, CachePath: cache, Cacheable: true},
	}, logging.RootLogger)

	ct := cachetracker.New(filepath.Join(dir, "cache.json"), logging.RootLogger)
	od := ondecktracker.New(filepath.Join(dir, "ondeck.json"), logging.RootLogger)
	wl := watchlisttracker.New(filepath.Join(dir, "watchlist.json"), logging.RootLogger)
	ex := excludelist.New(filepath.Join(dir, "exclude.txt"), nil, logging.RootLogger)

	f := New(router, ct, od, wl, ex, logging.RootLogger)
	f.CacheRetentionHours = 48
	f.OnDeckRetentionDays = 7
	f.WatchlistRetentionDays = 30
	return f, real, cache
}

func TestFilterToCacheSeparatesResidentFiles(t *testing.T) {
	f, real, cache := newTestFilter(t)

	alreadyOnCache := filepath.Join(real, "Already Cached (2020).mkv")
	os.WriteFile(alreadyOnCache, []byte("x"), 0o644)
	os.WriteFile(filepath.Join(cache, "Already Cached (2020).mkv"), []byte("x"), 0o644)

	needsCaching := filepath.Join(real, "Needs Caching (2021).mkv")
	os.WriteFile(needsCaching, []byte("x"), 0o644)

	candidates := []CacheCandidate{
		{RealPath: alreadyOnCache, Source: SourceOnDeck, MediaType: "movie"},
		{RealPath: needsCaching, Source: SourceWatchlist, MediaType: "movie"},
	}

	toCache, alreadyCached := f.FilterToCache(candidates)
	if alreadyCached != 1 {
		t.Fatalf("expected 1 already-cached file, got %d", alreadyCached)
	}
	if len(toCache) != 1 || toCache[0].RealPath != needsCaching {
		t.Fatalf("unexpected toCache result: %+v", toCache)
	}

	entries, _ := f.ExcludeList.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected already-cached file to be registered in exclude list, got %v", entries)
	}

	if _, ok := f.CacheTracker.MediaInfo(filepath.Join(cache, "Already Cached (2020).mkv")); !ok {
		t.Fatal("expected cache timestamp to be recorded for already-cached file")
	}
}

func TestBuildNeededMediaSetsFromOnDeckEpisode(t *testing.T) {
	f, _, _ := newTestFilter(t)
	f.OnDeckTracker.UpdateEntry("/data/shows/Show/Season 02/Show - S02E05.mkv", "alice",
		&ondecktracker.EpisodePosition{Show: "Show", Season: 2, Episode: 5}, true)

	needed := BuildNeededMediaSets(f.OnDeckTracker, f.WatchlistTracker, f.CacheTracker)
	if !needed.IsTVEpisodeStillNeeded("Show", 2, 5) {
		t.Fatal("expected current OnDeck episode to be needed")
	}
	if !needed.IsTVEpisodeStillNeeded("show", 2, 8) {
		t.Fatal("expected a later episode in the same season to be needed")
	}
	if needed.IsTVEpisodeStillNeeded("Show", 2, 3) {
		t.Fatal("expected an earlier episode in the same season to be not needed")
	}
	if needed.IsTVEpisodeStillNeeded("Show", 1, 10) {
		t.Fatal("expected a season with no recorded floor to be not needed")
	}
}

func TestBuildNeededMediaSetsFromWatchlistMovie(t *testing.T) {
	f, _, _ := newTestFilter(t)
	f.WatchlistTracker.UpdateEntry("/data/movies/Cool Movie (2020).mkv", "bob", time.Now())

	needed := BuildNeededMediaSets(f.OnDeckTracker, f.WatchlistTracker, f.CacheTracker)
	if !needed.IsMovieNeeded("Cool Movie (2020)") {
		t.Fatal("expected watchlisted movie to be needed")
	}
	if needed.IsMovieNeeded("Other Movie (2019)") {
		t.Fatal("expected unrelated movie to be not needed")
	}
}

func TestPlanMoveBackToArrayMovesEarlierWatchedEpisodeBack(t *testing.T) {
	f, _, cache := newTestFilter(t)

	watchedPath := filepath.Join(cache, "Show - S01E01.mkv")
	os.WriteFile(watchedPath, []byte("x"), 0o644)
	f.CacheTracker.RecordCacheTime(watchedPath, "ondeck", nil, "episode",
		&cachetracker.EpisodeInfo{Show: "Show", Season: 1, Episode: 1})
	// RecordCacheTime always stamps "now", so stand in for an entry aged
	// past its retention window by shrinking the window to zero hours.
	f.CacheRetentionHours = 0

	f.OnDeckTracker.UpdateEntry("/data/shows/Show/Show - S01E05.mkv", "alice",
		&ondecktracker.EpisodePosition{Show: "Show", Season: 1, Episode: 5}, true)
	needed := BuildNeededMediaSets(f.OnDeckTracker, f.WatchlistTracker, f.CacheTracker)

	plan := f.PlanMoveBackToArray(needed)
	if len(plan.ToArray) != 1 || plan.ToArray[0] != watchedPath {
		t.Fatalf("expected watched earlier episode to move back to array, got %+v", plan)
	}
}

func TestPlanMoveBackToArrayKeepsStillNeededEpisode(t *testing.T) {
	f, _, cache := newTestFilter(t)
	f.CacheRetentionHours = 0

	neededPath := filepath.Join(cache, "Show - S01E05.mkv")
	os.WriteFile(neededPath, []byte("x"), 0o644)
	f.CacheTracker.RecordCacheTime(neededPath, "ondeck", nil, "episode",
		&cachetracker.EpisodeInfo{Show: "Show", Season: 1, Episode: 5})

	f.OnDeckTracker.UpdateEntry("/data/shows/Show/Show - S01E05.mkv", "alice",
		&ondecktracker.EpisodePosition{Show: "Show", Season: 1, Episode: 5}, true)
	needed := BuildNeededMediaSets(f.OnDeckTracker, f.WatchlistTracker, f.CacheTracker)

	plan := f.PlanMoveBackToArray(needed)
	if len(plan.ToArray) != 0 {
		t.Fatalf("expected needed episode to stay on cache, got move-back plan %+v", plan)
	}
	if len(plan.RetentionHolds) != 1 {
		t.Fatalf("expected one retention hold, got %+v", plan.RetentionHolds)
	}
}

func TestPlanMoveBackToArrayRespectsActiveSession(t *testing.T) {
	f, real, cache := newTestFilter(t)
	f.CacheRetentionHours = 0

	cachePath := filepath.Join(cache, "Movie (2020).mkv")
	realPath := filepath.Join(real, "Movie (2020).mkv")
	os.WriteFile(cachePath, []byte("x"), 0o644)
	f.CacheTracker.RecordCacheTime(cachePath, "watchlist", nil, "movie", nil)
	f.ActiveSessions[realPath] = true

	plan := f.PlanMoveBackToArray(NeededMedia{MinEpisode: map[string]map[int]int{}, Movies: map[string]bool{}})
	if len(plan.ToArray) != 0 {
		t.Fatalf("expected file with an active session to be protected, got %+v", plan)
	}
}

func TestPlanMoveBackToArrayFindsStaleExcludeEntries(t *testing.T) {
	f, _, _ := newTestFilter(t)
	f.ExcludeList.Add("/mnt/cache/movies/Gone (2019).mkv")

	plan := f.PlanMoveBackToArray(NeededMedia{MinEpisode: map[string]map[int]int{}, Movies: map[string]bool{}})
	if len(plan.StaleExcludeEntries) != 1 {
		t.Fatalf("expected the untracked, nonexistent exclude entry to be reported stale, got %+v", plan)
	}
}

func TestShouldAddToArrayDetectsUpgrade(t *testing.T) {
	f, _, cache := newTestFilter(t)
	oldPath := filepath.Join(cache, "Movie (2020) [WEBDL-1080p].mkv")
	os.WriteFile(oldPath+".plexcached", []byte("x"), 0o644)

	newPath := filepath.Join(cache, "Movie (2020) [HEVC-1080p].mkv")
	if f.ShouldAddToArray(newPath, func(identity string) bool { return false }) {
		t.Fatal("expected an existing sidecar backup with the same identity to prevent re-adding")
	}

	os.Remove(oldPath + ".plexcached")
	if !f.ShouldAddToArray(newPath, func(identity string) bool { return false }) {
		t.Fatal("expected a file with no matching backup and no array copy to need adding")
	}
}

func TestGroupAndFormatRetentionHolds(t *testing.T) {
	holds := []RetentionHold{
		{CachePath: "/mnt/cache/shows/Show/Show - S01E01.mkv", HoursRemaining: 10, DisplayName: "Show - S01E01"},
		{CachePath: "/mnt/cache/shows/Show/Show - S01E02.mkv", HoursRemaining: 12, DisplayName: "Show - S01E02"},
	}
	grouped := GroupRetentionHolds(holds)
	lines := FormatRetentionSummary(grouped, 6)
	if len(lines) != 2 {
		t.Fatalf("expected a header and one grouped line, got %v", lines)
	}
}
