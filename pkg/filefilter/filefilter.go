// Package filefilter decides, for each array-side file a media server
// reports as OnDeck or watchlisted, whether it belongs on the cache tier
// right now, and decides, for each file already on the cache tier, whether
// it has aged out and can move back to the array. It is the policy layer
// sitting between the path-translation/tracking packages and the mover that
// actually copies bytes.
package filefilter

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/plexcache-r/plexcache/pkg/cachetracker"
	"github.com/plexcache-r/plexcache/pkg/excludelist"
	"github.com/plexcache-r/plexcache/pkg/logging"
	"github.com/plexcache-r/plexcache/pkg/mediaidentity"
	"github.com/plexcache-r/plexcache/pkg/ondecktracker"
	"github.com/plexcache-r/plexcache/pkg/pathrouter"
	"github.com/plexcache-r/plexcache/pkg/watchlisttracker"
)

// CandidateSource identifies why a file is being considered for caching.
type CandidateSource string

// Recognized candidate sources, also used as cachetracker.Entry.Source
// values.
const (
	SourceOnDeck     CandidateSource = "ondeck"
	SourceWatchlist  CandidateSource = "watchlist"
	SourcePreExisting CandidateSource = "pre-existing"
)

// CacheCandidate is a single array-side file under consideration for the
// cache tier.
type CacheCandidate struct {
	RealPath  string
	Source    CandidateSource
	MediaType string // "movie" or "episode"; empty if unknown.
	Episode   *cachetracker.EpisodeInfo
}

// Filter holds the trackers and path router a run needs to classify files.
type Filter struct {
	Router           *pathrouter.Router
	CacheTracker     *cachetracker.Tracker
	OnDeckTracker    *ondecktracker.Tracker
	WatchlistTracker *watchlisttracker.Tracker
	ExcludeList      *excludelist.List
	logger           *logging.Logger

	// CacheRetentionHours is the minimum time a freshly cached file is
	// protected from move-back regardless of OnDeck/watchlist state.
	CacheRetentionHours int
	// OnDeckRetentionDays and WatchlistRetentionDays gate per-source expiry;
	// see ondecktracker.IsExpired and watchlisttracker.IsExpired.
	OnDeckRetentionDays    float64
	WatchlistRetentionDays float64
	// ActiveSessions holds real (array) paths currently being streamed by
	// the media server; a file with an active session is never moved back
	// regardless of retention or need, since doing so would interrupt
	// playback.
	ActiveSessions map[string]bool
}

// New constructs a Filter.
func New(router *pathrouter.Router, cache *cachetracker.Tracker, onDeck *ondecktracker.Tracker,
	watchlist *watchlisttracker.Tracker, excludeList *excludelist.List, logger *logging.Logger) *Filter {
	return &Filter{
		Router:           router,
		CacheTracker:     cache,
		OnDeckTracker:    onDeck,
		WatchlistTracker: watchlist,
		ExcludeList:      excludeList,
		logger:           logger.Sublogger("filefilter"),
		ActiveSessions:   make(map[string]bool),
	}
}

// CachePathFor translates realPath into its cache-tier equivalent, reporting
// false if realPath's library is not cacheable or has no mapping.
func (f *Filter) CachePathFor(realPath string) (string, bool) {
	cachePath, mapping := f.Router.ConvertRealToCache(realPath)
	if cachePath == "" {
		if mapping != nil {
			f.logger.Debugf("library not cacheable, skipping: %s", realPath)
		}
		return "", false
	}
	return cachePath, true
}

// FilterToCache partitions candidates into files that still need to be
// copied to the cache tier (toCache) versus ones that are already resident
// there. Already-resident files are handled inline via protectCachedFile so
// a subsequent run doesn't try to re-copy them and doesn't let another
// process sweep them off the cache mid-run.
func (f *Filter) FilterToCache(candidates []CacheCandidate) (toCache []CacheCandidate, alreadyCached int) {
	for _, c := range candidates {
		cachePath, ok := f.CachePathFor(c.RealPath)
		if !ok {
			continue
		}

		if _, err := os.Lstat(cachePath); err == nil {
			f.protectCachedFile(c, cachePath)
			alreadyCached++
			continue
		}

		toCache = append(toCache, c)
	}
	return toCache, alreadyCached
}

// protectCachedFile runs the bookkeeping side effects for a file that is
// already on the cache tier: registering it with the exclude list so an
// external mover doesn't sweep it away mid-run, recording its cache
// timestamp if this is the first run to see it there, and sweeping any
// exclude-list residue left behind by a since-upgraded predecessor file.
func (f *Filter) protectCachedFile(c CacheCandidate, cachePath string) {
	f.ExcludeList.Add(cachePath)

	var inode *uint64
	if info, err := os.Stat(cachePath); err == nil {
		if n := hardLinkCount(info); n > 1 {
			if realInfo, err := os.Stat(c.RealPath); err == nil {
				ino := inodeOf(realInfo)
				inode = &ino
			}
		}
	}

	f.CacheTracker.RecordCacheTime(cachePath, string(c.Source), inode, c.MediaType, c.Episode)

	if removed := f.ExcludeList.CleanupStale(cachePath, func(p string) bool {
		_, err := os.Lstat(p)
		return err == nil
	}); removed > 0 {
		f.logger.Debugf("swept %d stale exclude entries superseded by %s", removed, filepath.Base(cachePath))
	}
}

// ShouldAddToArray reports whether cachePath has no array-side counterpart
// at all: no ".plexcached" backup with the same media identity in its
// directory (which would make it the same file or a superseded one, such as
// the old name of a Radarr/Sonarr quality upgrade) and no array file for
// which arrayExists reports true.
func (f *Filter) ShouldAddToArray(cachePath string, arrayExists func(identity string) bool) bool {
	dir := filepath.Dir(cachePath)
	identity := mediaidentity.Identity(cachePath)
	isSubtitle := mediaidentity.IsSubtitle(cachePath)

	if _, found := mediaidentity.FindMatchingSidecar(dir, identity, isSubtitle); found {
		// An array-side backup with the same identity already exists; this
		// is either the same file or a superseded one, not a new upgrade.
		return false
	}
	return !arrayExists(identity)
}

// NeededMedia is the set of TV episodes and movies still wanted on the
// cache tier, derived from what is currently OnDeck or watchlisted. An
// episode at or after a show-and-season's minimum needed episode is still
// needed; earlier episodes in that season are assumed already watched and
// can move back to the array.
type NeededMedia struct {
	// MinEpisode[show][season] is the lowest episode number still needed
	// in that season. show keys are lower-cased.
	MinEpisode map[string]map[int]int
	// Movies holds the media identity (see mediaidentity.Identity) of every
	// movie still needed, lower-cased.
	Movies map[string]bool
}

// BuildNeededMediaSets scans the OnDeck and watchlist trackers for
// currently-needed media. Every OnDeck entry's episode position establishes
// a floor for its (show, season); every OnDeck or watchlisted movie (any
// path whose cache-tracker media type is "movie", or whose media type is
// unknown) is recorded by media identity so later-episode/earlier-episode
// comparisons and movie identity comparisons don't require a live media
// server query.
func BuildNeededMediaSets(onDeck *ondecktracker.Tracker, watchlist *watchlisttracker.Tracker, cache *cachetracker.Tracker) NeededMedia {
	needed := NeededMedia{
		MinEpisode: make(map[string]map[int]int),
		Movies:     make(map[string]bool),
	}

	for path, entry := range onDeck.All() {
		if entry.Episode != nil {
			needed.addEpisodeFloor(entry.Episode.Show, entry.Episode.Season, entry.Episode.Episode)
			continue
		}
		needed.addMovieIfKnown(path, cache)
	}

	for path := range watchlist.All() {
		if mediaType, episode, ok := cache.MediaInfo(path); ok && mediaType == "episode" && episode != nil {
			needed.addEpisodeFloor(episode.Show, episode.Season, episode.Episode)
			continue
		}
		needed.addMovieIfKnown(path, cache)
	}

	return needed
}

func (n NeededMedia) addEpisodeFloor(show string, season, episode int) {
	show = strings.ToLower(show)
	if n.MinEpisode[show] == nil {
		n.MinEpisode[show] = make(map[int]int)
	}
	if existing, ok := n.MinEpisode[show][season]; !ok || episode < existing {
		n.MinEpisode[show][season] = episode
	}
}

func (n NeededMedia) addMovieIfKnown(path string, cache *cachetracker.Tracker) {
	if mediaType, _, ok := cache.MediaInfo(path); ok && mediaType == "episode" {
		return
	}
	n.Movies[strings.ToLower(mediaidentity.Identity(path))] = true
}

// IsTVEpisodeStillNeeded reports whether the given episode is at or after
// the minimum needed episode recorded for its (show, season). A season with
// no recorded floor is assumed fully watched (not needed); an unknown show
// is assumed not needed, since only shows with something currently OnDeck
// or watchlisted appear in the set at all.
func (n NeededMedia) IsTVEpisodeStillNeeded(show string, season, episode int) bool {
	seasons, ok := n.MinEpisode[strings.ToLower(show)]
	if !ok {
		return false
	}
	minEpisode, ok := seasons[season]
	if !ok {
		return false
	}
	return episode >= minEpisode
}

// IsMovieNeeded reports whether identity (see mediaidentity.Identity)
// matches a currently OnDeck or watchlisted movie.
func (n NeededMedia) IsMovieNeeded(identity string) bool {
	return n.Movies[strings.ToLower(identity)]
}

// RetentionHold explains why a single cached file is being kept rather than
// moved back to the array.
type RetentionHold struct {
	CachePath      string
	HoursRemaining float64
	DisplayName    string
}

// MoveBackPlan is the result of scanning the cache tier for files that can
// return to the array.
type MoveBackPlan struct {
	// ToArray lists cache paths ready to move back to the array.
	ToArray []string
	// StaleExcludeEntries lists exclude-file entries safe to remove right
	// now — residue from files no longer on the cache tier at all.
	StaleExcludeEntries []string
	// PendingExcludeEntries lists exclude-file entries that correspond 1:1
	// with ToArray; the caller must only remove these once the matching
	// move-back actually succeeds, since the entry is still protecting a
	// file that is, for the moment, still sitting on the cache tier.
	PendingExcludeEntries []string
	// RetentionHolds explains every file that stayed on cache this pass.
	RetentionHolds []RetentionHold
}

// PlanMoveBackToArray inspects every cached file against needed, active
// sessions, and retention windows, producing the set that can safely leave
// the cache tier now.
func (f *Filter) PlanMoveBackToArray(needed NeededMedia) MoveBackPlan {
	var plan MoveBackPlan

	excludeEntries, err := f.ExcludeList.Entries()
	if err != nil {
		f.logger.Warnf("unable to read exclude file while planning move-back: %v", err)
	}
	excludeSet := make(map[string]bool, len(excludeEntries))
	for _, e := range excludeEntries {
		excludeSet[e] = true
	}

	for cachePath, entry := range f.CacheTracker.CachedEntries() {
		if mediaidentity.IsSubtitle(cachePath) {
			continue // subtitles move with their parent video, never independently
		}
		if _, err := os.Lstat(cachePath); err != nil {
			continue // not actually on cache; CleanupMissing handles tracker hygiene separately
		}

		realPath, _ := f.Router.ConvertCacheToReal(cachePath)
		if realPath != "" && f.ActiveSessions[realPath] {
			continue
		}

		if still, reason := f.stillNeeded(cachePath, entry, needed); still {
			plan.RetentionHolds = append(plan.RetentionHolds, RetentionHold{
				CachePath:      cachePath,
				HoursRemaining: f.CacheTracker.RetentionRemaining(cachePath, f.CacheRetentionHours),
				DisplayName:    displayName(cachePath) + " (" + reason + ")",
			})
			continue
		}

		plan.ToArray = append(plan.ToArray, cachePath)
		if excludeSet[cachePath] {
			plan.PendingExcludeEntries = append(plan.PendingExcludeEntries, cachePath)
		}
	}

	tracked := f.CacheTracker.CachedEntries()
	for entry := range excludeSet {
		if _, isTracked := tracked[entry]; isTracked {
			continue
		}
		if _, err := os.Lstat(entry); err != nil {
			plan.StaleExcludeEntries = append(plan.StaleExcludeEntries, entry)
		}
	}

	return plan
}

// stillNeeded reports whether cachePath must remain on the cache tier, and
// a short human-readable reason if so.
func (f *Filter) stillNeeded(cachePath string, entry cachetracker.Entry, needed NeededMedia) (bool, string) {
	if f.CacheTracker.IsWithinRetentionPeriod(cachePath, f.CacheRetentionHours) {
		return true, "within retention window"
	}

	if entry.MediaType == "episode" && entry.Episode != nil {
		if needed.IsTVEpisodeStillNeeded(entry.Episode.Show, entry.Episode.Season, entry.Episode.Episode) {
			return true, "still OnDeck/watchlisted"
		}
	} else if needed.IsMovieNeeded(mediaidentity.Identity(cachePath)) {
		return true, "still OnDeck/watchlisted"
	}

	switch entry.Source {
	case string(SourceOnDeck):
		realPath, _ := f.Router.ConvertCacheToReal(cachePath)
		if _, onDeck := f.OnDeckTracker.Get(realPath); onDeck && !f.OnDeckTracker.IsExpired(realPath, f.OnDeckRetentionDays) {
			return true, "OnDeck retention not yet elapsed"
		}
	case string(SourceWatchlist):
		if !f.WatchlistTracker.IsExpired(cachePath, f.WatchlistRetentionDays) {
			return true, "watchlist retention not yet elapsed"
		}
	}

	return false, ""
}

// episodeTag matches an "SxxEyy" episode tag and everything after it in a
// media identity, leaving the show name in front of it.
var episodeTag = regexp.MustCompile(`(?i)[\s.-]*\bS\d+E\d+.*$`)

// GroupRetentionHolds groups holds by show (the media identity with any
// episode tag removed; a movie keeps its whole identity), so a show with
// many held-back episodes logs as one line instead of one per episode.
func GroupRetentionHolds(holds []RetentionHold) map[string][]RetentionHold {
	grouped := make(map[string][]RetentionHold)
	for _, h := range holds {
		key := mediaidentity.Identity(h.CachePath)
		if show := strings.TrimSpace(episodeTag.ReplaceAllString(key, "")); show != "" {
			key = show
		}
		grouped[key] = append(grouped[key], h)
	}
	return grouped
}

// FormatRetentionSummary renders grouped retention holds as human-readable
// log lines, capping the number of titles shown and summarizing the rest.
func FormatRetentionSummary(grouped map[string][]RetentionHold, maxTitles int) []string {
	total := 0
	for _, v := range grouped {
		total += len(v)
	}
	if total == 0 {
		return nil
	}

	type titleGroup struct {
		title   string
		entries []RetentionHold
	}
	sorted := make([]titleGroup, 0, len(grouped))
	for title, entries := range grouped {
		sorted = append(sorted, titleGroup{title, entries})
	}
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i].entries) > len(sorted[j].entries) })

	unit := func(n int) string {
		if n == 1 {
			return "file"
		}
		return "files"
	}

	lines := []string{fmt.Sprintf("Retention holds (%d %s):", total, unit(total))}
	shown := 0
	for i, g := range sorted {
		if i >= maxTitles {
			remainingTitles := len(sorted) - maxTitles
			remainingCount := total - shown
			lines = append(lines, fmt.Sprintf("  ...and %d more titles (%d %s)", remainingTitles, remainingCount, unit(remainingCount)))
			break
		}

		minHours, maxHours := g.entries[0].HoursRemaining, g.entries[0].HoursRemaining
		for _, e := range g.entries[1:] {
			if e.HoursRemaining < minHours {
				minHours = e.HoursRemaining
			}
			if e.HoursRemaining > maxHours {
				maxHours = e.HoursRemaining
			}
		}
		timeStr := formatHoursRange(minHours, maxHours)
		lines = append(lines, fmt.Sprintf("  %s: %d %s (%s remaining)", g.title, len(g.entries), unit(len(g.entries)), timeStr))
		shown += len(g.entries)
	}
	return lines
}

func formatHoursRange(min, max float64) string {
	minRounded, maxRounded := int(min + 0.5), int(max + 0.5)
	if minRounded == maxRounded {
		if minRounded >= 1 {
			return fmt.Sprintf("%dh", minRounded)
		}
		return fmt.Sprintf("%dm", int(min*60+0.5))
	}
	return fmt.Sprintf("%d-%dh", minRounded, maxRounded)
}

// displayName extracts a human-readable title from a cache path: quality
// and codec tags in brackets are stripped, along with trailing dashes.
func displayName(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if idx := strings.Index(name, "["); idx >= 0 {
		name = name[:idx]
	}
	name = strings.TrimRight(strings.TrimSpace(name), "- ")
	if name == "" {
		return filepath.Base(path)
	}
	return name
}
