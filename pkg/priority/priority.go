// Package priority scores cached files on a 0-100 scale so that eviction
// can prefer to remove the least valuable content first: old watchlist
// adds before fresh ones, prefetched future episodes before the episode a
// user is actually partway through, solitary requests before ones shared
// by a whole household.
package priority

import (
	"os"
	"sort"
	"time"

	"github.com/plexcache-r/plexcache/pkg/cachetracker"
	"github.com/plexcache-r/plexcache/pkg/ondecktracker"
	"github.com/plexcache-r/plexcache/pkg/watchlisttracker"
)

// episodesPerSeasonEstimate is used to estimate episode distance across a
// season boundary when scoring how far ahead of OnDeck an episode sits.
// Decided in the absence of real per-show episode counts; see the eviction
// design notes for why this constant was chosen over fetching real season
// lengths from the media server on every scoring pass.
const episodesPerSeasonEstimate = 13

// Scorer calculates priority scores from the three trackers that observe a
// run: cache timestamps (source, media identity), OnDeck membership, and
// watchlist membership.
type Scorer struct {
	CacheTracker      *cachetracker.Tracker
	OnDeckTracker     *ondecktracker.Tracker
	WatchlistTracker  *watchlisttracker.Tracker
	EvictionMinPriority int
	NumberEpisodes      int

	// ActiveOnDeckPaths, when non-nil, restricts the episode-position bonus
	// to paths still protected by OnDeck retention — an item that has
	// already expired off OnDeck shouldn't keep collecting a position
	// bonus. A nil map means OnDeck retention is disabled and every TV
	// episode is eligible for the bonus.
	ActiveOnDeckPaths map[string]bool
}

// Score calculates a 0-100 priority for cachePath. A subtitle file
// delegates entirely to its parent video's score, so that a subtitle and
// its video are always evicted together.
func (s *Scorer) Score(cachePath string) int {
	if parent, ok := s.CacheTracker.FindParentVideo(cachePath); ok {
		return s.Score(parent)
	}

	score := 50

	source := s.CacheTracker.Source(cachePath)
	isOnDeck := source == "ondeck"
	if isOnDeck {
		score += 15
	}

	onDeckEntry, hasOnDeck := s.OnDeckTracker.Get(cachePath)
	watchlistEntry, hasWatchlist := s.WatchlistTracker.Get(cachePath)

	userCount := 0
	if hasOnDeck {
		userCount = len(onDeckEntry.Users)
	}
	if hasWatchlist && len(watchlistEntry.Users) > userCount {
		userCount = len(watchlistEntry.Users)
	}
	score += min(userCount*5, 15)

	hoursCached, hasCachedTime := s.hoursSinceCached(cachePath)
	if hasCachedTime {
		switch {
		case hoursCached < 24:
			score += 5
		case hoursCached < 72:
			score += 3
		}
	}

	if hasWatchlist && !watchlistEntry.WatchlistedAt.IsZero() {
		daysOnWatchlist := daysSince(watchlistEntry.WatchlistedAt)
		switch {
		case daysOnWatchlist < 7:
			score += 10
		case daysOnWatchlist > 60:
			score -= 10
		}
	}

	if isOnDeck && hasOnDeck && !onDeckEntry.FirstSeenAt.IsZero() {
		daysOnOnDeck := daysSince(onDeckEntry.FirstSeenAt)
		switch {
		case daysOnOnDeck < 7:
			score += 5
		case daysOnOnDeck < 14:
			// normal range, no adjustment
		case daysOnOnDeck < 30:
			score -= 5
		default:
			score -= 10
		}
	}

	if s.isTVEpisode(cachePath) && (s.ActiveOnDeckPaths == nil || s.ActiveOnDeckPaths[cachePath]) {
		if episodesAhead, ok := s.episodesAheadOfOnDeck(cachePath); ok {
			switch {
			case episodesAhead == 0:
				score += 15
			case episodesAhead <= max(1, (s.NumberEpisodes+1)/2):
				score += 10
			}
		}
	}

	return clamp(score, 0, 100)
}

func (s *Scorer) hoursSinceCached(cachePath string) (float64, bool) {
	remaining := s.CacheTracker.RetentionRemaining(cachePath, 10000)
	if remaining == 0 {
		return 0, false
	}
	return 10000 - remaining, true
}

func (s *Scorer) isTVEpisode(cachePath string) bool {
	if ep, ok := s.OnDeckTracker.EpisodePosition(cachePath); ok && ep.Show != "" {
		return true
	}
	mediaType, _, ok := s.CacheTracker.MediaInfo(cachePath)
	return ok && mediaType == "episode"
}

// episodesAheadOfOnDeck returns how many episodes cachePath sits ahead of
// the earliest (furthest-behind) OnDeck position for its show: 0 if it IS
// that position, N if it is N episodes later, or false if it is not a TV
// episode or no OnDeck position exists for its show.
func (s *Scorer) episodesAheadOfOnDeck(cachePath string) (int, bool) {
	ep, ok := s.OnDeckTracker.EpisodePosition(cachePath)
	if !ok {
		mediaType, episode, mok := s.CacheTracker.MediaInfo(cachePath)
		if !mok || mediaType != "episode" || episode == nil {
			return 0, false
		}
		ep = ondecktracker.EpisodePosition{Show: episode.Show, Season: episode.Season, Episode: episode.Episode}
	}
	if ep.Show == "" {
		return 0, false
	}
	if ep.IsCurrentOnDeck {
		return 0, true
	}

	position, ok := s.OnDeckTracker.EarliestPositionForShow(ep.Show)
	if !ok {
		return 0, false
	}
	onDeckSeason, onDeckEpisode := position[0], position[1]

	switch {
	case ep.Season < onDeckSeason:
		return 0, false
	case ep.Season == onDeckSeason:
		if ep.Episode <= onDeckEpisode {
			return 0, true
		}
		return ep.Episode - onDeckEpisode, true
	default:
		seasonsAhead := ep.Season - onDeckSeason
		remainingInOnDeckSeason := episodesPerSeasonEstimate - onDeckEpisode
		fullSeasonsBetween := max(0, seasonsAhead-1) * episodesPerSeasonEstimate
		return remainingInOnDeckSeason + fullSeasonsBetween + ep.Episode, true
	}
}

// RankedEntry pairs a cache path with its computed priority, used for
// eviction ordering and reporting.
type RankedEntry struct {
	CachePath string
	Score     int
}

// RankAll scores every path in cachedFiles and returns them sorted
// ascending by score (lowest priority, i.e. first to evict, first).
func (s *Scorer) RankAll(cachedFiles []string) []RankedEntry {
	ranked := make([]RankedEntry, 0, len(cachedFiles))
	for _, path := range cachedFiles {
		ranked = append(ranked, RankedEntry{CachePath: path, Score: s.Score(path)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score < ranked[j].Score
	})
	return ranked
}

// EvictionCandidates returns the cache paths to remove to free at least
// targetBytes, drawn only from entries scoring below EvictionMinPriority,
// lowest score first, stopping as soon as the target is met. Paths that no
// longer exist on disk are skipped rather than counted.
func (s *Scorer) EvictionCandidates(cachedFiles []string, targetBytes int64) []string {
	if targetBytes <= 0 {
		return nil
	}

	var candidates []string
	var accumulated int64
	for _, entry := range s.RankAll(cachedFiles) {
		if entry.Score >= s.EvictionMinPriority {
			continue
		}
		info, err := os.Stat(entry.CachePath)
		if err != nil {
			continue
		}
		candidates = append(candidates, entry.CachePath)
		accumulated += info.Size()
		if accumulated >= targetBytes {
			break
		}
	}
	return candidates
}

func daysSince(t time.Time) float64 {
	return time.Since(t).Hours() / 24
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
