package controlloop

import (
	"context"
	"strings"

	"github.com/plexcache-r/plexcache/pkg/cachetracker"
	"github.com/plexcache-r/plexcache/pkg/filefilter"
	"github.com/plexcache-r/plexcache/pkg/mediaserver"
)

// libraryIndex resolves a watchlisted title to cacheable file paths by
// title match against a listing of every enabled library section's
// contents, built fresh at the start of the watchlist phase of each run.
// Matching by title rather than provider GUID is a deliberate
// simplification: the RSS watchlist feed's GUID namespace doesn't reliably
// line up with the one the media server reports for its own library
// content, while titles almost always do.
type libraryIndex struct {
	movies map[string]mediaserver.LibraryItem
	shows  map[string]mediaserver.LibraryItem
}

func (c *ControlLoop) buildLibraryIndex(ctx context.Context, sections []mediaserver.Section) libraryIndex {
	idx := libraryIndex{movies: make(map[string]mediaserver.LibraryItem), shows: make(map[string]mediaserver.LibraryItem)}
	for _, s := range sections {
		items, err := c.MediaServer.GetLibraryItems(ctx, s.Key)
		if err != nil {
			c.logger.Warnf("unable to list library section %s: %v", s.Title, err)
			continue
		}
		for _, item := range items {
			key := strings.ToLower(item.Title)
			if s.Type == "show" {
				idx.shows[key] = item
			} else {
				idx.movies[key] = item
			}
		}
	}
	return idx
}

// resolveWatchlistItem converts a single watchlist title into cache
// candidates holding real (array) file paths: every remaining episode of
// a watchlisted show, or a watchlisted movie's own file(s). An unmatched
// title (not yet present in the local library, or a title mismatch
// against the RSS feed) yields nothing — it simply isn't cached until a
// later run where the title index and the watchlist line up.
func (c *ControlLoop) resolveWatchlistItem(ctx context.Context, idx libraryIndex, item mediaserver.WatchlistItem) []filefilter.CacheCandidate {
	key := strings.ToLower(item.Title)

	if show, ok := idx.shows[key]; ok {
		episodes, err := c.MediaServer.GetShowEpisodes(ctx, show.RatingKey, show.Title)
		if err != nil {
			c.logger.Warnf("unable to list episodes for watchlisted show %s: %v", show.Title, err)
			return nil
		}
		var candidates []filefilter.CacheCandidate
		for _, ep := range episodes {
			for _, plexPath := range ep.FilePaths {
				realPath, _ := c.Router.ConvertPlexToReal(plexPath)
				candidates = append(candidates, filefilter.CacheCandidate{
					RealPath:  realPath,
					Source:    filefilter.SourceWatchlist,
					MediaType: "episode",
					Episode: &cachetracker.EpisodeInfo{
						Show:    ep.Episode.Show,
						Season:  ep.Episode.Season,
						Episode: ep.Episode.Episode,
					},
				})
			}
		}
		return candidates
	}

	if movie, ok := idx.movies[key]; ok {
		var candidates []filefilter.CacheCandidate
		for _, plexPath := range movie.FilePaths {
			realPath, _ := c.Router.ConvertPlexToReal(plexPath)
			candidates = append(candidates, filefilter.CacheCandidate{RealPath: realPath, Source: filefilter.SourceWatchlist, MediaType: "movie"})
		}
		return candidates
	}

	return nil
}
