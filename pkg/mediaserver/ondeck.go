package mediaserver

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// GetOnDeck returns every file in the server's OnDeck hub, filtered to
// sections in validSections and items last viewed within daysToMonitor.
// Each episode found also contributes up to numberEpisodes prefetched
// episodes that follow it in the same show, matching the original
// OnDeck-priming behavior of warming the cache ahead of a binge.
func (c *Client) GetOnDeck(ctx context.Context, validSections []int, daysToMonitor, numberEpisodes int) ([]OnDeckItem, error) {
	body, err := c.get(ctx, "/library/onDeck", "ondeck")
	if err != nil {
		return nil, fmt.Errorf("fetching OnDeck hub: %w", err)
	}

	sectionSet := make(map[int]bool, len(validSections))
	for _, s := range validSections {
		sectionSet[s] = true
	}

	var items []OnDeckItem
	metadata := gjson.GetBytes(body, "MediaContainer.Metadata")
	metadata.ForEach(func(_, video gjson.Result) bool {
		sectionKey := int(video.Get("librarySectionID").Int())
		if len(sectionSet) > 0 && !sectionSet[sectionKey] {
			return true
		}

		lastViewed := video.Get("lastViewedAt").Int()
		if lastViewed > 0 {
			age := time.Since(time.Unix(lastViewed, 0))
			if int(age.Hours()/24) > daysToMonitor {
				return true
			}
		}

		filePaths := partFilePaths(video)
		switch video.Get("type").String() {
		case "episode":
			show := video.Get("grandparentTitle").String()
			season := int(video.Get("parentIndex").Int())
			episode := int(video.Get("index").Int())
			for _, p := range filePaths {
				items = append(items, OnDeckItem{
					FilePath:  p,
					Episode:   &EpisodePosition{Show: show, Season: season, Episode: episode},
					IsCurrent: true,
				})
			}
			items = append(items, c.prefetchNextEpisodes(ctx, sectionKey, show, season, episode, numberEpisodes)...)
		case "movie":
			for _, p := range filePaths {
				items = append(items, OnDeckItem{FilePath: p, IsCurrent: true})
			}
		}
		return true
	})

	return items, nil
}

// partFilePaths extracts every Media/Part file path attached to a video
// entry — a file can have multiple parts for multi-version or
// multi-file releases.
func partFilePaths(video gjson.Result) []string {
	var paths []string
	video.Get("Media").ForEach(func(_, media gjson.Result) bool {
		media.Get("Part").ForEach(func(_, part gjson.Result) bool {
			if f := part.Get("file").String(); f != "" {
				paths = append(paths, f)
			}
			return true
		})
		return true
	})
	return paths
}

// prefetchNextEpisodes looks up the remaining episodes of show after
// (season, episode), in airing order, and returns up to numberEpisodes of
// them as non-current OnDeck items so they're cached ahead of time.
func (c *Client) prefetchNextEpisodes(ctx context.Context, sectionKey int, show string, season, episode, numberEpisodes int) []OnDeckItem {
	if numberEpisodes <= 0 {
		return nil
	}

	path := fmt.Sprintf("/library/sections/%d/all?type=4&show.title=%s", sectionKey, show)
	body, err := c.get(ctx, path, "")
	if err != nil {
		c.logger.Debugf("unable to prefetch next episodes for %s: %v", show, err)
		return nil
	}

	var next []OnDeckItem
	gjson.GetBytes(body, "MediaContainer.Metadata").ForEach(func(_, video gjson.Result) bool {
		epSeason := int(video.Get("parentIndex").Int())
		epIndex := int(video.Get("index").Int())
		if !video.Get("parentIndex").Exists() || !video.Get("index").Exists() {
			return true
		}
		after := epSeason > season || (epSeason == season && epIndex > episode)
		if !after {
			return true
		}
		for _, p := range partFilePaths(video) {
			next = append(next, OnDeckItem{
				FilePath:  p,
				Episode:   &EpisodePosition{Show: show, Season: epSeason, Episode: epIndex},
				IsCurrent: false,
			})
			if len(next) >= numberEpisodes {
				return false
			}
		}
		return len(next) < numberEpisodes
	})
	return next
}
