package mediaserver

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
)

// LibraryItem is one item in a library section's top-level listing (a movie,
// or a show) or in a show's episode listing, used to resolve a watchlisted
// title to the file paths plexcache can actually cache. A show-level entry
// has no FilePaths of its own — RatingKey is used to fetch its episodes
// separately via GetShowEpisodes.
type LibraryItem struct {
	Title     string
	GUID      string
	RatingKey string
	FilePaths []string
	Episode   *EpisodePosition
}

// GetLibraryItems lists every top-level item directly under a library
// section: movies for a movie section, shows for a show section.
func (c *Client) GetLibraryItems(ctx context.Context, sectionKey int) ([]LibraryItem, error) {
	path := fmt.Sprintf("/library/sections/%d/all", sectionKey)
	body, err := c.get(ctx, path, fmt.Sprintf("section-%d", sectionKey))
	if err != nil {
		return nil, fmt.Errorf("fetching library section %d: %w", sectionKey, err)
	}

	var items []LibraryItem
	gjson.GetBytes(body, "MediaContainer.Metadata").ForEach(func(_, video gjson.Result) bool {
		items = append(items, LibraryItem{
			Title:     video.Get("title").String(),
			GUID:      video.Get("guid").String(),
			RatingKey: video.Get("ratingKey").String(),
			FilePaths: partFilePaths(video),
		})
		return true
	})
	return items, nil
}

// GetShowEpisodes lists every episode file under the show identified by
// showRatingKey, labeled with showTitle since the episode-listing endpoint
// doesn't repeat the parent show's title on each entry.
func (c *Client) GetShowEpisodes(ctx context.Context, showRatingKey, showTitle string) ([]LibraryItem, error) {
	path := fmt.Sprintf("/library/metadata/%s/allLeaves", showRatingKey)
	body, err := c.get(ctx, path, "")
	if err != nil {
		return nil, fmt.Errorf("fetching episodes for %s: %w", showTitle, err)
	}

	var items []LibraryItem
	gjson.GetBytes(body, "MediaContainer.Metadata").ForEach(func(_, video gjson.Result) bool {
		items = append(items, LibraryItem{
			Title:     video.Get("title").String(),
			FilePaths: partFilePaths(video),
			Episode: &EpisodePosition{
				Show:    showTitle,
				Season:  int(video.Get("parentIndex").Int()),
				Episode: int(video.Get("index").Int()),
			},
		})
		return true
	})
	return items, nil
}
