package mediaserver

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
)

// Section is one library section (e.g. "Movies", "TV Shows") as the server
// reports it, used to resolve a configured section name to the numeric key
// the OnDeck and session endpoints key their entries on.
type Section struct {
	Key   int
	Title string
	Type  string // "movie" or "show"
}

// GetLibrarySections lists every library section the token has access to.
func (c *Client) GetLibrarySections(ctx context.Context) ([]Section, error) {
	body, err := c.get(ctx, "/library/sections", "sections")
	if err != nil {
		return nil, fmt.Errorf("fetching library sections: %w", err)
	}

	var sections []Section
	gjson.GetBytes(body, "MediaContainer.Directory").ForEach(func(_, dir gjson.Result) bool {
		sections = append(sections, Section{
			Key:   int(dir.Get("key").Int()),
			Title: dir.Get("title").String(),
			Type:  dir.Get("type").String(),
		})
		return true
	})
	return sections, nil
}
