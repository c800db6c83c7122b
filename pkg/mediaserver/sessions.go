package mediaserver

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
)

// GetActiveSessions returns the file paths currently being streamed,
// used to protect an in-progress playback from eviction or a move-back to
// the array regardless of what priority scoring or retention would
// otherwise decide.
func (c *Client) GetActiveSessions(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "/status/sessions", "")
	if err != nil {
		return nil, fmt.Errorf("fetching active sessions: %w", err)
	}

	var paths []string
	gjson.GetBytes(body, "MediaContainer.Metadata").ForEach(func(_, video gjson.Result) bool {
		paths = append(paths, partFilePaths(video)...)
		return true
	})
	return paths, nil
}
