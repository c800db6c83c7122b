// Package mediaserver talks to a Plex Media Server (and, for watchlist
// data, Plex's public per-user RSS feed) to discover which files belong on
// the cache tier: OnDeck hub contents, watchlisted titles, and currently
// playing sessions.
package mediaserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/plexcache-r/plexcache/pkg/ctlerr"
	"github.com/plexcache-r/plexcache/pkg/logging"
)

// EpisodePosition identifies a TV episode's place within its show.
type EpisodePosition struct {
	Show    string
	Season  int
	Episode int
}

// OnDeckItem is one file found in a user's OnDeck hub, either the episode
// they're actually partway through (IsCurrent) or one of the
// NumberEpisodes prefetched episodes that follow it.
type OnDeckItem struct {
	FilePath  string
	Username  string
	Episode   *EpisodePosition
	IsCurrent bool
}

// WatchlistItem is one title on a user's watchlist, resolved (by the
// caller, against local library metadata) to zero or more cache-eligible
// file paths.
type WatchlistItem struct {
	Title         string
	Username      string
	WatchlistedAt time.Time
	GUID          string // e.g. "imdb://tt0898367"; library resolution matches by Title, not GUID
}

// responseCacheTTL bounds how long a section or OnDeck listing is reused
// across calls within the same run, avoiding redundant round trips when
// several collaborators ask about the same server state in quick
// succession.
const responseCacheTTL = 30 * time.Second

// Client is a thin HTTP client against one Plex Media Server's API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	logger     *logging.Logger

	cache *gocache.Cache
}

// New constructs a Client targeting baseURL (e.g. "http://localhost:32400")
// authenticated with token.
func New(baseURL, token string, logger *logging.Logger) *Client {
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.Sublogger("mediaserver"),
		cache:      gocache.New(responseCacheTTL, 2*responseCacheTTL),
	}
}

// get issues an authenticated GET against path (relative to BaseURL),
// requesting JSON, and returns the raw response body. Successful GETs on
// the section-listing and OnDeck endpoints are cached for
// responseCacheTTL; callers needing fresh data (such as the session
// listing) pass a cacheKey of "" to bypass the cache.
func (c *Client) get(ctx context.Context, path, cacheKey string) ([]byte, error) {
	if cacheKey != "" {
		if cached, ok := c.cache.Get(cacheKey); ok {
			return cached.([]byte), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-Plex-Token", c.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ctlerr.Wrap("requesting "+path, &ctlerr.HTTPStatusError{StatusCode: resp.StatusCode, Path: path})
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ctlerr.Wrap("requesting "+path, &ctlerr.HTTPStatusError{StatusCode: resp.StatusCode, Path: path})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", path, err)
	}

	if cacheKey != "" {
		c.cache.Set(cacheKey, body, gocache.DefaultExpiration)
	}
	return body, nil
}
