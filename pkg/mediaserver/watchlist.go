package mediaserver

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"github.com/plexcache-r/plexcache/pkg/encoding"
)

// rssMaxRetries and rssTimeout bound how hard GetWatchlistRSS tries before
// falling back to its on-disk cache, matching the retry/backoff discipline
// a public feed fetch needs since it has no authentication and is subject
// to ordinary internet flakiness.
const (
	rssMaxRetries = 3
	rssTimeout    = 15 * time.Second
)

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title    string `xml:"title"`
	Category string `xml:"category"`
	PubDate  string `xml:"pubDate"`
	Author   string `xml:"author"`
	GUID     string `xml:"guid"`
}

// rssCacheEntry is the on-disk shape for the last successfully fetched
// feed, kept so a transient outage doesn't make a user's whole watchlist
// disappear from consideration.
type rssCacheEntry struct {
	FetchedAt time.Time       `json:"fetchedAt"`
	Items     []WatchlistItem `json:"items"`
}

// GetWatchlistRSS fetches a user's public Plex watchlist RSS feed (the URL
// a user gets from Settings > Watchlist > RSS in Plex) and parses it into
// WatchlistItems. On repeated failure it falls back to the last
// successfully fetched result cached at cachePath, if any.
func (c *Client) GetWatchlistRSS(ctx context.Context, feedURL, username, cachePath string) ([]WatchlistItem, error) {
	var lastErr error
	for attempt := 0; attempt < rssMaxRetries; attempt++ {
		items, err := c.fetchRSSOnce(ctx, feedURL, username)
		if err == nil {
			c.saveRSSCache(cachePath, items)
			return items, nil
		}
		lastErr = err
		if attempt < rssMaxRetries-1 {
			time.Sleep(time.Duration(1<<attempt) * time.Second)
		}
	}

	c.logger.Warnf("failed to fetch watchlist RSS for %s after %d attempts: %v", username, rssMaxRetries, lastErr)
	if cached, ok := c.loadRSSCache(cachePath); ok {
		c.logger.Warnf("using cached watchlist RSS for %s (%d items)", username, len(cached))
		return cached, nil
	}
	return nil, fmt.Errorf("fetching watchlist RSS for %s: %w", username, lastErr)
}

func (c *Client) fetchRSSOnce(ctx context.Context, feedURL, username string) ([]WatchlistItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: rssTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var feed rssFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parsing RSS feed: %w", err)
	}

	items := make([]WatchlistItem, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		watchlistedAt, _ := time.Parse(time.RFC1123Z, item.PubDate)
		items = append(items, WatchlistItem{
			Title:         item.Title,
			Username:      username,
			WatchlistedAt: watchlistedAt,
			GUID:          item.GUID,
		})
	}
	return items, nil
}

func (c *Client) saveRSSCache(cachePath string, items []WatchlistItem) {
	if cachePath == "" {
		return
	}
	entry := rssCacheEntry{FetchedAt: time.Now(), Items: items}
	if err := encoding.MarshalAndSaveJSON(cachePath, c.logger, entry); err != nil {
		c.logger.Debugf("unable to save watchlist RSS cache: %v", err)
	}
}

func (c *Client) loadRSSCache(cachePath string) ([]WatchlistItem, bool) {
	if cachePath == "" {
		return nil, false
	}
	var entry rssCacheEntry
	if err := encoding.LoadAndUnmarshalJSON(cachePath, &entry); err != nil {
		return nil, false
	}
	return entry.Items, len(entry.Items) > 0
}
