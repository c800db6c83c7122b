package mediaserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/plexcache-r/plexcache/pkg/ctlerr"
	"github.com/plexcache-r/plexcache/pkg/logging"
)

func TestGetLibrarySectionsClassifiesUnauthorizedAsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "bad-token", logging.RootLogger)
	_, err := c.GetLibrarySections(context.Background())
	if err == nil {
		t.Fatal("expected an error for a 401 response")
	}
	if got := ctlerr.Classify(err); got != ctlerr.KindAuth {
		t.Fatalf("Classify(err) = %v, want %v", got, ctlerr.KindAuth)
	}
}

func TestGetLibrarySectionsClassifiesRateLimitAsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "token", logging.RootLogger)
	_, err := c.GetLibrarySections(context.Background())
	if err == nil {
		t.Fatal("expected an error for a 429 response")
	}
	if got := ctlerr.Classify(err); got != ctlerr.KindRateLimit || !got.Retryable() {
		t.Fatalf("Classify(err) = %v, want a retryable %v", got, ctlerr.KindRateLimit)
	}
}

func TestGetLibrarySections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/library/sections" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"MediaContainer":{"Directory":[{"key":"1","title":"Movies","type":"movie"},{"key":"2","title":"TV Shows","type":"show"}]}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "token", logging.RootLogger)
	sections, err := c.GetLibrarySections(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sections) != 2 || sections[0].Title != "Movies" || sections[0].Key != 1 {
		t.Fatalf("unexpected sections: %+v", sections)
	}
}

func TestGetOnDeckSeparatesMoviesAndEpisodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/library/onDeck":
			w.Write([]byte(`{"MediaContainer":{"Metadata":[
				{"type":"movie","librarySectionID":1,"Media":[{"Part":[{"file":"/data/movies/Movie.mkv"}]}]},
				{"type":"episode","librarySectionID":2,"grandparentTitle":"Show","parentIndex":1,"index":3,"Media":[{"Part":[{"file":"/data/tv/Show/S01E03.mkv"}]}]}
			]}}`))
		default:
			w.Write([]byte(`{"MediaContainer":{"Metadata":[]}}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "token", logging.RootLogger)
	items, err := c.GetOnDeck(context.Background(), nil, 30, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d: %+v", len(items), items)
	}

	var sawMovie, sawEpisode bool
	for _, item := range items {
		if item.Episode == nil {
			sawMovie = true
		} else if item.Episode.Show == "Show" && item.Episode.Season == 1 && item.Episode.Episode == 3 {
			sawEpisode = true
		}
	}
	if !sawMovie || !sawEpisode {
		t.Fatalf("expected one movie and one episode item, got %+v", items)
	}
}

func TestGetOnDeckFiltersBySection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"MediaContainer":{"Metadata":[
			{"type":"movie","librarySectionID":3,"Media":[{"Part":[{"file":"/excluded.mkv"}]}]}
		]}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "token", logging.RootLogger)
	items, err := c.GetOnDeck(context.Background(), []int{1, 2}, 30, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("expected section 3 to be filtered out, got %+v", items)
	}
}

func TestGetActiveSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"MediaContainer":{"Metadata":[{"Media":[{"Part":[{"file":"/data/movies/Playing.mkv"}]}]}]}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "token", logging.RootLogger)
	paths, err := c.GetActiveSessions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != "/data/movies/Playing.mkv" {
		t.Fatalf("unexpected sessions: %+v", paths)
	}
}

func TestGetWatchlistRSSParsesItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><rss><channel>
			<item><title>Movie (2020)</title><category>movie</category><pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate><author>user1</author><guid>imdb://tt0898367</guid></item>
		</channel></rss>`))
	}))
	defer srv.Close()

	c := New("http://unused", "token", logging.RootLogger)
	items, err := c.GetWatchlistRSS(context.Background(), srv.URL, "user1", filepath.Join(t.TempDir(), "rss-cache.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Title != "Movie (2020)" || items[0].GUID != "imdb://tt0898367" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestGetWatchlistRSSFallsBackToCache(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "rss-cache.json")

	goodSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><rss><channel>
			<item><title>Cached Movie</title><guid>imdb://tt1</guid></item>
		</channel></rss>`))
	}))
	c := New("http://unused", "token", logging.RootLogger)
	if _, err := c.GetWatchlistRSS(context.Background(), goodSrv.URL, "user1", cachePath); err != nil {
		t.Fatal(err)
	}
	goodSrv.Close()

	failingSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failingSrv.Close()

	items, err := c.GetWatchlistRSS(context.Background(), failingSrv.URL, "user1", cachePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Title != "Cached Movie" {
		t.Fatalf("expected cached fallback item, got %+v", items)
	}
}
