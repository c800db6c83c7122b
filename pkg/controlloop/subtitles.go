package controlloop

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/plexcache-r/plexcache/pkg/mediaidentity"
)

// discoverSubtitles scans the cache-tier directory of every tracked video
// for sibling subtitle files sharing its base filename (allowing a
// language suffix, e.g. "Movie.en.srt" alongside "Movie.mkv"), associating
// any found with the video's tracker entry so they move and evict
// alongside it instead of being treated as independent cache entries.
func (c *ControlLoop) discoverSubtitles() {
	bySubtitle := make(map[string][]string)

	for cachePath := range c.CacheTracker.CachedEntries() {
		if mediaidentity.IsSubtitle(cachePath) {
			continue
		}
		dir := filepath.Dir(cachePath)
		base := strings.TrimSuffix(filepath.Base(cachePath), filepath.Ext(cachePath))

		dirEntries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, de := range dirEntries {
			if de.IsDir() || !mediaidentity.IsSubtitle(de.Name()) {
				continue
			}
			subBase := strings.TrimSuffix(de.Name(), filepath.Ext(de.Name()))
			if subBase != base && !strings.HasPrefix(subBase, base+".") {
				continue
			}
			bySubtitle[cachePath] = append(bySubtitle[cachePath], filepath.Join(dir, de.Name()))
		}
	}

	if len(bySubtitle) > 0 {
		c.CacheTracker.AssociateSubtitles(bySubtitle)
	}
}
