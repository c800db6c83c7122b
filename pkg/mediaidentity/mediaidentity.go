// Package mediaidentity provides the small set of filename-based helpers
// shared across the cache trackers, sidecar restorer, and file filter:
// recognizing subtitle files by extension, and deriving a quality/codec
// agnostic "media identity" from a filename so a file that Radarr/Sonarr
// re-downloaded in a different resolution can still be matched against its
// previous cached/backed-up copy.
package mediaidentity

import (
	"os"
	"path/filepath"
	"strings"
)

// SidecarExtension is the suffix appended to an array-side file to mark it
// as a reversible backup created before the original was replaced by a
// cache-tier symlink.
const SidecarExtension = ".plexcached"

// subtitleExtensions lists the file extensions treated as subtitles for
// delegation purposes (subtitle files inherit their parent video's
// retention, priority, and source metadata rather than tracking their own).
var subtitleExtensions = map[string]bool{
	".srt": true,
	".ass": true,
	".ssa": true,
	".vtt": true,
	".sub": true,
	".idx": true,
	".smi": true,
}

// IsSubtitle reports whether path has a recognized subtitle extension.
func IsSubtitle(path string) bool {
	return subtitleExtensions[strings.ToLower(filepath.Ext(path))]
}

// Identity extracts the quality/codec-agnostic core of a filename, so that
// "Wreck-It Ralph (2012) [WEBDL-1080p].mkv" and
// "Wreck-It Ralph (2012) [HEVC-1080p].mkv" both yield
// "Wreck-It Ralph (2012)" — letting an upgraded file be recognized as the
// same title rather than a brand-new one.
func Identity(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, SidecarExtension)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if idx := strings.Index(name, "["); idx >= 0 {
		name = name[:idx]
	}
	name = strings.TrimRight(strings.TrimSpace(name), "- ")
	name = strings.TrimSuffix(name, "-")
	return strings.TrimSpace(name)
}

// FindMatchingSidecar searches dir for a sidecar file (one ending in
// SidecarExtension) whose Identity matches identity and whose underlying
// file type (subtitle vs. video) matches sourceIsSubtitle, returning its
// full path if found. Type-matching prevents a subtitle's cached entry
// from being confused with its video's backup, and vice versa.
func FindMatchingSidecar(dir, identity string, sourceIsSubtitle bool) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), SidecarExtension) {
			continue
		}
		originalName := strings.TrimSuffix(entry.Name(), SidecarExtension)
		if IsSubtitle(originalName) != sourceIsSubtitle {
			continue
		}
		if Identity(entry.Name()) == identity {
			return filepath.Join(dir, entry.Name()), true
		}
	}
	return "", false
}
