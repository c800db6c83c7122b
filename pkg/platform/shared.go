package platform

import (
	"os"
	"strconv"
	"strings"
)

// unraidUserSharePrefixes are the FUSE union mount points whose contents
// are really spread across /mnt/disk1, /mnt/disk2, ... /mnt/user0 is the
// write-bypass view (no cache pool overlay) that move operations prefer
// when resolving a real per-disk path; /mnt/user is the normal read view.
var unraidUserSharePrefixes = []string{"/mnt/user0/", "/mnt/user/"}

// unraidShareRelativeBase strips a /mnt/user(0)/ prefix from path and
// returns the first path component after it (e.g. "data" out of
// "data/media/tv/Show/S01E01.mkv"), which is what gets appended to a
// candidate /mnt/diskN/ root when probing for the real location of a
// share-relative path. Returns ok=false for any path that isn't under a
// recognized share root.
func unraidShareRelativeBase(path string) (string, bool) {
	var relative string
	var matched bool
	for _, prefix := range unraidUserSharePrefixes {
		if strings.HasPrefix(path, prefix) {
			relative = strings.TrimPrefix(path, prefix)
			matched = true
			break
		}
	}
	if !matched {
		return "", false
	}
	if relative == "" {
		return "", false
	}
	return strings.SplitN(relative, "/", 2)[0], true
}

// resolveUser0ToDisk finds which /mnt/diskN actually holds the file a
// /mnt/user0 or /mnt/user path points at, by probing disks in order and
// stat-ing the equivalent path on each. Unraid's FUSE layer doesn't
// expose which physical disk backs a share-relative path, so this is a
// linear search rather than a direct lookup.
func resolveUser0ToDisk(path string) (string, bool) {
	relative, ok := relativeToShareRoot(path)
	if !ok {
		return "", false
	}
	for disk := 1; disk <= maxUnraidDisks; disk++ {
		candidate := "/mnt/disk" + strconv.Itoa(disk) + "/" + relative
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

func relativeToShareRoot(path string) (string, bool) {
	for _, prefix := range unraidUserSharePrefixes {
		if strings.HasPrefix(path, prefix) {
			return strings.TrimPrefix(path, prefix), true
		}
	}
	return "", false
}

// diskNumberFromPath extracts a human-readable disk label ("disk3") from
// a resolved /mnt/diskN/... path, for use in log lines and space-check
// failure reasons. Returns "" if path isn't a disk path.
func diskNumberFromPath(path string) string {
	if !strings.HasPrefix(path, "/mnt/disk") {
		return ""
	}
	rest := strings.TrimPrefix(path, "/mnt/disk")
	end := strings.IndexByte(rest, '/')
	if end == -1 {
		end = len(rest)
	}
	if end == 0 {
		return ""
	}
	if _, err := strconv.Atoi(rest[:end]); err != nil {
		return ""
	}
	return "disk" + rest[:end]
}
