// Package platform isolates the handful of operations that behave
// differently depending on the storage system underneath the array: on
// Unraid, the "array" is actually a user-share union of per-disk
// filesystems (/mnt/disk1, /mnt/disk2, ...) presented through a FUSE layer
// at /mnt/user, and free-space and inode queries issued against the FUSE
// path don't reflect the real per-disk state. Everywhere else (a plain
// ZFS pool, a single bind-mounted volume) the array is just a filesystem
// and these operations are a thin pass-through.
package platform

import (
	"fmt"
	"os"
)

// unraidMarkerPath is the file Unraid's boot process creates on every
// array; its presence is the cheapest reliable way to tell a FUSE union
// share apart from an ordinary mount.
const unraidMarkerPath = "/etc/unraid-version"

// minimumSpaceForRename is held back on the destination disk even for a
// pure rename, as a buffer against filesystem metadata overhead and
// concurrent writers; a rename still touches directory entries and can
// fail under a completely exhausted filesystem.
const minimumSpaceForRename = 100 * 1024 * 1024

// Adapter answers the storage-topology questions the cache/array movers
// need without hard-coding Unraid assumptions into their own logic.
type Adapter struct {
	IsUnraid bool
}

// New detects the storage topology of the host the process is running on.
func New() *Adapter {
	_, err := os.Stat(unraidMarkerPath)
	return &Adapter{IsUnraid: err == nil}
}

// SpaceCheck is the outcome of a CheckArraySpace call: whether the target
// disk has enough room, and if not, a human-readable reason a caller can
// surface directly in a log line or a move-failure report.
type SpaceCheck struct {
	Sufficient bool
	Reason     string
}

// CheckArraySpace verifies the array disk that will receive a restored
// file has enough free space before a move is attempted, accounting for
// the three ways a restore can play out: a pure rename of an untouched
// .plexcached backup, an in-place upgrade where the cached file is a
// different size than the backup it supersedes, or a plain copy when no
// backup exists at all. On non-Unraid targets the array is a single
// filesystem with no disk-selection ambiguity, so the check is skipped.
func (a *Adapter) CheckArraySpace(cacheFile, plexcachedFile, arrayFile string) (SpaceCheck, error) {
	if !a.IsUnraid {
		return SpaceCheck{Sufficient: true}, nil
	}

	checkPath := arrayFile
	if info, err := os.Stat(plexcachedFile); err == nil && !info.IsDir() {
		checkPath = plexcachedFile
	}

	diskPath := checkPath
	if resolved, ok := resolveUser0ToDisk(checkPath); ok {
		diskPath = resolved
	}
	diskName := diskNumberFromPath(diskPath)
	if diskName == "" {
		diskName = "unknown disk"
	}

	free, err := freeSpace(diskPath)
	if err != nil {
		return SpaceCheck{}, fmt.Errorf("checking free space on %s: %w", diskName, err)
	}

	var cacheSize int64
	if info, err := os.Stat(cacheFile); err == nil {
		cacheSize = info.Size()
	}

	var required int64
	var operation string
	if backupInfo, err := os.Stat(plexcachedFile); err == nil {
		backupSize := backupInfo.Size()
		switch {
		case cacheSize == 0 || cacheSize == backupSize:
			required = minimumSpaceForRename
			operation = "rename"
		default:
			delta := cacheSize - backupSize
			if delta < 0 {
				delta = 0
			}
			required = delta + minimumSpaceForRename
			operation = fmt.Sprintf("upgrade (%s -> %s)", formatBytes(backupSize), formatBytes(cacheSize))
		}
	} else {
		required = cacheSize + minimumSpaceForRename
		operation = "copy (no .plexcached)"
	}

	if free < required {
		return SpaceCheck{
			Sufficient: false,
			Reason: fmt.Sprintf(
				"insufficient space on %s for %s: need %s, have %s; file will remain on cache",
				diskName, operation, formatBytes(required), formatBytes(free),
			),
		}, nil
	}
	return SpaceCheck{Sufficient: true}, nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for n/div >= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
