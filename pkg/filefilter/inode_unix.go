//go:build !windows

package filefilter

import (
	"os"
	"syscall"
)

// hardLinkCount returns the number of hard links reported for info, or 1 if
// the underlying platform doesn't expose link counts.
func hardLinkCount(info os.FileInfo) uint64 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(stat.Nlink)
	}
	return 1
}

// inodeOf returns info's inode number, or 0 if unavailable.
func inodeOf(info os.FileInfo) uint64 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Ino
	}
	return 0
}
