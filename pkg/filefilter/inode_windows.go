//go:build windows

package filefilter

import "os"

// hardLinkCount and inodeOf have no meaningful equivalent on Windows; hard
// link detection (and thus original-inode restoration) is a Unix-only
// feature of the cache tracker.
func hardLinkCount(info os.FileInfo) uint64 { return 1 }
func inodeOf(info os.FileInfo) uint64       { return 0 }
