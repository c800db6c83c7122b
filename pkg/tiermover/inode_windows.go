//go:build windows

package tiermover

import "os"

// Hard-link detection and inode-based seed-copy restoration are Unix-only
// features; Windows callers always see a single "link" with no addressable
// inode.
func hardLinkCount(info os.FileInfo) uint64 { return 1 }
func inodeOf(info os.FileInfo) uint64       { return 0 }
