//go:build !windows

package tiermover

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// freeSpace returns the number of bytes available to an unprivileged user
// on the filesystem containing path.
func freeSpace(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(path), &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
