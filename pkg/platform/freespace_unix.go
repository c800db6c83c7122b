//go:build !windows

package platform

import "golang.org/x/sys/unix"

// freeSpace returns the number of bytes available to an unprivileged
// user on the filesystem containing path.
func freeSpace(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// FreeSpace exposes freeSpace for callers outside this package that need
// to check headroom on an arbitrary filesystem (the cache-size-limit
// pass's min_free_space floor, which applies to the cache drive rather
// than the array disks CheckArraySpace resolves).
func FreeSpace(path string) (int64, error) {
	return freeSpace(path)
}

// TotalSpace returns the total size in bytes of the filesystem containing
// path, used to resolve a percentage-based cache-size limit against the
// drive's actual capacity.
func TotalSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Blocks * uint64(stat.Bsize), nil
}
