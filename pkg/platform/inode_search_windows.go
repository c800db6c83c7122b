//go:build windows

package platform

// findInodeUnderDisk is never called on Windows: FindFileByInode bails
// out before reaching it, since there's no /mnt/diskN concept to search.
func findInodeUnderDisk(diskPath, searchBase string, inode uint64) (string, bool) {
	return "", false
}
