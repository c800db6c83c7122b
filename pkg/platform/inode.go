package platform

import "fmt"

// maxUnraidDisks bounds the disk-number search range; Unraid arrays
// larger than this are not seen in practice.
const maxUnraidDisks = 30

// FindFileByInode searches the array for a file with the given inode
// number, used to restore a hard link instead of copying when a cached
// file's seed copy (e.g. a torrent client's original download) is still
// present somewhere on the array. searchHintPath is the /mnt/user or
// /mnt/user0 path the file used to live at; it's only used to guess which
// disk and top-level share to search, since the inode itself carries no
// path information.
func (a *Adapter) FindFileByInode(inode uint64, searchHintPath string) (string, bool) {
	if inode == 0 {
		return "", false
	}
	searchBase, ok := unraidShareRelativeBase(searchHintPath)
	if !ok {
		return "", false
	}
	for disk := 1; disk <= maxUnraidDisks; disk++ {
		diskPath := fmt.Sprintf("/mnt/disk%d", disk)
		if found, ok := findInodeUnderDisk(diskPath, searchBase, inode); ok {
			return found, true
		}
	}
	return "", false
}
