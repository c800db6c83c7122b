package tiermover

import (
	"os"
	"path/filepath"
)

// createSymlink creates a symlink at path pointing to target, removing any
// existing symlink first (so re-caching an already-symlinked file is
// idempotent). Failure is non-fatal to the caller — a missing symlink just
// means the media server needs its library path reconciled manually.
func createSymlink(path, target string) error {
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.Symlink(target, path)
}

// removeEmptyParents walks up from dir, removing empty directories until it
// hits a non-empty one or an error (such as reaching a filesystem root that
// isn't writable). It never removes dir's own ancestry beyond what became
// empty as a direct result of a move, since it stops at the first
// non-empty directory it finds.
func removeEmptyParents(dir string) {
	for {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// findFileByInode walks the whole tree under dir (in lexical order) for a
// file whose inode matches inode — used to restore a
// hard link to a sibling copy (e.g. a torrent client's seed copy) instead
// of performing a full copy back to the array.
func findFileByInode(dir string, inode uint64) (string, bool) {
	var found string
	var ok bool
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if ok || err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if inodeOf(info) == inode {
			found, ok = path, true
		}
		return nil
	})
	return found, ok
}
