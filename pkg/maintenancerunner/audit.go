package maintenancerunner

import (
	"os"
	"path/filepath"

	"github.com/plexcache-r/plexcache/pkg/pathrouter"
	"github.com/plexcache-r/plexcache/pkg/sidecar"
)

// OrphanStatus categorizes why a cache-tier file with no tracker or
// exclude-list entry is considered recoverable without a plain copy back
// to the array.
type OrphanStatus string

const (
	// OrphanHasBackup means the array side still holds a ".plexcached"
	// sidecar for this file — restoring it is a rename, not a copy.
	OrphanHasBackup OrphanStatus = "has-backup"
	// OrphanHasDuplicate means the array already holds a same-path copy of
	// this file (likely created out-of-band) — the cache copy is pure
	// redundancy, removable without any data movement at all.
	OrphanHasDuplicate OrphanStatus = "has-duplicate"
	// OrphanNoBackup means neither a sidecar nor an array-side duplicate
	// exists — the cache copy is the only copy and must be physically
	// copied back before it can be removed from the cache tier.
	OrphanNoBackup OrphanStatus = "no-backup"
)

// OrphanFile is a cache-tier file discovered with no corresponding tracker
// or exclude-list entry — a file plexcache has lost track of, typically
// after an external process touched the cache tier directly.
type OrphanFile struct {
	CachePath string
	ArrayPath string
	Status    OrphanStatus
}

// AuditReport is the result of walking every cacheable directory looking
// for orphaned files.
type AuditReport struct {
	Orphans []OrphanFile
}

// Audit walks every directory in cacheDirs and reports every regular file
// not present in tracked, categorized by whether its array-side backup or
// duplicate already exists.
func Audit(router *pathrouter.Router, cacheDirs []string, tracked map[string]bool) AuditReport {
	var report AuditReport

	for _, dir := range cacheDirs {
		_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if tracked[path] {
				return nil
			}

			arrayPath, _ := router.ConvertCacheToReal(path)
			status := OrphanNoBackup
			if arrayPath != "" {
				if _, err := os.Stat(sidecar.BackupPath(arrayPath)); err == nil {
					status = OrphanHasBackup
				} else if _, err := os.Stat(arrayPath); err == nil {
					status = OrphanHasDuplicate
				}
			}

			report.Orphans = append(report.Orphans, OrphanFile{
				CachePath: path,
				ArrayPath: arrayPath,
				Status:    status,
			})
			return nil
		})
	}
	return report
}
