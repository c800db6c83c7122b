// Package sidecar implements the ".plexcached" backup convention: before
// an array-side file is replaced with a cache-tier symlink, the original is
// renamed aside with a ".plexcached" suffix rather than deleted, so a crash
// mid-move or an operator change of heart can always be reversed. Restorer
// provides the emergency "put everything back" recovery path.
package sidecar

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/plexcache-r/plexcache/pkg/logging"
	"github.com/plexcache-r/plexcache/pkg/mediaidentity"
)

// Restorer walks a set of search roots looking for ".plexcached" backup
// files and can rename them back to their original names.
type Restorer struct {
	SearchPaths []string
	logger      *logging.Logger
}

// NewRestorer constructs a Restorer over the given search roots.
func NewRestorer(searchPaths []string, logger *logging.Logger) *Restorer {
	return &Restorer{SearchPaths: searchPaths, logger: logger.Sublogger("sidecar")}
}

// FindAll walks every search path and returns the full path of every
// ".plexcached" file found, skipping dot-prefixed directories (trash/recycle
// bins) along the way.
func (r *Restorer) FindAll() []string {
	var found []string
	for _, root := range r.SearchPaths {
		if _, err := os.Stat(root); err != nil {
			r.logger.Warnf("search path does not exist: %s", root)
			continue
		}
		_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if d.Name() != filepath.Base(root) && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasSuffix(d.Name(), mediaidentity.SidecarExtension) {
				found = append(found, path)
			}
			return nil
		})
	}
	return found
}

// RestoreResult summarizes the outcome of a RestoreAll pass.
type RestoreResult struct {
	Succeeded int
	Failed    int
}

// RestoreAll renames every discovered ".plexcached" file back to its
// original name. If the original location currently holds a symlink (the
// cache-tier placeholder left behind by a plexcache run), the symlink is
// removed first to make way for the restored file; if a real file already
// occupies that location, the restore is skipped as a failure rather than
// overwriting it. With dryRun set, no filesystem changes are made and every
// candidate is counted as a (simulated) success.
func (r *Restorer) RestoreAll(dryRun bool) RestoreResult {
	candidates := r.FindAll()
	r.logger.Printf("found %d .plexcached files to restore", len(candidates))

	var result RestoreResult
	for _, backupPath := range candidates {
		originalPath := strings.TrimSuffix(backupPath, mediaidentity.SidecarExtension)

		if dryRun {
			r.logger.Printf("[dry run] would restore: %s -> %s", backupPath, originalPath)
			result.Succeeded++
			continue
		}

		if err := r.restoreOne(backupPath, originalPath); err != nil {
			r.logger.Warnf("failed to restore %s: %v", backupPath, err)
			result.Failed++
			continue
		}
		r.logger.Printf("restored: %s -> %s", backupPath, originalPath)
		result.Succeeded++
	}

	r.logger.Printf("restore complete: %d succeeded, %d failed", result.Succeeded, result.Failed)
	return result
}

func (r *Restorer) restoreOne(backupPath, originalPath string) error {
	if info, err := os.Lstat(originalPath); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if err := os.Remove(originalPath); err != nil {
				return fmt.Errorf("removing symlink before restore: %w", err)
			}
			r.logger.Printf("removed symlink before restore: %s", originalPath)
		} else {
			return fmt.Errorf("original file already exists, skipping: %s", originalPath)
		}
	}

	if err := os.Rename(backupPath, originalPath); err != nil {
		return fmt.Errorf("renaming backup into place: %w", err)
	}
	return nil
}

// BackupPath returns the sidecar path for originalPath, without performing
// any filesystem operation.
func BackupPath(originalPath string) string {
	return originalPath + mediaidentity.SidecarExtension
}

// CreateBackup renames originalPath aside to its sidecar path, returning the
// backup path. It is the reversible alternative to deleting originalPath
// once its contents are safely present on the cache tier.
func CreateBackup(originalPath string) (string, error) {
	backupPath := BackupPath(originalPath)
	if _, err := os.Stat(backupPath); err == nil {
		return "", fmt.Errorf("backup already exists at %s", backupPath)
	}
	if err := os.Rename(originalPath, backupPath); err != nil {
		return "", fmt.Errorf("creating backup: %w", err)
	}
	return backupPath, nil
}
