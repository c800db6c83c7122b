package controlloop

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/plexcache-r/plexcache/pkg/sidecar"
)

// migrationConcurrency bounds how many backup copies run at once during
// the one-time migration pass — generous, since these are whole-file
// copies run just once per deployment rather than on every scheduled run.
const migrationConcurrency = 4

// MigrationResult summarizes a one-time backup-migration pass.
type MigrationResult struct {
	BackupsCreated int
	Errors         int
}

// runOneTimeMigration creates a ".plexcached" backup for every cache-tier
// file the exclude list already tracks but that has no backup yet — the
// case of a deployment upgrading from a version that deleted array
// originals outright instead of renaming them aside. It is a no-op once
// the migration flag file exists in the data directory.
//
// Grounded on the original implementation's PlexcachedMigration routine,
// which performed the same one-time sweep before this tracking scheme
// existed.
func (c *ControlLoop) runOneTimeMigration(ctx context.Context) MigrationResult {
	flagPath := filepath.Join(c.dataDir, migrationFlagName)
	if _, err := os.Stat(flagPath); err == nil {
		return MigrationResult{}
	}

	entries, err := c.ExcludeList.Entries()
	if err != nil {
		c.logger.Warnf("unable to read exclude list for migration: %v", err)
		return MigrationResult{}
	}

	var pending []string
	for _, cachePath := range entries {
		realPath, _ := c.Router.ConvertCacheToReal(cachePath)
		if realPath == "" {
			continue
		}
		if _, err := os.Stat(sidecar.BackupPath(realPath)); err == nil {
			continue // already has a backup
		}
		if _, err := os.Stat(realPath); err == nil {
			continue // array original still in place, nothing to back up from cache
		}
		pending = append(pending, cachePath)
	}

	if len(pending) == 0 {
		c.markMigrationComplete(flagPath)
		return MigrationResult{}
	}

	sem := semaphore.NewWeighted(migrationConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var result MigrationResult

	for _, cachePath := range pending {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(cachePath string) {
			defer wg.Done()
			defer sem.Release(1)

			realPath, _ := c.Router.ConvertCacheToReal(cachePath)
			if err := backupFromCache(cachePath, realPath); err != nil {
				mu.Lock()
				result.Errors++
				mu.Unlock()
				c.logger.Warnf("migration: unable to create backup for %s: %v", realPath, err)
				return
			}
			mu.Lock()
			result.BackupsCreated++
			mu.Unlock()
		}(cachePath)
	}
	wg.Wait()

	if result.Errors == 0 {
		c.markMigrationComplete(flagPath)
	}
	return result
}

func (c *ControlLoop) markMigrationComplete(flagPath string) {
	if err := os.WriteFile(flagPath, []byte("1"), 0o644); err != nil {
		c.logger.Warnf("unable to write migration marker: %v", err)
	}
}

// backupFromCache recreates the array-side ".plexcached" sidecar for a
// file that was already moved to cache before the sidecar convention was
// in place, by copying the cache copy back under the backup name rather
// than moving it — the live cache entry must survive the copy untouched.
func backupFromCache(cachePath, realPath string) error {
	backupPath := sidecar.BackupPath(realPath)
	if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
		return fmt.Errorf("create array directory: %w", err)
	}

	src, err := os.Open(cachePath)
	if err != nil {
		return fmt.Errorf("open cache file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(backupPath)
		return fmt.Errorf("copy to backup: %w", err)
	}
	return nil
}
