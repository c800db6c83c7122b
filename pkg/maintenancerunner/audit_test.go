package maintenancerunner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/plexcache-r/plexcache/pkg/config"
	"github.com/plexcache-r/plexcache/pkg/logging"
	"github.com/plexcache-r/plexcache/pkg/pathrouter"
)

func newTestRouter(t *testing.T, arrayDir, cacheDir string) *pathrouter.Router {
	t.Helper()
	mappings := []config.PathMapping{
		{Name: "movies", PlexPath: "/plex/movies", RealPath: arrayDir, CachePath: cacheDir, Cacheable: true, Enabled: true},
	}
	return pathrouter.New(mappings, logging.NewLogger(logging.LevelError))
}

func TestAuditCategorizesOrphansByBackupStatus(t *testing.T) {
	root := t.TempDir()
	arrayDir := filepath.Join(root, "array", "movies")
	cacheDir := filepath.Join(root, "cache", "movies")
	if err := os.MkdirAll(arrayDir, 0o755); err != nil {
		t.Fatalf("mkdir array: %v", err)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		t.Fatalf("mkdir cache: %v", err)
	}

	// tracked.mkv is known to the tracker and must not be reported.
	trackedPath := filepath.Join(cacheDir, "tracked.mkv")
	writeFile(t, trackedPath, "tracked")

	// has-backup.mkv has a ".plexcached" sidecar on the array.
	hasBackupCache := filepath.Join(cacheDir, "has-backup.mkv")
	writeFile(t, hasBackupCache, "cache copy")
	writeFile(t, filepath.Join(arrayDir, "has-backup.mkv.plexcached"), "original")

	// has-duplicate.mkv already exists on the array under its own name.
	hasDuplicateCache := filepath.Join(cacheDir, "has-duplicate.mkv")
	writeFile(t, hasDuplicateCache, "cache copy")
	writeFile(t, filepath.Join(arrayDir, "has-duplicate.mkv"), "array copy")

	// no-backup.mkv exists only on the cache tier.
	noBackupCache := filepath.Join(cacheDir, "no-backup.mkv")
	writeFile(t, noBackupCache, "only copy")

	router := newTestRouter(t, arrayDir, cacheDir)
	tracked := map[string]bool{trackedPath: true}

	report := Audit(router, []string{cacheDir}, tracked)

	byPath := make(map[string]OrphanFile)
	for _, o := range report.Orphans {
		byPath[o.CachePath] = o
	}

	if len(report.Orphans) != 3 {
		t.Fatalf("got %d orphans, want 3 (tracked file must be excluded): %+v", len(report.Orphans), report.Orphans)
	}
	if _, found := byPath[trackedPath]; found {
		t.Fatalf("tracked file was reported as an orphan")
	}
	if got := byPath[hasBackupCache].Status; got != OrphanHasBackup {
		t.Fatalf("has-backup.mkv status = %q, want %q", got, OrphanHasBackup)
	}
	if got := byPath[hasDuplicateCache].Status; got != OrphanHasDuplicate {
		t.Fatalf("has-duplicate.mkv status = %q, want %q", got, OrphanHasDuplicate)
	}
	if got := byPath[noBackupCache].Status; got != OrphanNoBackup {
		t.Fatalf("no-backup.mkv status = %q, want %q", got, OrphanNoBackup)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture %s: %v", path, err)
	}
}
