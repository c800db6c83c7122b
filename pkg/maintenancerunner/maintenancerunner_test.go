package maintenancerunner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/plexcache-r/plexcache/pkg/activitylog"
	"github.com/plexcache-r/plexcache/pkg/cachetracker"
	"github.com/plexcache-r/plexcache/pkg/excludelist"
	"github.com/plexcache-r/plexcache/pkg/logging"
	"github.com/plexcache-r/plexcache/pkg/tiermover"
)

func newTestRunner(t *testing.T) (*Runner, string, string) {
	t.Helper()
	root := t.TempDir()
	arrayDir := filepath.Join(root, "array", "movies")
	cacheDir := filepath.Join(root, "cache", "movies")
	if err := os.MkdirAll(arrayDir, 0o755); err != nil {
		t.Fatalf("mkdir array: %v", err)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		t.Fatalf("mkdir cache: %v", err)
	}

	logger := logging.NewLogger(logging.LevelError)
	tracker := cachetracker.New(filepath.Join(root, "tracker.json"), logger)
	excludeList := excludelist.New(filepath.Join(root, "exclude.txt"), nil, logger)
	router := newTestRouter(t, arrayDir, cacheDir)
	mover := tiermover.New(tracker, excludeList, logger)
	log := activitylog.New(filepath.Join(root, "activity.json"), 24, logger)

	r := New(tracker, excludeList, router, mover, log, []string{cacheDir}, []string{arrayDir}, logger)
	return r, arrayDir, cacheDir
}

func TestBackupProtectAddsOrphansToExcludeList(t *testing.T) {
	r, _, cacheDir := newTestRunner(t)
	orphan := filepath.Join(cacheDir, "orphan.mkv")
	writeFile(t, orphan, "only copy")

	done, err := r.Start(context.Background(), ActionBackupProtect, false)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	<-done

	status := r.Status()
	if status.State != StateCompleted {
		t.Fatalf("state = %v, want Completed (error: %s)", status.State, status.Error)
	}
	if status.Result == nil || status.Result.Succeeded != 1 {
		t.Fatalf("result = %+v, want 1 succeeded", status.Result)
	}

	entries, err := r.ExcludeList.Entries()
	if err != nil {
		t.Fatalf("reading exclude list: %v", err)
	}
	found := false
	for _, e := range entries {
		if e == orphan {
			found = true
		}
	}
	if !found {
		t.Fatalf("exclude list %v does not contain %s", entries, orphan)
	}
}

func TestStartRefusesWhenAlreadyRunningOrOtherBusy(t *testing.T) {
	r, _, _ := newTestRunner(t)

	r.mu.Lock()
	r.state = StateRunning
	r.mu.Unlock()

	if _, err := r.Start(context.Background(), ActionBackupProtect, false); err != ErrRunnerBusy {
		t.Fatalf("Start error = %v, want ErrRunnerBusy", err)
	}

	r.mu.Lock()
	r.state = StateIdle
	r.mu.Unlock()
	r.SetMutualExclusion(func() bool { return true })

	if _, err := r.Start(context.Background(), ActionBackupProtect, false); err != ErrOperationRunning {
		t.Fatalf("Start error = %v, want ErrOperationRunning", err)
	}
}

func TestDismissOnlyLeavesTerminalStates(t *testing.T) {
	r, _, _ := newTestRunner(t)

	if r.Dismiss() {
		t.Fatal("Dismiss succeeded from Idle, want false")
	}

	r.mu.Lock()
	r.state = StateCompleted
	r.mu.Unlock()

	if !r.Dismiss() {
		t.Fatal("Dismiss failed from Completed, want true")
	}
	if r.Status().State != StateIdle {
		t.Fatalf("state after Dismiss = %v, want Idle", r.Status().State)
	}
}

func TestDeletePlexcachedDryRunMakesNoChange(t *testing.T) {
	r, arrayDir, _ := newTestRunner(t)
	backupPath := filepath.Join(arrayDir, "movie.mkv.plexcached")
	writeFile(t, backupPath, "original")

	done, err := r.Start(context.Background(), ActionDeletePlexcached, true)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	<-done

	status := r.Status()
	if status.State != StateCompleted || status.Result.Succeeded != 1 {
		t.Fatalf("status = %+v, want 1 succeeded", status)
	}
	if _, err := os.Stat(backupPath); err != nil {
		t.Fatalf("dry run deleted the sidecar: %v", err)
	}
}

func TestDeletePlexcachedRemovesSidecar(t *testing.T) {
	r, arrayDir, _ := newTestRunner(t)
	backupPath := filepath.Join(arrayDir, "movie.mkv.plexcached")
	writeFile(t, backupPath, "original")

	done, err := r.Start(context.Background(), ActionDeletePlexcached, false)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	<-done

	if _, err := os.Stat(backupPath); !os.IsNotExist(err) {
		t.Fatalf("expected sidecar to be removed, stat err = %v", err)
	}
}

func TestFixWithBackupRestoresAndRemovesCacheCopy(t *testing.T) {
	r, arrayDir, cacheDir := newTestRunner(t)

	cachePath := filepath.Join(cacheDir, "movie.mkv")
	writeFile(t, cachePath, "cache copy")
	backupPath := filepath.Join(arrayDir, "movie.mkv.plexcached")
	writeFile(t, backupPath, "original")

	done, err := r.Start(context.Background(), ActionFixWithBackup, false)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	<-done

	status := r.Status()
	if status.State != StateCompleted || status.Result.Succeeded != 1 {
		t.Fatalf("status = %+v, want 1 succeeded", status)
	}
	if _, err := os.Stat(cachePath); !os.IsNotExist(err) {
		t.Fatalf("expected cache copy removed, stat err = %v", err)
	}
	originalPath := filepath.Join(arrayDir, "movie.mkv")
	if _, err := os.Stat(originalPath); err != nil {
		t.Fatalf("expected restored original at %s: %v", originalPath, err)
	}
}

func TestRunAppendsActivityLogEntry(t *testing.T) {
	r, _, cacheDir := newTestRunner(t)
	writeFile(t, filepath.Join(cacheDir, "orphan.mkv"), "only copy")

	done, err := r.Start(context.Background(), ActionBackupProtect, false)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	<-done

	events := r.ActivityLog.Recent(10)
	if len(events) == 0 {
		t.Fatal("expected at least one activity log entry after a run")
	}
}
