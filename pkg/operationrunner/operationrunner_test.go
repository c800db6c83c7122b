package operationrunner

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/plexcache-r/plexcache/pkg/config"
	"github.com/plexcache-r/plexcache/pkg/controlloop"
	"github.com/plexcache-r/plexcache/pkg/logging"
	"github.com/plexcache-r/plexcache/pkg/tiermover"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	dataDir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataFolder = dataDir
	cfg.Paths.PathMappings = []config.PathMapping{
		{
			Name:      "movies",
			PlexPath:  "/plex/movies",
			RealPath:  filepath.Join(dataDir, "array", "movies"),
			CachePath: filepath.Join(dataDir, "cache", "movies"),
			Cacheable: true,
			Enabled:   true,
		},
	}
	logger := logging.NewLogger(logging.LevelError)

	loop, err := controlloop.New(cfg, logger)
	if err != nil {
		t.Fatalf("controlloop.New returned error: %v", err)
	}
	return New(loop)
}

func TestNewWiresControlLoopHooks(t *testing.T) {
	r := newTestRunner(t)
	if r.loop.OnPhase == nil || r.loop.OnTransferProgress == nil ||
		r.loop.OnBatchStart == nil || r.loop.OnJobDone == nil {
		t.Fatal("New left one or more control loop hooks unwired")
	}
}

func TestStartAssignsDistinctRunIDPerRun(t *testing.T) {
	r := newTestRunner(t)

	done, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	first := r.Status().RunID
	if first == "" {
		t.Fatal("expected Start to assign a non-empty RunID")
	}
	<-done
	r.Dismiss()

	done, err = r.Start(context.Background())
	if err != nil {
		t.Fatalf("second Start returned error: %v", err)
	}
	second := r.Status().RunID
	<-done
	if second == "" || second == first {
		t.Fatalf("RunID = %q, want a fresh value distinct from %q", second, first)
	}
}

func TestStartRefusesWhenAlreadyRunningOrOtherBusy(t *testing.T) {
	r := newTestRunner(t)

	r.mu.Lock()
	r.state = StateRunning
	r.mu.Unlock()

	if _, err := r.Start(context.Background()); err != ErrAlreadyRunning {
		t.Fatalf("Start error = %v, want ErrAlreadyRunning", err)
	}

	r.mu.Lock()
	r.state = StateIdle
	r.mu.Unlock()
	r.SetMutualExclusion(func() bool { return true })

	if _, err := r.Start(context.Background()); err != ErrMaintenanceRunning {
		t.Fatalf("Start error = %v, want ErrMaintenanceRunning", err)
	}
}

func TestDismissOnlyLeavesTerminalStates(t *testing.T) {
	r := newTestRunner(t)

	if r.Dismiss() {
		t.Fatal("Dismiss succeeded from Idle, want false")
	}

	r.mu.Lock()
	r.state = StateFailed
	r.mu.Unlock()

	if !r.Dismiss() {
		t.Fatal("Dismiss failed from Failed, want true")
	}
	if r.Status().State != StateIdle {
		t.Fatalf("state after Dismiss = %v, want Idle", r.Status().State)
	}
}

func TestHandlePhaseMapsKnownAndUnknownPhases(t *testing.T) {
	r := newTestRunner(t)

	r.handlePhase(controlloop.PhaseMovingToCache)
	if got := r.Status().Phase; got != PhaseCaching {
		t.Fatalf("PhaseMovingToCache mapped to %v, want %v", got, PhaseCaching)
	}

	r.handlePhase(controlloop.Phase("some-future-phase"))
	if got := r.Status().Phase; got != PhaseAnalyzing {
		t.Fatalf("unknown phase mapped to %v, want fallback %v", got, PhaseAnalyzing)
	}
}

func TestHandleBatchStartAndJobDoneTrackFileCounts(t *testing.T) {
	r := newTestRunner(t)

	r.handleBatchStart("cache", 3)
	r.handleBatchStart("array", 2)
	if got := r.Status().Files.Total; got != 5 {
		t.Fatalf("Files.Total = %d, want 5", got)
	}

	job := tiermover.Job{RealPath: "/array/a.mkv", CachePath: "/cache/a.mkv"}
	r.handleJobDone("cache", job, true)
	r.handleJobDone("cache", job, false)
	if got := r.Status().Files.Completed; got != 2 {
		t.Fatalf("Files.Completed = %d, want 2 (success and failure both count as done)", got)
	}
}

func TestHandleTransferProgressTracksCumulativeDeltaPerJob(t *testing.T) {
	r := newTestRunner(t)
	r.lastCopied = make(map[string]int64)

	job := tiermover.Job{RealPath: "/array/a.mkv", CachePath: "/cache/a.mkv"}

	r.handleTransferProgress("cache", job, 100, 1000)
	if got := r.Status().Bytes.Total; got != 1000 {
		t.Fatalf("Bytes.Total after first callback = %d, want 1000", got)
	}
	if got := r.Status().Bytes.Completed; got != 100 {
		t.Fatalf("Bytes.Completed after first callback = %d, want 100", got)
	}

	// A later callback for the same job reports a larger cumulative total;
	// only the incremental delta should be added, and the job's total must
	// not be counted a second time.
	r.handleTransferProgress("cache", job, 400, 1000)
	if got := r.Status().Bytes.Total; got != 1000 {
		t.Fatalf("Bytes.Total after second callback = %d, want unchanged 1000", got)
	}
	if got := r.Status().Bytes.Completed; got != 400 {
		t.Fatalf("Bytes.Completed after second callback = %d, want 400 (not 500)", got)
	}

	// A second, distinct job contributes its own total independently.
	job2 := tiermover.Job{RealPath: "/array/b.mkv", CachePath: "/cache/b.mkv"}
	r.handleTransferProgress("cache", job2, 50, 500)
	if got := r.Status().Bytes.Total; got != 1500 {
		t.Fatalf("Bytes.Total after second job's first callback = %d, want 1500", got)
	}
	if got := r.Status().Bytes.Completed; got != 450 {
		t.Fatalf("Bytes.Completed after second job's first callback = %d, want 450", got)
	}
}
