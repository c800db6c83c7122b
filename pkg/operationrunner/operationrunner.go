// Package operationrunner hosts exactly one caching run at a time in a
// background goroutine, publishing phased progress and supporting a
// user-initiated stop, mutually exclusive with any in-progress
// maintenance action.
package operationrunner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plexcache-r/plexcache/pkg/controlloop"
	"github.com/plexcache-r/plexcache/pkg/tiermover"
)

// State is one of the states in the runner's Idle -> Running ->
// (Completed | Failed) -> Idle lifecycle; the final transition back to
// Idle only happens via an explicit Dismiss.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Phase is the coarse, UI-facing phase a running operation currently
// reports, derived from the finer-grained phases controlloop.ControlLoop
// publishes internally.
type Phase string

const (
	PhaseStarting  Phase = "starting"
	PhaseFetching  Phase = "fetching"
	PhaseAnalyzing Phase = "analyzing"
	PhaseMoving    Phase = "moving"
	PhaseRestoring Phase = "restoring"
	PhaseCaching   Phase = "caching"
	PhaseEvicting  Phase = "evicting"
	PhaseResults   Phase = "results"
)

// phaseMap collapses controlloop's 17 fine-grained phases down to the
// 8 a caller-facing status surfaces.
var phaseMap = map[controlloop.Phase]Phase{
	controlloop.PhaseAcquiringLock:      PhaseStarting,
	controlloop.PhaseCheckingMover:      PhaseStarting,
	controlloop.PhaseLoadingConfig:      PhaseStarting,
	controlloop.PhaseCleaningExcludes:   PhaseStarting,
	controlloop.PhaseMigratingBackups:   PhaseStarting,
	controlloop.PhaseConnecting:         PhaseFetching,
	controlloop.PhaseScanningSessions:   PhaseFetching,
	controlloop.PhaseFetchingOnDeck:     PhaseFetching,
	controlloop.PhaseFetchingWatchlist:  PhaseFetching,
	controlloop.PhaseFetchingSubtitles:  PhaseFetching,
	controlloop.PhasePlanningMoveBack:   PhaseAnalyzing,
	controlloop.PhaseApplyingCacheLimit: PhaseMoving,
	controlloop.PhaseMovingToArray:      PhaseRestoring,
	controlloop.PhaseEvicting:           PhaseEvicting,
	controlloop.PhaseMovingToCache:      PhaseCaching,
	controlloop.PhaseSyncingExcludes:    PhaseResults,
	controlloop.PhaseCleaningUp:         PhaseResults,
	controlloop.PhaseIdle:               PhaseResults,
}

// FileProgress is a completed/total counter across a run's to-array and
// to-cache batches combined.
type FileProgress struct {
	Completed int
	Total     int
}

// ByteProgress mirrors FileProgress at byte granularity; it drives the
// primary progress percentage while a run is active, since it updates
// smoothly during large copies where the file count does not.
type ByteProgress struct {
	Completed int64
	Total     int64
}

// Status is a snapshot of a Runner's current state, safe to copy and hand
// to a caller.
type Status struct {
	RunID      string
	State      State
	Phase      Phase
	Files      FileProgress
	Bytes      ByteProgress
	ETA        time.Duration
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    *controlloop.Summary
	Error      string
}

// Runner hosts a single background caching run at a time.
type Runner struct {
	loop *controlloop.ControlLoop

	mu     sync.Mutex
	state  State
	status Status
	cancel context.CancelFunc

	rateWindowStart time.Time
	rateWindowBytes int64

	// lastCopied tracks the most recent cumulative copied-bytes value seen
	// per in-flight job, since ProgressFunc reports a running total for
	// that file rather than a per-chunk delta; jobKey uniquely identifies
	// the job the callback refers to.
	lastCopied map[string]int64

	// otherBusy, if set, is consulted before starting a run and must report
	// whether a MaintenanceRunner action is currently in progress; wiring it
	// is the caller's job (cmd/plexcache leaves it unset), avoiding any import
	// dependency between this package and pkg/maintenancerunner.
	otherBusy func() bool
}

// New constructs a Runner around loop, taking over its progress hooks.
func New(loop *controlloop.ControlLoop) *Runner {
	r := &Runner{loop: loop, state: StateIdle}
	loop.OnPhase = r.handlePhase
	loop.OnTransferProgress = r.handleTransferProgress
	loop.OnBatchStart = r.handleBatchStart
	loop.OnJobDone = r.handleJobDone
	return r
}

// SetMutualExclusion wires a callback consulted before every Start to
// refuse running alongside an in-progress maintenance action.
func (r *Runner) SetMutualExclusion(busy func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.otherBusy = busy
}

// ErrAlreadyRunning is returned by Start when a run is already in
// progress.
var ErrAlreadyRunning = errors.New("operation runner: a run is already in progress")

// ErrMaintenanceRunning is returned by Start when a MaintenanceRunner
// action holds the mutual-exclusion lock.
var ErrMaintenanceRunning = errors.New("operation runner: a maintenance action is in progress")

// Start launches a run in the background, returning immediately. The
// returned channel is closed once the run finishes, for a caller that
// wants to block on completion without polling Status.
func (r *Runner) Start(ctx context.Context) (<-chan struct{}, error) {
	r.mu.Lock()
	if r.state == StateRunning {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	if r.otherBusy != nil && r.otherBusy() {
		r.mu.Unlock()
		return nil, ErrMaintenanceRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.state = StateRunning
	r.status = Status{RunID: uuid.NewString(), State: StateRunning, Phase: PhaseStarting, StartedAt: time.Now()}
	r.rateWindowStart = time.Time{}
	r.rateWindowBytes = 0
	r.lastCopied = make(map[string]int64)
	r.mu.Unlock()

	done := make(chan struct{})
	go r.run(runCtx, done)
	return done, nil
}

func (r *Runner) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	summary, err := r.loop.Run(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.FinishedAt = time.Now()
	r.status.Summary = summary
	r.cancel = nil

	switch {
	case err != nil:
		r.state = StateFailed
		r.status.Error = err.Error()
	case summary != nil && summary.Skipped != "":
		// The run declined to start at all (lock contention, active mover,
		// or an active-session abort); nothing changed, so there is nothing
		// for a caller to dismiss either.
		r.state = StateIdle
		r.status.Error = ""
	case summary != nil && len(summary.Errors) > 0:
		r.state = StateFailed
		r.status.Error = fmt.Sprintf("%d error(s) during run; see activity log", len(summary.Errors))
	default:
		r.state = StateCompleted
	}
	r.status.State = r.state
	if r.state != StateRunning {
		r.status.Phase = PhaseResults
	}
}

// Stop requests cancellation of the in-progress run. TierMover observes it
// at the next chunk boundary; unstarted jobs in the current batch are
// cancelled outright. It is a no-op if no run is in progress.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// Dismiss transitions a Completed or Failed runner back to Idle. It is a
// no-op (and returns false) if the runner is not in a terminal state.
func (r *Runner) Dismiss() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateCompleted && r.state != StateFailed {
		return false
	}
	r.state = StateIdle
	r.status = Status{State: StateIdle}
	return true
}

// Status returns a snapshot of the runner's current state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Busy reports whether a run is currently in progress, for a
// MaintenanceRunner's own mutual-exclusion check.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateRunning
}

func (r *Runner) handlePhase(p controlloop.Phase) {
	mapped, ok := phaseMap[p]
	if !ok {
		mapped = PhaseAnalyzing
	}
	r.mu.Lock()
	r.status.Phase = mapped
	r.mu.Unlock()
}

func (r *Runner) handleBatchStart(direction string, total int) {
	r.mu.Lock()
	r.status.Files.Total += total
	r.mu.Unlock()
}

func (r *Runner) handleJobDone(direction string, job tiermover.Job, success bool) {
	r.mu.Lock()
	r.status.Files.Completed++
	r.mu.Unlock()
}

// jobKey uniquely identifies a job within a single batch, for tracking
// per-file cumulative progress across repeated callbacks.
func jobKey(job tiermover.Job) string {
	return job.RealPath + "\x00" + job.CachePath
}

// handleTransferProgress folds a single chunk-completion callback into the
// running byte totals and recomputes ETA from the current transfer rate.
// ProgressFunc reports copied as a cumulative total for job, not a
// per-chunk delta, so only the incremental difference since the last
// callback for that job is added to status.Bytes.Completed; total is
// added to status.Bytes.Total the first time a given job is seen, which
// keeps the total growing to match however much of the batch has started
// transferring rather than requiring an entire batch's byte sum up front.
func (r *Runner) handleTransferProgress(direction string, job tiermover.Job, copied, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := jobKey(job)
	previous, seen := r.lastCopied[key]
	if !seen {
		r.status.Bytes.Total += total
	}
	delta := copied - previous
	if delta < 0 {
		delta = 0
	}
	r.lastCopied[key] = copied
	r.status.Bytes.Completed += delta

	now := time.Now()
	if r.rateWindowStart.IsZero() {
		r.rateWindowStart = now
	}
	r.rateWindowBytes += delta

	elapsed := now.Sub(r.rateWindowStart)
	if elapsed <= 0 || r.status.Bytes.Total <= r.status.Bytes.Completed {
		r.status.ETA = 0
		return
	}
	rate := float64(r.rateWindowBytes) / elapsed.Seconds()
	if rate <= 0 {
		r.status.ETA = 0
		return
	}
	remaining := float64(r.status.Bytes.Total - r.status.Bytes.Completed)
	r.status.ETA = time.Duration(remaining/rate) * time.Second
}
