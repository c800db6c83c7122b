// Package eviction decides, once the cache tier crosses a configured
// watermark, which already-cached files to send back to the array to bring
// usage back under the limit, and carries out that move.
package eviction

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/plexcache-r/plexcache/pkg/cachetracker"
	"github.com/plexcache-r/plexcache/pkg/logging"
	"github.com/plexcache-r/plexcache/pkg/pathrouter"
	"github.com/plexcache-r/plexcache/pkg/priority"
	"github.com/plexcache-r/plexcache/pkg/tiermover"
)

// Mode selects how eviction picks victims once the watermark is crossed.
type Mode string

const (
	ModeNone  Mode = "none"
	ModeSmart Mode = "smart"
	ModeFIFO  Mode = "fifo"
)

// Candidate is one file selected for eviction, along with the reason it was
// picked, kept mainly for logging a sensible summary line.
type Candidate struct {
	CachePath string
	SizeBytes int64
	Reason    string
}

// Engine ties a priority Scorer and a tiermover Mover together: the Scorer
// picks victims, the Mover (via MoveToArray) carries the eviction out using
// the same all-or-nothing restore logic a normal move-back uses.
type Engine struct {
	CacheTracker *cachetracker.Tracker
	Router       *pathrouter.Router
	Scorer       *priority.Scorer
	Mover        *tiermover.Mover
	logger       *logging.Logger

	Mode             Mode
	CacheLimitBytes  int64
	ThresholdPercent int // start evicting once usage crosses this % of CacheLimitBytes
}

// New constructs an Engine with eviction disabled (Mode "none") until the
// caller configures it from loaded settings.
func New(tracker *cachetracker.Tracker, router *pathrouter.Router, scorer *priority.Scorer, mover *tiermover.Mover, logger *logging.Logger) *Engine {
	return &Engine{
		CacheTracker:     tracker,
		Router:           router,
		Scorer:           scorer,
		Mover:            mover,
		logger:           logger.Sublogger("eviction"),
		Mode:             ModeNone,
		ThresholdPercent: 90,
	}
}

// Plan returns the files to evict given the cache tier's current tracked
// usage and an optional extraNeeded byte count a caller already knows it
// needs freed (e.g. to make room for an incoming cache move). It returns nil
// when eviction is disabled, no limit is configured, or usage is already
// under the threshold and extraNeeded is zero.
func (e *Engine) Plan(trackedBytes int64, cachedFiles []string, extraNeeded int64) []Candidate {
	if e.Mode == ModeNone || e.CacheLimitBytes <= 0 {
		return nil
	}

	thresholdBytes := e.CacheLimitBytes * int64(e.ThresholdPercent) / 100
	if trackedBytes < thresholdBytes && extraNeeded == 0 {
		return nil
	}

	spaceToFree := extraNeeded
	if over := trackedBytes - thresholdBytes; over > spaceToFree {
		spaceToFree = over
	}
	if spaceToFree <= 0 {
		return nil
	}

	switch e.Mode {
	case ModeSmart:
		return e.smartCandidates(cachedFiles, spaceToFree)
	case ModeFIFO:
		return e.fifoCandidates(cachedFiles, spaceToFree)
	default:
		return nil
	}
}

func (e *Engine) smartCandidates(cachedFiles []string, targetBytes int64) []Candidate {
	paths := e.Scorer.EvictionCandidates(cachedFiles, targetBytes)
	candidates := make([]Candidate, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		var size int64
		if err == nil {
			size = info.Size()
		}
		score := e.Scorer.Score(p)
		candidates = append(candidates, Candidate{CachePath: p, SizeBytes: size, Reason: fmt.Sprintf("priority=%d", score)})
	}
	return candidates
}

// fifoCandidates selects the oldest-cached files first, ignoring priority
// score entirely — a cruder but predictable fallback for deployments that
// don't want scoring heuristics deciding what gets evicted.
func (e *Engine) fifoCandidates(cachedFiles []string, targetBytes int64) []Candidate {
	type aged struct {
		path  string
		hours float64
	}
	ranked := make([]aged, 0, len(cachedFiles))
	for _, p := range cachedFiles {
		hours, ok := e.CacheTracker.HoursSinceCached(p)
		if !ok {
			hours = 1 << 30 // untracked files are treated as infinitely old, evicted first
		}
		ranked = append(ranked, aged{path: p, hours: hours})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].hours > ranked[j].hours })

	var candidates []Candidate
	var accumulated int64
	for _, a := range ranked {
		info, err := os.Stat(a.path)
		if err != nil {
			continue
		}
		candidates = append(candidates, Candidate{CachePath: a.path, SizeBytes: info.Size(), Reason: "fifo"})
		accumulated += info.Size()
		if accumulated >= targetBytes {
			break
		}
	}
	return candidates
}

// Result summarizes an Evict call for logging and activity reporting.
type Result struct {
	FilesEvicted int
	BytesFreed   int64
	Errors       []error
}

// Evict moves every candidate back to the array via the same MoveToArray
// path a normal move-back uses, so a restore failure leaves the cache copy
// in place rather than losing data. A failed candidate is recorded in
// Result.Errors and does not stop the remaining candidates from being
// processed.
func (e *Engine) Evict(ctx context.Context, candidates []Candidate) Result {
	var result Result
	for _, c := range candidates {
		realPath, _ := e.Router.ConvertCacheToReal(c.CachePath)
		if realPath == "" {
			result.Errors = append(result.Errors, fmt.Errorf("no real path mapping for %s", c.CachePath))
			continue
		}

		code, err := e.Mover.MoveToArray(ctx, tiermover.Job{RealPath: realPath, CachePath: c.CachePath}, nil)
		if err != nil || code != tiermover.ResultSuccess {
			result.Errors = append(result.Errors, fmt.Errorf("evicting %s: %w", c.CachePath, err))
			e.logger.Warnf("failed to evict %s (%v): %v", c.CachePath, code, err)
			continue
		}

		result.FilesEvicted++
		result.BytesFreed += c.SizeBytes
		e.logger.Printf("evicted (%s): %s (%.1fMB)", c.Reason, c.CachePath, float64(c.SizeBytes)/(1024*1024))
	}
	return result
}
