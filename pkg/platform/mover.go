package platform

import (
	"context"
	"os/exec"
	"time"
)

// moverProcessPatterns are the process command-line substrings that
// indicate Unraid's array mover (or the CA Mover Tuning plugin's scheduled
// variant) is actively relocating files between the array and cache.
// Caching a file while the mover is running risks exactly the race this
// check exists to avoid: the mover moving a freshly-cached file back to
// the array before its exclude-list entry has reached disk.
var moverProcessPatterns = []string{"/usr/local/sbin/mover", "age_mover"}

const moverProbeTimeout = 5 * time.Second

// IsMoverRunning reports whether the array mover appears to be active. On
// non-Unraid hosts there is no mover to conflict with, so this always
// returns false without probing.
func (a *Adapter) IsMoverRunning() bool {
	if !a.IsUnraid {
		return false
	}
	for _, pattern := range moverProcessPatterns {
		if processMatches(pattern) {
			return true
		}
	}
	return false
}

func processMatches(pattern string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), moverProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "pgrep", "-f", pattern).Output()
	if err != nil {
		return false
	}
	return len(trimTrailingNewline(string(out))) > 0
}
