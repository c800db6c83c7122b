// Package excludelist maintains the plain-text, newline-delimited exclude
// file used to tell an external bulk-storage mover which cache-tier paths
// are off-limits mid-run — files plexcache has placed on the cache drive
// and doesn't want swept back to the array by another process before it
// has finished recording their tracking metadata.
package excludelist

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/plexcache-r/plexcache/pkg/filesystem"
	"github.com/plexcache-r/plexcache/pkg/logging"
	"github.com/plexcache-r/plexcache/pkg/mediaidentity"
)

// HostPathTranslator converts a cache-tier path as this process sees it to
// the path as the host running the external mover sees it (and back),
// accommodating Docker deployments where the container and host mount the
// cache drive at different locations. A nil translator is a no-op.
type HostPathTranslator interface {
	ToHost(containerPath string) string
	FromHost(hostPath string) string
}

type identityTranslator struct{}

func (identityTranslator) ToHost(p string) string   { return p }
func (identityTranslator) FromHost(p string) string { return p }

// List manages the exclude file's contents under a single mutex, so
// concurrent callers (multiple in-flight file moves) don't race on
// read-modify-write cycles against the same file.
type List struct {
	path       string
	translator HostPathTranslator
	logger     *logging.Logger

	mu sync.Mutex
}

// New constructs a List backed by the exclude file at path. An empty path
// disables the exclude file entirely: Add/Remove become no-ops (Add logs a
// warning), matching the original behavior of proceeding without mover
// coordination when no exclude file is configured.
func New(path string, translator HostPathTranslator, logger *logging.Logger) *List {
	if translator == nil {
		translator = identityTranslator{}
	}
	return &List{path: path, translator: translator, logger: logger.Sublogger("excludelist")}
}

func (l *List) readLines() ([]string, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func (l *List) writeLines(lines []string) error {
	var builder strings.Builder
	for _, line := range lines {
		builder.WriteString(line)
		builder.WriteByte('\n')
	}
	return filesystem.WriteFileAtomic(l.path, []byte(builder.String()), 0o644, l.logger)
}

// Add appends cachePath to the exclude file, translated to host-path form,
// unless it is already present. It is a no-op if no exclude file path was
// configured.
func (l *List) Add(cachePath string) {
	if l.path == "" {
		l.logger.Warnf("no exclude file configured, cannot track: %s", cachePath)
		return
	}

	hostPath := l.translator.ToHost(cachePath)

	l.mu.Lock()
	defer l.mu.Unlock()

	lines, err := l.readLines()
	if err != nil {
		l.logger.Warnf("unable to read exclude file: %v", err)
		return
	}
	for _, line := range lines {
		if line == hostPath {
			l.logger.Debugf("already in exclude file: %s", hostPath)
			return
		}
	}

	lines = append(lines, hostPath)
	if err := l.writeLines(lines); err != nil {
		l.logger.Warnf("unable to write exclude file: %v", err)
		return
	}
	if hostPath != cachePath {
		l.logger.Debugf("added to exclude file (translated): %s", hostPath)
	} else {
		l.logger.Debugf("added to exclude file: %s", hostPath)
	}
}

// Remove deletes cachePath's entry from the exclude file, if present.
func (l *List) Remove(cachePath string) {
	if l.path == "" {
		return
	}
	hostPath := l.translator.ToHost(cachePath)

	l.mu.Lock()
	defer l.mu.Unlock()

	lines, err := l.readLines()
	if err != nil {
		l.logger.Warnf("unable to read exclude file: %v", err)
		return
	}

	found := false
	kept := lines[:0]
	for _, line := range lines {
		if line == hostPath && !found {
			found = true
			continue
		}
		kept = append(kept, line)
	}
	if !found {
		return
	}

	if err := l.writeLines(kept); err != nil {
		l.logger.Warnf("unable to write exclude file: %v", err)
		return
	}
	l.logger.Debugf("removed from exclude file: %s", hostPath)
}

// CleanupStale removes exclude entries that share currentCachePath's media
// identity and directory but whose underlying file no longer exists — the
// residue left behind when a media manager upgrades a file to a new
// filename while it still sits in the exclude list under its old name.
func (l *List) CleanupStale(currentCachePath string, exists func(containerPath string) bool) int {
	if l.path == "" {
		return 0
	}

	currentIdentity := mediaidentity.Identity(currentCachePath)
	currentHostPath := l.translator.ToHost(currentCachePath)
	currentDir := filepath.Dir(currentHostPath)

	l.mu.Lock()
	defer l.mu.Unlock()

	lines, err := l.readLines()
	if err != nil {
		l.logger.Warnf("unable to read exclude file: %v", err)
		return 0
	}

	var stale []string
	kept := make([]string, 0, len(lines))
	for _, entry := range lines {
		if entry == currentHostPath {
			kept = append(kept, entry)
			continue
		}
		if filepath.Dir(entry) != currentDir {
			kept = append(kept, entry)
			continue
		}
		if mediaidentity.Identity(entry) == currentIdentity && !exists(l.translator.FromHost(entry)) {
			stale = append(stale, entry)
			continue
		}
		kept = append(kept, entry)
	}

	if len(stale) == 0 {
		return 0
	}

	if err := l.writeLines(kept); err != nil {
		l.logger.Warnf("unable to write exclude file: %v", err)
		return 0
	}
	for _, entry := range stale {
		l.logger.Printf("cleaned up stale exclude entry from upgrade: %s -> %s",
			filepath.Base(entry), filepath.Base(currentCachePath))
	}
	return len(stale)
}

// Entries returns every path currently listed in the exclude file, in
// host-path form, for diagnostic use.
func (l *List) Entries() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLines()
}

// MoverExclusionTag is the sentinel line separating a user's own entries
// in the mover's exclusion file (above, preserved verbatim) from the
// section this process owns (below, rewritten every run).
const MoverExclusionTag = "### Plexcache exclusions below this line"

// SyncMoverExclusionsFile merges this list's current entries into the
// external bulk mover's own exclusion file at moverFilePath: everything
// above MoverExclusionTag is left untouched (a user may hand-maintain
// exclusions there), and everything at or below it is replaced with this
// list's contents. If the tag is missing it's appended to the end first.
// This list's own file (l.path) is left exactly as Add/Remove maintain
// it — moverFilePath is a separate, mover-owned file plexcache only ever
// appends its managed section to.
func (l *List) SyncMoverExclusionsFile(moverFilePath string) error {
	if moverFilePath == "" {
		return nil
	}

	existing, err := os.ReadFile(moverFilePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	var lines []string
	if len(existing) > 0 {
		lines = strings.Split(strings.TrimRight(string(existing), "\n"), "\n")
	}

	tagIndex := -1
	for i, line := range lines {
		if line == MoverExclusionTag {
			tagIndex = i
			break
		}
	}
	if tagIndex == -1 {
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) != "" {
			lines = append(lines, "")
		}
		lines = append(lines, MoverExclusionTag)
		tagIndex = len(lines) - 1
	}
	lines = lines[:tagIndex+1]

	l.mu.Lock()
	managed, err := l.readLines()
	l.mu.Unlock()
	if err != nil {
		return err
	}
	lines = append(lines, managed...)

	if err := os.MkdirAll(filepath.Dir(moverFilePath), 0o755); err != nil {
		return err
	}
	return filesystem.WriteFileAtomic(moverFilePath, []byte(strings.Join(lines, "\n")+"\n"), 0o644, l.logger)
}
