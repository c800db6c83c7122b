// Package pathrouter translates paths between the three namespaces a
// plexcache run operates across: the path as the media server reports it
// ("plex"), the actual array-backed filesystem path ("real"), and the
// fast-tier cache path ("cache"). Translation is driven by an ordered list
// of path mappings, matched by longest-prefix so that nested, more specific
// mappings win over broader ones.
package pathrouter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/plexcache-r/plexcache/pkg/config"
	"github.com/plexcache-r/plexcache/pkg/logging"
)

// Router translates paths between the plex/real/cache namespaces using a
// set of configured path mappings.
type Router struct {
	logger *logging.Logger
	// all holds every configured mapping (enabled or not), sorted by
	// PlexPath length descending so the first prefix match is always the
	// longest (most specific) one.
	all []config.PathMapping
	// enabled holds the subset of all with Enabled set, in the same order.
	enabled []config.PathMapping
}

// New constructs a Router from the given mappings.
func New(mappings []config.PathMapping, logger *logging.Logger) *Router {
	all := make([]config.PathMapping, len(mappings))
	copy(all, mappings)
	sort.SliceStable(all, func(i, j int) bool {
		return len(all[i].PlexPath) > len(all[j].PlexPath)
	})

	var enabled []config.PathMapping
	for _, m := range all {
		if m.Enabled {
			enabled = append(enabled, m)
		}
	}

	if len(enabled) == 0 {
		logger.Warnf("no enabled path mappings configured")
	}

	return &Router{logger: logger, all: all, enabled: enabled}
}

// hasPrefix reports whether path begins with prefix at a path-component
// boundary, so that "/mnt/cache2" is not mistaken for a match against prefix
// "/mnt/cache".
func hasPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	// Boundary-safe: the character following the prefix must be a path
	// separator, unless the prefix itself already ends in one.
	if strings.HasSuffix(prefix, "/") {
		return true
	}
	return path[len(prefix)] == '/'
}

func replacePrefix(path, oldPrefix, newPrefix string) string {
	return newPrefix + strings.TrimPrefix(path, oldPrefix)
}

// ConvertPlexToReal converts a media-server-reported path to the real
// filesystem path, returning the mapping that performed the conversion. If
// the path already looks like a real path (matches some mapping's RealPath
// prefix), it is returned unchanged. If the path matches only a disabled
// mapping, it is returned unchanged with a nil mapping and no diagnostic
// (the caller is expected to skip it silently). If no mapping matches at
// all, a warning is logged and the path is returned unchanged.
func (r *Router) ConvertPlexToReal(plexPath string) (string, *config.PathMapping) {
	for i := range r.enabled {
		m := &r.enabled[i]
		if hasPrefix(plexPath, m.RealPath) {
			return plexPath, m
		}
	}

	for i := range r.enabled {
		m := &r.enabled[i]
		if hasPrefix(plexPath, m.PlexPath) {
			return replacePrefix(plexPath, m.PlexPath, m.RealPath), m
		}
	}

	for i := range r.all {
		m := &r.all[i]
		if !m.Enabled && hasPrefix(plexPath, m.PlexPath) {
			return plexPath, nil
		}
	}

	r.logger.Warnf("no path mapping matches %s; leaving unconverted", libraryHint(plexPath))
	return plexPath, nil
}

// ConvertRealToCache converts a real filesystem path to its cache-tier
// equivalent. It returns ("", mapping) if the mapping exists but is not
// cacheable, and ("", nil) if no mapping matches at all.
func (r *Router) ConvertRealToCache(realPath string) (string, *config.PathMapping) {
	for i := range r.enabled {
		m := &r.enabled[i]
		if hasPrefix(realPath, m.RealPath) {
			if !m.Cacheable || m.CachePath == "" {
				return "", m
			}
			return replacePrefix(realPath, m.RealPath, m.CachePath), m
		}
	}

	for i := range r.all {
		m := &r.all[i]
		if !m.Enabled && hasPrefix(realPath, m.RealPath) {
			return "", nil
		}
	}

	return "", nil
}

// ConvertCacheToReal converts a cache-tier path back to its real filesystem
// equivalent.
func (r *Router) ConvertCacheToReal(cachePath string) (string, *config.PathMapping) {
	for i := range r.enabled {
		m := &r.enabled[i]
		if m.CachePath != "" && hasPrefix(cachePath, m.CachePath) {
			return replacePrefix(cachePath, m.CachePath, m.RealPath), m
		}
	}
	return "", nil
}

// IsCacheable reports whether the mapping covering realPath is cacheable.
func (r *Router) IsCacheable(realPath string) bool {
	for i := range r.enabled {
		m := &r.enabled[i]
		if hasPrefix(realPath, m.RealPath) {
			return m.Cacheable
		}
	}
	return false
}

// MappingForPath returns the enabled mapping that covers path, checking all
// three namespaces, or nil if none does.
func (r *Router) MappingForPath(path string) *config.PathMapping {
	for i := range r.enabled {
		m := &r.enabled[i]
		if hasPrefix(path, m.PlexPath) || hasPrefix(path, m.RealPath) ||
			(m.CachePath != "" && hasPrefix(path, m.CachePath)) {
			return m
		}
	}
	return nil
}

// ModifyFilePaths converts a batch of plex paths to real paths, returning
// one result per input in the same order; unmapped and disabled-mapping
// paths pass through unchanged per ConvertPlexToReal's semantics, and the
// disabled-mapping ones are counted per mapping and logged as skipped.
func (r *Router) ModifyFilePaths(files []string) []string {
	result := make([]string, 0, len(files))
	disabledSkips := make(map[string]int)

	for _, f := range files {
		converted, mapping := r.ConvertPlexToReal(f)
		result = append(result, converted)
		if mapping == nil {
			for i := range r.all {
				m := &r.all[i]
				if !m.Enabled && hasPrefix(f, m.PlexPath) {
					disabledSkips[m.Name]++
					break
				}
			}
		}
	}

	if len(disabledSkips) > 0 {
		total := 0
		names := make([]string, 0, len(disabledSkips))
		for name, count := range disabledSkips {
			total += count
			names = append(names, name)
		}
		sort.Strings(names)
		r.logger.Printf("skipped %d files from disabled libraries (%s)", total, strings.Join(names, ", "))
	}

	return result
}

// MappingStats summarizes the enabled mappings for diagnostic output (the
// show-mappings CLI subcommand).
type MappingStats struct {
	Name      string
	PlexPath  string
	RealPath  string
	CachePath string
	Cacheable bool
}

// MappingStats returns per-mapping diagnostic information for every enabled
// mapping.
func (r *Router) MappingStats() []MappingStats {
	stats := make([]MappingStats, 0, len(r.enabled))
	for _, m := range r.enabled {
		stats = append(stats, MappingStats{
			Name:      m.Name,
			PlexPath:  m.PlexPath,
			RealPath:  m.RealPath,
			CachePath: m.CachePath,
			Cacheable: m.Cacheable,
		})
	}
	return stats
}

// libraryHint extracts a short, library-level prefix from an unmapped path
// for friendlier log output, e.g. "/data/movies/Inception (2010)/x.mkv"
// becomes "/data/movies/".
func libraryHint(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 3)
	switch {
	case len(parts) >= 2:
		return fmt.Sprintf("/%s/%s/", parts[0], parts[1])
	case len(parts) == 1 && parts[0] != "":
		return fmt.Sprintf("/%s/", parts[0])
	default:
		return path
	}
}
