package buildinfo

import "os"

// DebugEnabled controls whether or not verbose internal debugging is enabled.
// It is set automatically based on the PLEXCACHE_DEBUG environment variable.
var DebugEnabled bool

func init() {
	DebugEnabled = os.Getenv("PLEXCACHE_DEBUG") == "1"
}
