package buildinfo

import "os"

// DevelopmentModeEnabled controls whether or not development mode is
// enabled. It is set automatically based on the PLEXCACHE_DEVELOPMENT
// environment variable.
var DevelopmentModeEnabled bool

func init() {
	DevelopmentModeEnabled = os.Getenv("PLEXCACHE_DEVELOPMENT") == "1"
}
