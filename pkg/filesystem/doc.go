// Package filesystem provides atomic file writes and single-instance
// locking, the two filesystem primitives plexcache's persistent state
// (tracker JSON, the activity log, the exclude list) and control loop rely
// on.
package filesystem
