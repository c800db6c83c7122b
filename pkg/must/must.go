// Package must provides small helpers for "best effort" cleanup operations
// whose errors are worth logging but never worth propagating — e.g. removing
// a scratch file after a write has already failed for some other reason.
package must

import (
	"io"
	"os"

	"github.com/plexcache-r/plexcache/pkg/logging"
)

// Close closes c, logging (but not returning) any error.
func Close(c io.Closer, logger *logging.Logger) {
	if err := c.Close(); err != nil {
		logger.Warnf("unable to close: %s", err.Error())
	}
}

// OSRemove removes the file at name, logging (but not returning) any error.
func OSRemove(name string, logger *logging.Logger) {
	if err := os.Remove(name); err != nil {
		logger.Warnf("unable to remove '%s': %s", name, err.Error())
	}
}

// Unlock releases locker, logging (but not returning) any error.
func Unlock(locker interface{ Unlock() error }, logger *logging.Logger) {
	if err := locker.Unlock(); err != nil {
		logger.Warnf("unable to unlock locker: %s", err.Error())
	}
}

// IOCopy copies from src to dst, logging (but not returning) any error.
func IOCopy(dst io.Writer, src io.Reader, logger *logging.Logger) {
	if _, err := io.Copy(dst, src); err != nil {
		logger.Warnf("unable to copy from source to destination: %s", err.Error())
	}
}
