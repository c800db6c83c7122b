package tiermover

import (
	"context"
	"errors"
	"io"
	"os"
)

// errCancelled signals that copyFile stopped because ctx was done or
// stopCheck returned true, as distinct from any other I/O error.
var errCancelled = errors.New("copy cancelled")

// copyFile copies src to dst in chunkSize increments, checking ctx and
// stopCheck between chunks so a long transfer can be cancelled promptly
// rather than only between whole files. dst is created with src's
// permissions; on any failure dst is left in place for the caller to clean
// up (callers always os.Remove it on a non-nil error).
func copyFile(ctx context.Context, src, dst string, stopCheck func() bool, progress ProgressFunc) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	total := info.Size()
	var copied int64
	buf := make([]byte, chunkSize)

	for {
		if ctx.Err() != nil {
			return errCancelled
		}
		if stopCheck != nil && stopCheck() {
			return errCancelled
		}

		n, readErr := in.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			copied += int64(n)
			if progress != nil {
				progress(copied, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	if err := out.Sync(); err != nil {
		return err
	}
	return preserveMode(dst, info)
}

func preserveMode(path string, info os.FileInfo) error {
	return os.Chmod(path, info.Mode().Perm())
}
