//go:build windows

package platform

// freeSpace reports an effectively unlimited amount on Windows.
// Adapter.IsUnraid is always false there, so CheckArraySpace
// short-circuits before reaching it; FreeSpace callers get this value.
func freeSpace(path string) (int64, error) {
	return 1 << 62, nil
}

// TotalSpace reports an effectively unlimited capacity on Windows hosts,
// so a percentage cache-size limit resolves against that value unless an
// absolute CacheDriveSize is configured.
func TotalSpace(path string) (uint64, error) {
	return 1 << 62, nil
}

// FreeSpace exposes freeSpace for callers outside this package.
func FreeSpace(path string) (int64, error) {
	return freeSpace(path)
}
