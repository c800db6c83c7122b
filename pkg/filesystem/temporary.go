package filesystem

const (
	// TemporaryNamePrefix is the file name prefix used for all temporary files
	// created by plexcache during atomic writes and in-progress tier moves.
	// Using this prefix lets the exclude-list sweep and media-server library
	// scans reliably ignore plexcache's own scratch files. It may be suffixed
	// with additional elements if desired.
	TemporaryNamePrefix = ".plexcache-temporary-"
)
