package port

import (
	"io"
	"time"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// FileSystem is the local destination synced files are written to
type FileSystem interface {
	// RootDir returns the destination root directory
	RootDir() string

	// DestPath returns the local path for a source file URI
	DestPath(uri string) string

	// WriteFile writes content to the destination via a temp file and rename
	// Returns: destination path, bytes written, error
	WriteFile(uri string, reader io.Reader) (string, int64, error)

	// DeleteFile removes a synced file
	DeleteFile(destPath string) error

	// FileExists checks if a synced file exists
	FileExists(destPath string) bool

	// CleanOldTempFiles removes temp files older than the specified duration
	// Returns the number of files deleted
	CleanOldTempFiles(olderThan time.Duration) (int, error)

	// DiskUsage returns usage of the volume holding the root directory
	DiskUsage() (*DiskUsage, error)
}
