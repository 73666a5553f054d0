package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/vertextoedge/filesync/internal/port"
)

// tempSuffix marks files that are still being written
const tempSuffix = ".partial"

const defaultBufferSize = 1024 * 1024

// Manager writes synced files below a destination root
type Manager struct {
	fs         afero.Fs
	rootDir    string
	bufferSize int
}

// Ensure Manager implements port.FileSystem
var _ port.FileSystem = (*Manager)(nil)

// NewManager creates a manager on the OS filesystem
func NewManager(rootDir string) (*Manager, error) {
	return NewManagerWithFs(afero.NewOsFs(), rootDir, defaultBufferSize)
}

// NewManagerWithFs creates a manager on an arbitrary afero filesystem
func NewManagerWithFs(fsys afero.Fs, rootDir string, bufferSize int) (*Manager, error) {
	if err := fsys.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination root dir: %w", err)
	}

	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	return &Manager{
		fs:         fsys,
		rootDir:    rootDir,
		bufferSize: bufferSize,
	}, nil
}

// RootDir returns the destination root directory
func (m *Manager) RootDir() string {
	return m.rootDir
}

// DestPath returns the local path for a source URI. The URI is cleaned so it
// can never resolve outside the root.
func (m *Manager) DestPath(uri string) string {
	clean := strings.TrimPrefix(path.Clean("/"+uri), "/")
	return filepath.Join(m.rootDir, filepath.FromSlash(clean))
}

// WriteFile streams reader into a temp file next to the destination and renames
// it into place once complete
func (m *Manager) WriteFile(uri string, reader io.Reader) (string, int64, error) {
	destPath := m.DestPath(uri)

	if err := m.fs.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create parent dir: %w", err)
	}

	tempPath := destPath + tempSuffix
	f, err := m.fs.Create(tempPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	buf := make([]byte, m.bufferSize)
	written, err := io.CopyBuffer(f, reader, buf)
	if err != nil {
		f.Close()
		m.fs.Remove(tempPath)
		return "", 0, fmt.Errorf("failed to write file: %w", err)
	}

	if err := f.Close(); err != nil {
		m.fs.Remove(tempPath)
		return "", 0, fmt.Errorf("failed to close file: %w", err)
	}

	if err := m.fs.Rename(tempPath, destPath); err != nil {
		return "", 0, fmt.Errorf("failed to rename temp file: %w", err)
	}

	return destPath, written, nil
}

// DeleteFile removes a synced file
func (m *Manager) DeleteFile(destPath string) error {
	if err := m.fs.Remove(destPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// FileExists checks if a synced file exists
func (m *Manager) FileExists(destPath string) bool {
	ok, err := afero.Exists(m.fs, destPath)
	return err == nil && ok
}

// CleanOldTempFiles removes temp files older than the specified duration
func (m *Manager) CleanOldTempFiles(olderThan time.Duration) (int, error) {
	count := 0
	threshold := time.Now().Add(-olderThan)

	err := afero.Walk(m.fs, m.rootDir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(p, tempSuffix) && info.ModTime().Before(threshold) {
			if removeErr := m.fs.Remove(p); removeErr == nil {
				count++
			}
		}
		return nil
	})
	return count, err
}
