// Package local lists and reads files below a local directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/vertextoedge/filesync/internal/domain"
	"github.com/vertextoedge/filesync/internal/port"
)

// Source is a port.Source over a directory tree
type Source struct {
	fs     afero.Fs
	root   string
	logger *zap.Logger
}

var _ port.Source = (*Source)(nil)

// New creates a source on the OS filesystem
func New(root string, logger *zap.Logger) *Source {
	return NewWithFs(afero.NewOsFs(), root, logger)
}

// NewWithFs creates a source on an arbitrary afero filesystem
func NewWithFs(fsys afero.Fs, root string, logger *zap.Logger) *Source {
	return &Source{
		fs:     fsys,
		root:   filepath.Clean(root),
		logger: logger,
	}
}

// Name returns the source identifier
func (s *Source) Name() string {
	return "file://" + filepath.ToSlash(s.root)
}

// Root returns the listed directory
func (s *Source) Root() string {
	return s.root
}

// ListFiles walks the root. URIs are slash-separated paths relative to the root.
func (s *Source) ListFiles(ctx context.Context) ([]domain.RemoteFile, error) {
	var files []domain.RemoteFile

	err := afero.Walk(s.fs, s.root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		files = append(files, domain.NewRemoteFile(filepath.ToSlash(rel), info.ModTime(), info.Size()))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].URI < files[j].URI })

	s.logger.Debug("listed local files",
		zap.String("root", s.root),
		zap.Int("count", len(files)),
	)

	return files, nil
}

// OpenFile opens a listed file
func (s *Source) OpenFile(ctx context.Context, file domain.RemoteFile) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.fs.Open(filepath.Join(s.root, filepath.FromSlash(file.URI)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", file.URI, domain.ErrSkipFileVanished)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file.URI, err)
	}
	return f, nil
}
