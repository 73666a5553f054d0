package port

import (
	"context"
	"io"

	"github.com/vertextoedge/filesync/internal/domain"
)

// Source lists and reads the files of a remote location
type Source interface {
	// Name returns a short identifier used in logs, e.g. "s3://bucket/prefix"
	Name() string

	// ListFiles returns every file under the source, with normalized timestamps
	ListFiles(ctx context.Context) ([]domain.RemoteFile, error)

	// OpenFile opens a file for reading. The caller closes the reader.
	OpenFile(ctx context.Context, file domain.RemoteFile) (io.ReadCloser, error)
}
