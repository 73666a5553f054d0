package synology

import (
	"context"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/filesync/internal/domain"
	"github.com/vertextoedge/filesync/internal/port"
)

const (
	defaultPageSize   = 500
	defaultRetryAfter = 5 * time.Second
)

// Source is a port.Source over a Synology Drive folder tree. URIs are Drive
// display paths.
type Source struct {
	client   *Client
	root     string
	pageSize int
	logger   *zap.Logger
}

var _ port.Source = (*Source)(nil)

// NewSource creates a source rooted at a Drive folder, e.g. "/mydrive/reports"
func NewSource(client *Client, root string, logger *zap.Logger) *Source {
	return &Source{
		client:   client,
		root:     path.Clean("/" + root),
		pageSize: defaultPageSize,
		logger:   logger,
	}
}

// Name returns the source identifier
func (s *Source) Name() string {
	return s.client.BaseURL() + s.root
}

// ListFiles walks the folder tree breadth first
func (s *Source) ListFiles(ctx context.Context) ([]domain.RemoteFile, error) {
	var files []domain.RemoteFile
	queue := []string{s.root}
	folders := 0

	for len(queue) > 0 {
		folder := queue[0]
		queue = queue[1:]
		folders++

		for offset := 0; ; {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			page, err := s.client.ListFolder(ctx, folder, offset, s.pageSize)
			if err != nil {
				return nil, err
			}

			for _, item := range page.Items {
				if item.IsDir() {
					queue = append(queue, item.Path)
					continue
				}
				files = append(files, domain.NewRemoteFile(item.Path, item.ModTime(), item.Size))
			}

			offset += len(page.Items)
			if len(page.Items) == 0 || offset >= page.Total {
				break
			}
		}
	}

	s.logger.Debug("listed drive files",
		zap.String("root", s.root),
		zap.Int("folders", folders),
		zap.Int("count", len(files)),
	)

	return files, nil
}

// OpenFile downloads a file
func (s *Source) OpenFile(ctx context.Context, file domain.RemoteFile) (io.ReadCloser, error) {
	return s.client.Download(ctx, file.URI)
}

// Close ends the session
func (s *Source) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Logout(ctx)
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}
