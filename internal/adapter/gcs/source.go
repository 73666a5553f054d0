// Package gcs lists and reads objects below a Google Cloud Storage prefix.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/vertextoedge/filesync/internal/domain"
	"github.com/vertextoedge/filesync/internal/port"
)

// API is the subset of the storage client used by Source
type API interface {
	ListObjects(ctx context.Context, bucket, prefix string) ([]*storage.ObjectAttrs, error)
	NewReader(ctx context.Context, bucket, name string) (io.ReadCloser, error)
}

// Client adapts *storage.Client to API
type Client struct {
	client *storage.Client
}

// NewClient creates a storage client. An empty credentialsFile uses
// application default credentials.
func NewClient(ctx context.Context, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &Client{client: client}, nil
}

// ListObjects returns the attributes of every object below prefix
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string) ([]*storage.ObjectAttrs, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var objects []*storage.ObjectAttrs
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		objects = append(objects, attrs)
	}
	return objects, nil
}

// NewReader opens an object
func (c *Client) NewReader(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	r, err := c.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Close closes the storage client
func (c *Client) Close() error {
	return c.client.Close()
}

// Source is a port.Source over a bucket prefix. URIs are object names.
type Source struct {
	api    API
	bucket string
	prefix string
	logger *zap.Logger
}

var _ port.Source = (*Source)(nil)

// New creates a source
func New(api API, bucket, prefix string, logger *zap.Logger) *Source {
	return &Source{api: api, bucket: bucket, prefix: prefix, logger: logger}
}

// Name returns the source identifier
func (s *Source) Name() string {
	return "gs://" + s.bucket + "/" + s.prefix
}

// ListFiles lists every object below the prefix
func (s *Source) ListFiles(ctx context.Context) ([]domain.RemoteFile, error) {
	objects, err := s.api.ListObjects(ctx, s.bucket, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.Name(), err)
	}

	files := make([]domain.RemoteFile, 0, len(objects))
	for _, attrs := range objects {
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		files = append(files, domain.NewRemoteFile(attrs.Name, attrs.Updated, attrs.Size))
	}

	s.logger.Debug("listed gcs objects",
		zap.String("bucket", s.bucket),
		zap.String("prefix", s.prefix),
		zap.Int("count", len(files)),
	)

	return files, nil
}

// OpenFile streams an object
func (s *Source) OpenFile(ctx context.Context, file domain.RemoteFile) (io.ReadCloser, error) {
	r, err := s.api.NewReader(ctx, s.bucket, file.URI)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", file.URI, domain.ErrSkipFileVanished)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file.URI, err)
	}
	return r, nil
}
