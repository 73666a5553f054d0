package gcs

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vertextoedge/filesync/internal/domain"
)

type fakeAPI struct {
	objects []*storage.ObjectAttrs
	bodies  map[string]string
}

func (f *fakeAPI) ListObjects(ctx context.Context, bucket, prefix string) ([]*storage.ObjectAttrs, error) {
	var out []*storage.ObjectAttrs
	for _, o := range f.objects {
		if strings.HasPrefix(o.Name, prefix) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeAPI) NewReader(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	body, ok := f.bodies[name]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestSource_ListFiles(t *testing.T) {
	updated := time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{objects: []*storage.ObjectAttrs{
		{Name: "in/", Updated: updated},
		{Name: "in/a.csv", Updated: updated, Size: 3},
		{Name: "out/b.csv", Updated: updated, Size: 4},
	}}
	src := New(api, "bucket", "in/", zap.NewNop())

	files, err := src.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.RemoteFile{domain.NewRemoteFile("in/a.csv", updated, 3)}, files)
	assert.Equal(t, "gs://bucket/in/", src.Name())
}

func TestSource_OpenFile(t *testing.T) {
	src := New(&fakeAPI{bodies: map[string]string{"a.csv": "abc"}}, "bucket", "", zap.NewNop())

	rc, err := src.OpenFile(context.Background(), domain.RemoteFile{URI: "a.csv"})
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	_, err = src.OpenFile(context.Background(), domain.RemoteFile{URI: "gone.csv"})
	assert.True(t, domain.IsSkippable(err))
}
