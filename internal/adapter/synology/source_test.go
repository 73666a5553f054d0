package synology

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vertextoedge/filesync/internal/domain"
)

type fakeNAS struct {
	folders map[string][]DriveFile
	files   map[string]string
	logins  atomic.Int32
	expire  atomic.Bool
}

func (n *fakeNAS) handler(t *testing.T) http.Handler {
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}
	ok := func(w http.ResponseWriter, data any) {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		writeJSON(w, Response{Success: true, Data: raw})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webapi/query.cgi", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]APIEndpoint{APIDriveFiles: {Path: "entry.cgi", MinVersion: 1, MaxVersion: 2}})
	})
	mux.HandleFunc("/webapi/auth.cgi", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("method") == "login" {
			n.logins.Add(1)
			n.expire.Store(false)
		}
		ok(w, map[string]string{"sid": "sid-1"})
	})
	mux.HandleFunc("/webapi/entry.cgi", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if n.expire.Load() {
			writeJSON(w, Response{Success: false, Error: &ErrorInfo{Code: CodeSessionTimeout}})
			return
		}
		switch q.Get("method") {
		case "list":
			items := n.folders[q.Get("path")]
			offset := 0
			if v := q.Get("offset"); v != "" {
				require.NoError(t, json.Unmarshal([]byte(v), &offset))
			}
			end := min(offset+2, len(items))
			ok(w, DriveListResponse{Offset: offset, Total: len(items), Items: items[offset:end]})
		case "download":
			var paths []string
			require.NoError(t, json.Unmarshal([]byte(q.Get("files")), &paths))
			body, found := n.files[paths[0]]
			if strings.HasSuffix(paths[0], "deleted.csv") {
				writeJSON(w, Response{Success: false, Error: &ErrorInfo{Code: CodeDriveNoSuchEntry}})
				return
			}
			if !found {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			io.WriteString(w, body)
		}
	})
	return mux
}

func newTestSource(t *testing.T, nas *fakeNAS) *Source {
	t.Helper()
	srv := httptest.NewServer(nas.handler(t))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{BaseURL: srv.URL, Username: "u", Password: "p"})
	src := NewSource(client, "/mydrive/reports", zap.NewNop())
	src.pageSize = 2
	return src
}

func TestSource_ListFilesWalksTree(t *testing.T) {
	mtime := time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC).Unix()
	nas := &fakeNAS{folders: map[string][]DriveFile{
		"/mydrive/reports": {
			{Name: "2021", Path: "/mydrive/reports/2021", ContentType: "dir"},
			{Name: "a.csv", Path: "/mydrive/reports/a.csv", ContentType: "file", Size: 1, MTime: mtime},
			{Name: "b.csv", Path: "/mydrive/reports/b.csv", ContentType: "file", Size: 2, MTime: mtime},
		},
		"/mydrive/reports/2021": {
			{Name: "c.csv", Path: "/mydrive/reports/2021/c.csv", ContentType: "file", Size: 3, MTime: mtime},
		},
	}}
	src := newTestSource(t, nas)

	files, err := src.ListFiles(context.Background())
	require.NoError(t, err)

	require.Len(t, files, 3)
	assert.Equal(t, "/mydrive/reports/a.csv", files[0].URI)
	assert.Equal(t, "/mydrive/reports/b.csv", files[1].URI)
	assert.Equal(t, "/mydrive/reports/2021/c.csv", files[2].URI)
	assert.Equal(t, time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC), files[2].LastModified)
	assert.Equal(t, int32(1), nas.logins.Load())
}

func TestSource_RelogsInOnSessionTimeout(t *testing.T) {
	nas := &fakeNAS{folders: map[string][]DriveFile{"/mydrive/reports": nil}}
	src := newTestSource(t, nas)

	_, err := src.ListFiles(context.Background())
	require.NoError(t, err)

	nas.expire.Store(true)
	_, err = src.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), nas.logins.Load())
}

func TestSource_OpenFile(t *testing.T) {
	nas := &fakeNAS{files: map[string]string{"/mydrive/reports/a.csv": "hello"}}
	src := newTestSource(t, nas)

	rc, err := src.OpenFile(context.Background(), domain.RemoteFile{URI: "/mydrive/reports/a.csv"})
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = src.OpenFile(context.Background(), domain.RemoteFile{URI: "/mydrive/reports/gone.csv"})
	assert.True(t, domain.IsSkippable(err))

	_, err = src.OpenFile(context.Background(), domain.RemoteFile{URI: "/mydrive/reports/deleted.csv"})
	assert.ErrorIs(t, err, domain.ErrSkipFileVanished)
}

func TestAPIError(t *testing.T) {
	assert.Equal(t, "synology: session timeout", (&APIError{Code: CodeSessionTimeout}).Error())
	assert.Equal(t, "synology: error code 1234", (&APIError{Code: 1234}).Error())
	assert.Equal(t, "custom", (&APIError{Code: CodeNoSuchAPI, Detail: "custom"}).Error())

	assert.True(t, (&APIError{Code: CodeSessionNotFound}).sessionExpired())
	assert.False(t, (&APIError{Code: CodeInvalidParam}).sessionExpired())
}
