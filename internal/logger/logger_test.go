package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		_, err := parseLevel(level)
		assert.NoError(t, err, level)
	}
	_, err := parseLevel("trace")
	assert.Error(t, err)
}

func TestNew_InvalidFormat(t *testing.T) {
	_, err := New(Options{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestNew_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filesync.log")

	l, err := New(Options{Level: "debug", Format: "text", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	l.Info("state checkpointed")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"state checkpointed"`)
}

func TestGetZapLogger_BeforeInit(t *testing.T) {
	assert.NotNil(t, GetZapLogger())
	assert.NotNil(t, ForStream("orders"))
}
