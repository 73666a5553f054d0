package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertextoedge/filesync/internal/domain"
)

func uris(p domain.Partition) []string {
	out := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		out = append(out, f.URI)
	}
	return out
}

func TestPartition_GroupsByModificationTime(t *testing.T) {
	t0 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	files := []domain.RemoteFile{
		domain.NewRemoteFile("c.csv", t1, 1),
		domain.NewRemoteFile("b.csv", t0, 1),
		domain.NewRemoteFile("a.csv", t0, 1),
	}

	partitions := Partition(files, 10)
	require.Len(t, partitions, 2)
	assert.Equal(t, []string{"a.csv", "b.csv"}, uris(partitions[0]))
	assert.Equal(t, []string{"c.csv"}, uris(partitions[1]))
	assert.NotEqual(t, partitions[0].ID, partitions[1].ID)
	assert.Equal(t, "c.csv", files[0].URI, "input is not reordered")
}

func TestPartition_SplitsLargeGroups(t *testing.T) {
	t0 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	var files []domain.RemoteFile
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		files = append(files, domain.NewRemoteFile(name+".csv", t0, 1))
	}

	partitions := Partition(files, 2)
	require.Len(t, partitions, 3)
	assert.Equal(t, []string{"a.csv", "b.csv"}, uris(partitions[0]))
	assert.Equal(t, []string{"c.csv", "d.csv"}, uris(partitions[1]))
	assert.Equal(t, []string{"e.csv"}, uris(partitions[2]))
}

func TestPartition_Empty(t *testing.T) {
	assert.Empty(t, Partition(nil, 0))
}

func TestFilter(t *testing.T) {
	f, err := NewFilter([]string{"*.csv", "reports/**/*.json"})
	require.NoError(t, err)

	assert.True(t, f.Match("a.csv"))
	assert.False(t, f.Match("dir/a.csv"), "single star stays in one segment")
	assert.True(t, f.Match("reports/2021/01/x.json"))
	assert.False(t, f.Match("a.json"))

	files := []domain.RemoteFile{
		domain.NewRemoteFile("a.csv", time.Time{}, 0),
		domain.NewRemoteFile("a.json", time.Time{}, 0),
	}
	assert.Len(t, f.Apply(files), 1)
	assert.Equal(t, []string{"*.csv", "reports/**/*.json"}, f.Patterns())

	var none *Filter
	assert.True(t, none.Match("anything"))
	assert.Len(t, none.Apply(files), 2)

	_, err = NewFilter([]string{"[unclosed"})
	assert.Error(t, err)
}
