package syncer

import (
	"slices"

	"github.com/google/uuid"

	"github.com/vertextoedge/filesync/internal/domain"
)

// DefaultFilesPerPartition caps the number of files one worker takes at a time
const DefaultFilesPerPartition = 10

// Partition splits the selected files into units of work. Files sharing a
// modification time are grouped together, oldest group first, and groups larger
// than maxFiles are split. Within a partition files are in cursor order.
func Partition(files []domain.RemoteFile, maxFiles int) []domain.Partition {
	if maxFiles <= 0 {
		maxFiles = DefaultFilesPerPartition
	}

	sorted := slices.Clone(files)
	slices.SortFunc(sorted, func(a, b domain.RemoteFile) int {
		return domain.CompareCursorValues(a.CursorValue(), b.CursorValue())
	})

	var partitions []domain.Partition
	var current []domain.RemoteFile
	flush := func() {
		if len(current) > 0 {
			partitions = append(partitions, domain.Partition{ID: uuid.NewString(), Files: current})
			current = nil
		}
	}

	for _, f := range sorted {
		if len(current) > 0 && (!current[0].LastModified.Equal(f.LastModified) || len(current) == maxFiles) {
			flush()
		}
		current = append(current, f)
	}
	flush()

	return partitions
}
