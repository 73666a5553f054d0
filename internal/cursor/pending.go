package cursor

import (
	"fmt"

	"github.com/vertextoedge/filesync/internal/domain"
)

// pendingSet tracks files assigned to in-flight partitions
type pendingSet struct {
	files map[string]domain.RemoteFile
	set   bool
}

func newPendingSet() *pendingSet {
	return &pendingSet{files: make(map[string]domain.RemoteFile)}
}

// replace swaps the tracked set for the files of partitions. The current set is
// left untouched when a URI appears more than once.
func (p *pendingSet) replace(partitions []domain.Partition) error {
	files := make(map[string]domain.RemoteFile)
	for _, partition := range partitions {
		for _, f := range partition.Files {
			if _, dup := files[f.URI]; dup {
				return fmt.Errorf("%w: %s", domain.ErrDuplicatePendingFile, f.URI)
			}
			files[f.URI] = f
		}
	}
	p.files = files
	p.set = true
	return nil
}

// remove reports whether uri was pending
func (p *pendingSet) remove(uri string) bool {
	if _, ok := p.files[uri]; !ok {
		return false
	}
	delete(p.files, uri)
	return true
}

func (p *pendingSet) earliest() (domain.CursorValue, bool) {
	var (
		lowest domain.CursorValue
		found  bool
	)
	for _, f := range p.files {
		cv := f.CursorValue()
		if !found || cv.Before(lowest) {
			lowest = cv
			found = true
		}
	}
	return lowest, found
}

func (p *pendingSet) len() int {
	return len(p.files)
}
