package syncer

import (
	"errors"
	"fmt"

	"github.com/vertextoedge/filesync/internal/port"
)

// ErrInsufficientSpace is returned when the destination volume is above its usage limit
var ErrInsufficientSpace = errors.New("destination volume above usage limit")

// spaceGuard checks the destination volume before files are written
type spaceGuard struct {
	fs              port.FileSystem
	maxDiskUsagePct float64
}

func newSpaceGuard(fs port.FileSystem, maxDiskUsagePct float64) *spaceGuard {
	return &spaceGuard{fs: fs, maxDiskUsagePct: maxDiskUsagePct}
}

// check fails with ErrInsufficientSpace if writing size more bytes would push
// the volume to the limit. A zero limit disables the check.
func (g *spaceGuard) check(size int64) error {
	if g == nil || g.maxDiskUsagePct <= 0 {
		return nil
	}

	usage, err := g.fs.DiskUsage()
	if err != nil {
		return fmt.Errorf("failed to read disk usage: %w", err)
	}
	if usage.Total == 0 {
		return nil
	}

	if usage.UsedPct >= g.maxDiskUsagePct {
		return fmt.Errorf("%w: %.1f%% used, limit %.1f%%", ErrInsufficientSpace, usage.UsedPct, g.maxDiskUsagePct)
	}

	newUsedPct := float64(usage.Used+uint64(max(size, 0))) / float64(usage.Total) * 100
	if newUsedPct >= g.maxDiskUsagePct {
		return fmt.Errorf("%w: %d bytes would reach %.1f%%", ErrInsufficientSpace, size, newUsedPct)
	}
	return nil
}
