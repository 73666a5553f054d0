package filesystem

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/vertextoedge/filesync/internal/port"
)

// DiskUsage returns usage of the volume holding the destination root
func (m *Manager) DiskUsage() (*port.DiskUsage, error) {
	usage, err := disk.Usage(m.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk stats: %w", err)
	}

	return &port.DiskUsage{
		Total:   usage.Total,
		Used:    usage.Used,
		Free:    usage.Free,
		UsedPct: usage.UsedPercent,
	}, nil
}
