package sampler

import (
	"context"
	"time"

	"github.com/fleetmc/fleetmc/pkg/apierr"
	"github.com/fleetmc/fleetmc/pkg/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const systemCPUSampleWindow = 200 * time.Millisecond

// SystemStats computes a synchronous, on-demand host-wide snapshot: overall
// CPU load, memory totals, and per-mount disk usage.
func (s *Sampler) SystemStats(ctx context.Context) (*types.SystemStats, error) {
	percentages, err := cpu.PercentWithContext(ctx, systemCPUSampleWindow, false)
	if err != nil {
		return nil, apierr.IoError(err, "sample system cpu")
	}
	var cpuPercent float64
	if len(percentages) > 0 {
		cpuPercent = percentages[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, apierr.IoError(err, "sample system memory")
	}

	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, apierr.IoError(err, "list disk partitions")
	}

	disks := make([]types.DiskUsage, 0, len(partitions))
	for _, p := range partitions {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		disks = append(disks, types.DiskUsage{
			Mountpoint: p.Mountpoint,
			Total:      usage.Total,
			Used:       usage.Used,
			Percent:    usage.UsedPercent,
		})
	}

	return &types.SystemStats{
		CPUPercent: cpuPercent,
		MemTotal:   vm.Total,
		MemUsed:    vm.Used,
		MemFree:    vm.Free,
		Disks:      disks,
		SampledAt:  time.Now().UTC(),
	}, nil
}
