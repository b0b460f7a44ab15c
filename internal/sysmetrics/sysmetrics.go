// Package sysmetrics samples host-wide CPU, memory, and per-disk utilization
// for the System-State Manager and the submit-tick metric_event (spec.md §3,
// §4.10).
package sysmetrics

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tracerbio/tracer/internal/statemgr"
)

// Sample is a single host resource-utilization reading.
type Sample struct {
	CPUPercent    float64
	MemoryPercent float64
	Disks         []statemgr.DiskUtilization
}

// Collect samples CPU percent (averaged across all cores since the previous
// call), memory utilization percent, and per-mounted-disk utilization
// percent.
func Collect(ctx context.Context) (Sample, error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, err
	}
	var cpuPct float64
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, err
	}

	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return Sample{}, err
	}

	disks := make([]statemgr.DiskUtilization, 0, len(partitions))
	for _, part := range partitions {
		usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
		if err != nil {
			continue
		}
		disks = append(disks, statemgr.DiskUtilization{
			MountPoint:         part.Mountpoint,
			UtilizationPercent: usage.UsedPercent,
		})
	}

	return Sample{
		CPUPercent:    cpuPct,
		MemoryPercent: vm.UsedPercent,
		Disks:         disks,
	}, nil
}

// ToSystemSummary converts a Sample into the statemgr representation stamped
// with sampledAt.
func (s Sample) ToSystemSummary(sampledAt time.Time) statemgr.SystemSummary {
	return statemgr.SystemSummary{
		CPUUtilization:    s.CPUPercent,
		MemoryUtilization: s.MemoryPercent,
		DiskUtilizations:  s.Disks,
		SampledAt:         sampledAt,
	}
}
