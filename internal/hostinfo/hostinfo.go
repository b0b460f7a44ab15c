// Package hostinfo gathers the host properties carried on a new_run event:
// OS/kernel/arch, CPU and memory totals, disk IO, and a best-effort AWS IMDS
// probe (spec.md §4.9).
package hostinfo

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/ec2metadata"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// IMDSTimeout bounds the AWS instance-metadata probe (spec.md §4.9, §5).
const IMDSTimeout = 2 * time.Second

// DiskIO is the cumulative read/write byte counters for one mounted disk.
type DiskIO struct {
	Device     string `json:"device"`
	ReadBytes  uint64 `json:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes"`
}

// AWSMetadata is populated only when the agent is running on an EC2 instance
// (spec.md §4.9: "best-effort ... treating absence as 'not an AWS instance'").
type AWSMetadata struct {
	InstanceID       string `json:"instance_id"`
	InstanceType     string `json:"instance_type"`
	AvailabilityZone string `json:"availability_zone"`
	AMIID            string `json:"ami_id"`
}

// Properties is the full host-properties payload sent with new_run (spec.md §4.9).
type Properties struct {
	OS              string       `json:"os"`
	KernelVersion   string       `json:"kernel_version"`
	Arch            string       `json:"arch"`
	CPUCount        int          `json:"cpu_count"`
	TotalMemoryMB   uint64       `json:"total_memory_mb"`
	TotalSwapMB     uint64       `json:"total_swap_mb"`
	Hostname        string       `json:"hostname"`
	UptimeSeconds   uint64       `json:"uptime_seconds"`
	DiskIO          []DiskIO     `json:"disk_io"`
	AWSMetadata     *AWSMetadata `json:"aws_metadata,omitempty"`
}

// Collect gathers current host properties, probing AWS IMDS with a
// best-effort 2-second timeout. IMDS failure never fails Collect; it only
// leaves Properties.AWSMetadata nil.
func Collect(ctx context.Context) (Properties, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return Properties{}, err
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Properties{}, err
	}
	swap, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return Properties{}, err
	}

	props := Properties{
		OS:            info.Platform,
		KernelVersion: info.KernelVersion,
		Arch:          info.KernelArch,
		CPUCount:      cpuCount(),
		TotalMemoryMB: vm.Total / (1024 * 1024),
		TotalSwapMB:   swap.Total / (1024 * 1024),
		Hostname:      info.Hostname,
		UptimeSeconds: info.Uptime,
		DiskIO:        collectDiskIO(ctx),
		AWSMetadata:   probeAWSMetadata(ctx),
	}

	return props, nil
}

func cpuCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

func collectDiskIO(ctx context.Context) []DiskIO {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return nil
	}
	out := make([]DiskIO, 0, len(counters))
	for device, c := range counters {
		out = append(out, DiskIO{Device: device, ReadBytes: c.ReadBytes, WriteBytes: c.WriteBytes})
	}
	return out
}

// probeAWSMetadata queries the EC2 instance metadata service with a 2-second
// timeout. Any failure (not running on EC2, IMDS unreachable, timeout) is
// treated as "not an AWS instance" rather than an error (spec.md §4.9).
func probeAWSMetadata(ctx context.Context) *AWSMetadata {
	imdsCtx, cancel := context.WithTimeout(ctx, IMDSTimeout)
	defer cancel()

	sess, err := session.NewSession(aws.NewConfig())
	if err != nil {
		return nil
	}
	client := ec2metadata.New(sess)
	if !client.AvailableWithContext(imdsCtx) {
		return nil
	}

	doc, err := client.GetInstanceIdentityDocumentWithContext(imdsCtx)
	if err != nil {
		return nil
	}

	return &AWSMetadata{
		InstanceID:       doc.InstanceID,
		InstanceType:     doc.InstanceType,
		AvailabilityZone: doc.AvailabilityZone,
		AMIID:            doc.ImageID,
	}
}
