// Package runctl implements the Run Controller: it owns at most one active
// run, starting it on process activity and ending it on inactivity or
// parent-process exit (spec.md §4.9).
package runctl

import (
	"time"

	"github.com/tracerbio/tracer/internal/eventrecorder"
	"github.com/tracerbio/tracer/internal/hostinfo"
)

// RunMetadata describes the single active run (spec.md §3).
type RunMetadata struct {
	Name           string
	ID             string
	ServiceName    string
	StartTime      time.Time
	ParentPID      int32
	HasParentPID   bool
	LastInteraction time.Time
}

// ProcessTable is the subset of procwatcher.Watcher the Run Controller needs:
// whether any process is currently tracked, and the earliest tracked PID's
// start time, for parent-pid adoption (spec.md §4.9).
type ProcessTable interface {
	Len() int
	EarliestStartTime() (startTime time.Time, pid int32, ok bool)
	IsTracked(pid int32) bool
}

// Policy holds the Run Controller's tunables. The orchestrator fills
// NewRunPauseMs from configuration (spec.md §6) and sets the two flags to
// true.
type Policy struct {
	NewRunPauseMs                   int64
	WaitForProcessBeforeNewRun       bool
	ComplicatedProcessIdentification bool
}

// StartRunFunc synchronously announces a new run to the collector and
// returns the collector-assigned identifiers (spec.md §4.9, §6). The
// orchestrator wires this to transport.Client.Submit.
type StartRunFunc func(props hostinfo.Properties, startTime time.Time) (name, id, serviceName string, err error)

// Controller owns at most one RunMetadata (spec.md §4.9).
type Controller struct {
	policy   Policy
	recorder *eventrecorder.Recorder
	clock    func() time.Time
	collect  func() (hostinfo.Properties, error)
	startRun StartRunFunc

	run *RunMetadata
}

// New constructs a Controller. collect gathers host properties for the
// new_run payload (internal/hostinfo.Collect); startRun performs the
// synchronous collector round-trip.
func New(policy Policy, recorder *eventrecorder.Recorder, clock func() time.Time, collect func() (hostinfo.Properties, error), startRun StartRunFunc) *Controller {
	if clock == nil {
		clock = time.Now
	}
	return &Controller{policy: policy, recorder: recorder, clock: clock, collect: collect, startRun: startRun}
}

// Active reports whether a run currently exists.
func (c *Controller) Active() bool {
	return c.run != nil
}

// Current returns the active run, or the zero value and false if none.
func (c *Controller) Current() (RunMetadata, bool) {
	if c.run == nil {
		return RunMetadata{}, false
	}
	return *c.run, true
}

// NotifyInteraction records process activity, used to reset the inactivity
// timer (spec.md §4.9 "last_interaction").
func (c *Controller) NotifyInteraction(at time.Time) {
	if c.run != nil {
		c.run.LastInteraction = at
	}
}

// Tick applies the Run Controller's policy for one orchestrator tick
// (spec.md §4.9).
func (c *Controller) Tick(procs ProcessTable) {
	now := c.clock()

	if c.run == nil {
		if procs.Len() > 0 || !c.policy.WaitForProcessBeforeNewRun {
			c.startNewRun(procs, now)
		}
		return
	}

	if !c.policy.ComplicatedProcessIdentification {
		return
	}

	pause := time.Duration(c.policy.NewRunPauseMs) * time.Millisecond
	if now.Sub(c.run.LastInteraction) >= pause {
		c.endRun("Run ended due to inactivity", now)
		return
	}

	if !c.run.HasParentPID && procs.Len() > 0 {
		if _, pid, ok := procs.EarliestStartTime(); ok {
			c.run.ParentPID = pid
			c.run.HasParentPID = true
		}
	}

	if c.run.HasParentPID && !procs.IsTracked(c.run.ParentPID) {
		c.endRun("Run ended due to parent process termination", now)
	}
}

func (c *Controller) startNewRun(procs ProcessTable, now time.Time) {
	startTime := now.Add(-time.Millisecond)
	if earliest, _, ok := procs.EarliestStartTime(); ok && earliest.Before(startTime) {
		startTime = earliest.Add(-time.Millisecond)
	}

	var props hostinfo.Properties
	if c.collect != nil {
		if p, err := c.collect(); err == nil {
			props = p
		}
	}

	name, id, serviceName := "", "", ""
	if c.startRun != nil {
		if n, i, s, err := c.startRun(props, startTime); err == nil {
			name, id, serviceName = n, i, s
		}
	}

	c.run = &RunMetadata{
		Name:            name,
		ID:              id,
		ServiceName:     serviceName,
		StartTime:       startTime,
		LastInteraction: now,
	}

	if c.recorder != nil {
		c.recorder.Record(eventrecorder.NewEvent(now, eventrecorder.StatusNewRun, "Run started", hostPropertiesAttributes(props)))
	}
}

func (c *Controller) endRun(message string, now time.Time) {
	if c.recorder != nil {
		c.recorder.Record(eventrecorder.NewEvent(now, eventrecorder.StatusFinishedRun, message, nil))
	}
	c.run = nil
}

func hostPropertiesAttributes(p hostinfo.Properties) map[string]any {
	attrs := map[string]any{
		"os":              p.OS,
		"kernel_version":  p.KernelVersion,
		"arch":            p.Arch,
		"cpu_count":       p.CPUCount,
		"total_memory_mb": p.TotalMemoryMB,
		"total_swap_mb":   p.TotalSwapMB,
		"hostname":        p.Hostname,
		"uptime_seconds":  p.UptimeSeconds,
		"disk_io":         p.DiskIO,
	}
	if p.AWSMetadata != nil {
		attrs["aws_instance_id"] = p.AWSMetadata.InstanceID
		attrs["aws_instance_type"] = p.AWSMetadata.InstanceType
		attrs["aws_availability_zone"] = p.AWSMetadata.AvailabilityZone
		attrs["aws_ami_id"] = p.AWSMetadata.AMIID
	}
	return attrs
}
