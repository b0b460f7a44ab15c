// Package procwatcher polls the live process table, matches processes
// against configured targets, and records tool-execution lifecycle events
// (spec.md §4.3).
package procwatcher

import (
	"time"

	"github.com/tracerbio/tracer/internal/ebpf"
	"github.com/tracerbio/tracer/internal/eventrecorder"
	"github.com/tracerbio/tracer/internal/target"
)

// ProcessInfo is the poller's view of one live process, decoupled from
// gopsutil so the matching and lifecycle logic can be tested without a real
// process table. The orchestrator's adapter fills this from
// github.com/shirou/gopsutil/v3/process.
type ProcessInfo struct {
	PID       int32
	ShortName string
	Cmdline   string
	StartTime time.Time
}

// ProcessMetrics is one CPU/memory sample for a tracked PID.
type ProcessMetrics struct {
	CPUPercent float64
	RSSBytes   uint64
	VSZBytes   uint64
}

// record is the tracked state for one matched, still-running process.
type record struct {
	pid            int32
	rule           target.Rule
	startTime      time.Time
	lastMetricEmit time.Time
}

// Watcher implements the Process Watcher's public operations (spec.md §4.3).
// It is not safe for concurrent use; callers serialize access the way the
// orchestrator's exclusive tracer-state mutex does (spec.md §5).
type Watcher struct {
	recorder *eventrecorder.Recorder
	clock    func() time.Time

	targets []target.Rule
	tracked map[int32]*record

	// OnInteraction is invoked whenever a poll or ingest observes process
	// activity, so the Run Controller can update last_interaction (spec.md §4.9).
	OnInteraction func(at time.Time)
}

// New constructs a Watcher. If clock is nil, time.Now is used.
func New(recorder *eventrecorder.Recorder, targets []target.Rule, clock func() time.Time) *Watcher {
	if clock == nil {
		clock = time.Now
	}
	return &Watcher{
		recorder: recorder,
		clock:    clock,
		targets:  targets,
		tracked:  make(map[int32]*record),
	}
}

// Len reports the number of currently tracked processes.
func (w *Watcher) Len() int {
	return len(w.tracked)
}

// EarliestStartTime returns the start time and PID of the tracked process
// with the earliest start time and true, or zero values and false if nothing
// is tracked (spec.md §4.9: the
// Run Controller adopts "the earliest-started tracked PID" as parent_pid).
func (w *Watcher) EarliestStartTime() (time.Time, int32, bool) {
	var (
		earliest time.Time
		pid      int32
		found    bool
	)
	for p, rec := range w.tracked {
		if !found || rec.startTime.Before(earliest) {
			earliest = rec.startTime
			pid = p
			found = true
		}
	}
	return earliest, pid, found
}

// IsTracked reports whether pid is currently tracked.
func (w *Watcher) IsTracked(pid int32) bool {
	_, ok := w.tracked[pid]
	return ok
}

// Poll enumerates the currently live processes in snapshot; for every PID
// not already tracked, it applies target matching in configuration order and
// retains the first match (spec.md §4.3, §4.3.1).
func (w *Watcher) Poll(snapshot []ProcessInfo) {
	now := w.clock()
	for _, p := range snapshot {
		if _, ok := w.tracked[p.PID]; ok {
			continue
		}
		rule, ok := target.Match(w.targets, p.ShortName, p.Cmdline)
		if !ok {
			continue
		}

		start := p.StartTime
		if start.IsZero() {
			start = now
		}
		w.tracked[p.PID] = &record{pid: p.PID, rule: rule, startTime: start}

		w.recorder.Record(eventrecorder.NewEvent(now, eventrecorder.StatusToolExecution,
			rule.DisplayOrName()+" started", map[string]any{
				"tool_name": rule.DisplayOrName(),
				"tool_pid":  p.PID,
			}))

		if w.OnInteraction != nil {
			w.OnInteraction(now)
		}
	}
}

// PollMetrics emits a ToolMetricEvent for every tracked PID whose
// last_metric_emit is older than minInterval (spec.md §4.3). metricsOf
// returns a sample and ok=false if the PID could not be sampled (e.g. it
// has already exited).
func (w *Watcher) PollMetrics(minInterval time.Duration, metricsOf func(pid int32) (ProcessMetrics, bool)) {
	now := w.clock()
	for pid, rec := range w.tracked {
		if now.Sub(rec.lastMetricEmit) < minInterval {
			continue
		}
		m, ok := metricsOf(pid)
		if !ok {
			continue
		}
		rec.lastMetricEmit = now

		w.recorder.Record(eventrecorder.NewEvent(now, eventrecorder.StatusToolMetricEvent,
			rec.rule.DisplayOrName()+" metrics", map[string]any{
				"tool_name":    rec.rule.DisplayOrName(),
				"tool_pid":     pid,
				"cpu_percent":  m.CPUPercent,
				"rss_bytes":    m.RSSBytes,
				"vsz_bytes":    m.VSZBytes,
			}))
	}
}

// RemoveCompleted drops every tracked PID absent from snapshot and records a
// finished_tool_execution event carrying execution_duration_ms (spec.md §4.3).
func (w *Watcher) RemoveCompleted(snapshot []ProcessInfo) {
	now := w.clock()
	live := make(map[int32]struct{}, len(snapshot))
	for _, p := range snapshot {
		live[p.PID] = struct{}{}
	}

	for pid, rec := range w.tracked {
		if _, ok := live[pid]; ok {
			continue
		}
		w.recorder.Record(eventrecorder.NewEvent(now, eventrecorder.StatusFinishedToolExecution,
			rec.rule.DisplayOrName()+" finished", map[string]any{
				"tool_name":             rec.rule.DisplayOrName(),
				"tool_pid":              pid,
				"execution_duration_ms": now.Sub(rec.startTime).Milliseconds(),
			}))
		delete(w.tracked, pid)
	}
}

// IngestShortLived records a ToolExecution event from a kernel-captured
// short-lived process log and, if its PID is parseable and not already
// tracked, begins tracking it so a later RemoveCompleted call can emit its
// exit (spec.md §4.3).
func (w *Watcher) IngestShortLived(log ebpf.ShortLivedProcessLog) {
	now := w.clock()

	rule, ok := target.Match(w.targets, log.Comm, log.Filename+" "+log.Args)
	displayName := log.Comm
	if ok {
		displayName = rule.DisplayOrName()
	}

	w.recorder.Record(eventrecorder.NewEvent(now, eventrecorder.StatusToolExecution,
		displayName+" started (short-lived)", map[string]any{
			"tool_name": displayName,
			"tool_pid":  log.PID,
			"filename":  log.Filename,
		}))

	if w.OnInteraction != nil {
		w.OnInteraction(now)
	}

	pid := int32(log.PID)
	if pid == 0 {
		return
	}
	if _, tracked := w.tracked[pid]; tracked {
		return
	}
	if !ok {
		rule = target.Rule{Kind: target.KindShortLivedExecutable, Name: log.Comm, DisplayName: log.Comm}
	}
	w.tracked[pid] = &record{pid: pid, rule: rule, startTime: now}
}

// ReloadTargets replaces the target set if it differs from the current one
// and clears the tracked-PID table so re-polling re-applies the new rules
// (spec.md §4.3).
func (w *Watcher) ReloadTargets(newTargets []target.Rule) {
	if rulesEqual(w.targets, newTargets) {
		return
	}
	w.targets = newTargets
	w.tracked = make(map[int32]*record)
}

func rulesEqual(a, b []target.Rule) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
