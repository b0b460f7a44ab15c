package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/tracerbio/tracer/internal/eventrecorder"
	"github.com/tracerbio/tracer/internal/logwatcher"
	"github.com/tracerbio/tracer/internal/procwatcher"
	"github.com/tracerbio/tracer/internal/statemgr"
	"github.com/tracerbio/tracer/internal/sysmetrics"
)

// seedTailOffsets sets the initial tail offset of every text source to its
// current size, so the first file tick ships only lines appended after the
// orchestrator started rather than replaying the whole file.
func (o *Orchestrator) seedTailOffsets() {
	for name, path := range map[string]string{sourceStdout: o.stdoutPath, sourceStderr: o.stderrPath, sourceSyslog: o.syslogPath} {
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil {
			o.offsets[name] = info.Size()
		}
	}
}

// processTick runs cleanup, polls the live process table, polls per-process
// metrics, removes completed processes, ticks the Run Controller, refreshes
// the system summary, and evaluates the rule engine. The original daemon's
// "clear just-started flag" step (spec.md §4.10) has no counterpart here:
// there is no such flag and nothing is cleared, the same Open-Question
// treatment as target.Rule's MergeWithParents.
func (o *Orchestrator) processTick(ctx context.Context) error {
	now := o.clock()
	o.stateMgr.Cleanup(now)

	snapshot, err := gopsutilSnapshot()
	if err != nil {
		return fmt.Errorf("enumerate processes: %w", err)
	}

	o.procWatch.Poll(snapshot)
	o.procWatch.PollMetrics(time.Duration(o.cfg.ProcessMetricsSendIntervalMs)*time.Millisecond, gopsutilMetricsOf)
	o.procWatch.RemoveCompleted(snapshot)
	o.runCtl.Tick(o.procWatch)

	sample, err := sysmetrics.Collect(ctx)
	if err == nil {
		o.stateMgr.RecordSystemSummary(sample.ToSystemSummary(now))
	}

	o.evaluateRules(now)
	return nil
}

// fileTick runs one File-System Watcher poll and one File-Content Watcher
// poll, shipping any newly tailed stdout/stderr lines to the collector
// (spec.md §4.4, §4.5, §4.10).
func (o *Orchestrator) fileTick(ctx context.Context) error {
	if o.fsWatch != nil {
		if err := o.fsWatch.Poll(ctx); err != nil {
			o.logger.Warn("orchestrator: file-system poll failed", "error", err)
		}
	}

	now := o.clock()
	stdoutLines := o.tailSource(sourceStdout, o.stdoutPath, now)
	stderrLines := o.tailSource(sourceStderr, o.stderrPath, now)
	o.tailSource(sourceSyslog, o.syslogPath, now)

	for _, issue := range o.logWatch.Poll() {
		o.recordIssue(issue, now)
	}

	if len(stdoutLines) > 0 {
		if err := o.client.CaptureLines(ctx, stdoutLines, false); err != nil {
			o.logger.Warn("orchestrator: stdout capture failed", "error", err)
		}
	}
	if len(stderrLines) > 0 {
		if err := o.client.CaptureLines(ctx, stderrLines, true); err != nil {
			o.logger.Warn("orchestrator: stderr capture failed", "error", err)
		}
	}

	o.evaluateRules(now)
	return nil
}

// submitTick samples system metrics as a metric_event, drains the Event
// Recorder, and POSTs the batch (spec.md §4.10).
func (o *Orchestrator) submitTick(ctx context.Context) error {
	if sample, err := sysmetrics.Collect(ctx); err == nil {
		o.recorder.Record(eventrecorder.NewEvent(o.clock(), eventrecorder.StatusMetricEvent, "system metrics", map[string]any{
			"cpu_percent":    sample.CPUPercent,
			"memory_percent": sample.MemoryPercent,
		}))
	}

	events := o.recorder.Drain()
	if len(events) == 0 {
		return nil
	}
	if _, err := o.client.Submit(ctx, events); err != nil {
		return fmt.Errorf("submit batch: %w", err)
	}
	return nil
}

// tailSource reads newly appended lines from path (if set and existing)
// starting at the last remembered offset, feeds them to both the
// File-Content Watcher (for pattern matching) and the System-State
// Manager's log ring (for rule-engine LogContains predicates), and returns
// them so the caller can ship stdout/stderr lines to the collector.
func (o *Orchestrator) tailSource(name, path string, now time.Time) []string {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	lines, newOffset, err := logwatcher.TailFile(path, o.offsets[name])
	if err != nil {
		return nil
	}
	o.offsets[name] = newOffset

	stream := streamFor(name)
	for _, line := range lines {
		o.logWatch.AppendLine(name, line)
		o.stateMgr.AppendLog(stream, statemgr.LogEntry{TimestampMs: now.UnixMilli(), Message: line})
	}
	return lines
}

func streamFor(name string) statemgr.Stream {
	switch name {
	case sourceStdout:
		return statemgr.StreamStdout
	case sourceStderr:
		return statemgr.StreamStderr
	default:
		return statemgr.StreamSyslog
	}
}

// recordIssue translates a logwatcher.IssueOutput into a statemgr.IssueEntry
// and a syslog_event Event (spec.md §4.5, §4.8).
func (o *Orchestrator) recordIssue(out logwatcher.IssueOutput, now time.Time) time.Time {
	issue := statemgr.IssueOther
	if out.ID == "OUT_OF_MEMORY" {
		issue = statemgr.IssueOutOfMemory
	}
	o.stateMgr.RecordIssue(issue, now)

	o.recorder.Record(eventrecorder.NewEvent(now, eventrecorder.StatusSyslogEvent, out.DisplayName, map[string]any{
		"pattern_id":   out.ID,
		"line":         out.Line,
		"line_number":  out.LineNumber,
		"lines_before": out.LinesBefore,
	}))
	return now
}

// evaluateRules evaluates the Rule Engine against the current snapshot and
// emits one error Event per triggered template, retracting the payload the
// template consumed so the same lines cannot re-fire it (spec.md §4.6).
func (o *Orchestrator) evaluateRules(now time.Time) {
	workspaceFiles := map[string]struct{}{}
	if o.fsWatch != nil {
		for path := range o.fsWatch.WatchedFiles() {
			workspaceFiles[path] = struct{}{}
		}
	}

	snapshot, ok := o.stateMgr.GetCurrentState(workspaceFiles)
	if !ok {
		return
	}

	triggered, consumed := o.ruleEngine.Evaluate(snapshot)
	for _, evt := range triggered {
		o.recorder.Record(eventrecorder.NewEvent(now, eventrecorder.StatusError, evt.DisplayName, map[string]any{
			"error_id": evt.ID,
			"severity": evt.Severity,
			"causes":   evt.Causes,
			"advices":  evt.Advices,
		}))
	}
	if len(consumed) > 0 {
		o.stateMgr.ClearByTriggerMetadata(consumed)
	}
}

// gopsutilSnapshot adapts github.com/shirou/gopsutil/v3/process into
// procwatcher.ProcessInfo, keeping the Process Watcher itself free of a
// direct gopsutil dependency so it can be tested without a real process
// table (spec.md §4.3).
func gopsutilSnapshot() ([]procwatcher.ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	out := make([]procwatcher.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		cmdline, _ := p.Cmdline()
		createMs, _ := p.CreateTime()

		out = append(out, procwatcher.ProcessInfo{
			PID:       p.Pid,
			ShortName: name,
			Cmdline:   cmdline,
			StartTime: time.UnixMilli(createMs),
		})
	}
	return out, nil
}

// gopsutilMetricsOf samples CPU and memory usage for a single PID, returning
// ok=false if the process can no longer be inspected (e.g. already exited).
func gopsutilMetricsOf(pid int32) (procwatcher.ProcessMetrics, bool) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return procwatcher.ProcessMetrics{}, false
	}
	cpuPct, err := p.CPUPercent()
	if err != nil {
		return procwatcher.ProcessMetrics{}, false
	}
	mem, err := p.MemoryInfo()
	if err != nil || mem == nil {
		return procwatcher.ProcessMetrics{}, false
	}
	return procwatcher.ProcessMetrics{CPUPercent: cpuPct, RSSBytes: mem.RSS, VSZBytes: mem.VMS}, true
}
