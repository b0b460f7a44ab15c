package statemgr_test

import (
	"testing"
	"time"

	"github.com/tracerbio/tracer/internal/statemgr"
)

func TestGetCurrentState_NoSummaryYet(t *testing.T) {
	m := statemgr.New()
	if _, ok := m.GetCurrentState(nil); ok {
		t.Fatal("expected ok=false before any system summary is recorded")
	}
}

func TestGetCurrentState_AfterSummary(t *testing.T) {
	m := statemgr.New()
	m.RecordSystemSummary(statemgr.SystemSummary{CPUUtilization: 42.5})
	m.AppendLog(statemgr.StreamStdout, statemgr.LogEntry{TimestampMs: 1, Message: "hello"})
	m.RecordToolRunSummary(statemgr.ToolRunSummary{ToolName: "fastqc", CPUUsage: 10})

	snap, ok := m.GetCurrentState(map[string]struct{}{"out.bam": {}})
	if !ok {
		t.Fatal("expected ok=true after recording a summary")
	}
	if snap.SystemSummary.CPUUtilization != 42.5 {
		t.Errorf("CPUUtilization = %v, want 42.5", snap.SystemSummary.CPUUtilization)
	}
	if len(snap.Logs[statemgr.StreamStdout]) != 1 {
		t.Errorf("len(Logs[stdout]) = %d, want 1", len(snap.Logs[statemgr.StreamStdout]))
	}
	if len(snap.ToolRunSummaries) != 1 {
		t.Errorf("len(ToolRunSummaries) = %d, want 1", len(snap.ToolRunSummaries))
	}
	if _, ok := snap.WorkspaceFiles["out.bam"]; !ok {
		t.Error("expected workspace files to be threaded through unchanged")
	}
}

func TestRecordToolRunSummary_ReplacesExisting(t *testing.T) {
	m := statemgr.New()
	m.RecordSystemSummary(statemgr.SystemSummary{})
	m.RecordToolRunSummary(statemgr.ToolRunSummary{ToolName: "star", CPUUsage: 10})
	m.RecordToolRunSummary(statemgr.ToolRunSummary{ToolName: "star", CPUUsage: 99})

	snap, _ := m.GetCurrentState(nil)
	if len(snap.ToolRunSummaries) != 1 {
		t.Fatalf("len(ToolRunSummaries) = %d, want 1", len(snap.ToolRunSummaries))
	}
	if snap.ToolRunSummaries[0].CPUUsage != 99 {
		t.Errorf("CPUUsage = %v, want 99 (replaced, not appended)", snap.ToolRunSummaries[0].CPUUsage)
	}
}

func TestCleanup_RemovesStaleEntries(t *testing.T) {
	m := statemgr.New()
	m.RecordSystemSummary(statemgr.SystemSummary{})

	now := time.Now()
	stale := now.Add(-statemgr.ValidityDuration - time.Second)
	fresh := now

	m.AppendLog(statemgr.StreamSyslog, statemgr.LogEntry{TimestampMs: stale.UnixMilli(), Message: "old"})
	m.AppendLog(statemgr.StreamSyslog, statemgr.LogEntry{TimestampMs: fresh.UnixMilli(), Message: "new"})
	m.RecordIssue(statemgr.IssueOutOfMemory, stale)

	m.Cleanup(now)

	snap, _ := m.GetCurrentState(nil)
	if len(snap.Logs[statemgr.StreamSyslog]) != 1 || snap.Logs[statemgr.StreamSyslog][0].Message != "new" {
		t.Errorf("Logs[syslog] = %+v, want only the fresh entry", snap.Logs[statemgr.StreamSyslog])
	}
	if len(snap.Issues) != 0 {
		t.Errorf("Issues = %+v, want stale issue removed", snap.Issues)
	}
}

func TestClearByTriggerMetadata(t *testing.T) {
	m := statemgr.New()
	m.RecordSystemSummary(statemgr.SystemSummary{})

	keep := statemgr.LogEntry{TimestampMs: 1, Message: "keep"}
	consume := statemgr.LogEntry{TimestampMs: 2, Message: "OOM killed process"}
	m.AppendLog(statemgr.StreamSyslog, keep)
	m.AppendLog(statemgr.StreamSyslog, consume)

	m.ClearByTriggerMetadata(map[statemgr.Stream][]statemgr.LogEntry{
		statemgr.StreamSyslog: {consume},
	})

	snap, _ := m.GetCurrentState(nil)
	got := snap.Logs[statemgr.StreamSyslog]
	if len(got) != 1 || got[0] != keep {
		t.Errorf("Logs[syslog] = %+v, want only %+v retained", got, keep)
	}
}
