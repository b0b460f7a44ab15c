// Package statemgr holds the bounded, time-windowed view of recent system
// state — logs, issues, tool run summaries, and the latest system summary —
// that the rule engine evaluates against (spec.md §4.7).
package statemgr

import (
	"sync"
	"time"
)

// CleanupInterval is how often Manager.Cleanup should be invoked by the
// orchestrator (spec.md §4.7).
const CleanupInterval = 2 * time.Second

// ValidityDuration is how long an entry remains eligible before Cleanup
// removes it (spec.md §4.7, §5).
const ValidityDuration = 30 * time.Second

// Stream identifies one of the three log sources the manager tracks.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	StreamSyslog Stream = "syslog"
)

// Issue is a recognized failure indicator produced by the rule engine — not
// an error of the agent itself (spec.md §3, §7).
type Issue string

const (
	IssueOutOfMemory Issue = "OutOfMemory"
	IssueOther       Issue = "Other"
)

// LogEntry is a single timestamped line observed on one stream.
type LogEntry struct {
	TimestampMs int64
	Message     string
}

// IssueEntry records when a given Issue was recognized.
type IssueEntry struct {
	Timestamp time.Time
	Issue     Issue
}

// DiskUtilization is the utilization percentage of a single mounted disk.
type DiskUtilization struct {
	MountPoint        string
	UtilizationPercent float64
}

// SystemSummary is the most recently sampled host-wide resource picture
// (spec.md §3).
type SystemSummary struct {
	CPUUtilization    float64
	MemoryUtilization float64
	DiskUtilizations  []DiskUtilization
	SampledAt         time.Time
}

// ToolRunSummary is the latest known resource consumption of one tracked
// tool, keyed by display name, used by the rule engine's per-tool predicates.
type ToolRunSummary struct {
	ToolName    string
	RunDuration time.Duration
	CPUUsage    float64
	MemoryUsage float64
}

// Snapshot is the borrowed view handed to the rule engine on each evaluation
// (spec.md §4.7). WorkspaceFiles is supplied by the caller (the File-System
// Watcher's view of the workflow directory) rather than stored in Manager.
type Snapshot struct {
	WorkspaceFiles  map[string]struct{}
	SystemSummary   SystemSummary
	ToolRunSummaries []ToolRunSummary
	Logs            map[Stream][]LogEntry
	Issues          []IssueEntry
}

// Manager owns the rings of recent state. It is safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	systemSummary    SystemSummary
	haveSummary      bool
	toolRunSummaries []ToolRunSummary
	logs             map[Stream][]LogEntry
	issues           []IssueEntry
	lastCleanup      time.Time
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{
		logs:        make(map[Stream][]LogEntry),
		lastCleanup: time.Now(),
	}
}

// RecordSystemSummary stores the latest system resource sample.
func (m *Manager) RecordSystemSummary(s SystemSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemSummary = s
	m.haveSummary = true
}

// RecordToolRunSummary replaces the stored summary for s.ToolName, or appends
// it if no summary for that tool exists yet.
func (m *Manager) RecordToolRunSummary(s ToolRunSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.toolRunSummaries {
		if m.toolRunSummaries[i].ToolName == s.ToolName {
			m.toolRunSummaries[i] = s
			return
		}
	}
	m.toolRunSummaries = append(m.toolRunSummaries, s)
}

// RemoveToolRunSummary drops the stored summary for toolName, if any.
func (m *Manager) RemoveToolRunSummary(toolName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.toolRunSummaries {
		if m.toolRunSummaries[i].ToolName == toolName {
			m.toolRunSummaries = append(m.toolRunSummaries[:i], m.toolRunSummaries[i+1:]...)
			return
		}
	}
}

// AppendLog appends a log entry to the named stream's ring.
func (m *Manager) AppendLog(stream Stream, entry LogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[stream] = append(m.logs[stream], entry)
}

// RecordIssue appends a recognized issue.
func (m *Manager) RecordIssue(issue Issue, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues = append(m.issues, IssueEntry{Timestamp: at, Issue: issue})
}

// GetCurrentState returns a snapshot including workspaceFiles, or ok=false if
// no system summary has been recorded yet (spec.md §4.7).
func (m *Manager) GetCurrentState(workspaceFiles map[string]struct{}) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.haveSummary {
		return Snapshot{}, false
	}

	logsCopy := make(map[Stream][]LogEntry, len(m.logs))
	for stream, entries := range m.logs {
		c := make([]LogEntry, len(entries))
		copy(c, entries)
		logsCopy[stream] = c
	}

	toolsCopy := make([]ToolRunSummary, len(m.toolRunSummaries))
	copy(toolsCopy, m.toolRunSummaries)

	issuesCopy := make([]IssueEntry, len(m.issues))
	copy(issuesCopy, m.issues)

	return Snapshot{
		WorkspaceFiles:   workspaceFiles,
		SystemSummary:    m.systemSummary,
		ToolRunSummaries: toolsCopy,
		Logs:             logsCopy,
		Issues:           issuesCopy,
	}, true
}

// Cleanup retains only entries younger than ValidityDuration, as of now. It
// is idempotent and cheap to call more often than CleanupInterval.
func (m *Manager) Cleanup(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoffMs := now.Add(-ValidityDuration).UnixMilli()
	for stream, entries := range m.logs {
		m.logs[stream] = filterLogs(entries, cutoffMs)
	}

	cutoff := now.Add(-ValidityDuration)
	kept := m.issues[:0:0]
	for _, e := range m.issues {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	m.issues = kept

	m.lastCleanup = now
}

func filterLogs(entries []LogEntry, cutoffMs int64) []LogEntry {
	kept := entries[:0:0]
	for _, e := range entries {
		if e.TimestampMs > cutoffMs {
			kept = append(kept, e)
		}
	}
	return kept
}

// ClearByTriggerMetadata removes exactly the log entries that were consumed
// by a triggered rule-engine template, so the same lines cannot re-fire the
// same template on a later tick (spec.md §4.6).
func (m *Manager) ClearByTriggerMetadata(consumed map[Stream][]LogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for stream, toRemove := range consumed {
		if len(toRemove) == 0 {
			continue
		}
		remaining := m.logs[stream][:0:0]
		for _, e := range m.logs[stream] {
			if !containsEntry(toRemove, e) {
				remaining = append(remaining, e)
			}
		}
		m.logs[stream] = remaining
	}
}

func containsEntry(haystack []LogEntry, e LogEntry) bool {
	for _, h := range haystack {
		if h == e {
			return true
		}
	}
	return false
}
