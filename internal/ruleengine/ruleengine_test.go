package ruleengine_test

import (
	"regexp"
	"testing"
	"time"

	"github.com/tracerbio/tracer/internal/ruleengine"
	"github.com/tracerbio/tracer/internal/statemgr"
)

func emptySnapshot() statemgr.Snapshot {
	return statemgr.Snapshot{
		WorkspaceFiles: map[string]struct{}{},
		Logs:           map[statemgr.Stream][]statemgr.LogEntry{},
	}
}

func TestEvaluate_BasicIssueCondition(t *testing.T) {
	templates := []ruleengine.Template{
		{ID: "basic_issue", Condition: ruleengine.Condition{Kind: ruleengine.CondIssue, Issue: statemgr.IssueOther}},
		{ID: "other_issue", Condition: ruleengine.Condition{Kind: ruleengine.CondIssue, Issue: statemgr.IssueOutOfMemory}},
	}
	snap := emptySnapshot()
	snap.Issues = []statemgr.IssueEntry{{Issue: statemgr.IssueOther, Timestamp: time.Now()}}

	events, _ := ruleengine.New(templates).Evaluate(snap)
	if len(events) != 1 || events[0].ID != "basic_issue" {
		t.Fatalf("events = %+v, want exactly [basic_issue]", events)
	}
}

func TestEvaluate_AndOrNot(t *testing.T) {
	other := ruleengine.Condition{Kind: ruleengine.CondIssue, Issue: statemgr.IssueOther}
	oom := ruleengine.Condition{Kind: ruleengine.CondIssue, Issue: statemgr.IssueOutOfMemory}

	templates := []ruleengine.Template{
		{ID: "and_issue", Condition: ruleengine.Condition{Kind: ruleengine.CondAnd, Children: []ruleengine.Condition{other, oom}}},
		{ID: "or_issue", Condition: ruleengine.Condition{Kind: ruleengine.CondOr, Children: []ruleengine.Condition{other, oom}}},
		{ID: "not_issue", Condition: ruleengine.Condition{Kind: ruleengine.CondNot, Child: &other}},
	}

	snap := emptySnapshot()
	snap.Issues = []statemgr.IssueEntry{{Issue: statemgr.IssueOutOfMemory, Timestamp: time.Now()}}

	events, _ := ruleengine.New(templates).Evaluate(snap)
	if len(events) != 2 {
		t.Fatalf("events = %+v, want 2 (or_issue and not_issue); and_issue must be absent", events)
	}
	if events[0].ID != "or_issue" || events[1].ID != "not_issue" {
		t.Errorf("events = %+v, want [or_issue, not_issue] in template order", events)
	}
}

func TestEvaluate_SystemCPUAndMemory(t *testing.T) {
	templates := []ruleengine.Template{
		{ID: "high_cpu", Condition: ruleengine.Condition{Kind: ruleengine.CondSystemCPU, Threshold: 0.8}},
		{ID: "high_memory", Condition: ruleengine.Condition{Kind: ruleengine.CondSystemMemory, Threshold: 0.3}},
		{ID: "even_higher_cpu", Condition: ruleengine.Condition{Kind: ruleengine.CondSystemCPU, Threshold: 0.9}},
		{ID: "even_higher_memory", Condition: ruleengine.Condition{Kind: ruleengine.CondSystemMemory, Threshold: 0.4}},
	}
	snap := emptySnapshot()
	snap.SystemSummary = statemgr.SystemSummary{CPUUtilization: 0.85, MemoryUtilization: 0.35}

	events, _ := ruleengine.New(templates).Evaluate(snap)
	if len(events) != 2 || events[0].ID != "high_cpu" || events[1].ID != "high_memory" {
		t.Fatalf("events = %+v, want [high_cpu, high_memory]", events)
	}
}

func TestEvaluate_FileExists(t *testing.T) {
	templates := []ruleengine.Template{
		{ID: "file_exists", Condition: ruleengine.Condition{Kind: ruleengine.CondFileExists, Regex: regexp.MustCompile(`^test_file\.txt$`)}},
		{ID: "file_does_not_exist", Condition: ruleengine.Condition{Kind: ruleengine.CondFileExists, Regex: regexp.MustCompile(`^non_existent_file\.txt$`)}},
	}
	snap := emptySnapshot()
	snap.WorkspaceFiles = map[string]struct{}{"test_file.txt": {}}

	events, _ := ruleengine.New(templates).Evaluate(snap)
	if len(events) != 1 || events[0].ID != "file_exists" {
		t.Fatalf("events = %+v, want exactly [file_exists]", events)
	}
}

func TestEvaluate_LogContainsConsumesMatchedEntry(t *testing.T) {
	templates := []ruleengine.Template{
		{
			ID: "oom_syslog",
			Condition: ruleengine.Condition{
				Kind:   ruleengine.CondLogContains,
				Stream: statemgr.StreamSyslog,
				Regex:  regexp.MustCompile(`(?i)Out of memory`),
			},
		},
	}

	snap := emptySnapshot()
	entry := statemgr.LogEntry{TimestampMs: 1000, Message: "kernel: Out of memory: Killed process 1234 (star)"}
	snap.Logs[statemgr.StreamSyslog] = []statemgr.LogEntry{entry}

	events, consumed := ruleengine.New(templates).Evaluate(snap)

	found := false
	for _, e := range events {
		if e.ID == "oom_syslog" {
			found = true
		}
	}
	if !found {
		t.Fatalf("events = %+v, want oom_syslog present", events)
	}
	if len(consumed[statemgr.StreamSyslog]) != 1 || consumed[statemgr.StreamSyslog][0] != entry {
		t.Errorf("consumed[syslog] = %+v, want [%+v]", consumed[statemgr.StreamSyslog], entry)
	}
}

func TestBuiltinTemplates_OutOfMemoryFromSyslogIsConsumed(t *testing.T) {
	engine := ruleengine.New(ruleengine.BuiltinTemplates())
	snap := emptySnapshot()
	entry := statemgr.LogEntry{TimestampMs: 1000, Message: "kernel: Out of memory: Killed process 1234 (star)"}
	snap.Logs[statemgr.StreamSyslog] = []statemgr.LogEntry{entry}

	events, consumed := engine.Evaluate(snap)
	if len(events) != 1 || events[0].ID != "OUT_OF_MEMORY" {
		t.Fatalf("events = %+v, want exactly [OUT_OF_MEMORY]", events)
	}
	// The matched syslog entry must be reported as consumed so the caller can
	// retract it via statemgr.ClearByTriggerMetadata — otherwise the same
	// kernel message would re-trigger the template on every later tick.
	if len(consumed[statemgr.StreamSyslog]) != 1 || consumed[statemgr.StreamSyslog][0] != entry {
		t.Fatalf("consumed[syslog] = %+v, want [%+v]", consumed[statemgr.StreamSyslog], entry)
	}

	events, _ = engine.Evaluate(emptySnapshot())
	if len(events) != 0 {
		t.Errorf("events = %+v, want none once the syslog entry is retracted", events)
	}
}

func TestEvaluate_NoTriggerWhenAbsent(t *testing.T) {
	engine := ruleengine.New(ruleengine.BuiltinTemplates())
	events, consumed := engine.Evaluate(emptySnapshot())
	if len(events) != 0 {
		t.Errorf("events = %+v, want none", events)
	}
	if len(consumed) != 0 {
		t.Errorf("consumed = %+v, want none", consumed)
	}
}
