package logwatcher_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tracerbio/tracer/internal/logwatcher"
)

func TestPoll_MatchesOutOfMemoryAndDrains(t *testing.T) {
	w := logwatcher.New()
	w.Register("syslog", logwatcher.BuiltinPatterns())

	w.AppendLine("syslog", "kernel: starting up")
	w.AppendLine("syslog", "kernel: Out of memory: Killed process 1234 (star)")

	issues := w.Poll()
	if len(issues) != 1 {
		t.Fatalf("len(issues) = %d, want 1", len(issues))
	}
	issue := issues[0]
	if issue.ID != "OUT_OF_MEMORY" {
		t.Errorf("ID = %q, want OUT_OF_MEMORY", issue.ID)
	}
	if issue.LineNumber != 2 {
		t.Errorf("LineNumber = %d, want 2", issue.LineNumber)
	}
	if len(issue.LinesBefore) != 1 || issue.LinesBefore[0] != "kernel: starting up" {
		t.Errorf("LinesBefore = %v, want [%q]", issue.LinesBefore, "kernel: starting up")
	}

	// Draining means the same lines do not re-fire on the next Poll.
	if again := w.Poll(); len(again) != 0 {
		t.Errorf("second Poll() = %v, want no re-fired issues", again)
	}
}

func TestPoll_ContextWindowCapsAtTwoLines(t *testing.T) {
	w := logwatcher.New()
	w.Register("syslog", logwatcher.BuiltinPatterns())

	w.AppendLine("syslog", "line one")
	w.AppendLine("syslog", "line two")
	w.AppendLine("syslog", "line three")
	w.AppendLine("syslog", "Out of memory")

	issues := w.Poll()
	if len(issues) != 1 {
		t.Fatalf("len(issues) = %d, want 1", len(issues))
	}
	want := []string{"line two", "line three"}
	got := issues[0].LinesBefore
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("LinesBefore = %v, want %v", got, want)
	}
}

func TestPoll_UnregisteredSourceIgnored(t *testing.T) {
	w := logwatcher.New()
	w.AppendLine("stdout", "nobody is listening")
	if issues := w.Poll(); len(issues) != 0 {
		t.Errorf("issues = %v, want none", issues)
	}
}

func TestTailFile_ReadsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	if err := os.WriteFile(path, []byte("first\nsecond\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	lines, offset, err := logwatcher.TailFile(path, 0)
	if err != nil {
		t.Fatalf("TailFile: %v", err)
	}
	if len(lines) != 2 || lines[0] != "first" || lines[1] != "second" {
		t.Fatalf("lines = %v", lines)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("third\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	lines, _, err = logwatcher.TailFile(path, offset)
	if err != nil {
		t.Fatalf("TailFile (second read): %v", err)
	}
	if len(lines) != 1 || lines[0] != "third" {
		t.Fatalf("lines = %v, want [third]", lines)
	}
}
