// Package ruleengine evaluates Error Templates — Boolean trees of base
// predicates over a System-State Manager snapshot — and emits the resulting
// ErrorEvents, retracting the log entries each trigger consumed (spec.md
// §4.6). The condition tree is expressed as a tagged-variant struct rather
// than an interface, so evaluation is exhaustive pattern matching instead of
// runtime dispatch (spec.md §9).
package ruleengine

import (
	"regexp"

	"github.com/tracerbio/tracer/internal/statemgr"
)

// Severity is the graded importance of a triggered Error Template.
type Severity string

const (
	SeverityInfo     Severity = "Info"
	SeverityWarning  Severity = "Warning"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// ConditionKind selects which base predicate or combinator a Condition holds.
type ConditionKind int

const (
	CondFileExists ConditionKind = iota
	CondToolRunTimeGreaterThan
	CondToolCPUUsageGreaterThan
	CondToolMemoryUsageGreaterThan
	CondLogContains
	CondSystemCPU
	CondSystemMemory
	CondSystemDiskUtilization
	CondIssue
	CondAnd
	CondOr
	CondNot
)

// Condition is one node of a Boolean condition tree (spec.md §4.6, §9). Only
// the fields relevant to Kind are populated; the zero value of the rest is
// ignored.
type Condition struct {
	Kind ConditionKind

	// CondFileExists, CondLogContains
	Regex *regexp.Regexp

	// CondToolRunTimeGreaterThan, CondToolCPUUsageGreaterThan, CondToolMemoryUsageGreaterThan
	ToolName string

	// CondToolRunTimeGreaterThan
	RunTimeThreshold float64 // seconds

	// CondToolCPUUsageGreaterThan, CondToolMemoryUsageGreaterThan, CondSystemCPU,
	// CondSystemMemory, CondSystemDiskUtilization
	Threshold float64

	// CondLogContains
	Stream statemgr.Stream

	// CondIssue
	Issue statemgr.Issue

	// CondAnd, CondOr
	Children []Condition

	// CondNot
	Child *Condition
}

// payload is the matched data a present Condition carries, used both to
// merge And children and to retract the consumed log lines afterward.
type payload struct {
	files []string
	logs  map[statemgr.Stream][]statemgr.LogEntry
}

func emptyPayload() payload {
	return payload{logs: make(map[statemgr.Stream][]statemgr.LogEntry)}
}

func (p *payload) merge(other payload) {
	p.files = append(p.files, other.files...)
	for stream, entries := range other.logs {
		p.logs[stream] = append(p.logs[stream], entries...)
	}
}

// trigger evaluates c against snap, returning the merged payload and whether
// the condition is present (spec.md §4.6 evaluation semantics).
func (c *Condition) trigger(snap statemgr.Snapshot) (payload, bool) {
	switch c.Kind {
	case CondFileExists:
		for file := range snap.WorkspaceFiles {
			if c.Regex.MatchString(file) {
				p := emptyPayload()
				p.files = append(p.files, file)
				return p, true
			}
		}
		return payload{}, false

	case CondToolRunTimeGreaterThan:
		for _, t := range snap.ToolRunSummaries {
			if t.ToolName == c.ToolName && t.RunDuration.Seconds() > c.RunTimeThreshold {
				return emptyPayload(), true
			}
		}
		return payload{}, false

	case CondToolCPUUsageGreaterThan:
		for _, t := range snap.ToolRunSummaries {
			if t.ToolName == c.ToolName && t.CPUUsage > c.Threshold {
				return emptyPayload(), true
			}
		}
		return payload{}, false

	case CondToolMemoryUsageGreaterThan:
		for _, t := range snap.ToolRunSummaries {
			if t.ToolName == c.ToolName && t.MemoryUsage > c.Threshold {
				return emptyPayload(), true
			}
		}
		return payload{}, false

	case CondLogContains:
		for _, entry := range snap.Logs[c.Stream] {
			if c.Regex.MatchString(entry.Message) {
				p := emptyPayload()
				p.logs[c.Stream] = append(p.logs[c.Stream], entry)
				return p, true
			}
		}
		return payload{}, false

	case CondSystemCPU:
		if snap.SystemSummary.CPUUtilization > c.Threshold {
			return emptyPayload(), true
		}
		return payload{}, false

	case CondSystemMemory:
		if snap.SystemSummary.MemoryUtilization > c.Threshold {
			return emptyPayload(), true
		}
		return payload{}, false

	case CondSystemDiskUtilization:
		for _, d := range snap.SystemSummary.DiskUtilizations {
			if d.UtilizationPercent > c.Threshold {
				return emptyPayload(), true
			}
		}
		return payload{}, false

	case CondIssue:
		for _, entry := range snap.Issues {
			if entry.Issue == c.Issue {
				return emptyPayload(), true
			}
		}
		return payload{}, false

	case CondAnd:
		merged := emptyPayload()
		for i := range c.Children {
			p, present := c.Children[i].trigger(snap)
			if !present {
				return payload{}, false
			}
			merged.merge(p)
		}
		return merged, true

	case CondOr:
		for i := range c.Children {
			if p, present := c.Children[i].trigger(snap); present {
				return p, true
			}
		}
		return payload{}, false

	case CondNot:
		if _, present := c.Child.trigger(snap); present {
			return payload{}, false
		}
		return emptyPayload(), true

	default:
		return payload{}, false
	}
}

// Template is an Error Template: an id, reporting metadata, and the
// condition tree that must evaluate present to trigger it (spec.md §3, §4.6).
type Template struct {
	ID          string
	DisplayName string
	Severity    Severity
	Causes      []string
	Advices     []string
	Condition   Condition
}

// ErrorEvent is what a triggered Template emits to the Event Recorder
// (spec.md §4.6).
type ErrorEvent struct {
	ID          string
	DisplayName string
	Severity    Severity
	Causes      []string
	Advices     []string
}

// Engine evaluates a fixed list of Templates against successive snapshots.
type Engine struct {
	templates []Template
}

// New constructs an Engine over the given templates.
func New(templates []Template) *Engine {
	return &Engine{templates: templates}
}

// Evaluate checks every template against snap, returning one ErrorEvent per
// triggered template and the union of log entries consumed across all
// triggers (for the caller to retract via statemgr.ClearByTriggerMetadata).
func (e *Engine) Evaluate(snap statemgr.Snapshot) ([]ErrorEvent, map[statemgr.Stream][]statemgr.LogEntry) {
	var events []ErrorEvent
	consumed := make(map[statemgr.Stream][]statemgr.LogEntry)

	for _, tmpl := range e.templates {
		p, present := tmpl.Condition.trigger(snap)
		if !present {
			continue
		}
		events = append(events, ErrorEvent{
			ID:          tmpl.ID,
			DisplayName: tmpl.DisplayName,
			Severity:    tmpl.Severity,
			Causes:      tmpl.Causes,
			Advices:     tmpl.Advices,
		})
		for stream, entries := range p.logs {
			consumed[stream] = append(consumed[stream], entries...)
		}
	}

	return events, consumed
}

// BuiltinTemplates returns the agent's seed Error Templates (spec.md §4.6,
// §8 scenario 5). OUT_OF_MEMORY is keyed on CondLogContains rather than
// CondIssue: a LogContains match carries the matched syslog entry as its
// payload, so Evaluate's caller can retract exactly that line via
// ClearByTriggerMetadata and the same kernel OOM-killer message cannot
// re-fire the template on the next tick. CondIssue has no such payload
// (statemgr.IssueEntry carries only a timestamp), so an issue-keyed
// condition would never be retracted and would re-fire on every tick until
// ValidityDuration expired it — matching the original's errors/conditions.rs,
// which keys its out-of-memory template on the same syslog pattern.
func BuiltinTemplates() []Template {
	return []Template{
		{
			ID:          "OUT_OF_MEMORY",
			DisplayName: "Out of memory",
			Severity:    SeverityCritical,
			Causes:      []string{"The process consumed more memory than the host had available"},
			Advices:     []string{"Re-run on a host with more RAM, or reduce the tool's memory footprint"},
			Condition: Condition{
				Kind:   CondLogContains,
				Stream: statemgr.StreamSyslog,
				Regex:  regexp.MustCompile(`(?i)Out of memory`),
			},
		},
	}
}
