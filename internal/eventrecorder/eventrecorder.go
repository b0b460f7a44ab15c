// Package eventrecorder holds the in-memory vector of pipeline events
// awaiting the next batch submission (spec.md §4.8). Unlike the
// teacher's pgx-backed postgres.Store, these events are never persisted to
// disk: spec.md's non-goals explicitly rule out a durable event queue, so
// the batching discipline is kept and the storage medium is a plain slice.
package eventrecorder

import (
	"sync"
	"time"
)

// ProcessStatus is the event variant tag carried on every recorded event
// (spec.md §4.8).
type ProcessStatus string

const (
	StatusNewRun                ProcessStatus = "new_run"
	StatusFinishedRun            ProcessStatus = "finished_run"
	StatusToolExecution          ProcessStatus = "tool_execution"
	StatusFinishedToolExecution  ProcessStatus = "finished_tool_execution"
	StatusToolMetricEvent        ProcessStatus = "tool_metric_event"
	StatusMetricEvent            ProcessStatus = "metric_event"
	StatusSyslogEvent            ProcessStatus = "syslog_event"
	StatusError                  ProcessStatus = "error"
	StatusTestEvent              ProcessStatus = "test_event"
)

// Event is the wire shape described in spec.md §4.8.
type Event struct {
	Timestamp     time.Time      `json:"timestamp"`
	Message       string         `json:"message"`
	EventType     string         `json:"event_type"`
	ProcessType   string         `json:"process_type"`
	ProcessStatus ProcessStatus  `json:"process_status"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

const (
	eventTypePipeline = "process_status"
	processTypePipeline = "pipeline"
)

// NewEvent constructs an Event with the fixed event_type/process_type pair
// every recorded event carries (spec.md §4.8), stamped at now.
func NewEvent(now time.Time, status ProcessStatus, message string, attributes map[string]any) Event {
	return Event{
		Timestamp:     now,
		Message:       message,
		EventType:     eventTypePipeline,
		ProcessType:   processTypePipeline,
		ProcessStatus: status,
		Attributes:    attributes,
	}
}

// Recorder is an in-memory event buffer, grounded on the teacher's
// postgres.Store batching pattern but holding everything in a plain slice
// rather than a connection pool. It has no capacity limit: events
// accumulate until Drain is called.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// New constructs an empty Recorder.
func New() *Recorder {
	return &Recorder{}
}

// Record appends evt to the buffer. It never blocks on I/O.
func (r *Recorder) Record(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Len reports the number of events currently buffered.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Drain atomically removes and returns every buffered event, in insertion
// order (spec.md §4.8: "The flush contract drains the vector atomically").
// It returns nil, not an empty slice, when nothing is buffered.
func (r *Recorder) Drain() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	drained := r.events
	r.events = nil
	return drained
}
