package eventrecorder_test

import (
	"testing"
	"time"

	"github.com/tracerbio/tracer/internal/eventrecorder"
)

func TestDrain_ReturnsInInsertionOrderAndEmptiesBuffer(t *testing.T) {
	r := eventrecorder.New()
	now := time.Now()
	r.Record(eventrecorder.NewEvent(now, eventrecorder.StatusNewRun, "run started", nil))
	r.Record(eventrecorder.NewEvent(now, eventrecorder.StatusToolExecution, "fastqc started", nil))

	got := r.Drain()
	if len(got) != 2 {
		t.Fatalf("len(Drain()) = %d, want 2", len(got))
	}
	if got[0].ProcessStatus != eventrecorder.StatusNewRun || got[1].ProcessStatus != eventrecorder.StatusToolExecution {
		t.Errorf("Drain() out of order: %+v", got)
	}
	if r.Len() != 0 {
		t.Errorf("Len() after Drain() = %d, want 0", r.Len())
	}
}

func TestDrain_EmptyReturnsNil(t *testing.T) {
	r := eventrecorder.New()
	if got := r.Drain(); got != nil {
		t.Errorf("Drain() on empty recorder = %v, want nil", got)
	}
}

func TestNewEvent_FixedEventTypeAndProcessType(t *testing.T) {
	evt := eventrecorder.NewEvent(time.Now(), eventrecorder.StatusError, "boom", map[string]any{"id": "OUT_OF_MEMORY"})
	if evt.EventType != "process_status" {
		t.Errorf("EventType = %q, want %q", evt.EventType, "process_status")
	}
	if evt.ProcessType != "pipeline" {
		t.Errorf("ProcessType = %q, want %q", evt.ProcessType, "pipeline")
	}
	if evt.Attributes["id"] != "OUT_OF_MEMORY" {
		t.Errorf("Attributes = %+v", evt.Attributes)
	}
}
