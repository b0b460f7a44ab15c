package hostinfo_test

import (
	"context"
	"testing"
	"time"

	"github.com/tracerbio/tracer/internal/hostinfo"
)

func TestCollect_PopulatesBasicFields(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	props, err := hostinfo.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if props.CPUCount <= 0 {
		t.Errorf("CPUCount = %d, want > 0", props.CPUCount)
	}
	if props.Hostname == "" {
		t.Error("expected a non-empty hostname")
	}
	// Off-EC2 test environments should leave AWSMetadata nil rather than error.
}

func TestIMDSTimeout_IsTwoSeconds(t *testing.T) {
	if hostinfo.IMDSTimeout != 2*time.Second {
		t.Errorf("IMDSTimeout = %v, want 2s", hostinfo.IMDSTimeout)
	}
}
