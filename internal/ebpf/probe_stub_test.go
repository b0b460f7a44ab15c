//go:build !linux

package ebpf

import (
	"context"
	"errors"
	"testing"
)

func TestProbe_StartReturnsErrNotSupported(t *testing.T) {
	p := NewProbe(nil)
	err := p.Start(context.Background(), nil)
	if !errors.Is(err, ErrNotSupported) {
		t.Errorf("Start() error = %v, want ErrNotSupported", err)
	}
}

func TestProbe_EventsIsNil(t *testing.T) {
	p := NewProbe(nil)
	if p.Events() != nil {
		t.Error("Events() should be nil on non-Linux platforms")
	}
}
