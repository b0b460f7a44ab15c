// SPDX-License-Identifier: Apache-2.0
//
// probe_stub.go — non-Linux stub for the ebpf package.
//
// Every exported symbol remains available so callers can import the package
// unconditionally and branch on errors rather than using build tags.

//go:build !linux

package ebpf

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tracerbio/tracer/internal/target"
)

// ErrNotSupported is returned by Start on non-Linux platforms.
var ErrNotSupported = errors.New("ebpf: execve allow-list tracing is only supported on Linux ≥ 5.8")

// Probe is a no-op stub on non-Linux platforms.
type Probe struct{}

// NewProbe returns a stub Probe whose Start always fails.
func NewProbe(_ *slog.Logger) *Probe {
	return &Probe{}
}

// SetBPFObject is a no-op on non-Linux platforms.
func (p *Probe) SetBPFObject(_ []byte) {}

// Start always returns ErrNotSupported on non-Linux platforms.
func (p *Probe) Start(_ context.Context, _ []target.Rule) error {
	return ErrNotSupported
}

// Stop is a no-op on non-Linux platforms.
func (p *Probe) Stop() {}

// Events returns a nil channel on non-Linux platforms.
func (p *Probe) Events() <-chan ShortLivedProcessLog {
	return nil
}
