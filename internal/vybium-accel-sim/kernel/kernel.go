// Package kernel defines the capability every workload stage implements: it
// produces prefetch and drain fetch segments, read and write request
// descriptors, and a computation-cost count.
package kernel

import (
	"github.com/cockroachdb/errors"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"
)

// ErrEventMismatch is returned when the four artifacts disagree on event count
var ErrEventMismatch = errors.New("event count mismatch")

// Kernel is one workload stage as seen by the system
type Kernel interface {
	// Artifact creation. Build calls these in declaration order; drain
	// derivation may read the prefetch result, never the reverse.
	CreatePrefetch() error
	CreateDrain() error
	CreateReadRequest() error
	CreateWriteRequest() error

	Prefetch() fetch.Segment
	Drain() fetch.Segment
	ReadRequest() fetch.Request
	WriteRequest() fetch.Request

	// ComputationCost is an opaque reporting unit summed per kernel type
	ComputationCost() uint64

	// KernelTypeName is the statistics key and the enable-matrix family
	KernelTypeName() string
}

// Build creates the four artifacts of k in the fixed order
func Build(k Kernel) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"prefetch", k.CreatePrefetch},
		{"drain", k.CreateDrain},
		{"read request", k.CreateReadRequest},
		{"write request", k.CreateWriteRequest},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return errors.Wrapf(err, "failed to create %s for %s kernel", step.name, k.KernelTypeName())
		}
	}
	return nil
}

// Check verifies that the four artifacts of k have the same event count
func Check(k Kernel) error {
	prefetch := k.Prefetch().Len()
	drain := k.Drain().Len()
	reads := k.ReadRequest().Len()
	writes := k.WriteRequest().Len()

	if prefetch != drain || prefetch != reads || prefetch != writes {
		return errors.Wrapf(ErrEventMismatch,
			"%s kernel: prefetch=%d drain=%d read=%d write=%d",
			k.KernelTypeName(), prefetch, drain, reads, writes)
	}
	return nil
}

// Base stores the four artifacts and implements the accessor half of Kernel.
// Concrete kernels embed it and fill the fields from their Create methods.
type Base struct {
	PrefetchSegment fetch.Segment
	DrainSegment    fetch.Segment
	Reads           fetch.Request
	Writes          fetch.Request
}

// Prefetch returns the prefetch segment
func (b *Base) Prefetch() fetch.Segment {
	return b.PrefetchSegment
}

// Drain returns the drain segment
func (b *Base) Drain() fetch.Segment {
	return b.DrainSegment
}

// ReadRequest returns the read request descriptor
func (b *Base) ReadRequest() fetch.Request {
	return b.Reads
}

// WriteRequest returns the write request descriptor
func (b *Base) WriteRequest() fetch.Request {
	return b.Writes
}

// Reset clears all four artifacts so a kernel can be rebuilt
func (b *Base) Reset() {
	*b = Base{}
}
