// Package workload provides the address-generating kernels of a prover
// pipeline: block copy, transpose, NTT, Merkle tree construction and
// padding-free row hashing. None of them computes values; they only describe
// which bytes move between memory and the on-chip buffers, and when.
package workload

import (
	"github.com/cockroachdb/errors"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/kernel"
)

// Rate is the number of field elements absorbed per permutation of the sponge
const Rate = 10

// RoundsPerPermutation is the cycle cost of one permutation on one tile
const RoundsPerPermutation = 5

// segments holds the artifact-building helpers every kernel shares
type segments struct {
	kernel.Base
	cfg *arch.Config
}

func (s *segments) begin(systolic bool) {
	s.PrefetchSegment = fetch.Segment{Interval: 1, Mergable: true, Systolic: systolic}
	s.DrainSegment = fetch.Segment{Interval: 1, Mergable: true, Systolic: systolic}
}

func (s *segments) bytes(elems uint64) uint64 {
	return elems * s.cfg.ElementBytes
}

// CreateReadRequest counts the request lines of each prefetch event
func (s *segments) CreateReadRequest() error {
	s.Reads = fetch.RequestFor(s.PrefetchSegment, s.cfg.LineBytes)
	return nil
}

// CreateWriteRequest counts the request lines of each drain event
func (s *segments) CreateWriteRequest() error {
	s.Writes = fetch.RequestFor(s.DrainSegment, s.cfg.LineBytes)
	return nil
}

func requireAddr(name string, addr uint64) error {
	if addr == 0 {
		return errors.Newf("%s address must be non-zero", name)
	}
	return nil
}
