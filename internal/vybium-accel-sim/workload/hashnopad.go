package workload

import (
	"github.com/cockroachdb/errors"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/utils"
)

// HashNoPad absorbs each of Rows rows of RowElems elements at Src into the
// sponge without padding and writes one digest per row to Dst. Rows wider
// than a buffer are absorbed in pieces; only the last piece writes.
type HashNoPad struct {
	segments
	Src      uint64
	Dst      uint64
	Rows     uint64
	RowElems uint64
}

// NewHashNoPad creates a row hashing kernel
func NewHashNoPad(cfg *arch.Config, src, dst, rows, rowElems uint64) (*HashNoPad, error) {
	if err := requireAddr("source", src); err != nil {
		return nil, err
	}
	if err := requireAddr("destination", dst); err != nil {
		return nil, err
	}
	if rows == 0 || rowElems == 0 {
		return nil, errors.Newf("hash input must be non-empty, got %d rows of %d elements", rows, rowElems)
	}
	if cfg.BufferElems() < Rate+DigestElems {
		return nil, errors.Newf("buffer of %d elements cannot hold one rate block and a digest", cfg.BufferElems())
	}
	return &HashNoPad{segments: segments{cfg: cfg}, Src: src, Dst: dst, Rows: rows, RowElems: rowElems}, nil
}

// Permutations returns the permutations needed for one row
func (k *HashNoPad) Permutations() uint64 {
	return utils.CeilDiv(k.RowElems, Rate)
}

func (k *HashNoPad) rowsPerStep() uint64 {
	return k.cfg.BufferElems() / (k.RowElems + DigestElems)
}

// pieceElems is the widest whole-block slice of a row one buffer holds
func (k *HashNoPad) pieceElems() uint64 {
	return (k.cfg.BufferElems() - DigestElems) / Rate * Rate
}

func (k *HashNoPad) permDelay(perms uint64) uint64 {
	return utils.CeilDiv(perms, k.cfg.NumTiles) * RoundsPerPermutation
}

// CreatePrefetch reads groups of whole rows, or pieces of a wide row
func (k *HashNoPad) CreatePrefetch() error {
	k.begin(true)
	rowBytes := k.bytes(k.RowElems)
	if per := k.rowsPerStep(); per > 0 {
		for r0 := uint64(0); r0 < k.Rows; r0 += per {
			n := utils.MinU64(per, k.Rows-r0)
			k.PrefetchSegment.Append(fetch.NewEvent(k.permDelay(n*k.Permutations()),
				fetch.Span(k.Src+r0*rowBytes, n*rowBytes)))
		}
		return nil
	}

	piece := k.pieceElems()
	for r := uint64(0); r < k.Rows; r++ {
		for off := uint64(0); off < k.RowElems; off += piece {
			n := utils.MinU64(piece, k.RowElems-off)
			k.PrefetchSegment.Append(fetch.NewEvent(utils.CeilDiv(n, Rate)*RoundsPerPermutation,
				fetch.Span(k.Src+r*rowBytes+k.bytes(off), k.bytes(n))))
		}
	}
	return nil
}

// CreateDrain writes the digests of each group, or of the row a last piece ends
func (k *HashNoPad) CreateDrain() error {
	digestBytes := k.bytes(DigestElems)
	if per := k.rowsPerStep(); per > 0 {
		for r0 := uint64(0); r0 < k.Rows; r0 += per {
			n := utils.MinU64(per, k.Rows-r0)
			k.DrainSegment.Append(fetch.NewEvent(0, fetch.Span(k.Dst+r0*digestBytes, n*digestBytes)))
		}
		return nil
	}

	piece := k.pieceElems()
	for r := uint64(0); r < k.Rows; r++ {
		for off := uint64(0); off < k.RowElems; off += piece {
			if off+piece < k.RowElems {
				k.DrainSegment.Append(fetch.Event{})
				continue
			}
			k.DrainSegment.Append(fetch.NewEvent(0, fetch.Span(k.Dst+r*digestBytes, digestBytes)))
		}
	}
	return nil
}

// ComputationCost returns the number of permutations
func (k *HashNoPad) ComputationCost() uint64 {
	return k.Rows * k.Permutations()
}

// KernelTypeName returns the padding-free hash family name
func (k *HashNoPad) KernelTypeName() string {
	return arch.FamilyHashNoPad
}
