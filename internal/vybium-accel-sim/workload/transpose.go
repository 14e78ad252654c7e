package workload

import (
	"math"

	"github.com/cockroachdb/errors"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/utils"
)

// Transpose writes the Cols x Rows transpose of the Rows x Cols row-major
// matrix at Src to Dst, one square tile at a time
type Transpose struct {
	segments
	Src  uint64
	Dst  uint64
	Rows uint64
	Cols uint64

	tile uint64
}

// NewTranspose creates a transpose kernel
func NewTranspose(cfg *arch.Config, src, dst, rows, cols uint64) (*Transpose, error) {
	if err := requireAddr("source", src); err != nil {
		return nil, err
	}
	if err := requireAddr("destination", dst); err != nil {
		return nil, err
	}
	if rows == 0 || cols == 0 {
		return nil, errors.Newf("matrix must be non-empty, got %dx%d", rows, cols)
	}
	return &Transpose{
		segments: segments{cfg: cfg},
		Src:      src,
		Dst:      dst,
		Rows:     rows,
		Cols:     cols,
		tile:     TileSide(cfg.BufferElems()),
	}, nil
}

// TileSide returns the largest power of two t with t*t <= elems
func TileSide(elems uint64) uint64 {
	side := uint64(math.Sqrt(float64(elems)))
	for side*side > elems {
		side--
	}
	return utils.MaxU64(utils.PrevPowerOfTwo(side), 1)
}

// forEachTile visits tiles in row-major tile order
func (k *Transpose) forEachTile(fn func(r0, c0, th, tw uint64)) {
	for r0 := uint64(0); r0 < k.Rows; r0 += k.tile {
		th := utils.MinU64(k.tile, k.Rows-r0)
		for c0 := uint64(0); c0 < k.Cols; c0 += k.tile {
			tw := utils.MinU64(k.tile, k.Cols-c0)
			fn(r0, c0, th, tw)
		}
	}
}

// CreatePrefetch reads each tile as row strips of the source
func (k *Transpose) CreatePrefetch() error {
	k.begin(false)
	lanes := k.cfg.Lanes()
	k.forEachTile(func(r0, c0, th, tw uint64) {
		var e fetch.Event
		for r := r0; r < r0+th; r++ {
			e.Add(fetch.Span(k.Src+k.bytes(r*k.Cols+c0), k.bytes(tw)))
		}
		e.Delay = utils.CeilDiv(th*tw, lanes)
		k.PrefetchSegment.Append(e)
	})
	return nil
}

// CreateDrain writes each tile as row strips of the destination
func (k *Transpose) CreateDrain() error {
	k.forEachTile(func(r0, c0, th, tw uint64) {
		var e fetch.Event
		for c := c0; c < c0+tw; c++ {
			e.Add(fetch.Span(k.Dst+k.bytes(c*k.Rows+r0), k.bytes(th)))
		}
		k.DrainSegment.Append(e)
	})
	return nil
}

// ComputationCost returns the number of elements moved
func (k *Transpose) ComputationCost() uint64 {
	return k.Rows * k.Cols
}

// KernelTypeName returns the transpose family name
func (k *Transpose) KernelTypeName() string {
	return arch.FamilyTranspose
}
