package workload

import (
	"github.com/cockroachdb/errors"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/utils"
)

// NTT runs a radix-2 number theoretic transform of Elements values from Src
// into Dst. Transforms larger than a buffer run in several passes of
// log2(chunk) stages each, ping-ponging between Dst and Scratch so that the
// final pass lands in Dst. Passes keep the four-step layout, so every chunk of
// every pass is contiguous in memory.
//
// The transform is out-of-place: an in-place pass would read and write the
// same bytes within one step, and the merge would drop the writes.
type NTT struct {
	segments
	Src      uint64
	Dst      uint64
	Scratch  uint64
	Twiddles uint64
	Elements uint64

	chunk uint64
}

// NewNTT creates an NTT kernel. scratch may be zero when the transform fits a
// single pass.
func NewNTT(cfg *arch.Config, src, dst, scratch, twiddles, elements uint64) (*NTT, error) {
	if err := requireAddr("source", src); err != nil {
		return nil, err
	}
	if err := requireAddr("destination", dst); err != nil {
		return nil, err
	}
	if err := requireAddr("twiddle", twiddles); err != nil {
		return nil, err
	}
	if elements < 2 || !utils.IsPowerOfTwo(elements) {
		return nil, errors.Newf("NTT size must be a power of two >= 2, got %d", elements)
	}
	if src == dst {
		return nil, errors.Newf("NTT must be out-of-place, source and destination are both %#x", src)
	}

	k := &NTT{
		segments: segments{cfg: cfg},
		Src:      src,
		Dst:      dst,
		Scratch:  scratch,
		Twiddles: twiddles,
		Elements: elements,
		chunk:    NTTChunk(cfg.BufferElems(), elements),
	}
	if k.Passes() > 1 {
		if err := requireAddr("scratch", scratch); err != nil {
			return nil, errors.Wrapf(err, "NTT of %d elements needs %d passes", elements, k.Passes())
		}
		if scratch == src || scratch == dst {
			return nil, errors.Newf("NTT scratch %#x must differ from source %#x and destination %#x",
				scratch, src, dst)
		}
	}
	return k, nil
}

// NTTChunk returns the number of values one pass transforms per step: the
// largest power of two c with c values and c/2 twiddles fitting a buffer
func NTTChunk(bufferElems, elements uint64) uint64 {
	c := utils.MaxU64(utils.PrevPowerOfTwo(bufferElems*2/3), 2)
	return utils.MinU64(c, elements)
}

// Passes returns the number of passes over memory
func (k *NTT) Passes() int {
	total := utils.Log2(k.Elements)
	per := utils.Log2(k.chunk)
	return int(utils.CeilDiv(uint64(total), uint64(per)))
}

// stages returns the number of butterfly stages executed in pass p
func (k *NTT) stages(p int) uint64 {
	total := uint64(utils.Log2(k.Elements))
	per := uint64(utils.Log2(k.chunk))
	done := uint64(p) * per
	return utils.MinU64(per, total-done)
}

// target returns the base address pass p writes
func (k *NTT) target(p int) uint64 {
	if (k.Passes()-1-p)%2 == 0 {
		return k.Dst
	}
	return k.Scratch
}

// source returns the base address pass p reads
func (k *NTT) source(p int) uint64 {
	if p == 0 {
		return k.Src
	}
	return k.target(p - 1)
}

// CreatePrefetch reads one chunk and its twiddles per step
func (k *NTT) CreatePrefetch() error {
	k.begin(true)
	lanes := k.cfg.Lanes()
	half := k.chunk / 2
	for p := 0; p < k.Passes(); p++ {
		src := k.source(p)
		delay := utils.CeilDiv(half*k.stages(p), lanes)
		for j := uint64(0); j < k.Elements/k.chunk; j++ {
			k.PrefetchSegment.Append(fetch.NewEvent(delay,
				fetch.Span(src+k.bytes(j*k.chunk), k.bytes(k.chunk)),
				fetch.Span(k.Twiddles+k.bytes(j*half), k.bytes(half))))
		}
	}
	return nil
}

// CreateDrain writes the transformed chunk of every step
func (k *NTT) CreateDrain() error {
	for p := 0; p < k.Passes(); p++ {
		dst := k.target(p)
		for j := uint64(0); j < k.Elements/k.chunk; j++ {
			k.DrainSegment.Append(fetch.NewEvent(0, fetch.Span(dst+k.bytes(j*k.chunk), k.bytes(k.chunk))))
		}
	}
	return nil
}

// ComputationCost returns the number of butterflies
func (k *NTT) ComputationCost() uint64 {
	return k.Elements / 2 * uint64(utils.Log2(k.Elements))
}

// KernelTypeName returns the NTT family name
func (k *NTT) KernelTypeName() string {
	return arch.FamilyNTT
}
