package workload

import (
	"github.com/cockroachdb/errors"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/utils"
)

// MemCpy copies Bytes from Src to Dst one buffer at a time
type MemCpy struct {
	segments
	Src   uint64
	Dst   uint64
	Bytes uint64
}

// NewMemCpy creates a block copy kernel
func NewMemCpy(cfg *arch.Config, src, dst, bytes uint64) (*MemCpy, error) {
	if err := requireAddr("source", src); err != nil {
		return nil, err
	}
	if err := requireAddr("destination", dst); err != nil {
		return nil, err
	}
	if bytes == 0 {
		return nil, errors.New("copy size must be positive")
	}
	if src < dst+bytes && dst < src+bytes {
		return nil, errors.Newf("source %#x and destination %#x overlap", src, dst)
	}
	return &MemCpy{segments: segments{cfg: cfg}, Src: src, Dst: dst, Bytes: bytes}, nil
}

// CreatePrefetch reads one buffer-sized chunk of the source per event
func (k *MemCpy) CreatePrefetch() error {
	k.begin(false)
	for off := uint64(0); off < k.Bytes; off += k.cfg.BufferBytes {
		n := utils.MinU64(k.cfg.BufferBytes, k.Bytes-off)
		k.PrefetchSegment.Append(fetch.NewEvent(0, fetch.Span(k.Src+off, n)))
	}
	return nil
}

// CreateDrain writes the matching destination chunk per event
func (k *MemCpy) CreateDrain() error {
	for off := uint64(0); off < k.Bytes; off += k.cfg.BufferBytes {
		n := utils.MinU64(k.cfg.BufferBytes, k.Bytes-off)
		k.DrainSegment.Append(fetch.NewEvent(0, fetch.Span(k.Dst+off, n)))
	}
	return nil
}

// ComputationCost returns the number of elements moved
func (k *MemCpy) ComputationCost() uint64 {
	return utils.CeilDiv(k.Bytes, k.cfg.ElementBytes)
}

// KernelTypeName returns the memcpy family name
func (k *MemCpy) KernelTypeName() string {
	return arch.FamilyMemCpy
}
