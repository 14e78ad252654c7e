package convoy

import (
	"github.com/cockroachdb/errors"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arena"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/kernel"
)

// VectorChain is the kernel for a chain of field-vector operations. Each
// window becomes one fetch event.
type VectorChain struct {
	kernel.Base

	cfg     *arch.Config
	packer  *Packer
	ops     []Operation
	windows []*Window
}

// NewVectorChain creates a VectorChain kernel over ops. Preloaded ranges of a
// are treated as resident.
func NewVectorChain(cfg *arch.Config, a *arena.Arena, ops []Operation) (*VectorChain, error) {
	for i, op := range ops {
		if err := op.Validate(cfg); err != nil {
			return nil, errors.Wrapf(err, "invalid operation %d (%s)", i, op)
		}
	}

	var preloads Preloads
	if a != nil {
		preloads = a
	}

	return &VectorChain{
		cfg:    cfg,
		packer: NewPacker(cfg, preloads),
		ops:    ops,
	}, nil
}

// CreatePrefetch schedules the chain and emits one prefetch event per window
func (k *VectorChain) CreatePrefetch() error {
	k.windows = k.packer.Schedule(k.ops, k.cfg.WindowElems(), k.cfg.Lanes())

	k.PrefetchSegment = fetch.Segment{Interval: 1, Mergable: true}
	for _, w := range k.windows {
		k.PrefetchSegment.Append(w.Prefetch.Clone())
	}
	return nil
}

// CreateDrain emits one drain event per window
func (k *VectorChain) CreateDrain() error {
	if k.windows == nil && len(k.ops) > 0 {
		return errors.New("drain requested before prefetch")
	}

	k.DrainSegment = fetch.Segment{Interval: 1, Mergable: true}
	for _, w := range k.windows {
		drain := w.Drain.Clone()
		drain.Delay = 0
		k.DrainSegment.Append(drain)
	}
	return nil
}

// CreateReadRequest counts the request lines of each prefetch event
func (k *VectorChain) CreateReadRequest() error {
	k.Reads = fetch.RequestFor(k.PrefetchSegment, k.cfg.LineBytes)
	return nil
}

// CreateWriteRequest counts the request lines of each drain event
func (k *VectorChain) CreateWriteRequest() error {
	k.Writes = fetch.RequestFor(k.DrainSegment, k.cfg.LineBytes)
	return nil
}

// ComputationCost returns the total element count over all operations
func (k *VectorChain) ComputationCost() uint64 {
	var cost uint64
	for _, op := range k.ops {
		cost += op.VectorLength
	}
	return cost
}

// KernelTypeName returns the vector chain family name
func (k *VectorChain) KernelTypeName() string {
	return arch.FamilyVectorChain
}

// Windows returns the schedule computed by CreatePrefetch
func (k *VectorChain) Windows() []*Window {
	return k.windows
}

// Convoys returns every convoy of the schedule in issue order
func (k *VectorChain) Convoys() []*Convoy {
	convoys := make([]*Convoy, 0)
	for _, w := range k.windows {
		convoys = append(convoys, w.Convoys...)
	}
	return convoys
}

// NewIndependentChains splits ops into hazard-free batches and returns one
// VectorChain per batch
func NewIndependentChains(cfg *arch.Config, a *arena.Arena, ops []Operation) ([]*VectorChain, error) {
	batches := BatchIndependent(ops, cfg.ElementBytes)
	chains := make([]*VectorChain, 0, len(batches))
	for i, batch := range batches {
		chain, err := NewVectorChain(cfg, a, batch)
		if err != nil {
			return nil, errors.Wrapf(err, "batch %d", i)
		}
		chains = append(chains, chain)
	}
	return chains, nil
}
