package vybiumaccelsim

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/convoy"
)

// Workload is a JSON description of a simulation: the architecture, the named
// buffers to allocate and the kernels to run in order
type Workload struct {
	Config  json.RawMessage `json:"config,omitempty"`
	Buffers []BufferSpec    `json:"buffers"`
	Kernels []KernelSpec    `json:"kernels"`
}

// BufferSpec is one named arena allocation
type BufferSpec struct {
	Name     string `json:"name"`
	Bytes    uint64 `json:"bytes,omitempty"`
	Elements uint64 `json:"elements,omitempty"`
	Preload  bool   `json:"preload,omitempty"`
}

// KernelSpec describes one kernel. Addresses are operand references: a buffer
// name, optionally followed by "+N" for an element offset.
type KernelSpec struct {
	Type string `json:"type"`

	Src      string `json:"src,omitempty"`
	Dst      string `json:"dst,omitempty"`
	Scratch  string `json:"scratch,omitempty"`
	Twiddles string `json:"twiddles,omitempty"`
	Leaves   string `json:"leaves,omitempty"`
	Nodes    string `json:"nodes,omitempty"`

	Bytes     uint64 `json:"bytes,omitempty"`
	Rows      uint64 `json:"rows,omitempty"`
	Cols      uint64 `json:"cols,omitempty"`
	Elements  uint64 `json:"elements,omitempty"`
	NumLeaves uint64 `json:"num_leaves,omitempty"`
	RowElems  uint64 `json:"row_elems,omitempty"`

	// vector_chain
	Ops         []OpSpec `json:"ops,omitempty"`
	Independent bool     `json:"independent,omitempty"`

	// burst
	Kernels []KernelSpec `json:"kernels,omitempty"`
}

// OpSpec describes one vector operation
type OpSpec struct {
	Kind   string `json:"kind"`
	VL     uint64 `json:"vl"`
	In0    string `json:"in0"`
	In1    string `json:"in1,omitempty"`
	Out    string `json:"out,omitempty"`
	Scalar bool   `json:"scalar,omitempty"`
	Final  bool   `json:"final,omitempty"`
}

// KindBurst groups several kernels into one RunVec call
const KindBurst = "burst"

// ParseWorkload decodes a workload description
func ParseWorkload(data []byte) (*Workload, error) {
	var w Workload
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, newError(ErrInvalidWorkload, err, "failed to parse workload")
	}
	if len(w.Kernels) == 0 {
		return nil, newError(ErrInvalidWorkload, nil, "workload has no kernels")
	}
	return &w, nil
}

// LoadWorkload reads a workload description file
func LoadWorkload(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(ErrInvalidWorkload, err, "failed to read %s", path)
	}
	return ParseWorkload(data)
}

// ArchConfig returns the workload's architecture on top of the defaults
func (w *Workload) ArchConfig() (*Config, error) {
	cfg, err := arch.ParseConfig(w.Config)
	if err != nil {
		return nil, newError(ErrInvalidConfig, err, "invalid workload config")
	}
	return cfg, nil
}

// Run allocates the workload's buffers in sim's arena and runs its kernels
func (w *Workload) Run(sim Simulator) error {
	cfg := sim.Config()
	for _, b := range w.Buffers {
		size := b.Bytes
		if size == 0 {
			size = b.Elements * cfg.ElementBytes
		}
		addr, err := sim.Alloc(b.Name, size)
		if err != nil {
			return err
		}
		if b.Preload {
			sim.Arena().Preload(addr, size)
		}
	}

	for i, spec := range w.Kernels {
		if err := w.runKernel(sim, spec); err != nil {
			return newError(ErrKernel, err, "kernel %d (%s)", i, spec.Type)
		}
	}
	return nil
}

func (w *Workload) runKernel(sim Simulator, spec KernelSpec) error {
	switch spec.Type {
	case KindBurst:
		ks := make([]Kernel, 0, len(spec.Kernels))
		for j, inner := range spec.Kernels {
			k, err := buildKernel(sim, inner)
			if err != nil {
				return newError(ErrInvalidWorkload, err, "burst member %d", j)
			}
			ks = append(ks, k)
		}
		return sim.RunVec(ks)
	case FamilyVectorChain:
		ops, err := buildOps(sim, spec.Ops)
		if err != nil {
			return err
		}
		if spec.Independent {
			return sim.RunIndependent(ops)
		}
		return sim.RunVectorChain(ops)
	default:
		k, err := buildKernel(sim, spec)
		if err != nil {
			return err
		}
		return sim.RunOnce(k)
	}
}

func buildKernel(sim Simulator, spec KernelSpec) (Kernel, error) {
	cfg := sim.Config()
	r := resolver{sim: sim}
	var k Kernel
	var err error
	switch spec.Type {
	case FamilyMemCpy:
		k, err = NewMemCpy(cfg, r.addr(spec.Src), r.addr(spec.Dst), spec.Bytes)
	case FamilyTranspose:
		k, err = NewTranspose(cfg, r.addr(spec.Src), r.addr(spec.Dst), spec.Rows, spec.Cols)
	case FamilyNTT:
		k, err = NewNTT(cfg, r.addr(spec.Src), r.addr(spec.Dst), r.addr(spec.Scratch), r.addr(spec.Twiddles), spec.Elements)
	case FamilyMerkleTree:
		k, err = NewMerkleTree(cfg, r.addr(spec.Leaves), r.addr(spec.Nodes), spec.NumLeaves)
	case FamilyHashNoPad:
		k, err = NewHashNoPad(cfg, r.addr(spec.Src), r.addr(spec.Dst), spec.Rows, spec.RowElems)
	case FamilyVectorChain:
		var ops []Operation
		if ops, err = buildOps(sim, spec.Ops); err == nil {
			k, err = convoy.NewVectorChain(cfg, sim.Arena(), ops)
		}
	default:
		return nil, newError(ErrInvalidWorkload, nil, "unknown kernel type %q", spec.Type)
	}
	if r.err != nil {
		return nil, r.err
	}
	return k, err
}

func buildOps(sim Simulator, specs []OpSpec) ([]Operation, error) {
	r := resolver{sim: sim}
	ops := make([]Operation, 0, len(specs))
	for i, s := range specs {
		var op Operation
		switch strings.ToUpper(s.Kind) {
		case "MUL":
			op = Mul(s.VL, r.addr(s.In0), r.addr(s.In1), r.addr(s.Out))
		case "ADD":
			op = Add(s.VL, r.addr(s.In0), r.addr(s.In1), r.addr(s.Out))
		case "SUB":
			op = Sub(s.VL, r.addr(s.In0), r.addr(s.In1), r.addr(s.Out))
		default:
			return nil, newError(ErrInvalidWorkload, nil, "operation %d: unknown kind %q", i, s.Kind)
		}
		if s.Scalar {
			op = op.Scalar()
		}
		if s.Final {
			op = op.AsFinal()
		}
		ops = append(ops, op)
	}
	if r.err != nil {
		return nil, r.err
	}
	return ops, nil
}

// resolver turns operand references into addresses, keeping the first error
type resolver struct {
	sim Simulator
	err error
}

// addr resolves "name" or "name+N". The empty reference is the absent operand.
func (r *resolver) addr(ref string) uint64 {
	ref = strings.TrimSpace(ref)
	if ref == "" || r.err != nil {
		return 0
	}
	name, offset := ref, uint64(0)
	if i := strings.LastIndexByte(ref, '+'); i >= 0 {
		n, err := strconv.ParseUint(strings.TrimSpace(ref[i+1:]), 10, 64)
		if err != nil {
			r.err = newError(ErrInvalidWorkload, err, "bad offset in %q", ref)
			return 0
		}
		name, offset = strings.TrimSpace(ref[:i]), n
	}
	base, ok := r.sim.Arena().Address(name)
	if !ok {
		r.err = newError(ErrInvalidWorkload, nil, "unknown buffer %q", name)
		return 0
	}
	return base + offset*r.sim.Config().ElementBytes
}
