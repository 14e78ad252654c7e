package vybiumaccelsim

import (
	"io"

	"golang.org/x/exp/slog"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arena"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/system"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/trace"
)

// Simulator is the public interface of the accelerator simulator
type Simulator interface {
	// Config returns the architecture the simulator was built with
	Config() *Config

	// Arena returns the simulated address space
	Arena() *Arena

	// Alloc reserves a named block of the arena and returns its address
	Alloc(name string, bytes uint64) (uint64, error)

	// RunOnce runs one kernel
	RunOnce(k Kernel) error

	// RunVec runs independent kernels as one burst
	RunVec(ks []Kernel) error

	// RunVectorChain schedules and runs a chain of vector operations
	RunVectorChain(ops []Operation) error

	// RunIndependent splits ops into hazard-free batches run as one burst
	RunIndependent(ops []Operation) error

	// EstimatedCycles returns the summed step delays so far
	EstimatedCycles() uint64

	// Stats returns a report of the run so far
	Stats() Report

	// Close flushes the trace
	Close() error
}

// NullBlock names the arena block reserved at address 0
const NullBlock = "null"

// Options configures a Simulator
type Options struct {
	// Text receives a human-readable copy of every record
	Text io.Writer

	// Logger receives run diagnostics; nil discards them
	Logger *slog.Logger

	// Forwarding also drops prefetches of data the previous step drained
	Forwarding bool
}

// simImpl is the internal implementation of Simulator
type simImpl struct {
	cfg    *Config
	arena  *arena.Arena
	system *system.System
}

// NewSimulator creates a simulator writing its binary trace to traceOut.
// traceOut may be nil, in which case records are only counted.
func NewSimulator(config *Config, traceOut io.Writer, opts *Options) (Simulator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if opts == nil {
		opts = &Options{}
	}
	if err := config.Validate(); err != nil {
		return nil, newError(ErrInvalidConfig, err, "invalid architecture config")
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var writer *trace.Writer
	if traceOut != nil {
		w, err := trace.NewWriter(traceOut, trace.WithDigest(config.DigestHash), trace.WithText(opts.Text))
		if err != nil {
			return nil, newError(ErrTrace, err, "failed to open trace")
		}
		writer = w
	}

	var merger fetch.Merger = fetch.DedupMerger{}
	if opts.Forwarding {
		merger = fetch.ForwardingMerger{}
	}

	a := arena.New(config, arena.WithLogger(log))
	// Address 0 marks an absent operand, so no buffer may start there.
	if _, err := a.Alloc(NullBlock, config.Alignment); err != nil {
		return nil, newError(ErrAllocation, err, "failed to reserve the null block")
	}
	sys, err := system.New(config, a, writer, system.WithLogger(log), system.WithMerger(merger))
	if err != nil {
		return nil, newError(ErrInvalidConfig, err, "failed to create system")
	}

	return &simImpl{cfg: config, arena: a, system: sys}, nil
}

func (s *simImpl) Config() *Config {
	return s.cfg
}

func (s *simImpl) Arena() *Arena {
	return s.arena
}

func (s *simImpl) Alloc(name string, bytes uint64) (uint64, error) {
	addr, err := s.arena.Alloc(name, bytes)
	if err != nil {
		return 0, newError(ErrAllocation, err, "failed to allocate %q", name)
	}
	return addr, nil
}

func (s *simImpl) RunOnce(k Kernel) error {
	if err := s.system.RunOnce(k); err != nil {
		return newError(ErrKernel, err, "%s kernel failed", k.KernelTypeName())
	}
	return nil
}

func (s *simImpl) RunVec(ks []Kernel) error {
	if err := s.system.RunVec(ks); err != nil {
		return newError(ErrKernel, err, "burst of %d kernels failed", len(ks))
	}
	return nil
}

func (s *simImpl) RunVectorChain(ops []Operation) error {
	if err := s.system.RunVectorChain(ops); err != nil {
		return newError(ErrKernel, err, "vector chain of %d operations failed", len(ops))
	}
	return nil
}

func (s *simImpl) RunIndependent(ops []Operation) error {
	if err := s.system.RunIndependent(ops); err != nil {
		return newError(ErrKernel, err, "independent batch of %d operations failed", len(ops))
	}
	return nil
}

func (s *simImpl) EstimatedCycles() uint64 {
	return s.system.EstimatedCycles()
}

func (s *simImpl) Stats() Report {
	return s.system.Stats()
}

func (s *simImpl) Close() error {
	if err := s.system.Close(); err != nil {
		return newError(ErrTrace, err, "failed to flush trace")
	}
	return nil
}
