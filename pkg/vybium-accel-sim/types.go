package vybiumaccelsim

import (
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arena"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/convoy"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/kernel"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/stats"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/trace"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/workload"
)

// Config is the architecture of the simulated accelerator
type Config = arch.Config

// Arena is the simulated address space
type Arena = arena.Arena

// Operation is one field-vector operation descriptor
type Operation = convoy.Operation

// Kernel is anything the simulator can run
type Kernel = kernel.Kernel

// Report summarizes a run
type Report = stats.Report

// OpRecord is one memory operation of the emitted trace
type OpRecord = trace.OpRecord

// Kernel family names, also the keys of Config.Kernels
const (
	FamilyVectorChain = arch.FamilyVectorChain
	FamilyMemCpy      = arch.FamilyMemCpy
	FamilyTranspose   = arch.FamilyTranspose
	FamilyNTT         = arch.FamilyNTT
	FamilyMerkleTree  = arch.FamilyMerkleTree
	FamilyHashNoPad   = arch.FamilyHashNoPad
)

// DefaultConfig returns the reference accelerator configuration
func DefaultConfig() *Config {
	return arch.DefaultConfig()
}

// LoadConfig reads a JSON architecture configuration
func LoadConfig(path string) (*Config, error) {
	cfg, err := arch.LoadConfig(path)
	if err != nil {
		return nil, newError(ErrInvalidConfig, err, "failed to load %s", path)
	}
	return cfg, nil
}

// Operation constructors
var (
	Mul = convoy.Mul
	Add = convoy.Add
	Sub = convoy.Sub
)

// NewMemCpy creates a block copy kernel
func NewMemCpy(cfg *Config, src, dst, bytes uint64) (Kernel, error) {
	k, err := workload.NewMemCpy(cfg, src, dst, bytes)
	if err != nil {
		return nil, invalidKernel(err)
	}
	return k, nil
}

// NewTranspose creates a matrix transpose kernel
func NewTranspose(cfg *Config, src, dst, rows, cols uint64) (Kernel, error) {
	k, err := workload.NewTranspose(cfg, src, dst, rows, cols)
	if err != nil {
		return nil, invalidKernel(err)
	}
	return k, nil
}

// NewNTT creates an out-of-place NTT kernel
func NewNTT(cfg *Config, src, dst, scratch, twiddles, elements uint64) (Kernel, error) {
	k, err := workload.NewNTT(cfg, src, dst, scratch, twiddles, elements)
	if err != nil {
		return nil, invalidKernel(err)
	}
	return k, nil
}

// NewMerkleTree creates a Merkle tree kernel
func NewMerkleTree(cfg *Config, leaves, nodes, numLeaves uint64) (Kernel, error) {
	k, err := workload.NewMerkleTree(cfg, leaves, nodes, numLeaves)
	if err != nil {
		return nil, invalidKernel(err)
	}
	return k, nil
}

// NewHashNoPad creates a padding-free row hashing kernel
func NewHashNoPad(cfg *Config, src, dst, rows, rowElems uint64) (Kernel, error) {
	k, err := workload.NewHashNoPad(cfg, src, dst, rows, rowElems)
	if err != nil {
		return nil, invalidKernel(err)
	}
	return k, nil
}

// MerkleNodesBytes returns the size of the node region of a tree over numLeaves
func MerkleNodesBytes(cfg *Config, numLeaves uint64) uint64 {
	return workload.NodesBytes(cfg, numLeaves)
}

func invalidKernel(err error) error {
	return newError(ErrKernel, err, "invalid kernel parameters")
}
