package workload

import (
	"github.com/cockroachdb/errors"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/hash"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/utils"
)

// DigestElems is the width of one digest in field elements
const DigestElems = uint64(hash.DigestLen)

// MerkleTree builds a binary Merkle tree over NumLeaves leaf digests stored at
// Leaves. Internal levels are stored one after another at Nodes, bottom level
// first and root last. A level with an odd node count hashes its last node
// with itself.
type MerkleTree struct {
	segments
	Leaves    uint64
	Nodes     uint64
	NumLeaves uint64
}

// NewMerkleTree creates a Merkle tree kernel
func NewMerkleTree(cfg *arch.Config, leaves, nodes, numLeaves uint64) (*MerkleTree, error) {
	if err := requireAddr("leaf", leaves); err != nil {
		return nil, err
	}
	if err := requireAddr("node", nodes); err != nil {
		return nil, err
	}
	if numLeaves < 2 {
		return nil, errors.Newf("Merkle tree needs at least 2 leaves, got %d", numLeaves)
	}
	if cfg.BufferElems() < 3*DigestElems {
		return nil, errors.Newf("buffer of %d elements cannot hold two children and a parent", cfg.BufferElems())
	}
	return &MerkleTree{segments: segments{cfg: cfg}, Leaves: leaves, Nodes: nodes, NumLeaves: numLeaves}, nil
}

// Levels returns the node count of every internal level, bottom up
func Levels(numLeaves uint64) []uint64 {
	var levels []uint64
	for n := numLeaves; n > 1; {
		n = utils.CeilDiv(n, 2)
		levels = append(levels, n)
	}
	return levels
}

// NodeCount returns the number of internal nodes of a tree over numLeaves
func NodeCount(numLeaves uint64) uint64 {
	var total uint64
	for _, n := range Levels(numLeaves) {
		total += n
	}
	return total
}

// NodesBytes returns the size of the node region for numLeaves leaves
func NodesBytes(cfg *arch.Config, numLeaves uint64) uint64 {
	return NodeCount(numLeaves) * DigestElems * cfg.ElementBytes
}

// parentsPerStep is how many parents one buffer load hashes
func (k *MerkleTree) parentsPerStep() uint64 {
	return k.cfg.BufferElems() / (3 * DigestElems)
}

type merkleStep struct {
	childBase, firstChild, children uint64
	parentBase, firstParent, parents uint64
}

func (k *MerkleTree) steps() []merkleStep {
	var out []merkleStep
	childBase, childCount := k.Leaves, k.NumLeaves
	parentBase := k.Nodes
	per := k.parentsPerStep()
	for _, parents := range Levels(k.NumLeaves) {
		for p0 := uint64(0); p0 < parents; p0 += per {
			cnt := utils.MinU64(per, parents-p0)
			first := 2 * p0
			out = append(out, merkleStep{
				childBase:   childBase,
				firstChild:  first,
				children:    utils.MinU64(2*cnt, childCount-first),
				parentBase:  parentBase,
				firstParent: p0,
				parents:     cnt,
			})
		}
		childBase, childCount = parentBase, parents
		parentBase += k.bytes(parents * DigestElems)
	}
	return out
}

// CreatePrefetch reads the children of each group of parents
func (k *MerkleTree) CreatePrefetch() error {
	k.begin(true)
	tiles := k.cfg.NumTiles
	for _, st := range k.steps() {
		delay := utils.CeilDiv(st.parents, tiles) * RoundsPerPermutation
		k.PrefetchSegment.Append(fetch.NewEvent(delay,
			fetch.Span(st.childBase+k.bytes(st.firstChild*DigestElems), k.bytes(st.children*DigestElems))))
	}
	return nil
}

// CreateDrain writes each group of parents
func (k *MerkleTree) CreateDrain() error {
	for _, st := range k.steps() {
		k.DrainSegment.Append(fetch.NewEvent(0,
			fetch.Span(st.parentBase+k.bytes(st.firstParent*DigestElems), k.bytes(st.parents*DigestElems))))
	}
	return nil
}

// ComputationCost returns the number of two-to-one hashes
func (k *MerkleTree) ComputationCost() uint64 {
	return NodeCount(k.NumLeaves)
}

// KernelTypeName returns the Merkle tree family name
func (k *MerkleTree) KernelTypeName() string {
	return arch.FamilyMerkleTree
}
