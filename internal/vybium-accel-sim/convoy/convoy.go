package convoy

import (
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"
)

// Issue limits of the vector unit
const (
	MaxOps        = 3
	MaxMuls       = 1
	MaxAddSubs    = 2
	MaxFreshLoads = 2
)

// Preloads answers whether a byte range is already resident on chip
type Preloads interface {
	Resident(addr, length uint64) bool
}

// Convoy is a group of operations issued together. Entry is the register file
// inherited from the previous convoy and Exit the state after the last
// admitted operation.
type Convoy struct {
	Ops   []Operation
	Entry RegisterFile
	Exit  RegisterFile

	// Loads are the fresh loads in admission order; Drains are filled by
	// DeriveDrains once the whole schedule is known.
	Loads  []fetch.Range
	Drains []fetch.Range

	muls    int
	addSubs int
}

func newConvoy(entry RegisterFile) *Convoy {
	return &Convoy{Entry: entry, Exit: entry}
}

// Muls returns the number of MUL operations in the convoy
func (c *Convoy) Muls() int {
	return c.muls
}

// AddSubs returns the number of ADD and SUB operations in the convoy
func (c *Convoy) AddSubs() int {
	return c.addSubs
}

// pinned collects every operand range of the convoy plus op
func (c *Convoy) pinned(op Operation, elemBytes uint64) []fetch.Range {
	ranges := make([]fetch.Range, 0, 3*(len(c.Ops)+1))
	for _, o := range c.Ops {
		ranges = append(ranges, o.Operands(elemBytes)...)
	}
	return append(ranges, op.Operands(elemBytes)...)
}

// Packer packs operation lists into convoys
type Packer struct {
	elemBytes uint64
	preloads  Preloads
}

// NewPacker creates a packer. preloads may be nil when nothing is resident.
func NewPacker(cfg *arch.Config, preloads Preloads) *Packer {
	return &Packer{elemBytes: cfg.ElementBytes, preloads: preloads}
}

// Pack runs the greedy, left-to-right, single-pass packing. The first convoy
// is seeded with entry; every later one with its predecessor's exit state.
// Hazards between operations of one convoy are not checked: results forward
// inside the pipeline.
func (p *Packer) Pack(ops []Operation, entry RegisterFile) []*Convoy {
	convoys := make([]*Convoy, 0)
	cur := newConvoy(entry)
	for _, op := range ops {
		if len(cur.Ops) > 0 && !p.Admits(cur, op) {
			convoys = append(convoys, cur)
			cur = newConvoy(cur.Exit)
		}
		p.accept(cur, op)
	}
	if len(cur.Ops) > 0 {
		convoys = append(convoys, cur)
	}
	return convoys
}

// Admits reports whether op can join the open convoy c
func (p *Packer) Admits(c *Convoy, op Operation) bool {
	if len(c.Ops) >= MaxOps {
		return false
	}
	if op.IsMul() && c.muls >= MaxMuls {
		return false
	}
	if !op.IsMul() && c.addSubs >= MaxAddSubs {
		return false
	}

	_, loads, ok := p.plan(c, op)
	if !ok {
		return false
	}
	return len(c.Loads)+len(loads) <= MaxFreshLoads
}

func (p *Packer) accept(c *Convoy, op Operation) {
	rf, loads, _ := p.plan(c, op)
	c.Exit = rf
	c.Loads = append(c.Loads, loads...)
	c.Ops = append(c.Ops, op)
	if op.IsMul() {
		c.muls++
	} else {
		c.addSubs++
	}
}

// plan registers op's operands on a copy of c's register file and returns the
// new state with the fresh loads op needs. It fails when an eviction would
// discard a range some operation of the convoy still references.
func (p *Packer) plan(c *Convoy, op Operation) (RegisterFile, []fetch.Range, bool) {
	rf := c.Exit
	pinned := c.pinned(op, p.elemBytes)
	keep := make([]int, 0, 3)
	var loads []fetch.Range

	place := func(r fetch.Range, kind OutputKind) bool {
		i := rf.Victim(pinned)
		if i < 0 && len(c.Ops) == 0 {
			// Alone in its convoy an operation may evict stale partial
			// overlaps; only the slots it uses itself are kept.
			i = firstSlotNotIn(keep)
		}
		if i < 0 {
			return false
		}
		rf.Slots[i] = Slot{Addr: r.Start, Len: r.Len(), Kind: kind, Valid: true}
		keep = append(keep, i)
		return true
	}

	for _, in := range op.Inputs(p.elemBytes) {
		if i := coveringSlot(&rf, in); i >= 0 {
			keep = append(keep, i)
			continue
		}
		// Preloaded operands stream from the reserved buffer region.
		if p.resident(in) {
			continue
		}
		loads = append(loads, in)
		if !place(in, NotOutput) {
			return rf, nil, false
		}
	}

	if out, ok := op.Output(p.elemBytes); ok {
		kind := Intermediate
		if op.Final {
			kind = Final
		}
		if i := rf.Lookup(out); i >= 0 {
			rf.Slots[i].Kind = kind
		} else if !place(out, kind) {
			return rf, nil, false
		}
	}

	return rf, loads, true
}

func (p *Packer) resident(r fetch.Range) bool {
	return p.preloads != nil && p.preloads.Resident(r.Start, r.Len())
}

func coveringSlot(rf *RegisterFile, r fetch.Range) int {
	for i, s := range rf.Slots {
		if s.Valid && s.Range().Covers(r) {
			return i
		}
	}
	return -1
}

func firstSlotNotIn(used []int) int {
	for i := 0; i < RegisterSlots; i++ {
		taken := false
		for _, u := range used {
			if u == i {
				taken = true
				break
			}
		}
		if !taken {
			return i
		}
	}
	return -1
}

// DeriveDrains fills Drains for every convoy. A Final output always drains;
// an Intermediate output drains only when a strictly later convoy touches an
// overlapping range.
func DeriveDrains(convoys []*Convoy, elemBytes uint64) {
	var later fetch.Event
	for i := len(convoys) - 1; i >= 0; i-- {
		c := convoys[i]
		c.Drains = nil

		var drained fetch.Event
		for _, op := range c.Ops {
			out, ok := op.Output(elemBytes)
			if !ok || drained.Contains(out) {
				continue
			}
			kind := Intermediate
			if slot := c.Exit.Lookup(out); slot >= 0 {
				kind = c.Exit.Slots[slot].Kind
			} else if op.Final {
				kind = Final
			}
			if kind == Final || later.Intersects(out) {
				drained.Add(out)
				c.Drains = append(c.Drains, out)
			}
		}

		for _, op := range c.Ops {
			for _, r := range op.Operands(elemBytes) {
				later.Add(r)
			}
		}
	}
}
