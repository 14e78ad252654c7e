package convoy

import (
	"fmt"
	"strings"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"
)

// RegisterSlots is the number of vector registers visible to one convoy
const RegisterSlots = 4

// OutputKind tags what a register holds
type OutputKind uint8

const (
	NotOutput OutputKind = iota
	Intermediate
	Final
)

func (k OutputKind) String() string {
	switch k {
	case Intermediate:
		return "intermediate"
	case Final:
		return "final"
	default:
		return "input"
	}
}

// Slot is one vector register: the byte range it mirrors and its tag
type Slot struct {
	Addr  uint64
	Len   uint64
	Kind  OutputKind
	Valid bool
}

// Range returns the byte range held by the slot
func (s Slot) Range() fetch.Range {
	return fetch.Span(s.Addr, s.Len)
}

// RegisterFile is the chaining window of the vector unit. It is a value type;
// copying it snapshots the state.
type RegisterFile struct {
	Slots [RegisterSlots]Slot
}

// Covers reports whether some valid slot holds all of r
func (rf *RegisterFile) Covers(r fetch.Range) bool {
	for _, s := range rf.Slots {
		if s.Valid && s.Range().Covers(r) {
			return true
		}
	}
	return false
}

// Lookup returns the index of the slot holding exactly r, or -1
func (rf *RegisterFile) Lookup(r fetch.Range) int {
	for i, s := range rf.Slots {
		if s.Valid && s.Addr == r.Start && s.Len == r.Len() {
			return i
		}
	}
	return -1
}

// Victim returns the first slot, by linear scan, that is empty or whose range
// overlaps none of pinned. It returns -1 when every slot is pinned.
func (rf *RegisterFile) Victim(pinned []fetch.Range) int {
	for i, s := range rf.Slots {
		if !s.Valid || !overlapsAny(s.Range(), pinned) {
			return i
		}
	}
	return -1
}

// Free counts the slots Victim could hand out
func (rf *RegisterFile) Free(pinned []fetch.Range) int {
	n := 0
	for _, s := range rf.Slots {
		if !s.Valid || !overlapsAny(s.Range(), pinned) {
			n++
		}
	}
	return n
}

// Insert stores r in the slot chosen by Victim and returns its index
func (rf *RegisterFile) Insert(r fetch.Range, kind OutputKind, pinned []fetch.Range) int {
	i := rf.Victim(pinned)
	if i < 0 {
		return -1
	}
	rf.Slots[i] = Slot{Addr: r.Start, Len: r.Len(), Kind: kind, Valid: true}
	return i
}

// Live returns the valid slots in slot order
func (rf *RegisterFile) Live() []Slot {
	live := make([]Slot, 0, RegisterSlots)
	for _, s := range rf.Slots {
		if s.Valid {
			live = append(live, s)
		}
	}
	return live
}

func (rf RegisterFile) String() string {
	parts := make([]string, RegisterSlots)
	for i, s := range rf.Slots {
		if !s.Valid {
			parts[i] = "-"
			continue
		}
		parts[i] = fmt.Sprintf("%s:%s", s.Range(), s.Kind)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func overlapsAny(r fetch.Range, ranges []fetch.Range) bool {
	for _, o := range ranges {
		if r.Overlaps(o) {
			return true
		}
	}
	return false
}
