package arena

import (
	"sort"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/utils"
)

// PreloadRange is an address range considered resident on chip
type PreloadRange struct {
	Addr uint64
	Len  uint64
}

// End returns the exclusive end address of the range
func (r PreloadRange) End() uint64 {
	return r.Addr + r.Len
}

// Contains reports whether addr lies inside the range
func (r PreloadRange) Contains(addr uint64) bool {
	return addr >= r.Addr && addr < r.End()
}

// Preload marks [addr, addr+length) as resident. A range overlapping existing
// ranges is merged with them, so the set stays disjoint.
func (a *Arena) Preload(addr, length uint64) {
	if length == 0 {
		return
	}
	lo, hi := addr, addr+length
	i := sort.Search(len(a.preload), func(i int) bool {
		return a.preload[i].End() > lo
	})
	j := i
	for j < len(a.preload) && a.preload[j].Addr < hi {
		lo = utils.MinU64(lo, a.preload[j].Addr)
		hi = utils.MaxU64(hi, a.preload[j].End())
		j++
	}
	merged := PreloadRange{Addr: lo, Len: hi - lo}
	if i == j {
		a.preload = append(a.preload, PreloadRange{})
		copy(a.preload[i+1:], a.preload[i:])
		a.preload[i] = merged
		return
	}
	a.preload[i] = merged
	a.preload = append(a.preload[:i+1], a.preload[j:]...)
}

// Preloaded returns the preload range holding addr, if any
func (a *Arena) Preloaded(addr uint64) (PreloadRange, bool) {
	i := sort.Search(len(a.preload), func(i int) bool {
		return a.preload[i].Addr > addr
	}) - 1
	if i >= 0 && a.preload[i].Contains(addr) {
		return a.preload[i], true
	}
	return PreloadRange{}, false
}

// Resident reports whether the whole range [addr, addr+length) lies in one
// preload range.
func (a *Arena) Resident(addr, length uint64) bool {
	r, ok := a.Preloaded(addr)
	return ok && addr+length <= r.End()
}

// Unpreload removes the range starting exactly at addr
func (a *Arena) Unpreload(addr uint64) bool {
	i := sort.Search(len(a.preload), func(i int) bool {
		return a.preload[i].Addr >= addr
	})
	if i == len(a.preload) || a.preload[i].Addr != addr {
		return false
	}
	a.preload = append(a.preload[:i], a.preload[i+1:]...)
	return true
}

// ClearPreload empties the preload set
func (a *Arena) ClearPreload() {
	a.preload = a.preload[:0]
}

// PreloadRanges returns a copy of the preload set in address order
func (a *Arena) PreloadRanges() []PreloadRange {
	out := make([]PreloadRange, len(a.preload))
	copy(out, a.preload)
	return out
}
