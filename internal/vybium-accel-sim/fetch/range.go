// Package fetch describes the memory side of a kernel: batches of address
// ranges to prefetch into or drain out of the on-chip buffers, and the
// request-line counts used for throughput math.
package fetch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/utils"
)

// Range is a half-open byte range [Start, End)
type Range struct {
	Start uint64
	End   uint64
}

// Span creates the range [start, start+length)
func Span(start, length uint64) Range {
	return Range{Start: start, End: start + length}
}

// Len returns the number of bytes in the range
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty reports whether the range holds no bytes
func (r Range) Empty() bool {
	return r.End <= r.Start
}

// Overlaps reports whether two ranges share at least one byte
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// Covers reports whether o lies entirely inside r
func (r Range) Covers(o Range) bool {
	return r.Start <= o.Start && o.End <= r.End
}

// Lines returns the number of lineBytes-sized request lines the range touches
func (r Range) Lines(lineBytes uint64) uint64 {
	if r.Empty() || lineBytes == 0 {
		return 0
	}
	first := r.Start / lineBytes
	last := (r.End - 1) / lineBytes
	return last - first + 1
}

func (r Range) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Start, r.End)
}

// Event is one batch of ranges moved together, plus the compute delay charged
// to it. Ranges are kept sorted by start; overlapping ranges are merged,
// touching ranges stay distinct so every operand keeps its own address.
type Event struct {
	Ranges []Range
	Delay  uint64
}

// NewEvent creates an event holding the given ranges
func NewEvent(delay uint64, ranges ...Range) Event {
	e := Event{Delay: delay}
	for _, r := range ranges {
		e.Add(r)
	}
	return e
}

// Add inserts a range, merging it with every range it overlaps
func (e *Event) Add(r Range) {
	if r.Empty() {
		return
	}

	i := sort.Search(len(e.Ranges), func(i int) bool {
		return e.Ranges[i].End > r.Start
	})
	j := i
	for j < len(e.Ranges) && e.Ranges[j].Start < r.End {
		r.Start = utils.MinU64(r.Start, e.Ranges[j].Start)
		r.End = utils.MaxU64(r.End, e.Ranges[j].End)
		j++
	}

	if i == j {
		e.Ranges = append(e.Ranges, Range{})
		copy(e.Ranges[i+1:], e.Ranges[i:])
		e.Ranges[i] = r
		return
	}
	e.Ranges[i] = r
	e.Ranges = append(e.Ranges[:i+1], e.Ranges[j:]...)
}

// Union adds every range of o and sums the delays
func (e *Event) Union(o Event) {
	for _, r := range o.Ranges {
		e.Add(r)
	}
	e.Delay += o.Delay
}

// Subtract returns a copy of e with every byte present in o removed
func (e Event) Subtract(o Event) Event {
	out := Event{Delay: e.Delay}
	for _, r := range e.Ranges {
		pieces := []Range{r}
		for _, cut := range o.Ranges {
			if cut.Start >= r.End {
				break
			}
			next := pieces[:0:0]
			for _, p := range pieces {
				if !p.Overlaps(cut) {
					next = append(next, p)
					continue
				}
				if p.Start < cut.Start {
					next = append(next, Range{Start: p.Start, End: cut.Start})
				}
				if cut.End < p.End {
					next = append(next, Range{Start: cut.End, End: p.End})
				}
			}
			pieces = next
		}
		out.Ranges = append(out.Ranges, pieces...)
	}
	return out
}

// Intersects reports whether some range of the event shares a byte with r
func (e Event) Intersects(r Range) bool {
	i := sort.Search(len(e.Ranges), func(i int) bool {
		return e.Ranges[i].End > r.Start
	})
	return i < len(e.Ranges) && e.Ranges[i].Start < r.End
}

// Contains reports whether some range of the event covers r
func (e Event) Contains(r Range) bool {
	for _, have := range e.Ranges {
		if have.Covers(r) {
			return true
		}
	}
	return false
}

// Bytes returns the total byte count of the event
func (e Event) Bytes() uint64 {
	var n uint64
	for _, r := range e.Ranges {
		n += r.Len()
	}
	return n
}

// Lines returns the request-line count of the event
func (e Event) Lines(lineBytes uint64) uint64 {
	var n uint64
	for _, r := range e.Ranges {
		n += r.Lines(lineBytes)
	}
	return n
}

// Clone returns a deep copy of the event
func (e Event) Clone() Event {
	out := Event{Delay: e.Delay}
	if len(e.Ranges) > 0 {
		out.Ranges = make([]Range, len(e.Ranges))
		copy(out.Ranges, e.Ranges)
	}
	return out
}

func (e Event) String() string {
	parts := make([]string, len(e.Ranges))
	for i, r := range e.Ranges {
		parts[i] = r.String()
	}
	return fmt.Sprintf("{delay=%d %s}", e.Delay, strings.Join(parts, " "))
}
