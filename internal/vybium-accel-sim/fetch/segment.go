package fetch

import (
	"sort"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/utils"
)

// Segment is the ordered event sequence of one prefetch or drain side.
// Interval is the per-line throughput cost shared by every event.
type Segment struct {
	Events   []Event
	Interval uint64
	Mergable bool
	Systolic bool
}

// Append adds an event at the end of the segment
func (s *Segment) Append(e Event) {
	s.Events = append(s.Events, e)
}

// Len returns the number of events
func (s Segment) Len() int {
	return len(s.Events)
}

// Last returns the final event, or an empty event when there is none
func (s Segment) Last() Event {
	if len(s.Events) == 0 {
		return Event{}
	}
	return s.Events[len(s.Events)-1].Clone()
}

// Bytes returns the byte count over all events
func (s Segment) Bytes() uint64 {
	var n uint64
	for _, e := range s.Events {
		n += e.Bytes()
	}
	return n
}

// Addresses returns the sorted, de-duplicated start addresses of every range
func (s Segment) Addresses() []uint64 {
	seen := make(map[uint64]struct{})
	out := make([]uint64, 0)
	for _, e := range s.Events {
		for _, r := range e.Ranges {
			if _, ok := seen[r.Start]; ok {
				continue
			}
			seen[r.Start] = struct{}{}
			out = append(out, r.Start)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy of the segment
func (s Segment) Clone() Segment {
	out := s
	out.Events = make([]Event, len(s.Events))
	for i, e := range s.Events {
		out.Events[i] = e.Clone()
	}
	return out
}

// Prepend returns a copy of s with e inserted as event 0
func (s Segment) Prepend(e Event) Segment {
	out := s
	out.Events = make([]Event, 0, len(s.Events)+1)
	out.Events = append(out.Events, e.Clone())
	for _, ev := range s.Events {
		out.Events = append(out.Events, ev.Clone())
	}
	return out
}

// Flatten collapses several segments into one single-event segment: the union
// of every range, the sum of every delay, the largest interval, systolic if
// any input is and mergable only if all inputs are.
func Flatten(segments []Segment) Segment {
	var event Event
	out := Segment{Mergable: len(segments) > 0}
	for _, s := range segments {
		for _, e := range s.Events {
			event.Union(e)
		}
		out.Interval = utils.MaxU64(out.Interval, s.Interval)
		out.Systolic = out.Systolic || s.Systolic
		out.Mergable = out.Mergable && s.Mergable
	}
	out.Events = []Event{event}
	return out
}
