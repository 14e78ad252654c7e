package convoy

import "github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"

// Hazard is a data dependency between two operations
type Hazard uint8

const (
	NoHazard Hazard = iota
	RAW
	WAR
	WAW
)

func (h Hazard) String() string {
	switch h {
	case RAW:
		return "RAW"
	case WAR:
		return "WAR"
	case WAW:
		return "WAW"
	default:
		return "none"
	}
}

// Detect returns the first hazard of later on earlier, checked by byte range
// overlap in RAW, WAW, WAR order.
func Detect(earlier, later Operation, elemBytes uint64) Hazard {
	earlierOut, earlierWrites := earlier.Output(elemBytes)
	laterOut, laterWrites := later.Output(elemBytes)

	if earlierWrites {
		for _, in := range later.Inputs(elemBytes) {
			if in.Overlaps(earlierOut) {
				return RAW
			}
		}
		if laterWrites && laterOut.Overlaps(earlierOut) {
			return WAW
		}
	}
	if laterWrites {
		for _, in := range earlier.Inputs(elemBytes) {
			if in.Overlaps(laterOut) {
				return WAR
			}
		}
	}
	return NoHazard
}

// BatchIndependent splits ops, in order, into batches whose operations are
// pairwise hazard free. Each batch can be charged as an independent kernel.
// The convoy packer never calls this.
func BatchIndependent(ops []Operation, elemBytes uint64) [][]Operation {
	batches := make([][]Operation, 0)
	var (
		current []Operation
		reads   fetch.Event
		writes  fetch.Event
	)

	for _, op := range ops {
		if len(current) > 0 && conflicts(op, &reads, &writes, elemBytes) {
			batches = append(batches, current)
			current = nil
			reads = fetch.Event{}
			writes = fetch.Event{}
		}
		current = append(current, op)
		for _, in := range op.Inputs(elemBytes) {
			reads.Add(in)
		}
		if out, ok := op.Output(elemBytes); ok {
			writes.Add(out)
		}
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func conflicts(op Operation, reads, writes *fetch.Event, elemBytes uint64) bool {
	for _, in := range op.Inputs(elemBytes) {
		if writes.Intersects(in) {
			return true
		}
	}
	if out, ok := op.Output(elemBytes); ok {
		return writes.Intersects(out) || reads.Intersects(out)
	}
	return false
}
