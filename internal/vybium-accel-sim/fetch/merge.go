package fetch

// Merger reconciles a prefetch and a drain segment before records are emitted
type Merger interface {
	Merge(prefetch, drain Segment) (Segment, Segment)
}

// DedupMerger removes from each drain event every byte that the prefetch
// event at the same index already moves. Event count and order are kept and
// the inputs are never modified.
type DedupMerger struct{}

// Merge implements Merger
func (DedupMerger) Merge(prefetch, drain Segment) (Segment, Segment) {
	outPrefetch := prefetch.Clone()
	outDrain := drain.Clone()
	for i := range outDrain.Events {
		if i >= len(outPrefetch.Events) {
			break
		}
		outDrain.Events[i] = outDrain.Events[i].Subtract(outPrefetch.Events[i])
	}
	return outPrefetch, outDrain
}

// ForwardingMerger applies DedupMerger and then drops from each prefetch
// event the bytes drained by the event before it, which are still in the
// buffers. With a carried-over event 0 this spans kernel boundaries.
type ForwardingMerger struct{}

// Merge implements Merger
func (ForwardingMerger) Merge(prefetch, drain Segment) (Segment, Segment) {
	outPrefetch, outDrain := DedupMerger{}.Merge(prefetch, drain)
	for i := 1; i < len(outPrefetch.Events) && i <= len(drain.Events); i++ {
		outPrefetch.Events[i] = outPrefetch.Events[i].Subtract(drain.Events[i-1])
	}
	return outPrefetch, outDrain
}
