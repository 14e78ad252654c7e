package fetch

// Request holds per-event request-line counts. Only the timing model reads it;
// it carries no addresses.
type Request struct {
	Lines []uint64
}

// Append adds the line count of one more event
func (r *Request) Append(lines uint64) {
	r.Lines = append(r.Lines, lines)
}

// Len returns the number of events
func (r Request) Len() int {
	return len(r.Lines)
}

// At returns the line count of event i, or 0 past the end
func (r Request) At(i int) uint64 {
	if i < 0 || i >= len(r.Lines) {
		return 0
	}
	return r.Lines[i]
}

// Total returns the sum of every event's line count
func (r Request) Total() uint64 {
	var n uint64
	for _, l := range r.Lines {
		n += l
	}
	return n
}

// RequestFor derives a request from the line footprint of each event in s
func RequestFor(s Segment, lineBytes uint64) Request {
	req := Request{Lines: make([]uint64, len(s.Events))}
	for i, e := range s.Events {
		req.Lines[i] = e.Lines(lineBytes)
	}
	return req
}

// FlattenRequests collapses several requests into a single event
func FlattenRequests(requests []Request) Request {
	var total uint64
	for _, r := range requests {
		total += r.Total()
	}
	return Request{Lines: []uint64{total}}
}
