package fetch

import (
	"reflect"
	"testing"
)

// TestEventAdd tests coalescing insertion
func TestEventAdd(t *testing.T) {
	tests := []struct {
		name     string
		input    []Range
		expected []Range
	}{
		{"single", []Range{{0, 64}}, []Range{{0, 64}}},
		{"sorted on insert", []Range{{128, 192}, {0, 64}}, []Range{{0, 64}, {128, 192}}},
		{"touching stay distinct", []Range{{0, 64}, {64, 128}}, []Range{{0, 64}, {64, 128}}},
		{"overlap merges", []Range{{0, 100}, {50, 150}}, []Range{{0, 150}}},
		{"bridge merges three", []Range{{0, 10}, {20, 30}, {40, 50}, {5, 45}}, []Range{{0, 50}}},
		{"duplicate", []Range{{8, 16}, {8, 16}}, []Range{{8, 16}}},
		{"empty ignored", []Range{{8, 8}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEvent(0, tt.input...)
			if !reflect.DeepEqual(e.Ranges, tt.expected) {
				t.Errorf("Ranges = %v, expected %v", e.Ranges, tt.expected)
			}
		})
	}
}

// TestEventSubtract tests byte-wise range removal
func TestEventSubtract(t *testing.T) {
	e := NewEvent(5, Range{0, 100}, Range{200, 300})
	cut := NewEvent(0, Range{20, 40}, Range{90, 210}, Range{280, 400})

	got := e.Subtract(cut)
	expected := []Range{{0, 20}, {40, 90}, {210, 280}}
	if !reflect.DeepEqual(got.Ranges, expected) {
		t.Errorf("Subtract = %v, expected %v", got.Ranges, expected)
	}
	if got.Delay != 5 {
		t.Errorf("Subtract should keep the delay, got %d", got.Delay)
	}
	if len(e.Ranges) != 2 || e.Ranges[0] != (Range{0, 100}) {
		t.Error("Subtract modified its receiver")
	}
}

// TestLines tests request-line counting
func TestLines(t *testing.T) {
	tests := []struct {
		name     string
		r        Range
		expected uint64
	}{
		{"aligned", Range{0, 128}, 2},
		{"straddles", Range{60, 70}, 2},
		{"inside one line", Range{1, 63}, 1},
		{"empty", Range{64, 64}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Lines(64); got != tt.expected {
				t.Errorf("Lines = %d, expected %d", got, tt.expected)
			}
		})
	}

	e := NewEvent(0, Range{0, 128}, Range{60, 70})
	if e.Lines(64) != 2 {
		t.Errorf("Event lines = %d, expected 2 after merging", e.Lines(64))
	}
}

// TestDedupMerge tests the per-index de-duplication merge
func TestDedupMerge(t *testing.T) {
	prefetch := Segment{Events: []Event{
		NewEvent(1, Range{0, 64}),
		NewEvent(2, Range{128, 192}),
	}, Interval: 1}
	drain := Segment{Events: []Event{
		NewEvent(3, Range{0, 64}, Range{256, 320}),
		NewEvent(4, Range{0, 64}),
	}, Interval: 2}

	mp, md := DedupMerger{}.Merge(prefetch, drain)

	if !reflect.DeepEqual(mp, prefetch) {
		t.Errorf("Prefetch side changed: %v", mp)
	}
	if md.Len() != 2 {
		t.Fatalf("Drain event count = %d, expected 2", md.Len())
	}
	if !reflect.DeepEqual(md.Events[0].Ranges, []Range{{256, 320}}) {
		t.Errorf("Drain event 0 = %v", md.Events[0].Ranges)
	}
	if !reflect.DeepEqual(md.Events[1].Ranges, []Range{{0, 64}}) {
		t.Errorf("Drain event 1 should be untouched, got %v", md.Events[1].Ranges)
	}
	if len(drain.Events[0].Ranges) != 2 {
		t.Error("Merge modified its drain input")
	}
}

// TestMergeIdempotentWithEmptyCarry tests that an empty carry-over event
// leaves a well-formed pair unchanged
func TestMergeIdempotentWithEmptyCarry(t *testing.T) {
	prefetch := Segment{Events: []Event{NewEvent(7, Range{0, 512}), NewEvent(1, Range{1024, 1088})}, Interval: 3, Mergable: true}
	drain := Segment{Events: []Event{NewEvent(0, Range{4096, 4160}), NewEvent(9)}, Interval: 2, Mergable: true}

	mp, md := DedupMerger{}.Merge(prefetch.Prepend(Event{}), drain.Prepend(Event{}))
	mp.Events = mp.Events[1:]
	md.Events = md.Events[1:]

	if !reflect.DeepEqual(mp, prefetch) {
		t.Errorf("Prefetch = %v, expected %v", mp, prefetch)
	}
	if !reflect.DeepEqual(md, drain) {
		t.Errorf("Drain = %v, expected %v", md, drain)
	}
}

// TestFlatten tests collapsing segments into one event
func TestFlatten(t *testing.T) {
	a := Segment{Events: []Event{NewEvent(1, Range{0, 64}), NewEvent(2, Range{64, 128})}, Interval: 2, Mergable: true}
	b := Segment{Events: []Event{NewEvent(4, Range{32, 96})}, Interval: 5, Mergable: true, Systolic: true}

	flat := Flatten([]Segment{a, b})
	if flat.Len() != 1 {
		t.Fatalf("Flatten produced %d events", flat.Len())
	}
	if flat.Events[0].Delay != 7 {
		t.Errorf("Delay = %d, expected 7", flat.Events[0].Delay)
	}
	if !reflect.DeepEqual(flat.Events[0].Ranges, []Range{{0, 128}}) {
		t.Errorf("Ranges = %v", flat.Events[0].Ranges)
	}
	if flat.Interval != 5 || !flat.Systolic || !flat.Mergable {
		t.Errorf("Unexpected flags: %+v", flat)
	}

	req := FlattenRequests([]Request{{Lines: []uint64{1, 2}}, {Lines: []uint64{4}}})
	if !reflect.DeepEqual(req.Lines, []uint64{7}) {
		t.Errorf("FlattenRequests = %v, expected [7]", req.Lines)
	}
}

// TestAddresses tests the range start address set
func TestAddresses(t *testing.T) {
	s := Segment{Events: []Event{
		NewEvent(0, Range{128, 256}, Range{0, 128}),
		NewEvent(0, Range{0, 128}, Range{512, 520}),
	}}
	expected := []uint64{0, 128, 512}
	if got := s.Addresses(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Addresses = %v, expected %v", got, expected)
	}
	if RequestFor(s, 64).Total() != 2+2+2+1 {
		t.Errorf("RequestFor total = %d", RequestFor(s, 64).Total())
	}
}

// TestForwardingMerge tests that drained bytes are not fetched again by the next event
func TestForwardingMerge(t *testing.T) {
	prefetch := Segment{Events: []Event{
		NewEvent(0, Range{0, 64}),
		NewEvent(0, Range{512, 640}, Range{1024, 1088}),
	}}
	drain := Segment{Events: []Event{
		NewEvent(0, Range{512, 576}),
		NewEvent(0, Range{2048, 2112}),
	}}

	mp, md := ForwardingMerger{}.Merge(prefetch, drain)
	if !reflect.DeepEqual(mp.Events[1].Ranges, []Range{{576, 640}, {1024, 1088}}) {
		t.Errorf("Prefetch event 1 = %v", mp.Events[1].Ranges)
	}
	if !reflect.DeepEqual(mp.Events[0].Ranges, []Range{{0, 64}}) {
		t.Errorf("Prefetch event 0 = %v", mp.Events[0].Ranges)
	}
	if !reflect.DeepEqual(md, drain) {
		t.Errorf("Drain side changed: %v", md)
	}
}
