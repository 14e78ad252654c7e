package system

import (
	"bytes"
	"math/rand"
	"reflect"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arena"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/convoy"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/kernel"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/trace"
)

// staticKernel returns fixed artifacts
type staticKernel struct {
	kernel.Base
	name   string
	cost   uint64
	pf, dr fetch.Segment
	rd, wr fetch.Request
}

func (k *staticKernel) CreatePrefetch() error     { k.PrefetchSegment = k.pf; return nil }
func (k *staticKernel) CreateDrain() error        { k.DrainSegment = k.dr; return nil }
func (k *staticKernel) CreateReadRequest() error  { k.Reads = k.rd; return nil }
func (k *staticKernel) CreateWriteRequest() error { k.Writes = k.wr; return nil }
func (k *staticKernel) ComputationCost() uint64   { return k.cost }
func (k *staticKernel) KernelTypeName() string    { return k.name }

type harness struct {
	sys *System
	buf *bytes.Buffer
}

func newHarness(t *testing.T, cfg *arch.Config, opts ...Option) *harness {
	t.Helper()
	buf := &bytes.Buffer{}
	w, err := trace.NewWriter(buf)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	sys, err := New(cfg, arena.New(cfg), w, opts...)
	if err != nil {
		t.Fatalf("Failed to create system: %v", err)
	}
	return &harness{sys: sys, buf: buf}
}

func (h *harness) records(t *testing.T) []trace.OpRecord {
	t.Helper()
	if err := h.sys.Close(); err != nil {
		t.Fatalf("Failed to close system: %v", err)
	}
	records, err := trace.ReadAll(bytes.NewReader(h.buf.Bytes()))
	if err != nil {
		t.Fatalf("Failed to read trace: %v", err)
	}
	return records
}

func oneStep(systolic bool) *staticKernel {
	return &staticKernel{
		name: arch.FamilyMemCpy,
		cost: 7,
		pf: fetch.Segment{
			Events:   []fetch.Event{fetch.NewEvent(10, fetch.Span(0x1000, 256), fetch.Span(0x2000, 256))},
			Interval: 2, Mergable: true, Systolic: systolic,
		},
		dr: fetch.Segment{
			Events:   []fetch.Event{fetch.NewEvent(5, fetch.Span(0x8000, 128), fetch.Span(0x9000, 128))},
			Interval: 3, Mergable: true,
		},
		rd: fetch.Request{Lines: []uint64{100}},
		wr: fetch.Request{Lines: []uint64{70}},
	}
}

// TestDelayFormula tests the delay carried by the first write of a step
func TestDelayFormula(t *testing.T) {
	tests := []struct {
		name     string
		systolic bool
		expected uint32
	}{
		// 10 + 5 + 2*ceil(100/64) + 3*ceil(70/64)
		{"non-systolic", false, 25},
		// 10 + 5 + 2*ceil(100/4) + 3*ceil(70/4)
		{"systolic", true, 119},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, arch.DefaultConfig().WithTiles(4, 16))
			if err := h.sys.RunOnce(oneStep(tt.systolic)); err != nil {
				t.Fatalf("Failed to run kernel: %v", err)
			}

			expected := []trace.OpRecord{
				{ID: 0, Address: 0x1000, Direction: trace.Read, Size: 256},
				{ID: 1, Address: 0x2000, Direction: trace.Read, Size: 256},
				{ID: 2, Address: 0x8000, Direction: trace.Write, Delay: tt.expected, Size: 128, Deps: []uint64{0, 1}},
				{ID: 3, Address: 0x9000, Direction: trace.Write, Size: 128, Deps: []uint64{0, 1, 2}},
			}
			if got := h.records(t); !reflect.DeepEqual(got, expected) {
				t.Errorf("Records = %v\nexpected %v", got, expected)
			}
			if h.sys.EstimatedCycles() != uint64(tt.expected) {
				t.Errorf("EstimatedCycles = %d, expected %d", h.sys.EstimatedCycles(), tt.expected)
			}

			report := h.sys.Stats()
			if len(report.Kernels) != 1 || report.Kernels[0].Cost != 7 {
				t.Errorf("Unexpected kernel stats: %+v", report.Kernels)
			}
		})
	}
}

// TestEventMismatch tests that a malformed kernel aborts before any record
func TestEventMismatch(t *testing.T) {
	h := newHarness(t, arch.DefaultConfig())
	k := oneStep(false)
	k.wr = fetch.Request{Lines: []uint64{1, 2}}

	err := h.sys.RunOnce(k)
	if !errors.Is(err, ErrEventMismatch) {
		t.Fatalf("Expected ErrEventMismatch, got %v", err)
	}
	if n := len(h.records(t)); n != 0 {
		t.Errorf("%d records written for a malformed kernel", n)
	}
	if len(h.sys.Stats().Kernels) != 0 {
		t.Error("Malformed kernel should not be charged")
	}
}

// TestDisabledFamily tests that disabled kernel families are skipped
func TestDisabledFamily(t *testing.T) {
	h := newHarness(t, arch.DefaultConfig().WithKernel(arch.FamilyMemCpy, false))

	if err := h.sys.RunOnce(oneStep(false)); err != nil {
		t.Fatalf("Disabled kernel returned error: %v", err)
	}
	if err := h.sys.RunVec([]kernel.Kernel{oneStep(false)}); err != nil {
		t.Fatalf("Disabled burst returned error: %v", err)
	}
	if n := len(h.records(t)); n != 0 {
		t.Errorf("%d records written for a disabled family", n)
	}
	if h.sys.Stats().Counters.Skipped != 2 {
		t.Errorf("Skipped = %d, expected 2", h.sys.Stats().Counters.Skipped)
	}
}

// TestDedupWithinStep tests that drains already fetched in the same step are dropped
func TestDedupWithinStep(t *testing.T) {
	h := newHarness(t, arch.DefaultConfig())
	k := oneStep(false)
	k.dr.Events[0] = fetch.NewEvent(0, fetch.Span(0x1000, 256), fetch.Span(0x8000, 64))

	if err := h.sys.RunOnce(k); err != nil {
		t.Fatalf("Failed to run kernel: %v", err)
	}

	writes := 0
	for _, r := range h.records(t) {
		if r.Direction == trace.Write {
			writes++
			if r.Address != 0x8000 {
				t.Errorf("Unexpected write to %#x", r.Address)
			}
		}
	}
	if writes != 1 {
		t.Errorf("Writes = %d, expected 1", writes)
	}
}

// TestUnmergableSkipsMerge tests that non-mergable segments pass through
func TestUnmergableSkipsMerge(t *testing.T) {
	h := newHarness(t, arch.DefaultConfig())
	k := oneStep(false)
	k.pf.Mergable = false
	k.dr.Events[0] = fetch.NewEvent(0, fetch.Span(0x1000, 256))

	if err := h.sys.RunOnce(k); err != nil {
		t.Fatalf("Failed to run kernel: %v", err)
	}
	if n := len(h.records(t)); n != 3 {
		t.Errorf("Records = %d, expected 3", n)
	}
}

// TestCarryOver tests that the last event of a kernel reaches the next merge
func TestCarryOver(t *testing.T) {
	h := newHarness(t, arch.DefaultConfig(), WithMerger(fetch.ForwardingMerger{}))

	first := &staticKernel{
		name: arch.FamilyNTT,
		pf:   fetch.Segment{Events: []fetch.Event{fetch.NewEvent(1, fetch.Span(0x100, 64))}, Mergable: true},
		dr:   fetch.Segment{Events: []fetch.Event{fetch.NewEvent(0, fetch.Span(0x4000, 64))}, Mergable: true},
		rd:   fetch.Request{Lines: []uint64{1}},
		wr:   fetch.Request{Lines: []uint64{1}},
	}
	second := &staticKernel{
		name: arch.FamilyNTT,
		pf:   fetch.Segment{Events: []fetch.Event{fetch.NewEvent(1, fetch.Span(0x4000, 64), fetch.Span(0x200, 64))}, Mergable: true},
		dr:   fetch.Segment{Events: []fetch.Event{fetch.NewEvent(0, fetch.Span(0x5000, 64))}, Mergable: true},
		rd:   fetch.Request{Lines: []uint64{2}},
		wr:   fetch.Request{Lines: []uint64{1}},
	}

	for _, k := range []kernel.Kernel{first, second} {
		if err := h.sys.RunOnce(k); err != nil {
			t.Fatalf("Failed to run kernel: %v", err)
		}
	}

	for _, r := range h.records(t)[2:] {
		if r.Direction == trace.Read && r.Address == 0x4000 {
			t.Error("Second kernel re-read data the first kernel just drained")
		}
	}
}

// TestRunVec tests that a burst is emitted as a single step
func TestRunVec(t *testing.T) {
	h := newHarness(t, arch.DefaultConfig())

	twoEvents := func(base uint64) *staticKernel {
		return &staticKernel{
			name: arch.FamilyTranspose,
			cost: 3,
			pf: fetch.Segment{Events: []fetch.Event{
				fetch.NewEvent(2, fetch.Span(base, 64)),
				fetch.NewEvent(3, fetch.Span(base+64, 64)),
			}, Interval: 1, Mergable: true},
			dr: fetch.Segment{Events: []fetch.Event{
				fetch.NewEvent(0, fetch.Span(base+0x10000, 64)),
				fetch.NewEvent(0),
			}, Interval: 1, Mergable: true},
			rd: fetch.Request{Lines: []uint64{1, 1}},
			wr: fetch.Request{Lines: []uint64{1, 0}},
		}
	}

	if err := h.sys.RunVec([]kernel.Kernel{twoEvents(0x1000), twoEvents(0x2000)}); err != nil {
		t.Fatalf("Failed to run burst: %v", err)
	}

	records := h.records(t)
	if len(records) != 6 {
		t.Fatalf("Records = %d, expected 4 reads + 2 writes", len(records))
	}
	// (2+3)*2 + ceil(4/64) + ceil(2/64)
	if records[4].Delay != 12 {
		t.Errorf("Burst delay = %d, expected 12", records[4].Delay)
	}
	if !reflect.DeepEqual(records[5].Deps, []uint64{0, 1, 2, 3, 4}) {
		t.Errorf("Second write deps = %v", records[5].Deps)
	}

	ks, _ := h.sys.Table().Kernel(arch.FamilyTranspose)
	if ks.Invocations != 2 || ks.Cost != 6 {
		t.Errorf("Transpose stats = %+v", ks)
	}
	if h.sys.Stats().Counters.Steps != 1 {
		t.Errorf("Steps = %d, expected 1", h.sys.Stats().Counters.Steps)
	}
}

// TestDependencySoundness tests the dependency contract over random kernels
func TestDependencySoundness(t *testing.T) {
	h := newHarness(t, arch.DefaultConfig())
	rng := rand.New(rand.NewSource(11))

	for n := 0; n < 20; n++ {
		events := rng.Intn(4) + 1
		k := &staticKernel{name: arch.FamilyHashNoPad}
		k.pf = fetch.Segment{Interval: 1, Mergable: true}
		k.dr = fetch.Segment{Interval: 1, Mergable: true}
		for i := 0; i < events; i++ {
			var pf, dr fetch.Event
			for j := 0; j < rng.Intn(4)+1; j++ {
				pf.Add(fetch.Span(uint64(rng.Intn(1<<20))&^63, 64))
				dr.Add(fetch.Span(1<<30+uint64(rng.Intn(1<<20))&^63, 64))
			}
			pf.Delay = uint64(rng.Intn(50))
			k.pf.Append(pf)
			k.dr.Append(dr)
		}
		k.rd = fetch.RequestFor(k.pf, 64)
		k.wr = fetch.RequestFor(k.dr, 64)

		if err := h.sys.RunOnce(k); err != nil {
			t.Fatalf("Failed to run kernel %d: %v", n, err)
		}
	}

	records := h.records(t)
	if err := trace.Validate(records); err != nil {
		t.Fatalf("Trace violates dependency order: %v", err)
	}

	var stepReads []uint64
	inWrites := false
	for _, r := range records {
		if r.Direction == trace.Read {
			if inWrites {
				stepReads = nil
				inWrites = false
			}
			stepReads = append(stepReads, r.ID)
			continue
		}
		inWrites = true
		deps := make(map[uint64]bool, len(r.Deps))
		for _, d := range r.Deps {
			deps[d] = true
		}
		for _, id := range stepReads {
			if !deps[id] {
				t.Fatalf("Write %d does not depend on read %d of its step", r.ID, id)
			}
		}
	}
}

// TestRunVectorChain tests the VectorChain convenience path
func TestRunVectorChain(t *testing.T) {
	cfg := arch.DefaultConfig().WithArenaBytes(1 << 20)
	h := newHarness(t, cfg)
	mem := h.sys.Arena()
	mem.MustAlloc("null", cfg.Alignment)

	ops := make([]convoy.Operation, 0, 5)
	for i := 0; i < 5; i++ {
		a := mem.MustAlloc(string(rune('a'+i))+"0", 128)
		b := mem.MustAlloc(string(rune('a'+i))+"1", 128)
		c := mem.MustAlloc(string(rune('a'+i))+"2", 128)
		ops = append(ops, convoy.Mul(16, a, b, c).AsFinal())
	}

	if err := h.sys.RunVectorChain(ops); err != nil {
		t.Fatalf("Failed to run vector chain: %v", err)
	}

	reads, writes := 0, 0
	for _, r := range h.records(t) {
		if r.Direction == trace.Read {
			reads++
		} else {
			writes++
		}
	}
	if reads != 10 || writes != 5 {
		t.Errorf("Reads/writes = %d/%d, expected 10/5", reads, writes)
	}
	// 5 * (3 + ceil(16/64)) + ceil(20/64) + ceil(10/64)
	if h.sys.EstimatedCycles() != 22 {
		t.Errorf("EstimatedCycles = %d, expected 22", h.sys.EstimatedCycles())
	}
	if ks, ok := h.sys.Table().Kernel(arch.FamilyVectorChain); !ok || ks.Cost != 80 {
		t.Errorf("vector_chain stats = %+v", ks)
	}
}
