package convoy

import (
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"
)

// Window is a run of operations whose resident footprint fits the on-chip
// buffers at once
type Window struct {
	Ops     []Operation
	Convoys []*Convoy

	// Prefetch and Drain are the unions of the convoys' loads and drains.
	// Prefetch.Delay carries the summed compute delay of the window.
	Prefetch fetch.Event
	Drain    fetch.Event
	Delay    uint64
}

// SplitWindows scans ops tracking the elements resident in the current
// window. When an operation's new footprint would push it past capacity the
// window closes and a new empty one starts. Preloaded ranges live in the
// reserved part of the buffers and are not counted.
func (p *Packer) SplitWindows(ops []Operation, capacity uint64) [][]Operation {
	windows := make([][]Operation, 0)
	var (
		current  []Operation
		resident fetch.Event
	)

	for _, op := range ops {
		trial := resident.Clone()
		for _, r := range op.Operands(p.elemBytes) {
			if !p.resident(r) {
				trial.Add(r)
			}
		}

		if len(current) > 0 && trial.Bytes()/p.elemBytes > capacity {
			windows = append(windows, current)
			current = nil
			trial = fetch.Event{}
			for _, r := range op.Operands(p.elemBytes) {
				if !p.resident(r) {
					trial.Add(r)
				}
			}
		}

		current = append(current, op)
		resident = trial
	}
	if len(current) > 0 {
		windows = append(windows, current)
	}
	return windows
}

// Schedule splits ops into windows, packs each window into convoys starting
// from an empty register file, derives drains over the whole schedule and
// fills each window's fetch sets and delay.
func (p *Packer) Schedule(ops []Operation, capacity, lanes uint64) []*Window {
	split := p.SplitWindows(ops, capacity)
	windows := make([]*Window, len(split))
	all := make([]*Convoy, 0)

	for i, windowOps := range split {
		w := &Window{Ops: windowOps, Convoys: p.Pack(windowOps, RegisterFile{})}
		for _, op := range windowOps {
			w.Delay += op.Delay(lanes)
		}
		windows[i] = w
		all = append(all, w.Convoys...)
	}

	DeriveDrains(all, p.elemBytes)

	for _, w := range windows {
		for _, c := range w.Convoys {
			for _, r := range c.Loads {
				w.Prefetch.Add(r)
			}
			for _, r := range c.Drains {
				w.Drain.Add(r)
			}
		}
		w.Prefetch.Delay = w.Delay
	}
	return windows
}
