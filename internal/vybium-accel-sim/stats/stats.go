// Package stats accumulates per-kernel computation totals and trace counters
// over a simulation run.
package stats

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arch"
)

// KernelStats is the running total of one kernel type
type KernelStats struct {
	Type        string
	Invocations uint64
	Cost        uint64
}

// Counters records what the run emitted into the trace
type Counters struct {
	Records         uint64
	Reads           uint64
	Writes          uint64
	BytesRead       uint64
	BytesWritten    uint64
	Steps           uint64
	EstimatedCycles uint64
	Skipped         uint64
}

// Reset clears every counter
func (c *Counters) Reset() {
	*c = Counters{}
}

// Accumulate adds other into c
func (c *Counters) Accumulate(other Counters) {
	c.Records += other.Records
	c.Reads += other.Reads
	c.Writes += other.Writes
	c.BytesRead += other.BytesRead
	c.BytesWritten += other.BytesWritten
	c.Steps += other.Steps
	c.EstimatedCycles += other.EstimatedCycles
	c.Skipped += other.Skipped
}

// Table keeps kernel totals in first-seen order
type Table struct {
	Counters

	order   []string
	kernels map[string]*KernelStats
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{kernels: make(map[string]*KernelStats)}
}

// Add charges one invocation of kernelType with the given cost
func (t *Table) Add(kernelType string, cost uint64) {
	ks, ok := t.kernels[kernelType]
	if !ok {
		ks = &KernelStats{Type: kernelType}
		t.kernels[kernelType] = ks
		t.order = append(t.order, kernelType)
	}
	ks.Invocations++
	ks.Cost += cost
}

// Kernel returns the totals of one kernel type
func (t *Table) Kernel(kernelType string) (KernelStats, bool) {
	ks, ok := t.kernels[kernelType]
	if !ok {
		return KernelStats{}, false
	}
	return *ks, true
}

// Kernels returns every kernel total in first-seen order
func (t *Table) Kernels() []KernelStats {
	out := make([]KernelStats, len(t.order))
	for i, name := range t.order {
		out[i] = *t.kernels[name]
	}
	return out
}

// TotalCost returns the summed cost over all kernel types
func (t *Table) TotalCost() uint64 {
	var total uint64
	for _, ks := range t.kernels {
		total += ks.Cost
	}
	return total
}

// Reset clears the table
func (t *Table) Reset() {
	t.Counters.Reset()
	t.order = nil
	t.kernels = make(map[string]*KernelStats)
}

// Report is a snapshot of the table ready for output
type Report struct {
	Kernels    []KernelStats
	Counters   Counters
	ClockHz    float64
	Seconds    float64
	DigestName string
	Digest     string
}

// Report snapshots the table. Runtime is the estimated cycles at cfg.ClockHz.
func (t *Table) Report(cfg *arch.Config) Report {
	r := Report{
		Kernels:  t.Kernels(),
		Counters: t.Counters,
		ClockHz:  float64(cfg.ClockHz),
	}
	if r.ClockHz > 0 {
		r.Seconds = float64(t.EstimatedCycles) / r.ClockHz
	}
	return r
}

// WriteJSON writes the report as a JSON object
func (r Report) WriteJSON(w *jwriter.Writer) {
	obj := w.Object()

	kernels := obj.Name("kernels").Array()
	for _, ks := range r.Kernels {
		k := kernels.Object()
		k.Name("type").String(ks.Type)
		k.Name("invocations").Int(int(ks.Invocations))
		k.Name("cost").Int(int(ks.Cost))
		k.End()
	}
	kernels.End()

	trace := obj.Name("trace").Object()
	trace.Name("records").Int(int(r.Counters.Records))
	trace.Name("reads").Int(int(r.Counters.Reads))
	trace.Name("writes").Int(int(r.Counters.Writes))
	trace.Name("bytes_read").Int(int(r.Counters.BytesRead))
	trace.Name("bytes_written").Int(int(r.Counters.BytesWritten))
	trace.Name("steps").Int(int(r.Counters.Steps))
	trace.Name("skipped_kernels").Int(int(r.Counters.Skipped))
	if r.DigestName != "" {
		trace.Name("digest_hash").String(r.DigestName)
		trace.Name("digest").String(r.Digest)
	}
	trace.End()

	timing := obj.Name("timing").Object()
	timing.Name("estimated_cycles").Int(int(r.Counters.EstimatedCycles))
	timing.Name("clock_hz").Float64(r.ClockHz)
	timing.Name("seconds").Float64(r.Seconds)
	timing.End()

	obj.End()
}

// JSON returns the WriteJSON output as bytes
func (r Report) JSON() ([]byte, error) {
	w := jwriter.NewWriter()
	r.WriteJSON(&w)
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "failed to encode stats report")
	}
	return w.Bytes(), nil
}
