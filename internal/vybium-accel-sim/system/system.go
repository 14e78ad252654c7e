// Package system drives kernels through the simulator. For every kernel it
// merges the memory side with the state carried over from the previous
// kernel, emits dependency-annotated trace records and accumulates
// statistics.
package system

import (
	"io"
	"math"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arena"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/convoy"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/kernel"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/stats"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/trace"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/utils"
)

// ErrEventMismatch is returned when a kernel's artifacts disagree on event
// count. No record of that kernel is written.
var ErrEventMismatch = kernel.ErrEventMismatch

// System owns the arena and the trace writer of one simulation run.
// Kernels run strictly one after another; System is not safe for concurrent use.
type System struct {
	cfg    *arch.Config
	arena  *arena.Arena
	writer *trace.Writer
	merger fetch.Merger
	log    *slog.Logger
	stats  *stats.Table

	nextID        uint64
	carryPrefetch fetch.Event
	carryDrain    fetch.Event
}

// Option configures a System
type Option func(*System)

// WithLogger sets the logger
func WithLogger(log *slog.Logger) Option {
	return func(s *System) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMerger replaces the default DedupMerger
func WithMerger(m fetch.Merger) Option {
	return func(s *System) {
		if m != nil {
			s.merger = m
		}
	}
}

// New creates a System. writer may be nil, in which case records are only
// counted.
func New(cfg *arch.Config, a *arena.Arena, writer *trace.Writer, opts ...Option) (*System, error) {
	if cfg == nil {
		return nil, errors.New("architecture config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid architecture config")
	}
	if a == nil {
		a = arena.New(cfg)
	}

	s := &System{
		cfg:    cfg,
		arena:  a,
		writer: writer,
		merger: fetch.DedupMerger{},
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		stats:  stats.NewTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the architecture configuration
func (s *System) Config() *arch.Config {
	return s.cfg
}

// Arena returns the memory arena shared by every kernel
func (s *System) Arena() *arena.Arena {
	return s.arena
}

// RunOnce builds k, charges its statistics and emits its trace records.
// Kernels of a disabled family are skipped.
func (s *System) RunOnce(k kernel.Kernel) error {
	name := k.KernelTypeName()
	if !s.cfg.Enabled(name) {
		s.log.Warn("kernel family disabled, skipping", slog.String("kernel", name))
		s.stats.Skipped++
		return nil
	}

	if err := kernel.Build(k); err != nil {
		return err
	}
	if err := kernel.Check(k); err != nil {
		return err
	}

	s.stats.Add(name, k.ComputationCost())
	return s.emit(name, k.Prefetch(), k.Drain(), k.ReadRequest(), k.WriteRequest())
}

// RunVec charges several independent kernels as one burst: their events are
// flattened into a single prefetch/drain pair before the merge.
func (s *System) RunVec(ks []kernel.Kernel) error {
	active := make([]kernel.Kernel, 0, len(ks))
	for _, k := range ks {
		if !s.cfg.Enabled(k.KernelTypeName()) {
			s.log.Warn("kernel family disabled, skipping", slog.String("kernel", k.KernelTypeName()))
			s.stats.Skipped++
			continue
		}
		active = append(active, k)
	}
	if len(active) == 0 {
		return nil
	}

	for i, k := range active {
		if err := kernel.Build(k); err != nil {
			return errors.Wrapf(err, "kernel %d of burst", i)
		}
		if err := kernel.Check(k); err != nil {
			return errors.Wrapf(err, "kernel %d of burst", i)
		}
	}

	prefetches := make([]fetch.Segment, len(active))
	drains := make([]fetch.Segment, len(active))
	reads := make([]fetch.Request, len(active))
	writes := make([]fetch.Request, len(active))
	for i, k := range active {
		s.stats.Add(k.KernelTypeName(), k.ComputationCost())
		prefetches[i] = k.Prefetch()
		drains[i] = k.Drain()
		reads[i] = k.ReadRequest()
		writes[i] = k.WriteRequest()
	}

	return s.emit("burst",
		fetch.Flatten(prefetches), fetch.Flatten(drains),
		fetch.FlattenRequests(reads), fetch.FlattenRequests(writes))
}

// RunVectorChain schedules ops as one VectorChain kernel and runs it
func (s *System) RunVectorChain(ops []convoy.Operation) error {
	chain, err := convoy.NewVectorChain(s.cfg, s.arena, ops)
	if err != nil {
		return err
	}
	return s.RunOnce(chain)
}

// RunIndependent splits ops into hazard-free batches and charges them as one burst
func (s *System) RunIndependent(ops []convoy.Operation) error {
	chains, err := convoy.NewIndependentChains(s.cfg, s.arena, ops)
	if err != nil {
		return err
	}
	ks := make([]kernel.Kernel, len(chains))
	for i, c := range chains {
		ks[i] = c
	}
	return s.RunVec(ks)
}

// emit merges one prefetch/drain pair with the carry-over state and writes the
// records of every event
func (s *System) emit(name string, prefetch, drain fetch.Segment, reads, writes fetch.Request) error {
	pf := prefetch.Prepend(s.carryPrefetch)
	dr := drain.Prepend(s.carryDrain)

	mp, md := pf, dr
	if prefetch.Mergable && drain.Mergable {
		mp, md = s.merger.Merge(pf, dr)
	}
	if mp.Len() != pf.Len() || md.Len() != dr.Len() {
		return errors.AssertionFailedf("merge changed event counts: prefetch %d -> %d, drain %d -> %d",
			pf.Len(), mp.Len(), dr.Len(), md.Len())
	}

	s.carryPrefetch = mp.Last()
	s.carryDrain = md.Last()
	mp.Events = mp.Events[1:]
	md.Events = md.Events[1:]

	par := s.cfg.Parallelism(prefetch.Systolic || drain.Systolic)
	before := s.stats.Counters

	for i := range mp.Events {
		delay := mp.Events[i].Delay + md.Events[i].Delay +
			mp.Interval*utils.CeilDiv(reads.At(i), par) +
			md.Interval*utils.CeilDiv(writes.At(i), par)
		if err := s.emitStep(mp.Events[i], md.Events[i], delay); err != nil {
			return errors.Wrapf(err, "%s kernel, event %d", name, i)
		}
	}

	after := s.stats.Counters
	s.log.Debug("kernel emitted",
		slog.String("kernel", name),
		slog.Int("events", len(mp.Events)),
		slog.Uint64("records", after.Records-before.Records),
		slog.Uint64("cycles", after.EstimatedCycles-before.EstimatedCycles))
	return nil
}

// emitStep writes one read per prefetch range and one write per drain range.
// Every write depends on every read of the step; the first write carries the
// step delay and later writes also depend on it.
func (s *System) emitStep(prefetch, drain fetch.Event, delay uint64) error {
	readIDs := make([]uint64, 0, len(prefetch.Ranges))
	for _, r := range prefetch.Ranges {
		id, err := s.record(trace.Read, r, 0, nil)
		if err != nil {
			return err
		}
		readIDs = append(readIDs, id)
		s.stats.Reads++
		s.stats.BytesRead += r.Len()
	}

	var firstWrite uint64
	for j, r := range drain.Ranges {
		deps := make([]uint64, len(readIDs), len(readIDs)+1)
		copy(deps, readIDs)
		recordDelay := delay
		if j > 0 {
			deps = append(deps, firstWrite)
			recordDelay = 0
		}
		id, err := s.record(trace.Write, r, recordDelay, deps)
		if err != nil {
			return err
		}
		if j == 0 {
			firstWrite = id
		}
		s.stats.Writes++
		s.stats.BytesWritten += r.Len()
	}

	s.stats.Steps++
	s.stats.EstimatedCycles += delay
	return nil
}

func (s *System) record(dir trace.Direction, r fetch.Range, delay uint64, deps []uint64) (uint64, error) {
	if r.Len() > math.MaxUint32 {
		return 0, errors.AssertionFailedf("range %s does not fit a trace record", r)
	}
	if delay > math.MaxUint32 {
		s.log.Warn("delay saturated", slog.Uint64("delay", delay))
		delay = math.MaxUint32
	}

	rec := trace.OpRecord{
		ID:        s.nextID,
		Address:   r.Start,
		Direction: dir,
		Delay:     uint32(delay),
		Size:      uint32(r.Len()),
		Deps:      deps,
	}
	if s.writer != nil {
		if err := s.writer.Write(rec); err != nil {
			return 0, err
		}
	}
	s.nextID++
	s.stats.Records++
	return rec.ID, nil
}

// Stats returns a report of the run so far
func (s *System) Stats() stats.Report {
	report := s.stats.Report(s.cfg)
	if s.writer != nil {
		report.DigestName = s.writer.DigestName()
		report.Digest = s.writer.Digest()
	}
	return report
}

// Table exposes the live statistics table
func (s *System) Table() *stats.Table {
	return s.stats
}

// EstimatedCycles returns the summed step delays of the run so far
func (s *System) EstimatedCycles() uint64 {
	return s.stats.EstimatedCycles
}

// Close flushes the trace writer
func (s *System) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Flush()
}
