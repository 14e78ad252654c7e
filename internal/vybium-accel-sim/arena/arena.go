// Package arena manages the simulated address space of the accelerator.
//
// The arena is a flat range of addresses split into contiguous blocks kept in
// address order. Allocation is first fit, free coalesces with free neighbours,
// and a separate preload set records address ranges that are considered
// resident on chip.
package arena

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/utils"
)

var (
	// ErrExhausted is returned when no free block is large enough
	ErrExhausted = errors.New("arena exhausted")

	// ErrDuplicate is returned when a name is already allocated
	ErrDuplicate = errors.New("duplicate block name")

	// ErrUnknown is returned when a name or handle is not allocated
	ErrUnknown = errors.New("unknown block")
)

// Handle identifies a live block. The zero Handle is never issued.
type Handle uint64

// Block is one contiguous piece of the arena, [Start, End)
type Block struct {
	Handle Handle
	Name   string
	Start  uint64
	End    uint64
	Size   uint64
	Free   bool
}

// Stats summarizes arena occupancy
type Stats struct {
	TotalBytes     uint64
	AllocatedBytes uint64
	FreeBytes      uint64
	LargestFree    uint64
	PeakAllocated  uint64
	BlockCount     int
	LiveBlocks     int
}

// Arena is a first-fit allocator over the simulated address space.
// It is not safe for concurrent use; kernels run strictly one after another.
type Arena struct {
	cfg *arch.Config
	log *slog.Logger

	blocks []Block

	// handle -> block start; name -> handle is kept for name based calls
	starts     map[Handle]uint64
	names      map[string]Handle
	nextHandle Handle

	preload []PreloadRange

	allocated uint64
	peak      uint64
}

// Option configures an Arena
type Option func(*Arena)

// WithLogger sets the logger used for allocation tracing
func WithLogger(log *slog.Logger) Option {
	return func(a *Arena) {
		if log != nil {
			a.log = log
		}
	}
}

// New creates an arena with a single free block covering cfg.ArenaBytes
func New(cfg *arch.Config, opts ...Option) *Arena {
	a := &Arena{
		cfg:        cfg,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		starts:     make(map[Handle]uint64),
		names:      make(map[string]Handle),
		nextHandle: 1,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.blocks = []Block{{Start: 0, End: cfg.ArenaBytes, Size: cfg.ArenaBytes, Free: true}}
	return a
}

// Config returns the architecture configuration the arena was built with
func (a *Arena) Config() *arch.Config {
	return a.cfg
}

// Alloc reserves size bytes (rounded up to the alignment) under name and
// returns the base address.
func (a *Arena) Alloc(name string, size uint64) (uint64, error) {
	_, base, err := a.AllocHandle(name, size)
	return base, err
}

// AllocHandle is Alloc returning the block handle as well
func (a *Arena) AllocHandle(name string, size uint64) (Handle, uint64, error) {
	if _, ok := a.names[name]; ok {
		return 0, 0, a.failure(ErrDuplicate, "block %q is already allocated", name)
	}

	if size > a.cfg.ArenaBytes {
		return 0, 0, a.failure(ErrExhausted, "cannot allocate %q (%d bytes, arena holds %d)",
			name, size, a.cfg.ArenaBytes)
	}
	rounded := utils.AlignUp(size, a.cfg.Alignment)
	if rounded == 0 {
		rounded = utils.MaxU64(a.cfg.Alignment, 1)
	}

	for i := range a.blocks {
		if !a.blocks[i].Free || a.blocks[i].Size < rounded {
			continue
		}

		block := &a.blocks[i]
		if block.Size > rounded {
			remainder := Block{
				Start: block.Start + rounded,
				End:   block.End,
				Size:  block.Size - rounded,
				Free:  true,
			}
			a.blocks = append(a.blocks, Block{})
			copy(a.blocks[i+2:], a.blocks[i+1:])
			a.blocks[i+1] = remainder
			block = &a.blocks[i]
		}

		handle := a.nextHandle
		a.nextHandle++

		block.Handle = handle
		block.Name = name
		block.End = block.Start + rounded
		block.Size = rounded
		block.Free = false

		a.starts[handle] = block.Start
		a.names[name] = handle
		a.allocated += rounded
		if a.allocated > a.peak {
			a.peak = a.allocated
		}

		a.log.Debug("arena alloc",
			slog.String("name", name),
			slog.Uint64("base", block.Start),
			slog.Uint64("bytes", rounded))
		return handle, block.Start, nil
	}

	return 0, 0, a.failure(ErrExhausted, "cannot allocate %q (%d bytes)", name, rounded)
}

// MustAlloc is Alloc for schedules that are required to fit; it panics on failure
func (a *Arena) MustAlloc(name string, size uint64) uint64 {
	base, err := a.Alloc(name, size)
	if err != nil {
		panic(err)
	}
	return base
}

// Free releases the block allocated under name
func (a *Arena) Free(name string) error {
	handle, ok := a.names[name]
	if !ok {
		return a.failure(ErrUnknown, "cannot free %q", name)
	}
	return a.FreeHandle(handle)
}

// FreeHandle releases the block identified by handle and coalesces it with
// free neighbours.
func (a *Arena) FreeHandle(handle Handle) error {
	start, ok := a.starts[handle]
	if !ok {
		return a.failure(ErrUnknown, "cannot free handle %d", handle)
	}
	i := a.indexOf(start)
	if i < 0 {
		return errors.AssertionFailedf("handle %d points at %d which starts no block", handle, start)
	}

	block := &a.blocks[i]
	name := block.Name
	a.allocated -= block.Size

	delete(a.starts, handle)
	delete(a.names, name)
	block.Handle = 0
	block.Name = ""
	block.Free = true

	// Merge the following block into this one, then this one into the previous.
	if i+1 < len(a.blocks) && a.blocks[i+1].Free {
		a.blocks[i].End = a.blocks[i+1].End
		a.blocks[i].Size += a.blocks[i+1].Size
		a.blocks = append(a.blocks[:i+1], a.blocks[i+2:]...)
	}
	if i > 0 && a.blocks[i-1].Free {
		a.blocks[i-1].End = a.blocks[i].End
		a.blocks[i-1].Size += a.blocks[i].Size
		a.blocks = append(a.blocks[:i], a.blocks[i+1:]...)
	}

	a.log.Debug("arena free", slog.String("name", name), slog.Uint64("base", start))
	return nil
}

// Address returns the base address of the block allocated under name
func (a *Arena) Address(name string) (uint64, bool) {
	block, ok := a.lookup(name)
	if !ok {
		return 0, false
	}
	return block.Start, true
}

// Size returns the (rounded) size of the block allocated under name
func (a *Arena) Size(name string) (uint64, bool) {
	block, ok := a.lookup(name)
	if !ok {
		return 0, false
	}
	return block.Size, true
}

// MustAddress is Address for names that are known to be allocated
func (a *Arena) MustAddress(name string) uint64 {
	addr, ok := a.Address(name)
	if !ok {
		panic(a.failure(ErrUnknown, "no address for %q", name))
	}
	return addr
}

// MustSize is Size for names that are known to be allocated
func (a *Arena) MustSize(name string) uint64 {
	size, ok := a.Size(name)
	if !ok {
		panic(a.failure(ErrUnknown, "no size for %q", name))
	}
	return size
}

// Lookup returns the live block allocated under name
func (a *Arena) Lookup(name string) (Block, bool) {
	return a.lookup(name)
}

// BufferElems returns the element capacity of one on-chip buffer
func (a *Arena) BufferElems() uint64 {
	return a.cfg.BufferElems()
}

// WindowElems returns the element capacity of a double-buffered working window
func (a *Arena) WindowElems() uint64 {
	return a.cfg.WindowElems()
}

// ElemsToBytes converts an element count to bytes
func (a *Arena) ElemsToBytes(n uint64) uint64 {
	return n * a.cfg.ElementBytes
}

// Blocks returns a copy of the block list in address order
func (a *Arena) Blocks() []Block {
	out := make([]Block, len(a.blocks))
	copy(out, a.blocks)
	return out
}

// Stats returns the current occupancy summary
func (a *Arena) Stats() Stats {
	stats := Stats{
		TotalBytes:     a.cfg.ArenaBytes,
		AllocatedBytes: a.allocated,
		FreeBytes:      a.cfg.ArenaBytes - a.allocated,
		PeakAllocated:  a.peak,
		BlockCount:     len(a.blocks),
		LiveBlocks:     len(a.names),
	}
	for _, block := range a.blocks {
		if block.Free && block.Size > stats.LargestFree {
			stats.LargestFree = block.Size
		}
	}
	return stats
}

// Validate checks the block list invariants: contiguous, sorted, covering the
// whole arena, no two adjacent free blocks and one live block per name.
func (a *Arena) Validate() error {
	if len(a.blocks) == 0 {
		return errors.New("arena has no blocks")
	}
	if a.blocks[0].Start != 0 {
		return errors.Newf("first block starts at %d", a.blocks[0].Start)
	}

	var total uint64
	seen := make(map[string]struct{}, len(a.names))
	for i, block := range a.blocks {
		if block.End-block.Start != block.Size {
			return errors.Newf("block %d [%d, %d) has size %d", i, block.Start, block.End, block.Size)
		}
		if i > 0 {
			prev := a.blocks[i-1]
			if prev.End != block.Start {
				return errors.Newf("block %d starts at %d but block %d ends at %d", i, block.Start, i-1, prev.End)
			}
			if prev.Free && block.Free {
				return errors.Newf("adjacent free blocks %d and %d were not merged", i-1, i)
			}
		}
		if !block.Free {
			if _, dup := seen[block.Name]; dup {
				return errors.Newf("name %q is live twice", block.Name)
			}
			seen[block.Name] = struct{}{}
			if a.names[block.Name] != block.Handle {
				return errors.Newf("name index for %q is stale", block.Name)
			}
		}
		total += block.Size
	}

	if total != a.cfg.ArenaBytes {
		return errors.Newf("blocks cover %d bytes, arena has %d", total, a.cfg.ArenaBytes)
	}
	if len(seen) != len(a.names) {
		return errors.Newf("%d live blocks but %d indexed names", len(seen), len(a.names))
	}
	return nil
}

// String renders the block list, one block per line
func (a *Arena) String() string {
	var sb strings.Builder
	for _, block := range a.blocks {
		state := "used"
		name := block.Name
		if block.Free {
			state = "free"
			name = "-"
		}
		fmt.Fprintf(&sb, "[%#012x, %#012x) %12d %s %s\n", block.Start, block.End, block.Size, state, name)
	}
	return sb.String()
}

// WriteJSON writes the block map and occupancy summary as a JSON object
func (a *Arena) WriteJSON(w *jwriter.Writer) {
	stats := a.Stats()

	obj := w.Object()
	obj.Name("total_bytes").Int(int(stats.TotalBytes))
	obj.Name("allocated_bytes").Int(int(stats.AllocatedBytes))
	obj.Name("peak_allocated_bytes").Int(int(stats.PeakAllocated))
	obj.Name("largest_free_bytes").Int(int(stats.LargestFree))

	blocks := obj.Name("blocks").Array()
	for _, block := range a.blocks {
		b := blocks.Object()
		b.Name("start").Int(int(block.Start))
		b.Name("size").Int(int(block.Size))
		b.Name("free").Bool(block.Free)
		if !block.Free {
			b.Name("name").String(block.Name)
		}
		b.End()
	}
	blocks.End()

	preloads := obj.Name("preload").Array()
	for _, r := range a.preload {
		p := preloads.Object()
		p.Name("addr").Int(int(r.Addr))
		p.Name("len").Int(int(r.Len))
		p.End()
	}
	preloads.End()

	obj.End()
}

// JSON returns the WriteJSON output as bytes
func (a *Arena) JSON() ([]byte, error) {
	w := jwriter.NewWriter()
	a.WriteJSON(&w)
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "failed to encode arena map")
	}
	return w.Bytes(), nil
}

func (a *Arena) lookup(name string) (Block, bool) {
	handle, ok := a.names[name]
	if !ok {
		return Block{}, false
	}
	i := a.indexOf(a.starts[handle])
	if i < 0 {
		return Block{}, false
	}
	return a.blocks[i], true
}

// indexOf finds the block starting exactly at start
func (a *Arena) indexOf(start uint64) int {
	i := sort.Search(len(a.blocks), func(i int) bool {
		return a.blocks[i].Start >= start
	})
	if i < len(a.blocks) && a.blocks[i].Start == start {
		return i
	}
	return -1
}

// failure wraps a sentinel with context and the current block list
func (a *Arena) failure(sentinel error, format string, args ...interface{}) error {
	err := errors.Wrapf(sentinel, format, args...)
	return errors.WithDetail(err, "arena blocks:\n"+a.String())
}
