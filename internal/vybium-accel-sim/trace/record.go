// Package trace encodes memory operation records for the external DRAM
// timing simulator.
//
// A trace file starts with the 8-byte magic "VXTRACE1" followed by one record
// per memory operation. Every field occupies its own little-endian 8-byte
// slot; 32-bit fields are zero padded:
//
//	id        u64
//	address   u64
//	direction u32 + 4 bytes padding
//	delay     u32 + 4 bytes padding
//	size      u32 + 4 bytes padding
//	depCount  u64
//	deps      u64 x depCount
package trace

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Magic is the trace file header
const Magic = "VXTRACE1"

const slot = 8

// Direction of a memory operation
type Direction uint32

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	switch d {
	case Read:
		return "R"
	case Write:
		return "W"
	default:
		return fmt.Sprintf("D%d", uint32(d))
	}
}

// OpRecord is one memory access of the trace
type OpRecord struct {
	ID        uint64
	Address   uint64
	Direction Direction
	Delay     uint32
	Size      uint32
	Deps      []uint64
}

// EncodedLen returns the number of bytes the record occupies in a trace file
func (r OpRecord) EncodedLen() int {
	return slot * (6 + len(r.Deps))
}

func (r OpRecord) String() string {
	deps := make([]string, len(r.Deps))
	for i, d := range r.Deps {
		deps[i] = fmt.Sprintf("%d", d)
	}
	return fmt.Sprintf("%d %s %#x delay=%d size=%d deps=[%s]",
		r.ID, r.Direction, r.Address, r.Delay, r.Size, strings.Join(deps, ","))
}

// Validate checks that ids strictly increase and every dependency names a
// strictly earlier record. Together these make the dependency graph acyclic.
func Validate(records []OpRecord) error {
	seen := make(map[uint64]struct{}, len(records))
	for i, r := range records {
		if i > 0 && r.ID <= records[i-1].ID {
			return errors.Newf("record %d: id %d does not follow %d", i, r.ID, records[i-1].ID)
		}
		for _, dep := range r.Deps {
			if dep >= r.ID {
				return errors.Newf("record %d depends on later or same id %d", r.ID, dep)
			}
			if _, ok := seen[dep]; !ok {
				return errors.Newf("record %d depends on unknown id %d", r.ID, dep)
			}
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
