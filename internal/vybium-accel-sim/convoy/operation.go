// Package convoy schedules chains of field-vector operations onto the vector
// unit. Operations are packed greedily into convoys that respect the
// functional-unit, load-port and register-file limits, and the VectorChain
// kernel turns the resulting schedule into fetch segments.
package convoy

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/arch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/fetch"
	"github.com/vybium/vybium-accel-sim/internal/vybium-accel-sim/utils"
)

// Kind is the arithmetic performed by an operation
type Kind uint8

const (
	ADD Kind = iota
	SUB
	MUL
)

func (k Kind) String() string {
	switch k {
	case ADD:
		return "ADD"
	case SUB:
		return "SUB"
	case MUL:
		return "MUL"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Latency returns the pipeline depth of the functional unit
func (k Kind) Latency() uint64 {
	if k == MUL {
		return 3
	}
	return 1
}

// Mode selects whether the second input is a vector or a broadcast scalar
type Mode uint8

const (
	VV Mode = iota
	VS
)

func (m Mode) String() string {
	if m == VS {
		return "VS"
	}
	return "VV"
}

// Operation is one vector operation descriptor. Address 0 means the operand
// is absent and never fetched.
type Operation struct {
	VectorLength uint64
	In0          uint64
	In1          uint64
	Out          uint64
	Kind         Kind
	Mode         Mode
	Final        bool
}

// Mul creates a vector-vector multiplication
func Mul(n, in0, in1, out uint64) Operation {
	return Operation{VectorLength: n, In0: in0, In1: in1, Out: out, Kind: MUL}
}

// Add creates a vector-vector addition
func Add(n, in0, in1, out uint64) Operation {
	return Operation{VectorLength: n, In0: in0, In1: in1, Out: out, Kind: ADD}
}

// Sub creates a vector-vector subtraction
func Sub(n, in0, in1, out uint64) Operation {
	return Operation{VectorLength: n, In0: in0, In1: in1, Out: out, Kind: SUB}
}

// Scalar returns a copy of op with its second input broadcast
func (op Operation) Scalar() Operation {
	op.Mode = VS
	return op
}

// AsFinal returns a copy of op whose output leaves the chip
func (op Operation) AsFinal() Operation {
	op.Final = true
	return op
}

// IsMul reports whether op occupies the multiplier
func (op Operation) IsMul() bool {
	return op.Kind == MUL
}

// Inputs returns the byte ranges of the present inputs
func (op Operation) Inputs(elemBytes uint64) []fetch.Range {
	inputs := make([]fetch.Range, 0, 2)
	if op.In0 != 0 {
		inputs = append(inputs, fetch.Span(op.In0, op.VectorLength*elemBytes))
	}
	if op.In1 != 0 {
		length := op.VectorLength * elemBytes
		if op.Mode == VS {
			length = elemBytes
		}
		inputs = append(inputs, fetch.Span(op.In1, length))
	}
	return inputs
}

// Output returns the byte range of the output, if present
func (op Operation) Output(elemBytes uint64) (fetch.Range, bool) {
	if op.Out == 0 {
		return fetch.Range{}, false
	}
	return fetch.Span(op.Out, op.VectorLength*elemBytes), true
}

// Operands returns every present input and output range
func (op Operation) Operands(elemBytes uint64) []fetch.Range {
	ranges := op.Inputs(elemBytes)
	if out, ok := op.Output(elemBytes); ok {
		ranges = append(ranges, out)
	}
	return ranges
}

// Delay returns the compute cycles of op on a vector unit with the given lanes
func (op Operation) Delay(lanes uint64) uint64 {
	return op.Kind.Latency() + utils.CeilDiv(op.VectorLength, lanes)
}

// Validate checks op against the architecture limits
func (op Operation) Validate(cfg *arch.Config) error {
	if op.VectorLength == 0 {
		return errors.New("vector length must be positive")
	}
	if op.VectorLength > cfg.MaxVectorLength {
		return errors.Newf("vector length %d exceeds the maximum %d", op.VectorLength, cfg.MaxVectorLength)
	}
	if op.Kind > MUL {
		return errors.Newf("unknown operation kind %d", op.Kind)
	}
	if op.Mode > VS {
		return errors.Newf("unknown source mode %d", op.Mode)
	}
	return nil
}

func (op Operation) String() string {
	final := ""
	if op.Final {
		final = " final"
	}
	return fmt.Sprintf("%s.%s n=%d %#x,%#x -> %#x%s", op.Kind, op.Mode, op.VectorLength, op.In0, op.In1, op.Out, final)
}
