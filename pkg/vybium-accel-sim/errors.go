package vybiumaccelsim

import "fmt"

// ErrorCode represents a simulator error code
type ErrorCode int

const (
	// ErrUnknown represents an unknown error
	ErrUnknown ErrorCode = iota

	// ErrInvalidConfig represents an invalid architecture configuration
	ErrInvalidConfig

	// ErrInvalidWorkload represents a malformed workload description
	ErrInvalidWorkload

	// ErrAllocation represents an arena allocation failure
	ErrAllocation

	// ErrKernel represents a kernel that failed to build or emit
	ErrKernel

	// ErrTrace represents a trace output failure
	ErrTrace

	// ErrDRAMSim represents a DRAM simulator failure
	ErrDRAMSim
)

func (c ErrorCode) String() string {
	switch c {
	case ErrInvalidConfig:
		return "invalid config"
	case ErrInvalidWorkload:
		return "invalid workload"
	case ErrAllocation:
		return "allocation"
	case ErrKernel:
		return "kernel"
	case ErrTrace:
		return "trace"
	case ErrDRAMSim:
		return "dramsim"
	default:
		return "unknown"
	}
}

// SimError represents a simulator error
type SimError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error returns the error message
func (e *SimError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("vybium-accel-sim error [%s]: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("vybium-accel-sim error [%s]: %s", e.Code, e.Message)
}

// Unwrap returns the cause of the error
func (e *SimError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error
func (e *SimError) Is(target error) bool {
	t, ok := target.(*SimError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newError(code ErrorCode, cause error, format string, args ...interface{}) *SimError {
	return &SimError{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}
