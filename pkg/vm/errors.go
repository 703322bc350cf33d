package vm

import (
	"errors"
	"fmt"
)

// Fault kinds. A failed run reports exactly one of these wrapped in a *Fault.
var (
	ErrInvalidOpcode     = errors.New("invalid opcode")
	ErrStackOverflow     = errors.New("stack overflow")
	ErrStackUnderflow    = errors.New("stack underflow")
	ErrTruncatedProgram  = errors.New("truncated program")
	ErrDivideByZero      = errors.New("divide by zero")
	ErrProgramTooLarge   = errors.New("program too large")
	ErrStepLimitExceeded = errors.New("step limit exceeded")
	ErrCanceled          = errors.New("run canceled")
	ErrOutputFailed      = errors.New("output failed")
)

// Fault describes why a run stopped early and where.
type Fault struct {
	// Err is one of the fault kind sentinels above.
	Err error

	// IP is the offset of the opcode being executed when the fault occurred.
	IP int

	// Op is the opcode at IP. It is the raw byte for ErrInvalidOpcode.
	Op Opcode

	// Cause holds an underlying error, e.g. from the output writer.
	Cause error
}

// Error implements error.
func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%v at ip=%d (%v): %v", f.Err, f.IP, f.Op, f.Cause)
	}
	return fmt.Sprintf("%v at ip=%d (%v)", f.Err, f.IP, f.Op)
}

// Unwrap returns the fault kind so errors.Is works against the sentinels.
func (f *Fault) Unwrap() error {
	return f.Err
}

// Kind returns the short name of the fault kind, e.g. "StackUnderflow".
func (f *Fault) Kind() string {
	return KindOf(f.Err)
}

// KindOf maps a fault sentinel (or an error wrapping one) to its short name.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidOpcode):
		return "InvalidOpcode"
	case errors.Is(err, ErrStackOverflow):
		return "StackOverflow"
	case errors.Is(err, ErrStackUnderflow):
		return "StackUnderflow"
	case errors.Is(err, ErrTruncatedProgram):
		return "TruncatedProgram"
	case errors.Is(err, ErrDivideByZero):
		return "DivideByZero"
	case errors.Is(err, ErrProgramTooLarge):
		return "ProgramTooLarge"
	case errors.Is(err, ErrStepLimitExceeded):
		return "StepLimitExceeded"
	case errors.Is(err, ErrCanceled):
		return "Canceled"
	case errors.Is(err, ErrOutputFailed):
		return "OutputFailed"
	default:
		return "Unknown"
	}
}
