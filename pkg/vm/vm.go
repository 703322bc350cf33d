package vm

import (
	"context"
	"errors"
	"io"
	"strconv"
)

// Status is the terminal state of a run.
type Status int

const (
	// StatusCompleted means STOP was reached.
	StatusCompleted Status = iota

	// StatusFaulted means the run stopped on a fault.
	StatusFaulted
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Outcome is the result of a single run.
type Outcome struct {
	Status Status

	// Fault is set when Status is StatusFaulted.
	Fault *Fault

	// Steps is the number of dispatch iterations charged to the run.
	Steps uint64

	// Output holds the lines printed by PRINT when no Options.Output writer
	// was supplied.
	Output []string

	// Stack and Registers are snapshots of the machine at the end of the run.
	Stack     []int32
	Registers [NumRegs]int32
}

// Completed reports whether the run reached STOP.
func (o *Outcome) Completed() bool {
	return o.Status == StatusCompleted
}

// Err returns the fault as an error, or nil for a completed run.
func (o *Outcome) Err() error {
	if o.Fault == nil {
		return nil
	}
	return o.Fault
}

// TraceFunc observes each instruction after it is decoded and before it
// executes. sp is the stack depth at that moment.
type TraceFunc func(ins Instruction, sp int)

// Options configures an Interpreter.
type Options struct {
	// Output receives one decimal line per PRINT. When nil, lines are
	// collected in Outcome.Output instead.
	Output io.Writer

	// MaxSteps bounds the number of dispatch iterations. Zero means no limit.
	MaxSteps uint64

	// Permissive truncates programs longer than MaxInsts instead of
	// rejecting them with ErrProgramTooLarge.
	Permissive bool

	// Trace, if set, is called for every decoded instruction.
	Trace TraceFunc
}

// Interpreter runs programs. It holds only configuration, so one
// Interpreter may be shared by concurrent runs.
type Interpreter struct {
	opts Options
}

// NewInterpreter creates an interpreter with the given options.
func NewInterpreter(opts Options) *Interpreter {
	return &Interpreter{opts: opts}
}

// Run executes program with default options and collects its output.
func Run(program []byte) *Outcome {
	return NewInterpreter(Options{}).Run(context.Background(), program)
}

// Run loads program into a fresh State and executes it until STOP or a
// fault. Faults never panic and never escape as a Go error; they are
// reported in the returned Outcome. Cancelling ctx stops the run at the next
// instruction boundary with ErrCanceled.
func (it *Interpreter) Run(ctx context.Context, program []byte) *Outcome {
	st := NewState()
	out := &Outcome{}

	if err := st.Load(program, !it.opts.Permissive); err != nil {
		return it.finish(out, st, nil, &Fault{Err: ErrProgramTooLarge, Cause: err})
	}

	meter := NewStepMeter(it.opts.MaxSteps)
	emit := it.emitter(out)
	done := ctx.Done()

	for {
		at := st.ip

		if done != nil {
			select {
			case <-done:
				return it.finish(out, st, meter, st.faultAt(at, &Fault{Err: ErrCanceled, Cause: ctx.Err()}))
			default:
			}
		}

		if err := meter.Consume(); err != nil {
			return it.finish(out, st, meter, st.faultAt(at, err))
		}

		ins, err := st.decode()
		if err != nil {
			return it.finish(out, st, meter, st.faultAt(at, err))
		}

		if it.opts.Trace != nil {
			it.opts.Trace(ins, st.sp)
		}

		halt, err := st.execute(ins, emit)
		if err != nil {
			return it.finish(out, st, meter, st.faultAt(at, err))
		}
		if halt {
			st.ip = at
			return it.finish(out, st, meter, nil)
		}
	}
}

// emitter returns the PRINT sink for a run.
func (it *Interpreter) emitter(out *Outcome) func(int32) error {
	if it.opts.Output == nil {
		return func(v int32) error {
			out.Output = append(out.Output, strconv.FormatInt(int64(v), 10))
			return nil
		}
	}
	w := it.opts.Output
	var buf []byte
	return func(v int32) error {
		buf = strconv.AppendInt(buf[:0], int64(v), 10)
		buf = append(buf, '\n')
		_, err := w.Write(buf)
		return err
	}
}

// finish fills in the terminal fields of out.
func (it *Interpreter) finish(out *Outcome, st *State, meter *StepMeter, f *Fault) *Outcome {
	if meter != nil {
		out.Steps = meter.Consumed()
	}
	out.Stack = st.Stack()
	out.Registers = st.regs
	if f != nil {
		out.Status = StatusFaulted
		out.Fault = f
		return out
	}
	out.Status = StatusCompleted
	return out
}

// faultAt builds a Fault for an error raised while executing the
// instruction whose opcode sits at ip.
func (s *State) faultAt(ip int, err error) *Fault {
	var f *Fault
	if !errors.As(err, &f) {
		f = &Fault{Err: err}
	}
	f.IP = ip
	if ip >= 0 && ip < MaxInsts {
		f.Op = Opcode(s.code[ip])
	}
	s.ip = ip
	return f
}
