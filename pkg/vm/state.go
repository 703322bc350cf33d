// Package vm implements a small stack-based bytecode interpreter.
//
// The machine has a fixed-capacity operand stack of signed 32-bit integers,
// a register file of NumRegs int32 slots, and a MaxInsts byte instruction
// buffer. Programs are flat byte streams: a one-byte opcode followed by a
// little-endian operand whose width is fixed per opcode (see opcode.go).
//
// Every run gets its own State, so independent runs never share memory and
// can proceed in parallel.
package vm

// Machine limits.
const (
	StackSize = 256   // Operand stack slots; StackSize-1 are usable
	NumRegs   = 16    // Register file size
	MaxInsts  = 65536 // Instruction buffer size in bytes
)

// State is the mutable machine state for a single run.
type State struct {
	stack [StackSize]int32
	sp    int // Next free stack slot

	regs [NumRegs]int32

	code [MaxInsts]byte
	ip   int // Offset of the next opcode
}

// NewState returns a zeroed machine state.
func NewState() *State {
	return &State{}
}

// IP returns the instruction pointer.
func (s *State) IP() int {
	return s.ip
}

// Stack returns a copy of the live stack, bottom first.
func (s *State) Stack() []int32 {
	out := make([]int32, s.sp)
	copy(out, s.stack[:s.sp])
	return out
}

// push stores n in the next free slot. The top slot is never used.
func (s *State) push(n int32) error {
	if s.sp >= StackSize-1 {
		return ErrStackOverflow
	}
	s.stack[s.sp] = n
	s.sp++
	return nil
}

// pop removes and returns the top of stack.
func (s *State) pop() (int32, error) {
	if s.sp == 0 {
		return 0, ErrStackUnderflow
	}
	s.sp--
	return s.stack[s.sp], nil
}

// pop2 pops b then a, so that a is the value pushed first.
func (s *State) pop2() (a, b int32, err error) {
	if s.sp < 2 {
		return 0, 0, ErrStackUnderflow
	}
	b, _ = s.pop()
	a, _ = s.pop()
	return a, b, nil
}

// load pushes register r. Out-of-range registers are ignored.
func (s *State) load(r int) error {
	if r < 0 || r >= NumRegs {
		return nil
	}
	return s.push(s.regs[r])
}

// store pops into register r. For an out-of-range register the popped value
// is discarded.
func (s *State) store(r int) error {
	v, err := s.pop()
	if err != nil {
		return err
	}
	if r >= 0 && r < NumRegs {
		s.regs[r] = v
	}
	return nil
}

// jump moves ip to t. Targets outside the instruction buffer are ignored.
func (s *State) jump(t int) {
	if t >= 0 && t < MaxInsts {
		s.ip = t
	}
}
