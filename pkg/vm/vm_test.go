package vm

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"testing"
)

func ins(op Opcode, operand ...int32) Instruction {
	i := Instruction{Op: op}
	if len(operand) > 0 {
		i.Operand = operand[0]
	}
	return i
}

func program(prog ...Instruction) []byte {
	return EncodeProgram(prog)
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// expectFault checks that out faulted with kind at ip.
func expectFault(t *testing.T, out *Outcome, kind error, ip int) {
	t.Helper()
	if out.Status != StatusFaulted {
		t.Fatalf("Status = %v, want faulted", out.Status)
	}
	if !errors.Is(out.Err(), kind) {
		t.Fatalf("Err() = %v, want %v", out.Err(), kind)
	}
	if out.Fault.IP != ip {
		t.Errorf("Fault.IP = %d, want %d", out.Fault.IP, ip)
	}
}

func TestPushPrint(t *testing.T) {
	values := []int32{0, 1, -1, 42, -12345, math.MaxInt32, math.MinInt32}
	for _, n := range values {
		out := Run(program(ins(OpPush, n), ins(OpPrint), ins(OpStop)))
		if !out.Completed() {
			t.Fatalf("PUSH %d: run faulted: %v", n, out.Err())
		}
		want := []string{strconv.Itoa(int(n))}
		if !equalLines(out.Output, want) {
			t.Errorf("PUSH %d: Output = %q, want %q", n, out.Output, want)
		}
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   Opcode
		a, b int32
		want string
	}{
		{"add", OpAdd, 2, 3, "5"},
		{"sub keeps push order", OpSub, 5, 3, "2"},
		{"sub negative", OpSub, 3, 5, "-2"},
		{"mul", OpMul, 6, 7, "42"},
		{"div", OpDiv, 7, 2, "3"},
		{"div truncates toward zero", OpDiv, -7, 2, "-3"},
		{"div divisor is top", OpDiv, 100, 10, "10"},
		{"add wraps", OpAdd, math.MaxInt32, 1, "-2147483648"},
		{"mul wraps", OpMul, math.MaxInt32, 2, "-2"},
		{"div min by minus one", OpDiv, math.MinInt32, -1, "-2147483648"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Run(program(
				ins(OpPush, tt.a),
				ins(OpPush, tt.b),
				ins(tt.op),
				ins(OpPrint),
				ins(OpStop),
			))
			if !out.Completed() {
				t.Fatalf("run faulted: %v", out.Err())
			}
			if !equalLines(out.Output, []string{tt.want}) {
				t.Errorf("Output = %q, want [%s]", out.Output, tt.want)
			}
			if len(out.Stack) != 0 {
				t.Errorf("Stack = %v, want empty", out.Stack)
			}
		})
	}
}

func TestDivideByZero(t *testing.T) {
	out := Run(program(
		ins(OpPush, 7), // 0
		ins(OpPrint),   // 5
		ins(OpPush, 3), // 6
		ins(OpPush, 0), // 11
		ins(OpDiv),     // 16
		ins(OpPrint),
		ins(OpStop),
	))
	expectFault(t, out, ErrDivideByZero, 16)
	if out.Fault.Op != OpDiv {
		t.Errorf("Fault.Op = %v, want DIV", out.Fault.Op)
	}
	if !equalLines(out.Output, []string{"7"}) {
		t.Errorf("Output = %q, want [7]", out.Output)
	}
}

func TestStackUnderflow(t *testing.T) {
	tests := []struct {
		name string
		prog []byte
		ip   int
	}{
		{"pop empty", program(ins(OpPop), ins(OpStop)), 0},
		{"print empty", program(ins(OpPrint), ins(OpStop)), 0},
		{"store empty", program(ins(OpNop), ins(OpStore, 1), ins(OpStop)), 1},
		{"jz empty", program(ins(OpJz, 0), ins(OpStop)), 0},
		{"jnz empty", program(ins(OpJnz, 0), ins(OpStop)), 0},
		{"add one operand", program(ins(OpPush, 1), ins(OpAdd), ins(OpStop)), 5},
		{"sub one operand", program(ins(OpPush, 1), ins(OpSub), ins(OpStop)), 5},
		{"mul empty", program(ins(OpMul), ins(OpStop)), 0},
		{"div one operand", program(ins(OpPush, 1), ins(OpDiv), ins(OpStop)), 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectFault(t, Run(tt.prog), ErrStackUnderflow, tt.ip)
		})
	}
}

func TestStackOverflow(t *testing.T) {
	var prog []Instruction
	for i := 0; i < StackSize; i++ {
		prog = append(prog, ins(OpPush, 1))
	}
	prog = append(prog, ins(OpStop))

	out := Run(program(prog...))
	expectFault(t, out, ErrStackOverflow, (StackSize-1)*5)
	if len(out.Stack) != StackSize-1 {
		t.Errorf("len(Stack) = %d, want %d", len(out.Stack), StackSize-1)
	}

	// One push fewer fits.
	out = Run(program(prog[1:]...))
	if !out.Completed() {
		t.Fatalf("run with %d pushes faulted: %v", StackSize-1, out.Err())
	}
}

func TestLoadOverflow(t *testing.T) {
	var prog []Instruction
	for i := 0; i < StackSize-1; i++ {
		prog = append(prog, ins(OpPush, 1))
	}
	prog = append(prog, ins(OpLoad, 0), ins(OpStop))
	expectFault(t, Run(program(prog...)), ErrStackOverflow, (StackSize-1)*5)
}

func TestConditionalJumps(t *testing.T) {
	// PUSH v; Jx 14; PUSH 2; PRINT; STOP  (PUSH 2 at 8, PRINT at 13, STOP at 14)
	tests := []struct {
		name  string
		op    Opcode
		value int32
		want  []string
	}{
		{"jz not taken", OpJz, 1, []string{"2"}},
		{"jz taken", OpJz, 0, nil},
		{"jnz not taken", OpJnz, 0, []string{"2"}},
		{"jnz taken", OpJnz, -5, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Run(program(
				ins(OpPush, tt.value),
				ins(tt.op, 14),
				ins(OpPush, 2),
				ins(OpPrint),
				ins(OpStop),
			))
			if !out.Completed() {
				t.Fatalf("run faulted: %v", out.Err())
			}
			if !equalLines(out.Output, tt.want) {
				t.Errorf("Output = %q, want %q", out.Output, tt.want)
			}
		})
	}
}

func TestJzBackwards(t *testing.T) {
	prog := program(
		ins(OpPush, 1),
		ins(OpJz, 0),
		ins(OpPush, 2),
		ins(OpPrint),
		ins(OpStop),
	)
	out := Run(prog)
	if !out.Completed() || !equalLines(out.Output, []string{"2"}) {
		t.Fatalf("got %v %q, want completed [2]", out.Err(), out.Output)
	}

	// With a zero the JZ jumps back to 0 forever.
	prog[1] = 0
	it := NewInterpreter(Options{MaxSteps: 1000})
	out = it.Run(context.Background(), prog)
	if !errors.Is(out.Err(), ErrStepLimitExceeded) {
		t.Fatalf("Err() = %v, want ErrStepLimitExceeded", out.Err())
	}
	if out.Steps != 1000 {
		t.Errorf("Steps = %d, want 1000", out.Steps)
	}
	if len(out.Output) != 0 {
		t.Errorf("Output = %q, want none", out.Output)
	}
}

func TestCountdownLoop(t *testing.T) {
	out := Run(program(
		ins(OpPush, 3),  // 0
		ins(OpStore, 0), // 5
		ins(OpLoad, 0),  // 7: loop
		ins(OpPrint),    // 9
		ins(OpLoad, 0),  // 10
		ins(OpPush, 1),  // 12
		ins(OpSub),      // 17
		ins(OpStore, 0), // 18
		ins(OpLoad, 0),  // 20
		ins(OpJnz, 7),   // 22
		ins(OpStop),     // 25
	))
	if !out.Completed() {
		t.Fatalf("run faulted: %v", out.Err())
	}
	if want := []string{"3", "2", "1"}; !equalLines(out.Output, want) {
		t.Errorf("Output = %q, want %q", out.Output, want)
	}
	if out.Registers[0] != 0 {
		t.Errorf("r0 = %d, want 0", out.Registers[0])
	}
}

func TestJmp(t *testing.T) {
	out := Run(program(
		ins(OpJmp, 9),  // 0
		ins(OpPush, 1), // 3
		ins(OpPrint),   // 8
		ins(OpPush, 2), // 9
		ins(OpPrint),   // 14
		ins(OpStop),
	))
	if !out.Completed() || !equalLines(out.Output, []string{"2"}) {
		t.Fatalf("got %v %q, want completed [2]", out.Err(), out.Output)
	}
}

func TestJumpOutOfRangeIgnored(t *testing.T) {
	s := NewState()
	s.ip = 7
	s.jump(-1)
	s.jump(MaxInsts)
	if s.ip != 7 {
		t.Errorf("ip = %d, want 7", s.ip)
	}
	s.jump(MaxInsts - 1)
	if s.ip != MaxInsts-1 {
		t.Errorf("ip = %d, want %d", s.ip, MaxInsts-1)
	}
}

func TestRegisters(t *testing.T) {
	out := Run(program(
		ins(OpPush, 11),
		ins(OpStore, 3),
		ins(OpPush, 22),
		ins(OpStore, NumRegs-1),
		ins(OpLoad, 3),
		ins(OpLoad, NumRegs-1),
		ins(OpAdd),
		ins(OpPrint),
		ins(OpStop),
	))
	if !out.Completed() || !equalLines(out.Output, []string{"33"}) {
		t.Fatalf("got %v %q, want completed [33]", out.Err(), out.Output)
	}
	if out.Registers[3] != 11 || out.Registers[NumRegs-1] != 22 {
		t.Errorf("Registers = %v", out.Registers)
	}
}

func TestRegisterOutOfRangeIgnored(t *testing.T) {
	out := Run(program(
		ins(OpLoad, NumRegs), // no-op
		ins(OpLoad, 255),     // no-op
		ins(OpPush, 9),
		ins(OpStore, NumRegs), // pops and discards
		ins(OpStop),
	))
	if !out.Completed() {
		t.Fatalf("run faulted: %v", out.Err())
	}
	if len(out.Stack) != 0 {
		t.Errorf("Stack = %v, want empty", out.Stack)
	}
	for i, r := range out.Registers {
		if r != 0 {
			t.Errorf("r%d = %d, want 0", i, r)
		}
	}
}

func TestInvalidOpcode(t *testing.T) {
	prog := program(ins(OpPush, 1), ins(OpPrint))
	prog = append(prog, 0xff)
	prog = append(prog, program(ins(OpPush, 2), ins(OpPrint), ins(OpStop))...)

	out := Run(prog)
	expectFault(t, out, ErrInvalidOpcode, 6)
	if out.Fault.Op != Opcode(0xff) {
		t.Errorf("Fault.Op = %v, want 0xff", out.Fault.Op)
	}
	if !equalLines(out.Output, []string{"1"}) {
		t.Errorf("Output = %q, want [1]", out.Output)
	}
	if out.Fault.Kind() != "InvalidOpcode" {
		t.Errorf("Kind() = %q, want InvalidOpcode", out.Fault.Kind())
	}
}

func TestTruncatedOperand(t *testing.T) {
	prog := make([]byte, MaxInsts)
	prog[MaxInsts-2] = byte(OpPush)
	expectFault(t, Run(prog), ErrTruncatedProgram, MaxInsts-2)
}

func TestRunOffEnd(t *testing.T) {
	out := Run(nil)
	expectFault(t, out, ErrTruncatedProgram, MaxInsts)
	if out.Steps != MaxInsts+1 {
		t.Errorf("Steps = %d, want %d", out.Steps, MaxInsts+1)
	}
}

func TestProgramTooLarge(t *testing.T) {
	prog := make([]byte, MaxInsts+1)
	prog[0] = byte(OpStop)

	out := Run(prog)
	expectFault(t, out, ErrProgramTooLarge, 0)
	if out.Steps != 0 {
		t.Errorf("Steps = %d, want 0", out.Steps)
	}

	it := NewInterpreter(Options{Permissive: true})
	out = it.Run(context.Background(), prog)
	if !out.Completed() {
		t.Fatalf("permissive run faulted: %v", out.Err())
	}
}

func TestProgramAtCapacity(t *testing.T) {
	prog := make([]byte, MaxInsts)
	prog[MaxInsts-1] = byte(OpStop)
	out := Run(prog)
	if !out.Completed() {
		t.Fatalf("run faulted: %v", out.Err())
	}
	if out.Steps != MaxInsts {
		t.Errorf("Steps = %d, want %d", out.Steps, MaxInsts)
	}
}

func TestOutputWriter(t *testing.T) {
	var buf bytes.Buffer
	it := NewInterpreter(Options{Output: &buf})
	out := it.Run(context.Background(), program(
		ins(OpPush, 5),
		ins(OpPrint),
		ins(OpPush, -6),
		ins(OpPrint),
		ins(OpStop),
	))
	if !out.Completed() {
		t.Fatalf("run faulted: %v", out.Err())
	}
	if got := buf.String(); got != "5\n-6\n" {
		t.Errorf("output = %q, want %q", got, "5\n-6\n")
	}
	if out.Output != nil {
		t.Errorf("Output = %q, want nil when a writer is set", out.Output)
	}
}

type failWriter struct{}

var errDiskFull = errors.New("disk full")

func (failWriter) Write(p []byte) (int, error) { return 0, errDiskFull }

func TestOutputWriterError(t *testing.T) {
	it := NewInterpreter(Options{Output: failWriter{}})
	out := it.Run(context.Background(), program(ins(OpPush, 1), ins(OpPrint), ins(OpStop)))
	expectFault(t, out, ErrOutputFailed, 5)
	if !errors.Is(out.Fault.Cause, errDiskFull) {
		t.Errorf("Cause = %v, want %v", out.Fault.Cause, errDiskFull)
	}
}

func TestCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	it := NewInterpreter(Options{})
	out := it.Run(ctx, program(ins(OpJmp, 0)))
	expectFault(t, out, ErrCanceled, 0)
	if !errors.Is(out.Fault.Cause, context.Canceled) {
		t.Errorf("Cause = %v, want context.Canceled", out.Fault.Cause)
	}
	if out.Steps != 0 {
		t.Errorf("Steps = %d, want 0", out.Steps)
	}
}

func TestTrace(t *testing.T) {
	var seen []Opcode
	var depths []int
	it := NewInterpreter(Options{Trace: func(i Instruction, sp int) {
		seen = append(seen, i.Op)
		depths = append(depths, sp)
	}})
	out := it.Run(context.Background(), program(ins(OpPush, 1), ins(OpPop), ins(OpStop)))
	if !out.Completed() {
		t.Fatalf("run faulted: %v", out.Err())
	}
	wantOps := []Opcode{OpPush, OpPop, OpStop}
	wantSP := []int{0, 1, 0}
	for i := range wantOps {
		if seen[i] != wantOps[i] || depths[i] != wantSP[i] {
			t.Errorf("step %d = (%v, %d), want (%v, %d)", i, seen[i], depths[i], wantOps[i], wantSP[i])
		}
	}
}

func TestConcurrentRuns(t *testing.T) {
	it := NewInterpreter(Options{MaxSteps: 10000})

	var wg sync.WaitGroup
	errs := make(chan string, 32)
	for i := int32(0); i < 32; i++ {
		wg.Add(1)
		go func(n int32) {
			defer wg.Done()
			out := it.Run(context.Background(), program(
				ins(OpPush, n),
				ins(OpPush, n),
				ins(OpMul),
				ins(OpPrint),
				ins(OpStop),
			))
			want := strconv.Itoa(int(n * n))
			if !out.Completed() || !equalLines(out.Output, []string{want}) {
				errs <- want
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for want := range errs {
		t.Errorf("concurrent run did not print %s", want)
	}
}

func TestStepMeter(t *testing.T) {
	m := NewStepMeter(2)
	if err := m.Consume(); err != nil {
		t.Fatalf("Consume() = %v", err)
	}
	if err := m.Consume(); err != nil {
		t.Fatalf("Consume() = %v", err)
	}
	if err := m.Consume(); err != ErrStepLimitExceeded {
		t.Errorf("Consume() = %v, want ErrStepLimitExceeded", err)
	}
	if m.Consumed() != 2 || m.Remaining() != 0 {
		t.Errorf("Consumed() = %d, Remaining() = %d, want 2, 0", m.Consumed(), m.Remaining())
	}

	unlimited := NewStepMeter(0)
	for i := 0; i < 100; i++ {
		if err := unlimited.Consume(); err != nil {
			t.Fatalf("unlimited Consume() = %v", err)
		}
	}
	if unlimited.Consumed() != 100 {
		t.Errorf("Consumed() = %d, want 100", unlimited.Consumed())
	}
}
