package vm

import "fmt"

// Opcode is the one-byte tag that starts every instruction.
type Opcode byte

// Wire encoding of the instruction set. Zero is NOP so that the unused tail
// of the instruction buffer decodes as a run of no-ops.
const (
	OpNop   Opcode = 0x00 // No operation
	OpPush  Opcode = 0x01 // Push immediate: OpPush <n:i32>
	OpPop   Opcode = 0x02 // Drop top of stack
	OpLoad  Opcode = 0x03 // Push register: OpLoad <reg:u8>
	OpStore Opcode = 0x04 // Pop into register: OpStore <reg:u8>
	OpJmp   Opcode = 0x05 // Jump: OpJmp <target:u16>
	OpJz    Opcode = 0x06 // Pop, jump if zero: OpJz <target:u16>
	OpJnz   Opcode = 0x07 // Pop, jump if non-zero: OpJnz <target:u16>
	OpAdd   Opcode = 0x08 // Pop b, pop a, push a+b
	OpSub   Opcode = 0x09 // Pop b, pop a, push a-b
	OpMul   Opcode = 0x0a // Pop b, pop a, push a*b
	OpDiv   Opcode = 0x0b // Pop b, pop a, push a/b
	OpPrint Opcode = 0x0c // Pop and print
	OpStop  Opcode = 0x0d // Halt

	numOpcodes = 14
)

var opcodeNames = [numOpcodes]string{
	OpNop:   "NOP",
	OpPush:  "PUSH",
	OpPop:   "POP",
	OpLoad:  "LOAD",
	OpStore: "STORE",
	OpJmp:   "JMP",
	OpJz:    "JZ",
	OpJnz:   "JNZ",
	OpAdd:   "ADD",
	OpSub:   "SUB",
	OpMul:   "MUL",
	OpDiv:   "DIV",
	OpPrint: "PRINT",
	OpStop:  "STOP",
}

// operandWidths is the fixed opcode-to-operand-size mapping, in bytes.
var operandWidths = [numOpcodes]int{
	OpPush:  4,
	OpLoad:  1,
	OpStore: 1,
	OpJmp:   2,
	OpJz:    2,
	OpJnz:   2,
}

// Valid reports whether op is part of the instruction set.
func (op Opcode) Valid() bool {
	return op < numOpcodes
}

// OperandWidth returns the number of operand bytes that follow op.
// It returns 0 for opcodes outside the instruction set.
func (op Opcode) OperandWidth() int {
	if !op.Valid() {
		return 0
	}
	return operandWidths[op]
}

// String returns the mnemonic for op.
func (op Opcode) String() string {
	if !op.Valid() {
		return fmt.Sprintf("Opcode(0x%02x)", byte(op))
	}
	return opcodeNames[op]
}

// ParseOpcode looks up an opcode by mnemonic.
func ParseOpcode(name string) (Opcode, bool) {
	for i, n := range opcodeNames {
		if n == name {
			return Opcode(i), true
		}
	}
	return 0, false
}
