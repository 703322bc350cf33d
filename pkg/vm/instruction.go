package vm

import (
	"encoding/binary"
	"fmt"
)

// Instruction is a decoded opcode and its operand.
type Instruction struct {
	Op      Opcode
	Operand int32 // Zero for opcodes without an operand
	Offset  int   // Offset of the opcode byte in the stream
}

// Size returns the encoded length of the instruction in bytes.
func (i Instruction) Size() int {
	return 1 + i.Op.OperandWidth()
}

// String renders the instruction in assembler form, e.g. "PUSH 5".
func (i Instruction) String() string {
	if i.Op.OperandWidth() == 0 {
		return i.Op.String()
	}
	return fmt.Sprintf("%s %d", i.Op, i.Operand)
}

// DecodeAt decodes the instruction starting at off in code.
//
// It returns ErrInvalidOpcode if the byte at off is not an opcode and
// ErrTruncatedProgram if off or the operand run past the end of code.
func DecodeAt(code []byte, off int) (Instruction, error) {
	if off < 0 || off >= len(code) {
		return Instruction{Offset: off}, ErrTruncatedProgram
	}
	op := Opcode(code[off])
	ins := Instruction{Op: op, Offset: off}
	if !op.Valid() {
		return ins, ErrInvalidOpcode
	}

	width := op.OperandWidth()
	start := off + 1
	if start+width > len(code) {
		return ins, ErrTruncatedProgram
	}

	switch width {
	case 1:
		ins.Operand = int32(code[start])
	case 2:
		ins.Operand = int32(binary.LittleEndian.Uint16(code[start:]))
	case 4:
		ins.Operand = int32(binary.LittleEndian.Uint32(code[start:]))
	}
	return ins, nil
}

// DecodeProgram decodes an entire instruction stream. Unlike the dispatch
// loop it does not stop at STOP, so it can be used to list data that
// follows the last reachable instruction.
func DecodeProgram(code []byte) ([]Instruction, error) {
	var out []Instruction
	for off := 0; off < len(code); {
		ins, err := DecodeAt(code, off)
		if err != nil {
			return out, fmt.Errorf("%w at offset %d", err, off)
		}
		out = append(out, ins)
		off += ins.Size()
	}
	return out, nil
}

// Encode appends the encoding of op and operand to dst. The operand is
// truncated to the opcode's width and ignored for opcodes without one.
func Encode(dst []byte, op Opcode, operand int32) []byte {
	dst = append(dst, byte(op))
	switch op.OperandWidth() {
	case 1:
		dst = append(dst, byte(operand))
	case 2:
		dst = binary.LittleEndian.AppendUint16(dst, uint16(operand))
	case 4:
		dst = binary.LittleEndian.AppendUint32(dst, uint32(operand))
	}
	return dst
}

// EncodeProgram encodes a sequence of instructions. Offsets are ignored.
func EncodeProgram(prog []Instruction) []byte {
	var out []byte
	for _, ins := range prog {
		out = Encode(out, ins.Op, ins.Operand)
	}
	return out
}
