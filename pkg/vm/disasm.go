package vm

import (
	"errors"
	"fmt"
	"strings"
)

// Disassemble returns one listing line per instruction in code, in the form
// "0005: PUSH 42". Bytes that do not decode are listed as ".byte" lines and
// the listing continues after them.
func Disassemble(code []byte) []string {
	var lines []string
	for off := 0; off < len(code); {
		ins, err := DecodeAt(code, off)
		switch {
		case err == nil:
			lines = append(lines, fmt.Sprintf("%04x: %s", off, ins))
			off += ins.Size()
		case errors.Is(err, ErrTruncatedProgram):
			lines = append(lines, fmt.Sprintf("%04x: .byte %s ; truncated %s", off, hexBytes(code[off:]), ins.Op))
			off = len(code)
		default:
			lines = append(lines, fmt.Sprintf("%04x: .byte 0x%02x ; invalid opcode", off, code[off]))
			off++
		}
	}
	return lines
}

// DisassembleString joins Disassemble output into a single listing.
func DisassembleString(code []byte) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("; %d bytes\n", len(code)))
	for _, line := range Disassemble(code) {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func hexBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("0x%02x", c)
	}
	return strings.Join(parts, " ")
}
