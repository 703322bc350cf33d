package vm

import "fmt"

// Load copies program into the instruction buffer starting at offset 0 and
// resets ip and sp. Bytes past the program stay zero and decode as NOP.
//
// In strict mode a program longer than MaxInsts is rejected with
// ErrProgramTooLarge. Otherwise it is silently truncated to MaxInsts bytes.
func (s *State) Load(program []byte, strict bool) error {
	if len(program) > MaxInsts {
		if strict {
			return fmt.Errorf("%w: %d bytes, max %d", ErrProgramTooLarge, len(program), MaxInsts)
		}
		program = program[:MaxInsts]
	}
	n := copy(s.code[:], program)
	clear(s.code[n:])
	s.ip = 0
	s.sp = 0
	return nil
}
