package vm

// decode reads the instruction at ip and advances ip past it. On error ip is
// left on the faulting opcode.
func (s *State) decode() (Instruction, error) {
	ins, err := DecodeAt(s.code[:], s.ip)
	if err != nil {
		return ins, err
	}
	s.ip += ins.Size()
	return ins, nil
}
