package vm

// execute applies one decoded instruction to the state. ip has already been
// advanced past ins. It reports halt=true for STOP.
func (s *State) execute(ins Instruction, emit func(int32) error) (halt bool, err error) {
	switch ins.Op {
	case OpNop:

	case OpPush:
		return false, s.push(ins.Operand)

	case OpPop:
		_, err = s.pop()
		return false, err

	case OpLoad:
		return false, s.load(int(ins.Operand))

	case OpStore:
		return false, s.store(int(ins.Operand))

	case OpJmp:
		s.jump(int(ins.Operand))

	case OpJz:
		v, err := s.pop()
		if err != nil {
			return false, err
		}
		if v == 0 {
			s.jump(int(ins.Operand))
		}

	case OpJnz:
		v, err := s.pop()
		if err != nil {
			return false, err
		}
		if v != 0 {
			s.jump(int(ins.Operand))
		}

	case OpAdd:
		a, b, err := s.pop2()
		if err != nil {
			return false, err
		}
		return false, s.push(a + b)

	case OpSub:
		a, b, err := s.pop2()
		if err != nil {
			return false, err
		}
		return false, s.push(a - b)

	case OpMul:
		a, b, err := s.pop2()
		if err != nil {
			return false, err
		}
		return false, s.push(a * b)

	case OpDiv:
		a, b, err := s.pop2()
		if err != nil {
			return false, err
		}
		if b == 0 {
			return false, ErrDivideByZero
		}
		return false, s.push(a / b)

	case OpPrint:
		v, err := s.pop()
		if err != nil {
			return false, err
		}
		if err := emit(v); err != nil {
			return false, &Fault{Err: ErrOutputFailed, Cause: err}
		}

	case OpStop:
		return true, nil

	default:
		return false, ErrInvalidOpcode
	}
	return false, nil
}
