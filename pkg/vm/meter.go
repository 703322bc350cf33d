package vm

// StepMeter bounds the number of dispatch iterations of a run. The
// instruction set has no termination guarantee, so hosts that run untrusted
// programs should always set a limit.
type StepMeter struct {
	remaining uint64
	consumed  uint64
	limit     uint64
}

// NewStepMeter creates a meter allowing limit steps. A zero limit disables
// metering.
func NewStepMeter(limit uint64) *StepMeter {
	return &StepMeter{
		remaining: limit,
		limit:     limit,
	}
}

// Consume charges one step.
func (m *StepMeter) Consume() error {
	if m.limit != 0 {
		if m.remaining == 0 {
			return ErrStepLimitExceeded
		}
		m.remaining--
	}
	m.consumed++
	return nil
}

// Consumed returns the number of steps charged so far.
func (m *StepMeter) Consumed() uint64 {
	return m.consumed
}

// Remaining returns the number of steps left. It is 0 when metering is
// disabled.
func (m *StepMeter) Remaining() uint64 {
	return m.remaining
}
