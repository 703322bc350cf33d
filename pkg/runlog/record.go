package runlog

import (
	"fmt"
	"time"

	"github.com/fortiblox/bci/internal/types"
	"github.com/fortiblox/bci/pkg/vm"
	"github.com/fxamacker/cbor/v2"
)

// Record is one journaled run.
type Record struct {
	// ID is assigned by Append and increases monotonically.
	ID uint64 `cbor:"1,keyasint" json:"id"`

	// ProgramID is the content hash of the program that ran.
	ProgramID types.ProgramID `cbor:"2,keyasint" json:"programId"`

	// Status is "completed" or "faulted".
	Status string `cbor:"3,keyasint" json:"status"`

	// Fault is the fault kind, e.g. "DivideByZero". Empty for completed runs.
	Fault string `cbor:"4,keyasint,omitempty" json:"fault,omitempty"`

	// FaultIP is the offset of the faulting opcode. Nil for completed runs.
	FaultIP *int `cbor:"5,keyasint,omitempty" json:"faultIp,omitempty"`

	Steps uint64 `cbor:"6,keyasint" json:"steps"`

	// Output holds the printed lines when the journal keeps output.
	Output []string `cbor:"7,keyasint,omitempty" json:"output,omitempty"`

	// OutputDigest is the SHA3-256 of the printed output.
	OutputDigest types.Digest `cbor:"8,keyasint" json:"outputDigest"`

	StartedAt time.Time     `cbor:"9,keyasint" json:"startedAt"`
	Duration  time.Duration `cbor:"10,keyasint" json:"durationNs"`
}

// NewRecord builds a journal record from a finished run. keepOutput controls
// whether the printed lines are stored alongside their digest.
func NewRecord(id types.ProgramID, out *vm.Outcome, started time.Time, keepOutput bool) *Record {
	r := &Record{
		ProgramID:    id,
		Status:       out.Status.String(),
		Steps:        out.Steps,
		OutputDigest: types.OutputDigest(out.Output),
		StartedAt:    started.UTC(),
		Duration:     time.Since(started),
	}
	if out.Fault != nil {
		r.Fault = out.Fault.Kind()
		ip := out.Fault.IP
		r.FaultIP = &ip
	}
	if keepOutput {
		r.Output = out.Output
	}
	return r
}

// Completed reports whether the run reached STOP.
func (r *Record) Completed() bool {
	return r.Status == vm.StatusCompleted.String()
}

var encMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("runlog: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// MarshalRecord serializes a Record to canonical CBOR.
func MarshalRecord(r *Record) ([]byte, error) {
	return encMode.Marshal(r)
}

// UnmarshalRecord deserializes a Record from CBOR.
func UnmarshalRecord(data []byte) (*Record, error) {
	var r Record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("runlog: unmarshal record: %w", err)
	}
	return &r, nil
}
