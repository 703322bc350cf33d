package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fortiblox/bci/internal/types"
	"github.com/fortiblox/bci/pkg/executor"
	"github.com/fortiblox/bci/pkg/programstore"
	"github.com/fortiblox/bci/pkg/runlog"
	"github.com/fortiblox/bci/pkg/vm"
)

// Version information.
const (
	CoreVersion = "bci-1.0.0"
)

// Listing and batch limits.
const (
	defaultRunsLimit = 100
	maxRunsLimit     = 1000
	maxBatchPrograms = 64
)

// Service Methods

// getHealth returns the service health status.
func (s *Server) getHealth(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrServiceUnhealthy
	}
	return "ok", nil
}

// getVersion returns the service version.
func (s *Server) getVersion(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{Core: CoreVersion}, nil
}

// getStats returns store and executor counters.
func (s *Server) getStats(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	var stats Stats
	if s.programs != nil {
		ps, err := s.programs.GetStats()
		if err != nil {
			return nil, InternalServerErrorf("failed to get program stats: %v", err)
		}
		stats.ProgramCount = ps.ProgramCount
		stats.StoredBytes = ps.StoredBytes
	}
	if s.journal != nil {
		stats.RunCount = s.journal.Count()
	}
	es := s.exec.Stats()
	stats.Runs = es.Runs
	stats.Completed = es.Completed
	stats.Faulted = es.Faulted
	stats.Steps = es.Steps
	return stats, nil
}

// Execution Methods

// runProgram runs bytecode supplied in the request.
func (s *Server) runProgram(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	// Parse params: [program, config?]
	args, rpcErr := parseArgs(params, 1, "program")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var config RunConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	code, rpcErr := decodeProgramArg(args[0], config.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}

	res, err := s.exec.RunWith(ctx, code, executor.RunOptions{
		MaxSteps: config.MaxSteps,
		Save:     config.Save,
		Name:     config.Name,
	})
	if err != nil {
		return nil, executorError(err)
	}
	return toRunResult(res), nil
}

// runStoredProgram runs a stored program by ID.
func (s *Server) runStoredProgram(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "programId")
	if rpcErr != nil {
		return nil, rpcErr
	}

	id, rpcErr := parseProgramID(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	var config RunConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	res, err := s.exec.RunStoredWith(ctx, id, executor.RunOptions{MaxSteps: config.MaxSteps})
	if errors.Is(err, executor.ErrProgramNotFound) {
		return nil, ProgramNotFoundError(id.String())
	}
	if err != nil {
		return nil, executorError(err)
	}
	return toRunResult(res), nil
}

// runBatch runs several programs concurrently. Results keep request order.
func (s *Server) runBatch(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "programs")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var encoded []json.RawMessage
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, InvalidParamsError("programs must be an array")
	}
	if len(encoded) == 0 || len(encoded) > maxBatchPrograms {
		return nil, InvalidParamsErrorf("batch must hold 1 to %d programs", maxBatchPrograms)
	}

	var config ProgramConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	programs := make([][]byte, len(encoded))
	for i, raw := range encoded {
		code, rpcErr := decodeProgramArg(raw, config.Encoding)
		if rpcErr != nil {
			return nil, rpcErr
		}
		programs[i] = code
	}

	results, err := s.exec.RunBatch(ctx, programs)
	if err != nil {
		return nil, executorError(err)
	}

	out := make([]RunResult, len(results))
	for i, res := range results {
		out[i] = toRunResult(res)
	}
	return out, nil
}

// disassemble returns a listing of the supplied bytecode.
func (s *Server) disassemble(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1, "program")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var config ProgramConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	code, rpcErr := decodeProgramArg(args[0], config.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}

	lines := vm.Disassemble(code)
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}

// Program Methods

// putProgram stores bytecode and returns its ID.
func (s *Server) putProgram(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if s.programs == nil {
		return nil, ErrStorageUnavailable
	}

	args, rpcErr := parseArgs(params, 1, "program")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var config PutProgramConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	code, rpcErr := decodeProgramArg(args[0], config.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}

	id, err := s.programs.Put(code, config.Name)
	if errors.Is(err, programstore.ErrInvalidProgram) {
		return nil, InvalidParamsError(err.Error())
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to store program: %v", err)
	}
	return PutProgramResult{ProgramID: id}, nil
}

// getProgram returns a stored program.
func (s *Server) getProgram(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if s.programs == nil {
		return nil, ErrStorageUnavailable
	}

	args, rpcErr := parseArgs(params, 1, "programId")
	if rpcErr != nil {
		return nil, rpcErr
	}

	id, rpcErr := parseProgramID(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	var config ProgramConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}
	encoding, err := ParseEncoding(config.Encoding)
	if err != nil {
		return nil, InvalidParamsError(err.Error())
	}

	prog, err := s.programs.Get(id)
	if errors.Is(err, programstore.ErrNotFound) {
		return nil, ProgramNotFoundError(id.String())
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get program: %v", err)
	}

	data, err := EncodeProgram(prog.Code, encoding)
	if err != nil {
		return nil, InternalServerErrorf("failed to encode program: %v", err)
	}

	return ProgramInfo{
		ProgramID:  prog.ID,
		Name:       prog.Name,
		Size:       prog.Size,
		StoredSize: prog.StoredSize,
		CreatedAt:  prog.CreatedAt.Unix(),
		Data:       data,
	}, nil
}

// getPrograms lists stored programs.
func (s *Server) getPrograms(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if s.programs == nil {
		return nil, ErrStorageUnavailable
	}

	metas, err := s.programs.List()
	if err != nil {
		return nil, InternalServerErrorf("failed to list programs: %v", err)
	}

	out := make([]ProgramSummary, 0, len(metas))
	for _, m := range metas {
		out = append(out, ProgramSummary{
			ProgramID: m.ID,
			Name:      m.Name,
			Size:      m.Size,
			CreatedAt: m.CreatedAt.Unix(),
		})
	}
	return out, nil
}

// deleteProgram removes a stored program. Its journaled runs are kept.
func (s *Server) deleteProgram(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if s.programs == nil {
		return nil, ErrStorageUnavailable
	}

	args, rpcErr := parseArgs(params, 1, "programId")
	if rpcErr != nil {
		return nil, rpcErr
	}

	id, rpcErr := parseProgramID(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	err := s.programs.Delete(id)
	if errors.Is(err, programstore.ErrNotFound) {
		return nil, ProgramNotFoundError(id.String())
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to delete program: %v", err)
	}
	return true, nil
}

// Journal Methods

// getRun returns a journaled run.
func (s *Server) getRun(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if s.journal == nil {
		return nil, ErrStorageUnavailable
	}

	args, rpcErr := parseArgs(params, 1, "runId")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var runID uint64
	if err := json.Unmarshal(args[0], &runID); err != nil {
		return nil, InvalidParamsError("invalid runId")
	}

	rec, err := s.journal.Get(runID)
	if errors.Is(err, runlog.ErrNotFound) {
		return nil, RunNotFoundError(runID)
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get run: %v", err)
	}
	return rec, nil
}

// getProgramRuns returns the runs of a program, newest first.
func (s *Server) getProgramRuns(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if s.journal == nil {
		return nil, ErrStorageUnavailable
	}

	args, rpcErr := parseArgs(params, 1, "programId")
	if rpcErr != nil {
		return nil, rpcErr
	}

	id, rpcErr := parseProgramID(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	config := ListConfig{Limit: defaultRunsLimit}
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}
	if config.Limit <= 0 {
		config.Limit = defaultRunsLimit
	}
	if config.Limit > maxRunsLimit {
		config.Limit = maxRunsLimit
	}

	recs, err := s.journal.ListByProgram(id, config.Limit)
	if err != nil {
		return nil, InternalServerErrorf("failed to list runs: %v", err)
	}
	if recs == nil {
		recs = []*runlog.Record{}
	}
	return recs, nil
}

// Helper functions

// parseArgs unmarshals positional params and checks that at least min are
// present. name labels the first required parameter in errors.
func parseArgs(params json.RawMessage, min int, name string) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, InvalidParamsError("invalid params")
		}
	}
	if len(args) < min {
		return nil, InvalidParamsErrorf("missing %s parameter", name)
	}
	return args, nil
}

// decodeProgramArg decodes an encoded bytecode parameter.
func decodeProgramArg(raw json.RawMessage, enc Encoding) ([]byte, *RPCError) {
	encoding, err := ParseEncoding(enc)
	if err != nil {
		return nil, InvalidParamsError(err.Error())
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, InvalidParamsError("invalid program")
	}

	code, err := DecodeProgram(encoded, encoding)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid program encoding: %v", err)
	}
	return code, nil
}

// parseProgramID parses a base58 program ID parameter.
func parseProgramID(raw json.RawMessage) (types.ProgramID, *RPCError) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.ProgramID{}, InvalidParamsError("invalid programId")
	}
	id, err := types.ProgramIDFromBase58(s)
	if err != nil {
		return types.ProgramID{}, InvalidParamsError("invalid programId format")
	}
	return id, nil
}

// executorError maps executor failures to RPC errors.
func executorError(err error) *RPCError {
	switch {
	case errors.Is(err, executor.ErrNoStore):
		return ErrStorageUnavailable
	case errors.Is(err, programstore.ErrInvalidProgram):
		return InvalidParamsError(err.Error())
	default:
		return InternalServerErrorf("run failed: %v", err)
	}
}

// toRunResult converts an executor result to its RPC form.
func toRunResult(res *executor.Result) RunResult {
	out := res.Outcome
	r := RunResult{
		RunID:     res.RunID,
		ProgramID: res.ProgramID,
		Status:    out.Status.String(),
		Steps:     out.Steps,
		Output:    out.Output,
		Stack:     out.Stack,
		Registers: out.Registers[:],
		Duration:  res.Duration.Nanoseconds(),
	}
	if r.Output == nil {
		r.Output = []string{}
	}
	if f := out.Fault; f != nil {
		r.Fault = &FaultInfo{
			Kind:    f.Kind(),
			IP:      f.IP,
			Opcode:  f.Op.String(),
			Message: f.Error(),
		}
	}
	return r
}
