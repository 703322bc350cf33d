// Package rpc provides JSON-RPC 2.0 types for the bytecode interpreter API.
package rpc

import (
	"encoding/json"

	"github.com/fortiblox/bci/internal/types"
	"github.com/fortiblox/bci/pkg/runlog"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Encoding types for bytecode.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
)

// ProgramConfig configures methods that accept or return bytecode.
type ProgramConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// RunConfig configures runProgram and runStoredProgram requests.
type RunConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
	MaxSteps uint64   `json:"maxSteps,omitempty"`

	// Save stores the program before running it.
	Save bool   `json:"save,omitempty"`
	Name string `json:"name,omitempty"`
}

// PutProgramConfig configures putProgram requests.
type PutProgramConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
	Name     string   `json:"name,omitempty"`
}

// ListConfig configures paged list requests.
type ListConfig struct {
	Limit int `json:"limit,omitempty"`
}

// FaultInfo describes a run fault.
type FaultInfo struct {
	Kind    string `json:"kind"`
	IP      int    `json:"ip"`
	Opcode  string `json:"opcode"`
	Message string `json:"message"`
}

// RunResult is returned by runProgram and runStoredProgram.
type RunResult struct {
	RunID     uint64          `json:"runId,omitempty"`
	ProgramID types.ProgramID `json:"programId"`
	Status    string          `json:"status"`
	Fault     *FaultInfo      `json:"fault,omitempty"`
	Steps     uint64          `json:"steps"`
	Output    []string        `json:"output"`
	Stack     []int32         `json:"stack"`
	Registers []int32         `json:"registers"`
	Duration  int64           `json:"durationNs"`
}

// PutProgramResult is returned by putProgram.
type PutProgramResult struct {
	ProgramID types.ProgramID `json:"programId"`
}

// ProgramInfo is returned by getProgram.
type ProgramInfo struct {
	ProgramID  types.ProgramID `json:"programId"`
	Name       string          `json:"name,omitempty"`
	Size       int             `json:"size"`
	StoredSize int             `json:"storedSize"`
	CreatedAt  int64           `json:"createdAt"`

	// Data is [encoded, encoding].
	Data []string `json:"data"`
}

// ProgramSummary is one entry returned by getPrograms.
type ProgramSummary struct {
	ProgramID types.ProgramID `json:"programId"`
	Name      string          `json:"name,omitempty"`
	Size      int             `json:"size"`
	CreatedAt int64           `json:"createdAt"`
}

// RunRecord is a journaled run as returned by getRun and getProgramRuns.
type RunRecord = runlog.Record

// VersionInfo represents service version information.
type VersionInfo struct {
	Core string `json:"bci-core"`
}

// Stats is returned by getStats.
type Stats struct {
	ProgramCount uint64 `json:"programCount"`
	StoredBytes  uint64 `json:"storedBytes"`
	RunCount     uint64 `json:"runCount"`
	Runs         uint64 `json:"runsSinceStart"`
	Completed    uint64 `json:"completedSinceStart"`
	Faulted      uint64 `json:"faultedSinceStart"`
	Steps        uint64 `json:"stepsSinceStart"`
}
