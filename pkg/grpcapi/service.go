// Package grpcapi exposes the executor as the gRPC service bci.Runner.
//
// Messages are plain Go structs carried by a JSON codec, and the service
// descriptor is written by hand instead of generated from a .proto file.
package grpcapi

import (
	"context"

	"github.com/fortiblox/bci/pkg/runlog"
	"google.golang.org/grpc"
)

// Full method names.
const (
	ServiceName   = "bci.Runner"
	MethodRun     = "/bci.Runner/Run"
	MethodGetRun  = "/bci.Runner/GetRun"
	serviceSource = "bci.proto"
)

// RunRequest asks the server to run a program. Exactly one of Code and
// ProgramID must be set.
type RunRequest struct {
	// Code is raw bytecode (base64 in JSON).
	Code []byte `json:"code,omitempty"`

	// ProgramID names a stored program in base58.
	ProgramID string `json:"programId,omitempty"`

	// MaxSteps lowers the server's step limit for this run.
	MaxSteps uint64 `json:"maxSteps,omitempty"`

	// Save stores Code before running it.
	Save bool   `json:"save,omitempty"`
	Name string `json:"name,omitempty"`
}

// RunResponse reports the outcome of a run.
type RunResponse struct {
	RunID     uint64   `json:"runId,omitempty"`
	ProgramID string   `json:"programId"`
	Status    string   `json:"status"`
	FaultKind string   `json:"faultKind,omitempty"`
	FaultIP   *int     `json:"faultIp,omitempty"`
	Steps     uint64   `json:"steps"`
	Output    []string `json:"output"`
	Stack     []int32  `json:"stack"`
	Registers []int32  `json:"registers"`
	Duration  int64    `json:"durationNs"`
}

// GetRunRequest looks up a journaled run.
type GetRunRequest struct {
	RunID uint64 `json:"runId"`
}

// RunnerServer is the server API for bci.Runner.
type RunnerServer interface {
	Run(ctx context.Context, req *RunRequest) (*RunResponse, error)
	GetRun(ctx context.Context, req *GetRunRequest) (*runlog.Record, error)
}

// RegisterRunnerServer registers srv on s.
func RegisterRunnerServer(s grpc.ServiceRegistrar, srv RunnerServer) {
	s.RegisterService(&RunnerServiceDesc, srv)
}

// RunnerServiceDesc is the grpc.ServiceDesc for bci.Runner.
var RunnerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RunnerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
		{MethodName: "GetRun", Handler: getRunHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: serviceSource,
}

func runHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RunRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunnerServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodRun}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RunnerServer).Run(ctx, req.(*RunRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getRunHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetRunRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunnerServer).GetRun(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetRun}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RunnerServer).GetRun(ctx, req.(*GetRunRequest))
	}
	return interceptor(ctx, in, info, handler)
}
