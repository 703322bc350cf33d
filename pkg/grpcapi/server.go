package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/fortiblox/bci/internal/types"
	"github.com/fortiblox/bci/pkg/executor"
	"github.com/fortiblox/bci/pkg/programstore"
	"github.com/fortiblox/bci/pkg/runlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// Default configuration values.
const (
	DefaultAddr           = ":8900"
	DefaultMaxMessageSize = 4 * 1024 * 1024
	DefaultKeepaliveTime  = 30 * time.Second
)

// Config holds gRPC server configuration.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string

	// MaxMessageSize bounds request and response messages.
	MaxMessageSize int

	// KeepaliveTime is the server ping interval on idle connections.
	KeepaliveTime time.Duration

	// LogRequests enables per-call logging.
	LogRequests bool
}

// DefaultConfig returns the default gRPC server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           DefaultAddr,
		MaxMessageSize: DefaultMaxMessageSize,
		KeepaliveTime:  DefaultKeepaliveTime,
	}
}

// RunSource looks up journaled runs.
type RunSource interface {
	Get(id uint64) (*runlog.Record, error)
}

// Server serves bci.Runner.
type Server struct {
	config  Config
	exec    *executor.Executor
	journal RunSource

	mu      sync.Mutex
	server  *grpc.Server
	running bool
}

// New creates a gRPC server. journal may be nil, in which case GetRun
// returns Unavailable.
func New(config Config, exec *executor.Executor, journal RunSource) *Server {
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.KeepaliveTime <= 0 {
		config.KeepaliveTime = DefaultKeepaliveTime
	}
	return &Server{
		config:  config,
		exec:    exec,
		journal: journal,
	}
}

// Start listens on Config.Addr and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		ln.Close()
		return fmt.Errorf("server already running")
	}
	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.MaxRecvMsgSize(s.config.MaxMessageSize),
		grpc.MaxSendMsgSize(s.config.MaxMessageSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: s.config.KeepaliveTime}),
	}
	if s.config.LogRequests {
		opts = append(opts, grpc.UnaryInterceptor(logInterceptor))
	}
	srv := grpc.NewServer(opts...)
	RegisterRunnerServer(srv, s)
	s.server = srv
	s.running = true
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	if s.config.LogRequests {
		log.Printf("[gRPC] Server starting on %s", ln.Addr())
	}

	err := srv.Serve(ln)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop stops the server immediately.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.server.Stop()
}

// Run implements RunnerServer.
func (s *Server) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	hasCode := len(req.Code) > 0
	hasID := req.ProgramID != ""
	if hasCode == hasID {
		return nil, status.Error(codes.InvalidArgument, "exactly one of code and programId is required")
	}

	opts := executor.RunOptions{MaxSteps: req.MaxSteps}

	var (
		res *executor.Result
		err error
	)
	if hasID {
		id, perr := types.ProgramIDFromBase58(req.ProgramID)
		if perr != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid programId: %v", perr)
		}
		res, err = s.exec.RunStoredWith(ctx, id, opts)
	} else {
		opts.Save = req.Save
		opts.Name = req.Name
		res, err = s.exec.RunWith(ctx, req.Code, opts)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return toRunResponse(res), nil
}

// GetRun implements RunnerServer.
func (s *Server) GetRun(ctx context.Context, req *GetRunRequest) (*runlog.Record, error) {
	if s.journal == nil {
		return nil, status.Error(codes.Unavailable, "run journal not configured")
	}
	rec, err := s.journal.Get(req.RunID)
	if errors.Is(err, runlog.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "run %d not found", req.RunID)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get run: %v", err)
	}
	return rec, nil
}

// toStatus maps executor errors to gRPC status errors.
func toStatus(err error) error {
	switch {
	case errors.Is(err, executor.ErrProgramNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, executor.ErrNoStore):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, programstore.ErrInvalidProgram):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Errorf(codes.Internal, "run failed: %v", err)
	}
}

func toRunResponse(res *executor.Result) *RunResponse {
	out := res.Outcome
	r := &RunResponse{
		RunID:     res.RunID,
		ProgramID: res.ProgramID.String(),
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
	if out.Fault != nil {
		r.FaultKind = out.Fault.Kind()
		ip := out.Fault.IP
		r.FaultIP = &ip
	}
	return r
}

func logInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	log.Printf("[gRPC] %s code=%s took=%v", info.FullMethod, status.Code(err), time.Since(start))
	return resp, err
}
