package grpcapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/fortiblox/bci/pkg/runlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// ErrNoEndpoint is returned by Dial without a target.
var ErrNoEndpoint = errors.New("grpc endpoint is required")

// Client calls bci.Runner.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a bci.Runner server. Extra options are applied after the
// defaults, e.g. a context dialer in tests.
func Dial(target string, extra ...grpc.DialOption) (*Client, error) {
	if target == "" {
		return nil, ErrNoEndpoint
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                DefaultKeepaliveTime,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(jsonCodec{}),
			grpc.MaxCallRecvMsgSize(DefaultMaxMessageSize),
			grpc.MaxCallSendMsgSize(DefaultMaxMessageSize),
		),
	}
	opts = append(opts, extra...)

	//nolint:staticcheck // grpc.NewClient is not available in the pinned release
	conn, err := grpc.Dial(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gRPC: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Run runs a program on the server.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	out := new(RunResponse)
	if err := c.conn.Invoke(ctx, MethodRun, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRun fetches a journaled run.
func (c *Client) GetRun(ctx context.Context, id uint64) (*runlog.Record, error) {
	out := new(runlog.Record)
	if err := c.conn.Invoke(ctx, MethodGetRun, &GetRunRequest{RunID: id}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
