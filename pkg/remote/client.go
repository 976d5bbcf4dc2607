package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Client configuration defaults.
const (
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 5 * time.Second
	DefaultDialTimeout      = 10 * time.Second
)

// ErrNoEndpoint is returned by Dial when no endpoint is configured.
var ErrNoEndpoint = errors.New("remote endpoint is required")

// ClientConfig holds gRPC client configuration.
type ClientConfig struct {
	// Endpoint is the server address (host:port).
	Endpoint string

	// UseTLS enables TLS for the connection.
	UseTLS bool

	// KeepaliveTime is the interval between keepalive pings.
	KeepaliveTime time.Duration

	// KeepaliveTimeout is how long to wait for a ping ack.
	KeepaliveTimeout time.Duration

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// MaxMessageSize bounds sent and received messages.
	MaxMessageSize int
}

// DefaultClientConfig returns the default client configuration for endpoint.
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoint:         endpoint,
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
		DialTimeout:      DefaultDialTimeout,
		MaxMessageSize:   DefaultMaxMessageSize,
	}
}

// ExecutionError is a machine error reported by the server.
type ExecutionError struct {
	// Kind names the machine error, as executor.ErrorKind does.
	Kind string

	// Err is the underlying gRPC status error.
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, status.Convert(e.Err).Message())
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Client calls a remote stackvm.Executor service.
type Client struct {
	config ClientConfig
	conn   *grpc.ClientConn
}

// Dial connects to the server. Extra options are appended to the defaults.
func Dial(ctx context.Context, config ClientConfig, extra ...grpc.DialOption) (*Client, error) {
	if config.Endpoint == "" {
		return nil, ErrNoEndpoint
	}

	kacp := keepalive.ClientParameters{
		Time:                config.KeepaliveTime,
		Timeout:             config.KeepaliveTimeout,
		PermitWithoutStream: true,
	}

	callOpts := []grpc.CallOption{grpc.CallContentSubtype(codecName)}
	if config.MaxMessageSize > 0 {
		callOpts = append(callOpts,
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(config.MaxMessageSize),
		)
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(kacp),
		grpc.WithDefaultCallOptions(callOpts...),
	}

	if config.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{
				MinVersion: tls.VersionTLS12,
			}),
		))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, extra...)

	if config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.DialTimeout)
		defer cancel()
	}

	//nolint:staticcheck // DialContext is the API available in this grpc version
	conn, err := grpc.DialContext(ctx, config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gRPC: %w", err)
	}

	return &Client{
		config: config,
		conn:   conn,
	}, nil
}

// Execute runs program on the server with the server's step budget.
func (c *Client) Execute(ctx context.Context, program []byte) (*ExecuteResponse, error) {
	return c.ExecuteWithLimit(ctx, program, 0)
}

// ExecuteWithLimit runs program with a step budget no larger than the
// server's. Machine errors are returned as *ExecutionError.
func (c *Client) ExecuteWithLimit(ctx context.Context, program []byte, maxSteps uint64) (*ExecuteResponse, error) {
	req := &ExecuteRequest{
		Program:  program,
		MaxSteps: maxSteps,
	}
	resp := new(ExecuteResponse)

	var trailer metadata.MD
	err := c.conn.Invoke(ctx, executeMethodPath, req, resp, grpc.Trailer(&trailer))
	if err != nil {
		if kinds := trailer.Get(errorKindKey); len(kinds) > 0 {
			return nil, &ExecutionError{Kind: kinds[0], Err: err}
		}
		return nil, err
	}
	return resp, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
