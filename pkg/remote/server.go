package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/fortiblox/stackvm/pkg/executor"
	"github.com/fortiblox/stackvm/pkg/loader"
	"github.com/fortiblox/stackvm/pkg/vm"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	serviceName       = "stackvm.Executor"
	executeMethodPath = "/" + serviceName + "/Execute"

	// errorKindKey is the trailer naming the machine error behind a failure.
	errorKindKey = "stackvm-error-kind"
)

// Default configuration values.
const (
	DefaultAddr           = ":9090"
	DefaultMaxSteps       = 10_000_000
	DefaultMaxProgramSize = 1024 * 1024
	DefaultMaxMessageSize = 4 * 1024 * 1024
)

// ServerConfig holds gRPC server configuration.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string

	// MaxSteps bounds every execution. Requests may lower it, never raise it.
	MaxSteps uint64

	// MaxProgramSize bounds a decompressed program.
	MaxProgramSize int64

	// MaxMessageSize bounds received messages.
	MaxMessageSize int

	// LogRequests enables request logging.
	LogRequests bool
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           DefaultAddr,
		MaxSteps:       DefaultMaxSteps,
		MaxProgramSize: DefaultMaxProgramSize,
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

// ExecutorServer is the server API of the stackvm.Executor service.
type ExecutorServer interface {
	Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error)
}

var executorServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ExecutorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
			Handler:    executeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stackvm.proto",
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ExecuteRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExecutorServer).Execute(ctx, req)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: executeMethodPath,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ExecutorServer).Execute(ctx, req.(*ExecuteRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// RegisterExecutorServer registers srv on s.
func RegisterExecutorServer(s *grpc.Server, srv ExecutorServer) {
	s.RegisterService(&executorServiceDesc, srv)
}

// Server serves the executor over gRPC.
type Server struct {
	config ServerConfig
	exec   *executor.Executor
	loader *loader.Loader

	mu   sync.Mutex
	grpc *grpc.Server
}

// NewServer creates a gRPC server around exec.
func NewServer(config ServerConfig, exec *executor.Executor) *Server {
	return &Server{
		config: config,
		exec:   exec,
		loader: loader.New(loader.Config{
			MaxSize:         config.MaxProgramSize,
			AllowCompressed: true,
		}),
	}
}

// ServerOptions returns the grpc options the service expects.
func (s *Server) ServerOptions() []grpc.ServerOption {
	opts := []grpc.ServerOption{
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
	}
	if s.config.MaxMessageSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(s.config.MaxMessageSize))
	}
	if s.config.LogRequests {
		opts = append(opts, grpc.UnaryInterceptor(logInterceptor))
	}
	return opts
}

// grpcServer returns the underlying grpc.Server, creating it on first use.
func (s *Server) grpcServer() *grpc.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpc == nil {
		s.grpc = grpc.NewServer(s.ServerOptions()...)
		RegisterExecutorServer(s.grpc, s)
	}
	return s.grpc
}

// Serve serves the service on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	gs := s.grpcServer()
	log.Printf("[GRPC] Server listening on %s", lis.Addr())
	return gs.Serve(lis)
}

// Start listens on the configured address and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}

	gs := s.grpcServer()
	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()

	return s.Serve(lis)
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.grpcServer().GracefulStop()
}

// Execute implements ExecutorServer.
func (s *Server) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	program, err := s.loader.Decode(req.Program)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid program: %v", err)
	}

	limit := s.config.MaxSteps
	if req.MaxSteps != 0 && (limit == 0 || req.MaxSteps < limit) {
		limit = req.MaxSteps
	}

	res, err := s.exec.ExecuteWithLimit(ctx, program, limit)
	if err != nil {
		return nil, executionStatus(ctx, err)
	}

	return &ExecuteResponse{
		ProgramID: res.ProgramID.String(),
		Result:    res.Value,
		Steps:     res.Steps,
		Cached:    res.Cached,
	}, nil
}

// executionStatus converts an executor error into a gRPC status and names the
// machine error in the response trailer.
func executionStatus(ctx context.Context, err error) error {
	kind := executor.ErrorKind(err)
	if kind == "" {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return status.FromContextError(err).Err()
		}
		return status.Errorf(codes.Internal, "execute: %v", err)
	}

	grpc.SetTrailer(ctx, metadata.Pairs(errorKindKey, kind))

	code := codes.InvalidArgument
	if errors.Is(err, vm.ErrStepLimitExceeded) {
		code = codes.ResourceExhausted
	}
	return status.Error(code, err.Error())
}

func logInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	log.Printf("[GRPC] %s code=%s took=%s", info.FullMethod, status.Code(err), time.Since(start))
	return resp, err
}
