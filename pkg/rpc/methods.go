package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fortiblox/stackvm/internal/types"
	"github.com/fortiblox/stackvm/pkg/executor"
	"github.com/fortiblox/stackvm/pkg/resultstore"
)

// Version constants.
const (
	Version = "0.1.0"

	// DefaultMaxSteps bounds executions on a server that was given no limit.
	DefaultMaxSteps = 10_000_000
)

// parseProgramParams parses [program, {encoding, maxSteps}?].
func (s *Server) parseProgramParams(params json.RawMessage) ([]byte, ProgramConfig, *RPCError) {
	var cfg ProgramConfig

	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, cfg, InvalidParamsError("invalid params")
	}
	if len(args) < 1 {
		return nil, cfg, InvalidParamsError("missing program parameter")
	}

	var encoded string
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, cfg, InvalidParamsError("invalid program: expected string")
	}

	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &cfg); err != nil {
			return nil, cfg, InvalidParamsError("invalid config")
		}
	}

	raw, err := DecodeProgram(encoded, cfg.Encoding)
	if err != nil {
		return nil, cfg, InvalidParamsErrorf("invalid program encoding: %v", err)
	}

	program, err := s.loader.Decode(raw)
	if err != nil {
		return nil, cfg, InvalidParamsErrorf("invalid program: %v", err)
	}

	return program, cfg, nil
}

// stepLimit returns the budget for one request.
func (s *Server) stepLimit(requested uint64) uint64 {
	limit := s.config.MaxSteps
	if requested != 0 && (limit == 0 || requested < limit) {
		limit = requested
	}
	return limit
}

// executionError converts an executor error into an RPC error.
func executionError(err error) *RPCError {
	if kind := executor.ErrorKind(err); kind != "" {
		return ExecutionFailedError(kind, err)
	}
	return InternalServerErrorf("execution error: %v", err)
}

// execute runs a program and returns its result.
func (s *Server) execute(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	program, cfg, rpcErr := s.parseProgramParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	res, err := s.exec.ExecuteWithLimit(ctx, program, s.stepLimit(cfg.MaxSteps))
	if err != nil {
		return nil, executionError(err)
	}

	return ExecuteResult{
		ProgramID: res.ProgramID.String(),
		Result:    res.Value,
		Steps:     res.Steps,
		Cached:    res.Cached,
	}, nil
}

// disassemble returns a program listing, one instruction per entry.
func (s *Server) disassemble(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	program, _, rpcErr := s.parseProgramParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	instrs, err := s.exec.Disassemble(program)
	if err != nil {
		return nil, executionError(err)
	}

	lines := make([]string, len(instrs))
	for i, in := range instrs {
		lines[i] = in.String()
	}
	return lines, nil
}

// getProgramID returns the base58 ProgramID of a program.
func (s *Server) getProgramID(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	program, _, rpcErr := s.parseProgramParams(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	id, err := s.exec.ProgramID(program)
	if err != nil {
		return nil, InternalServerErrorf("digest program: %v", err)
	}
	return id.String(), nil
}

// getResult returns the cached result for a ProgramID.
func (s *Server) getResult(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, InvalidParamsError("invalid params")
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing programId parameter")
	}

	id, err := types.ProgramIDFromBase58(args[0])
	if err != nil {
		return nil, InvalidParamsErrorf("invalid programId: %v", err)
	}

	rec, err := s.exec.Lookup(id)
	switch {
	case errors.Is(err, resultstore.ErrNotFound), errors.Is(err, executor.ErrNoStore):
		return nil, ResultNotFoundError(args[0])
	case err != nil:
		return nil, InternalServerErrorf("lookup result: %v", err)
	}

	return ResultRecord{
		ProgramID:   rec.ProgramID.String(),
		Result:      rec.Result,
		Steps:       rec.Steps,
		ProgramSize: rec.ProgramSize,
		StoredAt:    rec.StoredAt.Unix(),
	}, nil
}

// getHealth returns the server health status.
func (s *Server) getHealth(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

// getVersion returns the server version.
func (s *Server) getVersion(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{
		StackVM: s.config.Version,
	}, nil
}

