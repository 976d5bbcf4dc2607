// Package executor runs stackvm programs on behalf of the CLI and servers.
//
// It layers program identity and result caching on top of pkg/vm: every
// program is digested into a ProgramID, a cached result is returned when one
// exists, and otherwise a fresh machine runs the program to completion.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortiblox/stackvm/internal/types"
	"github.com/fortiblox/stackvm/pkg/resultstore"
	"github.com/fortiblox/stackvm/pkg/vm"
)

// ErrNoStore is returned by Lookup when the executor has no result store.
var ErrNoStore = errors.New("no result store configured")

// Config configures an Executor.
type Config struct {
	// MaxSteps bounds each run. Zero means no bound.
	MaxSteps uint64

	// Hash selects the ProgramID digest.
	Hash types.HashAlgorithm

	// Trace is passed to every machine.
	Trace func(vm.TraceEvent)
}

// DefaultConfig returns an unbounded configuration using the default digest.
func DefaultConfig() Config {
	return Config{
		Hash: types.DefaultHash,
	}
}

// Result is the outcome of a successful execution.
type Result struct {
	ProgramID types.ProgramID
	Value     int32
	Steps     uint64
	Cached    bool
}

// Executor runs programs. It is safe for concurrent use; each call gets its
// own machine.
type Executor struct {
	config Config
	store  resultstore.Store

	executions atomic.Uint64
	cacheHits  atomic.Uint64
	steps      atomic.Uint64

	failMu   sync.Mutex
	failures map[string]uint64
}

// Stats summarizes the executor's activity since creation.
type Stats struct {
	Executions     uint64            `json:"executions"`
	CacheHits      uint64            `json:"cacheHits"`
	StepsExecuted  uint64            `json:"stepsExecuted"`
	Failures       uint64            `json:"failures"`
	FailuresByKind map[string]uint64 `json:"failuresByKind"`
	CachedResults  uint64            `json:"cachedResults"`
}

// New creates an executor. store may be nil to disable caching.
func New(config Config, store resultstore.Store) (*Executor, error) {
	hash, err := types.ParseHashAlgorithm(string(config.Hash))
	if err != nil {
		return nil, err
	}
	config.Hash = hash
	return &Executor{
		config:   config,
		store:    store,
		failures: make(map[string]uint64),
	}, nil
}

// Config returns the executor configuration.
func (e *Executor) Config() Config {
	return e.config
}

// Execute runs program and returns its result.
//
// A program whose result is already cached is not run again. Failed runs are
// never cached. ctx is checked before the run starts; a run in progress is
// bounded only by MaxSteps.
func (e *Executor) Execute(ctx context.Context, program []byte) (*Result, error) {
	return e.execute(ctx, program, e.config.MaxSteps)
}

// ExecuteWithLimit is Execute with a per-call step budget. A zero limit uses
// the configured one; a limit larger than the configured one is capped.
func (e *Executor) ExecuteWithLimit(ctx context.Context, program []byte, maxSteps uint64) (*Result, error) {
	limit := e.config.MaxSteps
	if maxSteps != 0 && (limit == 0 || maxSteps < limit) {
		limit = maxSteps
	}
	return e.execute(ctx, program, limit)
}

func (e *Executor) execute(ctx context.Context, program []byte, maxSteps uint64) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id, err := types.NewProgramID(program, e.config.Hash)
	if err != nil {
		return nil, err
	}
	e.executions.Add(1)

	if e.store != nil {
		rec, err := e.store.Get(id)
		switch {
		case err == nil:
			e.cacheHits.Add(1)
			return &Result{
				ProgramID: id,
				Value:     rec.Result,
				Steps:     rec.Steps,
				Cached:    true,
			}, nil
		case !errors.Is(err, resultstore.ErrNotFound):
			log.Printf("[STORE] Lookup %s failed: %v", id, err)
		}
	}

	m := vm.New(program, vm.Opts{
		MaxSteps: maxSteps,
		Trace:    e.config.Trace,
	})
	err = m.Run()
	e.steps.Add(m.Steps())
	if err != nil {
		e.recordFailure(err)
		return nil, err
	}
	value, err := m.Result()
	if err != nil {
		e.recordFailure(err)
		return nil, err
	}

	res := &Result{
		ProgramID: id,
		Value:     value,
		Steps:     m.Steps(),
	}

	if e.store != nil {
		rec := &resultstore.Record{
			ProgramID:   id,
			Result:      value,
			Steps:       res.Steps,
			ProgramSize: len(program),
			StoredAt:    time.Now().UTC(),
		}
		if err := e.store.Put(rec); err != nil {
			log.Printf("[STORE] Put %s failed: %v", id, err)
		}
	}

	return res, nil
}

func (e *Executor) recordFailure(err error) {
	kind := ErrorKind(err)
	if kind == "" {
		kind = "Other"
	}
	e.failMu.Lock()
	e.failures[kind]++
	e.failMu.Unlock()
}

// Stats returns a snapshot of the executor's counters.
func (e *Executor) Stats() Stats {
	st := Stats{
		Executions:     e.executions.Load(),
		CacheHits:      e.cacheHits.Load(),
		StepsExecuted:  e.steps.Load(),
		FailuresByKind: make(map[string]uint64),
	}

	e.failMu.Lock()
	for kind, n := range e.failures {
		st.FailuresByKind[kind] = n
		st.Failures += n
	}
	e.failMu.Unlock()

	if e.store != nil {
		if n, err := e.store.Count(); err == nil {
			st.CachedResults = n
		}
	}
	return st
}

// Lookup returns the cached record for id.
func (e *Executor) Lookup(id types.ProgramID) (*resultstore.Record, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	rec, err := e.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", id, err)
	}
	return rec, nil
}

// Disassemble decodes program into instructions.
func (e *Executor) Disassemble(program []byte) ([]vm.Instruction, error) {
	return vm.Disassemble(program)
}

// ProgramID digests program with the configured algorithm.
func (e *Executor) ProgramID(program []byte) (types.ProgramID, error) {
	return types.NewProgramID(program, e.config.Hash)
}

// Error kinds reported by ErrorKind.
const (
	KindStackUnderflow    = "StackUnderflow"
	KindAddressOutOfRange = "AddressOutOfRange"
	KindMalformedProgram  = "MalformedProgram"
	KindDivideByZero      = "DivideByZero"
	KindUnknownOpcode     = "UnknownOpcode"
	KindEmptyResult       = "EmptyResult"
	KindStepLimitExceeded = "StepLimitExceeded"
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{vm.ErrStackUnderflow, KindStackUnderflow},
	{vm.ErrAddressOutOfRange, KindAddressOutOfRange},
	{vm.ErrMalformedProgram, KindMalformedProgram},
	{vm.ErrDivideByZero, KindDivideByZero},
	{vm.ErrUnknownOpcode, KindUnknownOpcode},
	{vm.ErrEmptyResult, KindEmptyResult},
	{vm.ErrStepLimitExceeded, KindStepLimitExceeded},
}

// ErrorKind names the machine error behind err, or returns "" when err is not
// a machine error.
func ErrorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}

// IsProgramError reports whether err was raised by the program itself.
func IsProgramError(err error) bool {
	return ErrorKind(err) != ""
}
