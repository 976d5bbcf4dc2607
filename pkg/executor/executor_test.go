package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fortiblox/stackvm/internal/types"
	"github.com/fortiblox/stackvm/pkg/resultstore"
	"github.com/fortiblox/stackvm/pkg/vm"
)

func assemble(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func push(v int32) []byte {
	return vm.AppendInstruction(nil, vm.OpPushConst, v)
}

func op(o vm.Opcode) []byte {
	return []byte{byte(o)}
}

func TestExecute(t *testing.T) {
	exec, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	prog := assemble(push(3), push(5), op(vm.OpSub), op(vm.OpHalt))
	res, err := exec.Execute(context.Background(), prog)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Value != 2 {
		t.Errorf("Value = %d, want 2", res.Value)
	}
	if res.Steps != 4 {
		t.Errorf("Steps = %d, want 4", res.Steps)
	}
	if res.Cached {
		t.Error("Cached = true without a store")
	}
	want, _ := types.NewProgramID(prog, types.HashBlake3)
	if res.ProgramID != want {
		t.Errorf("ProgramID = %s, want %s", res.ProgramID, want)
	}
}

func TestExecuteCaching(t *testing.T) {
	store := resultstore.NewMemoryStore()
	exec, err := New(DefaultConfig(), store)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	prog := assemble(push(6), push(7), op(vm.OpMul), op(vm.OpHalt))

	first, err := exec.Execute(ctx, prog)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if first.Cached {
		t.Error("first run reported Cached")
	}

	second, err := exec.Execute(ctx, prog)
	if err != nil {
		t.Fatalf("second Execute failed: %v", err)
	}
	if !second.Cached {
		t.Error("second run not served from cache")
	}
	if second.Value != 42 || second.Steps != first.Steps || second.ProgramID != first.ProgramID {
		t.Errorf("cached result = %+v, want %+v", second, first)
	}

	rec, err := exec.Lookup(first.ProgramID)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if rec.Result != 42 || rec.ProgramSize != len(prog) {
		t.Errorf("record = %+v", rec)
	}
}

func TestExecuteFailuresNotCached(t *testing.T) {
	store := resultstore.NewMemoryStore()
	exec, _ := New(DefaultConfig(), store)

	prog := assemble(push(0), push(7), op(vm.OpDiv), op(vm.OpHalt))
	if _, err := exec.Execute(context.Background(), prog); !errors.Is(err, vm.ErrDivideByZero) {
		t.Fatalf("Execute = %v, want ErrDivideByZero", err)
	}
	if n, _ := store.Count(); n != 0 {
		t.Errorf("store has %d records after a failed run, want 0", n)
	}

	id, _ := exec.ProgramID(prog)
	if _, err := exec.Lookup(id); !errors.Is(err, resultstore.ErrNotFound) {
		t.Errorf("Lookup = %v, want ErrNotFound", err)
	}
}

func TestExecuteStepLimit(t *testing.T) {
	// 0: PUSH 0; 5: JUMP -> 0, loops forever.
	loop := assemble(push(0), op(vm.OpJump))

	cfg := DefaultConfig()
	cfg.MaxSteps = 1000
	exec, _ := New(cfg, nil)

	_, err := exec.Execute(context.Background(), loop)
	if !errors.Is(err, vm.ErrStepLimitExceeded) {
		t.Fatalf("Execute = %v, want ErrStepLimitExceeded", err)
	}

	_, err = exec.ExecuteWithLimit(context.Background(), loop, 10)
	if !errors.Is(err, vm.ErrStepLimitExceeded) {
		t.Fatalf("ExecuteWithLimit = %v, want ErrStepLimitExceeded", err)
	}

	// A per-call limit cannot raise the configured one.
	prog := assemble(push(1), push(1), op(vm.OpAdd), op(vm.OpHalt))
	if _, err := exec.ExecuteWithLimit(context.Background(), prog, 1<<40); err != nil {
		t.Errorf("ExecuteWithLimit failed: %v", err)
	}
	if _, err := exec.ExecuteWithLimit(context.Background(), prog, 2); !errors.Is(err, vm.ErrStepLimitExceeded) {
		t.Errorf("ExecuteWithLimit(2) = %v, want ErrStepLimitExceeded", err)
	}
}

func TestExecuteCanceled(t *testing.T) {
	exec, _ := New(DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := exec.Execute(ctx, []byte{byte(vm.OpHalt)}); !errors.Is(err, context.Canceled) {
		t.Errorf("Execute = %v, want context.Canceled", err)
	}
}

func TestExecuteSHA3(t *testing.T) {
	exec, err := New(Config{Hash: types.HashSHA3256}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	prog := assemble(push(1), op(vm.OpHalt))
	res, err := exec.Execute(context.Background(), prog)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	want, _ := types.NewProgramID(prog, types.HashSHA3256)
	if res.ProgramID != want {
		t.Errorf("ProgramID = %s, want sha3-256 digest %s", res.ProgramID, want)
	}

	if _, err := New(Config{Hash: "crc32"}, nil); !errors.Is(err, types.ErrUnknownHash) {
		t.Errorf("New(crc32) = %v, want ErrUnknownHash", err)
	}
}

func TestLookupWithoutStore(t *testing.T) {
	exec, _ := New(DefaultConfig(), nil)
	if _, err := exec.Lookup(types.ProgramID{}); !errors.Is(err, ErrNoStore) {
		t.Errorf("Lookup = %v, want ErrNoStore", err)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		prog []byte
		want string
	}{
		{op(vm.OpAdd), KindStackUnderflow},
		{assemble(push(1), vm.AppendInstruction(nil, vm.OpLoadAtDepth, 5)), KindAddressOutOfRange},
		{[]byte{byte(vm.OpPushConst), 0, 0}, KindMalformedProgram},
		{assemble(push(0), push(1), op(vm.OpMod)), KindDivideByZero},
		{[]byte{0xff}, KindUnknownOpcode},
		{op(vm.OpHalt), KindEmptyResult},
	}

	exec, _ := New(DefaultConfig(), nil)
	for _, tt := range tests {
		_, err := exec.Execute(context.Background(), tt.prog)
		if err == nil {
			t.Errorf("program % x: expected error", tt.prog)
			continue
		}
		if got := ErrorKind(err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", err, got, tt.want)
		}
		if !IsProgramError(err) {
			t.Errorf("IsProgramError(%v) = false", err)
		}
	}

	if got := ErrorKind(fmt.Errorf("wrapped: %w", vm.ErrStepLimitExceeded)); got != KindStepLimitExceeded {
		t.Errorf("ErrorKind(step limit) = %q", got)
	}
	if got := ErrorKind(errors.New("io")); got != "" {
		t.Errorf("ErrorKind(io) = %q, want empty", got)
	}
}

func TestDisassemble(t *testing.T) {
	exec, _ := New(DefaultConfig(), nil)
	instrs, err := exec.Disassemble(assemble(push(9), op(vm.OpHalt)))
	if err != nil {
		t.Fatalf("Disassemble failed: %v", err)
	}
	if len(instrs) != 2 || instrs[0].String() != "0000 PUSH_CONST 9" || instrs[1].String() != "0005 HALT" {
		t.Errorf("Disassemble = %v", instrs)
	}
}

func TestStats(t *testing.T) {
	exec, _ := New(DefaultConfig(), resultstore.NewMemoryStore())
	ctx := context.Background()

	prog := assemble(push(2), push(3), op(vm.OpAdd), op(vm.OpHalt))
	exec.Execute(ctx, prog)
	exec.Execute(ctx, prog)
	exec.Execute(ctx, op(vm.OpAdd))
	exec.Execute(ctx, []byte{0xff})

	st := exec.Stats()
	if st.Executions != 4 {
		t.Errorf("Executions = %d, want 4", st.Executions)
	}
	if st.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", st.CacheHits)
	}
	// 4 steps for the first run, 1 for each failing run.
	if st.StepsExecuted != 6 {
		t.Errorf("StepsExecuted = %d, want 6", st.StepsExecuted)
	}
	if st.Failures != 2 || st.FailuresByKind[KindStackUnderflow] != 1 || st.FailuresByKind[KindUnknownOpcode] != 1 {
		t.Errorf("failures = %d %v", st.Failures, st.FailuresByKind)
	}
	if st.CachedResults != 1 {
		t.Errorf("CachedResults = %d, want 1", st.CachedResults)
	}
}
