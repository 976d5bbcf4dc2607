package remote

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fortiblox/stackvm/pkg/vm"
)

func TestPoolExecute(t *testing.T) {
	c1, _ := serveBufconn(t, DefaultServerConfig())
	c2, _ := serveBufconn(t, DefaultServerConfig())
	pool := NewPool(c1, c2)
	ctx := testContext(t)

	if pool.TotalCount() != 2 || pool.HealthyCount() != 2 {
		t.Fatalf("counts = %d/%d, want 2/2", pool.HealthyCount(), pool.TotalCount())
	}

	prog := testProgram(push(6), push(7), op(vm.OpMul), op(vm.OpHalt))
	for i := 0; i < 4; i++ {
		resp, err := pool.Execute(ctx, prog)
		if err != nil {
			t.Fatalf("Execute #%d failed: %v", i, err)
		}
		if resp.Result != 42 {
			t.Errorf("Result = %d, want 42", resp.Result)
		}
	}
}

func TestPoolFailover(t *testing.T) {
	live, _ := serveBufconn(t, DefaultServerConfig())
	dead, deadServer := serveBufconn(t, DefaultServerConfig())
	deadServer.Stop()

	var mu sync.Mutex
	changes := map[string]bool{}
	pool := NewPool(dead, live)
	pool.SetOnHealthChange(func(endpoint string, healthy bool) {
		mu.Lock()
		changes[endpoint] = healthy
		mu.Unlock()
	})
	ctx := testContext(t)

	prog := testProgram(push(1), op(vm.OpHalt))
	for i := 0; i < 10; i++ {
		if _, err := pool.Execute(ctx, prog); err != nil {
			t.Fatalf("Execute #%d failed: %v", i, err)
		}
	}

	if got := pool.HealthyCount(); got != 1 {
		t.Errorf("HealthyCount() = %d, want 1", got)
	}
	mu.Lock()
	if healthy, ok := changes["bufnet"]; !ok || healthy {
		t.Errorf("health changes = %v, want bufnet marked unhealthy", changes)
	}
	mu.Unlock()

	for _, st := range pool.EndpointStatus() {
		if st.Healthy && st.FailCount != 0 {
			t.Errorf("healthy endpoint has FailCount %d", st.FailCount)
		}
		if !st.Healthy && st.FailCount < maxFailures {
			t.Errorf("unhealthy endpoint has FailCount %d, want >= %d", st.FailCount, maxFailures)
		}
	}
}

func TestPoolProgramErrorNotRetried(t *testing.T) {
	c1, _ := serveBufconn(t, DefaultServerConfig())
	c2, _ := serveBufconn(t, DefaultServerConfig())
	pool := NewPool(c1, c2)
	ctx := testContext(t)

	_, err := pool.Execute(ctx, testProgram(push(0), push(7), op(vm.OpDiv)))
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() = %v, want *ExecutionError", err)
	}
	if execErr.Kind != "DivideByZero" {
		t.Errorf("Kind = %q, want DivideByZero", execErr.Kind)
	}
	if pool.HealthyCount() != 2 {
		t.Errorf("HealthyCount() = %d, want 2", pool.HealthyCount())
	}
	for _, st := range pool.EndpointStatus() {
		if st.FailCount != 0 {
			t.Errorf("%s FailCount = %d, want 0", st.Endpoint, st.FailCount)
		}
	}
}

func TestPoolProbe(t *testing.T) {
	live, _ := serveBufconn(t, DefaultServerConfig())
	dead, deadServer := serveBufconn(t, DefaultServerConfig())
	deadServer.Stop()

	pool := NewPool(live, dead)
	ctx := testContext(t)

	for i := 0; i < maxFailures; i++ {
		pool.checkAll(ctx)
	}

	statuses := pool.EndpointStatus()
	if !statuses[0].Healthy {
		t.Error("live endpoint marked unhealthy")
	}
	if statuses[1].Healthy {
		t.Error("stopped endpoint still healthy")
	}
	for _, st := range statuses {
		if st.LastCheck.IsZero() {
			t.Errorf("%s was never probed", st.Endpoint)
		}
	}
}

func TestPoolNoHealthyEndpoints(t *testing.T) {
	dead, deadServer := serveBufconn(t, DefaultServerConfig())
	deadServer.Stop()

	pool := NewPool(dead)
	ctx := testContext(t)
	prog := testProgram(push(1), op(vm.OpHalt))

	for i := 0; i < maxFailures; i++ {
		if _, err := pool.Execute(ctx, prog); !errors.Is(err, ErrNoHealthyEndpoints) {
			t.Fatalf("Execute #%d = %v, want ErrNoHealthyEndpoints", i, err)
		}
	}
	if pool.HealthyCount() != 0 {
		t.Errorf("HealthyCount() = %d, want 0", pool.HealthyCount())
	}
	if _, err := pool.Execute(ctx, prog); !errors.Is(err, ErrNoHealthyEndpoints) {
		t.Errorf("Execute() = %v, want ErrNoHealthyEndpoints", err)
	}
}

func TestPoolLifecycle(t *testing.T) {
	client, _ := serveBufconn(t, DefaultServerConfig())
	pool := NewPool(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	pool.Start(ctx)

	if st := pool.EndpointStatus()[0]; st.LastCheck.IsZero() || !st.Healthy {
		t.Errorf("status after Start = %+v, want probed and healthy", st)
	}

	if err := pool.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
	if _, err := pool.Execute(context.Background(), probeProgram); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Execute() after Close = %v, want ErrPoolClosed", err)
	}
}

func TestDialPoolNoEndpoints(t *testing.T) {
	if _, err := DialPool(context.Background(), nil, DefaultClientConfig("")); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("DialPool(nil) = %v, want ErrNoEndpoint", err)
	}
}
