package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortiblox/stackvm/pkg/vm"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Pool errors.
var (
	ErrNoHealthyEndpoints = errors.New("no healthy endpoints available")
	ErrPoolClosed         = errors.New("pool is closed")
)

// Pool defaults.
const (
	DefaultHealthCheckPeriod = 30 * time.Second
	DefaultProbeTimeout      = 5 * time.Second

	// maxFailures consecutive transport failures mark an endpoint unhealthy.
	maxFailures = 3
)

// probeProgram is PUSH_CONST 0; HALT. A server that runs it is serving.
var probeProgram = append(vm.AppendInstruction(nil, vm.OpPushConst, 0), byte(vm.OpHalt))

type member struct {
	endpoint  string
	client    *Client
	healthy   atomic.Bool
	lastCheck atomic.Int64 // Unix nano timestamp
	failCount atomic.Int32
}

// EndpointStatus describes one pool member.
type EndpointStatus struct {
	Endpoint  string
	Healthy   bool
	LastCheck time.Time
	FailCount int
}

// Pool spreads executions over several servers round-robin and fails over
// to the next healthy server when one is unreachable. Machine errors are
// never retried: every server would report the same error.
type Pool struct {
	members   []*member
	nextIndex atomic.Uint64

	healthCheckPeriod time.Duration
	probeTimeout      time.Duration
	onHealthChange    func(endpoint string, healthy bool)

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

// NewPool builds a pool over already connected clients. The pool owns the
// clients and closes them on Close.
func NewPool(clients ...*Client) *Pool {
	p := &Pool{
		healthCheckPeriod: DefaultHealthCheckPeriod,
		probeTimeout:      DefaultProbeTimeout,
	}
	for _, c := range clients {
		m := &member{endpoint: c.config.Endpoint, client: c}
		m.healthy.Store(true)
		p.members = append(p.members, m)
	}
	return p
}

// DialPool dials every endpoint with config and returns a pool over them.
func DialPool(ctx context.Context, endpoints []string, config ClientConfig, extra ...grpc.DialOption) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoint
	}

	clients := make([]*Client, 0, len(endpoints))
	for _, endpoint := range endpoints {
		cfg := config
		cfg.Endpoint = endpoint
		client, err := Dial(ctx, cfg, extra...)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("dial %s: %w", endpoint, err)
		}
		clients = append(clients, client)
	}
	return NewPool(clients...), nil
}

// SetHealthCheckPeriod sets the interval between probes.
// Must be called before Start.
func (p *Pool) SetHealthCheckPeriod(period time.Duration) {
	p.healthCheckPeriod = period
}

// SetOnHealthChange sets a callback invoked when an endpoint changes state.
func (p *Pool) SetOnHealthChange(callback func(endpoint string, healthy bool)) {
	p.onHealthChange = callback
}

// Execute runs program with the server's step budget.
func (p *Pool) Execute(ctx context.Context, program []byte) (*ExecuteResponse, error) {
	return p.ExecuteWithLimit(ctx, program, 0)
}

// ExecuteWithLimit runs program on the next healthy endpoint, moving on to
// the others while they report codes.Unavailable.
func (p *Pool) ExecuteWithLimit(ctx context.Context, program []byte, maxSteps uint64) (*ExecuteResponse, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	healthy := p.healthyMembers()
	if len(healthy) == 0 {
		return nil, ErrNoHealthyEndpoints
	}

	start := p.nextIndex.Add(1)
	var lastErr error
	for i := range healthy {
		m := healthy[(start+uint64(i))%uint64(len(healthy))]

		resp, err := m.client.ExecuteWithLimit(ctx, program, maxSteps)
		if err == nil {
			m.failCount.Store(0)
			return resp, nil
		}
		if ctx.Err() != nil || status.Code(err) != codes.Unavailable {
			return nil, err
		}

		p.recordFailure(m)
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrNoHealthyEndpoints, lastErr)
}

func (p *Pool) healthyMembers() []*member {
	var healthy []*member
	for _, m := range p.members {
		if m.healthy.Load() {
			healthy = append(healthy, m)
		}
	}
	return healthy
}

func (p *Pool) recordFailure(m *member) {
	if m.failCount.Add(1) >= maxFailures {
		p.setHealthy(m, false)
	}
}

func (p *Pool) setHealthy(m *member, healthy bool) {
	if m.healthy.Swap(healthy) != healthy && p.onHealthChange != nil {
		p.onHealthChange(m.endpoint, healthy)
	}
}

// HealthyCount returns the number of currently healthy endpoints.
func (p *Pool) HealthyCount() int {
	return len(p.healthyMembers())
}

// TotalCount returns the total number of endpoints in the pool.
func (p *Pool) TotalCount() int {
	return len(p.members)
}

// EndpointStatus returns the state of every endpoint.
func (p *Pool) EndpointStatus() []EndpointStatus {
	out := make([]EndpointStatus, 0, len(p.members))
	for _, m := range p.members {
		st := EndpointStatus{
			Endpoint:  m.endpoint,
			Healthy:   m.healthy.Load(),
			FailCount: int(m.failCount.Load()),
		}
		if ns := m.lastCheck.Load(); ns != 0 {
			st.LastCheck = time.Unix(0, ns)
		}
		out = append(out, st)
	}
	return out
}

// Start probes every endpoint once and then every health check period
// until ctx is canceled or the pool is closed.
func (p *Pool) Start(ctx context.Context) {
	if p.started.Swap(true) {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.checkAll(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.healthCheckPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.checkAll(ctx)
			}
		}
	}()
}

// checkAll probes every endpoint concurrently. Unhealthy endpoints rejoin
// the pool as soon as a probe succeeds.
func (p *Pool) checkAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, m := range p.members {
		wg.Add(1)
		go func(m *member) {
			defer wg.Done()
			p.probe(ctx, m)
		}(m)
	}
	wg.Wait()
}

func (p *Pool) probe(ctx context.Context, m *member) {
	ctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	_, err := m.client.ExecuteWithLimit(ctx, probeProgram, 2)
	m.lastCheck.Store(time.Now().UnixNano())

	if err != nil {
		log.Printf("[GRPC] Probe of %s failed: %v", m.endpoint, err)
		p.recordFailure(m)
		return
	}
	m.failCount.Store(0)
	p.setHealthy(m, true)
}

// Close stops the probe loop and closes every client.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	var errs []error
	for _, m := range p.members {
		if err := m.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", m.endpoint, err))
		}
	}
	return errors.Join(errs...)
}
