package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeEscrow struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEscrow) ExpireScan(now time.Time, grace time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 0
}

func (f *fakeEscrow) ZeroExpiredRefunds(now time.Time) int {
	return 0
}

func (f *fakeEscrow) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHeartbeats struct {
	mu          sync.Mutex
	contracts   []string
	miss        map[string]bool
	terminated  []string
}

func (f *fakeHeartbeats) ActiveContracts(ctx context.Context) ([]string, error) {
	return f.contracts, nil
}

func (f *fakeHeartbeats) EmitHeartbeat(ctx context.Context, contractID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.miss[contractID], nil
}

func (f *fakeHeartbeats) TerminateForMissedHeartbeats(ctx context.Context, contractID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, contractID)
	return nil
}

func TestSchedulerRunsDueEscrowExpiryImmediately(t *testing.T) {
	escrow := &fakeEscrow{}
	s := New(Deps{Escrow: escrow, WorkerCount: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	require.Eventually(t, func() bool { return escrow.Calls() >= 1 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestSchedulerTerminatesAfterThreeMissedHeartbeats(t *testing.T) {
	hb := &fakeHeartbeats{contracts: []string{"c1"}, miss: map[string]bool{"c1": true}}
	s := New(Deps{Heartbeats: hb, WorkerCount: 1})

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < MaxHeartbeatMisses; i++ {
		s.deps.NowFn = func() time.Time { return now }
		s.tick(ctx)
		s.pool.wait()
		now = now.Add(DefaultHeartbeatInterval)
	}

	hb.mu.Lock()
	defer hb.mu.Unlock()
	require.Equal(t, []string{"c1"}, hb.terminated)
}

func TestSchedulerDoesNotDoubleRunWithinInterval(t *testing.T) {
	escrow := &fakeEscrow{}
	s := New(Deps{Escrow: escrow, WorkerCount: 1})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.deps.NowFn = func() time.Time { return now }

	s.tick(context.Background())
	s.pool.wait()
	s.tick(context.Background())
	s.pool.wait()

	require.Equal(t, 1, escrow.Calls())
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	p := newWorkerPool(2)
	var active, maxActive int32
	var mu sync.Mutex
	bump := func(delta int32) {
		mu.Lock()
		active += delta
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
	}
	for i := 0; i < 8; i++ {
		p.submit(func() {
			bump(1)
			time.Sleep(5 * time.Millisecond)
			bump(-1)
		})
	}
	p.wait()
	require.LessOrEqual(t, maxActive, int32(2))
}
