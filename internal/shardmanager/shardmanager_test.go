package shardmanager_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRockettek/stratum/internal/gatewayclient"
	"github.com/TheRockettek/stratum/internal/retry"
	"github.com/TheRockettek/stratum/internal/shardmanager"
)

type fakeShard struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeShard) Connect(ctx context.Context) error { return nil }

func (f *fakeShard) Next(ctx context.Context) (gatewayclient.Frame, error) {
	<-ctx.Done()
	return gatewayclient.Frame{}, gatewayclient.ErrStreamClosed
}

func (f *fakeShard) Close(code websocket.StatusCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeBus struct {
	mu        sync.Mutex
	published []string
}

func (f *fakeBus) PublishRaw(ctx context.Context, subject string, data []byte, budget retry.Budget) error {
	f.record(subject)
	return nil
}

func (f *fakeBus) PublishJSON(ctx context.Context, subject string, v interface{}, budget retry.Budget) error {
	f.record(subject)
	return nil
}

func (f *fakeBus) Topic(suffix string) string {
	return "stratum." + suffix
}

func (f *fakeBus) record(subject string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, subject)
}

func newTestManager(maxConcurrency uint32) (*shardmanager.Manager, context.Context, context.CancelFunc) {
	shardmanager.InterShardPace = time.Millisecond
	shardmanager.StaggerUnit = time.Millisecond
	shardmanager.RestartCoolOff = time.Millisecond

	cfg := shardmanager.Config{
		ShardIDStart:     0,
		ShardIDEnd:       2,
		TotalShards:      3,
		ShardsPerReplica: 3,
		MaxConcurrency:   maxConcurrency,
		WorkerID:         "stratum-group-0",
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := shardmanager.New(cfg, &fakeBus{}, func(shardID, totalShards uint32) shardmanager.ShardClient {
		return &fakeShard{}
	}, zerolog.Nop())

	go m.Run(ctx)
	return m, ctx, cancel
}

func TestStartShards_BringsUpAssignedRange(t *testing.T) {
	m, ctx, cancel := newTestManager(3)
	defer cancel()

	require.NoError(t, m.StartShards(ctx))

	seen := map[uint32]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case ev := <-m.Events():
			if ev.Phase == "running" {
				seen[ev.ShardID] = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for all shards to reach running")
		}
	}

	assert.True(t, seen[0])
	assert.True(t, seen[1])
	assert.True(t, seen[2])
}

func TestUpdateShards_ShrinksToNewRange(t *testing.T) {
	m, ctx, cancel := newTestManager(3)
	defer cancel()

	require.NoError(t, m.StartShards(ctx))

	drainUntilRunning(t, m, 3)

	require.NoError(t, m.UpdateShards(ctx, 1))

	// With ShardsPerReplica=3 and new total=1, group 0 covers [0,0];
	// only shard 0 remains desired. Shards 1 and 2 are cancelled, so
	// their sessions report "finished" once their pump returns, while
	// shard 0 keeps running. The session map is not read directly.
	stopped := waitForPhase(t, m, "finished", 2)
	assert.True(t, stopped[1])
	assert.True(t, stopped[2])
	assert.False(t, stopped[0])

	// A repeated update to the same total is a no-op.
	assert.NoError(t, m.UpdateShards(ctx, 1))
}

func waitForPhase(t *testing.T, m *shardmanager.Manager, phase string, n int) map[uint32]bool {
	t.Helper()
	seen := map[uint32]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < n {
		select {
		case ev := <-m.Events():
			if ev.Phase == phase {
				seen[ev.ShardID] = true
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %d shards to reach %s", n, phase)
		}
	}
	return seen
}

func drainUntilRunning(t *testing.T, m *shardmanager.Manager, n int) {
	t.Helper()
	seen := map[uint32]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < n {
		select {
		case ev := <-m.Events():
			if ev.Phase == "running" {
				seen[ev.ShardID] = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for shards to reach running")
		}
	}
}

func TestShutdown_CancelsEverySession(t *testing.T) {
	m, ctx, cancel := newTestManager(3)
	defer cancel()

	require.NoError(t, m.StartShards(ctx))
	drainUntilRunning(t, m, 3)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	m.Shutdown(shutdownCtx)

	stopped := waitForPhase(t, m, "finished", 3)
	assert.True(t, stopped[0])
	assert.True(t, stopped[1])
	assert.True(t, stopped[2])
}
