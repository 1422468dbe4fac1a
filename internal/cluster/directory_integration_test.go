package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// newTestRedis spins up a disposable Redis container for the roster/pool
// primitives to join, mirroring the teacher's health_tracker_integration_test.go
// container setup. Skipped under -short, since it needs a working Docker
// daemon.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping cluster integration test in -short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestDirectory_RosterVisibleAcrossNodes(t *testing.T) {
	client := newTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	nodeA, err := Join(ctx, Config{Redis: client, Name: "clasp-test"})
	require.NoError(t, err)
	defer nodeA.Close(ctx)

	nodeB, err := Join(ctx, Config{Redis: client, Name: "clasp-test"})
	require.NoError(t, err)
	defer nodeB.Close(ctx)

	require.NoError(t, nodeA.RegisterSession(ctx, RosterEntry{
		SessionID: "sess-1", Name: "console-a", SubscribedPrefixes: []string{"/synth"},
	}))

	require.Eventually(t, func() bool {
		return len(nodeB.Roster()) == 1
	}, 5*time.Second, 50*time.Millisecond, "session registered on node A should be visible from node B")

	require.NoError(t, nodeA.UnregisterSession(ctx, "sess-1"))
	require.Eventually(t, func() bool {
		return len(nodeB.Roster()) == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestDirectory_SchedulerLeaderTicksOnce(t *testing.T) {
	client := newTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dir, err := Join(ctx, Config{Redis: client, Name: "clasp-test-leader", SchedulerTickInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer dir.Close(ctx)

	ticks := make(chan uint64, 8)
	leaderCtx, stop := context.WithTimeout(ctx, 200*time.Millisecond)
	defer stop()
	go func() {
		_ = dir.RunSchedulerLeader(leaderCtx, func(nowUS uint64) { ticks <- nowUS })
	}()

	select {
	case <-ticks:
	case <-time.After(1 * time.Second):
		t.Fatal("expected at least one scheduler tick")
	}
}
