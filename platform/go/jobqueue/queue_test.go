package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestEnqueueDeduplicates(t *testing.T) {
	client := startRedis(t)
	q := New(client, Config{Prefix: "test:dedupe:"}, zaptest.NewLogger(t))
	ctx := context.Background()

	ok, err := q.Enqueue(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = q.Enqueue(ctx, "p1")
	require.NoError(t, err)
	require.False(t, ok)

	pending, processing, err := q.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, pending)
	require.EqualValues(t, 0, processing)
}

func TestWorkersProcessAndAcknowledge(t *testing.T) {
	client := startRedis(t)
	q := New(client, Config{Prefix: "test:work:", Workers: 2, PollTimeout: 100 * time.Millisecond, MaxAttempts: 1}, zaptest.NewLogger(t))
	ctx := context.Background()

	var mu sync.Mutex
	seen := map[string]int{}
	done := make(chan struct{}, 3)
	q.Start(ctx, func(ctx context.Context, id string) error {
		mu.Lock()
		seen[id]++
		mu.Unlock()
		done <- struct{}{}
		if id == "bad" {
			return errors.New("boom")
		}
		return nil
	})
	t.Cleanup(q.Stop)

	for _, id := range []string{"a", "b", "bad"} {
		_, err := q.Enqueue(ctx, id)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}

	require.Eventually(t, func() bool {
		pending, processing, err := q.Stats(ctx)
		return err == nil && pending == 0 && processing == 0
	}, 5*time.Second, 50*time.Millisecond)

	mu.Lock()
	require.Equal(t, map[string]int{"a": 1, "b": 1, "bad": 1}, seen)
	mu.Unlock()

	// acknowledged ids can be queued again, dropped ones included
	ok, err := q.Enqueue(ctx, "bad")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStopRequeuesInFlightJob(t *testing.T) {
	client := startRedis(t)
	q := New(client, Config{Prefix: "test:stop:", Workers: 1, PollTimeout: 100 * time.Millisecond}, zaptest.NewLogger(t))
	ctx := context.Background()

	started := make(chan struct{})
	q.Start(ctx, func(ctx context.Context, id string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	_, err := q.Enqueue(ctx, "long")
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("job never started")
	}
	q.Stop()

	pending, processing, err := q.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, pending)
	require.EqualValues(t, 0, processing)

	// the lock survives, so the id is not queued twice
	ok, err := q.Enqueue(ctx, "long")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSweepRecoversStaleJobs(t *testing.T) {
	client := startRedis(t)
	q := New(client, Config{Prefix: "test:sweep:", StaleAfter: time.Minute}, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, client.LPush(ctx, q.processingKey(), "old", "fresh", "unmarked").Err())
	require.NoError(t, client.HSet(ctx, q.startedKey(),
		"old", time.Now().Add(-time.Hour).Unix(),
		"fresh", time.Now().Unix(),
	).Err())

	n, err := q.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	pending, err := client.LRange(ctx, q.pendingKey(), 0, -1).Result()
	require.NoError(t, err)
	require.Equal(t, []string{"old"}, pending)
}

func TestFailedJobIsRetriedAfterDelay(t *testing.T) {
	client := startRedis(t)
	q := New(client, Config{
		Prefix:        "test:retry:",
		Workers:       1,
		PollTimeout:   100 * time.Millisecond,
		SweepInterval: 50 * time.Millisecond,
		RetryDelay:    100 * time.Millisecond,
		MaxAttempts:   3,
	}, zaptest.NewLogger(t))
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	q.Start(ctx, func(ctx context.Context, id string) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("append step: connection reset")
		}
		return nil
	})
	t.Cleanup(q.Stop)

	_, err := q.Enqueue(ctx, "p1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, 10*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		exists, err := client.Exists(ctx, q.lockKey("p1")).Result()
		return err == nil && exists == 0
	}, 5*time.Second, 20*time.Millisecond)
	attempts, err := client.HExists(ctx, q.attemptsKey(), "p1").Result()
	require.NoError(t, err)
	require.False(t, attempts)
}

func TestFailingJobIsDroppedAfterMaxAttempts(t *testing.T) {
	client := startRedis(t)
	q := New(client, Config{
		Prefix:        "test:drop:",
		Workers:       1,
		PollTimeout:   100 * time.Millisecond,
		SweepInterval: 50 * time.Millisecond,
		RetryDelay:    50 * time.Millisecond,
		MaxAttempts:   2,
	}, zaptest.NewLogger(t))
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	q.Start(ctx, func(ctx context.Context, id string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("boom")
	})
	t.Cleanup(q.Stop)

	_, err := q.Enqueue(ctx, "p1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		exists, err := client.Exists(ctx, q.lockKey("p1")).Result()
		return err == nil && exists == 0
	}, 10*time.Second, 20*time.Millisecond)

	// no further runs once dropped
	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	require.Equal(t, 2, calls)
	mu.Unlock()
	delayed, err := client.ZCard(ctx, q.delayedKey()).Result()
	require.NoError(t, err)
	require.Zero(t, delayed)
}

func TestSweepLeavesLongRunningJobAlone(t *testing.T) {
	client := startRedis(t)
	q := New(client, Config{
		Prefix:        "test:heartbeat:",
		Workers:       1,
		PollTimeout:   100 * time.Millisecond,
		StaleAfter:    2 * time.Second,
		Heartbeat:     200 * time.Millisecond,
		SweepInterval: 100 * time.Millisecond,
	}, zaptest.NewLogger(t))
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	finished := make(chan struct{})
	q.Start(ctx, func(ctx context.Context, id string) error {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			// outlive StaleAfter several times over
			time.Sleep(5 * time.Second)
			close(finished)
		}
		return nil
	})
	t.Cleanup(q.Stop)

	_, err := q.Enqueue(ctx, "slow")
	require.NoError(t, err)

	select {
	case <-finished:
	case <-time.After(20 * time.Second):
		t.Fatal("job never finished")
	}
	require.Eventually(t, func() bool {
		pending, processing, err := q.Stats(ctx)
		return err == nil && pending == 0 && processing == 0
	}, 5*time.Second, 50*time.Millisecond)

	mu.Lock()
	require.Equal(t, 1, calls)
	mu.Unlock()
}

func TestPromoteDueMovesOnlyDueJobs(t *testing.T) {
	client := startRedis(t)
	q := New(client, Config{Prefix: "test:promote:"}, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, client.ZAdd(ctx, q.delayedKey(),
		redis.Z{Score: float64(time.Now().Add(-time.Second).UnixMilli()), Member: "due"},
		redis.Z{Score: float64(time.Now().Add(time.Hour).UnixMilli()), Member: "later"},
	).Err())

	n, err := q.PromoteDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	pending, err := client.LRange(ctx, q.pendingKey(), 0, -1).Result()
	require.NoError(t, err)
	require.Equal(t, []string{"due"}, pending)
	left, err := client.ZRange(ctx, q.delayedKey(), 0, -1).Result()
	require.NoError(t, err)
	require.Equal(t, []string{"later"}, left)
}
