package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/engine"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/retry"
)

type runnerFunc func(ctx context.Context, id uuid.UUID) (service.Provision, error)

func (f runnerFunc) Run(ctx context.Context, id uuid.UUID) (service.Provision, error) {
	return f(ctx, id)
}

func TestHandlerSwallowsExpectedOutcomes(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	h := Handler(runnerFunc(func(ctx context.Context, id uuid.UUID) (service.Provision, error) {
		return service.Provision{}, engine.ErrNotPaid
	}), logger)
	require.NoError(t, h(ctx, uuid.NewString()))

	require.NoError(t, h(ctx, "not-a-uuid"))

	h = Handler(runnerFunc(func(ctx context.Context, id uuid.UUID) (service.Provision, error) {
		return service.Provision{}, errors.New("db down")
	}), logger)
	require.ErrorContains(t, h(ctx, uuid.NewString()), "db down")

	h = Handler(runnerFunc(func(ctx context.Context, id uuid.UUID) (service.Provision, error) {
		return service.Provision{ID: id, Status: service.StatusFailed}, nil
	}), logger)
	require.NoError(t, h(ctx, uuid.NewString()))
}

func TestLocalQueueRunsOncePerProvision(t *testing.T) {
	var mu sync.Mutex
	calls := map[uuid.UUID]int{}
	release := make(chan struct{})

	q := NewLocalQueue(context.Background(), runnerFunc(func(ctx context.Context, id uuid.UUID) (service.Provision, error) {
		<-release
		mu.Lock()
		calls[id]++
		mu.Unlock()
		return service.Provision{ID: id, Status: service.StatusActive}, nil
	}), zaptest.NewLogger(t))

	a, b := uuid.New(), uuid.New()
	require.NoError(t, q.Enqueue(context.Background(), a))
	require.NoError(t, q.Enqueue(context.Background(), a))
	require.NoError(t, q.Enqueue(context.Background(), b))
	close(release)
	q.Wait()

	require.Equal(t, map[uuid.UUID]int{a: 1, b: 1}, calls)
}

func TestLocalQueueRetriesFailedRun(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	q := NewLocalQueue(context.Background(), runnerFunc(func(ctx context.Context, id uuid.UUID) (service.Provision, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return service.Provision{}, errors.New("append step: connection reset")
		}
		return service.Provision{ID: id, Status: service.StatusActive}, nil
	}), zaptest.NewLogger(t), WithRunRetry(retry.NewPolicy(
		retry.WithMaxRetries(2),
		retry.WithInitialDelay(time.Millisecond),
		retry.WithMaxDelay(5*time.Millisecond),
	)))

	require.NoError(t, q.Enqueue(context.Background(), uuid.New()))
	q.Wait()

	require.Equal(t, 2, calls)
}
