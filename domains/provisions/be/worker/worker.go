package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/engine"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/jobqueue"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/retry"
)

// Runner is the part of the engine the worker needs.
type Runner interface {
	Run(ctx context.Context, provisionID uuid.UUID) (service.Provision, error)
}

// RedisQueue hands provisions to the shared Redis job queue.
type RedisQueue struct {
	queue *jobqueue.Queue
}

func NewRedisQueue(queue *jobqueue.Queue) *RedisQueue {
	if queue == nil {
		panic("redis queue requires jobqueue")
	}
	return &RedisQueue{queue: queue}
}

// Enqueue is a no-op for a provision that is already queued or running.
func (q *RedisQueue) Enqueue(ctx context.Context, provisionID uuid.UUID) error {
	_, err := q.queue.Enqueue(ctx, provisionID.String())
	return err
}

// Handler adapts a Runner to jobqueue.Handler.
func Handler(runner Runner, logger *zap.Logger) jobqueue.Handler {
	return func(ctx context.Context, id string) error {
		provisionID, err := uuid.Parse(id)
		if err != nil {
			logger.Error("dropping job with invalid provision id", zap.String("job_id", id))
			return nil
		}
		return run(ctx, runner, provisionID, logger)
	}
}

func run(ctx context.Context, runner Runner, id uuid.UUID, logger *zap.Logger) error {
	p, err := runner.Run(ctx, id)
	switch {
	case errors.Is(err, engine.ErrNotPaid):
		logger.Warn("provision not paid; skipping run", zap.String("provision_id", id.String()))
		return nil
	case errors.Is(err, service.ErrNotFound):
		logger.Warn("provision vanished before run", zap.String("provision_id", id.String()))
		return nil
	case err != nil:
		return fmt.Errorf("run provision %s: %w", id, err)
	}
	logger.Info("provision run finished",
		zap.String("provision_id", id.String()),
		zap.String("status", string(p.Status)))
	return nil
}

// LocalQueue runs provisions on goroutines inside the current process. Used
// when no Redis is configured, mainly for local development and tests.
type LocalQueue struct {
	ctx    context.Context
	runner Runner
	logger *zap.Logger
	policy retry.Policy

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
	wg      sync.WaitGroup
}

// LocalOption tweaks a LocalQueue.
type LocalOption func(*LocalQueue)

// WithRunRetry sets how failed runs (store errors, not step failures) are retried.
func WithRunRetry(p retry.Policy) LocalOption {
	return func(q *LocalQueue) { q.policy = p }
}

func NewLocalQueue(ctx context.Context, runner Runner, logger *zap.Logger, opts ...LocalOption) *LocalQueue {
	if runner == nil {
		panic("local queue requires runner")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &LocalQueue{
		ctx:     ctx,
		runner:  runner,
		logger:  logger,
		policy:  retry.NewPolicy(retry.WithInitialDelay(30*time.Second), retry.WithMaxDelay(5*time.Minute)),
		running: map[uuid.UUID]struct{}{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *LocalQueue) Enqueue(_ context.Context, provisionID uuid.UUID) error {
	q.mu.Lock()
	if _, ok := q.running[provisionID]; ok {
		q.mu.Unlock()
		return nil
	}
	q.running[provisionID] = struct{}{}
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer func() {
			q.mu.Lock()
			delete(q.running, provisionID)
			q.mu.Unlock()
		}()
		err := retry.Do(q.ctx, q.policy, func(ctx context.Context) error {
			return run(ctx, q.runner, provisionID, q.logger)
		}, func(attempt int, err error, wait time.Duration) {
			q.logger.Warn("provision run failed; retrying",
				zap.String("provision_id", provisionID.String()),
				zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		})
		if err != nil {
			q.logger.Error("provision run failed", zap.String("provision_id", provisionID.String()), zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every queued run has returned.
func (q *LocalQueue) Wait() {
	q.wg.Wait()
}

var (
	_ service.Enqueuer = (*RedisQueue)(nil)
	_ service.Enqueuer = (*LocalQueue)(nil)
	_ Runner           = (*engine.Engine)(nil)
)
