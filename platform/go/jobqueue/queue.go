// Package jobqueue is a Redis-backed at-least-once work queue keyed by job id.
// A job id can be queued at most once until its run is acknowledged. Failed
// runs are retried after a growing delay up to MaxAttempts.
package jobqueue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/metrics"
)

const (
	DefaultPrefix        = "gtm:jobs:"
	DefaultWorkers       = 3
	DefaultPollTimeout   = time.Second
	DefaultStaleAfter    = 30 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultLockTTL       = 24 * time.Hour
	DefaultMaxAttempts   = 5
	DefaultRetryDelay    = 30 * time.Second
)

// Handler runs one job. ctx is cancelled when the queue stops.
type Handler func(ctx context.Context, id string) error

type Config struct {
	Prefix        string
	Workers       int
	PollTimeout   time.Duration
	StaleAfter    time.Duration
	SweepInterval time.Duration
	LockTTL       time.Duration
	// MaxAttempts bounds how often a failing job runs before it is dropped.
	MaxAttempts int
	// RetryDelay is multiplied by the attempt count before a failed job is due again.
	RetryDelay time.Duration
	// Heartbeat refreshes a running job's start mark so Sweep leaves it
	// alone. Defaults to a third of StaleAfter.
	Heartbeat time.Duration
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = c.StaleAfter / 3
	}
	return c
}

// Queue moves ids from a pending list into a processing list while they run.
type Queue struct {
	client redis.UniversalClient
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(client redis.UniversalClient, cfg Config, logger *zap.Logger) *Queue {
	if client == nil {
		panic("jobqueue requires redis client")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, cfg: cfg.withDefaults(), logger: logger.Named("jobqueue")}
}

func (q *Queue) pendingKey() string    { return q.cfg.Prefix + "pending" }
func (q *Queue) processingKey() string { return q.cfg.Prefix + "processing" }
func (q *Queue) startedKey() string    { return q.cfg.Prefix + "started" }
func (q *Queue) delayedKey() string    { return q.cfg.Prefix + "delayed" }
func (q *Queue) attemptsKey() string   { return q.cfg.Prefix + "attempts" }
func (q *Queue) lockKey(id string) string {
	return q.cfg.Prefix + "lock:" + id
}

// Enqueue queues id unless it is already pending or running. It reports
// whether the id was newly queued.
func (q *Queue) Enqueue(ctx context.Context, id string) (bool, error) {
	ok, err := q.client.SetNX(ctx, q.lockKey(id), time.Now().UTC().Unix(), q.cfg.LockTTL).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		metrics.RecordJob("deduplicated")
		q.logger.Debug("job already queued", zap.String("job_id", id))
		return false, nil
	}
	if err := q.client.LPush(ctx, q.pendingKey(), id).Err(); err != nil {
		_ = q.client.Del(ctx, q.lockKey(id)).Err()
		return false, err
	}
	metrics.RecordJob("enqueued")
	q.logger.Info("job enqueued", zap.String("job_id", id))
	return true, nil
}

// Start launches the workers and the stale sweeper. It is a no-op when running.
func (q *Queue) Start(ctx context.Context, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true

	q.logger.Info("starting workers", zap.Int("workers", q.cfg.Workers))
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(runCtx, i, handler)
	}
	q.wg.Add(1)
	go q.sweeper(runCtx)
}

// Stop cancels in-flight jobs, requeues them and waits for workers to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("all workers stopped")
}

func (q *Queue) worker(ctx context.Context, n int, handler Handler) {
	defer q.wg.Done()
	log := q.logger.With(zap.Int("worker", n))

	for {
		if ctx.Err() != nil {
			return
		}

		id, err := q.client.BRPopLPush(ctx, q.pendingKey(), q.processingKey(), q.cfg.PollTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Error("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		q.process(ctx, log, id, handler)
	}
}

func (q *Queue) process(ctx context.Context, log *zap.Logger, id string, handler Handler) {
	// background context for bookkeeping so a stop still records the outcome
	bg := context.WithoutCancel(ctx)

	if err := q.client.HSet(bg, q.startedKey(), id, time.Now().UTC().Unix()).Err(); err != nil {
		log.Warn("record job start failed", zap.String("job_id", id), zap.Error(err))
	}
	metrics.RecordJob("started")
	log.Info("job started", zap.String("job_id", id))

	stopBeat := q.heartbeat(bg, log, id)
	err := handler(ctx, id)
	stopBeat()
	if ctx.Err() != nil {
		// stopped mid-run; hand the job back with its lock intact
		q.requeue(bg, id)
		metrics.RecordJob("requeued")
		log.Info("job requeued on shutdown", zap.String("job_id", id))
		return
	}
	if err != nil {
		metrics.RecordJob("failed")
		q.retry(bg, log, id, err)
		return
	}
	metrics.RecordJob("completed")
	log.Info("job completed", zap.String("job_id", id))
	q.ack(bg, id)
}

// heartbeat keeps the job's start mark fresh until the returned func is called.
func (q *Queue) heartbeat(ctx context.Context, log *zap.Logger, id string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(q.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := q.client.HSet(ctx, q.startedKey(), id, time.Now().UTC().Unix()).Err(); err != nil && ctx.Err() == nil {
					log.Warn("job heartbeat failed", zap.String("job_id", id), zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// retry schedules a failed job again, keeping its lock, or drops it once
// MaxAttempts is reached.
func (q *Queue) retry(ctx context.Context, log *zap.Logger, id string, cause error) {
	attempts, err := q.client.HIncrBy(ctx, q.attemptsKey(), id, 1).Result()
	if err != nil {
		log.Error("count job attempt failed", zap.String("job_id", id), zap.Error(err))
		attempts = int64(q.cfg.MaxAttempts)
	}
	if attempts >= int64(q.cfg.MaxAttempts) {
		metrics.RecordJob("dropped")
		log.Error("job failed; giving up",
			zap.String("job_id", id), zap.Int64("attempts", attempts), zap.Error(cause))
		q.ack(ctx, id)
		return
	}

	due := time.Now().UTC().Add(time.Duration(attempts) * q.cfg.RetryDelay)
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, id)
	pipe.HDel(ctx, q.startedKey(), id)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(due.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error("schedule job retry failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	metrics.RecordJob("retry_scheduled")
	log.Warn("job failed; retry scheduled",
		zap.String("job_id", id), zap.Int64("attempt", attempts), zap.Time("due", due), zap.Error(cause))
}

// PromoteDue moves delayed jobs whose retry time has passed back to pending.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, id := range ids {
		// ZRem decides the winner when several sweepers race
		removed, err := q.client.ZRem(ctx, q.delayedKey(), id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.RPush(ctx, q.pendingKey(), id).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

func (q *Queue) ack(ctx context.Context, id string) {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, id)
	pipe.HDel(ctx, q.startedKey(), id)
	pipe.HDel(ctx, q.attemptsKey(), id)
	pipe.Del(ctx, q.lockKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("ack job failed", zap.String("job_id", id), zap.Error(err))
	}
}

func (q *Queue) requeue(ctx context.Context, id string) {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, id)
	pipe.HDel(ctx, q.startedKey(), id)
	pipe.RPush(ctx, q.pendingKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("requeue job failed", zap.String("job_id", id), zap.Error(err))
	}
}

func (q *Queue) sweeper(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := q.Sweep(ctx); err != nil {
				q.logger.Error("sweep failed", zap.Error(err))
			} else if n > 0 {
				q.logger.Warn("recovered stale jobs", zap.Int("count", n))
			}
			if n, err := q.PromoteDue(ctx); err != nil {
				q.logger.Error("promote delayed jobs failed", zap.Error(err))
			} else if n > 0 {
				q.logger.Info("delayed jobs due", zap.Int("count", n))
			}
		}
	}
}

// Sweep requeues jobs whose start mark is older than StaleAfter. Running
// jobs refresh the mark, so only jobs of a crashed worker go stale.
func (q *Queue) Sweep(ctx context.Context) (int, error) {
	ids, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	started, err := q.client.HGetAll(ctx, q.startedKey()).Result()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-q.cfg.StaleAfter).Unix()
	recovered := 0
	for _, id := range ids {
		ts, ok := started[id]
		if !ok {
			// dequeued but not yet marked; the worker is about to
			continue
		}
		if at, perr := strconv.ParseInt(ts, 10, 64); perr == nil && at > cutoff {
			continue
		}
		q.requeue(ctx, id)
		metrics.RecordJob("recovered")
		recovered++
	}
	return recovered, nil
}

// Stats reports the pending and processing list lengths.
func (q *Queue) Stats(ctx context.Context) (pending, processing int64, err error) {
	pending, err = q.client.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return 0, 0, err
	}
	processing, err = q.client.LLen(ctx, q.processingKey()).Result()
	return pending, processing, err
}

// Ping checks the Redis connection, for readiness checks.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
