// Package stack builds the shared runtime pieces used by both binaries: the
// Postgres-backed provision store, Redis, support bundle storage and the
// step engine.
package stack

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/engine"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/provisioning"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/repo"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/jobqueue"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/persistence"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/retry"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/storage"
)

// Config is the environment shared by the API server and the CLI.
type Config struct {
	DatabaseURL      string `env:"DATABASE_URL,required"`
	DatabaseSchema   string `env:"DATABASE_SCHEMA" envDefault:"gtm"`
	DatabaseMaxConns int32  `env:"DATABASE_MAX_CONNS"`
	RedisURL         string `env:"REDIS_URL"` // empty runs jobs in-process and keeps wizard sessions in memory

	StorageBackend  string `env:"STORAGE_BACKEND" envDefault:"local"`             // gcs | local
	StorageBucket   string `env:"STORAGE_BUCKET"`                                 // required when STORAGE_BACKEND=gcs
	StorageLocalDir string `env:"STORAGE_LOCAL_DIR" envDefault:"./.data/storage"` // used when STORAGE_BACKEND=local
	StoragePrefix   string `env:"STORAGE_PREFIX" envDefault:"dev/"`

	StepMaxRetries     int           `env:"STEP_MAX_RETRIES" envDefault:"3"`
	StepInitialBackoff time.Duration `env:"STEP_INITIAL_BACKOFF" envDefault:"2s"`
	StepMaxBackoff     time.Duration `env:"STEP_MAX_BACKOFF" envDefault:"30s"`
	DMARCReportEmail   string        `env:"DMARC_REPORT_EMAIL"`

	JobWorkers     int           `env:"JOB_WORKERS" envDefault:"4"`
	JobStaleAfter  time.Duration `env:"JOB_STALE_AFTER" envDefault:"15m"`
	JobMaxAttempts int           `env:"JOB_MAX_ATTEMPTS" envDefault:"5"`
	JobRetryDelay  time.Duration `env:"JOB_RETRY_DELAY" envDefault:"30s"`

	Vendors provisioning.Config
}

// LoadDotEnv reads .env when present. A missing file is not an error.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load parses Config from the process environment. Non-empty overrides,
// typically CLI flags, win over the environment.
func Load(overrides map[string]string) (Config, error) {
	environ := env.ToMap(os.Environ())
	for k, v := range overrides {
		if v != "" {
			environ[k] = v
		}
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// OpenRepository connects to Postgres and builds the provision store.
func OpenRepository(ctx context.Context, cfg Config) (*pgxpool.Pool, *repo.PostgresRepository, error) {
	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL, MaxConns: cfg.DatabaseMaxConns})
	if err != nil {
		return nil, nil, fmt.Errorf("init postgres pool: %w", err)
	}
	r, err := NewRepository(pool, cfg.DatabaseSchema)
	if err != nil {
		persistence.ClosePool(pool)
		return nil, nil, err
	}
	return pool, r, nil
}

// NewRepository builds the provision store on an existing pool.
func NewRepository(pool *pgxpool.Pool, schema string) (*repo.PostgresRepository, error) {
	tiers, err := persistence.NewTierStore(pool, schema)
	if err != nil {
		return nil, fmt.Errorf("init tier store: %w", err)
	}
	provisions, err := persistence.NewProvisionStore(pool, schema)
	if err != nil {
		return nil, fmt.Errorf("init provision store: %w", err)
	}
	domains, err := persistence.NewDomainStore(pool, schema)
	if err != nil {
		return nil, fmt.Errorf("init domain store: %w", err)
	}
	stepLogs, err := persistence.NewStepLogStore(pool, schema)
	if err != nil {
		return nil, fmt.Errorf("init step log store: %w", err)
	}
	return repo.NewPostgresRepository(repo.Stores{Tiers: tiers, Provisions: provisions, Domains: domains, StepLogs: stepLogs}), nil
}

// OpenRedis returns nil when REDIS_URL is unset.
func OpenRedis(ctx context.Context, cfg Config) (redis.UniversalClient, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// JobQueue builds the provisioning job queue on client.
func JobQueue(client redis.UniversalClient, cfg Config, logger *zap.Logger) *jobqueue.Queue {
	return jobqueue.New(client, jobqueue.Config{
		Workers:     cfg.JobWorkers,
		StaleAfter:  cfg.JobStaleAfter,
		MaxAttempts: cfg.JobMaxAttempts,
		RetryDelay:  cfg.JobRetryDelay,
	}, logger)
}

// JobRetryPolicy applies JOB_MAX_ATTEMPTS and JOB_RETRY_DELAY to in-process runs.
func JobRetryPolicy(cfg Config) retry.Policy {
	return retry.NewPolicy(
		retry.WithMaxRetries(cfg.JobMaxAttempts-1),
		retry.WithInitialDelay(cfg.JobRetryDelay),
		retry.WithMaxDelay(10*cfg.JobRetryDelay),
	)
}

// SupportWriter selects the blob store for failure support bundles. The
// returned func releases any client it opened.
func SupportWriter(ctx context.Context, cfg Config) (storage.Writer, func() error, error) {
	switch cfg.StorageBackend {
	case "gcs":
		if strings.TrimSpace(cfg.StorageBucket) == "" {
			return nil, nil, errors.New("STORAGE_BUCKET is required when STORAGE_BACKEND=gcs")
		}
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs client: %w", err)
		}
		return storage.NewGCSWriter(client, cfg.StorageBucket, cfg.StoragePrefix), client.Close, nil
	case "local":
		if strings.TrimSpace(cfg.StorageLocalDir) == "" {
			return nil, nil, errors.New("STORAGE_LOCAL_DIR is required when STORAGE_BACKEND=local")
		}
		return storage.NewLocalWriter(cfg.StorageLocalDir, cfg.StoragePrefix), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("invalid STORAGE_BACKEND %q (use gcs or local)", cfg.StorageBackend)
	}
}

// RetryPolicy maps the STEP_* settings onto the engine's retry policy.
func RetryPolicy(cfg Config) retry.Policy {
	return retry.NewPolicy(
		retry.WithMaxRetries(cfg.StepMaxRetries),
		retry.WithInitialDelay(cfg.StepInitialBackoff),
		retry.WithMaxDelay(cfg.StepMaxBackoff),
	)
}

// NewEngine wires vendor adapters, the support bundle exporter and the retry
// policy into a step engine.
func NewEngine(ctx context.Context, cfg Config, r *repo.PostgresRepository, logger *zap.Logger) (*engine.Engine, func() error, error) {
	deps, err := provisioning.NewDeps(cfg.Vendors, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init vendor adapters: %w", err)
	}
	writer, closeWriter, err := SupportWriter(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := writer.Check(ctx); err != nil {
		logger.Warn("support bundle storage not reachable; bundles may fail", zap.Error(err))
	}

	opts := []engine.Option{
		engine.WithRetryPolicy(RetryPolicy(cfg)),
		engine.WithSupportExporter(engine.NewStorageExporter(writer)),
	}
	if cfg.DMARCReportEmail != "" {
		opts = append(opts, engine.WithDMARCReportEmail(cfg.DMARCReportEmail))
	}
	return engine.New(r, deps, logger.Named("engine"), opts...), closeWriter, nil
}
