package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/modernagencysales/gc-member-portal-sub004/apps/cli/cmd/cmdutil"
	"github.com/modernagencysales/gc-member-portal-sub004/apps/internal/stack"
	provisionsservice "github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	provisionsworker "github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/worker"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/metrics"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/persistence"
)

// Command runs the provisioning job worker against the Redis queue.
func Command() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the provisioning job worker (requires REDIS_URL)",
		Long: "Worker consumes provisioning jobs from Redis and runs the step engine. " +
			"In-flight provisions are re-enqueued on start so interrupted runs resume from their step log.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cmdutil.Config(cmd)
			if err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				return errors.New("REDIS_URL is required for the worker")
			}
			logger, err := cmdutil.Logger(cmd, "provisioning-worker")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pool, store, err := stack.OpenRepository(ctx, cfg)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(pool)

			redisClient, err := stack.OpenRedis(ctx, cfg)
			if err != nil {
				return err
			}
			defer redisClient.Close()

			runner, closeWriter, err := stack.NewEngine(ctx, cfg, store, logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeWriter() }()

			jobs := stack.JobQueue(redisClient, cfg, logger.Named("jobs"))
			provisions := provisionsservice.New(store, provisionsworker.NewRedisQueue(jobs), logger.Named("provisions"))
			n, err := provisions.ResumeInFlight(ctx)
			if err != nil {
				return fmt.Errorf("resume in-flight provisions: %w", err)
			}
			if n > 0 {
				logger.Info("re-enqueued in-flight provisions", zap.Int("count", n))
			}

			var metricsServer *http.Server
			if metricsAddr != "" {
				router := chi.NewRouter()
				router.Handle("/metrics", metrics.Handler())
				metricsServer = &http.Server{Addr: metricsAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					logger.Info("serving worker metrics", zap.String("addr", metricsAddr))
					if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server failed", zap.Error(err))
					}
				}()
			}

			jobs.Start(ctx, provisionsworker.Handler(runner, logger.Named("worker")))
			logger.Info("worker started", zap.Int("workers", cfg.JobWorkers))

			<-ctx.Done()
			logger.Info("shutting down worker")
			// in-flight jobs are cancelled and requeued
			jobs.Stop()

			if metricsServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsServer.Shutdown(shutdownCtx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}
