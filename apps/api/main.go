package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/modernagencysales/gc-member-portal-sub004/apps/internal/stack"
	"github.com/modernagencysales/gc-member-portal-sub004/contracts"
	provisionshandler "github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/handler"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/progress"
	provisionsservice "github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/worker"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/wizard/be/gateway"
	wizardhandler "github.com/modernagencysales/gc-member-portal-sub004/domains/wizard/be/handler"
	wizardrepo "github.com/modernagencysales/gc-member-portal-sub004/domains/wizard/be/repo"
	wizardservice "github.com/modernagencysales/gc-member-portal-sub004/domains/wizard/be/service"
	platformlogging "github.com/modernagencysales/gc-member-portal-sub004/platform/go/logging"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/persistence"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/webhook"
)

type config struct {
	stack.Config

	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	AuthProvider        string `env:"AUTH_PROVIDER" envDefault:"firebase"` // firebase | dev
	FirebaseProjectID   string `env:"GCLOUD_PROJECT"`
	FirebaseCredentials string `env:"FIREBASE_CONFIG"` // service account file; empty uses ADC

	CheckoutWebhookSecret string        `env:"CHECKOUT_WEBHOOK_SECRET,required"`
	CORSAllowedOrigins    []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	ProgressPollInterval  time.Duration `env:"PROGRESS_POLL_INTERVAL" envDefault:"3s"`
	WizardSessionTTL      time.Duration `env:"WIZARD_SESSION_TTL" envDefault:"24h"`
	BootstrapSchema       bool          `env:"BOOTSTRAP_SCHEMA" envDefault:"false"`

	Gateway gateway.Config
}

func main() {
	ctx := context.Background()

	if err := stack.LoadDotEnv(); err != nil {
		log.Fatalf("%v", err)
	}
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, provisionRepo, err := stack.OpenRepository(ctx, cfg.Config)
	if err != nil {
		logger.Fatal("init provision store", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if cfg.BootstrapSchema {
		if err := persistence.BootstrapSchema(ctx, pool, cfg.DatabaseSchema, true); err != nil {
			logger.Fatal("bootstrap schema", zap.Error(err))
		}
		logger.Info("schema bootstrapped", zap.String("schema", cfg.DatabaseSchema))
	}

	redisClient, err := stack.OpenRedis(ctx, cfg.Config)
	if err != nil {
		logger.Fatal("init redis", zap.Error(err))
	}

	// Jobs go to Redis for the worker binary when configured, otherwise they
	// run on goroutines in this process.
	jobCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	var (
		queue      provisionsservice.Enqueuer
		sessions   wizardservice.SessionStore
		queueStats QueueStats
		local      *worker.LocalQueue
	)
	if redisClient != nil {
		defer redisClient.Close()
		jobs := stack.JobQueue(redisClient, cfg.Config, logger)
		queue = worker.NewRedisQueue(jobs)
		queueStats = jobs.Stats
		sessions = wizardrepo.NewRedisSessionStore(redisClient, cfg.WizardSessionTTL)
	} else {
		logger.Warn("REDIS_URL not set; running provisioning jobs in-process and keeping wizard sessions in memory")
		runner, closeWriter, err := stack.NewEngine(ctx, cfg.Config, provisionRepo, logger)
		if err != nil {
			logger.Fatal("init step engine", zap.Error(err))
		}
		defer func() { _ = closeWriter() }()
		local = worker.NewLocalQueue(jobCtx, runner, logger.Named("worker"), worker.WithRunRetry(stack.JobRetryPolicy(cfg.Config)))
		queue = local
		sessions = wizardservice.NewMemorySessionStore()
	}

	provisionService := provisionsservice.New(provisionRepo, queue, logger.Named("provisions"))
	if local != nil {
		if n, err := provisionService.ResumeInFlight(ctx); err != nil {
			logger.Error("resume in-flight provisions", zap.Error(err))
		} else if n > 0 {
			logger.Info("resumed in-flight provisions", zap.Int("count", n))
		}
	}

	availability, checkout, err := gateway.New(cfg.Gateway, logger)
	if err != nil {
		logger.Fatal("init wizard collaborators", zap.Error(err))
	}
	wizardService := wizardservice.New(provisionRepo, sessions, availability, checkout, logger.Named("wizard"))

	hooks := webhook.NewSchemaValidator()
	if err := hooks.Register(contracts.CheckoutEventSchemaName, contracts.CheckoutEventSchema()); err != nil {
		logger.Fatal("register checkout event schema", zap.Error(err))
	}
	projector := progress.NewProjector(provisionRepo)
	poller := progress.NewPoller(projector, cfg.ProgressPollInterval, logger.Named("progress"))
	provisionsHTTPHandler := provisionshandler.New(provisionService, projector, poller,
		provisionshandler.WebhookConfig{Secret: cfg.CheckoutWebhookSecret, Validator: hooks}, logger)
	wizardHTTPHandler := wizardhandler.New(wizardService, logger)

	spec, err := contracts.LoadOpenAPI(ctx)
	if err != nil {
		logger.Fatal("load openapi spec", zap.Error(err))
	}

	router := newRouter(routerDeps{
		spec:           spec,
		auth:           buildAuthMiddleware(ctx, cfg, logger),
		corsOrigins:    cfg.CORSAllowedOrigins,
		requestTimeout: cfg.RequestTimeout,
		wizard:         wizardHTTPHandler,
		provisions:     provisionsHTTPHandler,
		ready: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return err
			}
			if redisClient != nil {
				return redisClient.Ping(ctx).Err()
			}
			return nil
		},
		queueStats: queueStats,
		logger:     logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// no WriteTimeout: progress streams stay open; other routes are bounded by REQUEST_TIMEOUT
		IdleTimeout: 2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if local != nil {
		// interrupted runs resume from their step log on next start
		stopJobs()
		local.Wait()
	}
}
