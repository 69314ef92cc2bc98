package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	provisionshandler "github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/handler"
	wizardhandler "github.com/modernagencysales/gc-member-portal-sub004/domains/wizard/be/handler"
	platformauth "github.com/modernagencysales/gc-member-portal-sub004/platform/go/auth"
	platformlogging "github.com/modernagencysales/gc-member-portal-sub004/platform/go/logging"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/metrics"
	platformmiddleware "github.com/modernagencysales/gc-member-portal-sub004/platform/go/middleware"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/problem"
)

// QueueStats reports job queue depth for the admin endpoint.
type QueueStats func(ctx context.Context) (pending, processing int64, err error)

type routerDeps struct {
	spec           *openapi3.T
	auth           func(http.Handler) http.Handler
	corsOrigins    []string
	requestTimeout time.Duration
	wizard         *wizardhandler.Handler
	provisions     *provisionshandler.Handler
	ready          func(ctx context.Context) error
	queueStats     QueueStats // nil when jobs run in-process
	logger         *zap.Logger
}

func newRouter(d routerDeps) http.Handler {
	root := chi.NewRouter()

	cors := platformmiddleware.DefaultCORS()
	if len(d.corsOrigins) > 0 {
		cors = platformmiddleware.CORS(d.corsOrigins)
	}
	root.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		cors,
	)
	root.Use(platformlogging.RequestLogger(d.logger))

	root.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	root.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := d.ready(r.Context()); err != nil {
			platformlogging.FromRequest(r, d.logger).Warn("not ready", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	root.Handle("/metrics", metrics.Handler())

	// ---- Swagger UI + OpenAPI JSON (public) ----
	registerDocsRoutes(root, d.spec, d.logger)

	api := chi.NewRouter()
	api.Use(timeoutExceptStreams(d.requestTimeout))

	// signed by the checkout provider; no bearer token and not in the contract
	api.Mount("/webhooks", d.provisions.WebhookRoutes())

	api.Group(func(r chi.Router) {
		r.Use(d.auth)
		r.Use(platformmiddleware.SpecValidator(d.spec))
		r.Mount("/tiers", d.provisions.TierRoutes())
		r.Mount("/wizard", d.wizard.Routes())
		r.Mount("/provisions", d.provisions.Routes())
	})

	if d.queueStats != nil {
		api.Group(func(r chi.Router) {
			r.Use(d.auth)
			r.Use(platformauth.RequireRole("admin"))
			r.Get("/admin/queue", queueStatsHandler(d.queueStats))
		})
	}

	root.Mount("/api/v1", api)
	return root
}

// timeoutExceptStreams bounds request time for everything but event streams,
// which stay open until the client leaves or provisioning settles.
func timeoutExceptStreams(d time.Duration) func(http.Handler) http.Handler {
	timeout := chimw.Timeout(d)
	return func(next http.Handler) http.Handler {
		limited := timeout(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/stream") {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func queueStatsHandler(stats QueueStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, processing, err := stats(r.Context())
		if err != nil {
			platformlogging.FromRequest(r, zap.NewNop()).Error("read queue stats", zap.Error(err))
			problem.Write(w, problem.Internal())
			return
		}
		problem.JSON(w, http.StatusOK, struct {
			Pending    int64 `json:"pending"`
			Processing int64 `json:"processing"`
		}{pending, processing})
	}
}
