// Package engine executes the fixed per-product provisioning step sequences
// and records every outcome in the append-only step log.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/metrics"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/retry"
)

var (
	// ErrNotPaid is returned when a run is requested before checkout completed.
	ErrNotPaid = errors.New("provision is awaiting payment")
	// ErrInterrupted is recorded when a non-idempotent step was cut off and the vendor shows no trace of it.
	ErrInterrupted = errors.New("interrupted during a non-idempotent action; manual review required")
)

// SupportExporter stores a diagnostics bundle for a failed provision and returns its key.
type SupportExporter interface {
	Export(ctx context.Context, bundle SupportBundle) (string, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryPolicy overrides the transient retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Engine) { e.retry = p }
}

// WithSupportExporter enables support bundles on failure.
func WithSupportExporter(x SupportExporter) Option {
	return func(e *Engine) { e.exporter = x }
}

// WithDMARCReportEmail sets the rua address published in DMARC records.
func WithDMARCReportEmail(addr string) Option {
	return func(e *Engine) { e.reportEmail = addr }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine runs provisioning pipelines. It is the only writer of step logs and
// of the provisioning -> active|failed transitions.
type Engine struct {
	repo        service.Repository
	deps        service.ProvisioningDeps
	logger      *zap.Logger
	retry       retry.Policy
	exporter    SupportExporter
	reportEmail string
	now         func() time.Time
}

// New constructs an Engine with required dependencies.
func New(repo service.Repository, deps service.ProvisioningDeps, logger *zap.Logger, opts ...Option) *Engine {
	if repo == nil {
		panic("provisions repo is required")
	}
	if err := deps.Validate(); err != nil {
		panic(err.Error())
	}
	if logger == nil {
		panic("logger is required")
	}
	e := &Engine{
		repo:   repo,
		deps:   deps,
		logger: logger,
		retry:  retry.DefaultPolicy(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drives a provision through its remaining steps. It is safe to call
// again after a crash: settled steps are not repeated, and a non-idempotent
// step found in_progress is reconciled against the vendor instead of being
// re-invoked.
//
// A step failure is recorded in the log and on the provision, and Run
// returns the failed provision with a nil error. Errors are returned only
// when the run itself could not proceed (store failures, cancellation).
func (e *Engine) Run(ctx context.Context, provisionID uuid.UUID) (service.Provision, error) {
	p, err := e.repo.GetProvision(ctx, provisionID)
	if err != nil {
		return service.Provision{}, err
	}

	switch p.Status {
	case service.StatusPendingPayment:
		return p, ErrNotPaid
	case service.StatusActive, service.StatusFailed:
		return p, nil
	}

	steps, err := e.stepsFor(p.ProductType)
	if err != nil {
		return p, err
	}

	logs, err := e.repo.ListStepLogs(ctx, p.ID)
	if err != nil {
		return p, fmt.Errorf("load step logs: %w", err)
	}
	latest := service.LatestByStep(logs)

	rc := &runContext{provision: p, outputs: make(map[string]string)}
	if p.ProductType == service.ProductEmailInfra {
		if rc.domains, err = e.repo.ListDomains(ctx, p.ID); err != nil {
			return p, fmt.Errorf("load domains: %w", err)
		}
	}

	log := e.logger.With(
		zap.String("provision_id", p.ID.String()),
		zap.String("product", string(p.ProductType)),
	)

	for _, st := range steps {
		stepLog := log.With(zap.Int("step", st.info.Number), zap.String("step_key", st.info.Key))
		prev, seen := latest[st.info.Number]

		if seen {
			switch prev.Status {
			case service.StepCompleted, service.StepSkipped:
				if prev.Status == service.StepSkipped {
					rc.skip(st.info.Key, prev.Output[outputSkipReason])
				}
				rc.merge(prev.Output)
				continue
			case service.StepFailed:
				// the log already records the failure; make sure the provision agrees
				return e.markFailed(ctx, rc, st, errors.New(deref(prev.Error)))
			case service.StepInProgress:
				if !st.idempotent {
					done, out, err := st.reconcile(ctx, rc)
					if err != nil {
						if isCancellation(ctx, err) {
							return p, err
						}
						return e.failStep(ctx, rc, st, fmt.Errorf("reconcile: %w", err))
					}
					if !done {
						stepLog.Warn("non-idempotent step interrupted; not retrying")
						return e.failStep(ctx, rc, st, ErrInterrupted)
					}
					stepLog.Info("interrupted step reconciled as completed")
					if err := e.appendEntry(ctx, rc, st, service.StepCompleted, nil, out); err != nil {
						return p, err
					}
					rc.merge(out)
					continue
				}
				stepLog.Info("resuming idempotent step")
			}
		}

		if st.guard != nil {
			reason, err := st.guard(ctx, rc)
			if err != nil {
				if isCancellation(ctx, err) {
					return p, err
				}
				return e.failStep(ctx, rc, st, err)
			}
			if reason != "" {
				stepLog.Info("step skipped", zap.String("reason", reason))
				rc.skip(st.info.Key, reason)
				if err := e.appendEntry(ctx, rc, st, service.StepSkipped, nil, map[string]string{outputSkipReason: reason}); err != nil {
					return p, err
				}
				continue
			}
		}

		// written before the vendor call so a crash leaves a trace to reconcile
		if err := e.appendEntry(ctx, rc, st, service.StepInProgress, nil, nil); err != nil {
			return p, err
		}

		stepLog.Info(fmt.Sprintf("[%s (%d/%d)] starting", st.info.Name, st.info.Number, len(steps)))
		started := e.now()
		out, err := e.execute(ctx, rc, st, stepLog)
		metrics.ObserveStepDuration(string(p.ProductType), st.info.Number, e.now().Sub(started))
		if err != nil {
			if isCancellation(ctx, err) {
				stepLog.Warn("step cancelled; leaving in_progress for resume", zap.Error(err))
				return p, err
			}
			stepLog.Error(fmt.Sprintf("[%s (%d/%d)] failed", st.info.Name, st.info.Number, len(steps)), zap.Error(err))
			return e.failStep(ctx, rc, st, err)
		}

		if err := e.appendEntry(ctx, rc, st, service.StepCompleted, nil, out); err != nil {
			return p, err
		}
		rc.merge(out)
		stepLog.Info(fmt.Sprintf("[%s (%d/%d)] completed", st.info.Name, st.info.Number, len(steps)))
	}

	active, err := service.Transition(ctx, e.repo, p, service.StatusActive, nil)
	if err != nil {
		return p, fmt.Errorf("mark provision active: %w", err)
	}
	log.Info("provision active")
	return active, nil
}

func (e *Engine) execute(ctx context.Context, rc *runContext, st stepDef, log *zap.Logger) (map[string]string, error) {
	var out map[string]string
	err := retry.Do(ctx, e.retry, func(ctx context.Context) error {
		var runErr error
		out, runErr = st.run(ctx, rc)
		return runErr
	}, func(attempt int, err error, wait time.Duration) {
		metrics.RecordStepRetry(string(rc.provision.ProductType), st.info.Number)
		log.Warn("transient step failure; retrying",
			zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(err))
	})
	return out, err
}

// failStep records the failed entry and then fails the provision.
func (e *Engine) failStep(ctx context.Context, rc *runContext, st stepDef, cause error) (service.Provision, error) {
	msg := cause.Error()
	if err := e.appendEntry(ctx, rc, st, service.StepFailed, &msg, nil); err != nil {
		return rc.provision, err
	}
	return e.markFailed(ctx, rc, st, cause)
}

func (e *Engine) markFailed(ctx context.Context, rc *runContext, st stepDef, cause error) (service.Provision, error) {
	detail := fmt.Sprintf("step %d (%s) failed: %s", st.info.Number, st.info.Name, cause.Error())

	if e.exporter != nil {
		// best effort
		if key, err := e.exportBundle(ctx, rc, st, cause); err != nil {
			e.logger.Warn("support bundle export failed", zap.String("provision_id", rc.provision.ID.String()), zap.Error(err))
		} else {
			detail += supportBundleMarker + key
		}
	}

	failed, err := service.Transition(ctx, e.repo, rc.provision, service.StatusFailed, &detail)
	if err != nil {
		return rc.provision, fmt.Errorf("mark provision failed: %w", err)
	}
	e.logger.Error("provision failed",
		zap.String("provision_id", rc.provision.ID.String()),
		zap.String("product", string(rc.provision.ProductType)),
		zap.Int("step", st.info.Number),
		zap.Error(cause))
	return failed, nil
}

func (e *Engine) appendEntry(ctx context.Context, rc *runContext, st stepDef, status service.StepStatus, errText *string, out map[string]string) error {
	_, err := e.repo.AppendStepLog(ctx, service.StepLog{
		ProvisionID: rc.provision.ID,
		Step:        st.info.Number,
		Status:      status,
		Error:       errText,
		Output:      out,
	})
	if err != nil {
		return fmt.Errorf("append step %d %s: %w", st.info.Number, status, err)
	}
	metrics.RecordStepOutcome(string(rc.provision.ProductType), st.info.Number, string(status))
	return nil
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return "step failed"
	}
	return *s
}
