package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modernagencysales/gc-member-portal-sub004/contracts"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/engine"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/lifecycle"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/progress"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	platformauth "github.com/modernagencysales/gc-member-portal-sub004/platform/go/auth"
	platformlogging "github.com/modernagencysales/gc-member-portal-sub004/platform/go/logging"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/problem"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/webhook"
)

type operation string

const (
	tiersOperation    operation = "tiersList"
	viewOperation     operation = "provisionsView"
	progressOperation operation = "provisionsProgress"
	streamOperation   operation = "provisionsProgressStream"
	getOperation      operation = "provisionsGet"
	webhookOperation  operation = "checkoutWebhook"
)

const (
	maxWebhookBodyLen = 64 << 10

	eventCheckoutCompleted = "checkout.completed"
	eventCheckoutExpired   = "checkout.expired"

	failureMessage = "Provisioning failed. Our team has been notified; please contact support and quote the provision id."
)

// Service is the provision behaviour the handler reads and drives.
type Service interface {
	ListTiers(ctx context.Context) ([]service.Tier, error)
	Get(ctx context.Context, id uuid.UUID) (service.Provision, error)
	ListForOwner(ctx context.Context, ownerID string) ([]service.Provision, error)
	Domains(ctx context.Context, id uuid.UUID) ([]service.Domain, error)
	StepLogs(ctx context.Context, id uuid.UUID) ([]service.StepLog, error)
	ActivatePayment(ctx context.Context, ids []uuid.UUID) ([]service.Provision, error)
}

var _ Service = (*service.Service)(nil)

// WebhookConfig authenticates and validates checkout callbacks.
type WebhookConfig struct {
	Secret    string
	Validator *webhook.SchemaValidator
}

// Handler serves tiers, lifecycle views, progress and checkout callbacks.
type Handler struct {
	svc       Service
	projector *progress.Projector
	poller    *progress.Poller
	webhook   WebhookConfig
	logger    *zap.Logger
}

func New(svc Service, projector *progress.Projector, poller *progress.Poller, hook WebhookConfig, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("provisions service is required")
	}
	if projector == nil {
		panic("progress projector is required")
	}
	if poller == nil {
		panic("progress poller is required")
	}
	if hook.Validator == nil {
		panic("webhook schema validator is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, projector: projector, poller: poller, webhook: hook, logger: logger}
}

// TierRoutes serves the tier catalog.
func (h *Handler) TierRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.listTiers)
	return r
}

// Routes mounts the owner-scoped provision endpoints; callers wrap it with auth.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/view", h.view)
	r.Get("/progress", h.progress)
	r.Get("/progress/stream", h.stream)
	r.Get("/{provisionID}", h.get)
	return r
}

// WebhookRoutes mounts the checkout callback. It authenticates by signature, not by user.
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/checkout", h.checkoutEvent)
	return r
}

type tierView struct {
	ID                 uuid.UUID `json:"id"`
	Slug               string    `json:"slug"`
	Name               string    `json:"name"`
	DomainCount        int       `json:"domainCount"`
	MailboxesPerDomain int       `json:"mailboxesPerDomain"`
	SetupFeeCents      int64     `json:"setupFeeCents"`
	MonthlyFeeCents    int64     `json:"monthlyFeeCents"`
}

func (h *Handler) listTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.svc.ListTiers(r.Context())
	if err != nil {
		h.fail(w, r, err, tiersOperation)
		return
	}
	out := make([]tierView, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, tierView{
			ID: t.ID, Slug: t.Slug, Name: t.Name, DomainCount: t.DomainCount,
			MailboxesPerDomain: t.MailboxesPerDomain, SetupFeeCents: t.SetupFeeCents, MonthlyFeeCents: t.MonthlyFeeCents,
		})
	}
	problem.JSON(w, http.StatusOK, out)
}

type failureView struct {
	Provision     summaryView `json:"provision"`
	Detail        string      `json:"detail,omitempty"`
	SupportBundle string      `json:"supportBundle,omitempty"`
	Steps         []stepView  `json:"steps"`
	Message       string      `json:"message"`
}

type prefillView struct {
	ProvisionID uuid.UUID  `json:"provisionId"`
	ProductType string     `json:"productType"`
	TierID      *uuid.UUID `json:"tierId,omitempty"`
	Domains     []string   `json:"domains"`
	Pattern1    string     `json:"pattern1,omitempty"`
	Pattern2    string     `json:"pattern2,omitempty"`
}

type viewResponse struct {
	View            lifecycle.View `json:"view"`
	Provisions      []summaryView  `json:"provisions"`
	Progress        *snapshotView  `json:"progress,omitempty"`
	Failure         *failureView   `json:"failure,omitempty"`
	MissingProducts []string       `json:"missingProducts,omitempty"`
	Prefill         *prefillView   `json:"prefill,omitempty"`
}

func (h *Handler) view(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	provisions, err := h.svc.ListForOwner(ctx, owner)
	if err != nil {
		h.fail(w, r, err, viewOperation)
		return
	}

	d := lifecycle.Route(provisions)
	out := viewResponse{View: d.View, Provisions: make([]summaryView, 0, len(d.Purchased))}
	for _, p := range d.Purchased {
		out.Provisions = append(out.Provisions, toSummary(p))
	}

	switch d.View {
	case lifecycle.ViewProgress:
		snap, err := h.projector.ForProvisions(ctx, provisions)
		if err != nil {
			h.fail(w, r, err, viewOperation)
			return
		}
		sv := toSnapshotView(snap)
		out.Progress = &sv
	case lifecycle.ViewFailed:
		failure, err := h.failure(ctx, *d.Failed)
		if err != nil {
			h.fail(w, r, err, viewOperation)
			return
		}
		out.Failure = &failure
	case lifecycle.ViewDashboard:
		for _, p := range d.MissingProducts {
			out.MissingProducts = append(out.MissingProducts, string(p))
		}
	}

	if d.Prefill != nil && (d.View == lifecycle.ViewWizardPrefilled || d.View == lifecycle.ViewWizard) {
		prefill, err := h.prefill(ctx, *d.Prefill)
		if err != nil {
			h.fail(w, r, err, viewOperation)
			return
		}
		out.Prefill = &prefill
	}
	problem.JSON(w, http.StatusOK, out)
}

func (h *Handler) failure(ctx context.Context, p service.Provision) (failureView, error) {
	logs, err := h.svc.StepLogs(ctx, p.ID)
	if err != nil {
		return failureView{}, fmt.Errorf("load step logs for %s: %w", p.ID, err)
	}
	fv := failureView{Provision: toSummary(p), Steps: toStepViews(progress.Project(p.ProductType, logs)), Message: failureMessage}
	if p.ProvisioningLog != nil {
		fv.Detail = *p.ProvisioningLog
	}
	if loc, ok := engine.SupportBundleFromDetail(p.ProvisioningLog); ok {
		fv.SupportBundle = loc
	}
	return fv, nil
}

func (h *Handler) prefill(ctx context.Context, p service.Provision) (prefillView, error) {
	pv := prefillView{
		ProvisionID: p.ID,
		ProductType: string(p.ProductType),
		TierID:      p.TierID,
		Domains:     []string{},
		Pattern1:    p.MailboxPattern1,
		Pattern2:    p.MailboxPattern2,
	}
	if p.ProductType != service.ProductEmailInfra {
		return pv, nil
	}
	domains, err := h.svc.Domains(ctx, p.ID)
	if err != nil {
		return prefillView{}, fmt.Errorf("load domains for %s: %w", p.ID, err)
	}
	for _, d := range domains {
		pv.Domains = append(pv.Domains, d.DomainName)
	}
	return pv, nil
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	snap, err := h.projector.ForOwner(r.Context(), owner)
	if err != nil {
		h.fail(w, r, err, progressOperation)
		return
	}
	problem.JSON(w, http.StatusOK, toSnapshotView(snap))
}

// stream pushes one "progress" event per poll and a final "done" event once
// nothing is provisioning. A client disconnect stops the poller.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.fail(w, r, errors.New("response writer does not support streaming"), streamOperation)
		return
	}

	ctx := r.Context()
	snapshots := make(chan progress.Snapshot, 1)
	watch := h.poller.Start(ctx, owner, func(s progress.Snapshot) {
		select {
		case snapshots <- s:
		case <-ctx.Done():
		}
	})
	defer watch.Stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := h.loggerFrom(ctx)
	send := func(event string, body any) bool {
		if err := writeEvent(w, event, body); err != nil {
			logger.Debug("progress stream write failed", zap.Error(err))
			return false
		}
		flusher.Flush()
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snapshots:
			if !send("progress", toSnapshotView(snap)) {
				return
			}
		case <-watch.Done():
			// the final snapshot may still be buffered
			select {
			case snap := <-snapshots:
				if !send("progress", toSnapshotView(snap)) {
					return
				}
			default:
			}
			last, err := watch.Last()
			if err != nil && ctx.Err() == nil {
				logger.Warn("progress stream ended with read error", zap.Error(err))
			}
			send("done", struct {
				Provisioning bool `json:"provisioning"`
			}{last.Provisioning})
			return
		}
	}
}

func writeEvent(w io.Writer, event string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

type domainView struct {
	DomainName string   `json:"domainName"`
	Status     string   `json:"status"`
	Mailboxes  []string `json:"mailboxes"`
}

type detailView struct {
	summaryView
	Pattern1        string       `json:"pattern1,omitempty"`
	Pattern2        string       `json:"pattern2,omitempty"`
	ProvisioningLog string       `json:"provisioningLog,omitempty"`
	Domains         []domainView `json:"domains"`
	Steps           []stepView   `json:"steps"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "provisionID"))
	if err != nil {
		h.fail(w, r, service.ErrNotFound, getOperation)
		return
	}
	ctx := r.Context()
	p, err := h.svc.Get(ctx, id)
	if err == nil && p.OwnerID != owner {
		// other owners' provisions are indistinguishable from missing ones
		err = service.ErrNotFound
	}
	if err != nil {
		h.fail(w, r, err, getOperation)
		return
	}

	domains, err := h.svc.Domains(ctx, id)
	if err != nil {
		h.fail(w, r, err, getOperation)
		return
	}
	logs, err := h.svc.StepLogs(ctx, id)
	if err != nil {
		h.fail(w, r, err, getOperation)
		return
	}

	out := detailView{
		summaryView: toSummary(p),
		Pattern1:    p.MailboxPattern1,
		Pattern2:    p.MailboxPattern2,
		Domains:     make([]domainView, 0, len(domains)),
		Steps:       toStepViews(progress.Project(p.ProductType, logs)),
	}
	if p.ProvisioningLog != nil {
		out.ProvisioningLog = *p.ProvisioningLog
	}
	for _, d := range domains {
		dv := domainView{DomainName: d.DomainName, Status: string(d.Status), Mailboxes: make([]string, 0, len(d.Mailboxes))}
		for _, m := range d.Mailboxes {
			dv.Mailboxes = append(dv.Mailboxes, m.Email)
		}
		out.Domains = append(out.Domains, dv)
	}
	problem.JSON(w, http.StatusOK, out)
}

type checkoutEvent struct {
	ID           string   `json:"id"`
	Event        string   `json:"event"`
	ProvisionIDs []string `json:"provisionIds"`
	OwnerID      string   `json:"ownerId"`
}

// checkoutEvent activates paid provisions. The signature is checked over the
// raw body before anything is decoded.
func (h *Handler) checkoutEvent(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerFrom(r.Context())
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyLen))
	if err != nil {
		problem.Write(w, problem.New(http.StatusBadRequest, "Invalid request body", err.Error(), problem.TypeValidation))
		return
	}
	if !webhook.VerifySignature(payload, r.Header.Get(webhook.SignatureHeader), h.webhook.Secret) {
		logger.Warn("checkout callback rejected: bad signature")
		problem.Write(w, problem.New(http.StatusUnauthorized, "Unauthorized", "invalid signature", problem.TypeUnauthorized))
		return
	}
	if err := h.webhook.Validator.Validate(contracts.CheckoutEventSchemaName, payload); err != nil {
		logger.Warn("checkout callback rejected: invalid payload", zap.Error(err))
		problem.Write(w, problem.New(http.StatusUnprocessableEntity, "Validation failed", err.Error(), problem.TypeValidation))
		return
	}

	var evt checkoutEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		problem.Write(w, problem.New(http.StatusBadRequest, "Invalid request body", err.Error(), problem.TypeValidation))
		return
	}
	logger = logger.With(zap.String("event", evt.Event), zap.String("event_id", evt.ID))

	if evt.Event == eventCheckoutExpired {
		// pending provisions stay resumable from the wizard
		logger.Info("checkout expired; provisions left pending", zap.Strings("provision_ids", evt.ProvisionIDs))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ids := make([]uuid.UUID, 0, len(evt.ProvisionIDs))
	for _, raw := range evt.ProvisionIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			problem.Write(w, problem.New(http.StatusUnprocessableEntity, "Validation failed", "invalid provision id", problem.TypeValidation).
				WithFields(map[string]string{"provisionIds": raw}))
			return
		}
		ids = append(ids, id)
	}

	if evt.OwnerID != "" {
		for _, id := range ids {
			p, err := h.svc.Get(r.Context(), id)
			if err != nil {
				h.fail(w, r, err, webhookOperation)
				return
			}
			if p.OwnerID != evt.OwnerID {
				logger.Warn("checkout callback owner mismatch", zap.String("provision_id", id.String()))
				problem.Write(w, problem.New(http.StatusUnprocessableEntity, "Validation failed", "provision does not belong to owner", problem.TypeValidation))
				return
			}
		}
	}

	activated, err := h.svc.ActivatePayment(r.Context(), ids)
	if err != nil {
		h.fail(w, r, err, webhookOperation)
		return
	}
	out := make([]summaryView, 0, len(activated))
	for _, p := range activated {
		out = append(out, toSummary(p))
	}
	logger.Info("checkout completed", zap.Int("provisions", len(out)))
	problem.JSON(w, http.StatusOK, struct {
		Provisions []summaryView `json:"provisions"`
	}{out})
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := platformauth.OwnerID(r.Context())
	if !ok {
		problem.Write(w, problem.New(http.StatusUnauthorized, "Unauthorized", "missing credentials", problem.TypeUnauthorized))
		return "", false
	}
	return owner, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, op operation) {
	details := classifyError(err)
	logger := h.loggerFrom(r.Context())
	fields := []zap.Field{zap.String("operation", string(op)), zap.Int("status", details.Status), zap.Error(err)}
	switch {
	case details.Status >= http.StatusInternalServerError:
		logger.Error("provisions operation failed", fields...)
	case details.Status == http.StatusNotFound:
		logger.Info("provision not found", fields...)
	default:
		logger.Warn("provisions request rejected", fields...)
	}
	problem.Write(w, details)
}

func classifyError(err error) problem.Details {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return problem.New(http.StatusNotFound, "Resource not found", "provision not found", problem.TypeNotFound)
	case errors.Is(err, service.ErrInvalidTransition):
		return problem.New(http.StatusConflict, "Conflict", err.Error(), problem.TypeConflict)
	default:
		return problem.Internal()
	}
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}

type summaryView struct {
	ID              uuid.UUID  `json:"id"`
	ProductType     string     `json:"productType"`
	Status          string     `json:"status"`
	TierID          *uuid.UUID `json:"tierId,omitempty"`
	ServiceProvider string     `json:"serviceProvider,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func toSummary(p service.Provision) summaryView {
	return summaryView{
		ID:              p.ID,
		ProductType:     string(p.ProductType),
		Status:          string(p.Status),
		TierID:          p.TierID,
		ServiceProvider: string(p.ServiceProvider),
		CreatedAt:       p.CreatedAt,
	}
}

type stepView struct {
	Step      int        `json:"step"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func toStepViews(steps []progress.StepView) []stepView {
	out := make([]stepView, 0, len(steps))
	for _, s := range steps {
		v := stepView{Step: s.StepNumber, Name: s.Name, Status: string(s.Status), UpdatedAt: s.UpdatedAt}
		if s.Error != nil {
			v.Error = strings.TrimSpace(*s.Error)
		}
		out = append(out, v)
	}
	return out
}

type sectionView struct {
	ProvisionID  uuid.UUID  `json:"provisionId"`
	ProductType  string     `json:"productType"`
	Title        string     `json:"title"`
	Status       string     `json:"status"`
	Provisioning bool       `json:"provisioning"`
	Steps        []stepView `json:"steps"`
}

type snapshotView struct {
	Sections     []sectionView `json:"sections"`
	AllActive    bool          `json:"allActive"`
	AnyFailed    bool          `json:"anyFailed"`
	Provisioning bool          `json:"provisioning"`
}

func toSnapshotView(s progress.Snapshot) snapshotView {
	out := snapshotView{
		Sections:     make([]sectionView, 0, len(s.Sections)),
		AllActive:    s.Aggregate.AllActive,
		AnyFailed:    s.Aggregate.AnyFailed,
		Provisioning: s.Provisioning,
	}
	for _, sec := range s.Sections {
		out.Sections = append(out.Sections, sectionView{
			ProvisionID:  sec.ProvisionID,
			ProductType:  string(sec.Product),
			Title:        sec.Title,
			Status:       string(sec.Status),
			Provisioning: sec.Provisioning,
			Steps:        toStepViews(sec.Steps),
		})
	}
	return out
}
