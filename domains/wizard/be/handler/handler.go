package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	provisions "github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/wizard/be/service"
	platformauth "github.com/modernagencysales/gc-member-portal-sub004/platform/go/auth"
	platformlogging "github.com/modernagencysales/gc-member-portal-sub004/platform/go/logging"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/problem"
)

// IdempotencyKeyHeader lets clients retry a submit without a second order.
const IdempotencyKeyHeader = "Idempotency-Key"

type operation string

const (
	startOperation   operation = "wizardStart"
	getOperation     operation = "wizardGet"
	discardOperation operation = "wizardDiscard"
	tierOperation    operation = "wizardSelectTier"
	searchOperation  operation = "wizardSearchDomains"
	toggleOperation  operation = "wizardToggleDomain"
	mailboxOperation operation = "wizardSetMailboxes"
	nextOperation    operation = "wizardNext"
	backOperation    operation = "wizardBack"
	submitOperation  operation = "wizardSubmit"
)

const maxRequestBodyLen = 64 << 10

// Service is the wizard behaviour the handler drives.
type Service interface {
	Start(ctx context.Context, ownerID string, products []provisions.ProductType) (service.State, error)
	Get(ctx context.Context, id uuid.UUID, ownerID string) (service.State, error)
	Discard(ctx context.Context, id uuid.UUID, ownerID string) error
	SelectTier(ctx context.Context, id uuid.UUID, ownerID string, tierID uuid.UUID) (service.State, error)
	SearchDomains(ctx context.Context, id uuid.UUID, ownerID, brand string) (service.State, error)
	ToggleDomain(ctx context.Context, id uuid.UUID, ownerID, domain string) (service.State, error)
	SetMailboxes(ctx context.Context, id uuid.UUID, ownerID, p1, p2 string, provider provisions.ServiceProvider) (service.State, error)
	Next(ctx context.Context, id uuid.UUID, ownerID string) (service.State, error)
	Back(ctx context.Context, id uuid.UUID, ownerID string) (service.State, error)
	Submit(ctx context.Context, id uuid.UUID, ownerID, key string) (service.SubmissionResult, error)
}

var _ Service = (*service.Service)(nil)

// Handler exposes wizard sessions over HTTP.
type Handler struct {
	svc      Service
	validate *validator.Validate
	logger   *zap.Logger
}

func New(svc Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("wizard service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, validate: newValidator(), logger: logger}
}

// Routes mounts the wizard endpoints; callers wrap it with auth.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/sessions", h.start)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Delete("/", h.discard)
		r.Put("/tier", h.selectTier)
		r.Post("/domains/search", h.searchDomains)
		r.Post("/domains/toggle", h.toggleDomain)
		r.Put("/mailboxes", h.setMailboxes)
		r.Post("/next", h.next)
		r.Post("/back", h.back)
		r.Post("/submit", h.submit)
	})
	return r
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("mailbox_pattern", func(fl validator.FieldLevel) bool {
		return service.IsValidPattern(strings.TrimSpace(fl.Field().String()))
	})
	return v
}

type startRequest struct {
	Products []string `json:"products" validate:"omitempty,max=2,dive,oneof=email_infra outreach_tools"`
}

type tierRequest struct {
	TierID string `json:"tierId" validate:"required,uuid"`
}

type searchRequest struct {
	Brand string `json:"brand" validate:"required,max=63"`
}

type toggleRequest struct {
	Domain string `json:"domain" validate:"required,fqdn"`
}

type mailboxRequest struct {
	Pattern1        string `json:"pattern1" validate:"mailbox_pattern"`
	Pattern2        string `json:"pattern2" validate:"mailbox_pattern"`
	ServiceProvider string `json:"serviceProvider" validate:"omitempty,oneof=GOOGLE MICROSOFT google microsoft"`
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req startRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	products := make([]provisions.ProductType, 0, len(req.Products))
	for _, p := range req.Products {
		products = append(products, provisions.ProductType(p))
	}

	state, err := h.svc.Start(r.Context(), owner, products)
	if err != nil {
		h.fail(w, r, err, startOperation)
		return
	}
	w.Header().Set("Location", "/api/v1/wizard/sessions/"+state.ID.String())
	problem.JSON(w, http.StatusCreated, toSessionView(state))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, getOperation, func(ctx context.Context, id uuid.UUID, owner string) (service.State, error) {
		return h.svc.Get(ctx, id, owner)
	})
}

func (h *Handler) discard(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.svc.Discard(r.Context(), id, owner); err != nil {
		h.fail(w, r, err, discardOperation)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) selectTier(w http.ResponseWriter, r *http.Request) {
	var req tierRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.withSession(w, r, tierOperation, func(ctx context.Context, id uuid.UUID, owner string) (service.State, error) {
		return h.svc.SelectTier(ctx, id, owner, uuid.MustParse(req.TierID))
	})
}

func (h *Handler) searchDomains(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.withSession(w, r, searchOperation, func(ctx context.Context, id uuid.UUID, owner string) (service.State, error) {
		return h.svc.SearchDomains(ctx, id, owner, req.Brand)
	})
}

func (h *Handler) toggleDomain(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.withSession(w, r, toggleOperation, func(ctx context.Context, id uuid.UUID, owner string) (service.State, error) {
		return h.svc.ToggleDomain(ctx, id, owner, req.Domain)
	})
}

func (h *Handler) setMailboxes(w http.ResponseWriter, r *http.Request) {
	var req mailboxRequest
	if !h.decode(w, r, &req) {
		return
	}
	var provider provisions.ServiceProvider
	if req.ServiceProvider != "" {
		provider, _ = provisions.ParseServiceProvider(req.ServiceProvider)
	}
	h.withSession(w, r, mailboxOperation, func(ctx context.Context, id uuid.UUID, owner string) (service.State, error) {
		return h.svc.SetMailboxes(ctx, id, owner, req.Pattern1, req.Pattern2, provider)
	})
}

func (h *Handler) next(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, nextOperation, func(ctx context.Context, id uuid.UUID, owner string) (service.State, error) {
		return h.svc.Next(ctx, id, owner)
	})
}

func (h *Handler) back(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, backOperation, func(ctx context.Context, id uuid.UUID, owner string) (service.State, error) {
		return h.svc.Back(ctx, id, owner)
	})
}

type submittedProvision struct {
	ID          uuid.UUID `json:"id"`
	ProductType string    `json:"productType"`
	Status      string    `json:"status"`
}

type submitResponse struct {
	Provisions  []submittedProvision `json:"provisions"`
	CheckoutURL string               `json:"checkoutUrl"`
	Reused      bool                 `json:"reused"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	owner, id, ok := h.session(w, r)
	if !ok {
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))

	res, err := h.svc.Submit(r.Context(), id, owner, key)
	if err != nil {
		h.fail(w, r, err, submitOperation)
		return
	}
	out := submitResponse{CheckoutURL: res.CheckoutURL, Reused: res.Reused}
	for _, p := range res.Provisions {
		out.Provisions = append(out.Provisions, submittedProvision{ID: p.ID, ProductType: string(p.ProductType), Status: string(p.Status)})
	}
	problem.JSON(w, http.StatusOK, out)
}

// withSession resolves owner and session id, runs fn and renders the state.
// Rejected transitions render the unchanged state's field errors.
func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, op operation, fn func(ctx context.Context, id uuid.UUID, owner string) (service.State, error)) {
	owner, id, ok := h.session(w, r)
	if !ok {
		return
	}
	state, err := fn(r.Context(), id, owner)
	if errors.Is(err, service.ErrStepInvalid) {
		h.loggerFrom(r.Context()).Info("wizard step blocked", zap.String("operation", string(op)), zap.String("step", string(state.Current())))
		problem.Write(w, problem.New(http.StatusUnprocessableEntity, "Step incomplete",
			"complete the current step before continuing", problem.TypeValidation).WithFields(state.FieldErrors()))
		return
	}
	if err != nil {
		h.fail(w, r, err, op)
		return
	}
	problem.JSON(w, http.StatusOK, toSessionView(state))
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := platformauth.OwnerID(r.Context())
	if !ok {
		problem.Write(w, problem.New(http.StatusUnauthorized, "Unauthorized", "missing credentials", problem.TypeUnauthorized))
		return "", false
	}
	return owner, true
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	owner, ok := h.owner(w, r)
	if !ok {
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		problem.Write(w, problem.New(http.StatusNotFound, "Resource not found", "wizard session not found", problem.TypeNotFound))
		return "", uuid.Nil, false
	}
	return owner, id, true
}

// decode reads a JSON body into dst and validates it. It writes the problem
// response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyLen))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		problem.Write(w, problem.New(http.StatusBadRequest, "Invalid request body", err.Error(), problem.TypeValidation))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			problem.Write(w, problem.New(http.StatusBadRequest, "Invalid request body", err.Error(), problem.TypeValidation))
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fieldName(fe)] = fieldMessage(fe)
		}
		problem.Write(w, problem.New(http.StatusUnprocessableEntity, "Validation failed",
			"one or more fields are invalid", problem.TypeValidation).WithFields(fields))
		return false
	}
	return true
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "mailbox_pattern":
		if strings.TrimSpace(fe.Value().(string)) == "" {
			return "Pattern is required"
		}
		return "Pattern cannot start or end with '.', '_' or '-'"
	case "uuid":
		return "Must be a valid id"
	case "fqdn":
		return "Must be a domain name"
	case "oneof":
		return "Must be one of: " + fe.Param()
	case "max":
		return "Too long"
	default:
		return "Invalid value"
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, op operation) {
	details := classifyError(err)
	logger := h.loggerFrom(r.Context())
	fields := []zap.Field{zap.String("operation", string(op)), zap.Int("status", details.Status), zap.Error(err)}
	switch {
	case details.Status >= http.StatusInternalServerError:
		logger.Error("wizard operation failed", fields...)
	case details.Status == http.StatusNotFound:
		logger.Info("wizard resource not found", fields...)
	default:
		logger.Warn("wizard request rejected", fields...)
	}
	problem.Write(w, details)
}

func classifyError(err error) problem.Details {
	var subErr *service.SubmissionError
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return problem.New(http.StatusNotFound, "Resource not found", "wizard session not found", problem.TypeNotFound)
	case errors.Is(err, service.ErrUnknownTier):
		return problem.New(http.StatusUnprocessableEntity, "Validation failed", "tier not found", problem.TypeValidation).
			WithFields(map[string]string{"tierId": "Unknown tier"})
	case errors.Is(err, service.ErrInvalidBrand):
		return problem.New(http.StatusUnprocessableEntity, "Validation failed", err.Error(), problem.TypeValidation).
			WithFields(map[string]string{"brand": "Use letters or digits"})
	case errors.Is(err, service.ErrDomainLimit),
		errors.Is(err, service.ErrDomainUnavailable),
		errors.Is(err, service.ErrUnknownDomain),
		errors.Is(err, service.ErrNoTier):
		return problem.New(http.StatusUnprocessableEntity, "Selection rejected", err.Error(), problem.TypeValidation).
			WithFields(map[string]string{"domains": err.Error()})
	case errors.Is(err, service.ErrNotReady):
		return problem.New(http.StatusUnprocessableEntity, "Wizard incomplete", err.Error(), problem.TypeValidation)
	case errors.Is(err, service.ErrNothingToBuy),
		errors.Is(err, service.ErrNotConfigurable),
		errors.Is(err, service.ErrFirstStep),
		errors.Is(err, service.ErrLastStep),
		errors.Is(err, service.ErrAlreadyPaid):
		d := problem.New(http.StatusConflict, "Conflict", err.Error(), problem.TypeConflict)
		if errors.As(err, &subErr) {
			d.Stage = subErr.Stage
		}
		return d
	case errors.Is(err, service.ErrAvailability):
		return problem.New(http.StatusBadGateway, "Domain search unavailable",
			"We could not check domain availability. Please try the search again.", problem.TypeUpstream)
	case errors.As(err, &subErr):
		d := problem.New(http.StatusBadGateway, "Submission failed", submissionMessage(subErr.Stage), problem.TypeUpstream)
		if subErr.Stage != service.StageCheckout {
			d.Status = http.StatusInternalServerError
			d.Type = problem.TypeInternal
		}
		d.Stage = subErr.Stage
		return d
	default:
		return problem.Internal()
	}
}

func submissionMessage(stage string) string {
	switch stage {
	case service.StageProvision:
		return "We could not save your order. Please try again."
	case service.StageDomains:
		return "We could not save your domain selection. Please try again."
	default:
		return "We could not start checkout. Your selections are saved; please try again."
	}
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}

type optionView struct {
	DomainName      string `json:"domainName"`
	Available       bool   `json:"available"`
	PriceCents      int64  `json:"priceCents"`
	ServiceProvider string `json:"serviceProvider"`
}

type sessionView struct {
	ID              uuid.UUID           `json:"id"`
	Products        []string            `json:"products"`
	Steps           []string            `json:"steps"`
	CurrentStep     string              `json:"currentStep"`
	StepIndex       int                 `json:"stepIndex"`
	Valid           bool                `json:"valid"`
	FieldErrors     map[string]string   `json:"fieldErrors"`
	Tier            *service.TierChoice `json:"tier,omitempty"`
	Brand           string              `json:"brand,omitempty"`
	Options         []optionView        `json:"options"`
	Selected        []string            `json:"selectedDomains"`
	ServiceProvider string              `json:"serviceProvider"`
	Pattern1        string              `json:"pattern1"`
	Pattern2        string              `json:"pattern2"`
	MailboxPreview  []string            `json:"mailboxPreview"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

func toSessionView(s service.State) sessionView {
	view := sessionView{
		ID:              s.ID,
		CurrentStep:     string(s.Current()),
		StepIndex:       s.StepIndex,
		Valid:           s.Valid(s.Current()),
		FieldErrors:     s.FieldErrors(),
		Tier:            s.Tier,
		Brand:           s.Brand,
		Options:         make([]optionView, 0, len(s.Options)),
		Selected:        s.DomainNames(),
		ServiceProvider: string(s.ServiceProvider),
		Pattern1:        s.Pattern1,
		Pattern2:        s.Pattern2,
		MailboxPreview:  s.MailboxPreview(),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	for _, p := range s.Products {
		view.Products = append(view.Products, string(p))
	}
	for _, step := range s.Steps() {
		view.Steps = append(view.Steps, string(step))
	}
	for _, o := range s.Options {
		view.Options = append(view.Options, optionView{
			DomainName: o.DomainName, Available: o.Available, PriceCents: o.PriceCents, ServiceProvider: string(o.ServiceProvider),
		})
	}
	return view
}
