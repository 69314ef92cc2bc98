package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/lifecycle"
	provisions "github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/metrics"
)

var (
	ErrSessionNotFound  = errors.New("wizard session not found")
	ErrNothingToBuy     = errors.New("every requested product is already purchased")
	ErrInvalidBrand     = errors.New("brand must contain at least one letter or digit")
	ErrAvailability     = errors.New("domain availability check failed")
	ErrNotReady         = errors.New("wizard is not ready for checkout")
	ErrAlreadyPaid      = errors.New("this submission was already paid")
	ErrNoCheckoutURL    = errors.New("checkout returned no redirect url")
	ErrUnknownTier      = errors.New("tier not found")
	ErrProductsRequired = errors.New("at least one product is required")
)

// Submission stages, in order.
const (
	StageProvision = "provision"
	StageDomains   = "domains"
	StageCheckout  = "checkout"
)

// SubmissionError names the stage at which a submission failed.
type SubmissionError struct {
	Stage string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed at %s stage: %v", e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// SessionStore keeps wizard sessions between requests.
type SessionStore interface {
	Save(ctx context.Context, s State) error
	Get(ctx context.Context, id uuid.UUID) (State, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Availability looks up purchasable domains for a brand token.
type Availability interface {
	Search(ctx context.Context, brand string) ([]DomainOption, error)
}

// CheckoutRequest is sent to the payment collaborator.
type CheckoutRequest struct {
	ProvisionID  uuid.UUID
	ProvisionIDs []uuid.UUID
	OwnerID      string
	TierID       *uuid.UUID
}

// Checkout creates a hosted checkout session and returns its url.
type Checkout interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (string, error)
}

// ProvisionWriter is the part of the provision store the wizard uses.
type ProvisionWriter interface {
	ListTiers(ctx context.Context) ([]provisions.Tier, error)
	GetTier(ctx context.Context, id uuid.UUID) (provisions.Tier, error)
	CreateProvision(ctx context.Context, p provisions.Provision) (provisions.Provision, error)
	FindProvisionBySubmissionKey(ctx context.Context, ownerID string, product provisions.ProductType, key string) (provisions.Provision, error)
	ListProvisionsByOwner(ctx context.Context, ownerID string) ([]provisions.Provision, error)
	DeletePendingProvision(ctx context.Context, id uuid.UUID) error
	CreateDomains(ctx context.Context, provisionID uuid.UUID, domains []provisions.Domain) ([]provisions.Domain, error)
	ListDomains(ctx context.Context, provisionID uuid.UUID) ([]provisions.Domain, error)
}

// SubmissionResult is returned once checkout has been created.
type SubmissionResult struct {
	Provisions  []provisions.Provision
	CheckoutURL string
	// Reused is true when an earlier pending submission was picked up again.
	Reused bool
}

// Service drives wizard sessions and hands finished ones to checkout.
type Service struct {
	repo         ProvisionWriter
	sessions     SessionStore
	availability Availability
	checkout     Checkout
	logger       *zap.Logger
	now          func() time.Time
}

func New(repo ProvisionWriter, sessions SessionStore, availability Availability, checkout Checkout, logger *zap.Logger) *Service {
	if repo == nil {
		panic("provision store is required")
	}
	if sessions == nil {
		panic("session store is required")
	}
	if availability == nil {
		panic("availability client is required")
	}
	if checkout == nil {
		panic("checkout client is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Service{
		repo:         repo,
		sessions:     sessions,
		availability: availability,
		checkout:     checkout,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Start opens a session for the requested products. Products the owner
// already paid for are dropped, so the dashboard's "add missing product"
// action leaves the existing provision untouched. An unpaid earlier
// submission pre-fills the session.
func (s *Service) Start(ctx context.Context, ownerID string, requested []provisions.ProductType) (State, error) {
	existing, err := s.repo.ListProvisionsByOwner(ctx, ownerID)
	if err != nil {
		return State{}, fmt.Errorf("list provisions: %w", err)
	}
	if len(requested) == 0 {
		requested = provisions.Products
	}

	current := lifecycle.Current(existing)
	var products []provisions.ProductType
	var pending []provisions.Provision
	for _, product := range provisions.Products {
		if !slices.Contains(requested, product) {
			continue
		}
		latest, ok := findProduct(current, product)
		if ok && latest.Status != provisions.StatusPendingPayment {
			continue
		}
		products = append(products, product)
		if ok {
			pending = append(pending, latest)
		}
	}
	if len(products) == 0 {
		return State{}, ErrNothingToBuy
	}

	state := NewState(ownerID, products)
	for _, p := range pending {
		if err := s.prefill(ctx, &state, p); err != nil {
			return State{}, err
		}
	}

	state.CreatedAt = s.now()
	state.UpdatedAt = state.CreatedAt
	if err := s.sessions.Save(ctx, state); err != nil {
		return State{}, fmt.Errorf("save wizard session: %w", err)
	}
	s.logger.Info("wizard session started",
		zap.String("session_id", state.ID.String()),
		zap.String("owner_id", ownerID),
		zap.Int("products", len(products)),
		zap.Bool("prefilled", len(pending) > 0))
	return state, nil
}

func (s *Service) prefill(ctx context.Context, state *State, p provisions.Provision) error {
	if p.ProductType != provisions.ProductEmailInfra {
		if state.SubmissionKey == "" && p.SubmissionKey != nil {
			state.SubmissionKey = *p.SubmissionKey
		}
		return nil
	}
	var tier *provisions.Tier
	if p.TierID != nil {
		t, err := s.repo.GetTier(ctx, *p.TierID)
		if err != nil && !errors.Is(err, provisions.ErrTierNotFound) {
			return fmt.Errorf("load tier: %w", err)
		}
		if err == nil {
			tier = &t
		}
	}
	domains, err := s.repo.ListDomains(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("load domains: %w", err)
	}
	state.Restore(p, tier, domains)
	return nil
}

// Get returns a session owned by ownerID.
func (s *Service) Get(ctx context.Context, id uuid.UUID, ownerID string) (State, error) {
	state, err := s.sessions.Get(ctx, id)
	if err != nil {
		return State{}, err
	}
	if state.OwnerID != ownerID {
		return State{}, ErrSessionNotFound
	}
	return state, nil
}

// Discard drops a session.
func (s *Service) Discard(ctx context.Context, id uuid.UUID, ownerID string) error {
	if _, err := s.Get(ctx, id, ownerID); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, id)
}

// update loads a session, applies fn and saves it only when fn succeeds.
func (s *Service) update(ctx context.Context, id uuid.UUID, ownerID string, fn func(*State) error) (State, error) {
	state, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return State{}, err
	}
	if err := fn(&state); err != nil {
		return state, err
	}
	state.UpdatedAt = s.now()
	if err := s.sessions.Save(ctx, state); err != nil {
		return State{}, fmt.Errorf("save wizard session: %w", err)
	}
	return state, nil
}

func (s *Service) ListTiers(ctx context.Context) ([]provisions.Tier, error) {
	return s.repo.ListTiers(ctx)
}

func (s *Service) SelectTier(ctx context.Context, id uuid.UUID, ownerID string, tierID uuid.UUID) (State, error) {
	tier, err := s.repo.GetTier(ctx, tierID)
	if errors.Is(err, provisions.ErrTierNotFound) {
		return State{}, ErrUnknownTier
	}
	if err != nil {
		return State{}, fmt.Errorf("load tier: %w", err)
	}
	return s.update(ctx, id, ownerID, func(st *State) error {
		return st.SelectTier(ChoiceFromTier(tier))
	})
}

// SearchDomains runs an availability search. A failed search leaves the
// session exactly as it was so the user can retry.
func (s *Service) SearchDomains(ctx context.Context, id uuid.UUID, ownerID, brand string) (State, error) {
	brand = NormalizeBrand(brand)
	if brand == "" {
		return State{}, ErrInvalidBrand
	}
	state, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return State{}, err
	}
	if !state.configurable() {
		return state, ErrNotConfigurable
	}

	options, err := s.availability.Search(ctx, brand)
	if err != nil {
		s.logger.Warn("domain availability check failed",
			zap.String("session_id", id.String()), zap.String("brand", brand), zap.Error(err))
		return state, fmt.Errorf("%w: %v", ErrAvailability, err)
	}
	for i := range options {
		options[i].DomainName = strings.ToLower(options[i].DomainName)
		if options[i].ServiceProvider == "" {
			options[i].ServiceProvider = state.ServiceProvider
		}
	}

	return s.update(ctx, id, ownerID, func(st *State) error {
		st.SetSearchResults(brand, options)
		return nil
	})
}

func (s *Service) ToggleDomain(ctx context.Context, id uuid.UUID, ownerID, domain string) (State, error) {
	return s.update(ctx, id, ownerID, func(st *State) error {
		return st.ToggleDomain(domain)
	})
}

func (s *Service) SetMailboxes(ctx context.Context, id uuid.UUID, ownerID, p1, p2 string, provider provisions.ServiceProvider) (State, error) {
	return s.update(ctx, id, ownerID, func(st *State) error {
		if provider != "" {
			st.SetServiceProvider(provider)
		}
		return st.SetPatterns(p1, p2)
	})
}

func (s *Service) Next(ctx context.Context, id uuid.UUID, ownerID string) (State, error) {
	return s.update(ctx, id, ownerID, func(st *State) error { return st.Next() })
}

func (s *Service) Back(ctx context.Context, id uuid.UUID, ownerID string) (State, error) {
	return s.update(ctx, id, ownerID, func(st *State) error { return st.Back() })
}

// Submit turns a finished session into pending_payment provisions and a
// checkout session. Retrying with the same key reuses the provisions created
// by an earlier attempt.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, ownerID, key string) (SubmissionResult, error) {
	state, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return SubmissionResult{}, err
	}
	if state.Current() != StepCheckout || !state.ReadyForCheckout() {
		return SubmissionResult{}, ErrNotReady
	}

	switch {
	case state.SubmissionKey != "":
		key = state.SubmissionKey
	case key == "":
		key = "session:" + state.ID.String()
	}
	if state.SubmissionKey != key {
		state.SubmissionKey = key
		if err := s.sessions.Save(ctx, state); err != nil {
			return SubmissionResult{}, fmt.Errorf("save wizard session: %w", err)
		}
	}

	logger := s.logger.With(zap.String("session_id", id.String()), zap.String("owner_id", ownerID), zap.String("submission_key", key))

	result := SubmissionResult{Reused: true}
	for _, product := range state.Products {
		p, reused, err := s.persist(ctx, &state, product, key)
		if err != nil {
			var subErr *SubmissionError
			if errors.As(err, &subErr) {
				metrics.RecordSubmission(subErr.Stage, "error")
			}
			logger.Error("wizard submission failed", zap.String("product", string(product)), zap.Error(err))
			return SubmissionResult{}, err
		}
		result.Reused = result.Reused && reused
		result.Provisions = append(result.Provisions, p)
	}

	req := CheckoutRequest{OwnerID: ownerID}
	for _, p := range result.Provisions {
		req.ProvisionIDs = append(req.ProvisionIDs, p.ID)
		if req.ProvisionID == uuid.Nil || p.ProductType == provisions.ProductEmailInfra {
			req.ProvisionID = p.ID
			req.TierID = p.TierID
		}
	}
	url, err := s.checkout.CreateSession(ctx, req)
	if err == nil && url == "" {
		err = ErrNoCheckoutURL
	}
	if err != nil {
		// provisions stay pending_payment for retry and the pre-filled wizard
		metrics.RecordSubmission(StageCheckout, "error")
		logger.Error("checkout session creation failed", zap.Error(err))
		return SubmissionResult{}, &SubmissionError{Stage: StageCheckout, Err: err}
	}
	result.CheckoutURL = url

	if err := s.sessions.Delete(ctx, id); err != nil {
		logger.Warn("delete submitted wizard session", zap.Error(err))
	}
	metrics.RecordSubmission(StageCheckout, "ok")
	logger.Info("wizard submitted", zap.Int("provisions", len(result.Provisions)), zap.Bool("reused", result.Reused))
	return result, nil
}

// persist creates or reuses the pending provision for one product.
func (s *Service) persist(ctx context.Context, state *State, product provisions.ProductType, key string) (provisions.Provision, bool, error) {
	prior, err := s.repo.FindProvisionBySubmissionKey(ctx, state.OwnerID, product, key)
	switch {
	case err == nil:
		if prior.Status != provisions.StatusPendingPayment {
			return provisions.Provision{}, false, &SubmissionError{Stage: StageProvision, Err: ErrAlreadyPaid}
		}
		same, err := s.matches(ctx, state, product, prior)
		if err != nil {
			return provisions.Provision{}, false, &SubmissionError{Stage: StageProvision, Err: err}
		}
		if same {
			return prior, true, nil
		}
		// the user changed their selection since the earlier attempt
		if err := s.repo.DeletePendingProvision(ctx, prior.ID); err != nil {
			return provisions.Provision{}, false, &SubmissionError{Stage: StageProvision, Err: err}
		}
	case !errors.Is(err, provisions.ErrNotFound):
		return provisions.Provision{}, false, &SubmissionError{Stage: StageProvision, Err: err}
	}

	draft := provisions.Provision{
		OwnerID:         state.OwnerID,
		ProductType:     product,
		Status:          provisions.StatusPendingPayment,
		ServiceProvider: state.ServiceProvider,
		SubmissionKey:   &key,
	}
	if product == provisions.ProductEmailInfra {
		tierID := state.Tier.ID
		draft.TierID = &tierID
		draft.MailboxPattern1 = state.Pattern1
		draft.MailboxPattern2 = state.Pattern2
	}

	p, err := s.repo.CreateProvision(ctx, draft)
	if errors.Is(err, provisions.ErrDuplicateKey) {
		// a concurrent submit with the same key won
		p, err = s.repo.FindProvisionBySubmissionKey(ctx, state.OwnerID, product, key)
		if err == nil {
			return p, true, nil
		}
	}
	if err != nil {
		return provisions.Provision{}, false, &SubmissionError{Stage: StageProvision, Err: err}
	}
	metrics.RecordSubmission(StageProvision, "ok")

	if product != provisions.ProductEmailInfra {
		return p, false, nil
	}
	if _, err := s.repo.CreateDomains(ctx, p.ID, domainRows(state)); err != nil {
		if delErr := s.repo.DeletePendingProvision(ctx, p.ID); delErr != nil {
			s.logger.Error("compensating delete failed; pending provision left behind",
				zap.String("provision_id", p.ID.String()), zap.Error(delErr))
		}
		return provisions.Provision{}, false, &SubmissionError{Stage: StageDomains, Err: err}
	}
	metrics.RecordSubmission(StageDomains, "ok")
	return p, false, nil
}

// matches reports whether an earlier pending provision carries the same
// configuration as the session.
func (s *Service) matches(ctx context.Context, state *State, product provisions.ProductType, p provisions.Provision) (bool, error) {
	if product != provisions.ProductEmailInfra {
		return true, nil
	}
	if p.TierID == nil || state.Tier == nil || *p.TierID != state.Tier.ID {
		return false, nil
	}
	if p.MailboxPattern1 != state.Pattern1 || p.MailboxPattern2 != state.Pattern2 || p.ServiceProvider != state.ServiceProvider {
		return false, nil
	}
	domains, err := s.repo.ListDomains(ctx, p.ID)
	if err != nil {
		return false, err
	}
	have := make([]string, 0, len(domains))
	for _, d := range domains {
		have = append(have, d.DomainName)
	}
	want := state.DomainNames()
	slices.Sort(have)
	slices.Sort(want)
	return slices.Equal(have, want), nil
}

func domainRows(state *State) []provisions.Domain {
	rows := make([]provisions.Domain, 0, len(state.Selected))
	for _, sel := range state.Selected {
		d := provisions.Domain{
			DomainName:       sel.DomainName,
			Status:           provisions.DomainPending,
			ServiceProvider:  sel.ServiceProvider,
			DomainPriceCents: sel.PriceCents,
		}
		for _, email := range MailboxPreview([]string{sel.DomainName}, state.Pattern1, state.Pattern2) {
			d.Mailboxes = append(d.Mailboxes, provisions.Mailbox{Email: email, Status: provisions.MailboxPending})
		}
		rows = append(rows, d)
	}
	return rows
}

func findProduct(ps []provisions.Provision, product provisions.ProductType) (provisions.Provision, bool) {
	for _, p := range ps {
		if p.ProductType == product {
			return p, true
		}
	}
	return provisions.Provision{}, false
}
