package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/metrics"
)

// Errors returned by the service layer.
var (
	ErrNotFound          = errors.New("provision not found")
	ErrTierNotFound      = errors.New("tier not found")
	ErrDuplicateKey      = errors.New("submission key already used")
	ErrInvalidTransition = errors.New("provision status transition not allowed")
	ErrStaleStatus       = errors.New("provision status changed concurrently")
	ErrUnknownProduct    = errors.New("unknown product type")
	ErrNotDeletable      = errors.New("only pending_payment provisions can be deleted")
)

// Repository is the Provision Store contract.
type Repository interface {
	ListTiers(ctx context.Context) ([]Tier, error)
	GetTier(ctx context.Context, id uuid.UUID) (Tier, error)

	CreateProvision(ctx context.Context, p Provision) (Provision, error)
	GetProvision(ctx context.Context, id uuid.UUID) (Provision, error)
	FindProvisionBySubmissionKey(ctx context.Context, ownerID string, product ProductType, key string) (Provision, error)
	ListProvisionsByOwner(ctx context.Context, ownerID string) ([]Provision, error)
	ListProvisionsByStatus(ctx context.Context, status Status) ([]Provision, error)
	// DeletePendingProvision removes a provision that never left pending_payment, cascading its domains.
	DeletePendingProvision(ctx context.Context, id uuid.UUID) error
	// TransitionStatus applies from -> to only if the stored status still equals from.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status, detail *string) (Provision, error)
	SetVendorRefs(ctx context.Context, id uuid.UUID, refs VendorRefs) error

	CreateDomains(ctx context.Context, provisionID uuid.UUID, domains []Domain) ([]Domain, error)
	ListDomains(ctx context.Context, provisionID uuid.UUID) ([]Domain, error)
	SetDomainStatus(ctx context.Context, domainID uuid.UUID, status DomainStatus) error
	SetMailboxStatus(ctx context.Context, provisionID uuid.UUID, status MailboxStatus) error

	AppendStepLog(ctx context.Context, entry StepLog) (StepLog, error)
	ListStepLogs(ctx context.Context, provisionID uuid.UUID) ([]StepLog, error)
}

// Enqueuer hands a provision to the asynchronous job runner.
type Enqueuer interface {
	Enqueue(ctx context.Context, provisionID uuid.UUID) error
}

// Service exposes provision reads and the status transitions driven from outside the engine.
type Service struct {
	repo   Repository
	queue  Enqueuer
	logger *zap.Logger
}

// New constructs a Service with required dependencies.
func New(repo Repository, queue Enqueuer, logger *zap.Logger) *Service {
	if repo == nil {
		panic("provisions repo is required")
	}
	if queue == nil {
		panic("provisioning queue is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Service{repo: repo, queue: queue, logger: logger}
}

// ListTiers returns the tier catalog.
func (s *Service) ListTiers(ctx context.Context) ([]Tier, error) {
	return s.repo.ListTiers(ctx)
}

// Get returns one provision.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Provision, error) {
	return s.repo.GetProvision(ctx, id)
}

// ListForOwner returns every provision the owner has, oldest first.
func (s *Service) ListForOwner(ctx context.Context, ownerID string) ([]Provision, error) {
	return s.repo.ListProvisionsByOwner(ctx, ownerID)
}

// Domains returns the provision's domains with mailboxes.
func (s *Service) Domains(ctx context.Context, id uuid.UUID) ([]Domain, error) {
	return s.repo.ListDomains(ctx, id)
}

// StepLogs returns the provision's step log in append order.
func (s *Service) StepLogs(ctx context.Context, id uuid.UUID) ([]StepLog, error) {
	return s.repo.ListStepLogs(ctx, id)
}

// Transition validates and applies a status change.
func Transition(ctx context.Context, repo Repository, p Provision, to Status, detail *string) (Provision, error) {
	if !CanTransition(p.Status, to) {
		return Provision{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	next, err := repo.TransitionStatus(ctx, p.ID, p.Status, to, detail)
	if err != nil {
		return Provision{}, err
	}
	metrics.RecordStatusTransition(string(p.ProductType), string(p.Status), string(to))
	return next, nil
}

// ActivatePayment moves paid provisions into provisioning and queues them.
// A provision already provisioning is queued again, so a redelivered
// callback recovers from an earlier enqueue failure; both queues ignore ids
// that are already waiting or running. Settled provisions are left alone.
func (s *Service) ActivatePayment(ctx context.Context, ids []uuid.UUID) ([]Provision, error) {
	out := make([]Provision, 0, len(ids))
	for _, id := range ids {
		p, err := s.repo.GetProvision(ctx, id)
		if err != nil {
			return out, fmt.Errorf("load provision %s: %w", id, err)
		}

		switch p.Status {
		case StatusPendingPayment:
			next, err := Transition(ctx, s.repo, p, StatusProvisioning, nil)
			if errors.Is(err, ErrStaleStatus) {
				// a concurrent callback won the race
				if next, err = s.repo.GetProvision(ctx, id); err != nil {
					return out, err
				}
			} else if err != nil {
				return out, fmt.Errorf("activate provision %s: %w", id, err)
			}
			p = next
		case StatusProvisioning:
		default:
			s.logger.Info("checkout callback for settled provision ignored",
				zap.String("provision_id", id.String()), zap.String("status", string(p.Status)))
			out = append(out, p)
			continue
		}

		if p.Status == StatusProvisioning {
			if err := s.queue.Enqueue(ctx, id); err != nil {
				return out, fmt.Errorf("enqueue provision %s: %w", id, err)
			}
			s.logger.Info("provision paid and queued",
				zap.String("provision_id", id.String()), zap.String("product", string(p.ProductType)))
		}
		out = append(out, p)
	}
	return out, nil
}

// ResumeInFlight re-queues every provision still provisioning, e.g. after a worker restart.
func (s *Service) ResumeInFlight(ctx context.Context) (int, error) {
	inFlight, err := s.repo.ListProvisionsByStatus(ctx, StatusProvisioning)
	if err != nil {
		return 0, err
	}
	for _, p := range inFlight {
		if err := s.queue.Enqueue(ctx, p.ID); err != nil {
			return 0, fmt.Errorf("enqueue provision %s: %w", p.ID, err)
		}
	}
	return len(inFlight), nil
}

// FindLatest returns the newest provision of the product, if any.
func FindLatest(provisions []Provision, product ProductType) (Provision, bool) {
	var latest Provision
	found := false
	for _, p := range provisions {
		if p.ProductType != product {
			continue
		}
		if !found || !p.CreatedAt.Before(latest.CreatedAt) {
			latest = p
			found = true
		}
	}
	return latest, found
}
