package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/persistence"
)

// Stores groups the persistence stores backing the Provision Store.
type Stores struct {
	Tiers      *persistence.TierStore
	Provisions *persistence.ProvisionStore
	Domains    *persistence.DomainStore
	StepLogs   *persistence.StepLogStore
}

// PostgresRepository implements service.Repository on top of the shared persistence layer.
type PostgresRepository struct {
	stores Stores
}

// NewPostgresRepository constructs a repository backed by the given stores.
func NewPostgresRepository(stores Stores) *PostgresRepository {
	if stores.Tiers == nil || stores.Provisions == nil || stores.Domains == nil || stores.StepLogs == nil {
		panic("provision stores are required")
	}
	return &PostgresRepository{stores: stores}
}

func (r *PostgresRepository) ListTiers(ctx context.Context) ([]service.Tier, error) {
	rows, err := r.stores.Tiers.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]service.Tier, 0, len(rows))
	for _, rec := range rows {
		out = append(out, toServiceTier(rec))
	}
	return out, nil
}

func (r *PostgresRepository) GetTier(ctx context.Context, id uuid.UUID) (service.Tier, error) {
	rec, err := r.stores.Tiers.Get(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return service.Tier{}, service.ErrTierNotFound
		}
		return service.Tier{}, err
	}
	return toServiceTier(rec), nil
}

func (r *PostgresRepository) CreateProvision(ctx context.Context, p service.Provision) (service.Provision, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	out, err := r.stores.Provisions.Create(ctx, toProvisionRecord(p))
	if err != nil {
		return service.Provision{}, mapConflict(err)
	}
	return toServiceProvision(out)
}

func (r *PostgresRepository) GetProvision(ctx context.Context, id uuid.UUID) (service.Provision, error) {
	rec, err := r.stores.Provisions.Get(ctx, id)
	if err != nil {
		return service.Provision{}, mapNotFound(err)
	}
	return toServiceProvision(rec)
}

func (r *PostgresRepository) FindProvisionBySubmissionKey(ctx context.Context, ownerID string, product service.ProductType, key string) (service.Provision, error) {
	rec, err := r.stores.Provisions.FindBySubmissionKey(ctx, ownerID, string(product), key)
	if err != nil {
		return service.Provision{}, mapNotFound(err)
	}
	return toServiceProvision(rec)
}

func (r *PostgresRepository) ListProvisionsByOwner(ctx context.Context, ownerID string) ([]service.Provision, error) {
	rows, err := r.stores.Provisions.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return toServiceProvisions(rows)
}

func (r *PostgresRepository) ListProvisionsByStatus(ctx context.Context, status service.Status) ([]service.Provision, error) {
	rows, err := r.stores.Provisions.ListByStatus(ctx, string(status))
	if err != nil {
		return nil, err
	}
	return toServiceProvisions(rows)
}

func (r *PostgresRepository) DeletePendingProvision(ctx context.Context, id uuid.UUID) error {
	err := r.stores.Provisions.Delete(ctx, id, string(service.StatusPendingPayment))
	switch {
	case errors.Is(err, persistence.ErrStaleStatus):
		return service.ErrNotDeletable
	default:
		return mapNotFound(err)
	}
}

func (r *PostgresRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to service.Status, detail *string) (service.Provision, error) {
	rec, err := r.stores.Provisions.TransitionStatus(ctx, id, string(from), string(to), detail)
	if err != nil {
		if errors.Is(err, persistence.ErrStaleStatus) {
			return service.Provision{}, service.ErrStaleStatus
		}
		return service.Provision{}, mapNotFound(err)
	}
	return toServiceProvision(rec)
}

func (r *PostgresRepository) SetVendorRefs(ctx context.Context, id uuid.UUID, refs service.VendorRefs) error {
	return mapNotFound(r.stores.Provisions.SetVendorRefs(ctx, id, refs.PlusvibeClientEmail, refs.HeyreachListID))
}

func (r *PostgresRepository) CreateDomains(ctx context.Context, provisionID uuid.UUID, domains []service.Domain) ([]service.Domain, error) {
	recs := make([]persistence.DomainRecord, 0, len(domains))
	for _, d := range domains {
		recs = append(recs, toDomainRecord(d))
	}
	out, err := r.stores.Domains.CreateWithMailboxes(ctx, provisionID, recs)
	if err != nil {
		return nil, err
	}
	return toServiceDomains(out)
}

func (r *PostgresRepository) ListDomains(ctx context.Context, provisionID uuid.UUID) ([]service.Domain, error) {
	rows, err := r.stores.Domains.ListByProvision(ctx, provisionID)
	if err != nil {
		return nil, err
	}
	return toServiceDomains(rows)
}

func (r *PostgresRepository) SetDomainStatus(ctx context.Context, domainID uuid.UUID, status service.DomainStatus) error {
	return mapNotFound(r.stores.Domains.SetStatus(ctx, domainID, string(status)))
}

func (r *PostgresRepository) SetMailboxStatus(ctx context.Context, provisionID uuid.UUID, status service.MailboxStatus) error {
	return r.stores.Domains.SetMailboxStatus(ctx, provisionID, string(status))
}

func (r *PostgresRepository) AppendStepLog(ctx context.Context, entry service.StepLog) (service.StepLog, error) {
	rec, err := r.stores.StepLogs.Append(ctx, persistence.StepLogRecord{
		ProvisionID: entry.ProvisionID,
		Step:        entry.Step,
		Status:      string(entry.Status),
		Error:       entry.Error,
		Output:      entry.Output,
	})
	if err != nil {
		return service.StepLog{}, err
	}
	return toServiceStepLog(rec), nil
}

func (r *PostgresRepository) ListStepLogs(ctx context.Context, provisionID uuid.UUID) ([]service.StepLog, error) {
	rows, err := r.stores.StepLogs.List(ctx, provisionID)
	if err != nil {
		return nil, err
	}
	out := make([]service.StepLog, 0, len(rows))
	for _, rec := range rows {
		out = append(out, toServiceStepLog(rec))
	}
	return out, nil
}

func toServiceTier(rec persistence.TierRecord) service.Tier {
	return service.Tier{
		ID:                 rec.TierID,
		Slug:               rec.Slug,
		Name:               rec.Name,
		DomainCount:        rec.DomainCount,
		MailboxesPerDomain: rec.MailboxesPerDomain,
		SetupFeeCents:      rec.SetupFeeCents,
		MonthlyFeeCents:    rec.MonthlyFeeCents,
	}
}

func toProvisionRecord(p service.Provision) persistence.ProvisionRecord {
	return persistence.ProvisionRecord{
		ProvisionID:         p.ID,
		OwnerID:             p.OwnerID,
		ProductType:         string(p.ProductType),
		TierID:              p.TierID,
		Status:              string(p.Status),
		ServiceProvider:     string(p.ServiceProvider),
		MailboxPattern1:     p.MailboxPattern1,
		MailboxPattern2:     p.MailboxPattern2,
		PlusvibeClientEmail: p.PlusvibeClientEmail,
		HeyreachListID:      p.HeyreachListID,
		ProvisioningLog:     p.ProvisioningLog,
		SubmissionKey:       p.SubmissionKey,
		CreatedAt:           p.CreatedAt,
	}
}

func toServiceProvision(rec persistence.ProvisionRecord) (service.Provision, error) {
	product, err := service.ParseProductType(rec.ProductType)
	if err != nil {
		return service.Provision{}, err
	}
	status, err := service.ParseStatus(rec.Status)
	if err != nil {
		return service.Provision{}, err
	}
	provider, err := service.ParseServiceProvider(rec.ServiceProvider)
	if err != nil {
		return service.Provision{}, fmt.Errorf("provision %s: %w", rec.ProvisionID, err)
	}
	return service.Provision{
		ID:                  rec.ProvisionID,
		OwnerID:             rec.OwnerID,
		ProductType:         product,
		TierID:              rec.TierID,
		Status:              status,
		ServiceProvider:     provider,
		MailboxPattern1:     rec.MailboxPattern1,
		MailboxPattern2:     rec.MailboxPattern2,
		PlusvibeClientEmail: rec.PlusvibeClientEmail,
		HeyreachListID:      rec.HeyreachListID,
		ProvisioningLog:     rec.ProvisioningLog,
		SubmissionKey:       rec.SubmissionKey,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
	}, nil
}

func toServiceProvisions(rows []persistence.ProvisionRecord) ([]service.Provision, error) {
	out := make([]service.Provision, 0, len(rows))
	for _, rec := range rows {
		p, err := toServiceProvision(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func toDomainRecord(d service.Domain) persistence.DomainRecord {
	rec := persistence.DomainRecord{
		DomainID:         d.ID,
		ProvisionID:      d.ProvisionID,
		DomainName:       d.DomainName,
		Status:           string(d.Status),
		ServiceProvider:  string(d.ServiceProvider),
		DomainPriceCents: d.DomainPriceCents,
	}
	for _, m := range d.Mailboxes {
		rec.Mailboxes = append(rec.Mailboxes, persistence.MailboxRecord{
			MailboxID: m.ID,
			Email:     m.Email,
			Status:    string(m.Status),
		})
	}
	return rec
}

func toServiceDomains(rows []persistence.DomainRecord) ([]service.Domain, error) {
	out := make([]service.Domain, 0, len(rows))
	for _, rec := range rows {
		provider, err := service.ParseServiceProvider(rec.ServiceProvider)
		if err != nil {
			return nil, fmt.Errorf("domain %s: %w", rec.DomainName, err)
		}
		d := service.Domain{
			ID:               rec.DomainID,
			ProvisionID:      rec.ProvisionID,
			DomainName:       rec.DomainName,
			Status:           service.DomainStatus(rec.Status),
			ServiceProvider:  provider,
			DomainPriceCents: rec.DomainPriceCents,
		}
		for _, m := range rec.Mailboxes {
			d.Mailboxes = append(d.Mailboxes, service.Mailbox{
				ID:       m.MailboxID,
				DomainID: m.DomainID,
				Email:    m.Email,
				Status:   service.MailboxStatus(m.Status),
			})
		}
		out = append(out, d)
	}
	return out, nil
}

func toServiceStepLog(rec persistence.StepLogRecord) service.StepLog {
	return service.StepLog{
		Seq:         rec.LogID,
		ProvisionID: rec.ProvisionID,
		Step:        rec.Step,
		Status:      service.StepStatus(rec.Status),
		Error:       rec.Error,
		Output:      rec.Output,
		CreatedAt:   rec.CreatedAt,
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return service.ErrNotFound
	}
	return err
}

func mapConflict(err error) error {
	if errors.Is(err, persistence.ErrConflict) {
		return service.ErrDuplicateKey
	}
	return err
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
