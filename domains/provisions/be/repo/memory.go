package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
)

// MemoryRepository is an in-memory Provision Store for tests and local development.
type MemoryRepository struct {
	mu         sync.RWMutex
	tiers      []service.Tier
	provisions map[uuid.UUID]service.Provision
	domains    map[uuid.UUID][]service.Domain
	logs       map[uuid.UUID][]service.StepLog
	seq        int64
	now        func() time.Time
}

// NewMemoryRepository constructs a MemoryRepository seeded with the given tiers.
func NewMemoryRepository(tiers ...service.Tier) *MemoryRepository {
	return &MemoryRepository{
		tiers:      append([]service.Tier(nil), tiers...),
		provisions: make(map[uuid.UUID]service.Provision),
		domains:    make(map[uuid.UUID][]service.Domain),
		logs:       make(map[uuid.UUID][]service.StepLog),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) ListTiers(ctx context.Context) ([]service.Tier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]service.Tier(nil), r.tiers...), nil
}

func (r *MemoryRepository) GetTier(ctx context.Context, id uuid.UUID) (service.Tier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tiers {
		if t.ID == id {
			return t, nil
		}
	}
	return service.Tier{}, service.ErrTierNotFound
}

func (r *MemoryRepository) CreateProvision(ctx context.Context, p service.Provision) (service.Provision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.SubmissionKey != nil {
		for _, existing := range r.provisions {
			if existing.OwnerID == p.OwnerID && existing.ProductType == p.ProductType &&
				existing.SubmissionKey != nil && *existing.SubmissionKey == *p.SubmissionKey {
				return service.Provision{}, service.ErrDuplicateKey
			}
		}
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	// strictly increasing timestamps keep ordering deterministic in tests
	now := r.now()
	for _, existing := range r.provisions {
		if !now.After(existing.CreatedAt) {
			now = existing.CreatedAt.Add(time.Microsecond)
		}
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	r.provisions[p.ID] = p
	return p, nil
}

func (r *MemoryRepository) GetProvision(ctx context.Context, id uuid.UUID) (service.Provision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.provisions[id]
	if !ok {
		return service.Provision{}, service.ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepository) FindProvisionBySubmissionKey(ctx context.Context, ownerID string, product service.ProductType, key string) (service.Provision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.provisions {
		if p.OwnerID == ownerID && p.ProductType == product && p.SubmissionKey != nil && *p.SubmissionKey == key {
			return p, nil
		}
	}
	return service.Provision{}, service.ErrNotFound
}

func (r *MemoryRepository) ListProvisionsByOwner(ctx context.Context, ownerID string) ([]service.Provision, error) {
	return r.filter(func(p service.Provision) bool { return p.OwnerID == ownerID }), nil
}

func (r *MemoryRepository) ListProvisionsByStatus(ctx context.Context, status service.Status) ([]service.Provision, error) {
	return r.filter(func(p service.Provision) bool { return p.Status == status }), nil
}

func (r *MemoryRepository) filter(keep func(service.Provision) bool) []service.Provision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []service.Provision
	for _, p := range r.provisions {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepository) DeletePendingProvision(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.provisions[id]
	if !ok {
		return service.ErrNotFound
	}
	if p.Status != service.StatusPendingPayment {
		return service.ErrNotDeletable
	}
	delete(r.provisions, id)
	delete(r.domains, id)
	delete(r.logs, id)
	return nil
}

func (r *MemoryRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to service.Status, detail *string) (service.Provision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.provisions[id]
	if !ok {
		return service.Provision{}, service.ErrNotFound
	}
	if p.Status != from {
		return service.Provision{}, service.ErrStaleStatus
	}
	p.Status = to
	if detail != nil {
		p.ProvisioningLog = detail
	}
	p.UpdatedAt = r.now()
	r.provisions[id] = p
	return p, nil
}

func (r *MemoryRepository) SetVendorRefs(ctx context.Context, id uuid.UUID, refs service.VendorRefs) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.provisions[id]
	if !ok {
		return service.ErrNotFound
	}
	if refs.PlusvibeClientEmail != nil {
		p.PlusvibeClientEmail = refs.PlusvibeClientEmail
	}
	if refs.HeyreachListID != nil {
		p.HeyreachListID = refs.HeyreachListID
	}
	r.provisions[id] = p
	return nil
}

func (r *MemoryRepository) CreateDomains(ctx context.Context, provisionID uuid.UUID, domains []service.Domain) ([]service.Domain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.provisions[provisionID]; !ok {
		return nil, service.ErrNotFound
	}

	out := make([]service.Domain, 0, len(domains))
	for _, d := range domains {
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		d.ProvisionID = provisionID
		mailboxes := make([]service.Mailbox, 0, len(d.Mailboxes))
		for _, m := range d.Mailboxes {
			if m.ID == uuid.Nil {
				m.ID = uuid.New()
			}
			m.DomainID = d.ID
			mailboxes = append(mailboxes, m)
		}
		d.Mailboxes = mailboxes
		out = append(out, d)
	}
	r.domains[provisionID] = append(r.domains[provisionID], out...)
	return cloneDomains(out), nil
}

func (r *MemoryRepository) ListDomains(ctx context.Context, provisionID uuid.UUID) ([]service.Domain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneDomains(r.domains[provisionID]), nil
}

func (r *MemoryRepository) SetDomainStatus(ctx context.Context, domainID uuid.UUID, status service.DomainStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pid, domains := range r.domains {
		for i := range domains {
			if domains[i].ID == domainID {
				r.domains[pid][i].Status = status
				return nil
			}
		}
	}
	return service.ErrNotFound
}

func (r *MemoryRepository) SetMailboxStatus(ctx context.Context, provisionID uuid.UUID, status service.MailboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	domains := r.domains[provisionID]
	for i := range domains {
		for j := range domains[i].Mailboxes {
			domains[i].Mailboxes[j].Status = status
		}
	}
	return nil
}

func (r *MemoryRepository) AppendStepLog(ctx context.Context, entry service.StepLog) (service.StepLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.provisions[entry.ProvisionID]; !ok {
		return service.StepLog{}, service.ErrNotFound
	}
	r.seq++
	entry.Seq = r.seq
	entry.CreatedAt = r.now()
	if entry.Output != nil {
		out := make(map[string]string, len(entry.Output))
		for k, v := range entry.Output {
			out[k] = v
		}
		entry.Output = out
	}
	r.logs[entry.ProvisionID] = append(r.logs[entry.ProvisionID], entry)
	return entry, nil
}

func (r *MemoryRepository) ListStepLogs(ctx context.Context, provisionID uuid.UUID) ([]service.StepLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]service.StepLog(nil), r.logs[provisionID]...), nil
}

func cloneDomains(in []service.Domain) []service.Domain {
	if in == nil {
		return nil
	}
	out := make([]service.Domain, len(in))
	for i, d := range in {
		d.Mailboxes = append([]service.Mailbox(nil), d.Mailboxes...)
		out[i] = d
	}
	return out
}

var _ service.Repository = (*MemoryRepository)(nil)
