package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/lifecycle"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
)

// StepView is one display row of a product's progress.
type StepView struct {
	Product    service.ProductType
	StepNumber int
	Name       string
	Status     service.StepStatus
	Error      *string
	UpdatedAt  *time.Time
}

// Section groups one product's steps under a heading.
type Section struct {
	ProvisionID  uuid.UUID
	Product      service.ProductType
	Title        string
	Status       service.Status
	Provisioning bool
	Steps        []StepView
}

// Snapshot is the combined progress across an owner's purchased provisions.
type Snapshot struct {
	Sections  []Section
	Aggregate lifecycle.Aggregate
	// Provisioning is true while any section still needs polling.
	Provisioning bool
}

// Project orders the product's fixed steps and fills each with its newest
// log entry. Steps without an entry are pending.
func Project(product service.ProductType, logs []service.StepLog) []StepView {
	latest := service.LatestByStep(logs)
	steps := service.StepSequence(product)
	out := make([]StepView, 0, len(steps))
	for _, info := range steps {
		view := StepView{Product: product, StepNumber: info.Number, Name: info.Name, Status: service.StepPending}
		if entry, ok := latest[info.Number]; ok {
			view.Status = entry.Status
			view.Error = entry.Error
			at := entry.CreatedAt
			view.UpdatedAt = &at
		}
		out = append(out, view)
	}
	return out
}

// Reader is the read side of the provision store the projector needs.
type Reader interface {
	GetProvision(ctx context.Context, id uuid.UUID) (service.Provision, error)
	ListProvisionsByOwner(ctx context.Context, ownerID string) ([]service.Provision, error)
	ListStepLogs(ctx context.Context, provisionID uuid.UUID) ([]service.StepLog, error)
}

// Projector loads step logs and builds display sections.
type Projector struct {
	store Reader
}

func NewProjector(store Reader) *Projector {
	if store == nil {
		panic("progress projector requires store")
	}
	return &Projector{store: store}
}

// Section projects a single provision. stillProvisioning is carried through
// to the section so observers know whether to keep polling.
func (p *Projector) Section(ctx context.Context, provisionID uuid.UUID, stillProvisioning bool) (Section, error) {
	prov, err := p.store.GetProvision(ctx, provisionID)
	if err != nil {
		return Section{}, err
	}
	sec, err := p.section(ctx, prov)
	if err != nil {
		return Section{}, err
	}
	sec.Provisioning = stillProvisioning
	return sec, nil
}

func (p *Projector) section(ctx context.Context, prov service.Provision) (Section, error) {
	logs, err := p.store.ListStepLogs(ctx, prov.ID)
	if err != nil {
		return Section{}, fmt.Errorf("list step logs for %s: %w", prov.ID, err)
	}
	return Section{
		ProvisionID:  prov.ID,
		Product:      prov.ProductType,
		Title:        service.ProductTitle(prov.ProductType),
		Status:       prov.Status,
		Provisioning: prov.Status == service.StatusProvisioning,
		Steps:        Project(prov.ProductType, logs),
	}, nil
}

// ForProvisions projects each purchased provision in product order. Sections
// keep their own step numbering.
func (p *Projector) ForProvisions(ctx context.Context, provisions []service.Provision) (Snapshot, error) {
	var snap Snapshot
	var purchased []service.Provision
	for _, prov := range lifecycle.Current(provisions) {
		if !prov.Purchased() {
			continue
		}
		purchased = append(purchased, prov)
		sec, err := p.section(ctx, prov)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Sections = append(snap.Sections, sec)
		if sec.Provisioning {
			snap.Provisioning = true
		}
	}
	snap.Aggregate = lifecycle.Summarize(purchased)
	return snap, nil
}

// ForOwner projects the owner's current purchased provisions.
func (p *Projector) ForOwner(ctx context.Context, ownerID string) (Snapshot, error) {
	provisions, err := p.store.ListProvisionsByOwner(ctx, ownerID)
	if err != nil {
		return Snapshot{}, err
	}
	return p.ForProvisions(ctx, provisions)
}

// Lookup finds a row by product and step number.
func (s Snapshot) Lookup(product service.ProductType, step int) (StepView, bool) {
	for _, sec := range s.Sections {
		if sec.Product != product {
			continue
		}
		for _, v := range sec.Steps {
			if v.StepNumber == step {
				return v, true
			}
		}
	}
	return StepView{}, false
}
