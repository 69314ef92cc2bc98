// Package lifecycle maps an owner's provisions to the screen they should see.
package lifecycle

import (
	"sort"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
)

// View is the screen selected by Route.
type View string

const (
	ViewWizard    View = "wizard"
	ViewProgress  View = "progress"
	ViewDashboard View = "dashboard"
	ViewFailed    View = "failed"
	// ViewWizardPrefilled is the wizard resumed from an abandoned checkout.
	ViewWizardPrefilled View = "wizard_prefilled"
)

// Decision is the routing outcome plus the provisions the view needs.
type Decision struct {
	View View
	// Purchased holds the newest purchased provision per product, in product order.
	Purchased []service.Provision
	// Failed is set for ViewFailed.
	Failed *service.Provision
	// Prefill is the pending_payment provision to resume, when one exists.
	Prefill *service.Provision
	// MissingProducts lists products without an active provision; set for ViewDashboard.
	MissingProducts []service.ProductType
}

// Current keeps the newest provision per product, in product order.
func Current(provisions []service.Provision) []service.Provision {
	out := make([]service.Provision, 0, len(service.Products))
	for _, product := range service.Products {
		if p, ok := service.FindLatest(provisions, product); ok {
			out = append(out, p)
		}
	}
	return out
}

// Route evaluates the rules in priority order; the states of two independent
// products can overlap, so earlier rules win.
func Route(provisions []service.Provision) Decision {
	current := Current(provisions)
	var purchased []service.Provision
	var pending []service.Provision
	for _, p := range current {
		if p.Purchased() {
			purchased = append(purchased, p)
		} else {
			pending = append(pending, p)
		}
	}

	d := Decision{Purchased: purchased}
	if len(pending) > 0 {
		prefill := pending[0]
		d.Prefill = &prefill
	}

	if len(current) == 0 {
		d.View = ViewWizard
		return d
	}

	for _, p := range purchased {
		if p.Status == service.StatusProvisioning {
			d.View = ViewProgress
			return d
		}
	}

	if agg := Summarize(purchased); agg.AllActive {
		d.View = ViewDashboard
		d.MissingProducts = missingProducts(purchased)
		return d
	}

	if failed, ok := firstFailed(purchased); ok {
		d.View = ViewFailed
		d.Failed = &failed
		return d
	}

	d.View = ViewWizardPrefilled
	return d
}

// Aggregate summarizes the purchased provisions.
type Aggregate struct {
	AllActive bool
	AnyFailed bool
}

// Summarize computes the aggregate predicates. AllActive needs at least one
// provision. Both can never hold at once.
func Summarize(purchased []service.Provision) Aggregate {
	agg := Aggregate{AllActive: len(purchased) > 0}
	for _, p := range purchased {
		if p.Status != service.StatusActive {
			agg.AllActive = false
		}
		if p.Status == service.StatusFailed {
			agg.AnyFailed = true
		}
	}
	return agg
}

func firstFailed(purchased []service.Provision) (service.Provision, bool) {
	failed := make([]service.Provision, 0, len(purchased))
	for _, p := range purchased {
		if p.Status == service.StatusFailed {
			failed = append(failed, p)
		}
	}
	if len(failed) == 0 {
		return service.Provision{}, false
	}
	sort.SliceStable(failed, func(i, j int) bool { return failed[i].CreatedAt.Before(failed[j].CreatedAt) })
	return failed[0], true
}

func missingProducts(purchased []service.Provision) []service.ProductType {
	active := map[service.ProductType]bool{}
	for _, p := range purchased {
		if p.Status == service.StatusActive {
			active[p.ProductType] = true
		}
	}
	var missing []service.ProductType
	for _, product := range service.Products {
		if !active[product] {
			missing = append(missing, product)
		}
	}
	return missing
}
