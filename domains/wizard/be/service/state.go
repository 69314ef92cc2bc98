package service

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	provisions "github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
)

// Step is one screen of the wizard.
type Step string

const (
	StepTier      Step = "tier"
	StepDomains   Step = "domains"
	StepMailboxes Step = "mailboxes"
	StepCheckout  Step = "checkout"
)

var (
	ErrStepInvalid       = errors.New("current step is not complete")
	ErrFirstStep         = errors.New("already at the first step")
	ErrLastStep          = errors.New("already at the last step")
	ErrNoTier            = errors.New("select a tier first")
	ErrDomainLimit       = errors.New("tier domain limit reached")
	ErrDomainUnavailable = errors.New("domain is not available")
	ErrUnknownDomain     = errors.New("domain is not in the search results")
	ErrNotConfigurable   = errors.New("step does not apply to the selected products")
)

// Sequence returns the ordered steps for a product set. Anything that
// includes email infrastructure needs the full configuration flow; outreach
// tools alone only checks out.
func Sequence(products []provisions.ProductType) []Step {
	for _, p := range products {
		if p == provisions.ProductEmailInfra {
			return []Step{StepTier, StepDomains, StepMailboxes, StepCheckout}
		}
	}
	return []Step{StepCheckout}
}

// TierChoice is the selected tier as kept in the session.
type TierChoice struct {
	ID                 uuid.UUID `json:"id"`
	Slug               string    `json:"slug"`
	Name               string    `json:"name"`
	DomainCount        int       `json:"domainCount"`
	MailboxesPerDomain int       `json:"mailboxesPerDomain"`
	SetupFeeCents      int64     `json:"setupFeeCents"`
	MonthlyFeeCents    int64     `json:"monthlyFeeCents"`
}

func ChoiceFromTier(t provisions.Tier) TierChoice {
	return TierChoice{
		ID:                 t.ID,
		Slug:               t.Slug,
		Name:               t.Name,
		DomainCount:        t.DomainCount,
		MailboxesPerDomain: t.MailboxesPerDomain,
		SetupFeeCents:      t.SetupFeeCents,
		MonthlyFeeCents:    t.MonthlyFeeCents,
	}
}

// DomainOption is one availability search result.
type DomainOption struct {
	DomainName      string                     `json:"domainName"`
	Available       bool                       `json:"available"`
	PriceCents      int64                      `json:"priceCents"`
	ServiceProvider provisions.ServiceProvider `json:"serviceProvider"`
}

// SelectedDomain is a domain the user picked, with the price at selection time.
type SelectedDomain struct {
	DomainName      string                     `json:"domainName"`
	PriceCents      int64                      `json:"priceCents"`
	ServiceProvider provisions.ServiceProvider `json:"serviceProvider"`
}

// State is one wizard session. It lives until submission or expiry.
type State struct {
	ID              uuid.UUID                  `json:"id"`
	OwnerID         string                     `json:"ownerId"`
	Products        []provisions.ProductType   `json:"products"`
	StepIndex       int                        `json:"stepIndex"`
	Tier            *TierChoice                `json:"tier,omitempty"`
	Brand           string                     `json:"brand,omitempty"`
	Options         []DomainOption             `json:"options,omitempty"`
	Selected        []SelectedDomain           `json:"selected,omitempty"`
	ServiceProvider provisions.ServiceProvider `json:"serviceProvider"`
	Pattern1        string                     `json:"pattern1"`
	Pattern2        string                     `json:"pattern2"`
	// SubmissionKey is reused when resuming an abandoned checkout.
	SubmissionKey string    `json:"submissionKey,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewState starts a fresh session at the first step.
func NewState(ownerID string, products []provisions.ProductType) State {
	return State{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Products:        append([]provisions.ProductType(nil), products...),
		ServiceProvider: provisions.ProviderGoogle,
	}
}

func (s *State) Steps() []Step {
	return Sequence(s.Products)
}

// Current returns the step the session is on.
func (s *State) Current() Step {
	steps := s.Steps()
	if s.StepIndex < 0 || s.StepIndex >= len(steps) {
		return steps[len(steps)-1]
	}
	return steps[s.StepIndex]
}

// Includes reports whether the session purchases product.
func (s *State) Includes(product provisions.ProductType) bool {
	for _, p := range s.Products {
		if p == product {
			return true
		}
	}
	return false
}

func (s *State) configurable() bool {
	return s.Includes(provisions.ProductEmailInfra)
}

// Valid evaluates a step's gate.
func (s *State) Valid(step Step) bool {
	switch step {
	case StepTier:
		return s.Tier != nil
	case StepDomains:
		return s.Tier != nil && len(s.Selected) == s.Tier.DomainCount
	case StepMailboxes:
		return IsValidPattern(s.Pattern1) && IsValidPattern(s.Pattern2)
	case StepCheckout:
		return true
	}
	return false
}

// ReadyForCheckout reports whether every step before checkout is valid.
func (s *State) ReadyForCheckout() bool {
	for _, step := range s.Steps() {
		if step == StepCheckout {
			return true
		}
		if !s.Valid(step) {
			return false
		}
	}
	return true
}

// Next advances one step when the current step and every step before it
// are valid. An invalid earlier step moves the session back to it.
func (s *State) Next() error {
	if s.rewind() {
		return ErrStepInvalid
	}
	steps := s.Steps()
	if s.StepIndex >= len(steps)-1 {
		return ErrLastStep
	}
	if !s.Valid(s.Current()) {
		return ErrStepInvalid
	}
	s.StepIndex++
	return nil
}

// rewind moves the session to the earliest invalid step before the current
// one and reports whether it moved.
func (s *State) rewind() bool {
	steps := s.Steps()
	for i := 0; i < s.StepIndex && i < len(steps); i++ {
		if !s.Valid(steps[i]) {
			s.StepIndex = i
			return true
		}
	}
	return false
}

// Back returns to the previous step; always allowed except on the first.
func (s *State) Back() error {
	if s.StepIndex <= 0 {
		return ErrFirstStep
	}
	s.StepIndex--
	return nil
}

// SelectTier picks a tier. Selected domains are kept unless they exceed the
// new tier's count.
func (s *State) SelectTier(t TierChoice) error {
	if !s.configurable() {
		return ErrNotConfigurable
	}
	s.Tier = &t
	if len(s.Selected) > t.DomainCount {
		s.Selected = nil
	}
	s.rewind()
	return nil
}

// SetSearchResults replaces the availability options for a brand.
func (s *State) SetSearchResults(brand string, options []DomainOption) {
	s.Brand = brand
	s.Options = append([]DomainOption(nil), options...)
}

// ToggleDomain selects an available option or deselects a selected domain.
// Selecting beyond the tier's count is rejected and leaves the selection as is.
func (s *State) ToggleDomain(name string) error {
	if !s.configurable() {
		return ErrNotConfigurable
	}
	name = strings.ToLower(strings.TrimSpace(name))
	for i, sel := range s.Selected {
		if sel.DomainName == name {
			s.Selected = append(s.Selected[:i:i], s.Selected[i+1:]...)
			s.rewind()
			return nil
		}
	}

	if s.Tier == nil {
		return ErrNoTier
	}
	var option *DomainOption
	for i := range s.Options {
		if s.Options[i].DomainName == name {
			option = &s.Options[i]
			break
		}
	}
	if option == nil {
		return ErrUnknownDomain
	}
	if !option.Available {
		return ErrDomainUnavailable
	}
	if len(s.Selected) >= s.Tier.DomainCount {
		return ErrDomainLimit
	}

	provider := option.ServiceProvider
	if provider == "" {
		provider = s.ServiceProvider
	}
	s.Selected = append(s.Selected, SelectedDomain{DomainName: option.DomainName, PriceCents: option.PriceCents, ServiceProvider: provider})
	return nil
}

// SetPatterns stores both mailbox patterns as typed, trimmed.
func (s *State) SetPatterns(p1, p2 string) error {
	if !s.configurable() {
		return ErrNotConfigurable
	}
	s.Pattern1 = strings.TrimSpace(p1)
	s.Pattern2 = strings.TrimSpace(p2)
	s.rewind()
	return nil
}

// SetServiceProvider changes the default provider and applies it to the
// current selection.
func (s *State) SetServiceProvider(p provisions.ServiceProvider) {
	s.ServiceProvider = p
	for i := range s.Selected {
		s.Selected[i].ServiceProvider = p
	}
	for i := range s.Options {
		s.Options[i].ServiceProvider = p
	}
}

// DomainNames lists the selected domains in selection order.
func (s *State) DomainNames() []string {
	out := make([]string, 0, len(s.Selected))
	for _, d := range s.Selected {
		out = append(out, d.DomainName)
	}
	return out
}

// MailboxPreview is the mailbox list the submission will create.
func (s *State) MailboxPreview() []string {
	return MailboxPreview(s.DomainNames(), s.Pattern1, s.Pattern2)
}

// FieldErrors explains why the current step is invalid, keyed by field.
func (s *State) FieldErrors() map[string]string {
	errs := map[string]string{}
	switch s.Current() {
	case StepTier:
		if s.Tier == nil {
			errs["tier"] = "Select a tier"
		}
	case StepDomains:
		if s.Tier == nil {
			errs["tier"] = "Select a tier"
		} else if len(s.Selected) != s.Tier.DomainCount {
			errs["domains"] = domainCountMessage(s.Tier.DomainCount, len(s.Selected))
		}
	case StepMailboxes:
		if msg := patternError(s.Pattern1); msg != "" {
			errs["pattern1"] = msg
		}
		if msg := patternError(s.Pattern2); msg != "" {
			errs["pattern2"] = msg
		}
	}
	return errs
}

// Restore refills a session from an unpaid provision so an abandoned checkout
// can be resumed without re-entering data.
func (s *State) Restore(p provisions.Provision, tier *provisions.Tier, domains []provisions.Domain) {
	if tier != nil {
		choice := ChoiceFromTier(*tier)
		s.Tier = &choice
	}
	s.ServiceProvider = p.ServiceProvider
	s.Pattern1 = p.MailboxPattern1
	s.Pattern2 = p.MailboxPattern2
	s.Selected = s.Selected[:0]
	s.Options = s.Options[:0]
	for _, d := range domains {
		s.Selected = append(s.Selected, SelectedDomain{DomainName: d.DomainName, PriceCents: d.DomainPriceCents, ServiceProvider: d.ServiceProvider})
		s.Options = append(s.Options, DomainOption{DomainName: d.DomainName, Available: true, PriceCents: d.DomainPriceCents, ServiceProvider: d.ServiceProvider})
	}
	if p.SubmissionKey != nil {
		s.SubmissionKey = *p.SubmissionKey
	}
}
