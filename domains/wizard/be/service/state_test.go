package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	provisions "github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
)

func tierOf(count int) TierChoice {
	return TierChoice{ID: uuid.New(), Slug: "t", Name: "Tier", DomainCount: count, MailboxesPerDomain: 2}
}

func options(names ...string) []DomainOption {
	out := make([]DomainOption, 0, len(names))
	for _, n := range names {
		out = append(out, DomainOption{DomainName: n, Available: true, PriceCents: 1200})
	}
	return out
}

func TestSequence(t *testing.T) {
	t.Parallel()

	require.Equal(t, []Step{StepTier, StepDomains, StepMailboxes, StepCheckout},
		Sequence([]provisions.ProductType{provisions.ProductEmailInfra}))
	require.Equal(t, []Step{StepTier, StepDomains, StepMailboxes, StepCheckout},
		Sequence([]provisions.ProductType{provisions.ProductOutreachTools, provisions.ProductEmailInfra}))
	require.Equal(t, []Step{StepCheckout}, Sequence([]provisions.ProductType{provisions.ProductOutreachTools}))
}

func TestDomainsStepNeedsExactCount(t *testing.T) {
	t.Parallel()

	s := NewState("owner", []provisions.ProductType{provisions.ProductEmailInfra})
	require.ErrorIs(t, s.Next(), ErrStepInvalid)
	require.NoError(t, s.SelectTier(tierOf(3)))
	require.NoError(t, s.Next())
	require.Equal(t, StepDomains, s.Current())

	s.SetSearchResults("acme", options("acme.com", "acmehq.com", "getacme.com", "tryacme.com"))
	require.NoError(t, s.ToggleDomain("acme.com"))
	require.NoError(t, s.ToggleDomain("acmehq.com"))
	require.False(t, s.Valid(StepDomains))
	require.ErrorIs(t, s.Next(), ErrStepInvalid)
	require.Equal(t, StepDomains, s.Current())
	require.Contains(t, s.FieldErrors(), "domains")

	require.NoError(t, s.ToggleDomain("getacme.com"))
	require.True(t, s.Valid(StepDomains))
	require.Empty(t, s.FieldErrors())

	require.ErrorIs(t, s.ToggleDomain("tryacme.com"), ErrDomainLimit)
	require.Len(t, s.Selected, 3)

	require.NoError(t, s.Next())
	require.Equal(t, StepMailboxes, s.Current())
}

func TestToggleDomain(t *testing.T) {
	t.Parallel()

	s := NewState("owner", []provisions.ProductType{provisions.ProductEmailInfra})
	require.ErrorIs(t, s.ToggleDomain("acme.com"), ErrNoTier)
	require.NoError(t, s.SelectTier(tierOf(2)))

	opts := options("acme.com")
	opts = append(opts, DomainOption{DomainName: "taken.com", Available: false})
	s.SetSearchResults("acme", opts)

	require.ErrorIs(t, s.ToggleDomain("taken.com"), ErrDomainUnavailable)
	require.ErrorIs(t, s.ToggleDomain("other.com"), ErrUnknownDomain)
	require.NoError(t, s.ToggleDomain("ACME.com"))
	require.Equal(t, []string{"acme.com"}, s.DomainNames())
	require.Equal(t, provisions.ProviderGoogle, s.Selected[0].ServiceProvider)

	require.NoError(t, s.ToggleDomain("acme.com"))
	require.Empty(t, s.Selected)
}

func TestSelectTierKeepsFittingSelection(t *testing.T) {
	t.Parallel()

	s := NewState("owner", []provisions.ProductType{provisions.ProductEmailInfra})
	require.NoError(t, s.SelectTier(tierOf(3)))
	s.SetSearchResults("acme", options("a.com", "b.com", "c.com"))
	require.NoError(t, s.ToggleDomain("a.com"))
	require.NoError(t, s.ToggleDomain("b.com"))

	require.NoError(t, s.SelectTier(tierOf(5)))
	require.Len(t, s.Selected, 2)

	require.NoError(t, s.SelectTier(tierOf(1)))
	require.Empty(t, s.Selected)
}

func TestMailboxStepAndNavigation(t *testing.T) {
	t.Parallel()

	s := NewState("owner", []provisions.ProductType{provisions.ProductEmailInfra})
	require.ErrorIs(t, s.Back(), ErrFirstStep)
	require.NoError(t, s.SelectTier(tierOf(1)))
	s.SetSearchResults("acme", options("acme.com"))
	require.NoError(t, s.ToggleDomain("acme.com"))
	require.NoError(t, s.Next())
	require.NoError(t, s.Next())
	require.Equal(t, StepMailboxes, s.Current())

	require.NoError(t, s.SetPatterns("tim.", "keen"))
	require.ErrorIs(t, s.Next(), ErrStepInvalid)
	errs := s.FieldErrors()
	require.Contains(t, errs, "pattern1")
	require.NotContains(t, errs, "pattern2")

	require.NoError(t, s.SetPatterns(" tim ", "keen"))
	require.Equal(t, "tim", s.Pattern1)
	require.NoError(t, s.Next())
	require.Equal(t, StepCheckout, s.Current())
	require.True(t, s.ReadyForCheckout())
	require.ErrorIs(t, s.Next(), ErrLastStep)

	require.NoError(t, s.Back())
	require.Equal(t, StepMailboxes, s.Current())
}

func TestOutreachOnlyIsCheckoutOnly(t *testing.T) {
	t.Parallel()

	s := NewState("owner", []provisions.ProductType{provisions.ProductOutreachTools})
	require.Equal(t, StepCheckout, s.Current())
	require.True(t, s.ReadyForCheckout())
	require.ErrorIs(t, s.SelectTier(tierOf(1)), ErrNotConfigurable)
	require.ErrorIs(t, s.Back(), ErrFirstStep)
}

func TestIsValidPattern(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"":         false,
		"tim":      true,
		"tim.keen": true,
		"t":        true,
		".tim":     false,
		"tim.":     false,
		"_tim":     false,
		"tim_":     false,
		"-tim":     false,
		"tim-":     false,
		"t-i_m.k":  true,
		".":        false,
	}
	for pattern, want := range cases {
		require.Equal(t, want, IsValidPattern(pattern), "pattern %q", pattern)
	}
}

func TestNormalizeBrand(t *testing.T) {
	t.Parallel()

	require.Equal(t, "acmehq", NormalizeBrand(" Acme HQ! "))
	require.Equal(t, "acme2", NormalizeBrand("ACME-2"))
	require.Equal(t, "caf", NormalizeBrand("Café"))
	require.Empty(t, NormalizeBrand("--"))
}

func TestMailboxPreview(t *testing.T) {
	t.Parallel()

	got := MailboxPreview([]string{"acme.com", "acmehq.com"}, "tim", "tim.keen")
	require.Equal(t, []string{"tim@acme.com", "tim.keen@acme.com", "tim@acmehq.com", "tim.keen@acmehq.com"}, got)
	require.Equal(t, got, MailboxPreview([]string{"acme.com", "acmehq.com"}, "tim", "tim.keen"))

	require.Equal(t, []string{"tim@acme.com"}, MailboxPreview([]string{"acme.com", "ACME.com"}, "tim", "TIM"))
	require.Empty(t, MailboxPreview(nil, "tim", "keen"))
}

func TestRestoreFromPendingProvision(t *testing.T) {
	t.Parallel()

	tier := provisions.Tier{ID: uuid.New(), Slug: "growth", DomainCount: 2}
	key := "k-1"
	p := provisions.Provision{
		ID:              uuid.New(),
		ServiceProvider: provisions.ProviderMicrosoft,
		MailboxPattern1: "tim",
		MailboxPattern2: "keen",
		SubmissionKey:   &key,
	}
	domains := []provisions.Domain{
		{DomainName: "acme.com", DomainPriceCents: 1000, ServiceProvider: provisions.ProviderMicrosoft},
		{DomainName: "acmehq.com", DomainPriceCents: 1100, ServiceProvider: provisions.ProviderMicrosoft},
	}

	s := NewState("owner", []provisions.ProductType{provisions.ProductEmailInfra})
	s.Restore(p, &tier, domains)

	require.Equal(t, tier.ID, s.Tier.ID)
	require.Equal(t, []string{"acme.com", "acmehq.com"}, s.DomainNames())
	require.Equal(t, "k-1", s.SubmissionKey)
	require.Equal(t, provisions.ProviderMicrosoft, s.ServiceProvider)
	require.True(t, s.ReadyForCheckout())

	// restored domains stay toggleable
	require.NoError(t, s.ToggleDomain("acme.com"))
	require.NoError(t, s.ToggleDomain("acme.com"))
}

func TestEditingEarlierStepBlocksCheckout(t *testing.T) {
	t.Parallel()

	s := NewState("owner", []provisions.ProductType{provisions.ProductEmailInfra})
	require.NoError(t, s.SelectTier(tierOf(2)))
	require.NoError(t, s.Next())
	s.SetSearchResults("acme", options("acme.com", "acmehq.com"))
	require.NoError(t, s.ToggleDomain("acme.com"))
	require.NoError(t, s.ToggleDomain("acmehq.com"))
	require.NoError(t, s.Next())
	require.NoError(t, s.SetPatterns("tim", "keen"))
	require.Equal(t, StepMailboxes, s.Current())

	require.NoError(t, s.ToggleDomain("acme.com"))
	require.Equal(t, StepDomains, s.Current())
	require.Contains(t, s.FieldErrors(), "domains")
	require.ErrorIs(t, s.Next(), ErrStepInvalid)
	require.Equal(t, StepDomains, s.Current())
	require.False(t, s.ReadyForCheckout())

	require.NoError(t, s.ToggleDomain("acme.com"))
	require.NoError(t, s.Next())
	require.NoError(t, s.Next())
	require.Equal(t, StepCheckout, s.Current())
	require.True(t, s.ReadyForCheckout())

	// a stale session that skipped the rewind is pulled back on next
	s.Selected = s.Selected[:1]
	s.StepIndex = 2
	require.ErrorIs(t, s.Next(), ErrStepInvalid)
	require.Equal(t, StepDomains, s.Current())
}
