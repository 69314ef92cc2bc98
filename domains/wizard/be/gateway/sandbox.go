package gateway

import (
	"context"
	"net/url"
	"strings"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/wizard/be/service"
)

var sandboxTLDs = []string{".com", ".io", ".co"}

// SandboxAvailability offers brand.com, brand.io and brand.co plus "get" and
// "try" variants. Names containing "taken" are reported unavailable.
type SandboxAvailability struct{}

func (SandboxAvailability) Search(_ context.Context, brand string) ([]service.DomainOption, error) {
	var out []service.DomainOption
	for _, prefix := range []string{"", "get", "try"} {
		for _, tld := range sandboxTLDs {
			name := prefix + brand + tld
			out = append(out, service.DomainOption{
				DomainName: name,
				Available:  !strings.Contains(name, "taken"),
				PriceCents: 1299,
			})
		}
	}
	return out, nil
}

// SandboxCheckout returns a local url instead of a payment page. Completing
// the purchase is then a matter of posting the checkout webhook.
type SandboxCheckout struct {
	BaseURL string
}

func (c SandboxCheckout) CreateSession(_ context.Context, req service.CheckoutRequest) (string, error) {
	base := c.BaseURL
	if base == "" {
		base = "http://localhost:8080"
	}
	q := url.Values{}
	for _, id := range req.ProvisionIDs {
		q.Add("provision", id.String())
	}
	return strings.TrimRight(base, "/") + "/sandbox/checkout?" + q.Encode(), nil
}
