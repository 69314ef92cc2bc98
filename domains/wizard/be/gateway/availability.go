package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/wizard/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/vendorapi"
)

const statusAvailable = "AVAILABLE"

// AvailabilityClient asks the registrar which brand domains can be bought.
type AvailabilityClient struct {
	api *vendorapi.Client
}

var _ service.Availability = (*AvailabilityClient)(nil)

func NewAvailabilityClient(api *vendorapi.Client) *AvailabilityClient {
	if api == nil {
		panic("availability client requires api client")
	}
	return &AvailabilityClient{api: api}
}

type availabilityRequest struct {
	Domain string `json:"domain"`
}

type availabilityResponse struct {
	Domains []struct {
		DomainName  string  `json:"domainName"`
		Status      string  `json:"status"`
		DomainPrice float64 `json:"domainPrice"`
	} `json:"domains"`
}

// Search returns one option per suggested domain. Prices arrive in dollars
// and are kept in cents.
func (c *AvailabilityClient) Search(ctx context.Context, brand string) ([]service.DomainOption, error) {
	var out availabilityResponse
	err := c.api.Do(ctx, vendorapi.Request{
		Method: http.MethodPost,
		Path:   "/v1/domains/availability",
		Body:   availabilityRequest{Domain: brand},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("check availability: %w", err)
	}

	options := make([]service.DomainOption, 0, len(out.Domains))
	for _, d := range out.Domains {
		name := strings.ToLower(strings.TrimSpace(d.DomainName))
		if name == "" {
			continue
		}
		options = append(options, service.DomainOption{
			DomainName: name,
			Available:  strings.EqualFold(d.Status, statusAvailable),
			PriceCents: int64(d.DomainPrice*100 + 0.5),
		})
	}
	return options, nil
}
