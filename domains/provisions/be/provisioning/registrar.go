package provisioning

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/vendorapi"
)

// RegistrarClient buys domains. Orders carry the provision id as reference so
// Owned can find them after an interrupted purchase.
type RegistrarClient struct {
	api *vendorapi.Client
}

func NewRegistrarClient(api *vendorapi.Client) *RegistrarClient {
	if api == nil {
		panic("registrar client requires api client")
	}
	return &RegistrarClient{api: api}
}

type orderPayload struct {
	Reference string   `json:"reference"`
	Domains   []string `json:"domains"`
}

type orderResponse struct {
	OrderID string   `json:"orderId"`
	Domains []string `json:"domains"`
}

type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
}

func (c *RegistrarClient) Purchase(ctx context.Context, req service.DomainPurchaseRequest) (service.DomainPurchaseResult, error) {
	var out orderResponse
	err := c.api.Do(ctx, vendorapi.Request{
		Method: http.MethodPost,
		Path:   "/v1/orders",
		Body:   orderPayload{Reference: req.ProvisionID.String(), Domains: req.Domains},
	}, &out)
	if err != nil {
		return service.DomainPurchaseResult{}, fmt.Errorf("purchase domains: %w", err)
	}
	return service.DomainPurchaseResult{OrderID: out.OrderID, Purchased: out.Domains}, nil
}

// Owned lists every domain bought under the provision's reference.
func (c *RegistrarClient) Owned(ctx context.Context, req service.DomainPurchaseRequest) (service.DomainPurchaseResult, error) {
	var out orderListResponse
	err := c.api.Do(ctx, vendorapi.Request{
		Method: http.MethodGet,
		Path:   "/v1/orders?reference=" + url.QueryEscape(req.ProvisionID.String()),
	}, &out)
	if err != nil {
		return service.DomainPurchaseResult{}, fmt.Errorf("list orders: %w", err)
	}

	result := service.DomainPurchaseResult{}
	seen := map[string]struct{}{}
	for _, o := range out.Orders {
		if result.OrderID == "" {
			result.OrderID = o.OrderID
		}
		for _, d := range o.Domains {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			result.Purchased = append(result.Purchased, d)
		}
	}
	sort.Strings(result.Purchased)
	return result, nil
}

var _ service.DomainRegistrar = (*RegistrarClient)(nil)
