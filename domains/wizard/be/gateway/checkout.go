package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/wizard/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/vendorapi"
)

// CheckoutClient opens hosted checkout sessions with the payment provider.
type CheckoutClient struct {
	api *vendorapi.Client
}

var _ service.Checkout = (*CheckoutClient)(nil)

func NewCheckoutClient(api *vendorapi.Client) *CheckoutClient {
	if api == nil {
		panic("checkout client requires api client")
	}
	return &CheckoutClient{api: api}
}

type checkoutPayload struct {
	ProvisionID  uuid.UUID   `json:"provisionId"`
	ProvisionIDs []uuid.UUID `json:"provisionIds"`
	OwnerID      string      `json:"ownerId"`
	TierID       *uuid.UUID  `json:"tierId,omitempty"`
}

type checkoutResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

func (c *CheckoutClient) CreateSession(ctx context.Context, req service.CheckoutRequest) (string, error) {
	var out checkoutResponse
	err := c.api.Do(ctx, vendorapi.Request{
		Method:         http.MethodPost,
		Path:           "/v1/checkout/sessions",
		Body:           checkoutPayload{ProvisionID: req.ProvisionID, ProvisionIDs: req.ProvisionIDs, OwnerID: req.OwnerID, TierID: req.TierID},
		IdempotencyKey: "checkout-" + req.ProvisionID.String(),
	}, &out)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	if out.URL == "" {
		if out.Error != "" {
			return "", fmt.Errorf("create checkout session: %s", out.Error)
		}
		return "", service.ErrNoCheckoutURL
	}
	return out.URL, nil
}
