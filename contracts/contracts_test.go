package contracts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/webhook"
)

func TestLoadOpenAPI(t *testing.T) {
	spec, err := LoadOpenAPI(context.Background())
	require.NoError(t, err)

	for _, path := range []string{
		"/api/v1/tiers",
		"/api/v1/wizard/sessions",
		"/api/v1/wizard/sessions/{sessionID}/submit",
		"/api/v1/provisions/view",
		"/api/v1/provisions/progress/stream",
	} {
		require.NotNil(t, spec.Paths.Find(path), path)
	}
	require.Contains(t, spec.Components.SecuritySchemes, "bearerAuth")
}

func TestCheckoutEventSchema(t *testing.T) {
	v := webhook.NewSchemaValidator()
	require.NoError(t, v.Register(CheckoutEventSchemaName, CheckoutEventSchema()))

	require.NoError(t, v.Validate(CheckoutEventSchemaName,
		[]byte(`{"event":"checkout.completed","provisionIds":["0b7d5a52-7a8e-4a8b-9f39-0c7b3a8c1f11"]}`)))
	require.Error(t, v.Validate(CheckoutEventSchemaName, []byte(`{"event":"checkout.completed","provisionIds":[]}`)))
	require.Error(t, v.Validate(CheckoutEventSchemaName, []byte(`{"event":"refund","provisionIds":["x"]}`)))
}
