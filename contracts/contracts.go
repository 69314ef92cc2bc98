// Package contracts embeds the HTTP contract and webhook payload schemas.
package contracts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// CheckoutEventSchemaName registers the checkout webhook payload schema.
const CheckoutEventSchemaName = "checkout-event"

//go:embed gtm.yaml
var openAPI []byte

//go:embed checkout-event.schema.json
var checkoutEventSchema []byte

// OpenAPI returns the raw contract document.
func OpenAPI() []byte { return openAPI }

func CheckoutEventSchema() []byte { return checkoutEventSchema }

// LoadOpenAPI parses and validates the embedded contract.
func LoadOpenAPI(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromData(openAPI)
	if err != nil {
		return nil, fmt.Errorf("load openapi contract: %w", err)
	}
	if err := spec.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi contract: %w", err)
	}
	return spec, nil
}
