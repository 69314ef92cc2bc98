package gateway

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/provisioning"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/wizard/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/vendorapi"
)

// Config selects the availability and checkout collaborators. It shares
// VENDOR_MODE with the provisioning adapters.
type Config struct {
	Mode         string                `env:"VENDOR_MODE" envDefault:"sandbox"`
	Timeout      time.Duration         `env:"VENDOR_TIMEOUT" envDefault:"30s"`
	Availability provisioning.Endpoint `envPrefix:"AVAILABILITY_"`
	Checkout     provisioning.Endpoint `envPrefix:"CHECKOUT_"`
	PublicURL    string                `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`
}

// New builds both collaborators for cfg.Mode.
func New(cfg Config, logger *zap.Logger) (service.Availability, service.Checkout, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", provisioning.ModeSandbox:
		return SandboxAvailability{}, SandboxCheckout{BaseURL: cfg.PublicURL}, nil
	case provisioning.ModeLive:
	default:
		return nil, nil, fmt.Errorf("invalid VENDOR_MODE %q (use live or sandbox)", cfg.Mode)
	}

	if strings.TrimSpace(cfg.Availability.URL) == "" {
		return nil, nil, fmt.Errorf("AVAILABILITY_API_URL is required in live mode")
	}
	if strings.TrimSpace(cfg.Checkout.URL) == "" {
		return nil, nil, fmt.Errorf("CHECKOUT_API_URL is required in live mode")
	}
	availability := NewAvailabilityClient(vendorapi.NewClient(vendorapi.Config{
		Name: "availability", BaseURL: cfg.Availability.URL, Token: cfg.Availability.Token, Timeout: cfg.Timeout,
	}))
	checkout := NewCheckoutClient(vendorapi.NewClient(vendorapi.Config{
		Name: "checkout", BaseURL: cfg.Checkout.URL, Token: cfg.Checkout.Token, Timeout: cfg.Timeout,
	}))
	logger.Info("wizard collaborators running in live mode")
	return availability, checkout, nil
}
