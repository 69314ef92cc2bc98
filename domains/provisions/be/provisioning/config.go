package provisioning

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/vendorapi"
)

const (
	ModeLive    = "live"
	ModeSandbox = "sandbox"
)

// Endpoint is one vendor's base URL and API token.
type Endpoint struct {
	URL   string `env:"API_URL"`
	Token string `env:"API_TOKEN"`
}

// Config selects and configures the vendor adapters. Parsed with env.Parse.
type Config struct {
	Mode        string        `env:"VENDOR_MODE" envDefault:"sandbox"` // live | sandbox
	Timeout     time.Duration `env:"VENDOR_TIMEOUT" envDefault:"30s"`
	DNSResolver string        `env:"DNS_RESOLVER"` // host:port; empty uses the system resolver
	DMARCPolicy string        `env:"DMARC_POLICY" envDefault:"none"`
	Workspace   Endpoint      `envPrefix:"WORKSPACE_"`
	Registrar   Endpoint      `envPrefix:"REGISTRAR_"`
	DNSHost     Endpoint      `envPrefix:"DNSHOST_"`
	PlusVibe    Endpoint      `envPrefix:"PLUSVIBE_"`
	HeyReach    Endpoint      `envPrefix:"HEYREACH_"`
}

// NewDeps builds the adapters for cfg.Mode.
func NewDeps(cfg Config, logger *zap.Logger) (service.ProvisioningDeps, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", ModeSandbox:
		logger.Warn("vendor adapters running in sandbox mode")
		return NewSandbox().Deps(), nil
	case ModeLive:
	default:
		return service.ProvisioningDeps{}, fmt.Errorf("invalid VENDOR_MODE %q (use live or sandbox)", cfg.Mode)
	}

	endpoints := []struct {
		name string
		ep   Endpoint
	}{
		{"WORKSPACE", cfg.Workspace},
		{"REGISTRAR", cfg.Registrar},
		{"DNSHOST", cfg.DNSHost},
		{"PLUSVIBE", cfg.PlusVibe},
		{"HEYREACH", cfg.HeyReach},
	}
	for _, e := range endpoints {
		if strings.TrimSpace(e.ep.URL) == "" {
			return service.ProvisioningDeps{}, fmt.Errorf("%s_API_URL is required in live mode", e.name)
		}
	}

	client := func(name string, ep Endpoint) *vendorapi.Client {
		return vendorapi.NewClient(vendorapi.Config{Name: name, BaseURL: ep.URL, Token: ep.Token, Timeout: cfg.Timeout})
	}

	workspace := NewWorkspaceClient(client("workspace", cfg.Workspace))
	deps := service.ProvisioningDeps{
		Workspace: workspace,
		Registrar: NewRegistrarClient(client("registrar", cfg.Registrar)),
		DNS:       NewMXChecker(cfg.DNSResolver),
		DMARC:     NewDMARCClient(client("dnshost", cfg.DNSHost), cfg.DMARCPolicy),
		Mailboxes: workspace.Mailboxes(),
		Outreach:  NewPlusVibeClient(client("plusvibe", cfg.PlusVibe)),
		LinkedIn:  NewHeyReachClient(client("heyreach", cfg.HeyReach)),
	}
	logger.Info("vendor adapters running in live mode", zap.Duration("timeout", cfg.Timeout))
	return deps, deps.Validate()
}
