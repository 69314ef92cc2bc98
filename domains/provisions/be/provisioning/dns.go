package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
)

// mxSuffixes are the MX host suffixes each provider publishes.
var mxSuffixes = map[service.ServiceProvider][]string{
	service.ProviderGoogle:    {"google.com", "googlemail.com"},
	service.ProviderMicrosoft: {"mail.protection.outlook.com"},
}

type mxResolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// MXChecker considers a domain propagated once its MX records point at the
// provider's mail servers.
type MXChecker struct {
	resolver mxResolver
}

// NewMXChecker uses server ("host:port") when set, otherwise the system resolver.
func NewMXChecker(server string) *MXChecker {
	if strings.TrimSpace(server) == "" {
		return &MXChecker{resolver: net.DefaultResolver}
	}
	return &MXChecker{resolver: &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: 5 * time.Second}
			return d.DialContext(ctx, network, server)
		},
	}}
}

func (c *MXChecker) Check(ctx context.Context, domain string, provider service.ServiceProvider) (service.DNSCheckResult, error) {
	suffixes, ok := mxSuffixes[provider]
	if !ok {
		return service.DNSCheckResult{}, fmt.Errorf("no mx expectation for provider %q", provider)
	}

	records, err := c.resolver.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return service.DNSCheckResult{Ready: false, Detail: "no MX records"}, nil
		}
		return service.DNSCheckResult{}, fmt.Errorf("lookup mx %s: %w", domain, err)
	}

	var hosts []string
	for _, mx := range records {
		host := strings.ToLower(strings.TrimSuffix(mx.Host, "."))
		hosts = append(hosts, host)
		for _, suffix := range suffixes {
			if host == suffix || strings.HasSuffix(host, "."+suffix) {
				return service.DNSCheckResult{Ready: true, Detail: host}, nil
			}
		}
	}
	if len(hosts) == 0 {
		return service.DNSCheckResult{Ready: false, Detail: "no MX records"}, nil
	}
	return service.DNSCheckResult{Ready: false, Detail: "MX points at " + strings.Join(hosts, ", ")}, nil
}

var _ service.DNSChecker = (*MXChecker)(nil)
