package provisioning

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
)

// Sandbox is an in-process stand-in for every vendor. It succeeds
// deterministically and remembers purchases and lead lists so resume and
// reconciliation behave as they would against real vendors.
type Sandbox struct {
	mu        sync.Mutex
	orders    map[string][]string
	leadLists map[string]string
	nextList  int
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		orders:    map[string][]string{},
		leadLists: map[string]string{},
	}
}

// Deps exposes the sandbox as a full set of adapters.
func (s *Sandbox) Deps() service.ProvisioningDeps {
	return service.ProvisioningDeps{
		Workspace: sandboxWorkspace{},
		Registrar: s,
		DNS:       sandboxDNS{},
		DMARC:     sandboxDMARC{},
		Mailboxes: sandboxMailboxes{},
		Outreach:  sandboxOutreach{},
		LinkedIn:  s,
	}
}

func (s *Sandbox) Purchase(ctx context.Context, req service.DomainPurchaseRequest) (service.DomainPurchaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := req.ProvisionID.String()
	s.orders[key] = append(s.orders[key], req.Domains...)
	return service.DomainPurchaseResult{OrderID: "sandbox-order-" + key, Purchased: append([]string(nil), req.Domains...)}, nil
}

func (s *Sandbox) Owned(ctx context.Context, req service.DomainPurchaseRequest) (service.DomainPurchaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := req.ProvisionID.String()
	owned := append([]string(nil), s.orders[key]...)
	sort.Strings(owned)
	return service.DomainPurchaseResult{OrderID: "sandbox-order-" + key, Purchased: owned}, nil
}

func (s *Sandbox) CreateLeadList(ctx context.Context, name string) (service.LeadListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextList++
	id := fmt.Sprintf("sandbox-list-%d", s.nextList)
	s.leadLists[name] = id
	return service.LeadListResult{ListID: id}, nil
}

func (s *Sandbox) FindLeadList(ctx context.Context, name string) (service.LeadListResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.leadLists[name]
	return service.LeadListResult{ListID: id}, ok, nil
}

type sandboxWorkspace struct{}

func (sandboxWorkspace) Ensure(ctx context.Context, req service.WorkspaceRequest) (service.WorkspaceResult, error) {
	return service.WorkspaceResult{WorkspaceID: "sandbox-ws-" + req.ProvisionID.String()}, nil
}

type sandboxDNS struct{}

func (sandboxDNS) Check(ctx context.Context, domain string, provider service.ServiceProvider) (service.DNSCheckResult, error) {
	return service.DNSCheckResult{Ready: true, Detail: "sandbox"}, nil
}

type sandboxDMARC struct{}

func (sandboxDMARC) Ensure(ctx context.Context, req service.DMARCRequest) error { return nil }

type sandboxMailboxes struct{}

func (sandboxMailboxes) Ensure(ctx context.Context, req service.MailboxRequest) (service.MailboxResult, error) {
	return service.MailboxResult{Created: append([]string(nil), req.Emails...)}, nil
}

type sandboxOutreach struct{}

func (sandboxOutreach) EnsureWorkspace(ctx context.Context, req service.OutreachWorkspaceRequest) (service.OutreachWorkspaceResult, error) {
	return service.OutreachWorkspaceResult{
		WorkspaceID: "sandbox-pv-" + req.ProvisionID.String(),
		ClientEmail: req.OwnerID + "@sandbox.invalid",
	}, nil
}

func (sandboxOutreach) ImportMailboxes(ctx context.Context, workspaceID string, emails []string) error {
	return nil
}

func (sandboxOutreach) EnableWarmup(ctx context.Context, workspaceID string, emails []string) error {
	return nil
}

var (
	_ service.DomainRegistrar    = (*Sandbox)(nil)
	_ service.LinkedInAutomation = (*Sandbox)(nil)
)
