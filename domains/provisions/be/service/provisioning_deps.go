package service

import (
	"context"

	"github.com/google/uuid"
)

// WorkspaceProvisioner creates the mail workspace account at Google or Microsoft.
// Ensure is keyed by provision id and safe to repeat.
type WorkspaceProvisioner interface {
	Ensure(ctx context.Context, req WorkspaceRequest) (WorkspaceResult, error)
}

type WorkspaceRequest struct {
	ProvisionID   uuid.UUID
	OwnerID       string
	Provider      ServiceProvider
	PrimaryDomain string
}

type WorkspaceResult struct {
	WorkspaceID string
}

// DomainRegistrar buys domains. Purchase is not idempotent; Owned is the
// read-only check used to reconcile an interrupted purchase.
type DomainRegistrar interface {
	Purchase(ctx context.Context, req DomainPurchaseRequest) (DomainPurchaseResult, error)
	Owned(ctx context.Context, req DomainPurchaseRequest) (DomainPurchaseResult, error)
}

type DomainPurchaseRequest struct {
	ProvisionID uuid.UUID
	Domains     []string
}

type DomainPurchaseResult struct {
	OrderID   string
	Purchased []string
}

// DNSChecker reports whether a domain's mail records resolve to its provider.
type DNSChecker interface {
	Check(ctx context.Context, domain string, provider ServiceProvider) (DNSCheckResult, error)
}

type DNSCheckResult struct {
	Ready  bool
	Detail string
}

// DMARCConfigurer publishes the DMARC policy for a domain. Ensure is idempotent.
type DMARCConfigurer interface {
	Ensure(ctx context.Context, req DMARCRequest) error
}

type DMARCRequest struct {
	WorkspaceID string
	Domain      string
	ReportEmail string
}

// MailboxProvisioner creates mailboxes in the workspace. Existing mailboxes are left as-is.
type MailboxProvisioner interface {
	Ensure(ctx context.Context, req MailboxRequest) (MailboxResult, error)
}

type MailboxRequest struct {
	WorkspaceID string
	Provider    ServiceProvider
	Emails      []string
}

type MailboxResult struct {
	Created []string
}

// OutreachWorkspace is the cold outreach tool (PlusVibe) holding mailboxes and warmup.
type OutreachWorkspace interface {
	EnsureWorkspace(ctx context.Context, req OutreachWorkspaceRequest) (OutreachWorkspaceResult, error)
	ImportMailboxes(ctx context.Context, workspaceID string, emails []string) error
	EnableWarmup(ctx context.Context, workspaceID string, emails []string) error
}

type OutreachWorkspaceRequest struct {
	ProvisionID uuid.UUID
	OwnerID     string
}

type OutreachWorkspaceResult struct {
	WorkspaceID string
	ClientEmail string
}

// LinkedInAutomation is the LinkedIn outreach tool (HeyReach). CreateLeadList
// is not idempotent; FindLeadList reconciles an interrupted create.
type LinkedInAutomation interface {
	CreateLeadList(ctx context.Context, name string) (LeadListResult, error)
	FindLeadList(ctx context.Context, name string) (LeadListResult, bool, error)
}

type LeadListResult struct {
	ListID string
}

// ProvisioningDeps bundles the vendor adapters used by the step engine.
type ProvisioningDeps struct {
	Workspace WorkspaceProvisioner
	Registrar DomainRegistrar
	DNS       DNSChecker
	DMARC     DMARCConfigurer
	Mailboxes MailboxProvisioner
	Outreach  OutreachWorkspace
	LinkedIn  LinkedInAutomation
}

// Validate reports the first missing adapter.
func (d ProvisioningDeps) Validate() error {
	switch {
	case d.Workspace == nil:
		return errMissingDep("workspace provisioner")
	case d.Registrar == nil:
		return errMissingDep("domain registrar")
	case d.DNS == nil:
		return errMissingDep("dns checker")
	case d.DMARC == nil:
		return errMissingDep("dmarc configurer")
	case d.Mailboxes == nil:
		return errMissingDep("mailbox provisioner")
	case d.Outreach == nil:
		return errMissingDep("outreach workspace")
	case d.LinkedIn == nil:
		return errMissingDep("linkedin automation")
	}
	return nil
}

type errMissingDep string

func (e errMissingDep) Error() string {
	return string(e) + " is required"
}
