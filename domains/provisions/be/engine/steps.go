package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/retry"
)

const (
	outputWorkspaceID         = "workspace_id"
	outputOrderID             = "order_id"
	outputOutreachWorkspaceID = "outreach_workspace_id"
	outputClientEmail         = "client_email"
	outputLeadListID          = "lead_list_id"
	outputSkipReason          = "reason"
)

// runContext carries the provision and everything earlier steps produced.
type runContext struct {
	provision service.Provision
	domains   []service.Domain
	outputs   map[string]string
	// skipped maps step keys to the reason they were skipped in this or an earlier run.
	skipped map[string]string
}

func (rc *runContext) skip(key, reason string) {
	if rc.skipped == nil {
		rc.skipped = make(map[string]string)
	}
	rc.skipped[key] = reason
}

func (rc *runContext) merge(out map[string]string) {
	for k, v := range out {
		rc.outputs[k] = v
	}
}

func (rc *runContext) domainNames() []string {
	names := make([]string, 0, len(rc.domains))
	for _, d := range rc.domains {
		names = append(names, d.DomainName)
	}
	return names
}

func (rc *runContext) require(key string) (string, error) {
	v := rc.outputs[key]
	if v == "" {
		return "", retry.Fatal(fmt.Errorf("missing %s from an earlier step", strings.ReplaceAll(key, "_", " ")))
	}
	return v, nil
}

type (
	stepAction    func(ctx context.Context, rc *runContext) (map[string]string, error)
	stepReconcile func(ctx context.Context, rc *runContext) (bool, map[string]string, error)
	// stepGuard returns a non-empty reason when the step must be skipped.
	stepGuard func(ctx context.Context, rc *runContext) (string, error)
)

type stepDef struct {
	info       service.StepInfo
	idempotent bool
	guard      stepGuard
	run        stepAction
	reconcile  stepReconcile
}

func (e *Engine) stepsFor(product service.ProductType) ([]stepDef, error) {
	infos := service.StepSequence(product)
	if infos == nil {
		return nil, fmt.Errorf("%w: %s", service.ErrUnknownProduct, product)
	}

	defs := make([]stepDef, 0, len(infos))
	for _, info := range infos {
		def, err := e.bind(info)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (e *Engine) bind(info service.StepInfo) (stepDef, error) {
	def := stepDef{info: info, idempotent: true}
	switch info.Key {
	case service.StepCreateWorkspace:
		def.run = e.createWorkspace
	case service.StepPurchaseDomains:
		def.idempotent = false
		def.run = e.purchaseDomains
		def.reconcile = e.reconcilePurchase
	case service.StepDNSPropagation:
		def.run = e.waitForDNS
	case service.StepConfigureDMARC:
		def.run = e.configureDMARC
	case service.StepCreateMailboxes:
		def.run = e.createMailboxes
	case service.StepInfrastructureComplete:
		def.run = e.completeInfrastructure
	case service.StepCreateOutreachWorkspace:
		def.run = e.createOutreachWorkspace
	case service.StepExportMailboxes:
		def.guard = e.requireActiveEmailInfra
		def.run = e.exportMailboxes
	case service.StepConfigureWarmup:
		def.guard = e.followMailboxExport
		def.run = e.configureWarmup
	case service.StepCreateLeadList:
		def.idempotent = false
		def.run = e.createLeadList
		def.reconcile = e.reconcileLeadList
	case service.StepOutreachComplete:
		def.run = func(ctx context.Context, rc *runContext) (map[string]string, error) { return nil, nil }
	default:
		return stepDef{}, fmt.Errorf("no action bound to step %q", info.Key)
	}
	return def, nil
}

func (e *Engine) createWorkspace(ctx context.Context, rc *runContext) (map[string]string, error) {
	if len(rc.domains) == 0 {
		return nil, retry.Fatal(fmt.Errorf("provision has no domains"))
	}
	res, err := e.deps.Workspace.Ensure(ctx, service.WorkspaceRequest{
		ProvisionID:   rc.provision.ID,
		OwnerID:       rc.provision.OwnerID,
		Provider:      rc.provision.ServiceProvider,
		PrimaryDomain: rc.domains[0].DomainName,
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{outputWorkspaceID: res.WorkspaceID}, nil
}

func (e *Engine) purchaseDomains(ctx context.Context, rc *runContext) (map[string]string, error) {
	res, err := e.deps.Registrar.Purchase(ctx, service.DomainPurchaseRequest{
		ProvisionID: rc.provision.ID,
		Domains:     rc.domainNames(),
	})
	if err != nil {
		return nil, err
	}
	if missing := missingFrom(rc.domainNames(), res.Purchased); len(missing) > 0 {
		return nil, retry.Fatal(fmt.Errorf("registrar did not purchase %s", strings.Join(missing, ", ")))
	}
	return map[string]string{outputOrderID: res.OrderID}, nil
}

func (e *Engine) reconcilePurchase(ctx context.Context, rc *runContext) (bool, map[string]string, error) {
	res, err := e.deps.Registrar.Owned(ctx, service.DomainPurchaseRequest{
		ProvisionID: rc.provision.ID,
		Domains:     rc.domainNames(),
	})
	if err != nil {
		return false, nil, err
	}
	if len(missingFrom(rc.domainNames(), res.Purchased)) > 0 {
		return false, nil, nil
	}
	return true, map[string]string{outputOrderID: res.OrderID}, nil
}

func (e *Engine) waitForDNS(ctx context.Context, rc *runContext) (map[string]string, error) {
	for _, d := range rc.domains {
		res, err := e.deps.DNS.Check(ctx, d.DomainName, d.ServiceProvider)
		if err != nil {
			return nil, err
		}
		if !res.Ready {
			// transient: propagation usually settles between attempts
			return nil, fmt.Errorf("dns for %s not propagated yet: %s", d.DomainName, res.Detail)
		}
	}
	for _, d := range rc.domains {
		if err := e.repo.SetDomainStatus(ctx, d.ID, service.DomainConnected); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (e *Engine) configureDMARC(ctx context.Context, rc *runContext) (map[string]string, error) {
	workspaceID, err := rc.require(outputWorkspaceID)
	if err != nil {
		return nil, err
	}
	for _, d := range rc.domains {
		if err := e.deps.DMARC.Ensure(ctx, service.DMARCRequest{
			WorkspaceID: workspaceID,
			Domain:      d.DomainName,
			ReportEmail: e.reportEmail,
		}); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (e *Engine) createMailboxes(ctx context.Context, rc *runContext) (map[string]string, error) {
	workspaceID, err := rc.require(outputWorkspaceID)
	if err != nil {
		return nil, err
	}
	created := 0
	for _, d := range rc.domains {
		emails := make([]string, 0, len(d.Mailboxes))
		for _, m := range d.Mailboxes {
			emails = append(emails, m.Email)
		}
		if len(emails) == 0 {
			continue
		}
		res, err := e.deps.Mailboxes.Ensure(ctx, service.MailboxRequest{
			WorkspaceID: workspaceID,
			Provider:    d.ServiceProvider,
			Emails:      emails,
		})
		if err != nil {
			return nil, err
		}
		created += len(res.Created)
	}
	if err := e.repo.SetMailboxStatus(ctx, rc.provision.ID, service.MailboxActive); err != nil {
		return nil, err
	}
	return map[string]string{"mailboxes_created": fmt.Sprint(created)}, nil
}

func (e *Engine) completeInfrastructure(ctx context.Context, rc *runContext) (map[string]string, error) {
	for _, d := range rc.domains {
		if err := e.repo.SetDomainStatus(ctx, d.ID, service.DomainActive); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (e *Engine) createOutreachWorkspace(ctx context.Context, rc *runContext) (map[string]string, error) {
	res, err := e.deps.Outreach.EnsureWorkspace(ctx, service.OutreachWorkspaceRequest{
		ProvisionID: rc.provision.ID,
		OwnerID:     rc.provision.OwnerID,
	})
	if err != nil {
		return nil, err
	}
	if res.ClientEmail != "" {
		email := res.ClientEmail
		if err := e.repo.SetVendorRefs(ctx, rc.provision.ID, service.VendorRefs{PlusvibeClientEmail: &email}); err != nil {
			return nil, err
		}
	}
	return map[string]string{
		outputOutreachWorkspaceID: res.WorkspaceID,
		outputClientEmail:         res.ClientEmail,
	}, nil
}

// requireActiveEmailInfra skips mailbox export and warmup unless the owner's
// email infrastructure is active. It also loads that provision's mailboxes.
func (e *Engine) requireActiveEmailInfra(ctx context.Context, rc *runContext) (string, error) {
	owned, err := e.repo.ListProvisionsByOwner(ctx, rc.provision.OwnerID)
	if err != nil {
		return "", err
	}
	infra, ok := service.FindLatest(owned, service.ProductEmailInfra)
	if !ok {
		return "no email infrastructure purchased", nil
	}
	if infra.Status != service.StatusActive {
		return fmt.Sprintf("email infrastructure is %s", infra.Status), nil
	}
	domains, err := e.repo.ListDomains(ctx, infra.ID)
	if err != nil {
		return "", err
	}
	rc.domains = domains
	return "", nil
}

// followMailboxExport skips warmup whenever mailbox export was skipped, even if
// the email infrastructure became active in between.
func (e *Engine) followMailboxExport(ctx context.Context, rc *runContext) (string, error) {
	if reason, ok := rc.skipped[service.StepExportMailboxes]; ok {
		return reason, nil
	}
	return e.requireActiveEmailInfra(ctx, rc)
}

func (e *Engine) exportMailboxes(ctx context.Context, rc *runContext) (map[string]string, error) {
	workspaceID, err := rc.require(outputOutreachWorkspaceID)
	if err != nil {
		return nil, err
	}
	emails := mailboxEmails(rc.domains)
	if err := e.deps.Outreach.ImportMailboxes(ctx, workspaceID, emails); err != nil {
		return nil, err
	}
	return map[string]string{"mailboxes_exported": fmt.Sprint(len(emails))}, nil
}

func (e *Engine) configureWarmup(ctx context.Context, rc *runContext) (map[string]string, error) {
	workspaceID, err := rc.require(outputOutreachWorkspaceID)
	if err != nil {
		return nil, err
	}
	return nil, e.deps.Outreach.EnableWarmup(ctx, workspaceID, mailboxEmails(rc.domains))
}

func (e *Engine) createLeadList(ctx context.Context, rc *runContext) (map[string]string, error) {
	res, err := e.deps.LinkedIn.CreateLeadList(ctx, leadListName(rc.provision.ID))
	if err != nil {
		return nil, err
	}
	return e.recordLeadList(ctx, rc, res.ListID)
}

func (e *Engine) reconcileLeadList(ctx context.Context, rc *runContext) (bool, map[string]string, error) {
	res, found, err := e.deps.LinkedIn.FindLeadList(ctx, leadListName(rc.provision.ID))
	if err != nil || !found {
		return false, nil, err
	}
	out, err := e.recordLeadList(ctx, rc, res.ListID)
	if err != nil {
		return false, nil, err
	}
	return true, out, nil
}

func (e *Engine) recordLeadList(ctx context.Context, rc *runContext, listID string) (map[string]string, error) {
	if err := e.repo.SetVendorRefs(ctx, rc.provision.ID, service.VendorRefs{HeyreachListID: &listID}); err != nil {
		return nil, err
	}
	return map[string]string{outputLeadListID: listID}, nil
}

func leadListName(provisionID uuid.UUID) string {
	return "gtm-" + provisionID.String()
}

func mailboxEmails(domains []service.Domain) []string {
	var emails []string
	for _, d := range domains {
		for _, m := range d.Mailboxes {
			emails = append(emails, m.Email)
		}
	}
	return emails
}

func missingFrom(want, got []string) []string {
	have := make(map[string]struct{}, len(got))
	for _, g := range got {
		have[strings.ToLower(g)] = struct{}{}
	}
	var missing []string
	for _, w := range want {
		if _, ok := have[strings.ToLower(w)]; !ok {
			missing = append(missing, w)
		}
	}
	return missing
}
