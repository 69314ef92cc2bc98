package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/repo"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/retry"
)

type workspaceFunc func(ctx context.Context, req service.WorkspaceRequest) (service.WorkspaceResult, error)

func (f workspaceFunc) Ensure(ctx context.Context, req service.WorkspaceRequest) (service.WorkspaceResult, error) {
	return f(ctx, req)
}

type dnsFunc func(ctx context.Context, domain string, provider service.ServiceProvider) (service.DNSCheckResult, error)

func (f dnsFunc) Check(ctx context.Context, domain string, provider service.ServiceProvider) (service.DNSCheckResult, error) {
	return f(ctx, domain, provider)
}

type dmarcFunc func(ctx context.Context, req service.DMARCRequest) error

func (f dmarcFunc) Ensure(ctx context.Context, req service.DMARCRequest) error { return f(ctx, req) }

type mailboxFunc func(ctx context.Context, req service.MailboxRequest) (service.MailboxResult, error)

func (f mailboxFunc) Ensure(ctx context.Context, req service.MailboxRequest) (service.MailboxResult, error) {
	return f(ctx, req)
}

type stubRegistrar struct {
	mu            sync.Mutex
	purchaseCalls int
	purchaseErr   error
	owned         []string
}

func (r *stubRegistrar) Purchase(ctx context.Context, req service.DomainPurchaseRequest) (service.DomainPurchaseResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purchaseCalls++
	if r.purchaseErr != nil {
		return service.DomainPurchaseResult{}, r.purchaseErr
	}
	r.owned = append(r.owned, req.Domains...)
	return service.DomainPurchaseResult{OrderID: "order-1", Purchased: req.Domains}, nil
}

func (r *stubRegistrar) Owned(ctx context.Context, req service.DomainPurchaseRequest) (service.DomainPurchaseResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return service.DomainPurchaseResult{OrderID: "order-1", Purchased: append([]string(nil), r.owned...)}, nil
}

type stubOutreach struct {
	mu       sync.Mutex
	imported []string
	warmed   []string
}

func (o *stubOutreach) EnsureWorkspace(ctx context.Context, req service.OutreachWorkspaceRequest) (service.OutreachWorkspaceResult, error) {
	return service.OutreachWorkspaceResult{WorkspaceID: "pv-" + req.OwnerID, ClientEmail: req.OwnerID + "@clients.example"}, nil
}

func (o *stubOutreach) ImportMailboxes(ctx context.Context, workspaceID string, emails []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.imported = append(o.imported, emails...)
	return nil
}

func (o *stubOutreach) EnableWarmup(ctx context.Context, workspaceID string, emails []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.warmed = append(o.warmed, emails...)
	return nil
}

type stubLinkedIn struct {
	mu          sync.Mutex
	lists       map[string]string
	createCalls int
}

func (l *stubLinkedIn) CreateLeadList(ctx context.Context, name string) (service.LeadListResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.createCalls++
	id := "hr-" + name
	l.lists[name] = id
	return service.LeadListResult{ListID: id}, nil
}

func (l *stubLinkedIn) FindLeadList(ctx context.Context, name string) (service.LeadListResult, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.lists[name]
	return service.LeadListResult{ListID: id}, ok, nil
}

type fixture struct {
	repo      *repo.MemoryRepository
	registrar *stubRegistrar
	outreach  *stubOutreach
	linkedin  *stubLinkedIn
	deps      service.ProvisioningDeps
	dnsCalls  int
	mu        sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      repo.NewMemoryRepository(),
		registrar: &stubRegistrar{},
		outreach:  &stubOutreach{},
		linkedin:  &stubLinkedIn{lists: map[string]string{}},
	}
	f.deps = service.ProvisioningDeps{
		Workspace: workspaceFunc(func(ctx context.Context, req service.WorkspaceRequest) (service.WorkspaceResult, error) {
			return service.WorkspaceResult{WorkspaceID: "ws-" + req.PrimaryDomain}, nil
		}),
		Registrar: f.registrar,
		DNS: dnsFunc(func(ctx context.Context, domain string, provider service.ServiceProvider) (service.DNSCheckResult, error) {
			f.mu.Lock()
			f.dnsCalls++
			f.mu.Unlock()
			return service.DNSCheckResult{Ready: true}, nil
		}),
		DMARC: dmarcFunc(func(ctx context.Context, req service.DMARCRequest) error { return nil }),
		Mailboxes: mailboxFunc(func(ctx context.Context, req service.MailboxRequest) (service.MailboxResult, error) {
			return service.MailboxResult{Created: req.Emails}, nil
		}),
		Outreach: f.outreach,
		LinkedIn: f.linkedin,
	}
	return f
}

func (f *fixture) engine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{WithRetryPolicy(retry.NewPolicy(
		retry.WithMaxRetries(3),
		retry.WithInitialDelay(time.Millisecond),
		retry.WithMaxDelay(2*time.Millisecond),
	))}
	return New(f.repo, f.deps, zaptest.NewLogger(t), append(base, opts...)...)
}

func (f *fixture) emailInfra(t *testing.T, owner string, status service.Status) service.Provision {
	t.Helper()
	ctx := context.Background()
	p, err := f.repo.CreateProvision(ctx, service.Provision{
		OwnerID:         owner,
		ProductType:     service.ProductEmailInfra,
		Status:          status,
		ServiceProvider: service.ProviderGoogle,
		MailboxPattern1: "tim",
		MailboxPattern2: "tim.keen",
	})
	require.NoError(t, err)
	_, err = f.repo.CreateDomains(ctx, p.ID, []service.Domain{
		{DomainName: "acme.com", Status: service.DomainPending, ServiceProvider: service.ProviderGoogle,
			Mailboxes: []service.Mailbox{{Email: "tim@acme.com"}, {Email: "tim.keen@acme.com"}}},
		{DomainName: "acmehq.com", Status: service.DomainPending, ServiceProvider: service.ProviderGoogle,
			Mailboxes: []service.Mailbox{{Email: "tim@acmehq.com"}, {Email: "tim.keen@acmehq.com"}}},
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) outreachTools(t *testing.T, owner string) service.Provision {
	t.Helper()
	p, err := f.repo.CreateProvision(context.Background(), service.Provision{
		OwnerID:         owner,
		ProductType:     service.ProductOutreachTools,
		Status:          service.StatusProvisioning,
		ServiceProvider: service.ProviderGoogle,
	})
	require.NoError(t, err)
	return p
}

func latestStatuses(t *testing.T, r service.Repository, id uuid.UUID, steps int) []service.StepStatus {
	t.Helper()
	logs, err := r.ListStepLogs(context.Background(), id)
	require.NoError(t, err)
	latest := service.LatestByStep(logs)
	out := make([]service.StepStatus, steps)
	for i := range out {
		if entry, ok := latest[i+1]; ok {
			out[i] = entry.Status
		} else {
			out[i] = service.StepPending
		}
	}
	return out
}

func requireMonotonic(t *testing.T, statuses []service.StepStatus) {
	t.Helper()
	for k, st := range statuses {
		if st != service.StepCompleted {
			continue
		}
		for j := 0; j < k; j++ {
			require.True(t, statuses[j].Settled(), "step %d is %s while step %d completed", j+1, statuses[j], k+1)
		}
	}
}

func TestRunEmailInfraHappyPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p := f.emailInfra(t, "u1", service.StatusProvisioning)

	out, err := f.engine(t).Run(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, out.Status)

	statuses := latestStatuses(t, f.repo, p.ID, 6)
	for _, st := range statuses {
		require.Equal(t, service.StepCompleted, st)
	}

	domains, err := f.repo.ListDomains(ctx, p.ID)
	require.NoError(t, err)
	for _, d := range domains {
		require.Equal(t, service.DomainActive, d.Status)
		for _, m := range d.Mailboxes {
			require.Equal(t, service.MailboxActive, m.Status)
		}
	}

	// a second run of an active provision is a no-op
	again, err := f.engine(t).Run(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, again.Status)
	require.Equal(t, 1, f.registrar.purchaseCalls)
}

func TestRunDNSFailureAfterTransientRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.deps.DNS = dnsFunc(func(ctx context.Context, domain string, provider service.ServiceProvider) (service.DNSCheckResult, error) {
		f.mu.Lock()
		f.dnsCalls++
		f.mu.Unlock()
		return service.DNSCheckResult{Ready: false, Detail: "MX record missing"}, nil
	})
	p := f.emailInfra(t, "u1", service.StatusProvisioning)

	out, err := f.engine(t).Run(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusFailed, out.Status)
	require.NotNil(t, out.ProvisioningLog)
	require.Contains(t, *out.ProvisioningLog, "step 3")

	// one initial attempt plus three retries
	require.Equal(t, 4, f.dnsCalls)

	statuses := latestStatuses(t, f.repo, p.ID, 6)
	require.Equal(t, []service.StepStatus{
		service.StepCompleted, service.StepCompleted, service.StepFailed,
		service.StepPending, service.StepPending, service.StepPending,
	}, statuses)

	logs, err := f.repo.ListStepLogs(ctx, p.ID)
	require.NoError(t, err)
	failed := service.LatestByStep(logs)[3]
	require.NotNil(t, failed.Error)
	require.Contains(t, *failed.Error, "acme.com not propagated yet")

	// failed provisions are not resurrected by a later run
	again, err := f.engine(t).Run(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusFailed, again.Status)
	require.Equal(t, 4, f.dnsCalls)
}

func TestRunTerminalErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.registrar.purchaseErr = retry.Fatal(errors.New("acmehq.com is no longer available"))
	p := f.emailInfra(t, "u1", service.StatusProvisioning)

	out, err := f.engine(t).Run(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusFailed, out.Status)
	require.Equal(t, 1, f.registrar.purchaseCalls)

	statuses := latestStatuses(t, f.repo, p.ID, 6)
	require.Equal(t, service.StepFailed, statuses[1])
	requireMonotonic(t, statuses)
}

func TestRunOutreachAloneSkipsMailboxSteps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p := f.outreachTools(t, "solo")

	out, err := f.engine(t).Run(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, out.Status)

	require.Equal(t, []service.StepStatus{
		service.StepCompleted, service.StepSkipped, service.StepSkipped,
		service.StepCompleted, service.StepCompleted,
	}, latestStatuses(t, f.repo, p.ID, 5))
	require.Empty(t, f.outreach.imported)

	stored, err := f.repo.GetProvision(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PlusvibeClientEmail)
	require.NotNil(t, stored.HeyreachListID)
}

func TestRunOutreachExportsActiveInfraMailboxes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	infra := f.emailInfra(t, "u2", service.StatusProvisioning)
	_, err := f.engine(t).Run(ctx, infra.ID)
	require.NoError(t, err)

	p := f.outreachTools(t, "u2")
	out, err := f.engine(t).Run(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, out.Status)

	for _, st := range latestStatuses(t, f.repo, p.ID, 5) {
		require.Equal(t, service.StepCompleted, st)
	}
	want := []string{"tim@acme.com", "tim.keen@acme.com", "tim@acmehq.com", "tim.keen@acmehq.com"}
	require.Equal(t, want, f.outreach.imported)
	require.Equal(t, want, f.outreach.warmed)
}

// activatingRepo activates the owner's email infrastructure right after the
// first time the engine looks it up.
type activatingRepo struct {
	*repo.MemoryRepository
	infra   uuid.UUID
	lookups int
}

func (r *activatingRepo) ListProvisionsByOwner(ctx context.Context, ownerID string) ([]service.Provision, error) {
	owned, err := r.MemoryRepository.ListProvisionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	r.lookups++
	if r.lookups == 1 {
		if _, err := r.TransitionStatus(ctx, r.infra, service.StatusProvisioning, service.StatusActive, nil); err != nil {
			return nil, err
		}
	}
	return owned, nil
}

func TestWarmupFollowsSkippedExport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	infra := f.emailInfra(t, "u9", service.StatusProvisioning)
	p := f.outreachTools(t, "u9")
	r := &activatingRepo{MemoryRepository: f.repo, infra: infra.ID}

	out, err := New(r, f.deps, zaptest.NewLogger(t)).Run(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, out.Status)

	stored, err := f.repo.GetProvision(ctx, infra.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, stored.Status)

	statuses := latestStatuses(t, f.repo, p.ID, 5)
	require.Equal(t, service.StepSkipped, statuses[1])
	require.Equal(t, service.StepSkipped, statuses[2])
	require.Empty(t, f.outreach.imported)
	require.Empty(t, f.outreach.warmed)

	logs, err := f.repo.ListStepLogs(ctx, p.ID)
	require.NoError(t, err)
	latest := service.LatestByStep(logs)
	require.Equal(t, "email infrastructure is provisioning", latest[3].Output[outputSkipReason])
	require.Equal(t, latest[2].Output[outputSkipReason], latest[3].Output[outputSkipReason])
}

func TestResumedRunKeepsEarlierExportSkip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.emailInfra(t, "u10", service.StatusActive)
	p := f.outreachTools(t, "u10")
	for step, entry := range map[int]service.StepLog{
		1: {Status: service.StepCompleted, Output: map[string]string{outputOutreachWorkspaceID: "pv-u10", outputClientEmail: "u10@clients.example"}},
		2: {Status: service.StepSkipped, Output: map[string]string{outputSkipReason: "no email infrastructure purchased"}},
	} {
		entry.ProvisionID, entry.Step = p.ID, step
		_, err := f.repo.AppendStepLog(ctx, entry)
		require.NoError(t, err)
	}

	out, err := f.engine(t).Run(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, out.Status)
	require.Equal(t, service.StepSkipped, latestStatuses(t, f.repo, p.ID, 5)[2])
	require.Empty(t, f.outreach.warmed)
}

func TestSiblingFailureDoesNotAbortOtherProduct(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.registrar.purchaseErr = retry.Fatal(errors.New("payment declined by registrar"))
	infra := f.emailInfra(t, "u3", service.StatusProvisioning)
	outreach := f.outreachTools(t, "u3")

	failed, err := f.engine(t).Run(ctx, infra.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusFailed, failed.Status)

	done, err := f.engine(t).Run(ctx, outreach.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, done.Status)
}

func TestResumeReconcilesInterruptedPurchase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p := f.emailInfra(t, "u4", service.StatusProvisioning)

	// simulate a crash right after the purchase went through
	_, err := f.repo.AppendStepLog(ctx, service.StepLog{ProvisionID: p.ID, Step: 1, Status: service.StepCompleted, Output: map[string]string{outputWorkspaceID: "ws-1"}})
	require.NoError(t, err)
	_, err = f.repo.AppendStepLog(ctx, service.StepLog{ProvisionID: p.ID, Step: 2, Status: service.StepInProgress})
	require.NoError(t, err)
	f.registrar.owned = []string{"acme.com", "acmehq.com"}

	out, err := f.engine(t).Run(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, out.Status)
	require.Zero(t, f.registrar.purchaseCalls)
}

func TestResumeFailsUnreconciledPurchase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p := f.emailInfra(t, "u5", service.StatusProvisioning)

	_, err := f.repo.AppendStepLog(ctx, service.StepLog{ProvisionID: p.ID, Step: 1, Status: service.StepCompleted, Output: map[string]string{outputWorkspaceID: "ws-1"}})
	require.NoError(t, err)
	_, err = f.repo.AppendStepLog(ctx, service.StepLog{ProvisionID: p.ID, Step: 2, Status: service.StepInProgress})
	require.NoError(t, err)

	out, err := f.engine(t).Run(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusFailed, out.Status)
	require.Zero(t, f.registrar.purchaseCalls)

	logs, err := f.repo.ListStepLogs(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, ErrInterrupted.Error(), *service.LatestByStep(logs)[2].Error)
}

func TestResumeReusesEarlierOutputs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	var seen []string
	f.deps.DMARC = dmarcFunc(func(ctx context.Context, req service.DMARCRequest) error {
		seen = append(seen, req.WorkspaceID)
		return nil
	})
	p := f.emailInfra(t, "u6", service.StatusProvisioning)
	for step, out := range map[int]map[string]string{1: {outputWorkspaceID: "ws-restored"}, 2: {outputOrderID: "o-1"}} {
		_, err := f.repo.AppendStepLog(ctx, service.StepLog{ProvisionID: p.ID, Step: step, Status: service.StepCompleted, Output: out})
		require.NoError(t, err)
	}

	_, err := f.engine(t).Run(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"ws-restored", "ws-restored"}, seen)
	require.Zero(t, f.registrar.purchaseCalls)
}

func TestRunRejectsUnpaidProvision(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.emailInfra(t, "u7", service.StatusPendingPayment)

	_, err := f.engine(t).Run(context.Background(), p.ID)
	require.ErrorIs(t, err, ErrNotPaid)
}

func TestCancelledRunLeavesStepInProgress(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.deps.DNS = dnsFunc(func(c context.Context, domain string, provider service.ServiceProvider) (service.DNSCheckResult, error) {
		cancel()
		return service.DNSCheckResult{}, c.Err()
	})
	p := f.emailInfra(t, "u8", service.StatusProvisioning)

	_, err := f.engine(t).Run(ctx, p.ID)
	require.ErrorIs(t, err, context.Canceled)

	stored, err := f.repo.GetProvision(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusProvisioning, stored.Status)
	require.Equal(t, service.StepInProgress, latestStatuses(t, f.repo, p.ID, 6)[2])
}

type captureExporter struct {
	bundles []SupportBundle
}

func (c *captureExporter) Export(ctx context.Context, b SupportBundle) (string, error) {
	c.bundles = append(c.bundles, b)
	return "support/" + b.Provision.ID.String() + ".json", nil
}

func TestFailureExportsSupportBundle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.deps.Workspace = workspaceFunc(func(ctx context.Context, req service.WorkspaceRequest) (service.WorkspaceResult, error) {
		return service.WorkspaceResult{}, retry.Fatal(errors.New("reseller account suspended"))
	})
	exporter := &captureExporter{}
	p := f.emailInfra(t, "u9", service.StatusProvisioning)

	out, err := f.engine(t, WithSupportExporter(exporter)).Run(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, service.StatusFailed, out.Status)
	require.Len(t, exporter.bundles, 1)
	require.Equal(t, 1, exporter.bundles[0].FailedStep.Number)
	require.Len(t, exporter.bundles[0].StepLogs, 2)
	require.Contains(t, *out.ProvisioningLog, "support bundle: support/")
}
