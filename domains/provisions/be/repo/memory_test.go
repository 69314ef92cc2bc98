package repo

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
)

func TestMemoryRepositoryConditionalTransition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryRepository()

	p, err := repo.CreateProvision(ctx, service.Provision{OwnerID: "u1", ProductType: service.ProductEmailInfra, Status: service.StatusPendingPayment})
	require.NoError(t, err)

	_, err = repo.TransitionStatus(ctx, p.ID, service.StatusPendingPayment, service.StatusProvisioning, nil)
	require.NoError(t, err)

	_, err = repo.TransitionStatus(ctx, p.ID, service.StatusPendingPayment, service.StatusProvisioning, nil)
	require.ErrorIs(t, err, service.ErrStaleStatus)

	_, err = repo.TransitionStatus(ctx, uuid.New(), service.StatusPendingPayment, service.StatusProvisioning, nil)
	require.ErrorIs(t, err, service.ErrNotFound)

	require.ErrorIs(t, repo.DeletePendingProvision(ctx, p.ID), service.ErrNotDeletable)
}

func TestMemoryRepositorySubmissionKeyUnique(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryRepository()
	key := "k-1"

	first, err := repo.CreateProvision(ctx, service.Provision{OwnerID: "u1", ProductType: service.ProductEmailInfra, Status: service.StatusPendingPayment, SubmissionKey: &key})
	require.NoError(t, err)

	_, err = repo.CreateProvision(ctx, service.Provision{OwnerID: "u1", ProductType: service.ProductEmailInfra, Status: service.StatusPendingPayment, SubmissionKey: &key})
	require.ErrorIs(t, err, service.ErrDuplicateKey)

	// same key for the other product is a different submission row
	_, err = repo.CreateProvision(ctx, service.Provision{OwnerID: "u1", ProductType: service.ProductOutreachTools, Status: service.StatusPendingPayment, SubmissionKey: &key})
	require.NoError(t, err)

	found, err := repo.FindProvisionBySubmissionKey(ctx, "u1", service.ProductEmailInfra, key)
	require.NoError(t, err)
	require.Equal(t, first.ID, found.ID)
}

func TestMemoryRepositoryDomainsAndLogs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryRepository()

	p, err := repo.CreateProvision(ctx, service.Provision{OwnerID: "u1", ProductType: service.ProductEmailInfra, Status: service.StatusPendingPayment})
	require.NoError(t, err)

	created, err := repo.CreateDomains(ctx, p.ID, []service.Domain{{
		DomainName: "acme.com",
		Status:     service.DomainPending,
		Mailboxes:  []service.Mailbox{{Email: "tim@acme.com", Status: service.MailboxPending}},
	}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, created[0].ID, created[0].Mailboxes[0].DomainID)

	require.NoError(t, repo.SetDomainStatus(ctx, created[0].ID, service.DomainActive))
	require.NoError(t, repo.SetMailboxStatus(ctx, p.ID, service.MailboxActive))

	listed, err := repo.ListDomains(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, service.DomainActive, listed[0].Status)
	require.Equal(t, service.MailboxActive, listed[0].Mailboxes[0].Status)

	a, err := repo.AppendStepLog(ctx, service.StepLog{ProvisionID: p.ID, Step: 1, Status: service.StepInProgress})
	require.NoError(t, err)
	b, err := repo.AppendStepLog(ctx, service.StepLog{ProvisionID: p.ID, Step: 1, Status: service.StepCompleted})
	require.NoError(t, err)
	require.Greater(t, b.Seq, a.Seq)

	require.NoError(t, repo.DeletePendingProvision(ctx, p.ID))
	logs, err := repo.ListStepLogs(ctx, p.ID)
	require.NoError(t, err)
	require.Empty(t, logs)
}
