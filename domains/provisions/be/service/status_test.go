package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPendingPayment, StatusProvisioning, true},
		{StatusProvisioning, StatusActive, true},
		{StatusProvisioning, StatusFailed, true},
		{StatusPendingPayment, StatusActive, false},
		{StatusActive, StatusProvisioning, false},
		{StatusFailed, StatusProvisioning, false},
		{StatusFailed, StatusActive, false},
		{StatusActive, StatusFailed, false},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	require.True(t, StatusActive.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.False(t, StatusProvisioning.Terminal())
}

func TestLatestByStepPrefersHighestSeq(t *testing.T) {
	t.Parallel()

	latest := LatestByStep([]StepLog{
		{Seq: 1, Step: 1, Status: StepInProgress},
		{Seq: 2, Step: 1, Status: StepCompleted},
		{Seq: 3, Step: 2, Status: StepInProgress},
	})

	require.Equal(t, StepCompleted, latest[1].Status)
	require.Equal(t, StepInProgress, latest[2].Status)
	_, ok := latest[3]
	require.False(t, ok)
}

func TestStepSequences(t *testing.T) {
	t.Parallel()

	email := StepSequence(ProductEmailInfra)
	require.Len(t, email, 6)
	require.Equal(t, "Wait for DNS propagation", email[2].Name)

	outreach := StepSequence(ProductOutreachTools)
	require.Len(t, outreach, 5)
	require.Equal(t, StepExportMailboxes, outreach[1].Key)
	require.Equal(t, StepConfigureWarmup, outreach[2].Key)

	// callers get a copy
	email[0].Name = "changed"
	require.Equal(t, "Create workspace account", StepSequence(ProductEmailInfra)[0].Name)

	require.Nil(t, StepSequence("unknown"))
}

func TestParseHelpers(t *testing.T) {
	t.Parallel()

	p, err := ParseServiceProvider("microsoft")
	require.NoError(t, err)
	require.Equal(t, ProviderMicrosoft, p)

	_, err = ParseServiceProvider("yahoo")
	require.Error(t, err)

	_, err = ParseProductType("seo")
	require.ErrorIs(t, err, ErrUnknownProduct)
}
