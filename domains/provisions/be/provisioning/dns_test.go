package provisioning

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
)

type fakeResolver struct {
	records []*net.MX
	err     error
}

func (f fakeResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	return f.records, f.err
}

func TestMXCheckerReadyForProvider(t *testing.T) {
	c := &MXChecker{resolver: fakeResolver{records: []*net.MX{{Host: "ASPMX.L.GOOGLE.COM.", Pref: 1}}}}
	res, err := c.Check(context.Background(), "acme.com", service.ProviderGoogle)
	require.NoError(t, err)
	require.True(t, res.Ready)

	c = &MXChecker{resolver: fakeResolver{records: []*net.MX{{Host: "acme-com.mail.protection.outlook.com.", Pref: 0}}}}
	res, err = c.Check(context.Background(), "acme.com", service.ProviderMicrosoft)
	require.NoError(t, err)
	require.True(t, res.Ready)
}

func TestMXCheckerNotReady(t *testing.T) {
	c := &MXChecker{resolver: fakeResolver{records: []*net.MX{{Host: "mx.parking.example."}}}}
	res, err := c.Check(context.Background(), "acme.com", service.ProviderGoogle)
	require.NoError(t, err)
	require.False(t, res.Ready)
	require.Contains(t, res.Detail, "mx.parking.example")

	c = &MXChecker{resolver: fakeResolver{err: &net.DNSError{Err: "no such host", Name: "acme.com", IsNotFound: true}}}
	res, err = c.Check(context.Background(), "acme.com", service.ProviderGoogle)
	require.NoError(t, err)
	require.False(t, res.Ready)
}

func TestMXCheckerResolverError(t *testing.T) {
	c := &MXChecker{resolver: fakeResolver{err: errors.New("i/o timeout")}}
	_, err := c.Check(context.Background(), "acme.com", service.ProviderGoogle)
	require.Error(t, err)
}
