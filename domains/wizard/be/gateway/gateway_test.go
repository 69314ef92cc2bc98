package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/wizard/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/vendorapi"
)

func newAPI(t *testing.T, h http.HandlerFunc) *vendorapi.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return vendorapi.NewClient(vendorapi.Config{Name: "test", BaseURL: srv.URL, Token: "secret"})
}

func TestAvailabilitySearch(t *testing.T) {
	api := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/domains/availability", r.URL.Path)
		var body availabilityRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "acme", body.Domain)
		_, _ = w.Write([]byte(`{"domains":[
			{"domainName":"Acme.com","status":"AVAILABLE","domainPrice":12.99},
			{"domainName":"acmehq.com","status":"UNAVAILABLE","domainPrice":0},
			{"domainName":"","status":"AVAILABLE"}
		]}`))
	})

	got, err := NewAvailabilityClient(api).Search(context.Background(), "acme")
	require.NoError(t, err)
	require.Equal(t, []service.DomainOption{
		{DomainName: "acme.com", Available: true, PriceCents: 1299},
		{DomainName: "acmehq.com", Available: false, PriceCents: 0},
	}, got)
}

func TestAvailabilitySearchError(t *testing.T) {
	api := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err := NewAvailabilityClient(api).Search(context.Background(), "acme")
	require.Equal(t, http.StatusBadRequest, vendorapi.StatusCode(err))
}

func TestCheckoutCreateSession(t *testing.T) {
	id := uuid.New()
	tier := uuid.New()
	api := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.Equal(t, "checkout-"+id.String(), r.Header.Get("Idempotency-Key"))
		var body checkoutPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, id, body.ProvisionID)
		require.Equal(t, "owner", body.OwnerID)
		require.Equal(t, tier, *body.TierID)
		_, _ = w.Write([]byte(`{"url":"https://pay.example.test/s/1"}`))
	})

	url, err := NewCheckoutClient(api).CreateSession(context.Background(), service.CheckoutRequest{
		ProvisionID: id, ProvisionIDs: []uuid.UUID{id}, OwnerID: "owner", TierID: &tier,
	})
	require.NoError(t, err)
	require.Equal(t, "https://pay.example.test/s/1", url)
}

func TestCheckoutWithoutURL(t *testing.T) {
	api := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"card declined"}`))
	})
	_, err := NewCheckoutClient(api).CreateSession(context.Background(), service.CheckoutRequest{ProvisionID: uuid.New()})
	require.ErrorContains(t, err, "card declined")

	empty := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	_, err = NewCheckoutClient(empty).CreateSession(context.Background(), service.CheckoutRequest{ProvisionID: uuid.New()})
	require.ErrorIs(t, err, service.ErrNoCheckoutURL)
}

func TestSandbox(t *testing.T) {
	opts, err := SandboxAvailability{}.Search(context.Background(), "taken")
	require.NoError(t, err)
	require.Len(t, opts, 9)
	for _, o := range opts {
		require.False(t, o.Available)
	}

	id := uuid.New()
	raw, err := SandboxCheckout{BaseURL: "http://api.test/"}.CreateSession(context.Background(), service.CheckoutRequest{ProvisionIDs: []uuid.UUID{id}})
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "/sandbox/checkout", u.Path)
	require.Equal(t, id.String(), u.Query().Get("provision"))
}

func TestNewSelectsMode(t *testing.T) {
	logger := zaptest.NewLogger(t)

	a, c, err := New(Config{Mode: "sandbox"}, logger)
	require.NoError(t, err)
	require.IsType(t, SandboxAvailability{}, a)
	require.IsType(t, SandboxCheckout{}, c)

	_, _, err = New(Config{Mode: "live"}, logger)
	require.ErrorContains(t, err, "AVAILABILITY_API_URL")

	_, _, err = New(Config{Mode: "bogus"}, logger)
	require.Error(t, err)

	cfg := Config{Mode: "live"}
	cfg.Availability.URL = "http://availability.test"
	cfg.Checkout.URL = "http://checkout.test"
	a, c, err = New(cfg, logger)
	require.NoError(t, err)
	require.IsType(t, &AvailabilityClient{}, a)
	require.IsType(t, &CheckoutClient{}, c)
}
