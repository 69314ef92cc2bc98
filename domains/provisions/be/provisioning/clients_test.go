package provisioning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/retry"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/vendorapi"
)

func newAPI(t *testing.T, h http.Handler) *vendorapi.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return vendorapi.NewClient(vendorapi.Config{Name: "test", BaseURL: srv.URL, Token: "secret"})
}

func TestWorkspaceEnsureSendsIdempotencyKey(t *testing.T) {
	id := uuid.New()
	api := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/workspaces", r.URL.Path)
		require.Equal(t, "workspace-"+id.String(), r.Header.Get("Idempotency-Key"))
		var body workspacePayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "GOOGLE", body.Provider)
		require.Equal(t, "acme.com", body.PrimaryDomain)
		_, _ = w.Write([]byte(`{"id":"ws-9"}`))
	}))

	res, err := NewWorkspaceClient(api).Ensure(context.Background(), service.WorkspaceRequest{
		ProvisionID: id, OwnerID: "u1", Provider: service.ProviderGoogle, PrimaryDomain: "acme.com",
	})
	require.NoError(t, err)
	require.Equal(t, "ws-9", res.WorkspaceID)
}

func TestEnsureMailboxesCreatesOnlyMissing(t *testing.T) {
	var mu sync.Mutex
	var created []string
	api := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/workspaces/ws-1/mailboxes", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"mailboxes":[{"email":"tim@acme.com"}]}`))
		case http.MethodPost:
			var body mailboxCreatePayload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			mu.Lock()
			created = append(created, body.Emails...)
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		}
	}))

	res, err := NewWorkspaceClient(api).Mailboxes().Ensure(context.Background(), service.MailboxRequest{
		WorkspaceID: "ws-1",
		Provider:    service.ProviderGoogle,
		Emails:      []string{"tim@acme.com", "tim.keen@acme.com"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"tim.keen@acme.com"}, created)
	require.Equal(t, []string{"tim@acme.com", "tim.keen@acme.com"}, res.Created)
}

func TestRegistrarOwnedMergesOrders(t *testing.T) {
	id := uuid.New()
	api := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, id.String(), r.URL.Query().Get("reference"))
		_, _ = w.Write([]byte(`{"orders":[{"orderId":"o1","domains":["b.com","a.com"]},{"orderId":"o2","domains":["a.com","c.com"]}]}`))
	}))

	res, err := NewRegistrarClient(api).Owned(context.Background(), service.DomainPurchaseRequest{ProvisionID: id})
	require.NoError(t, err)
	require.Equal(t, "o1", res.OrderID)
	require.Equal(t, []string{"a.com", "b.com", "c.com"}, res.Purchased)
}

func TestRegistrarPurchaseRejectionIsFatal(t *testing.T) {
	api := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"domain unavailable"}`, http.StatusUnprocessableEntity)
	}))
	_, err := NewRegistrarClient(api).Purchase(context.Background(), service.DomainPurchaseRequest{
		ProvisionID: uuid.New(), Domains: []string{"taken.com"},
	})
	require.Error(t, err)
	require.True(t, retry.IsFatal(err))
	require.Equal(t, http.StatusUnprocessableEntity, vendorapi.StatusCode(err))
}

func TestRegistrarThrottleIsTransient(t *testing.T) {
	api := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	_, err := NewRegistrarClient(api).Purchase(context.Background(), service.DomainPurchaseRequest{ProvisionID: uuid.New()})
	require.Error(t, err)
	require.False(t, retry.IsFatal(err))
}

func TestDMARCEnsurePublishesRecord(t *testing.T) {
	api := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/v1/domains/acme.com/dmarc", r.URL.Path)
		var body dmarcPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "v=DMARC1; p=none; rua=mailto:dmarc@acme.com", body.Record)
		w.WriteHeader(http.StatusNoContent)
	}))
	err := NewDMARCClient(api, "").Ensure(context.Background(), service.DMARCRequest{
		WorkspaceID: "ws-1", Domain: "acme.com", ReportEmail: "dmarc@acme.com",
	})
	require.NoError(t, err)
}

func TestPlusVibeWorkspaceAndWarmup(t *testing.T) {
	var warmed []string
	api := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/clients":
			_, _ = w.Write([]byte(`{"clientId":"pv-1","email":"client@pv.example"}`))
		case "/api/v1/clients/pv-1/warmup":
			var body plusVibeWarmupPayload
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.True(t, body.Enabled)
			warmed = body.Emails
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	pv := NewPlusVibeClient(api)
	ws, err := pv.EnsureWorkspace(context.Background(), service.OutreachWorkspaceRequest{ProvisionID: uuid.New(), OwnerID: "u1"})
	require.NoError(t, err)
	require.Equal(t, "pv-1", ws.WorkspaceID)
	require.Equal(t, "client@pv.example", ws.ClientEmail)

	require.NoError(t, pv.EnableWarmup(context.Background(), ws.WorkspaceID, []string{"a@b.com"}))
	require.Equal(t, []string{"a@b.com"}, warmed)
}

func TestHeyReachFindLeadListExactMatch(t *testing.T) {
	api := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/public/list/GetAll", r.URL.Path)
		_, _ = w.Write([]byte(`{"totalCount":2,"items":[{"id":7,"name":"gtm-abc-old"},{"id":8,"name":"gtm-abc"}]}`))
	}))

	hr := NewHeyReachClient(api)
	res, ok, err := hr.FindLeadList(context.Background(), "gtm-abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "8", res.ListID)

	_, ok, err = hr.FindLeadList(context.Background(), "gtm-missing")
	require.NoError(t, err)
	require.False(t, ok)
}
