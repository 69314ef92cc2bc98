package vendorapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/retry"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{Name: "acme", BaseURL: srv.URL + "/", Token: "tok"})
}

func TestDoSendsJSONAndHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/things", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, "x", in["name"])
		_, _ = w.Write([]byte(`{"id":"t-1"}`))
	})

	var out struct {
		ID string `json:"id"`
	}
	err := c.Do(context.Background(), Request{
		Method:         http.MethodPost,
		Path:           "/v1/things",
		Body:           map[string]string{"name": "x"},
		IdempotencyKey: "key-1",
	}, &out)
	require.NoError(t, err)
	require.Equal(t, "t-1", out.ID)
}

func TestDoClassifiesStatus(t *testing.T) {
	cases := []struct {
		status int
		fatal  bool
	}{
		{http.StatusTooManyRequests, false},
		{http.StatusRequestTimeout, false},
		{http.StatusTooEarly, false},
		{http.StatusBadGateway, false},
		{http.StatusServiceUnavailable, false},
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusNotFound, true},
		{http.StatusConflict, true},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		})
		err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
		require.Error(t, err)
		require.Equal(t, tc.fatal, retry.IsFatal(err), "status %d", tc.status)
		require.Equal(t, tc.status, StatusCode(err))
	}
}

func TestDoEmptyBodyIsFine(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	var out struct{ ID string }
	require.NoError(t, c.Do(context.Background(), Request{Method: http.MethodDelete, Path: "/x"}, &out))
}

func TestDoCancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/x"}, nil)
	require.ErrorIs(t, err, context.Canceled)
}
