// Package vendorapi is a small JSON-over-HTTP client shared by the vendor
// adapters. It classifies failures for retry.Do: transport errors and
// 408/425/429/5xx responses are transient, every other non-2xx is Fatal.
package vendorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/retry"
)

const maxErrorBody = 2048

// Config holds the connection settings for one vendor.
type Config struct {
	Name    string
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to a single vendor API.
type Client struct {
	name       string
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		panic("vendorapi client requires base url")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = "vendor"
	}
	return &Client{
		name:       name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name identifies the vendor in errors and logs.
func (c *Client) Name() string { return c.name }

// Error is a non-2xx vendor response.
type Error struct {
	Vendor     string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s %s: status %d: %s", e.Vendor, e.Method, e.Path, e.StatusCode, e.Body)
}

// Transient reports whether the status is worth retrying.
func (e *Error) Transient() bool {
	return IsTransientStatus(e.StatusCode)
}

func IsTransientStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooEarly, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	}
	return false
}

// StatusCode extracts the vendor status from err, or 0.
func StatusCode(err error) int {
	var vErr *Error
	if errors.As(err, &vErr) {
		return vErr.StatusCode
	}
	return 0
}

// Request describes one call.
type Request struct {
	Method string
	Path   string
	Body   any
	// IdempotencyKey is sent as the Idempotency-Key header when set.
	IdempotencyKey string
	Header         http.Header
}

// Do sends req and decodes a 2xx JSON body into out (nil to discard).
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return retry.Fatal(fmt.Errorf("%s: encode request: %w", c.name, err))
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return retry.Fatal(fmt.Errorf("%s: build request: %w", c.name, err))
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// network failures are transient
		return fmt.Errorf("%s %s %s: %w", c.name, req.Method, req.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", c.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := strings.TrimSpace(string(raw))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		vErr := &Error{Vendor: c.name, Method: req.Method, Path: req.Path, StatusCode: resp.StatusCode, Body: text}
		if vErr.Transient() {
			return vErr
		}
		return retry.Fatal(vErr)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return retry.Fatal(fmt.Errorf("%s: parse response: %w (status %d)", c.name, err, resp.StatusCode))
	}
	return nil
}
