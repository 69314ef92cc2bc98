package provisioning

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/vendorapi"
)

// PlusVibeClient manages the cold email outreach workspace.
type PlusVibeClient struct {
	api *vendorapi.Client
}

func NewPlusVibeClient(api *vendorapi.Client) *PlusVibeClient {
	if api == nil {
		panic("plusvibe client requires api client")
	}
	return &PlusVibeClient{api: api}
}

type plusVibeClientPayload struct {
	ExternalRef string `json:"externalRef"`
	OwnerID     string `json:"ownerId"`
}

type plusVibeClientResponse struct {
	ClientID string `json:"clientId"`
	Email    string `json:"email"`
}

type plusVibeAccountsPayload struct {
	Emails []string `json:"emails"`
}

type plusVibeWarmupPayload struct {
	Emails  []string `json:"emails"`
	Enabled bool     `json:"enabled"`
}

func (c *PlusVibeClient) EnsureWorkspace(ctx context.Context, req service.OutreachWorkspaceRequest) (service.OutreachWorkspaceResult, error) {
	var out plusVibeClientResponse
	err := c.api.Do(ctx, vendorapi.Request{
		Method:         http.MethodPost,
		Path:           "/api/v1/clients",
		Body:           plusVibeClientPayload{ExternalRef: req.ProvisionID.String(), OwnerID: req.OwnerID},
		IdempotencyKey: "plusvibe-" + req.ProvisionID.String(),
	}, &out)
	if err != nil {
		return service.OutreachWorkspaceResult{}, fmt.Errorf("create outreach workspace: %w", err)
	}
	return service.OutreachWorkspaceResult{WorkspaceID: out.ClientID, ClientEmail: out.Email}, nil
}

// ImportMailboxes is an upsert on the vendor side.
func (c *PlusVibeClient) ImportMailboxes(ctx context.Context, workspaceID string, emails []string) error {
	err := c.api.Do(ctx, vendorapi.Request{
		Method: http.MethodPost,
		Path:   "/api/v1/clients/" + url.PathEscape(workspaceID) + "/accounts",
		Body:   plusVibeAccountsPayload{Emails: emails},
	}, nil)
	if err != nil {
		return fmt.Errorf("import mailboxes: %w", err)
	}
	return nil
}

func (c *PlusVibeClient) EnableWarmup(ctx context.Context, workspaceID string, emails []string) error {
	err := c.api.Do(ctx, vendorapi.Request{
		Method: http.MethodPut,
		Path:   "/api/v1/clients/" + url.PathEscape(workspaceID) + "/warmup",
		Body:   plusVibeWarmupPayload{Emails: emails, Enabled: true},
	}, nil)
	if err != nil {
		return fmt.Errorf("enable warmup: %w", err)
	}
	return nil
}

var _ service.OutreachWorkspace = (*PlusVibeClient)(nil)
