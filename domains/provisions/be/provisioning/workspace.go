package provisioning

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/vendorapi"
)

// WorkspaceClient creates Google Workspace or Microsoft 365 tenants through
// the reseller API and manages their mailboxes.
type WorkspaceClient struct {
	api *vendorapi.Client
}

func NewWorkspaceClient(api *vendorapi.Client) *WorkspaceClient {
	if api == nil {
		panic("workspace client requires api client")
	}
	return &WorkspaceClient{api: api}
}

type workspacePayload struct {
	ExternalRef   string `json:"externalRef"`
	OwnerID       string `json:"ownerId"`
	Provider      string `json:"provider"`
	PrimaryDomain string `json:"primaryDomain"`
}

type workspaceResponse struct {
	ID string `json:"id"`
}

// Ensure is keyed by provision id, so repeats return the same workspace.
func (c *WorkspaceClient) Ensure(ctx context.Context, req service.WorkspaceRequest) (service.WorkspaceResult, error) {
	var out workspaceResponse
	err := c.api.Do(ctx, vendorapi.Request{
		Method: http.MethodPost,
		Path:   "/v1/workspaces",
		Body: workspacePayload{
			ExternalRef:   req.ProvisionID.String(),
			OwnerID:       req.OwnerID,
			Provider:      string(req.Provider),
			PrimaryDomain: req.PrimaryDomain,
		},
		IdempotencyKey: "workspace-" + req.ProvisionID.String(),
	}, &out)
	if err != nil {
		return service.WorkspaceResult{}, fmt.Errorf("create workspace: %w", err)
	}
	if out.ID == "" {
		return service.WorkspaceResult{}, fmt.Errorf("create workspace: empty workspace id")
	}
	return service.WorkspaceResult{WorkspaceID: out.ID}, nil
}

type mailboxListResponse struct {
	Mailboxes []struct {
		Email string `json:"email"`
	} `json:"mailboxes"`
}

type mailboxCreatePayload struct {
	Provider string   `json:"provider"`
	Emails   []string `json:"emails"`
}

// EnsureMailboxes creates the addresses that do not exist yet and reports the
// full set present afterwards.
func (c *WorkspaceClient) EnsureMailboxes(ctx context.Context, req service.MailboxRequest) (service.MailboxResult, error) {
	path := "/v1/workspaces/" + url.PathEscape(req.WorkspaceID) + "/mailboxes"

	var existing mailboxListResponse
	if err := c.api.Do(ctx, vendorapi.Request{Method: http.MethodGet, Path: path}, &existing); err != nil {
		return service.MailboxResult{}, fmt.Errorf("list mailboxes: %w", err)
	}
	present := make(map[string]struct{}, len(existing.Mailboxes))
	for _, m := range existing.Mailboxes {
		present[m.Email] = struct{}{}
	}

	var missing []string
	for _, email := range req.Emails {
		if _, ok := present[email]; !ok {
			missing = append(missing, email)
		}
	}
	if len(missing) > 0 {
		err := c.api.Do(ctx, vendorapi.Request{
			Method: http.MethodPost,
			Path:   path,
			Body:   mailboxCreatePayload{Provider: string(req.Provider), Emails: missing},
		}, nil)
		if err != nil {
			return service.MailboxResult{}, fmt.Errorf("create mailboxes: %w", err)
		}
	}
	return service.MailboxResult{Created: append([]string(nil), req.Emails...)}, nil
}

// Mailboxes adapts the client to service.MailboxProvisioner.
func (c *WorkspaceClient) Mailboxes() service.MailboxProvisioner {
	return mailboxAdapter{c}
}

type mailboxAdapter struct{ c *WorkspaceClient }

func (m mailboxAdapter) Ensure(ctx context.Context, req service.MailboxRequest) (service.MailboxResult, error) {
	return m.c.EnsureMailboxes(ctx, req)
}

var (
	_ service.WorkspaceProvisioner = (*WorkspaceClient)(nil)
	_ service.MailboxProvisioner   = mailboxAdapter{}
)
