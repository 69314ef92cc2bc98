package provisioning

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/vendorapi"
)

// DefaultDMARCPolicy is published for new sending domains.
const DefaultDMARCPolicy = "none"

// DMARCClient publishes _dmarc TXT records through the DNS host API.
type DMARCClient struct {
	api    *vendorapi.Client
	policy string
}

func NewDMARCClient(api *vendorapi.Client, policy string) *DMARCClient {
	if api == nil {
		panic("dmarc client requires api client")
	}
	if policy == "" {
		policy = DefaultDMARCPolicy
	}
	return &DMARCClient{api: api, policy: policy}
}

type dmarcPayload struct {
	WorkspaceID string `json:"workspaceId"`
	Record      string `json:"record"`
}

// Record renders the TXT value for a report address.
func (c *DMARCClient) Record(reportEmail string) string {
	record := "v=DMARC1; p=" + c.policy
	if reportEmail != "" {
		record += "; rua=mailto:" + reportEmail
	}
	return record
}

// Ensure uses PUT, so publishing the same record twice is harmless.
func (c *DMARCClient) Ensure(ctx context.Context, req service.DMARCRequest) error {
	err := c.api.Do(ctx, vendorapi.Request{
		Method: http.MethodPut,
		Path:   "/v1/domains/" + url.PathEscape(req.Domain) + "/dmarc",
		Body:   dmarcPayload{WorkspaceID: req.WorkspaceID, Record: c.Record(req.ReportEmail)},
	}, nil)
	if err != nil {
		return fmt.Errorf("configure dmarc for %s: %w", req.Domain, err)
	}
	return nil
}

var _ service.DMARCConfigurer = (*DMARCClient)(nil)
