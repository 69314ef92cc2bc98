package provisioning

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/vendorapi"
)

// HeyReachClient creates LinkedIn lead lists.
type HeyReachClient struct {
	api *vendorapi.Client
}

func NewHeyReachClient(api *vendorapi.Client) *HeyReachClient {
	if api == nil {
		panic("heyreach client requires api client")
	}
	return &HeyReachClient{api: api}
}

type heyReachCreatePayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type heyReachList struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type heyReachSearchPayload struct {
	Keyword string `json:"keyword"`
	Offset  int    `json:"offset"`
	Limit   int    `json:"limit"`
}

type heyReachSearchResponse struct {
	TotalCount int            `json:"totalCount"`
	Items      []heyReachList `json:"items"`
}

func (c *HeyReachClient) CreateLeadList(ctx context.Context, name string) (service.LeadListResult, error) {
	var out heyReachList
	err := c.api.Do(ctx, vendorapi.Request{
		Method: http.MethodPost,
		Path:   "/api/public/list/CreateEmptyList",
		Body:   heyReachCreatePayload{Name: name, Type: "USER_LIST"},
	}, &out)
	if err != nil {
		return service.LeadListResult{}, fmt.Errorf("create lead list: %w", err)
	}
	return service.LeadListResult{ListID: strconv.FormatInt(out.ID, 10)}, nil
}

// FindLeadList looks up a list by exact name.
func (c *HeyReachClient) FindLeadList(ctx context.Context, name string) (service.LeadListResult, bool, error) {
	const pageSize = 100
	for offset := 0; ; offset += pageSize {
		var out heyReachSearchResponse
		err := c.api.Do(ctx, vendorapi.Request{
			Method: http.MethodPost,
			Path:   "/api/public/list/GetAll",
			Body:   heyReachSearchPayload{Keyword: name, Offset: offset, Limit: pageSize},
		}, &out)
		if err != nil {
			return service.LeadListResult{}, false, fmt.Errorf("search lead lists: %w", err)
		}
		for _, l := range out.Items {
			if l.Name == name {
				return service.LeadListResult{ListID: strconv.FormatInt(l.ID, 10)}, true, nil
			}
		}
		if len(out.Items) < pageSize || offset+pageSize >= out.TotalCount {
			return service.LeadListResult{}, false, nil
		}
	}
}

var _ service.LinkedInAutomation = (*HeyReachClient)(nil)
