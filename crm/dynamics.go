package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// dynamicsAdapter talks to the Dynamics 365 Web API on the org resource URL
// stored on the integration.
type dynamicsAdapter struct {
	base   string
	token  string
	client *Client
}

func newDynamicsAdapter(s Session, c *Client) (Adapter, error) {
	base := s.BaseURL
	if base == "" {
		if s.Resource == "" {
			return nil, fmt.Errorf("dynamics integration has no resource URL")
		}
		base = strings.TrimRight(s.Resource, "/") + "/api/data/v9.2"
	}
	return &dynamicsAdapter{base: strings.TrimRight(base, "/"), token: s.AccessToken, client: c}, nil
}

func (a *dynamicsAdapter) Provider() Provider { return ProviderDynamics }

func (a *dynamicsAdapter) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + a.token,
		"OData-Version": "4.0",
		// Ask for the created entity back so the id is in the body
		"Prefer": "return=representation",
	}
}

func (a *dynamicsAdapter) GetCurrentUser(ctx context.Context) (*CurrentUser, error) {
	var resp struct {
		UserID string `json:"UserId"`
	}
	url := a.base + "/WhoAmI"
	if err := a.client.DoJSON(ctx, ProviderDynamics, http.MethodGet, url, a.headers(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.UserID == "" {
		return nil, fmt.Errorf("dynamics returned no user id")
	}
	return &CurrentUser{ID: resp.UserID}, nil
}

func (a *dynamicsAdapter) CreateLead(ctx context.Context, fields map[string]interface{}) (string, error) {
	var resp map[string]interface{}
	url := a.base + "/leads"
	if err := a.client.DoJSON(ctx, ProviderDynamics, http.MethodPost, url, a.headers(), fields, &resp); err != nil {
		return "", err
	}
	id, _ := resp["leadid"].(string)
	if id == "" {
		return "", fmt.Errorf("dynamics create returned no lead id")
	}
	return id, nil
}

func (a *dynamicsAdapter) GetLeads(ctx context.Context, opts GetLeadsOptions) ([]Record, error) {
	q := url.Values{}
	q.Set("$select", "leadid,firstname,lastname,emailaddress1,telephone1,companyname,jobtitle,description")
	q.Set("$orderby", "modifiedon desc")
	if !opts.UpdatedSince.IsZero() {
		q.Set("$filter", fmt.Sprintf("modifiedon gt %s", opts.UpdatedSince.UTC().Format("2006-01-02T15:04:05Z")))
	}

	endpoint := a.base + "/leads?" + q.Encode()
	var records []Record
	for endpoint != "" {
		var resp struct {
			Value    []map[string]interface{} `json:"value"`
			NextLink string                   `json:"@odata.nextLink"`
		}
		if err := a.client.DoJSON(ctx, ProviderDynamics, http.MethodGet, endpoint, a.headers(), nil, &resp); err != nil {
			return records, err
		}
		for _, fields := range resp.Value {
			id, _ := fields["leadid"].(string)
			records = append(records, Record{ID: id, Fields: fields})
		}
		endpoint = resp.NextLink
	}
	return records, nil
}

func (a *dynamicsAdapter) UpdateLead(ctx context.Context, id string, fields map[string]interface{}) error {
	endpoint := fmt.Sprintf("%s/leads(%s)", a.base, id)
	return a.client.DoJSON(ctx, ProviderDynamics, http.MethodPatch, endpoint, a.headers(), fields, nil)
}
