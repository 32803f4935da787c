package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// hubspotContactProperties is the property set requested on every contact
// read, including the origin marker written by outbound sync.
var hubspotContactProperties = []string{
	"firstname", "lastname", "email", "phone", "company", "jobtitle",
	"hs_lead_status", OriginMarkerField,
}

// hubspotAdapter talks to the HubSpot CRM v3 objects API.
type hubspotAdapter struct {
	base   string
	token  string
	client *Client
}

func newHubSpotAdapter(s Session, c *Client) (Adapter, error) {
	base := s.BaseURL
	if base == "" {
		base = "https://api.hubapi.com"
	}
	return &hubspotAdapter{base: strings.TrimRight(base, "/"), token: s.AccessToken, client: c}, nil
}

func (a *hubspotAdapter) Provider() Provider { return ProviderHubSpot }

func (a *hubspotAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.token}
}

func (a *hubspotAdapter) GetCurrentUser(ctx context.Context) (*CurrentUser, error) {
	var resp struct {
		PortalID  int    `json:"portalId"`
		TimeZone  string `json:"timeZone"`
		UIDomain  string `json:"uiDomain"`
		DataHost  string `json:"dataHostingLocation"`
		AccountID string `json:"accountType"`
	}
	url := a.base + "/account-info/v3/details"
	if err := a.client.DoJSON(ctx, ProviderHubSpot, http.MethodGet, url, a.headers(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.PortalID == 0 {
		return nil, fmt.Errorf("hubspot returned no portal id")
	}
	return &CurrentUser{ID: strconv.Itoa(resp.PortalID), Name: resp.UIDomain}, nil
}

type hubspotContact struct {
	ID         string                 `json:"id"`
	Properties map[string]interface{} `json:"properties"`
}

func (a *hubspotAdapter) CreateLead(ctx context.Context, fields map[string]interface{}) (string, error) {
	body := map[string]interface{}{"properties": fields}
	var resp hubspotContact
	url := a.base + "/crm/v3/objects/contacts"
	if err := a.client.DoJSON(ctx, ProviderHubSpot, http.MethodPost, url, a.headers(), body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("hubspot create returned no contact id")
	}
	return resp.ID, nil
}

func (a *hubspotAdapter) GetLeads(ctx context.Context, opts GetLeadsOptions) ([]Record, error) {
	limit := opts.PerPage
	if limit <= 0 {
		limit = 100
	}

	var records []Record
	after := ""
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		q.Set("properties", strings.Join(hubspotContactProperties, ","))
		if after != "" {
			q.Set("after", after)
		}

		var resp struct {
			Results []hubspotContact `json:"results"`
			Paging  struct {
				Next struct {
					After string `json:"after"`
				} `json:"next"`
			} `json:"paging"`
		}
		endpoint := a.base + "/crm/v3/objects/contacts?" + q.Encode()
		if err := a.client.DoJSON(ctx, ProviderHubSpot, http.MethodGet, endpoint, a.headers(), nil, &resp); err != nil {
			return records, err
		}
		for _, contact := range resp.Results {
			records = append(records, Record{ID: contact.ID, Fields: contact.Properties})
		}
		after = resp.Paging.Next.After
		if after == "" {
			return records, nil
		}
	}
}

// GetLead fetches one contact with the full property set; the webhook apply
// path depends on it.
func (a *hubspotAdapter) GetLead(ctx context.Context, id string) (*Record, error) {
	var resp hubspotContact
	endpoint := fmt.Sprintf("%s/crm/v3/objects/contacts/%s?properties=%s",
		a.base, id, strings.Join(hubspotContactProperties, ","))
	if err := a.client.DoJSON(ctx, ProviderHubSpot, http.MethodGet, endpoint, a.headers(), nil, &resp); err != nil {
		return nil, err
	}
	return &Record{ID: resp.ID, Fields: resp.Properties}, nil
}

func (a *hubspotAdapter) UpdateLead(ctx context.Context, id string, fields map[string]interface{}) error {
	body := map[string]interface{}{"properties": fields}
	url := a.base + "/crm/v3/objects/contacts/" + id
	return a.client.DoJSON(ctx, ProviderHubSpot, http.MethodPatch, url, a.headers(), body, nil)
}
