package crm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// freshworksAdapter maps leads onto Freshsales contacts. The base URL is the
// customer's bundle domain stored on the integration.
type freshworksAdapter struct {
	base   string
	token  string
	client *Client
}

func newFreshworksAdapter(s Session, c *Client) (Adapter, error) {
	base := s.BaseURL
	if base == "" {
		base = s.APIDomain
	}
	if base == "" {
		return nil, fmt.Errorf("freshworks integration has no API domain")
	}
	return &freshworksAdapter{base: strings.TrimRight(base, "/"), token: s.AccessToken, client: c}, nil
}

func (a *freshworksAdapter) Provider() Provider { return ProviderFreshworks }

func (a *freshworksAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.token}
}

func (a *freshworksAdapter) GetCurrentUser(ctx context.Context) (*CurrentUser, error) {
	var resp struct {
		User struct {
			ID          interface{} `json:"id"`
			DisplayName string      `json:"display_name"`
			Email       string      `json:"email"`
		} `json:"user"`
	}
	url := a.base + "/api/users/me"
	if err := a.client.DoJSON(ctx, ProviderFreshworks, http.MethodGet, url, a.headers(), nil, &resp); err != nil {
		return nil, err
	}
	return &CurrentUser{ID: numberToString(resp.User.ID), Name: resp.User.DisplayName, Email: resp.User.Email}, nil
}

func (a *freshworksAdapter) CreateLead(ctx context.Context, fields map[string]interface{}) (string, error) {
	body := map[string]interface{}{"contact": fields}
	var resp struct {
		Contact map[string]interface{} `json:"contact"`
	}
	url := a.base + "/api/contacts"
	if err := a.client.DoJSON(ctx, ProviderFreshworks, http.MethodPost, url, a.headers(), body, &resp); err != nil {
		return "", err
	}
	id := numberToString(resp.Contact["id"])
	if id == "" {
		return "", fmt.Errorf("freshworks create returned no contact id")
	}
	return id, nil
}

func (a *freshworksAdapter) GetLeads(ctx context.Context, opts GetLeadsOptions) ([]Record, error) {
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = 100
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}

	var records []Record
	for {
		var resp struct {
			Contacts []map[string]interface{} `json:"contacts"`
			Meta     struct {
				TotalPages int `json:"total_pages"`
			} `json:"meta"`
		}
		url := fmt.Sprintf("%s/api/contacts?page=%d&per_page=%d", a.base, page, perPage)
		if err := a.client.DoJSON(ctx, ProviderFreshworks, http.MethodGet, url, a.headers(), nil, &resp); err != nil {
			return records, err
		}
		for _, fields := range resp.Contacts {
			records = append(records, Record{ID: numberToString(fields["id"]), Fields: fields})
		}
		if opts.Page > 0 || page >= resp.Meta.TotalPages {
			return records, nil
		}
		page++
	}
}

func (a *freshworksAdapter) UpdateLead(ctx context.Context, id string, fields map[string]interface{}) error {
	body := map[string]interface{}{"contact": fields}
	url := a.base + "/api/contacts/" + id
	return a.client.DoJSON(ctx, ProviderFreshworks, http.MethodPut, url, a.headers(), body, nil)
}
