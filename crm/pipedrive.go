package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// pipedriveAdapter maps leads onto Pipedrive persons.
type pipedriveAdapter struct {
	base   string
	token  string
	client *Client
}

func newPipedriveAdapter(s Session, c *Client) (Adapter, error) {
	base := s.BaseURL
	if base == "" {
		base = "https://api.pipedrive.com/v1"
	}
	return &pipedriveAdapter{base: strings.TrimRight(base, "/"), token: s.AccessToken, client: c}, nil
}

func (a *pipedriveAdapter) Provider() Provider { return ProviderPipedrive }

func (a *pipedriveAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.token}
}

func (a *pipedriveAdapter) GetCurrentUser(ctx context.Context) (*CurrentUser, error) {
	var resp struct {
		Data struct {
			ID    json.Number `json:"id"`
			Name  string      `json:"name"`
			Email string      `json:"email"`
		} `json:"data"`
	}
	url := a.base + "/users/me"
	if err := a.client.DoJSON(ctx, ProviderPipedrive, http.MethodGet, url, a.headers(), nil, &resp); err != nil {
		return nil, err
	}
	return &CurrentUser{ID: resp.Data.ID.String(), Name: resp.Data.Name, Email: resp.Data.Email}, nil
}

func (a *pipedriveAdapter) CreateLead(ctx context.Context, fields map[string]interface{}) (string, error) {
	var resp struct {
		Data struct {
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	url := a.base + "/persons"
	if err := a.client.DoJSON(ctx, ProviderPipedrive, http.MethodPost, url, a.headers(), fields, &resp); err != nil {
		return "", err
	}
	id := resp.Data.ID.String()
	if id == "" || id == "0" {
		return "", fmt.Errorf("pipedrive create returned no person id")
	}
	return id, nil
}

func (a *pipedriveAdapter) GetLeads(ctx context.Context, opts GetLeadsOptions) ([]Record, error) {
	limit := opts.PerPage
	if limit <= 0 {
		limit = 100
	}

	var records []Record
	start := 0
	for {
		var resp struct {
			Data           []map[string]interface{} `json:"data"`
			AdditionalData struct {
				Pagination struct {
					MoreItems bool `json:"more_items_in_collection"`
					NextStart int  `json:"next_start"`
				} `json:"pagination"`
			} `json:"additional_data"`
		}
		url := fmt.Sprintf("%s/persons?start=%d&limit=%d&sort=update_time DESC", a.base, start, limit)
		if err := a.client.DoJSON(ctx, ProviderPipedrive, http.MethodGet, url, a.headers(), nil, &resp); err != nil {
			return records, err
		}
		for _, fields := range resp.Data {
			records = append(records, Record{ID: numberToString(fields["id"]), Fields: fields})
		}
		if !resp.AdditionalData.Pagination.MoreItems {
			return records, nil
		}
		start = resp.AdditionalData.Pagination.NextStart
	}
}

func (a *pipedriveAdapter) UpdateLead(ctx context.Context, id string, fields map[string]interface{}) error {
	url := a.base + "/persons/" + id
	return a.client.DoJSON(ctx, ProviderPipedrive, http.MethodPut, url, a.headers(), fields, nil)
}

// numberToString renders JSON numeric ids without a float exponent.
func numberToString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}
