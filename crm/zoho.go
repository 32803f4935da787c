package crm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// zohoAdapter talks to Zoho CRM v2. The base URL is the api_domain returned
// with the token grant; auth uses Zoho's custom header scheme rather than a
// plain Bearer token.
type zohoAdapter struct {
	base   string
	token  string
	client *Client
}

func newZohoAdapter(s Session, c *Client) (Adapter, error) {
	base := s.BaseURL
	if base == "" {
		base = s.APIDomain
	}
	if base == "" {
		base = "https://www.zohoapis.com"
	}
	return &zohoAdapter{base: strings.TrimRight(base, "/"), token: s.AccessToken, client: c}, nil
}

func (a *zohoAdapter) Provider() Provider { return ProviderZoho }

func (a *zohoAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Zoho-oauthtoken " + a.token}
}

func (a *zohoAdapter) GetCurrentUser(ctx context.Context) (*CurrentUser, error) {
	var resp struct {
		Users []struct {
			ID       string `json:"id"`
			FullName string `json:"full_name"`
			Email    string `json:"email"`
		} `json:"users"`
	}
	url := a.base + "/crm/v2/users?type=CurrentUser"
	if err := a.client.DoJSON(ctx, ProviderZoho, http.MethodGet, url, a.headers(), nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Users) == 0 {
		return nil, fmt.Errorf("zoho returned no current user")
	}
	u := resp.Users[0]
	return &CurrentUser{ID: u.ID, Name: u.FullName, Email: u.Email}, nil
}

// zohoWriteResponse is the envelope Zoho wraps every write in; the record
// id lives at data[0].details.id.
type zohoWriteResponse struct {
	Data []struct {
		Status  string `json:"status"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Details struct {
			ID string `json:"id"`
		} `json:"details"`
	} `json:"data"`
}

func (a *zohoAdapter) CreateLead(ctx context.Context, fields map[string]interface{}) (string, error) {
	body := map[string]interface{}{"data": []map[string]interface{}{fields}}
	var resp zohoWriteResponse
	url := a.base + "/crm/v2/Leads"
	if err := a.client.DoJSON(ctx, ProviderZoho, http.MethodPost, url, a.headers(), body, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("zoho create returned an empty data array")
	}
	item := resp.Data[0]
	if !strings.EqualFold(item.Status, "success") {
		return "", fmt.Errorf("zoho create failed: %s: %s", item.Code, item.Message)
	}
	return item.Details.ID, nil
}

func (a *zohoAdapter) GetLeads(ctx context.Context, opts GetLeadsOptions) ([]Record, error) {
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
			Data []map[string]interface{} `json:"data"`
			Info struct {
				MoreRecords bool `json:"more_records"`
			} `json:"info"`
		}
		url := fmt.Sprintf("%s/crm/v2/Leads?page=%d&per_page=%d&sort_by=Modified_Time&sort_order=desc", a.base, page, perPage)
		if err := a.client.DoJSON(ctx, ProviderZoho, http.MethodGet, url, a.headers(), nil, &resp); err != nil {
			// Zoho answers 204 with an empty body when the module is empty
			return records, err
		}
		for _, fields := range resp.Data {
			id, _ := fields["id"].(string)
			records = append(records, Record{ID: id, Fields: fields})
		}
		if !resp.Info.MoreRecords || opts.Page > 0 {
			return records, nil
		}
		page++
	}
}

func (a *zohoAdapter) UpdateLead(ctx context.Context, id string, fields map[string]interface{}) error {
	body := map[string]interface{}{"data": []map[string]interface{}{fields}}
	var resp zohoWriteResponse
	url := a.base + "/crm/v2/Leads/" + id
	if err := a.client.DoJSON(ctx, ProviderZoho, http.MethodPut, url, a.headers(), body, &resp); err != nil {
		return err
	}
	if len(resp.Data) > 0 && !strings.EqualFold(resp.Data[0].Status, "success") {
		return fmt.Errorf("zoho update failed: %s: %s", resp.Data[0].Code, resp.Data[0].Message)
	}
	return nil
}
