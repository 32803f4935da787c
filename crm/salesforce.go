package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const salesforceAPIVersion = "v58.0"

// salesforceAdapter talks to the Salesforce REST API on the instance URL
// returned with the token grant.
type salesforceAdapter struct {
	base   string
	token  string
	client *Client
}

func newSalesforceAdapter(s Session, c *Client) (Adapter, error) {
	base := s.BaseURL
	if base == "" {
		base = s.InstanceURL
	}
	if base == "" {
		return nil, fmt.Errorf("salesforce integration has no instance URL")
	}
	return &salesforceAdapter{base: strings.TrimRight(base, "/"), token: s.AccessToken, client: c}, nil
}

func (a *salesforceAdapter) Provider() Provider { return ProviderSalesforce }

func (a *salesforceAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.token}
}

func (a *salesforceAdapter) GetCurrentUser(ctx context.Context) (*CurrentUser, error) {
	var resp struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
		Email  string `json:"email"`
	}
	url := a.base + "/services/oauth2/userinfo"
	if err := a.client.DoJSON(ctx, ProviderSalesforce, http.MethodGet, url, a.headers(), nil, &resp); err != nil {
		return nil, err
	}
	return &CurrentUser{ID: resp.UserID, Name: resp.Name, Email: resp.Email}, nil
}

func (a *salesforceAdapter) CreateLead(ctx context.Context, fields map[string]interface{}) (string, error) {
	var resp struct {
		ID      string `json:"id"`
		Success bool   `json:"success"`
	}
	endpoint := fmt.Sprintf("%s/services/data/%s/sobjects/Lead", a.base, salesforceAPIVersion)
	if err := a.client.DoJSON(ctx, ProviderSalesforce, http.MethodPost, endpoint, a.headers(), fields, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("salesforce create returned no lead id")
	}
	return resp.ID, nil
}

func (a *salesforceAdapter) GetLeads(ctx context.Context, opts GetLeadsOptions) ([]Record, error) {
	soql := "SELECT Id, FirstName, LastName, Email, Phone, Company, Title, LeadSource, Description " +
		"FROM Lead ORDER BY LastModifiedDate DESC"
	if !opts.UpdatedSince.IsZero() {
		soql = fmt.Sprintf(
			"SELECT Id, FirstName, LastName, Email, Phone, Company, Title, LeadSource, Description "+
				"FROM Lead WHERE LastModifiedDate > %s ORDER BY LastModifiedDate DESC",
			opts.UpdatedSince.UTC().Format("2006-01-02T15:04:05Z"))
	}

	endpoint := fmt.Sprintf("%s/services/data/%s/query?q=%s", a.base, salesforceAPIVersion, url.QueryEscape(soql))
	var records []Record
	for endpoint != "" {
		var resp struct {
			Records        []map[string]interface{} `json:"records"`
			Done           bool                     `json:"done"`
			NextRecordsURL string                   `json:"nextRecordsUrl"`
		}
		if err := a.client.DoJSON(ctx, ProviderSalesforce, http.MethodGet, endpoint, a.headers(), nil, &resp); err != nil {
			return records, err
		}
		for _, fields := range resp.Records {
			delete(fields, "attributes")
			id, _ := fields["Id"].(string)
			records = append(records, Record{ID: id, Fields: fields})
		}
		if resp.Done || resp.NextRecordsURL == "" {
			return records, nil
		}
		endpoint = a.base + resp.NextRecordsURL
	}
	return records, nil
}

func (a *salesforceAdapter) UpdateLead(ctx context.Context, id string, fields map[string]interface{}) error {
	// Id is not writable on updates
	patch := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if k == "Id" {
			continue
		}
		patch[k] = v
	}
	endpoint := fmt.Sprintf("%s/services/data/%s/sobjects/Lead/%s", a.base, salesforceAPIVersion, id)
	return a.client.DoJSON(ctx, ProviderSalesforce, http.MethodPatch, endpoint, a.headers(), patch, nil)
}
