package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adapterForURL(t *testing.T, p Provider, baseURL string) Adapter {
	t.Helper()
	c := NewClient(time.Second)
	c.backoff = time.Millisecond
	a, err := AdapterFor(Session{Provider: p, AccessToken: "tok", BoardID: "42", BaseURL: baseURL}, c)
	require.NoError(t, err)
	return a
}

func TestZohoCreateLeadUnwrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/crm/v2/Leads", r.URL.Path)
		assert.Equal(t, "Zoho-oauthtoken tok", r.Header.Get("Authorization"))

		var body struct {
			Data []map[string]interface{} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Data, 1)
		assert.Equal(t, "jane@acme.io", body.Data[0]["Email"])

		fmt.Fprint(w, `{"data":[{"status":"success","details":{"id":"4876876000000554001"}}]}`)
	}))
	defer srv.Close()

	a := adapterForURL(t, ProviderZoho, srv.URL)
	id, err := a.CreateLead(context.Background(), map[string]interface{}{"Email": "jane@acme.io", "Last_Name": "Doe"})
	require.NoError(t, err)
	assert.Equal(t, "4876876000000554001", id)
}

func TestZohoCreateLeadSurfacesRecordError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// HTTP 200 with a per-record error inside the envelope
		fmt.Fprint(w, `{"data":[{"status":"error","code":"MANDATORY_NOT_FOUND","message":"Last Name is required"}]}`)
	}))
	defer srv.Close()

	a := adapterForURL(t, ProviderZoho, srv.URL)
	_, err := a.CreateLead(context.Background(), map[string]interface{}{"Email": "jane@acme.io"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MANDATORY_NOT_FOUND")
}

func TestZohoGetLeadsPaginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `{"data":[{"id":"Z1","Email":"a@x.io"}],"info":{"more_records":true}}`)
		default:
			fmt.Fprint(w, `{"data":[{"id":"Z2","Email":"b@x.io"}],"info":{"more_records":false}}`)
		}
	}))
	defer srv.Close()

	a := adapterForURL(t, ProviderZoho, srv.URL)
	records, err := a.GetLeads(context.Background(), GetLeadsOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Z1", records[0].ID)
	assert.Equal(t, "Z2", records[1].ID)
}

func TestHubSpotCreateLead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v3/objects/contacts", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body struct {
			Properties map[string]interface{} `json:"properties"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "jane@acme.io", body.Properties["email"])

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"551","properties":{"email":"jane@acme.io"}}`)
	}))
	defer srv.Close()

	a := adapterForURL(t, ProviderHubSpot, srv.URL)
	id, err := a.CreateLead(context.Background(), map[string]interface{}{"email": "jane@acme.io"})
	require.NoError(t, err)
	assert.Equal(t, "551", id)
}

func TestHubSpotGetLeadsFollowsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			fmt.Fprint(w, `{"results":[{"id":"H1","properties":{"email":"a@x.io"}}],"paging":{"next":{"after":"cursor-2"}}}`)
			return
		}
		fmt.Fprint(w, `{"results":[{"id":"H2","properties":{"email":"b@x.io"}}]}`)
	}))
	defer srv.Close()

	a := adapterForURL(t, ProviderHubSpot, srv.URL)
	records, err := a.GetLeads(context.Background(), GetLeadsOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "H1", records[0].ID)
	assert.Equal(t, "b@x.io", records[1].Fields["email"])
}

func TestHubSpotGetLeadFetchesSingleRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v3/objects/contacts/551", r.URL.Path)
		fmt.Fprint(w, `{"id":"551","properties":{"email":"jane@acme.io","leadsync_origin":"platform"}}`)
	}))
	defer srv.Close()

	a := adapterForURL(t, ProviderHubSpot, srv.URL)
	fetcher, ok := a.(LeadFetcher)
	require.True(t, ok, "hubspot adapter must support single-record fetch for webhooks")

	rec, err := fetcher.GetLead(context.Background(), "551")
	require.NoError(t, err)
	assert.Equal(t, "551", rec.ID)
	assert.Equal(t, OriginMarkerValue, rec.Fields[OriginMarkerField])
}

func TestSalesforceAdapterRequiresInstanceURL(t *testing.T) {
	_, err := AdapterFor(Session{Provider: ProviderSalesforce, AccessToken: "tok"}, NewClient(time.Second))
	assert.Error(t, err)
}

func TestMondayAdapterRequiresBoardID(t *testing.T) {
	_, err := AdapterFor(Session{Provider: ProviderMonday, AccessToken: "tok"}, NewClient(time.Second))
	assert.Error(t, err)
}

func TestAdapterForUnsupportedProvider(t *testing.T) {
	_, err := AdapterFor(Session{Provider: Provider("siebel")}, NewClient(time.Second))
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestAdapterForCoversAllProviders(t *testing.T) {
	for _, p := range SupportedProviders {
		s := Session{
			Provider:    p,
			AccessToken: "tok",
			APIDomain:   "https://api.example.com",
			InstanceURL: "https://example.my.salesforce.com",
			Resource:    "https://org.crm.dynamics.com",
			BoardID:     "42",
		}
		a, err := AdapterFor(s, NewClient(time.Second))
		require.NoError(t, err, "provider %s", p)
		assert.Equal(t, p, a.Provider())
	}
}
