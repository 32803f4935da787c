package crm

import (
	"context"
	"fmt"
	"time"

	"leadsync/models"
)

// Provider identifies one of the supported CRM providers.
type Provider string

const (
	ProviderZoho       Provider = "zoho"
	ProviderHubSpot    Provider = "hubspot"
	ProviderSalesforce Provider = "salesforce"
	ProviderPipedrive  Provider = "pipedrive"
	ProviderFreshworks Provider = "freshworks"
	ProviderMonday     Provider = "monday"
	ProviderDynamics   Provider = "dynamics"
)

// SupportedProviders lists every provider the engine can talk to.
var SupportedProviders = []Provider{
	ProviderZoho,
	ProviderHubSpot,
	ProviderSalesforce,
	ProviderPipedrive,
	ProviderFreshworks,
	ProviderMonday,
	ProviderDynamics,
}

// IsSupported reports whether p names a known provider.
func (p Provider) IsSupported() bool {
	for _, s := range SupportedProviders {
		if p == s {
			return true
		}
	}
	return false
}

// CurrentUser is the normalized "who am I" response used to test a connection.
type CurrentUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Record is one lead-like object read back from a provider. Fields holds the
// provider's native field names; the field mapper translates them.
type Record struct {
	ID     string
	Fields map[string]interface{}
}

// GetLeadsOptions narrows a provider-side lead listing.
type GetLeadsOptions struct {
	UpdatedSince time.Time
	Page         int
	PerPage      int
}

// Adapter normalizes one provider's API dialect into a uniform shape.
// Each adapter owns base-URL construction, the request authorization
// header, and response unwrapping for its provider.
type Adapter interface {
	Provider() Provider
	GetCurrentUser(ctx context.Context) (*CurrentUser, error)
	CreateLead(ctx context.Context, fields map[string]interface{}) (string, error)
	GetLeads(ctx context.Context, opts GetLeadsOptions) ([]Record, error)
	UpdateLead(ctx context.Context, id string, fields map[string]interface{}) error
}

// LeadFetcher is implemented by adapters that can fetch a single record by
// its provider-side id. The webhook apply path requires it.
type LeadFetcher interface {
	GetLead(ctx context.Context, id string) (*Record, error)
}

// Session carries everything an adapter needs for one authenticated call
// sequence: the (decrypted) access token plus the provider-specific
// connection details stored on the integration.
type Session struct {
	Provider    Provider
	AccessToken string
	APIDomain   string // Zoho, Freshworks
	InstanceURL string // Salesforce
	Resource    string // Dynamics org URL
	BoardID     string // Monday board
	BaseURL     string // overrides the computed base URL when set
}

// SessionFor builds an adapter session from a stored integration and an
// already-decrypted access token.
func SessionFor(integ *models.Integration, accessToken string) Session {
	return Session{
		Provider:    Provider(integ.Provider),
		AccessToken: accessToken,
		APIDomain:   integ.APIDomain,
		InstanceURL: integ.InstanceURL,
		Resource:    integ.Resource,
		BoardID:     integ.BoardID,
	}
}

// AdapterFactory builds an adapter for a session. Sync controllers hold a
// factory rather than branching on the provider at every call site.
type AdapterFactory func(Session, *Client) (Adapter, error)

var adapterRegistry = map[Provider]AdapterFactory{
	ProviderZoho:       newZohoAdapter,
	ProviderHubSpot:    newHubSpotAdapter,
	ProviderSalesforce: newSalesforceAdapter,
	ProviderPipedrive:  newPipedriveAdapter,
	ProviderFreshworks: newFreshworksAdapter,
	ProviderMonday:     newMondayAdapter,
	ProviderDynamics:   newDynamicsAdapter,
}

// AdapterFor selects the adapter implementation for the session's provider.
func AdapterFor(s Session, c *Client) (Adapter, error) {
	build, ok := adapterRegistry[s.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, s.Provider)
	}
	return build(s, c)
}
