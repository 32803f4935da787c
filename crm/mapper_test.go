package crm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadsync/models"
)

func TestMapOutboundZoho(t *testing.T) {
	lead := CanonicalLead{
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "jane@acme.io",
		Phone:     "+15550001111",
		Company:   "Acme Inc",
		JobTitle:  "CTO",
	}

	fields, err := MapOutbound(ProviderZoho, lead, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Jane", fields["First_Name"])
	assert.Equal(t, "Doe", fields["Last_Name"])
	assert.Equal(t, "jane@acme.io", fields["Email"])
	assert.Equal(t, "CTO", fields["Designation"])
	assert.Equal(t, "Acme Inc", fields["Company"])
}

func TestMapOutboundZohoLastNameFallback(t *testing.T) {
	// Zoho rejects leads without Last_Name; the email local part fills in
	fields, err := MapOutbound(ProviderZoho, CanonicalLead{Email: "jane@acme.io"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "jane", fields["Last_Name"])

	fields, err = MapOutbound(ProviderZoho, CanonicalLead{Name: "Jane Doe", Email: "jane@acme.io"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", fields["Last_Name"])
}

func TestMapOutboundHubSpotWritesOriginMarker(t *testing.T) {
	lead := CanonicalLead{FirstName: "Jane", Email: "jane@acme.io", JobTitle: "CTO"}

	fields, err := MapOutbound(ProviderHubSpot, lead, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, OriginMarkerValue, fields[OriginMarkerField])
	assert.Equal(t, "Jane", fields["firstname"])
	assert.Equal(t, "CTO", fields["jobtitle"])
	// lowercase property names throughout
	assert.NotContains(t, fields, "FirstName")
}

func TestMapOutboundCustomMappings(t *testing.T) {
	lead := CanonicalLead{Email: "jane@acme.io", LastName: "Doe", Phone: "+15550001111"}
	custom := []models.CustomFieldMapping{
		{FormField: "budget", CRMField: "Annual_Budget"},
		{FormField: FieldPhone, CRMField: "Mobile"},
		{FormField: "ignored", CRMField: ""},
	}
	customValues := map[string]string{"budget": "50000"}

	fields, err := MapOutbound(ProviderZoho, lead, custom, customValues)
	require.NoError(t, err)
	// Custom form fields pull values from the lead's custom field rows
	assert.Equal(t, "50000", fields["Annual_Budget"])
	// Canonical fields can be mapped to extra provider fields additively
	assert.Equal(t, "+15550001111", fields["Mobile"])
	assert.Equal(t, "+15550001111", fields["Phone"])
	// Mappings without a target field are dropped
	assert.NotContains(t, fields, "ignored")
}

func TestMapOutboundUnsupportedProvider(t *testing.T) {
	_, err := MapOutbound(Provider("siebel"), CanonicalLead{Email: "x@y.z"}, nil, nil)
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestMapOutboundDropsEmptyFields(t *testing.T) {
	fields, err := MapOutbound(ProviderSalesforce, CanonicalLead{Email: "jane@acme.io"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "jane@acme.io", fields["Email"])
	assert.NotContains(t, fields, "FirstName")
	assert.NotContains(t, fields, "Phone")
}

func TestMapInboundZoho(t *testing.T) {
	lead := MapInbound(ProviderZoho, map[string]interface{}{
		"First_Name":  "Jane",
		"Last_Name":   "Doe",
		"Email":       "jane@acme.io",
		"Designation": "CTO",
		"Lead_Source": "Webinar",
	})
	assert.Equal(t, "Jane", lead.FirstName)
	assert.Equal(t, "Doe", lead.LastName)
	assert.Equal(t, "jane@acme.io", lead.Email)
	assert.Equal(t, "CTO", lead.JobTitle)
	assert.Equal(t, "Webinar", lead.Source)
}

func TestMapInboundPipedriveContactArrays(t *testing.T) {
	// Pipedrive person reads return email/phone as arrays of value objects
	lead := MapInbound(ProviderPipedrive, map[string]interface{}{
		"name": "Jane Doe",
		"email": []interface{}{
			map[string]interface{}{"value": "old@acme.io", "primary": false},
			map[string]interface{}{"value": "jane@acme.io", "primary": true},
		},
		"phone":    "+15550001111",
		"org_name": "Acme Inc",
	})
	assert.Equal(t, "jane@acme.io", lead.Email)
	assert.Equal(t, "+15550001111", lead.Phone)
	assert.Equal(t, "Acme Inc", lead.Company)
}

func TestMapInboundPipedriveNoPrimaryTakesFirst(t *testing.T) {
	lead := MapInbound(ProviderPipedrive, map[string]interface{}{
		"email": []interface{}{
			map[string]interface{}{"value": "first@acme.io"},
			map[string]interface{}{"value": "second@acme.io"},
		},
	})
	assert.Equal(t, "first@acme.io", lead.Email)
}

func TestMapInboundUnknownProvider(t *testing.T) {
	lead := MapInbound(Provider("siebel"), map[string]interface{}{"email": "x@y.z"})
	assert.Empty(t, lead.Email)
}
