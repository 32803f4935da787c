package crm

import (
	"fmt"
	"strings"

	"leadsync/models"
)

// Canonical platform field names used by the mapping tables.
const (
	FieldName        = "name"
	FieldFirstName   = "first_name"
	FieldLastName    = "last_name"
	FieldEmail       = "email"
	FieldPhone       = "phone"
	FieldCompany     = "company"
	FieldJobTitle    = "job_title"
	FieldSource      = "source"
	FieldDescription = "description"
)

// OriginMarkerField is written on outbound records so provider-side webhook
// events for platform-created contacts can be recognized and skipped.
const OriginMarkerField = "leadsync_origin"

// OriginMarkerValue marks a provider record as created by the platform.
const OriginMarkerValue = "platform"

// CanonicalLead is the platform's lead schema as seen by the field mapper.
type CanonicalLead struct {
	Name        string
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	Company     string
	JobTitle    string
	Source      string
	Description string
}

// CanonicalFromModel projects a stored lead into the canonical shape.
func CanonicalFromModel(l *models.Lead) CanonicalLead {
	return CanonicalLead{
		Name:        l.FullName(),
		FirstName:   l.FirstName,
		LastName:    l.LastName,
		Email:       l.Email,
		Phone:       l.Phone,
		Company:     l.Company,
		JobTitle:    l.Position,
		Source:      l.Source,
		Description: l.Description,
	}
}

// ApplyToModel copies the canonical fields onto a stored lead. Identity and
// sync-state fields are left untouched.
func (cl CanonicalLead) ApplyToModel(l *models.Lead) {
	if cl.Email != "" {
		l.Email = strings.ToLower(cl.Email)
	}
	if cl.FirstName != "" {
		l.FirstName = cl.FirstName
	}
	if cl.LastName != "" {
		l.LastName = cl.LastName
	}
	if cl.Phone != "" {
		l.Phone = cl.Phone
	}
	if cl.Company != "" {
		l.Company = cl.Company
	}
	if cl.JobTitle != "" {
		l.Position = cl.JobTitle
	}
	if cl.Description != "" {
		l.Description = cl.Description
	}
}

func (cl CanonicalLead) valueOf(field string) string {
	switch field {
	case FieldName:
		return cl.Name
	case FieldFirstName:
		return cl.FirstName
	case FieldLastName:
		return cl.LastName
	case FieldEmail:
		return cl.Email
	case FieldPhone:
		return cl.Phone
	case FieldCompany:
		return cl.Company
	case FieldJobTitle:
		return cl.JobTitle
	case FieldSource:
		return cl.Source
	case FieldDescription:
		return cl.Description
	default:
		return ""
	}
}

// defaultFieldMaps translates canonical field names into each provider's
// native field names at outbound time.
var defaultFieldMaps = map[Provider]map[string]string{
	ProviderZoho: {
		FieldFirstName:   "First_Name",
		FieldLastName:    "Last_Name",
		FieldEmail:       "Email",
		FieldPhone:       "Phone",
		FieldCompany:     "Company",
		FieldJobTitle:    "Designation",
		FieldSource:      "Lead_Source",
		FieldDescription: "Description",
	},
	ProviderHubSpot: {
		FieldFirstName: "firstname",
		FieldLastName:  "lastname",
		FieldEmail:     "email",
		FieldPhone:     "phone",
		FieldCompany:   "company",
		FieldJobTitle:  "jobtitle",
		FieldSource:    "hs_lead_status",
	},
	ProviderSalesforce: {
		FieldFirstName:   "FirstName",
		FieldLastName:    "LastName",
		FieldEmail:       "Email",
		FieldPhone:       "Phone",
		FieldCompany:     "Company",
		FieldJobTitle:    "Title",
		FieldSource:      "LeadSource",
		FieldDescription: "Description",
	},
	ProviderPipedrive: {
		FieldName:     "name",
		FieldEmail:    "email",
		FieldPhone:    "phone",
		FieldCompany:  "org_name",
		FieldJobTitle: "job_title",
	},
	ProviderFreshworks: {
		FieldFirstName:   "first_name",
		FieldLastName:    "last_name",
		FieldEmail:       "email",
		FieldPhone:       "mobile_number",
		FieldJobTitle:    "job_title",
		FieldDescription: "description",
	},
	ProviderMonday: {
		FieldName:     "name",
		FieldEmail:    "email",
		FieldPhone:    "phone",
		FieldCompany:  "company",
		FieldJobTitle: "job_title",
		FieldSource:   "source",
	},
	ProviderDynamics: {
		FieldFirstName:   "firstname",
		FieldLastName:    "lastname",
		FieldEmail:       "emailaddress1",
		FieldPhone:       "telephone1",
		FieldCompany:     "companyname",
		FieldJobTitle:    "jobtitle",
		FieldDescription: "description",
	},
}

// CRMFieldFor resolves which provider field a platform field maps to,
// falling through custom mappings, then the default map. The second return
// is false when the field has no mapping and must be dropped.
func CRMFieldFor(p Provider, platformField string, custom []models.CustomFieldMapping) (string, bool) {
	for _, m := range custom {
		if m.FormField == platformField && m.CRMField != "" {
			return m.CRMField, true
		}
	}
	if field, ok := defaultFieldMaps[p][platformField]; ok {
		return field, true
	}
	return "", false
}

// MapOutbound translates a canonical lead into the provider's native field
// names. Custom mappings are applied additively on top of the default map;
// values for custom form fields come from the lead's custom field rows.
func MapOutbound(p Provider, lead CanonicalLead, custom []models.CustomFieldMapping, customValues map[string]string) (map[string]interface{}, error) {
	defaults, ok := defaultFieldMaps[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, p)
	}

	fields := make(map[string]interface{})
	for platformField, crmField := range defaults {
		if v := lead.valueOf(platformField); v != "" {
			fields[crmField] = v
		}
	}

	// Zoho rejects leads without Last_Name; fall back to the full name,
	// then the email local part.
	if p == ProviderZoho && fields["Last_Name"] == nil {
		switch {
		case lead.Name != "":
			fields["Last_Name"] = lead.Name
		case lead.Email != "":
			fields["Last_Name"] = strings.SplitN(lead.Email, "@", 2)[0]
		}
	}
	// Dynamics leads need a topic
	if p == ProviderDynamics {
		subject := lead.Name
		if subject == "" {
			subject = lead.Email
		}
		fields["subject"] = subject
	}

	for _, m := range custom {
		if m.CRMField == "" {
			continue
		}
		value := customValues[m.FormField]
		if value == "" {
			value = lead.valueOf(m.FormField)
		}
		if value != "" {
			fields[m.CRMField] = value
		}
	}

	if p == ProviderHubSpot {
		fields[OriginMarkerField] = OriginMarkerValue
	}

	return fields, nil
}

// MapInbound translates a provider record's native fields back into the
// canonical shape. Each provider has a hard-coded reverse mapping.
func MapInbound(p Provider, fields map[string]interface{}) CanonicalLead {
	switch p {
	case ProviderZoho:
		return reverseZoho(fields)
	case ProviderHubSpot:
		return reverseHubSpot(fields)
	case ProviderSalesforce:
		return reverseSalesforce(fields)
	case ProviderPipedrive:
		return reversePipedrive(fields)
	case ProviderFreshworks:
		return reverseFreshworks(fields)
	case ProviderMonday:
		return reverseMonday(fields)
	case ProviderDynamics:
		return reverseDynamics(fields)
	default:
		return CanonicalLead{}
	}
}

func str(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func reverseZoho(f map[string]interface{}) CanonicalLead {
	return CanonicalLead{
		FirstName:   str(f, "First_Name"),
		LastName:    str(f, "Last_Name"),
		Email:       str(f, "Email"),
		Phone:       str(f, "Phone"),
		Company:     str(f, "Company"),
		JobTitle:    str(f, "Designation"),
		Source:      str(f, "Lead_Source"),
		Description: str(f, "Description"),
	}
}

func reverseHubSpot(f map[string]interface{}) CanonicalLead {
	return CanonicalLead{
		FirstName: str(f, "firstname"),
		LastName:  str(f, "lastname"),
		Email:     str(f, "email"),
		Phone:     str(f, "phone"),
		Company:   str(f, "company"),
		JobTitle:  str(f, "jobtitle"),
		Source:    str(f, "hs_lead_status"),
	}
}

func reverseSalesforce(f map[string]interface{}) CanonicalLead {
	return CanonicalLead{
		FirstName:   str(f, "FirstName"),
		LastName:    str(f, "LastName"),
		Email:       str(f, "Email"),
		Phone:       str(f, "Phone"),
		Company:     str(f, "Company"),
		JobTitle:    str(f, "Title"),
		Source:      str(f, "LeadSource"),
		Description: str(f, "Description"),
	}
}

// Pipedrive returns email and phone either as plain strings or as arrays
// of {value, primary} objects depending on the endpoint.
func reversePipedrive(f map[string]interface{}) CanonicalLead {
	return CanonicalLead{
		Name:     str(f, "name"),
		Email:    pipedriveContactValue(f["email"]),
		Phone:    pipedriveContactValue(f["phone"]),
		Company:  str(f, "org_name"),
		JobTitle: str(f, "job_title"),
	}
}

func pipedriveContactValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		for _, item := range t {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if primary, _ := entry["primary"].(bool); primary {
				if value, ok := entry["value"].(string); ok {
					return value
				}
			}
		}
		// no primary flagged, take the first value
		if len(t) > 0 {
			if entry, ok := t[0].(map[string]interface{}); ok {
				if value, ok := entry["value"].(string); ok {
					return value
				}
			}
		}
	}
	return ""
}

func reverseFreshworks(f map[string]interface{}) CanonicalLead {
	return CanonicalLead{
		FirstName:   str(f, "first_name"),
		LastName:    str(f, "last_name"),
		Email:       str(f, "email"),
		Phone:       str(f, "mobile_number"),
		JobTitle:    str(f, "job_title"),
		Description: str(f, "description"),
	}
}

func reverseMonday(f map[string]interface{}) CanonicalLead {
	return CanonicalLead{
		Name:     str(f, "name"),
		Email:    str(f, "email"),
		Phone:    str(f, "phone"),
		Company:  str(f, "company"),
		JobTitle: str(f, "job_title"),
		Source:   str(f, "source"),
	}
}

func reverseDynamics(f map[string]interface{}) CanonicalLead {
	return CanonicalLead{
		FirstName:   str(f, "firstname"),
		LastName:    str(f, "lastname"),
		Email:       str(f, "emailaddress1"),
		Phone:       str(f, "telephone1"),
		Company:     str(f, "companyname"),
		JobTitle:    str(f, "jobtitle"),
		Description: str(f, "description"),
	}
}
