package models

import (
	"time"

	"gorm.io/gorm"
)

// CRM sync statuses
const (
	CRMSyncStatusNotSynced = "not_synced"
	CRMSyncStatusPending   = "pending"
	CRMSyncStatusSynced    = "synced"
	CRMSyncStatusFailed    = "failed"
)

// Lead origins. Set once at creation and never changed afterwards; this is
// the single source of truth that prevents sync loops between the platform
// and a connected CRM.
const (
	LeadOriginPlatform = "platform"
	LeadOriginCRM      = "crm"
)

// Lead represents a single contact/lead, scoped to a company.
type Lead struct {
	gorm.Model
	CompanyID uint `gorm:"not null;index" json:"company_id"`

	Email     string `gorm:"not null;index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Position  string `json:"position"`
	Phone     string `json:"phone"`
	Website   string `json:"website"`

	// Metadata
	Source      string `json:"source"`
	Description string `gorm:"type:text" json:"description"`

	// ========= CRM Sync State =========
	CRMID             *string    `gorm:"index" json:"crm_id"`
	CRMSyncStatus     string     `gorm:"default:'not_synced'" json:"crm_sync_status"`
	LeadOrigin        string     `json:"lead_origin"`
	OriginCRMProvider string     `json:"origin_crm_provider"`
	OriginCRMID       *string    `gorm:"index" json:"origin_crm_id"`
	LastSyncedAt      *time.Time `json:"last_synced_at"`
	SyncError         string     `json:"sync_error"`

	// Relations
	CustomFields []LeadCustomField `gorm:"foreignKey:LeadID" json:"custom_fields,omitempty"`
}

// FullName joins the name parts, falling back to whichever is present.
func (l *Lead) FullName() string {
	switch {
	case l.FirstName != "" && l.LastName != "":
		return l.FirstName + " " + l.LastName
	case l.FirstName != "":
		return l.FirstName
	default:
		return l.LastName
	}
}

// IsPlatformOwned reports whether the platform owns this record's truth.
// A platform-originated lead that already has a CRM id must never be
// overwritten by inbound sync.
func (l *Lead) IsPlatformOwned() bool {
	return l.LeadOrigin == LeadOriginPlatform
}

// LeadCustomField represents custom fields for leads
type LeadCustomField struct {
	gorm.Model
	LeadID uint   `gorm:"not null;index" json:"lead_id"`
	Name   string `gorm:"not null;index" json:"name"`
	Value  string `gorm:"type:text" json:"value"`
}

// CustomFieldValues flattens the custom field rows into a lookup map.
func (l *Lead) CustomFieldValues() map[string]string {
	if len(l.CustomFields) == 0 {
		return nil
	}
	values := make(map[string]string, len(l.CustomFields))
	for _, f := range l.CustomFields {
		values[f.Name] = f.Value
	}
	return values
}
