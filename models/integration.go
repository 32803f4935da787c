package models

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Integration statuses
const (
	IntegrationStatusActive   = "active"
	IntegrationStatusInactive = "inactive"
	IntegrationStatusError    = "error"
	IntegrationStatusExpired  = "expired"
)

// Sync directions
const (
	SyncDirectionToCRM         = "to_crm"
	SyncDirectionFromCRM       = "from_crm"
	SyncDirectionBidirectional = "bidirectional"
)

// Integration represents a company's stored connection to one CRM provider.
// There is exactly one integration per (company, provider) pair.
type Integration struct {
	gorm.Model
	CompanyID uint   `gorm:"not null;uniqueIndex:idx_company_provider" json:"company_id"`
	Provider  string `gorm:"not null;uniqueIndex:idx_company_provider" json:"provider"`

	Status string `gorm:"not null;default:'inactive'" json:"status"`

	// ========= Provider Credentials (non-token) =========
	APIDomain   string `json:"api_domain"`   // Zoho
	InstanceURL string `json:"instance_url"` // Salesforce
	Resource    string `json:"resource"`     // Dynamics org URL
	BoardID     string `json:"board_id"`     // Monday board holding lead items
	PortalID    string `json:"portal_id"`    // HubSpot account id, used to route webhooks

	// ========= OAuth Tokens (encrypted in application layer) =========
	AccessToken    string     `gorm:"type:text" json:"-"`
	RefreshToken   string     `gorm:"type:text" json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at"`
	Scope          string     `json:"scope"`

	// ========= Sync Settings =========
	AutoSyncEnabled    bool   `gorm:"default:true" json:"auto_sync_enabled"`
	SyncInterval       int    `gorm:"default:15" json:"sync_interval"` // minutes
	SyncDirection      string `gorm:"default:'bidirectional'" json:"sync_direction"`
	CustomFieldMapJSON string `gorm:"type:text" json:"-"`
	NotifyOnError      bool   `gorm:"default:true" json:"notify_on_error"`
	NotifyOnSync       bool   `gorm:"default:false" json:"notify_on_sync"`

	// ========= Sync Stats =========
	TotalSynced       int        `gorm:"default:0" json:"total_synced"`
	SyncSuccesses     int        `gorm:"default:0" json:"sync_successes"`
	SyncFailures      int        `gorm:"default:0" json:"sync_failures"`
	LastSyncStatus    string     `json:"last_sync_status"`
	LastSyncMessage   string     `json:"last_sync_message"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	LastInboundPollAt *time.Time `json:"last_inbound_poll_at"` // poll watermark, written only by inbound sync

	// ========= Webhook Configuration =========
	WebhookEnabled bool   `gorm:"default:false" json:"webhook_enabled"`
	WebhookURL     string `json:"webhook_url"`
	WebhookSecret  string `json:"-"`
	WebhookEvents  string `json:"webhook_events"` // comma-separated subscribed event types

	// Relations
	Errors []IntegrationError `gorm:"foreignKey:IntegrationID" json:"errors,omitempty"`
}

// CustomFieldMapping maps a platform form field onto a provider field.
// Applied additively on top of the default map, outbound only.
type CustomFieldMapping struct {
	FormField string `json:"form_field"`
	CRMField  string `json:"crm_field"`
	FieldType string `json:"field_type"`
}

// CustomFieldMappings decodes the stored custom mapping list.
func (i *Integration) CustomFieldMappings() []CustomFieldMapping {
	if i.CustomFieldMapJSON == "" {
		return nil
	}
	var mappings []CustomFieldMapping
	if err := json.Unmarshal([]byte(i.CustomFieldMapJSON), &mappings); err != nil {
		return nil
	}
	return mappings
}

// SetCustomFieldMappings encodes and stores the custom mapping list.
func (i *Integration) SetCustomFieldMappings(mappings []CustomFieldMapping) error {
	if len(mappings) == 0 {
		i.CustomFieldMapJSON = ""
		return nil
	}
	data, err := json.Marshal(mappings)
	if err != nil {
		return err
	}
	i.CustomFieldMapJSON = string(data)
	return nil
}

// WebhookEventList splits the subscribed event types.
func (i *Integration) WebhookEventList() []string {
	if i.WebhookEvents == "" {
		return nil
	}
	var events []string
	for _, e := range strings.Split(i.WebhookEvents, ",") {
		if e = strings.TrimSpace(e); e != "" {
			events = append(events, e)
		}
	}
	return events
}

// MaskedView returns the outward-facing representation of the integration.
// Tokens and secrets are reduced to presence booleans, never exposed.
func (i *Integration) MaskedView() map[string]interface{} {
	return map[string]interface{}{
		"id":                i.ID,
		"provider":          i.Provider,
		"status":            i.Status,
		"hasAccessToken":    i.AccessToken != "",
		"hasRefreshToken":   i.RefreshToken != "",
		"tokenExpiresAt":    i.TokenExpiresAt,
		"scope":             i.Scope,
		"autoSyncEnabled":   i.AutoSyncEnabled,
		"syncInterval":      i.SyncInterval,
		"syncDirection":     i.SyncDirection,
		"customFieldMap":    i.CustomFieldMappings(),
		"notifyOnError":     i.NotifyOnError,
		"notifyOnSync":      i.NotifyOnSync,
		"totalSynced":       i.TotalSynced,
		"syncSuccesses":     i.SyncSuccesses,
		"syncFailures":      i.SyncFailures,
		"lastSyncStatus":    i.LastSyncStatus,
		"lastSyncMessage":   i.LastSyncMessage,
		"lastSyncAt":        i.LastSyncAt,
		"webhookEnabled":    i.WebhookEnabled,
		"hasWebhookSecret":  i.WebhookSecret != "",
		"webhookEvents":     i.WebhookEventList(),
		"connectedAt":       i.CreatedAt,
	}
}

// maxIntegrationErrors bounds the per-integration error log.
const maxIntegrationErrors = 50

// IntegrationError is one entry of the bounded per-integration error log.
type IntegrationError struct {
	gorm.Model
	IntegrationID uint `gorm:"not null;index" json:"integration_id"`

	ErrorType string `gorm:"not null" json:"error_type"` // auth, sync, webhook, config
	Message   string `gorm:"type:text" json:"message"`
	Code      string `json:"code"`
	Resolved  bool   `gorm:"default:false" json:"resolved"`
}

// AppendError records an error against the integration and prunes the log
// to the newest maxIntegrationErrors entries.
func (i *Integration) AppendError(db *gorm.DB, errType, message, code string) error {
	entry := IntegrationError{
		IntegrationID: i.ID,
		ErrorType:     errType,
		Message:       message,
		Code:          code,
	}
	if err := db.Create(&entry).Error; err != nil {
		return err
	}

	var count int64
	if err := db.Model(&IntegrationError{}).Where("integration_id = ?", i.ID).Count(&count).Error; err != nil {
		return err
	}
	if count <= maxIntegrationErrors {
		return nil
	}

	// Delete the oldest entries beyond the cap
	var stale []IntegrationError
	if err := db.Where("integration_id = ?", i.ID).
		Order("created_at asc").
		Limit(int(count) - maxIntegrationErrors).
		Find(&stale).Error; err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	return db.Unscoped().Delete(&stale).Error
}

// UpdateSyncStats folds a batch outcome into the aggregate counters.
func (i *Integration) UpdateSyncStats(db *gorm.DB, succeeded, failed int, message string) error {
	now := time.Now()
	i.TotalSynced += succeeded + failed
	i.SyncSuccesses += succeeded
	i.SyncFailures += failed
	i.LastSyncAt = &now
	i.LastSyncMessage = message
	if failed == 0 {
		i.LastSyncStatus = "success"
	} else if succeeded == 0 {
		i.LastSyncStatus = "failed"
	} else {
		i.LastSyncStatus = "partial"
	}
	return db.Model(i).Updates(map[string]interface{}{
		"total_synced":      i.TotalSynced,
		"sync_successes":    i.SyncSuccesses,
		"sync_failures":     i.SyncFailures,
		"last_sync_at":      i.LastSyncAt,
		"last_sync_status":  i.LastSyncStatus,
		"last_sync_message": i.LastSyncMessage,
	}).Error
}
