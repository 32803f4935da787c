package crm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"leadsync/models"
)

// BatchResult accumulates per-lead outcomes of a batch sync. Partial
// failure is not fatal to the batch.
type BatchResult struct {
	Successful []uint `json:"successful"`
	Failed     []uint `json:"failed"`
}

// OutboundSync pushes platform leads into a connected CRM.
type OutboundSync struct {
	db       *gorm.DB
	oauth    *OAuthManager
	client   *Client
	resolver *TenantResolver
	adapters AdapterFactory
	logger   *log.Logger
}

func NewOutboundSync(db *gorm.DB, oauth *OAuthManager, client *Client, logger *log.Logger) *OutboundSync {
	return &OutboundSync{
		db:       db,
		oauth:    oauth,
		client:   client,
		resolver: NewTenantResolver(db),
		adapters: AdapterFor,
		logger:   logger,
	}
}

// SyncLeadToCRM pushes one lead to the integration's provider. On success
// the lead is linked to the provider record and, if it had no origin yet,
// stamped as platform-originated: the first successful outbound sync
// establishes ownership. On failure the lead is marked failed and the error
// is returned for the caller to decide batching behavior.
func (s *OutboundSync) SyncLeadToCRM(ctx context.Context, tenant *TenantStore, leadID uint, integ *models.Integration) error {
	lead, err := tenant.LeadByID(leadID)
	if err != nil {
		return err
	}

	token, err := EnsureFreshToken(ctx, s.db, s.oauth, integ)
	if err != nil {
		return err
	}

	adapter, err := s.adapters(SessionFor(integ, token), s.client)
	if err != nil {
		return err
	}

	fields, err := MapOutbound(Provider(integ.Provider), CanonicalFromModel(lead), integ.CustomFieldMappings(), lead.CustomFieldValues())
	if err != nil {
		return err
	}

	crmID, syncErr := s.dispatch(ctx, adapter, lead, fields)
	now := time.Now()
	if syncErr != nil {
		lead.CRMSyncStatus = models.CRMSyncStatusFailed
		lead.SyncError = syncErr.Error()
		if err := tenant.SaveLead(lead); err != nil {
			s.logger.Printf("Failed to record sync failure for lead %d: %v", lead.ID, err)
		}
		if err := integ.AppendError(s.db, "sync", syncErr.Error(), errorCode(syncErr)); err != nil {
			s.logger.Printf("Failed to append integration error: %v", err)
		}
		return fmt.Errorf("sync of lead %d to %s failed: %w", lead.ID, integ.Provider, syncErr)
	}

	lead.CRMID = &crmID
	lead.CRMSyncStatus = models.CRMSyncStatusSynced
	lead.LastSyncedAt = &now
	lead.SyncError = ""
	if lead.LeadOrigin == "" {
		lead.LeadOrigin = models.LeadOriginPlatform
	}
	return tenant.SaveLead(lead)
}

// dispatch creates or updates the provider record depending on whether the
// lead is already linked.
func (s *OutboundSync) dispatch(ctx context.Context, adapter Adapter, lead *models.Lead, fields map[string]interface{}) (string, error) {
	if lead.CRMID != nil && *lead.CRMID != "" {
		if err := adapter.UpdateLead(ctx, *lead.CRMID, fields); err != nil {
			return "", err
		}
		return *lead.CRMID, nil
	}
	return adapter.CreateLead(ctx, fields)
}

// SyncLeadsToCRM syncs leads sequentially, continuing past per-lead
// failures, and always folds the outcome into the integration's aggregate
// stats.
func (s *OutboundSync) SyncLeadsToCRM(ctx context.Context, tenant *TenantStore, leadIDs []uint, integ *models.Integration) (*BatchResult, error) {
	result := &BatchResult{Successful: []uint{}, Failed: []uint{}}

	for _, id := range leadIDs {
		if err := s.SyncLeadToCRM(ctx, tenant, id, integ); err != nil {
			s.logger.Printf("Lead %d failed to sync to %s: %v", id, integ.Provider, err)
			result.Failed = append(result.Failed, id)
			continue
		}
		result.Successful = append(result.Successful, id)
	}

	message := fmt.Sprintf("synced %d of %d leads", len(result.Successful), len(leadIDs))
	if err := integ.UpdateSyncStats(s.db, len(result.Successful), len(result.Failed), message); err != nil {
		s.logger.Printf("Failed to update sync stats for integration %d: %v", integ.ID, err)
	}
	return result, nil
}

// RetryFailedSyncs resubmits every lead whose last sync failed. It requires
// an active integration.
func (s *OutboundSync) RetryFailedSyncs(ctx context.Context, companyID uint) (*BatchResult, error) {
	integ, err := s.ActiveIntegration(companyID)
	if err != nil {
		return nil, err
	}

	tenant := s.resolver.Store(companyID)
	leadIDs, err := tenant.FailedLeadIDs()
	if err != nil {
		return nil, err
	}
	return s.SyncLeadsToCRM(ctx, tenant, leadIDs, integ)
}

// AutoSyncNewLead pushes a freshly created lead when, and only when, an
// active integration exists with auto-sync enabled and a direction that
// includes platform→CRM. All three are hard filters evaluated before any
// network call; a miss is a no-op, not an error.
func (s *OutboundSync) AutoSyncNewLead(ctx context.Context, lead *models.Lead, companyID uint) error {
	integ, err := s.ActiveIntegration(companyID)
	if err != nil {
		if errors.Is(err, ErrNoActiveIntegration) {
			return nil
		}
		return err
	}
	if !integ.AutoSyncEnabled {
		return nil
	}
	if integ.SyncDirection == models.SyncDirectionFromCRM {
		return nil
	}

	tenant := s.resolver.Store(companyID)
	lead.CRMSyncStatus = models.CRMSyncStatusPending
	if err := tenant.SaveLead(lead); err != nil {
		return err
	}
	return s.SyncLeadToCRM(ctx, tenant, lead.ID, integ)
}

// ErrNoActiveIntegration signals that the company has no integration in
// status active.
var ErrNoActiveIntegration = errors.New("no active CRM integration")

// ActiveIntegration loads the company's integration, requiring status
// active: sync is only ever attempted on active integrations.
func (s *OutboundSync) ActiveIntegration(companyID uint) (*models.Integration, error) {
	var integ models.Integration
	err := s.db.Where("company_id = ? AND status = ?", companyID, models.IntegrationStatusActive).
		First(&integ).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveIntegration
	}
	if err != nil {
		return nil, err
	}
	return &integ, nil
}

func errorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("http_%d", apiErr.StatusCode)
	}
	return ""
}
