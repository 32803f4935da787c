package crm

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"gorm.io/gorm"

	"leadsync/models"
)

// PollResult counts what one inbound cycle did.
type PollResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// InboundSync pulls provider-side lead changes into the platform, via
// scheduled polling or webhook push. Origin tracking keeps it from
// re-importing leads the platform itself created.
type InboundSync struct {
	db       *gorm.DB
	oauth    *OAuthManager
	client   *Client
	adapters AdapterFactory
	logger   *log.Logger
}

func NewInboundSync(db *gorm.DB, oauth *OAuthManager, client *Client, logger *log.Logger) *InboundSync {
	return &InboundSync{
		db:       db,
		oauth:    oauth,
		client:   client,
		adapters: AdapterFor,
		logger:   logger,
	}
}

// SyncFromCRM runs one poll cycle for an integration: refresh the token if
// near expiry, list provider records, and merge each one into the tenant's
// lead store.
func (s *InboundSync) SyncFromCRM(ctx context.Context, tenant *TenantStore, integ *models.Integration) (*PollResult, error) {
	result := &PollResult{}
	if integ.SyncDirection == models.SyncDirectionToCRM {
		return result, nil
	}

	token, err := EnsureFreshToken(ctx, s.db, s.oauth, integ)
	if err != nil {
		return nil, err
	}

	adapter, err := s.adapters(SessionFor(integ, token), s.client)
	if err != nil {
		return nil, err
	}

	opts := GetLeadsOptions{PerPage: 100}
	if integ.LastInboundPollAt != nil {
		opts.UpdatedSince = *integ.LastInboundPollAt
	}
	pollStart := time.Now()
	records, err := adapter.GetLeads(ctx, opts)
	if err != nil {
		if appendErr := integ.AppendError(s.db, "sync", err.Error(), errorCode(err)); appendErr != nil {
			s.logger.Printf("Failed to append integration error: %v", appendErr)
		}
		return nil, fmt.Errorf("inbound poll of %s failed: %w", integ.Provider, err)
	}

	platformIDs, err := tenant.PlatformCRMIDs()
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		action, err := s.applyRecord(tenant, integ, rec, platformIDs)
		if err != nil {
			s.logger.Printf("Failed to apply %s record %s: %v", integ.Provider, rec.ID, err)
			result.Failed++
			continue
		}
		result.count(action)
	}

	// The poll watermark is written only here. Outbound batches move
	// last_sync_at and must never narrow the next poll window.
	if err := s.db.Model(integ).Updates(map[string]interface{}{
		"last_inbound_poll_at": &pollStart,
		"last_sync_at":         &pollStart,
	}).Error; err != nil {
		s.logger.Printf("Failed to update poll watermark for integration %d: %v", integ.ID, err)
	}
	return result, nil
}

type applyAction string

const (
	actionCreated applyAction = "created"
	actionUpdated applyAction = "updated"
	actionSkipped applyAction = "skipped"
)

func (r *PollResult) count(a applyAction) {
	switch a {
	case actionCreated:
		r.Created++
	case actionUpdated:
		r.Updated++
	case actionSkipped:
		r.Skipped++
	}
}

// applyRecord merges one provider record into the tenant store.
//
// Skip rules, in order:
//  1. The record id matches a lead the platform itself pushed out. This is
//     the anti-loop guard.
//  2. The record carries no usable email. Email is the minimum identity
//     key for inbound matching.
//  3. An email-matching lead exists with platform origin. Platform data is
//     never overwritten by CRM reads.
//
// Otherwise the record updates the existing lead (matched by email or by
// stored origin id) or creates a new CRM-originated lead.
func (s *InboundSync) applyRecord(tenant *TenantStore, integ *models.Integration, rec Record, platformIDs map[string]struct{}) (applyAction, error) {
	if _, ok := platformIDs[rec.ID]; ok {
		return actionSkipped, nil
	}

	provider := Provider(integ.Provider)
	incoming := MapInbound(provider, rec.Fields)
	email := strings.ToLower(strings.TrimSpace(incoming.Email))
	if email == "" || checkmail.ValidateFormat(email) != nil {
		return actionSkipped, nil
	}

	existing, err := tenant.LeadByEmail(email)
	if err != nil {
		return "", err
	}
	if existing == nil {
		existing, err = tenant.LeadByOriginCRMID(provider, rec.ID)
		if err != nil {
			return "", err
		}
	}

	if existing != nil {
		if existing.IsPlatformOwned() {
			return actionSkipped, nil
		}
		incoming.ApplyToModel(existing)
		existing.CRMID = &rec.ID
		now := time.Now()
		existing.LastSyncedAt = &now
		existing.CRMSyncStatus = models.CRMSyncStatusSynced
		if err := tenant.SaveLead(existing); err != nil {
			return "", err
		}
		return actionUpdated, nil
	}

	now := time.Now()
	lead := models.Lead{
		Email:             email,
		Source:            string(provider),
		CRMID:             &rec.ID,
		CRMSyncStatus:     models.CRMSyncStatusSynced,
		LeadOrigin:        models.LeadOriginCRM,
		OriginCRMProvider: string(provider),
		OriginCRMID:       &rec.ID,
		LastSyncedAt:      &now,
	}
	incoming.ApplyToModel(&lead)
	if err := tenant.CreateLead(&lead); err != nil {
		return "", err
	}
	return actionCreated, nil
}

// HandleContactChange applies a webhook create/update event: fetch the full
// record, skip it when the provider-side marker shows the platform created
// it, otherwise run the same merge logic as the poll path.
func (s *InboundSync) HandleContactChange(ctx context.Context, tenant *TenantStore, integ *models.Integration, objectID string) (*PollResult, error) {
	result := &PollResult{}

	token, err := EnsureFreshToken(ctx, s.db, s.oauth, integ)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapters(SessionFor(integ, token), s.client)
	if err != nil {
		return nil, err
	}
	fetcher, ok := adapter.(LeadFetcher)
	if !ok {
		return nil, fmt.Errorf("%s adapter cannot fetch single records", integ.Provider)
	}

	rec, err := fetcher.GetLead(ctx, objectID)
	if err != nil {
		return nil, err
	}

	if marker, _ := rec.Fields[OriginMarkerField].(string); marker != "" {
		result.Skipped++
		return result, nil
	}

	platformIDs, err := tenant.PlatformCRMIDs()
	if err != nil {
		return nil, err
	}
	action, err := s.applyRecord(tenant, integ, *rec, platformIDs)
	if err != nil {
		result.Failed++
		return result, err
	}
	result.count(action)
	return result, nil
}

// HandleContactDeletion unlinks the platform lead from a deleted provider
// record. Deletion in the CRM must not destroy platform data: the lead
// stays, only its link is cleared.
func (s *InboundSync) HandleContactDeletion(tenant *TenantStore, integ *models.Integration, objectID string) error {
	lead, err := tenant.LeadByCRMID(objectID)
	if err != nil {
		return err
	}
	if lead == nil {
		lead, err = tenant.LeadByOriginCRMID(Provider(integ.Provider), objectID)
		if err != nil || lead == nil {
			return err
		}
	}

	if err := s.db.Model(lead).Updates(map[string]interface{}{
		"crm_id":          gorm.Expr("NULL"),
		"crm_sync_status": models.CRMSyncStatusNotSynced,
	}).Error; err != nil {
		return err
	}
	lead.CRMID = nil
	lead.CRMSyncStatus = models.CRMSyncStatusNotSynced
	return nil
}
