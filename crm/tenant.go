package crm

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"leadsync/models"
)

// TenantResolver maps a company identifier to its isolated lead-store
// handle. Sync operations take the handle explicitly rather than relying on
// ambient state, so a job iterating many companies never leaks one tenant's
// connection into another's.
type TenantResolver struct {
	db *gorm.DB
}

func NewTenantResolver(db *gorm.DB) *TenantResolver {
	return &TenantResolver{db: db}
}

// Store returns the lead-store handle for one company.
func (r *TenantResolver) Store(companyID uint) *TenantStore {
	return &TenantStore{db: r.db, companyID: companyID}
}

// TenantStore scopes every lead read and write to a single company.
type TenantStore struct {
	db        *gorm.DB
	companyID uint
}

func (t *TenantStore) CompanyID() uint {
	return t.companyID
}

func (t *TenantStore) scoped() *gorm.DB {
	return t.db.Where("company_id = ?", t.companyID)
}

// LeadByID loads a lead with its custom fields, or an error when it does
// not exist in this tenant.
func (t *TenantStore) LeadByID(id uint) (*models.Lead, error) {
	var lead models.Lead
	err := t.scoped().Preload("CustomFields").First(&lead, id).Error
	if err != nil {
		return nil, fmt.Errorf("lead %d not found: %w", id, err)
	}
	return &lead, nil
}

// LeadByEmail finds a lead by email, returning nil (no error) when absent.
func (t *TenantStore) LeadByEmail(email string) (*models.Lead, error) {
	var lead models.Lead
	err := t.scoped().Where("email = ?", strings.ToLower(email)).First(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// LeadByCRMID finds the lead currently linked to a provider record.
func (t *TenantStore) LeadByCRMID(crmID string) (*models.Lead, error) {
	var lead models.Lead
	err := t.scoped().Where("crm_id = ?", crmID).First(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// LeadByOriginCRMID finds a CRM-originated lead by the provider record it
// was imported from.
func (t *TenantStore) LeadByOriginCRMID(provider Provider, crmID string) (*models.Lead, error) {
	var lead models.Lead
	err := t.scoped().
		Where("origin_crm_provider = ? AND origin_crm_id = ?", string(provider), crmID).
		First(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// PlatformCRMIDs returns the set of provider record ids already owned by
// platform-originated leads. Inbound sync uses it as the anti-loop guard.
func (t *TenantStore) PlatformCRMIDs() (map[string]struct{}, error) {
	var ids []string
	err := t.db.Model(&models.Lead{}).
		Where("company_id = ? AND lead_origin = ? AND crm_id IS NOT NULL", t.companyID, models.LeadOriginPlatform).
		Pluck("crm_id", &ids).Error
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// FailedLeadIDs lists leads whose last outbound sync failed.
func (t *TenantStore) FailedLeadIDs() ([]uint, error) {
	var ids []uint
	err := t.db.Model(&models.Lead{}).
		Where("company_id = ? AND crm_sync_status = ?", t.companyID, models.CRMSyncStatusFailed).
		Pluck("id", &ids).Error
	return ids, err
}

// CreateLead inserts a lead, forcing the tenant scope.
func (t *TenantStore) CreateLead(lead *models.Lead) error {
	lead.CompanyID = t.companyID
	return t.db.Create(lead).Error
}

// SaveLead persists changes to a lead belonging to this tenant.
func (t *TenantStore) SaveLead(lead *models.Lead) error {
	if lead.CompanyID != t.companyID {
		return fmt.Errorf("lead %d does not belong to company %d", lead.ID, t.companyID)
	}
	return t.db.Save(lead).Error
}
