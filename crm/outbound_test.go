package crm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"leadsync/models"
)

func newOutboundForTest(db *gorm.DB, fake *fakeAdapter) *OutboundSync {
	out := NewOutboundSync(db, NewOAuthManager(NewMemoryStateStore(), quietLogger()), NewClient(time.Second), quietLogger())
	out.adapters = fake.factory()
	return out
}

func seedLead(t *testing.T, db *gorm.DB, companyID uint, email string) *models.Lead {
	t.Helper()
	lead := &models.Lead{
		CompanyID:     companyID,
		Email:         email,
		FirstName:     "Jane",
		LastName:      "Doe",
		CRMSyncStatus: models.CRMSyncStatusNotSynced,
	}
	require.NoError(t, db.Create(lead).Error)
	return lead
}

func TestSyncLeadToCRMCreatesAndLinks(t *testing.T) {
	useTestConfig(t)
	db := newTestDB(t)
	company := seedCompany(t, db)
	integ := seedIntegration(t, db, company.ID, ProviderZoho)
	lead := seedLead(t, db, company.ID, "jane@acme.io")

	fake := newFakeAdapter(ProviderZoho)
	out := newOutboundForTest(db, fake)
	tenant := NewTenantResolver(db).Store(company.ID)

	require.NoError(t, out.SyncLeadToCRM(context.Background(), tenant, lead.ID, integ))

	var stored models.Lead
	require.NoError(t, db.First(&stored, lead.ID).Error)
	require.NotNil(t, stored.CRMID)
	assert.Equal(t, "crm-1", *stored.CRMID)
	assert.Equal(t, models.CRMSyncStatusSynced, stored.CRMSyncStatus)
	assert.Equal(t, models.LeadOriginPlatform, stored.LeadOrigin)
	assert.NotNil(t, stored.LastSyncedAt)
	assert.Empty(t, stored.SyncError)

	// The record reached the provider in Zoho's field names
	created := fake.created["crm-1"]
	require.NotNil(t, created)
	assert.Equal(t, "jane@acme.io", created["Email"])
	assert.Equal(t, "Doe", created["Last_Name"])
}

func TestSyncLeadToCRMUpdatesLinkedLead(t *testing.T) {
	useTestConfig(t)
	db := newTestDB(t)
	company := seedCompany(t, db)
	integ := seedIntegration(t, db, company.ID, ProviderZoho)
	lead := seedLead(t, db, company.ID, "jane@acme.io")

	crmID := "crm-existing"
	require.NoError(t, db.Model(lead).Updates(map[string]interface{}{
		"crm_id":      crmID,
		"lead_origin": models.LeadOriginPlatform,
	}).Error)

	fake := newFakeAdapter(ProviderZoho)
	out := newOutboundForTest(db, fake)
	tenant := NewTenantResolver(db).Store(company.ID)

	require.NoError(t, out.SyncLeadToCRM(context.Background(), tenant, lead.ID, integ))

	// Linked leads go through update, not create
	assert.Empty(t, fake.created)
	assert.Contains(t, fake.updated, crmID)

	var stored models.Lead
	require.NoError(t, db.First(&stored, lead.ID).Error)
	require.NotNil(t, stored.CRMID)
	assert.Equal(t, crmID, *stored.CRMID)
}

func TestSyncLeadsToCRMContinuesPastFailures(t *testing.T) {
	useTestConfig(t)
	db := newTestDB(t)
	company := seedCompany(t, db)
	integ := seedIntegration(t, db, company.ID, ProviderZoho)

	good1 := seedLead(t, db, company.ID, "one@acme.io")
	bad := seedLead(t, db, company.ID, "broken@acme.io")
	good2 := seedLead(t, db, company.ID, "two@acme.io")

	fake := newFakeAdapter(ProviderZoho)
	fake.failCreate = func(fields map[string]interface{}) error {
		if fields["Email"] == "broken@acme.io" {
			return fmt.Errorf("zoho create failed: INVALID_DATA: bad field")
		}
		return nil
	}
	out := newOutboundForTest(db, fake)
	tenant := NewTenantResolver(db).Store(company.ID)

	result, err := out.SyncLeadsToCRM(context.Background(), tenant, []uint{good1.ID, bad.ID, good2.ID}, integ)
	require.NoError(t, err)
	assert.Equal(t, []uint{good1.ID, good2.ID}, result.Successful)
	assert.Equal(t, []uint{bad.ID}, result.Failed)

	// The failed lead carries its error, the others are clean
	var storedBad models.Lead
	require.NoError(t, db.First(&storedBad, bad.ID).Error)
	assert.Equal(t, models.CRMSyncStatusFailed, storedBad.CRMSyncStatus)
	assert.Contains(t, storedBad.SyncError, "INVALID_DATA")

	// Aggregate stats reflect the partial outcome
	var stored models.Integration
	require.NoError(t, db.First(&stored, integ.ID).Error)
	assert.Equal(t, 3, stored.TotalSynced)
	assert.Equal(t, 2, stored.SyncSuccesses)
	assert.Equal(t, 1, stored.SyncFailures)
	assert.Equal(t, "partial", stored.LastSyncStatus)

	var errCount int64
	db.Model(&models.IntegrationError{}).Where("integration_id = ?", integ.ID).Count(&errCount)
	assert.Equal(t, int64(1), errCount)
}

func TestRetryFailedSyncs(t *testing.T) {
	useTestConfig(t)
	db := newTestDB(t)
	company := seedCompany(t, db)
	seedIntegration(t, db, company.ID, ProviderZoho)

	failed := seedLead(t, db, company.ID, "retry@acme.io")
	require.NoError(t, db.Model(failed).Update("crm_sync_status", models.CRMSyncStatusFailed).Error)
	seedLead(t, db, company.ID, "untouched@acme.io")

	fake := newFakeAdapter(ProviderZoho)
	out := newOutboundForTest(db, fake)

	result, err := out.RetryFailedSyncs(context.Background(), company.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{failed.ID}, result.Successful)
	assert.Empty(t, result.Failed)

	var stored models.Lead
	require.NoError(t, db.First(&stored, failed.ID).Error)
	assert.Equal(t, models.CRMSyncStatusSynced, stored.CRMSyncStatus)
}

func TestRetryFailedSyncsRequiresActiveIntegration(t *testing.T) {
	useTestConfig(t)
	db := newTestDB(t)
	company := seedCompany(t, db)
	integ := seedIntegration(t, db, company.ID, ProviderZoho)
	require.NoError(t, db.Model(integ).Update("status", models.IntegrationStatusError).Error)

	out := newOutboundForTest(db, newFakeAdapter(ProviderZoho))
	_, err := out.RetryFailedSyncs(context.Background(), company.ID)
	assert.ErrorIs(t, err, ErrNoActiveIntegration)
}

func TestAutoSyncNewLeadWithoutIntegration(t *testing.T) {
	useTestConfig(t)
	db := newTestDB(t)
	company := seedCompany(t, db)
	lead := seedLead(t, db, company.ID, "jane@acme.io")

	out := newOutboundForTest(db, newFakeAdapter(ProviderZoho))
	require.NoError(t, out.AutoSyncNewLead(context.Background(), lead, company.ID))

	// No integration means no-op, not an error
	var stored models.Lead
	require.NoError(t, db.First(&stored, lead.ID).Error)
	assert.Equal(t, models.CRMSyncStatusNotSynced, stored.CRMSyncStatus)
}

func TestAutoSyncNewLeadRespectsDirection(t *testing.T) {
	useTestConfig(t)
	db := newTestDB(t)
	company := seedCompany(t, db)
	integ := seedIntegration(t, db, company.ID, ProviderZoho)
	require.NoError(t, db.Model(integ).Update("sync_direction", models.SyncDirectionFromCRM).Error)
	lead := seedLead(t, db, company.ID, "jane@acme.io")

	fake := newFakeAdapter(ProviderZoho)
	out := newOutboundForTest(db, fake)
	require.NoError(t, out.AutoSyncNewLead(context.Background(), lead, company.ID))

	assert.Empty(t, fake.created)
}

func TestAutoSyncNewLeadPushes(t *testing.T) {
	useTestConfig(t)
	db := newTestDB(t)
	company := seedCompany(t, db)
	seedIntegration(t, db, company.ID, ProviderZoho)
	lead := seedLead(t, db, company.ID, "jane@acme.io")

	fake := newFakeAdapter(ProviderZoho)
	out := newOutboundForTest(db, fake)
	require.NoError(t, out.AutoSyncNewLead(context.Background(), lead, company.ID))

	var stored models.Lead
	require.NoError(t, db.First(&stored, lead.ID).Error)
	assert.Equal(t, models.CRMSyncStatusSynced, stored.CRMSyncStatus)
	require.NotNil(t, stored.CRMID)
	assert.Contains(t, fake.created, *stored.CRMID)
}

func TestTenantStoreIsolation(t *testing.T) {
	useTestConfig(t)
	db := newTestDB(t)
	companyA := seedCompany(t, db)
	companyB := &models.Company{Name: "Globex", IsActive: true}
	require.NoError(t, db.Create(companyB).Error)

	leadA := seedLead(t, db, companyA.ID, "a@acme.io")
	seedLead(t, db, companyB.ID, "b@globex.io")

	resolver := NewTenantResolver(db)
	storeA := resolver.Store(companyA.ID)

	// A tenant store never sees another company's leads
	lead, err := storeA.LeadByEmail("b@globex.io")
	require.NoError(t, err)
	assert.Nil(t, lead)

	_, err = storeA.LeadByID(leadA.ID)
	require.NoError(t, err)

	// And refuses to write a foreign lead
	foreign := &models.Lead{CompanyID: companyB.ID, Email: "b@globex.io"}
	foreign.ID = 999
	assert.Error(t, storeA.SaveLead(foreign))
}
