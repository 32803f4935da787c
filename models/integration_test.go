package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newIntegrationDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Integration{}, &IntegrationError{}))
	return db
}

func seedIntegrationRow(t *testing.T, db *gorm.DB) *Integration {
	t.Helper()
	integ := &Integration{
		CompanyID: 1,
		Provider:  "zoho",
		Status:    IntegrationStatusActive,
	}
	require.NoError(t, db.Create(integ).Error)
	return integ
}

func TestAppendErrorPrunesLog(t *testing.T) {
	db := newIntegrationDB(t)
	integ := seedIntegrationRow(t, db)

	for i := 0; i < maxIntegrationErrors+10; i++ {
		require.NoError(t, integ.AppendError(db, "sync", fmt.Sprintf("failure %d", i), "sync_failed"))
	}

	var count int64
	require.NoError(t, db.Model(&IntegrationError{}).Where("integration_id = ?", integ.ID).Count(&count).Error)
	assert.Equal(t, int64(maxIntegrationErrors), count)
}

func TestAppendErrorScopedToIntegration(t *testing.T) {
	db := newIntegrationDB(t)
	integ := seedIntegrationRow(t, db)
	other := &Integration{CompanyID: 2, Provider: "hubspot", Status: IntegrationStatusActive}
	require.NoError(t, db.Create(other).Error)

	require.NoError(t, other.AppendError(db, "auth", "token refresh rejected", "invalid_grant"))
	for i := 0; i < maxIntegrationErrors+5; i++ {
		require.NoError(t, integ.AppendError(db, "sync", fmt.Sprintf("failure %d", i), "sync_failed"))
	}

	// Pruning one integration's log never touches another's
	var otherCount int64
	require.NoError(t, db.Model(&IntegrationError{}).Where("integration_id = ?", other.ID).Count(&otherCount).Error)
	assert.Equal(t, int64(1), otherCount)
}

func TestUpdateSyncStatsAccumulates(t *testing.T) {
	db := newIntegrationDB(t)
	integ := seedIntegrationRow(t, db)

	require.NoError(t, integ.UpdateSyncStats(db, 3, 0, "synced 3 leads"))
	assert.Equal(t, "success", integ.LastSyncStatus)

	require.NoError(t, integ.UpdateSyncStats(db, 0, 2, "provider rejected batch"))
	assert.Equal(t, "failed", integ.LastSyncStatus)

	require.NoError(t, integ.UpdateSyncStats(db, 1, 1, "partial batch"))
	assert.Equal(t, "partial", integ.LastSyncStatus)

	var stored Integration
	require.NoError(t, db.First(&stored, integ.ID).Error)
	assert.Equal(t, 7, stored.TotalSynced)
	assert.Equal(t, 4, stored.SyncSuccesses)
	assert.Equal(t, 3, stored.SyncFailures)
	assert.Equal(t, "partial batch", stored.LastSyncMessage)
	require.NotNil(t, stored.LastSyncAt)
	assert.WithinDuration(t, time.Now(), *stored.LastSyncAt, 5*time.Second)
}

func TestMaskedViewHidesSecrets(t *testing.T) {
	integ := &Integration{
		Provider:      "hubspot",
		Status:        IntegrationStatusActive,
		AccessToken:   "ciphertext-access",
		RefreshToken:  "ciphertext-refresh",
		WebhookSecret: "hook-secret",
		WebhookEvents: "contact.creation, contact.deletion",
	}

	view := integ.MaskedView()
	assert.Equal(t, true, view["hasAccessToken"])
	assert.Equal(t, true, view["hasRefreshToken"])
	assert.Equal(t, true, view["hasWebhookSecret"])
	assert.Equal(t, []string{"contact.creation", "contact.deletion"}, view["webhookEvents"])

	for key, value := range view {
		s, ok := value.(string)
		if !ok {
			continue
		}
		assert.NotContains(t, s, "ciphertext", "key %s leaks a token", key)
		assert.NotEqual(t, "hook-secret", s, "key %s leaks the webhook secret", key)
	}
}

func TestCustomFieldMappingsRoundTrip(t *testing.T) {
	integ := &Integration{}
	assert.Nil(t, integ.CustomFieldMappings())

	mappings := []CustomFieldMapping{
		{FormField: "budget", CRMField: "Annual_Budget", FieldType: "number"},
		{FormField: "mobile", CRMField: "Mobile", FieldType: "phone"},
	}
	require.NoError(t, integ.SetCustomFieldMappings(mappings))
	assert.Equal(t, mappings, integ.CustomFieldMappings())

	require.NoError(t, integ.SetCustomFieldMappings(nil))
	assert.Nil(t, integ.CustomFieldMappings())
}

func TestCustomFieldMappingsBadJSON(t *testing.T) {
	integ := &Integration{CustomFieldMapJSON: "{not json"}
	assert.Nil(t, integ.CustomFieldMappings())
}
