package crm

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"leadsync/config"
	"leadsync/models"
	"leadsync/utils"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, config.MigrateDB(db))
	return db
}

func useTestConfig(t *testing.T) {
	t.Helper()
	prev := config.AppConfig
	config.AppConfig.EncryptionKey = testEncryptionKey
	config.AppConfig.Providers = map[string]config.OAuthConfig{
		"zoho":    {ClientID: "test-client", ClientSecret: "test-secret", RedirectURI: "http://localhost:5000/oauth/callback/zoho"},
		"hubspot": {ClientID: "test-client", ClientSecret: "test-secret", RedirectURI: "http://localhost:5000/oauth/callback/hubspot"},
	}
	t.Cleanup(func() { config.AppConfig = prev })
}

func seedCompany(t *testing.T, db *gorm.DB) *models.Company {
	t.Helper()
	company := &models.Company{Name: "Acme Inc", IsActive: true}
	require.NoError(t, db.Create(company).Error)
	return company
}

// seedIntegration stores an active integration with encrypted tokens and a
// still-valid expiry, so sync paths do not hit the refresh flow.
func seedIntegration(t *testing.T, db *gorm.DB, companyID uint, provider Provider) *models.Integration {
	t.Helper()
	access, err := utils.Encrypt("access-token")
	require.NoError(t, err)
	refresh, err := utils.Encrypt("refresh-token")
	require.NoError(t, err)

	expiry := time.Now().Add(time.Hour)
	integ := &models.Integration{
		CompanyID:       companyID,
		Provider:        string(provider),
		Status:          models.IntegrationStatusActive,
		AccessToken:     access,
		RefreshToken:    refresh,
		TokenExpiresAt:  &expiry,
		AutoSyncEnabled: true,
		SyncDirection:   models.SyncDirectionBidirectional,
	}
	require.NoError(t, db.Create(integ).Error)
	return integ
}

// fakeAdapter is an in-memory Adapter (and LeadFetcher) used to exercise the
// sync paths without a provider.
type fakeAdapter struct {
	provider   Provider
	nextID     int
	created    map[string]map[string]interface{}
	updated    map[string]map[string]interface{}
	records    []Record
	modifiedAt map[string]time.Time // when set, GetLeads honors opts.UpdatedSince
	failCreate func(fields map[string]interface{}) error
}

func newFakeAdapter(p Provider) *fakeAdapter {
	return &fakeAdapter{
		provider: p,
		created:  make(map[string]map[string]interface{}),
		updated:  make(map[string]map[string]interface{}),
	}
}

// factory returns an AdapterFactory that always yields this fake, so tests
// can wire it into OutboundSync and InboundSync.
func (f *fakeAdapter) factory() AdapterFactory {
	return func(Session, *Client) (Adapter, error) { return f, nil }
}

func (f *fakeAdapter) Provider() Provider { return f.provider }

func (f *fakeAdapter) GetCurrentUser(context.Context) (*CurrentUser, error) {
	return &CurrentUser{ID: "user-1", Name: "Test User", Email: "owner@example.com"}, nil
}

func (f *fakeAdapter) CreateLead(_ context.Context, fields map[string]interface{}) (string, error) {
	if f.failCreate != nil {
		if err := f.failCreate(fields); err != nil {
			return "", err
		}
	}
	f.nextID++
	id := fmt.Sprintf("crm-%d", f.nextID)
	f.created[id] = fields
	return id, nil
}

func (f *fakeAdapter) GetLeads(_ context.Context, opts GetLeadsOptions) ([]Record, error) {
	if opts.UpdatedSince.IsZero() || f.modifiedAt == nil {
		return f.records, nil
	}
	var out []Record
	for _, rec := range f.records {
		if mod, ok := f.modifiedAt[rec.ID]; ok && mod.Before(opts.UpdatedSince) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeAdapter) GetLead(_ context.Context, id string) (*Record, error) {
	for i := range f.records {
		if f.records[i].ID == id {
			return &f.records[i], nil
		}
	}
	return nil, fmt.Errorf("record %s not found", id)
}

func (f *fakeAdapter) UpdateLead(_ context.Context, id string, fields map[string]interface{}) error {
	f.updated[id] = fields
	return nil
}
