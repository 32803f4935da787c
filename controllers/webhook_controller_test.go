package controller

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"leadsync/config"
	"leadsync/crm"
	"leadsync/models"
)

func newWebhookTestApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	prev := config.AppConfig
	config.AppConfig.EncryptionKey = "0123456789abcdef0123456789abcdef"
	config.AppConfig.Providers = map[string]config.OAuthConfig{
		"hubspot": {ClientID: "test-client", ClientSecret: "app-client-secret"},
	}
	t.Cleanup(func() { config.AppConfig = prev })

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, config.MigrateDB(db))

	logger := log.New(io.Discard, "", 0)
	inbound := crm.NewInboundSync(db, crm.NewOAuthManager(crm.NewMemoryStateStore(), logger), crm.NewClient(time.Second), logger)
	wc := NewWebhookController(db, logger, inbound)

	app := fiber.New()
	app.Post("/webhooks/hubspot", wc.HandleHubSpotWebhook)
	return app, db
}

func seedWebhookIntegration(t *testing.T, db *gorm.DB, portalID, secret string) (*models.Company, *models.Integration) {
	t.Helper()
	company := &models.Company{Name: "Acme Inc", IsActive: true}
	require.NoError(t, db.Create(company).Error)

	integ := &models.Integration{
		CompanyID:      company.ID,
		Provider:       "hubspot",
		Status:         models.IntegrationStatusActive,
		PortalID:       portalID,
		WebhookEnabled: true,
		WebhookSecret:  secret,
	}
	require.NoError(t, db.Create(integ).Error)
	return company, integ
}

func seedLinkedLead(t *testing.T, db *gorm.DB, companyID uint, crmID string) *models.Lead {
	t.Helper()
	lead := &models.Lead{
		CompanyID:     companyID,
		Email:         "linked@crm.io",
		FirstName:     "Jane",
		CRMID:         &crmID,
		LeadOrigin:    models.LeadOriginCRM,
		CRMSyncStatus: models.CRMSyncStatusSynced,
	}
	require.NoError(t, db.Create(lead).Error)
	return lead
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, app *fiber.App, body []byte, signature string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/hubspot", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-HubSpot-Signature", signature)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestHubSpotWebhookDeletionUnlinksLead(t *testing.T) {
	app, db := newWebhookTestApp(t)
	company, _ := seedWebhookIntegration(t, db, "998877", "hook-secret")
	lead := seedLinkedLead(t, db, company.ID, "7001")

	body := []byte(`[{"subscriptionType":"contact.deletion","objectId":7001,"portalId":998877}]`)
	resp := postWebhook(t, app, body, signBody(body, "hook-secret"))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// The platform lead survives, only its CRM link is cleared
	var stored models.Lead
	require.NoError(t, db.First(&stored, lead.ID).Error)
	assert.Nil(t, stored.CRMID)
	assert.Equal(t, models.CRMSyncStatusNotSynced, stored.CRMSyncStatus)
	assert.Equal(t, "linked@crm.io", stored.Email)
}

func TestHubSpotWebhookRejectsBadSignature(t *testing.T) {
	app, db := newWebhookTestApp(t)
	company, _ := seedWebhookIntegration(t, db, "998877", "hook-secret")
	lead := seedLinkedLead(t, db, company.ID, "7001")

	body := []byte(`[{"subscriptionType":"contact.deletion","objectId":7001,"portalId":998877}]`)
	resp := postWebhook(t, app, body, signBody(body, "wrong-secret"))
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	// Nothing was processed
	var stored models.Lead
	require.NoError(t, db.First(&stored, lead.ID).Error)
	require.NotNil(t, stored.CRMID)
	assert.Equal(t, "7001", *stored.CRMID)
}

func TestHubSpotWebhookRejectsMissingSignature(t *testing.T) {
	app, db := newWebhookTestApp(t)
	seedWebhookIntegration(t, db, "998877", "hook-secret")

	body := []byte(`[{"subscriptionType":"contact.deletion","objectId":7001,"portalId":998877}]`)
	resp := postWebhook(t, app, body, "")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestHubSpotWebhookFallsBackToClientSecret(t *testing.T) {
	app, db := newWebhookTestApp(t)
	seedWebhookIntegration(t, db, "998877", "")

	body := []byte(`[{"subscriptionType":"contact.deletion","objectId":7001,"portalId":998877}]`)
	resp := postWebhook(t, app, body, signBody(body, "app-client-secret"))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestHubSpotWebhookUnknownPortal(t *testing.T) {
	app, db := newWebhookTestApp(t)
	seedWebhookIntegration(t, db, "998877", "hook-secret")

	body := []byte(`[{"subscriptionType":"contact.deletion","objectId":7001,"portalId":111111}]`)
	resp := postWebhook(t, app, body, signBody(body, "hook-secret"))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHubSpotWebhookDisabledIntegrationSkips(t *testing.T) {
	app, db := newWebhookTestApp(t)
	company, integ := seedWebhookIntegration(t, db, "998877", "hook-secret")
	require.NoError(t, db.Model(integ).Update("webhook_enabled", false).Error)
	lead := seedLinkedLead(t, db, company.ID, "7001")

	body := []byte(`[{"subscriptionType":"contact.deletion","objectId":7001,"portalId":998877}]`)
	resp := postWebhook(t, app, body, signBody(body, "hook-secret"))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Events are acknowledged but not applied
	var stored models.Lead
	require.NoError(t, db.First(&stored, lead.ID).Error)
	require.NotNil(t, stored.CRMID)
}

func TestHubSpotWebhookMalformedPayload(t *testing.T) {
	app, _ := newWebhookTestApp(t)

	body := []byte(`{not json`)
	resp := postWebhook(t, app, body, "irrelevant")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHubSpotWebhookIgnoresUnknownEventTypes(t *testing.T) {
	app, db := newWebhookTestApp(t)
	seedWebhookIntegration(t, db, "998877", "hook-secret")

	body := []byte(`[{"subscriptionType":"deal.creation","objectId":42,"portalId":998877}]`)
	resp := postWebhook(t, app, body, signBody(body, "hook-secret"))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
