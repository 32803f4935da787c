package controller

import (
	"errors"
	"fmt"
	"log"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadsync/config"
	"leadsync/crm"
	"leadsync/models"
	"leadsync/utils"
)

type IntegrationController struct {
	DB       *gorm.DB
	Logger   *log.Logger
	OAuth    *crm.OAuthManager
	Outbound *crm.OutboundSync
	Inbound  *crm.InboundSync
	Resolver *crm.TenantResolver
	Client   *crm.Client
}

func NewIntegrationController(db *gorm.DB, logger *log.Logger, oauth *crm.OAuthManager, outbound *crm.OutboundSync, inbound *crm.InboundSync, client *crm.Client) *IntegrationController {
	return &IntegrationController{
		DB:       db,
		Logger:   logger,
		OAuth:    oauth,
		Outbound: outbound,
		Inbound:  inbound,
		Resolver: crm.NewTenantResolver(db),
		Client:   client,
	}
}

// InitOAuth starts the authorization flow for a provider and returns the
// URL the user must visit plus the issued state token.
func (ic *IntegrationController) InitOAuth(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)

	provider := crm.Provider(c.Query("provider"))
	if !provider.IsSupported() {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unsupported CRM provider", nil)
	}

	result, err := ic.OAuth.GenerateAuthURL(c.Context(), provider, company.ID)
	if err != nil {
		if errors.Is(err, crm.ErrProviderNotConfigured) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Provider is not configured", err)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to start authorization", err)
	}

	return c.JSON(utils.SuccessResponse(result))
}

// OAuthCallback completes the authorization flow. It has no JWT: the
// browser arrives here straight from the provider, so the company comes
// from the consumed state token. The user ends up redirected to the
// frontend with the outcome in query parameters.
func (ic *IntegrationController) OAuthCallback(c *fiber.Ctx) error {
	provider := crm.Provider(c.Params("provider"))

	if errParam := c.Query("error"); errParam != "" {
		return ic.redirectWithError(c, provider, errParam)
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		return ic.redirectWithError(c, provider, "missing code or state")
	}

	entry, token, err := ic.OAuth.ExchangeCodeForToken(c.Context(), provider, code, state)
	if err != nil {
		ic.Logger.Printf("OAuth callback for %s failed: %v", provider, err)
		return ic.redirectWithError(c, provider, err.Error())
	}

	integ, err := ic.upsertIntegration(entry.CompanyID, provider, token)
	if err != nil {
		utils.LogError(err, "oauth", map[string]interface{}{
			"company_id": entry.CompanyID,
			"provider":   string(provider),
		})
		return ic.redirectWithError(c, provider, "failed to store integration")
	}

	// Connection test gates the active status
	adapter, err := crm.AdapterFor(crm.SessionFor(integ, token.AccessToken), ic.Client)
	if err == nil {
		var user *crm.CurrentUser
		user, err = adapter.GetCurrentUser(c.Context())
		if err == nil && provider == crm.ProviderHubSpot {
			integ.PortalID = user.ID
		}
	}
	if err != nil {
		integ.Status = models.IntegrationStatusError
		ic.DB.Model(integ).Updates(map[string]interface{}{"status": integ.Status, "portal_id": integ.PortalID})
		_ = integ.AppendError(ic.DB, "config", err.Error(), "connection_test_failed")
		return ic.redirectWithError(c, provider, "connection test failed")
	}

	integ.Status = models.IntegrationStatusActive
	if err := ic.DB.Model(integ).Updates(map[string]interface{}{"status": integ.Status, "portal_id": integ.PortalID}).Error; err != nil {
		return ic.redirectWithError(c, provider, "failed to activate integration")
	}

	utils.LogEvent("crm_connected", map[string]interface{}{
		"company_id": entry.CompanyID,
		"provider":   string(provider),
	})
	redirect := fmt.Sprintf("%s/integrations?status=connected&provider=%s",
		config.AppConfig.FrontendURL, url.QueryEscape(string(provider)))
	return c.Redirect(redirect, fiber.StatusFound)
}

func (ic *IntegrationController) redirectWithError(c *fiber.Ctx, provider crm.Provider, message string) error {
	redirect := fmt.Sprintf("%s/integrations?status=error&provider=%s&message=%s",
		config.AppConfig.FrontendURL, url.QueryEscape(string(provider)), url.QueryEscape(message))
	return c.Redirect(redirect, fiber.StatusFound)
}

// upsertIntegration creates or refreshes the single integration row for
// the (company, provider) pair and persists the new tokens.
func (ic *IntegrationController) upsertIntegration(companyID uint, provider crm.Provider, token *crm.TokenResult) (*models.Integration, error) {
	var integ models.Integration
	err := ic.DB.Where("company_id = ? AND provider = ?", companyID, string(provider)).First(&integ).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		secret, err := utils.GenerateSecureToken(24)
		if err != nil {
			return nil, err
		}
		integ = models.Integration{
			CompanyID:     companyID,
			Provider:      string(provider),
			Status:        models.IntegrationStatusInactive,
			WebhookSecret: secret,
			WebhookEvents: "contact.creation,contact.propertyChange,contact.deletion",
		}
		if provider == crm.ProviderDynamics {
			integ.Resource = config.AppConfig.DynamicsResource
		}
		if err := ic.DB.Create(&integ).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if err := crm.PersistTokens(ic.DB, &integ, token); err != nil {
		return nil, err
	}
	return &integ, nil
}

// GetIntegration returns the masked integration for the company. Tokens are
// never exposed, only presence booleans.
func (ic *IntegrationController) GetIntegration(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)

	var integ models.Integration
	err := ic.DB.Where("company_id = ?", company.ID).First(&integ).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "No CRM integration connected", nil)
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load integration", err)
	}
	return c.JSON(utils.SuccessResponse(integ.MaskedView()))
}

// SyncLeads pushes the requested leads to the connected CRM and returns a
// summary. Partial failures never produce a hard error.
func (ic *IntegrationController) SyncLeads(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)

	var input struct {
		LeadIDs []uint `json:"leadIds" validate:"required,min=1"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	integ, err := ic.Outbound.ActiveIntegration(company.ID)
	if err != nil {
		if errors.Is(err, crm.ErrNoActiveIntegration) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "No active CRM integration", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load integration", err)
	}

	tenant := ic.Resolver.Store(company.ID)
	result, err := ic.Outbound.SyncLeadsToCRM(c.Context(), tenant, input.LeadIDs, integ)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Sync failed", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"successful": result.Successful,
		"failed":     result.Failed,
		"total":      len(input.LeadIDs),
	}))
}

// SyncStatus reports integration presence and aggregate lead sync counters.
func (ic *IntegrationController) SyncStatus(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)

	var integ models.Integration
	err := ic.DB.Where("company_id = ?", company.ID).First(&integ).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.JSON(utils.SuccessResponse(fiber.Map{"hasIntegration": false}))
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load integration", err)
	}

	var total, synced, pending, failed int64
	leads := func() *gorm.DB {
		return ic.DB.Model(&models.Lead{}).Where("company_id = ?", company.ID)
	}
	leads().Count(&total)
	leads().Where("crm_sync_status = ?", models.CRMSyncStatusSynced).Count(&synced)
	leads().Where("crm_sync_status = ?", models.CRMSyncStatusPending).Count(&pending)
	leads().Where("crm_sync_status = ?", models.CRMSyncStatusFailed).Count(&failed)

	percentage := 0.0
	if total > 0 {
		percentage = float64(synced) / float64(total) * 100
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"hasIntegration": true,
		"provider":       integ.Provider,
		"status":         integ.Status,
		"stats": fiber.Map{
			"totalLeads":     total,
			"syncedLeads":    synced,
			"pendingLeads":   pending,
			"failedLeads":    failed,
			"syncPercentage": percentage,
		},
	}))
}

// RetryFailed resubmits every lead whose last outbound sync failed.
func (ic *IntegrationController) RetryFailed(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)

	result, err := ic.Outbound.RetryFailedSyncs(c.Context(), company.ID)
	if err != nil {
		if errors.Is(err, crm.ErrNoActiveIntegration) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "No active CRM integration", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Retry failed", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"successful": result.Successful,
		"failed":     result.Failed,
	}))
}

// PullFromCRM triggers one inbound poll cycle on demand.
func (ic *IntegrationController) PullFromCRM(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)

	integ, err := ic.Outbound.ActiveIntegration(company.ID)
	if err != nil {
		if errors.Is(err, crm.ErrNoActiveIntegration) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "No active CRM integration", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load integration", err)
	}

	tenant := ic.Resolver.Store(company.ID)
	result, err := ic.Inbound.SyncFromCRM(c.Context(), tenant, integ)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Inbound sync failed", err)
	}
	return c.JSON(utils.SuccessResponse(result))
}

// UpdateSettings changes the sync configuration of the integration.
func (ic *IntegrationController) UpdateSettings(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)

	var input struct {
		AutoSyncEnabled     *bool                       `json:"auto_sync_enabled"`
		SyncInterval        *int                        `json:"sync_interval" validate:"omitempty,min=5,max=1440"`
		SyncDirection       *string                     `json:"sync_direction" validate:"omitempty,oneof=to_crm from_crm bidirectional"`
		CustomFieldMappings []models.CustomFieldMapping `json:"custom_field_mappings"`
		NotifyOnError       *bool                       `json:"notify_on_error"`
		NotifyOnSync        *bool                       `json:"notify_on_sync"`
		WebhookEnabled      *bool                       `json:"webhook_enabled"`
		WebhookEvents       *string                     `json:"webhook_events"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var integ models.Integration
	if err := ic.DB.Where("company_id = ?", company.ID).First(&integ).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "No CRM integration connected", nil)
	}

	if input.AutoSyncEnabled != nil {
		integ.AutoSyncEnabled = *input.AutoSyncEnabled
	}
	if input.SyncInterval != nil {
		integ.SyncInterval = *input.SyncInterval
	}
	if input.SyncDirection != nil {
		integ.SyncDirection = *input.SyncDirection
	}
	if input.CustomFieldMappings != nil {
		if err := integ.SetCustomFieldMappings(input.CustomFieldMappings); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid custom field mappings", err)
		}
	}
	if input.NotifyOnError != nil {
		integ.NotifyOnError = *input.NotifyOnError
	}
	if input.NotifyOnSync != nil {
		integ.NotifyOnSync = *input.NotifyOnSync
	}
	if input.WebhookEnabled != nil {
		integ.WebhookEnabled = *input.WebhookEnabled
	}
	if input.WebhookEvents != nil {
		integ.WebhookEvents = *input.WebhookEvents
	}

	if err := ic.DB.Save(&integ).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update settings", err)
	}
	return c.JSON(utils.SuccessResponse(integ.MaskedView()))
}

// TestConnection re-runs the connection test; a success flips an errored
// integration back to active.
func (ic *IntegrationController) TestConnection(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)

	var integ models.Integration
	if err := ic.DB.Where("company_id = ?", company.ID).First(&integ).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "No CRM integration connected", nil)
	}

	token, err := crm.EnsureFreshToken(c.Context(), ic.DB, ic.OAuth, &integ)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Token refresh failed", err)
	}

	adapter, err := crm.AdapterFor(crm.SessionFor(&integ, token), ic.Client)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to build adapter", err)
	}
	user, err := adapter.GetCurrentUser(c.Context())
	if err != nil {
		integ.Status = models.IntegrationStatusError
		ic.DB.Model(&integ).Update("status", integ.Status)
		_ = integ.AppendError(ic.DB, "config", err.Error(), "connection_test_failed")
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Connection test failed", err)
	}

	integ.Status = models.IntegrationStatusActive
	if err := ic.DB.Model(&integ).Update("status", integ.Status).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to activate integration", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"status":      integ.Status,
		"currentUser": user,
	}))
}

// Disconnect removes the integration. Token revocation is best-effort:
// disconnect always succeeds locally even when the provider is unreachable.
func (ic *IntegrationController) Disconnect(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)

	var integ models.Integration
	err := ic.DB.Where("company_id = ?", company.ID).First(&integ).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "No CRM integration connected", nil)
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load integration", err)
	}

	if token, decErr := utils.Decrypt(integ.AccessToken); decErr == nil && token != "" {
		ic.OAuth.RevokeToken(c.Context(), crm.Provider(integ.Provider), token)
	}

	if err := ic.DB.Where("integration_id = ?", integ.ID).Delete(&models.IntegrationError{}).Error; err != nil {
		ic.Logger.Printf("Failed to clear error log for integration %d: %v", integ.ID, err)
	}
	if err := ic.DB.Delete(&integ).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to disconnect", err)
	}

	utils.LogEvent("crm_disconnected", map[string]interface{}{
		"company_id": company.ID,
		"provider":   integ.Provider,
	})
	return c.JSON(utils.SuccessResponse(fiber.Map{"disconnected": true}))
}

// ListErrors returns the bounded error log, newest first.
func (ic *IntegrationController) ListErrors(c *fiber.Ctx) error {
	company := c.Locals("company").(*models.Company)

	var integ models.Integration
	if err := ic.DB.Where("company_id = ?", company.ID).First(&integ).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "No CRM integration connected", nil)
	}

	var entries []models.IntegrationError
	if err := ic.DB.Where("integration_id = ?", integ.ID).
		Order("created_at desc").
		Limit(50).
		Find(&entries).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load error log", err)
	}
	return c.JSON(utils.SuccessResponse(entries))
}
