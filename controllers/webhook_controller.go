package controller

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadsync/config"
	"leadsync/crm"
	"leadsync/models"
	"leadsync/utils"
)

type WebhookController struct {
	DB       *gorm.DB
	Logger   *log.Logger
	Inbound  *crm.InboundSync
	Resolver *crm.TenantResolver
}

func NewWebhookController(db *gorm.DB, logger *log.Logger, inbound *crm.InboundSync) *WebhookController {
	return &WebhookController{
		DB:       db,
		Logger:   logger,
		Inbound:  inbound,
		Resolver: crm.NewTenantResolver(db),
	}
}

// hubspotEvent is the shape HubSpot posts for each subscription event.
type hubspotEvent struct {
	SubscriptionType string `json:"subscriptionType"`
	ObjectID         int64  `json:"objectId"`
	PortalID         int64  `json:"portalId"`
	PropertyName     string `json:"propertyName"`
	OccurredAt       int64  `json:"occurredAt"`
}

// HandleHubSpotWebhook receives HubSpot contact events. The integration is
// located by portal id, then the request signature is verified against the
// integration's webhook secret before any event is processed.
func (wc *WebhookController) HandleHubSpotWebhook(c *fiber.Ctx) error {
	body := c.Body()

	var events []hubspotEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid webhook payload", err)
	}
	if len(events) == 0 {
		return c.JSON(utils.SuccessResponse(fiber.Map{"processed": 0}))
	}

	portalID := strconv.FormatInt(events[0].PortalID, 10)
	var integ models.Integration
	err := wc.DB.Where("provider = ? AND portal_id = ?", string(crm.ProviderHubSpot), portalID).First(&integ).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Unknown portal", nil)
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to resolve integration", err)
	}

	if !verifyHubSpotSignature(c.Get("X-HubSpot-Signature"), body, hubspotSigningSecret(&integ)) {
		wc.Logger.Printf("Rejected HubSpot webhook for portal %s: bad signature", portalID)
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid signature", nil)
	}

	if !integ.WebhookEnabled {
		return c.JSON(utils.SuccessResponse(fiber.Map{"processed": 0, "skipped": len(events)}))
	}

	tenant := wc.Resolver.Store(integ.CompanyID)
	processed, failed := 0, 0
	for _, event := range events {
		objectID := strconv.FormatInt(event.ObjectID, 10)
		switch event.SubscriptionType {
		case "contact.creation", "contact.propertyChange":
			if _, err := wc.Inbound.HandleContactChange(c.Context(), tenant, &integ, objectID); err != nil {
				wc.Logger.Printf("HubSpot webhook %s for contact %s failed: %v", event.SubscriptionType, objectID, err)
				failed++
				continue
			}
			processed++
		case "contact.deletion":
			if err := wc.Inbound.HandleContactDeletion(tenant, &integ, objectID); err != nil {
				wc.Logger.Printf("HubSpot webhook deletion for contact %s failed: %v", objectID, err)
				failed++
				continue
			}
			processed++
		default:
			// Unsubscribed event types are acknowledged but ignored
		}
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"processed": processed,
		"failed":    failed,
	}))
}

// hubspotSigningSecret picks the per-integration secret, falling back to the
// app client secret which is what HubSpot v1 signatures are keyed on.
func hubspotSigningSecret(integ *models.Integration) string {
	if integ.WebhookSecret != "" {
		return integ.WebhookSecret
	}
	return config.AppConfig.Providers[string(crm.ProviderHubSpot)].ClientSecret
}

// verifyHubSpotSignature checks the v1 scheme: hex SHA-256 HMAC of the raw
// request body. Comparison is constant time.
func verifyHubSpotSignature(signature string, body []byte, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
