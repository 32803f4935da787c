package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"leadsync/models"
	"leadsync/utils"
)

// EnsureFreshToken returns a usable access token for the integration,
// refreshing first when the stored expiry (already buffer-adjusted) has
// passed. Sync must never be attempted with a token known to be stale.
// A refresh failure flips the integration to status error (or expired on an
// invalid_grant) before returning.
func EnsureFreshToken(ctx context.Context, db *gorm.DB, oauth *OAuthManager, integ *models.Integration) (string, error) {
	access, err := utils.Decrypt(integ.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if access != "" && integ.TokenExpiresAt != nil && time.Now().Before(*integ.TokenExpiresAt) {
		return access, nil
	}

	refresh, err := utils.Decrypt(integ.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	if refresh == "" {
		markIntegrationError(db, integ, models.IntegrationStatusExpired)
		_ = integ.AppendError(db, "auth", "access token expired and no refresh token is stored", "no_refresh_token")
		return "", fmt.Errorf("integration %d has no refresh token", integ.ID)
	}

	result, err := oauth.RefreshAccessToken(ctx, Provider(integ.Provider), refresh)
	if err != nil {
		status := models.IntegrationStatusError
		if strings.Contains(err.Error(), "invalid_grant") {
			status = models.IntegrationStatusExpired
		}
		markIntegrationError(db, integ, status)
		_ = integ.AppendError(db, "auth", err.Error(), "refresh_failed")
		return "", err
	}

	if err := PersistTokens(db, integ, result); err != nil {
		return "", err
	}
	return result.AccessToken, nil
}

// PersistTokens encrypts and stores a token result on the integration,
// along with any provider connection details the token response carried.
func PersistTokens(db *gorm.DB, integ *models.Integration, result *TokenResult) error {
	encAccess, err := utils.Encrypt(result.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := utils.Encrypt(result.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	integ.AccessToken = encAccess
	integ.RefreshToken = encRefresh
	expiry := result.ExpiresAt
	integ.TokenExpiresAt = &expiry
	if result.Scope != "" {
		integ.Scope = result.Scope
	}
	if result.APIDomain != "" {
		integ.APIDomain = result.APIDomain
	}
	if result.InstanceURL != "" {
		integ.InstanceURL = result.InstanceURL
	}

	return db.Model(integ).Updates(map[string]interface{}{
		"access_token":     integ.AccessToken,
		"refresh_token":    integ.RefreshToken,
		"token_expires_at": integ.TokenExpiresAt,
		"scope":            integ.Scope,
		"api_domain":       integ.APIDomain,
		"instance_url":     integ.InstanceURL,
	}).Error
}

func markIntegrationError(db *gorm.DB, integ *models.Integration, status string) {
	integ.Status = status
	if err := db.Model(integ).Update("status", status).Error; err != nil {
		utils.LogError(err, "integration", map[string]interface{}{
			"integration_id": integ.ID,
			"status":         status,
		})
	}
}
