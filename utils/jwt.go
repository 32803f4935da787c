package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"leadsync/config"
	"leadsync/models"
)

type Claims struct {
	CompanyID uint `json:"company_id"`
	jwt.RegisteredClaims
}

// GenerateAPIToken issues a signed token scoping API calls to one company.
// Platform user authentication lives outside this service; the token is the
// interface boundary.
func GenerateAPIToken(company *models.Company, ttl time.Duration) (string, error) {
	claims := &Claims{
		CompanyID: company.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.EncryptionKey))
}

func ParseJWTToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(config.AppConfig.EncryptionKey), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
