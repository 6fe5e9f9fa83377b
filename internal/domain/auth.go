package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims — клеймы операторского токена для Console API.
// Токены выпускает внешний IdP, мы их только проверяем (RS256).
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "operator": true или "violations.clear": true
	jwt.RegisteredClaims
}
