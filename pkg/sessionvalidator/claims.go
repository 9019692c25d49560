// Package sessionvalidator checks labcommons access tokens on incoming requests.
// The server mints the tokens; handlers read the resulting Claims from the gin context.
package sessionvalidator

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of a labcommons access token.
type Claims struct {
	UserID    string   `json:"user_id"`
	UserEmail string   `json:"user_email"`
	UserRoles []string `json:"user_roles"`
	jwt.RegisteredClaims
}

// The getters are nil-safe so handlers can call them on a missing session.

func (claims *Claims) GetUserID() string {
	if claims == nil {
		return ""
	}
	return claims.UserID
}

func (claims *Claims) GetUserEmail() string {
	if claims == nil {
		return ""
	}
	return claims.UserEmail
}

func (claims *Claims) GetUserRoles() []string {
	if claims == nil {
		return nil
	}
	return claims.UserRoles
}

// HasRole reports whether role was granted when the token was minted.
func (claims *Claims) HasRole(role string) bool {
	return slices.Contains(claims.GetUserRoles(), role)
}

// GetExpiresAt is the zero time for tokens without an exp claim.
func (claims *Claims) GetExpiresAt() time.Time {
	if claims == nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
