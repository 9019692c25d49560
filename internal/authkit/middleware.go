package authkit

import (
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/labcommons/pkg/sessionvalidator"
)

// NewSessionValidator builds the validator for tokens minted with configuration.
func NewSessionValidator(configuration ServerConfig, clock Clock) (*sessionvalidator.Validator, error) {
	return sessionvalidator.New(sessionvalidator.Config{
		SigningKey: configuration.SigningKey,
		Issuer:     configuration.Issuer,
		CookieName: configuration.SessionCookieName,
		Clock:      clock,
	})
}

// RequireSession validates the session cookie or bearer token and injects claims.
func (service *Service) RequireSession() gin.HandlerFunc {
	return service.validator.GinMiddleware(sessionvalidator.DefaultContextKey)
}

// RequireAdmin rejects sessions without the admin role. Chain it after RequireSession.
func (service *Service) RequireAdmin() gin.HandlerFunc {
	return sessionvalidator.RequireRole(RoleAdmin)
}
