package sessionvalidator

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// DefaultContextKey holds *Claims in the gin context.
const DefaultContextKey = "auth_claims"

// GinMiddleware validates the request and stores its claims under contextKey.
// Rejections carry a reason so clients can tell an expired token from a missing one.
func (validator *Validator) GinMiddleware(contextKey string) gin.HandlerFunc {
	if strings.TrimSpace(contextKey) == "" {
		contextKey = DefaultContextKey
	}
	return func(contextGin *gin.Context) {
		claims, err := validator.ValidateRequest(contextGin.Request)
		if err != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "reason": rejectionReason(err)})
			return
		}
		contextGin.Set(contextKey, claims)
		contextGin.Next()
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrMissingCookie), errors.Is(err, ErrMissingToken):
		return "missing"
	default:
		return "invalid"
	}
}

// ClaimsFromContext reads claims stored by GinMiddleware under DefaultContextKey.
func ClaimsFromContext(contextGin *gin.Context) (*Claims, bool) {
	claims, ok := contextGin.Value(DefaultContextKey).(*Claims)
	return claims, ok && claims != nil
}

// RequireRole answers 403 for sessions without role. Mount it after GinMiddleware("").
func RequireRole(role string) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		claims, found := ClaimsFromContext(contextGin)
		switch {
		case !found:
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "reason": "missing"})
		case !claims.HasRole(role):
			contextGin.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "role": role})
		default:
			contextGin.Next()
		}
	}
}
