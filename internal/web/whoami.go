package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/labcommons/internal/directory"
	"github.com/tyemirov/labcommons/pkg/sessionvalidator"
	"go.uber.org/zap"
)

// ProfileFinder loads the profile attached to a session.
type ProfileFinder interface {
	FindProfile(ctx context.Context, userID string) (directory.Profile, error)
}

// HandleWhoAmI reports the session claims and, when one exists, the caller's profile.
// A signed-in user without a profile row gets a null profile rather than an error.
func HandleWhoAmI(logger *zap.Logger, profiles ProfileFinder) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if profiles == nil {
		panic("profile finder is required")
	}

	return func(contextGin *gin.Context) {
		claims, found := sessionvalidator.ClaimsFromContext(contextGin)
		if !found || claims.GetUserID() == "" {
			logger.Warn("missing auth claims on context",
				zap.String("code", "api.me.missing_claims"))
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		var profilePayload *directory.Profile
		profile, profileErr := profiles.FindProfile(contextGin.Request.Context(), claims.GetUserID())
		switch {
		case profileErr == nil:
			profilePayload = &profile
		case errors.Is(profileErr, directory.ErrProfileNotFound):
			logger.Info("user profile missing",
				zap.String("code", "api.me.profile_missing"),
				zap.String("user_id", claims.GetUserID()))
		default:
			logger.Error("user profile lookup error",
				zap.String("code", "api.me.profile_error"),
				zap.String("user_id", claims.GetUserID()),
				zap.Error(profileErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		contextGin.JSON(http.StatusOK, gin.H{
			"user_id":    claims.GetUserID(),
			"user_email": claims.GetUserEmail(),
			"roles":      claims.GetUserRoles(),
			"expires":    claims.GetExpiresAt(),
			"profile":    profilePayload,
		})
	}
}
