package authkit

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/labcommons/pkg/sessionvalidator"
	"go.uber.org/zap"
)

var (
	errMissingAccountStore    = errors.New("authkit.missing_account_store")
	errMissingRefreshStore    = errors.New("authkit.missing_refresh_store")
	errMissingNonceStore      = errors.New("authkit.missing_nonce_store")
	errMissingGoogleValidator = errors.New("authkit.missing_google_validator")
)

// ServiceDependencies wires the collaborators of the auth routes.
// Nonces and GoogleValidator are required only when Google sign-in is enabled.
type ServiceDependencies struct {
	Config          ServerConfig
	Accounts        AccountStore
	RefreshTokens   RefreshTokenStore
	Nonces          NonceStore
	GoogleValidator GoogleTokenValidator
	Clock           Clock
	Logger          *zap.Logger
	Metrics         MetricsRecorder
}

// Service serves the /auth routes and validates the sessions it mints.
type Service struct {
	config        ServerConfig
	accounts      AccountStore
	refreshTokens RefreshTokenStore
	nonces        NonceStore
	google        GoogleTokenValidator
	clock         Clock
	logger        *zap.Logger
	metrics       MetricsRecorder
	validator     *sessionvalidator.Validator
}

// SessionUser is the identity section of a session payload.
type SessionUser struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// SessionPayload is returned by every endpoint that establishes or reports a session.
type SessionPayload struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time   `json:"expires_at"`
	User         SessionUser `json:"user"`
}

// NewService validates dependencies and constructs the auth service.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	if dependencies.Accounts == nil {
		return nil, fmt.Errorf("authkit.new_service: %w", errMissingAccountStore)
	}
	if dependencies.RefreshTokens == nil {
		return nil, fmt.Errorf("authkit.new_service: %w", errMissingRefreshStore)
	}
	if dependencies.Config.GoogleSignInEnabled() {
		if dependencies.Nonces == nil {
			return nil, fmt.Errorf("authkit.new_service: %w", errMissingNonceStore)
		}
		if dependencies.GoogleValidator == nil {
			return nil, fmt.Errorf("authkit.new_service: %w", errMissingGoogleValidator)
		}
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := dependencies.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	validator, validatorErr := NewSessionValidator(dependencies.Config, clock)
	if validatorErr != nil {
		return nil, fmt.Errorf("authkit.new_service: %w", validatorErr)
	}
	return &Service{
		config:        dependencies.Config,
		accounts:      dependencies.Accounts,
		refreshTokens: dependencies.RefreshTokens,
		nonces:        dependencies.Nonces,
		google:        dependencies.GoogleValidator,
		clock:         clock,
		logger:        logger,
		metrics:       metrics,
		validator:     validator,
	}, nil
}

// Validator exposes the session validator used by protected routes.
func (service *Service) Validator() *sessionvalidator.Validator {
	return service.validator
}

// Mount registers the /auth routes.
func (service *Service) Mount(router gin.IRouter) {
	router.POST("/auth/signup", service.handleSignUp)
	router.POST("/auth/password", service.handlePasswordSignIn)
	router.POST("/auth/refresh", service.handleRefresh)
	router.POST("/auth/logout", service.handleLogout)
	router.GET("/auth/session", service.handleSession)
	if service.config.GoogleSignInEnabled() {
		router.POST("/auth/nonce", service.handleNonce)
		router.POST("/auth/google", service.handleGoogleSignIn)
	}
}

func (service *Service) handleSignUp(contextGin *gin.Context) {
	var request signUpRequest
	if err := contextGin.ShouldBindJSON(&request); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	request.Email = NormalizeEmail(request.Email)
	request.Username = strings.TrimSpace(request.Username)
	if err := request.Validate(); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "validation": err})
		return
	}
	if !service.requireSecureTransport(contextGin) {
		return
	}

	passwordHash, hashErr := HashPassword(request.Password)
	if hashErr != nil {
		service.logger.Error("password hashing failed", zap.String("code", "auth.signup.hash_failed"), zap.Error(hashErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	account, createErr := service.accounts.CreateAccount(contextGin.Request.Context(), Registration{
		Email:        request.Email,
		PasswordHash: passwordHash,
		FullName:     strings.TrimSpace(request.FullName),
		Username:     request.Username,
		Institution:  strings.TrimSpace(request.Institution),
		Role:         service.config.RoleForEmail(request.Email),
	})
	if createErr != nil {
		service.metrics.Increment(metricSignUpFailure)
		if errors.Is(createErr, ErrAccountExists) {
			contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "account_exists"})
			return
		}
		service.logger.Error("account creation failed", zap.String("code", "auth.signup.create_failed"), zap.Error(createErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	payload, issueErr := service.issueSession(contextGin, account, "")
	if issueErr != nil {
		service.logger.Error("session issue failed", zap.String("code", "auth.signup.session_failed"), zap.Error(issueErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	service.metrics.Increment(metricSignUpSuccess)
	service.logger.Info("account created", zap.String("code", "auth.signup.success"), zap.String("user_id", account.UserID))
	contextGin.JSON(http.StatusCreated, payload)
}

func (service *Service) handlePasswordSignIn(contextGin *gin.Context) {
	var request passwordSignInRequest
	if err := contextGin.ShouldBindJSON(&request); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	request.Email = NormalizeEmail(request.Email)
	if err := request.Validate(); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "validation": err})
		return
	}
	if !service.requireSecureTransport(contextGin) {
		return
	}

	account, passwordHash, findErr := service.accounts.FindAccountByEmail(contextGin.Request.Context(), request.Email)
	if findErr != nil && !errors.Is(findErr, ErrAccountNotFound) {
		service.logger.Error("account lookup failed", zap.String("code", "auth.password.lookup_failed"), zap.Error(findErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	verifyErr := ErrInvalidCredentials
	if findErr == nil {
		verifyErr = VerifyPassword(passwordHash, request.Password)
	}
	if verifyErr != nil {
		service.metrics.Increment(metricPasswordFailure)
		if !errors.Is(verifyErr, ErrInvalidCredentials) {
			service.logger.Error("password verification failed", zap.String("code", "auth.password.verify_failed"), zap.Error(verifyErr))
		}
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}

	payload, issueErr := service.issueSession(contextGin, account, "")
	if issueErr != nil {
		service.logger.Error("session issue failed", zap.String("code", "auth.password.session_failed"), zap.Error(issueErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	service.metrics.Increment(metricPasswordSuccess)
	contextGin.JSON(http.StatusOK, payload)
}

func (service *Service) handleNonce(contextGin *gin.Context) {
	nonce, err := service.nonces.Issue(contextGin.Request.Context())
	if err != nil {
		service.logger.Error("nonce issue failed", zap.String("code", "auth.nonce.issue_failed"), zap.Error(err))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"nonce": nonce})
}

func (service *Service) handleGoogleSignIn(contextGin *gin.Context) {
	var request googleSignInRequest
	if err := contextGin.ShouldBindJSON(&request); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	if err := request.Validate(); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "validation": err})
		return
	}
	if !service.requireSecureTransport(contextGin) {
		return
	}
	requestContext := contextGin.Request.Context()

	if err := service.nonces.Consume(requestContext, request.Nonce); err != nil {
		service.metrics.Increment(metricGoogleFailure)
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_nonce"})
		return
	}
	payload, validateErr := service.google.Validate(requestContext, request.GoogleIDToken, service.config.GoogleWebClientID)
	if validateErr != nil {
		service.metrics.Increment(metricGoogleFailure)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_google_token"})
		return
	}
	identity, identityErr := googleIdentityFromPayload(payload, request.Nonce)
	if identityErr != nil {
		service.metrics.Increment(metricGoogleFailure)
		service.logger.Warn("google identity rejected", zap.String("code", "auth.google.identity_rejected"), zap.Error(identityErr))
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": strings.TrimPrefix(identityErr.Error(), "google.")})
		return
	}

	account, upsertErr := service.accounts.UpsertGoogleAccount(requestContext, identity, service.config.RoleForEmail(identity.Email))
	if upsertErr != nil {
		service.logger.Error("google account upsert failed", zap.String("code", "auth.google.upsert_failed"), zap.Error(upsertErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	sessionPayload, issueErr := service.issueSession(contextGin, account, "")
	if issueErr != nil {
		service.logger.Error("session issue failed", zap.String("code", "auth.google.session_failed"), zap.Error(issueErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	service.metrics.Increment(metricGoogleSuccess)
	contextGin.JSON(http.StatusOK, sessionPayload)
}

func (service *Service) handleRefresh(contextGin *gin.Context) {
	requestContext := contextGin.Request.Context()
	refreshOpaque := service.refreshTokenFromRequest(contextGin)
	if refreshOpaque == "" {
		service.metrics.Increment(metricRefreshFailure)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_refresh_token"})
		return
	}

	applicationUserID, currentTokenID, _, validateErr := service.refreshTokens.Validate(requestContext, refreshOpaque)
	if validateErr != nil {
		service.metrics.Increment(metricRefreshFailure)
		service.logger.Info("refresh token rejected", zap.String("code", "auth.refresh.rejected"), zap.Error(validateErr))
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_refresh_token"})
		return
	}
	account, findErr := service.accounts.FindAccount(requestContext, applicationUserID)
	if findErr != nil {
		service.metrics.Increment(metricRefreshFailure)
		if errors.Is(findErr, ErrAccountNotFound) {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown_account"})
			return
		}
		service.logger.Error("account lookup failed", zap.String("code", "auth.refresh.lookup_failed"), zap.Error(findErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	payload, issueErr := service.issueSession(contextGin, account, currentTokenID)
	if issueErr != nil {
		service.logger.Error("session issue failed", zap.String("code", "auth.refresh.session_failed"), zap.Error(issueErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if revokeErr := service.refreshTokens.Revoke(requestContext, currentTokenID); revokeErr != nil {
		service.logger.Error("refresh token revoke failed", zap.String("code", "auth.refresh.revoke_failed"), zap.Error(revokeErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	service.metrics.Increment(metricRefreshSuccess)
	contextGin.JSON(http.StatusOK, payload)
}

func (service *Service) handleLogout(contextGin *gin.Context) {
	requestContext := contextGin.Request.Context()
	if refreshOpaque := service.refreshTokenFromRequest(contextGin); refreshOpaque != "" {
		_, tokenID, _, validateErr := service.refreshTokens.Validate(requestContext, refreshOpaque)
		if validateErr == nil && tokenID != "" {
			if revokeErr := service.refreshTokens.Revoke(requestContext, tokenID); revokeErr != nil {
				service.logger.Warn("refresh token revoke failed", zap.String("code", "auth.logout.revoke_failed"), zap.Error(revokeErr))
			}
		}
	}
	service.clearCookie(contextGin, service.config.SessionCookieName, "/")
	service.clearCookie(contextGin, service.config.RefreshCookieName, "/auth")
	service.metrics.Increment(metricLogout)
	contextGin.Status(http.StatusNoContent)
}

func (service *Service) handleSession(contextGin *gin.Context) {
	claims, validateErr := service.validator.ValidateRequest(contextGin.Request)
	if validateErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no_session"})
		return
	}
	accessToken, found := sessionvalidator.BearerToken(contextGin.Request)
	if !found {
		if sessionCookie, cookieErr := contextGin.Request.Cookie(service.config.SessionCookieName); cookieErr == nil {
			accessToken = sessionCookie.Value
		}
	}
	contextGin.JSON(http.StatusOK, SessionPayload{
		AccessToken: accessToken,
		ExpiresAt:   claims.GetExpiresAt(),
		User: SessionUser{
			ID:    claims.GetUserID(),
			Email: claims.GetUserEmail(),
			Roles: slices.Clone(claims.GetUserRoles()),
		},
	})
}

// issueSession mints an access token and a rotated refresh token and sets both cookies.
func (service *Service) issueSession(contextGin *gin.Context, account Account, previousTokenID string) (SessionPayload, error) {
	sessionToken, sessionExpiresAt, mintErr := MintSessionToken(service.clock, account, service.config.Issuer, service.config.SigningKey, service.config.SessionTTL)
	if mintErr != nil {
		return SessionPayload{}, mintErr
	}
	refreshExpiresAt := service.clock.Now().UTC().Add(service.config.RefreshTTL)
	_, refreshOpaque, issueErr := service.refreshTokens.Issue(contextGin.Request.Context(), account.UserID, refreshExpiresAt.Unix(), previousTokenID)
	if issueErr != nil {
		return SessionPayload{}, issueErr
	}
	service.writeCookie(contextGin, service.config.SessionCookieName, sessionToken, "/", sessionExpiresAt)
	service.writeCookie(contextGin, service.config.RefreshCookieName, refreshOpaque, "/auth", refreshExpiresAt)
	return SessionPayload{
		AccessToken:  sessionToken,
		RefreshToken: refreshOpaque,
		ExpiresAt:    sessionExpiresAt,
		User: SessionUser{
			ID:    account.UserID,
			Email: account.Email,
			Roles: slices.Clone(account.Roles),
		},
	}, nil
}

func (service *Service) refreshTokenFromRequest(contextGin *gin.Context) string {
	if refreshCookie, cookieErr := contextGin.Request.Cookie(service.config.RefreshCookieName); cookieErr == nil && strings.TrimSpace(refreshCookie.Value) != "" {
		return refreshCookie.Value
	}
	if contextGin.Request.ContentLength == 0 {
		return ""
	}
	var request refreshRequest
	if err := contextGin.ShouldBindJSON(&request); err != nil {
		return ""
	}
	return strings.TrimSpace(request.RefreshToken)
}

func (service *Service) requireSecureTransport(contextGin *gin.Context) bool {
	if service.config.AllowInsecureHTTP || isHTTPS(contextGin.Request) {
		return true
	}
	contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "https_required"})
	return false
}

func (service *Service) writeCookie(contextGin *gin.Context, name string, value string, path string, expiresAt time.Time) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   service.config.CookieDomain,
		Expires:  expiresAt,
		Secure:   !service.config.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: service.config.SameSiteMode,
	})
}

func (service *Service) clearCookie(contextGin *gin.Context, name string, path string) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   service.config.CookieDomain,
		MaxAge:   -1,
		Secure:   !service.config.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: service.config.SameSiteMode,
	})
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	if strings.EqualFold(request.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	forwarded := request.Header.Get("Forwarded")
	if forwarded != "" && strings.Contains(strings.ToLower(forwarded), "proto=https") {
		return true
	}
	host, _, splitErr := net.SplitHostPort(request.Host)
	return splitErr == nil && host == "localhost"
}
