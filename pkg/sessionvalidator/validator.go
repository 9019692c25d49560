package sessionvalidator

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultCookieName matches the cookie the labcommons server sets.
	DefaultCookieName = "labcommons_session"
	bearerScheme      = "bearer"
)

var (
	ErrMissingSigningKey = errors.New("session.validator.missing_signing_key")
	ErrMissingIssuer     = errors.New("session.validator.missing_issuer")
	ErrMissingToken      = errors.New("session.validator.missing_token")
	ErrMissingCookie     = errors.New("session.validator.missing_cookie")
	ErrInvalidToken      = errors.New("session.validator.invalid_token")
	ErrInvalidIssuer     = errors.New("session.validator.invalid_issuer")
	ErrTokenExpired      = errors.New("session.validator.expired")
)

// Clock lets tests pin the validation instant.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// Config describes how tokens were minted. Clock and CookieName are optional.
type Config struct {
	SigningKey []byte
	Issuer     string
	CookieName string
	Clock      Clock
}

// Validator verifies HS256 access tokens from an Authorization header or the session cookie.
type Validator struct {
	cookieName string
	clock      Clock
	signingKey []byte
	parser     *jwt.Parser
}

func New(configuration Config) (*Validator, error) {
	switch {
	case len(configuration.SigningKey) == 0:
		return nil, fmt.Errorf("session.validator.new: %w", ErrMissingSigningKey)
	case strings.TrimSpace(configuration.Issuer) == "":
		return nil, fmt.Errorf("session.validator.new: %w", ErrMissingIssuer)
	}
	validator := &Validator{
		cookieName: strings.TrimSpace(configuration.CookieName),
		clock:      configuration.Clock,
		signingKey: configuration.SigningKey,
	}
	if validator.cookieName == "" {
		validator.cookieName = DefaultCookieName
	}
	if validator.clock == nil {
		validator.clock = wallClock{}
	}
	validator.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(configuration.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(validator.clock.Now),
	)
	return validator, nil
}

// ValidateToken parses tokenString and maps jwt failures onto the package sentinels.
func (validator *Validator) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrMissingToken)
	}
	claims := &Claims{}
	_, parseErr := validator.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return validator.signingKey, nil
	})
	switch {
	case parseErr == nil:
		return claims, nil
	case errors.Is(parseErr, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrTokenExpired)
	case errors.Is(parseErr, jwt.ErrTokenInvalidIssuer):
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrInvalidIssuer)
	default:
		return nil, fmt.Errorf("session.validator.validate_token: %w: %v", ErrInvalidToken, parseErr)
	}
}

// ValidateRequest checks the bearer token when one is sent and the session cookie otherwise.
// The console client authenticates with bearer tokens; the browser relies on the cookie.
func (validator *Validator) ValidateRequest(request *http.Request) (*Claims, error) {
	if request == nil {
		return nil, fmt.Errorf("session.validator.validate_request: %w", ErrMissingToken)
	}
	if token, found := BearerToken(request); found {
		return validator.ValidateToken(token)
	}
	cookie, cookieErr := request.Cookie(validator.cookieName)
	if cookieErr != nil || strings.TrimSpace(cookie.Value) == "" {
		return nil, fmt.Errorf("session.validator.validate_request: %w", ErrMissingCookie)
	}
	return validator.ValidateToken(cookie.Value)
}

// BearerToken returns the credential of an "Authorization: Bearer" header.
func BearerToken(request *http.Request) (string, bool) {
	scheme, credential, found := strings.Cut(strings.TrimSpace(request.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	credential = strings.TrimSpace(credential)
	return credential, credential != ""
}
