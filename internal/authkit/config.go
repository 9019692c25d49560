package authkit

import (
	"net/http"
	"slices"
	"strings"
	"time"
)

// Roles assigned to accounts.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// ServerConfig configures issuers, cookies, TTLs, and account roles.
type ServerConfig struct {
	GoogleWebClientID string
	SigningKey        []byte
	Issuer            string
	CookieDomain      string
	SessionCookieName string
	RefreshCookieName string
	SessionTTL        time.Duration
	RefreshTTL        time.Duration
	NonceTTL          time.Duration
	SameSiteMode      http.SameSite
	AllowInsecureHTTP bool
	AdminEmails       []string
}

// GoogleSignInEnabled reports whether a Google client id is configured.
func (configuration ServerConfig) GoogleSignInEnabled() bool {
	return strings.TrimSpace(configuration.GoogleWebClientID) != ""
}

// RoleForEmail returns the role a newly created account receives.
func (configuration ServerConfig) RoleForEmail(email string) string {
	normalized := NormalizeEmail(email)
	if slices.ContainsFunc(configuration.AdminEmails, func(adminEmail string) bool {
		return NormalizeEmail(adminEmail) == normalized
	}) {
		return RoleAdmin
	}
	return RoleMember
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
