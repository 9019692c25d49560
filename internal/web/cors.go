// Package web holds the HTTP helpers mounted next to the API routes.
package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const corsPreflightMaxAge = 12 * time.Hour

var (
	errWildcardOrigin      = errors.New("web.cors.wildcard_origin")
	errEmptyAllowedOrigins = errors.New("web.cors.no_origins")
	errInvalidOrigin       = errors.New("web.cors.invalid_origin")
)

// API verbs and headers the browser front end and labcommons-cli send.
var (
	corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions}
	corsHeaders = []string{"Authorization", "Content-Type", "Accept", "X-Client"}
)

// ConfigureCORS returns a credentialed CORS middleware for the listed origins.
func ConfigureCORS(logger *zap.Logger, origins []string) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed, err := allowedOrigins(logger, origins)
	if err != nil {
		return nil, err
	}
	logger.Info("cors enabled", zap.String("code", "web.cors.enabled"), zap.Strings("origins", allowed))
	return cors.New(cors.Config{
		AllowOrigins:     allowed,
		AllowMethods:     corsMethods,
		AllowHeaders:     corsHeaders,
		ExposeHeaders:    []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           corsPreflightMaxAge,
	}), nil
}

// allowedOrigins normalizes origins to scheme://host, sorted and without duplicates.
func allowedOrigins(logger *zap.Logger, origins []string) ([]string, error) {
	allowed := make([]string, 0, len(origins))
	for _, raw := range origins {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		origin, plaintext, err := normalizeOrigin(raw)
		if err != nil {
			return nil, err
		}
		if plaintext {
			logger.Warn("plain http cors origin outside localhost", zap.String("code", "web.cors.plaintext_origin"), zap.String("origin", origin))
		}
		allowed = append(allowed, origin)
	}
	if len(allowed) == 0 {
		return nil, errEmptyAllowedOrigins
	}
	slices.Sort(allowed)
	return slices.Compact(allowed), nil
}

// normalizeOrigin reports whether the origin is plain http on a non-loopback host.
func normalizeOrigin(raw string) (string, bool, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "*" {
		return "", false, errWildcardOrigin
	}
	parsed, parseErr := url.Parse(trimmed)
	switch {
	case parseErr != nil || parsed.Host == "":
		return "", false, fmt.Errorf("%w: %q is not an absolute URL", errInvalidOrigin, trimmed)
	case strings.Trim(parsed.Path, "/") != "":
		return "", false, fmt.Errorf("%w: %q has a path", errInvalidOrigin, trimmed)
	case parsed.RawQuery != "" || parsed.Fragment != "":
		return "", false, fmt.Errorf("%w: %q has a query or fragment", errInvalidOrigin, trimmed)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false, fmt.Errorf("%w: %q must use http or https", errInvalidOrigin, trimmed)
	}
	host := strings.ToLower(parsed.Host)
	plaintext := scheme == "http" && !isLoopbackHost(parsed.Hostname())
	return scheme + "://" + host, plaintext, nil
}

func isLoopbackHost(hostname string) bool {
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}
