package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/labcommons/pkg/routeguard"
)

// ClientConfig is what a browser or console client reads before its first sign-in.
// Routes defaults to routeguard.DefaultTable.
type ClientConfig struct {
	GoogleClientID string
	BaseURL        string
	SignInPath     string
	Routes         *routeguard.Table
}

type clientConfigPayload struct {
	BaseURL        string         `json:"base_url"`
	SignInPath     string         `json:"sign_in_path"`
	GoogleEnabled  bool           `json:"google_enabled"`
	GoogleClientID string         `json:"google_client_id,omitempty"`
	Routes         []routePayload `json:"routes"`
}

type routePayload struct {
	Name         string `json:"name"`
	Pattern      string `json:"pattern"`
	RequiresAuth bool   `json:"requires_auth"`
	RequiredRole string `json:"required_role,omitempty"`
}

// ServeClientConfig answers /client/config.json. The document is never cached
// because the Google client id and route table change with deployments.
func ServeClientConfig(contextGin *gin.Context, configuration ClientConfig) {
	payload := clientConfigPayload{
		BaseURL:        strings.TrimRight(strings.TrimSpace(configuration.BaseURL), "/"),
		SignInPath:     configuration.SignInPath,
		GoogleClientID: strings.TrimSpace(configuration.GoogleClientID),
	}
	payload.GoogleEnabled = payload.GoogleClientID != ""
	if payload.BaseURL == "" {
		payload.BaseURL = requestOrigin(contextGin.Request)
	}
	if payload.SignInPath == "" {
		payload.SignInPath = routeguard.DefaultSignInPath
	}
	table := configuration.Routes
	if table == nil {
		table = routeguard.DefaultTable()
	}
	for _, route := range table.Routes() {
		payload.Routes = append(payload.Routes, routePayload{
			Name:         route.Name,
			Pattern:      route.Pattern,
			RequiresAuth: route.Policy.RequiresAuth,
			RequiredRole: route.Policy.RequiredRole,
		})
	}

	contextGin.Header("Cache-Control", "no-store")
	contextGin.Header("X-Content-Type-Options", "nosniff")
	contextGin.JSON(http.StatusOK, payload)
}

// requestOrigin rebuilds scheme://host as the client saw it, honouring a TLS-terminating proxy.
func requestOrigin(request *http.Request) string {
	scheme := "http"
	switch {
	case request.Header.Get("X-Forwarded-Proto") != "":
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(request.Header.Get("X-Forwarded-Proto"), ",")[0]))
	case request.TLS != nil:
		scheme = "https"
	}
	host := request.Host
	if forwardedHost := request.Header.Get("X-Forwarded-Host"); forwardedHost != "" {
		host = strings.TrimSpace(strings.Split(forwardedHost, ",")[0])
	}
	if host == "" {
		host = "localhost"
	}
	return scheme + "://" + host
}
