package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/labcommons/internal/authkit"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/idtoken"
)

func TestZapLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(zapLoggerMiddleware(zaptest.NewLogger(t)))
	router.GET("/ping", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
}

func resetViper(t *testing.T, settings map[string]any) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	for settingKey, value := range settings {
		viper.Set(settingKey, value)
	}
}

// runConfigured loads the server configuration from settings and runs the serve command with it.
func runConfigured(t *testing.T, settings map[string]any) error {
	t.Helper()
	resetViper(t, settings)
	configuration, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	command := &cobra.Command{}
	command.SetContext(context.WithValue(context.Background(), serverConfigContextKey, configuration))
	return runServer(command, nil)
}

func baseSettings(extra map[string]any) map[string]any {
	settings := map[string]any{
		"listen_addr":       ":0",
		"jwt_signing_key":   "bench-signing-key",
		"session_ttl":       time.Minute,
		"refresh_ttl":       time.Hour,
		"dev_insecure_http": true,
	}
	for settingKey, value := range extra {
		settings[settingKey] = value
	}
	return settings
}

func TestRunServerRequiresPreparedConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)
	resetViper(t, nil)

	err := runServer(&cobra.Command{}, nil)
	if err == nil || !strings.HasPrefix(err.Error(), "config.uninitialized_server_config:") {
		t.Fatalf("expected uninitialized config error, got %v", err)
	}
}

func TestLoadServerConfigNormalizesAdminEmails(t *testing.T) {
	resetViper(t, map[string]any{
		"jwt_signing_key": "bench-signing-key",
		"session_ttl":     time.Minute,
		"refresh_ttl":     time.Hour,
		"admin_emails":    []string{" Curator@Lab.Example ", ""},
	})

	configuration, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if configuration.GoogleSignInEnabled() {
		t.Fatalf("expected google sign-in to stay off without a client id")
	}
	if len(configuration.AdminEmails) != 1 || configuration.AdminEmails[0] != "curator@lab.example" {
		t.Fatalf("unexpected admin emails %v", configuration.AdminEmails)
	}
	if configuration.RoleForEmail("CURATOR@lab.example") != authkit.RoleAdmin || configuration.RoleForEmail("guest@lab.example") != authkit.RoleMember {
		t.Fatalf("unexpected role assignment")
	}
}

func TestLoadServerConfigRejects(t *testing.T) {
	testCases := []struct {
		name     string
		settings map[string]any
		expected string
	}{
		{
			name:     "missing signing key",
			settings: map[string]any{},
			expected: "config.missing_jwt_signing_key: jwt_signing_key must be provided",
		},
		{
			name:     "zero session ttl",
			settings: map[string]any{"jwt_signing_key": "bench-signing-key", "session_ttl": 0, "refresh_ttl": time.Hour},
			expected: "config.invalid_session_ttl: session_ttl must be greater than zero",
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			resetViper(t, testCase.settings)
			if _, err := LoadServerConfig(); err == nil || err.Error() != testCase.expected {
				t.Fatalf("expected %q, got %v", testCase.expected, err)
			}
		})
	}
}

func TestLoadServerSettingsRequiresOriginsForCORS(t *testing.T) {
	resetViper(t, map[string]any{"enable_cors": true})
	if _, err := loadServerSettings(); err == nil || !strings.HasPrefix(err.Error(), configCodeMissingCORSOrigins) {
		t.Fatalf("expected missing origins error, got %v", err)
	}
}

func TestRunServerReportsGoogleValidatorFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	defer withServeHTTPStub(func(*http.Server) error { return http.ErrServerClosed })()
	defer withGoogleValidatorBuilderStub(func(context.Context) (authkit.GoogleTokenValidator, error) {
		return nil, errors.New("jwks unreachable")
	})()

	err := runConfigured(t, baseSettings(map[string]any{"google_web_client_id": "web-client"}))
	if err == nil || err.Error() != "config.google_validator_init: jwks unreachable" {
		t.Fatalf("expected google validator init error, got %v", err)
	}
}

func TestRunServerWithDatabaseCORSAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	defer withServeHTTPStub(func(server *http.Server) error {
		if server.Handler == nil {
			t.Errorf("expected a handler on the http server")
		}
		return http.ErrServerClosed
	})()
	defer withGoogleValidatorBuilderStub(func(context.Context) (authkit.GoogleTokenValidator, error) {
		return noopGoogleValidator{}, nil
	})()

	err := runConfigured(t, baseSettings(map[string]any{
		"google_web_client_id": "web-client",
		"cookie_domain":        "localhost",
		"database_url":         "sqlite:file:run-server-database?mode=memory&cache=shared",
		"enable_cors":          true,
		"cors_allowed_origins": []string{"http://localhost:5173"},
		"metrics_enabled":      true,
	}))
	if err != nil {
		t.Fatalf("run server: %v", err)
	}
}

func TestRunServerInMemoryDefaults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	defer withServeHTTPStub(func(*http.Server) error { return http.ErrServerClosed })()
	defer withGoogleValidatorBuilderStub(func(context.Context) (authkit.GoogleTokenValidator, error) {
		t.Errorf("google validator must not be built without a client id")
		return nil, errors.New("unexpected")
	})()

	if err := runConfigured(t, baseSettings(nil)); err != nil {
		t.Fatalf("run server with in-memory stores: %v", err)
	}
}

func TestNewRootCommandHelp(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--help"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected help execution to succeed: %v", err)
	}
}

func TestApplicationSignUpProfileAndAdminFlow(t *testing.T) {
	gin.SetMode(gin.TestMode)

	serverConfig := authkit.ServerConfig{
		SigningKey:        []byte("application-test-secret"),
		Issuer:            sessionIssuer,
		SessionCookieName: sessionCookieName,
		RefreshCookieName: refreshCookieName,
		SessionTTL:        time.Minute,
		RefreshTTL:        time.Hour,
		NonceTTL:          time.Minute,
		AllowInsecureHTTP: true,
		AdminEmails:       []string{"admin@example.com"},
	}
	settings := serverSettings{
		DatabaseURL:    "sqlite:file:application-flow?mode=memory&cache=shared",
		MetricsEnabled: true,
	}
	router, cleanup, err := buildApplication(context.Background(), serverConfig, settings, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	defer cleanup()

	call := func(method string, path string, body interface{}, accessToken string) *httptest.ResponseRecorder {
		var encoded []byte
		if body != nil {
			encoded, _ = json.Marshal(body)
		}
		request := httptest.NewRequest(method, path, bytes.NewReader(encoded))
		request.Header.Set("Content-Type", "application/json")
		if accessToken != "" {
			request.Header.Set("Authorization", "Bearer "+accessToken)
		}
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, request)
		return recorder
	}
	signUp := func(email string, username string) string {
		recorder := call(http.MethodPost, "/auth/signup", map[string]string{
			"email":     email,
			"password":  "secret-pass",
			"full_name": "Test " + username,
			"username":  username,
		}, "")
		if recorder.Code != http.StatusCreated {
			t.Fatalf("sign up %s: expected 201, got %d %s", email, recorder.Code, recorder.Body.String())
		}
		var payload authkit.SessionPayload
		if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode session: %v", err)
		}
		return payload.AccessToken
	}

	memberToken := signUp("member@example.com", "member")
	adminToken := signUp("Admin@Example.com", "admin")

	recorder := call(http.MethodGet, "/api/me", nil, memberToken)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected /api/me to succeed, got %d", recorder.Code)
	}
	var me struct {
		Roles   []string `json:"roles"`
		Profile struct {
			Username string `json:"username"`
			Role     string `json:"role"`
		} `json:"profile"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Profile.Username != "member" || me.Profile.Role != authkit.RoleMember {
		t.Fatalf("unexpected profile %+v", me.Profile)
	}

	if recorder := call(http.MethodGet, "/api/admin/stats", nil, memberToken); recorder.Code != http.StatusForbidden {
		t.Fatalf("expected member to be forbidden from admin stats, got %d", recorder.Code)
	}
	recorder = call(http.MethodGet, "/api/admin/stats", nil, adminToken)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected admin stats, got %d %s", recorder.Code, recorder.Body.String())
	}
	var stats struct {
		Profiles int64 `json:"profiles"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &stats); err != nil || stats.Profiles != 2 {
		t.Fatalf("expected two profiles, got %+v (%v)", stats, err)
	}

	if recorder := call(http.MethodGet, "/client/config.json", nil, ""); recorder.Code != http.StatusOK {
		t.Fatalf("expected client config, got %d", recorder.Code)
	}
	recorder = call(http.MethodGet, "/metrics", nil, "")
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), "labcommons_auth_events_total") {
		t.Fatalf("expected auth metrics to be exported, got %d", recorder.Code)
	}
	if recorder := call(http.MethodPost, "/auth/nonce", nil, ""); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected google routes to be absent, got %d", recorder.Code)
	}
}

func withServeHTTPStub(stub func(server *http.Server) error) func() {
	previous := serveHTTP
	serveHTTP = stub
	return func() {
		serveHTTP = previous
	}
}

type noopGoogleValidator struct{}

func (noopGoogleValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	return &idtoken.Payload{}, nil
}

func withGoogleValidatorBuilderStub(stub func(ctx context.Context) (authkit.GoogleTokenValidator, error)) func() {
	previous := buildGoogleTokenValidator
	buildGoogleTokenValidator = stub
	return func() {
		buildGoogleTokenValidator = previous
	}
}


func TestPurgeExpiredRefreshTokensAtStartup(t *testing.T) {
	ctx := context.Background()
	store := authkit.NewMemoryRefreshTokenStore()
	_, staleOpaque, err := store.Issue(ctx, "member-1", time.Now().Add(-time.Hour).Unix(), "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	purgeExpiredRefreshTokens(ctx, store, zaptest.NewLogger(t))

	if _, _, _, err := store.Validate(ctx, staleOpaque); !errors.Is(err, authkit.ErrRefreshTokenNotFound) {
		t.Fatalf("expected stale token to be purged, got %v", err)
	}
}
