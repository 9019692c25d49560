package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tyemirov/labcommons/internal/authkit"
	"github.com/tyemirov/labcommons/internal/authkitpg"
	"github.com/tyemirov/labcommons/internal/database"
	"github.com/tyemirov/labcommons/internal/directory"
	"github.com/tyemirov/labcommons/internal/web"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildGoogleTokenValidator = func(ctx context.Context) (authkit.GoogleTokenValidator, error) {
	return authkit.NewGoogleTokenValidator(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "labcommons-server",
		Short:   "Equipment and project directory with a community forum, JWT sessions, and admin review",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	flags := rootCmd.Flags()
	flags.String("listen_addr", ":8080", "Address the directory API listens on")
	flags.String("database_url", "", "postgres:// or sqlite: URL for the directory; empty keeps everything in memory")
	flags.String("jwt_signing_key", "", "HS256 secret used to sign member session tokens")
	flags.Duration("session_ttl", 15*time.Minute, "Lifetime of a member access token")
	flags.Duration("refresh_ttl", 60*24*time.Hour, "Lifetime of a refresh token before the member must sign in again")
	flags.String("cookie_domain", "", "Domain for session cookies; empty scopes them to the serving host")
	flags.Bool("dev_insecure_http", false, "Issue cookies without Secure for local development over http")
	flags.String("google_web_client_id", "", "Google OAuth web client id; empty hides Google sign-in")
	flags.Duration("nonce_ttl", 5*time.Minute, "How long a Google sign-in nonce stays redeemable")
	flags.StringSlice("admin_emails", nil, "Accounts created with these emails are granted the admin role")
	flags.Bool("enable_cors", false, "Serve a separately hosted front end; switches cookies to SameSite=None")
	flags.StringSlice("cors_allowed_origins", nil, "Front-end origins allowed when enable_cors is set")
	flags.Bool("metrics_enabled", false, "Publish Prometheus metrics on /metrics")

	flags.VisitAll(func(flag *pflag.Flag) {
		_ = viper.BindPFlag(flag.Name, flag)
	})

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	sessionCookieName  = "labcommons_session"
	refreshCookieName  = "labcommons_refresh"
	sessionIssuer      = "labcommons"
	defaultDatabaseURL = "sqlite:file:labcommons?mode=memory&cache=shared"
	shutdownGrace      = 10 * time.Second

	configCodeMissingJWTSigningKey    = "config.missing_jwt_signing_key"
	configCodeInvalidSessionTTL       = "config.invalid_session_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
	configCodeMissingCORSOrigins      = "config.missing_cors_allowed_origins"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeGoogleValidatorInit     = "config.google_validator_init"
	configCodeDatabaseInit            = "config.database_init"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

// serverSettings are the process-level options that are not part of the auth configuration.
type serverSettings struct {
	ListenAddr         string
	DatabaseURL        string
	EnableCORS         bool
	CORSAllowedOrigins []string
	MetricsEnabled     bool
}

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads and validates the auth configuration from viper.
func LoadServerConfig() (authkit.ServerConfig, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}

	nonceTTL := 5 * time.Minute
	if configuredNonceTTL := viper.GetDuration("nonce_ttl"); configuredNonceTTL > 0 {
		nonceTTL = configuredNonceTTL
	}

	adminEmails := make([]string, 0)
	for _, adminEmail := range viper.GetStringSlice("admin_emails") {
		if normalized := authkit.NormalizeEmail(adminEmail); normalized != "" {
			adminEmails = append(adminEmails, normalized)
		}
	}

	return authkit.ServerConfig{
		GoogleWebClientID: strings.TrimSpace(viper.GetString("google_web_client_id")),
		SigningKey:        []byte(jwtSigningKey),
		Issuer:            sessionIssuer,
		CookieDomain:      viper.GetString("cookie_domain"),
		SessionCookieName: sessionCookieName,
		RefreshCookieName: refreshCookieName,
		SessionTTL:        sessionTTL,
		RefreshTTL:        refreshTTL,
		NonceTTL:          nonceTTL,
		AdminEmails:       adminEmails,
	}, nil
}

func loadServerSettings() (serverSettings, error) {
	settings := serverSettings{
		ListenAddr:         viper.GetString("listen_addr"),
		DatabaseURL:        strings.TrimSpace(viper.GetString("database_url")),
		EnableCORS:         viper.GetBool("enable_cors"),
		CORSAllowedOrigins: viper.GetStringSlice("cors_allowed_origins"),
		MetricsEnabled:     viper.GetBool("metrics_enabled"),
	}
	if settings.EnableCORS && len(settings.CORSAllowedOrigins) == 0 {
		return serverSettings{}, configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
	}
	return settings, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}
	settings, settingsErr := loadServerSettings()
	if settingsErr != nil {
		return settingsErr
	}
	serverConfig.AllowInsecureHTTP = viper.GetBool("dev_insecure_http")

	gin.SetMode(gin.ReleaseMode)
	router, cleanup, buildErr := buildApplication(commandContext, serverConfig, settings, logger)
	if buildErr != nil {
		return buildErr
	}
	defer cleanup()

	server := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	served := make(chan struct{})
	defer close(served)
	go func() {
		select {
		case <-served:
			return
		case <-signalCtx.Done():
		}
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancelDrain()
		if err := server.Shutdown(drainCtx); err != nil {
			logger.Error("server shutdown error", zap.String("code", "server.shutdown_failed"), zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("code", "server.listening"), zap.String("addr", settings.ListenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

// buildApplication wires storage, auth, and directory routes. cleanup releases database handles.
func buildApplication(ctx context.Context, serverConfig authkit.ServerConfig, settings serverSettings, logger *zap.Logger) (*gin.Engine, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var cleanups []func()
	cleanup := func() {
		for index := len(cleanups) - 1; index >= 0; index-- {
			cleanups[index]()
		}
	}
	fail := func(err error) (*gin.Engine, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	databaseURL := settings.DatabaseURL
	if databaseURL == "" {
		databaseURL = defaultDatabaseURL
	}
	gormDB, driverLabel, openErr := database.Open(ctx, databaseURL)
	if openErr != nil {
		return fail(fmt.Errorf("%s: %w", configCodeDatabaseInit, openErr))
	}
	if sqlDB, sqlErr := gormDB.DB(); sqlErr == nil {
		cleanups = append(cleanups, func() { _ = sqlDB.Close() })
	}
	repository, repositoryErr := directory.NewRepository(ctx, gormDB)
	if repositoryErr != nil {
		return fail(fmt.Errorf("%s: %w", configCodeDatabaseInit, repositoryErr))
	}

	var refreshStore authkit.RefreshTokenStore
	switch {
	case settings.DatabaseURL == "":
		refreshStore = authkit.NewMemoryRefreshTokenStore()
		logger.Info("using in-memory refresh token store", zap.String("code", "server.refresh_store.memory"))
	case database.IsPostgres(settings.DatabaseURL):
		pool, poolErr := authkitpg.BuildPool(ctx, settings.DatabaseURL)
		if poolErr != nil {
			return fail(fmt.Errorf("%s: %w", configCodeDatabaseInit, poolErr))
		}
		cleanups = append(cleanups, pool.Close)
		if schemaErr := authkitpg.EnsureSchema(ctx, pool); schemaErr != nil {
			return fail(fmt.Errorf("%s: %w", configCodeDatabaseInit, schemaErr))
		}
		refreshStore = authkitpg.NewPostgresRefreshTokenStore(pool)
		logger.Info("using postgres refresh token store", zap.String("code", "server.refresh_store.postgres"))
	default:
		persistentStore, storeErr := authkit.NewDatabaseRefreshTokenStore(ctx, gormDB, driverLabel)
		if storeErr != nil {
			return fail(fmt.Errorf("%s: %w", configCodeDatabaseInit, storeErr))
		}
		refreshStore = persistentStore
		logger.Info("using persistent refresh token store", zap.String("code", "server.refresh_store.database"), zap.String("driver", persistentStore.Driver()))
	}
	purgeExpiredRefreshTokens(ctx, refreshStore, logger)

	serverConfig.SameSiteMode = http.SameSiteStrictMode
	if settings.EnableCORS {
		serverConfig.SameSiteMode = http.SameSiteNoneMode
	}

	var googleValidator authkit.GoogleTokenValidator
	var nonceStore authkit.NonceStore
	if serverConfig.GoogleSignInEnabled() {
		validator, validatorErr := buildGoogleTokenValidator(ctx)
		if validatorErr != nil {
			return fail(fmt.Errorf("%s: %w", configCodeGoogleValidatorInit, validatorErr))
		}
		googleValidator = validator
		nonceStore = authkit.NewMemoryNonceStore(serverConfig.NonceTTL)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))
	if settings.EnableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, settings.CORSAllowedOrigins)
		if corsErr != nil {
			return fail(corsErr)
		}
		router.Use(corsMiddleware)
	}

	var metricsRecorder authkit.MetricsRecorder = authkit.NewCounterMetrics()
	if settings.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metricsRecorder = authkit.NewPrometheusMetrics(registry)
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	authService, serviceErr := authkit.NewService(authkit.ServiceDependencies{
		Config:          serverConfig,
		Accounts:        repository,
		RefreshTokens:   refreshStore,
		Nonces:          nonceStore,
		GoogleValidator: googleValidator,
		Clock:           authkit.NewSystemClock(),
		Logger:          logger,
		Metrics:         metricsRecorder,
	})
	if serviceErr != nil {
		return fail(serviceErr)
	}
	authService.Mount(router)

	router.GET("/client/config.json", func(contextGin *gin.Context) {
		web.ServeClientConfig(contextGin, web.ClientConfig{GoogleClientID: serverConfig.GoogleWebClientID})
	})
	router.GET("/api/me", authService.RequireSession(), web.HandleWhoAmI(logger, repository))
	directory.NewHandlers(repository, logger).Mount(router, authService.RequireSession(), authService.RequireAdmin())

	return router, cleanup, nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("code", "http.request"),
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}

// purgeExpiredRefreshTokens drops tokens left over from earlier runs.
func purgeExpiredRefreshTokens(ctx context.Context, store authkit.RefreshTokenStore, logger *zap.Logger) {
	purger, ok := store.(authkit.RefreshTokenPurger)
	if !ok {
		return
	}
	purged, err := purger.PurgeExpired(ctx, time.Now())
	if err != nil {
		logger.Warn("refresh token purge failed", zap.String("code", "server.refresh_store.purge_failed"), zap.Error(err))
		return
	}
	if purged > 0 {
		logger.Info("purged expired refresh tokens", zap.String("code", "server.refresh_store.purged"), zap.Int64("count", purged))
	}
}
