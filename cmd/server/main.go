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
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rooftopmarket/rooftop-auth/internal/sessionkit"
	"github.com/rooftopmarket/rooftop-auth/internal/sessionpg"
	"github.com/rooftopmarket/rooftop-auth/internal/web"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildGoogleTokenValidator = func(ctx context.Context) (sessionkit.GoogleTokenValidator, error) {
	return sessionkit.NewGoogleTokenValidator(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "rooftop-auth",
		Short:   "Rooftop marketplace auth service with password and Google sign-in, JWT sessions, and cookie-carried refresh tokens",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("database_url", "", "User store URL (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().String("access_token_secret", "", "HS256 signing secret for access JWTs")
	rootCmd.Flags().String("refresh_token_secret", "", "HS256 signing secret for refresh JWTs")
	rootCmd.Flags().Duration("access_token_ttl", 15*time.Minute, "Access token TTL")
	rootCmd.Flags().Duration("refresh_token_ttl", 7*24*time.Hour, "Refresh token TTL")
	rootCmd.Flags().Duration("reset_token_ttl", 5*time.Minute, "Password reset token TTL")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("client_base_url", "http://localhost:3000", "Web client base URL used in password reset links")
	rootCmd.Flags().String("google_web_client_id", "", "Google Web OAuth Client ID; empty disables Google sign-in")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients (required to set SameSite=None cookies)")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().Int("bcrypt_cost", sessionkit.DefaultBcryptCost, "Bcrypt cost for password hashing")
	rootCmd.Flags().String("smtp_addr", "", "SMTP host:port; empty logs reset mail instead of sending")
	rootCmd.Flags().String("smtp_from", "", "From address for outgoing mail")
	rootCmd.Flags().String("smtp_username", "", "SMTP username; empty skips authentication")
	rootCmd.Flags().String("smtp_password", "", "SMTP password")
	rootCmd.Flags().String("metrics_path", "/metrics", "Prometheus metrics path; empty disables the endpoint")

	for _, flagName := range []string{
		"listen_addr", "database_url", "access_token_secret", "refresh_token_secret",
		"access_token_ttl", "refresh_token_ttl", "reset_token_ttl", "cookie_domain",
		"client_base_url", "google_web_client_id", "enable_cors", "cors_allowed_origins",
		"dev_insecure_http", "bcrypt_cost", "smtp_addr", "smtp_from", "smtp_username",
		"smtp_password", "metrics_path",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("ROOFTOP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	refreshCookieName = "rooftop_refresh"
	tokenIssuerName   = "rooftop-auth"

	configCodeMissingAccessSecret     = "config.missing_access_token_secret"
	configCodeMissingRefreshSecret    = "config.missing_refresh_token_secret"
	configCodeEqualSecrets            = "config.access_and_refresh_secrets_equal"
	configCodeInvalidAccessTTL        = "config.invalid_access_token_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_token_ttl"
	configCodeMissingClientBaseURL    = "config.missing_client_base_url"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeGoogleValidatorInit     = "config.google_validator_init"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	_ = godotenv.Load()

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

func LoadServerConfig() (sessionkit.ServerConfig, error) {
	accessSecret := viper.GetString("access_token_secret")
	if accessSecret == "" {
		return sessionkit.ServerConfig{}, configError(configCodeMissingAccessSecret, "access_token_secret must be provided")
	}

	refreshSecret := viper.GetString("refresh_token_secret")
	if refreshSecret == "" {
		return sessionkit.ServerConfig{}, configError(configCodeMissingRefreshSecret, "refresh_token_secret must be provided")
	}
	if refreshSecret == accessSecret {
		return sessionkit.ServerConfig{}, configError(configCodeEqualSecrets, "access and refresh secrets must differ")
	}

	accessTTL := viper.GetDuration("access_token_ttl")
	if accessTTL <= 0 {
		return sessionkit.ServerConfig{}, configError(configCodeInvalidAccessTTL, "access_token_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_token_ttl")
	if refreshTTL <= 0 {
		return sessionkit.ServerConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_token_ttl must be greater than zero")
	}

	clientBaseURL := strings.TrimRight(viper.GetString("client_base_url"), "/")
	if clientBaseURL == "" {
		return sessionkit.ServerConfig{}, configError(configCodeMissingClientBaseURL, "client_base_url must be provided")
	}

	resetTTL := 5 * time.Minute
	if configuredResetTTL := viper.GetDuration("reset_token_ttl"); configuredResetTTL > 0 {
		resetTTL = configuredResetTTL
	}

	devInsecureHTTP := viper.GetBool("dev_insecure_http")
	enableCORS := viper.GetBool("enable_cors")

	sameSiteMode := http.SameSiteStrictMode
	if enableCORS {
		sameSiteMode = http.SameSiteNoneMode
	}

	return sessionkit.ServerConfig{
		AccessTokenSecret:  []byte(accessSecret),
		RefreshTokenSecret: []byte(refreshSecret),
		Issuer:             tokenIssuerName,
		AccessTokenTTL:     accessTTL,
		RefreshTokenTTL:    refreshTTL,
		ResetTokenTTL:      resetTTL,
		RefreshCookieName:  refreshCookieName,
		CookieDomain:       viper.GetString("cookie_domain"),
		SameSiteMode:       sameSiteMode,
		AllowInsecureHTTP:  devInsecureHTTP,
		ClientBaseURL:      clientBaseURL,
		GoogleWebClientID:  viper.GetString("google_web_client_id"),
		BcryptCost:         viper.GetInt("bcrypt_cost"),
		ExposeErrorStack:   devInsecureHTTP,
	}, nil
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
	serverConfig, ok := contextValue.(sessionkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	databaseURL := viper.GetString("database_url")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	metricsPath := viper.GetString("metrics_path")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	userStore, storeErr := buildUserStore(command.Context(), logger, databaseURL)
	if storeErr != nil {
		return storeErr
	}

	clock := sessionkit.NewSystemClock()
	tokenService, tokenErr := sessionkit.NewTokenService(serverConfig, clock)
	if tokenErr != nil {
		return tokenErr
	}

	var googleValidator sessionkit.GoogleTokenValidator
	if serverConfig.GoogleWebClientID != "" {
		validator, validatorErr := buildGoogleTokenValidator(command.Context())
		if validatorErr != nil {
			return fmt.Errorf("%s: %w", configCodeGoogleValidatorInit, validatorErr)
		}
		googleValidator = validator
	}

	registry := prometheus.NewRegistry()
	metricsRecorder := sessionkit.NewPrometheusMetrics(registry)

	service := sessionkit.NewService(sessionkit.ServiceOptions{
		Users:           userStore,
		Tokens:          tokenService,
		Resets:          sessionkit.NewMemoryResetTokenStore(),
		Mailer:          buildMailer(logger),
		Metrics:         metricsRecorder,
		Logger:          logger,
		GoogleValidator: googleValidator,
		Config:          serverConfig,
	})

	sessionkit.MountAuthRoutes(router, serverConfig, service, tokenService, userStore)

	protected := router.Group("/api")
	protected.Use(sessionkit.RequireSession(tokenService, userStore))
	protected.GET("/me", sessionkit.HandleMe())

	admin := protected.Group("/admin")
	admin.Use(sessionkit.RequireRole(sessionkit.RoleAdmin, sessionkit.RoleSuperAdmin))
	admin.GET("/ping", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	if metricsPath != "" {
		router.GET(metricsPath, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func buildUserStore(ctx context.Context, logger *zap.Logger, databaseURL string) (sessionkit.UserStore, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	switch {
	case databaseURL == "":
		logger.Info("using in-memory user store")
		return sessionkit.NewMemoryUserStore(), nil
	case strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://"):
		pool, poolErr := sessionpg.BuildPool(ctx, databaseURL)
		if poolErr != nil {
			return nil, poolErr
		}
		if schemaErr := sessionpg.EnsureSchema(ctx, pool); schemaErr != nil {
			pool.Close()
			return nil, schemaErr
		}
		logger.Info("using postgres user store")
		return sessionpg.NewPostgresUserStore(pool), nil
	default:
		store, storeErr := sessionkit.NewDatabaseUserStore(ctx, databaseURL)
		if storeErr != nil {
			return nil, storeErr
		}
		logger.Info("using persistent user store", zap.String("driver", store.Driver()))
		return store, nil
	}
}

func buildMailer(logger *zap.Logger) sessionkit.Mailer {
	smtpAddr := viper.GetString("smtp_addr")
	if smtpAddr == "" {
		logger.Info("smtp_addr empty; password reset mail will be logged, not sent")
		return sessionkit.NewLogMailer(logger)
	}
	return sessionkit.NewSMTPMailer(
		smtpAddr,
		viper.GetString("smtp_from"),
		viper.GetString("smtp_username"),
		viper.GetString("smtp_password"),
	)
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
