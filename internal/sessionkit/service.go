package sessionkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Service orchestrates credential verification, dual-token issuance, and
// the password-reset flow.
type Service struct {
	users         UserStore
	tokens        *TokenService
	resets        ResetTokenStore
	mailer        Mailer
	metrics       MetricsRecorder
	logger        *zap.Logger
	clientBaseURL string
	googleClient  string
	google        GoogleTokenValidator
	bcryptCost    int
}

// ServiceOptions wires the Service's collaborators.
type ServiceOptions struct {
	Users           UserStore
	Tokens          *TokenService
	Resets          ResetTokenStore
	Mailer          Mailer
	Metrics         MetricsRecorder
	Logger          *zap.Logger
	GoogleValidator GoogleTokenValidator
	Config          ServerConfig
}

// NewService constructs a Service. Users and Tokens are required; other
// collaborators default to no-op implementations.
func NewService(options ServiceOptions) *Service {
	if options.Users == nil {
		panic("sessionkit: user store is required")
	}
	if options.Tokens == nil {
		panic("sessionkit: token service is required")
	}
	service := &Service{
		users:         options.Users,
		tokens:        options.Tokens,
		resets:        options.Resets,
		mailer:        options.Mailer,
		metrics:       options.Metrics,
		logger:        options.Logger,
		clientBaseURL: options.Config.ClientBaseURL,
		googleClient:  options.Config.GoogleWebClientID,
		google:        options.GoogleValidator,
		bcryptCost:    options.Config.BcryptCost,
	}
	if service.resets == nil {
		service.resets = NewMemoryResetTokenStore()
	}
	if service.metrics == nil {
		service.metrics = NopMetrics{}
	}
	if service.logger == nil {
		service.logger = zap.NewNop()
	}
	if service.mailer == nil {
		service.mailer = NewLogMailer(service.logger)
	}
	if service.bcryptCost == 0 {
		service.bcryptCost = DefaultBcryptCost
	}
	return service
}

// RegisterInput carries data for account registration.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// AuthResult bundles the sanitized user with issued tokens. RefreshToken
// is empty when the operation reuses an existing refresh credential.
type AuthResult struct {
	User             User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Register creates a new account. The role defaults to member and may
// never be super_admin.
func (service *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	role := RoleMember
	if strings.TrimSpace(input.Role) != "" {
		parsed, parseErr := ParseRole(input.Role)
		if parseErr != nil || !parsed.AssignableAtRegistration() {
			service.metrics.Increment("register_failure")
			return User{}, ErrRoleNotAssignable
		}
		role = parsed
	}

	passwordHash, hashErr := HashPassword(input.Password, service.bcryptCost)
	if hashErr != nil {
		service.metrics.Increment("register_failure")
		return User{}, fmt.Errorf("auth.register: %w", hashErr)
	}

	user := User{
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		Name:         strings.TrimSpace(input.Name),
		Role:         role,
		PasswordHash: passwordHash,
	}
	if createErr := service.users.Create(ctx, &user); createErr != nil {
		service.metrics.Increment("register_failure")
		if errors.Is(createErr, ErrEmailTaken) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("auth.register: %w", createErr)
	}

	service.metrics.Increment("register_success")
	service.logger.Info("account registered",
		zap.String("code", "auth.register.success"),
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)),
	)
	return user.Sanitized(), nil
}

// Login verifies credentials and issues both tokens, persisting the new
// refresh token as the account's single active session.
//
// A missing account surfaces as ErrUserNotFound and a password mismatch as
// ErrInvalidCredentials; the split mirrors the marketplace API's observed
// 404/403 behavior.
func (service *Service) Login(ctx context.Context, email string, password string) (AuthResult, error) {
	user, findErr := service.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if findErr != nil {
		service.metrics.Increment("login_failure")
		if errors.Is(findErr, ErrUserNotFound) {
			return AuthResult{}, ErrUserNotFound
		}
		return AuthResult{}, fmt.Errorf("auth.login: %w", findErr)
	}

	if user.PasswordHash == "" || !VerifyPassword(password, user.PasswordHash) {
		service.metrics.Increment("login_failure")
		return AuthResult{}, ErrInvalidCredentials
	}

	result, issueErr := service.issueTokens(ctx, user)
	if issueErr != nil {
		service.metrics.Increment("login_failure")
		return AuthResult{}, issueErr
	}
	service.metrics.Increment("login_success")
	return result, nil
}

// Logout clears the persisted refresh token, ending the account's single
// active session. Clearing an already-empty field succeeds; only a missing
// account fails.
func (service *Service) Logout(ctx context.Context, userID string) error {
	if _, findErr := service.users.FindByID(ctx, userID); findErr != nil {
		if errors.Is(findErr, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("auth.logout: %w", findErr)
	}
	if clearErr := service.users.SetRefreshToken(ctx, userID, ""); clearErr != nil {
		return fmt.Errorf("auth.logout: %w", clearErr)
	}
	service.metrics.Increment("logout")
	return nil
}

// Refresh exchanges a valid refresh token for a fresh access token. The
// refresh token itself is not rotated; the presented value must match the
// persisted one, so logout revokes outstanding refresh tokens.
func (service *Service) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	claims, parseErr := service.tokens.ParseRefreshToken(refreshToken)
	if parseErr != nil {
		service.metrics.Increment("refresh_failure")
		return AuthResult{}, ErrUnauthorized
	}

	user, findErr := service.users.FindByID(ctx, claims.UserID)
	if findErr != nil {
		service.metrics.Increment("refresh_failure")
		return AuthResult{}, ErrUnauthorized
	}
	if user.RefreshToken == "" || user.RefreshToken != refreshToken {
		service.metrics.Increment("refresh_failure")
		return AuthResult{}, ErrUnauthorized
	}

	accessToken, accessExpiresAt, mintErr := service.tokens.MintAccessToken(user)
	if mintErr != nil {
		service.metrics.Increment("refresh_failure")
		return AuthResult{}, fmt.Errorf("auth.refresh: %w", mintErr)
	}

	service.metrics.Increment("refresh_success")
	return AuthResult{
		User:            user.Sanitized(),
		AccessToken:     accessToken,
		AccessExpiresAt: accessExpiresAt,
	}, nil
}

// ForgotPassword mints a short-lived single-use reset token and mails the
// reset link. An unknown email fails with ErrUserNotFound, matching the
// marketplace API's observed behavior.
func (service *Service) ForgotPassword(ctx context.Context, email string) error {
	user, findErr := service.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if findErr != nil {
		if errors.Is(findErr, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("auth.forgot_password: %w", findErr)
	}

	resetToken, tokenID, expiresAt, mintErr := service.tokens.MintResetToken(user)
	if mintErr != nil {
		return fmt.Errorf("auth.forgot_password: %w", mintErr)
	}
	if registerErr := service.resets.Register(ctx, tokenID, expiresAt); registerErr != nil {
		return fmt.Errorf("auth.forgot_password: %w", registerErr)
	}

	resetURL := BuildResetURL(service.clientBaseURL, resetToken)
	if sendErr := service.mailer.SendPasswordReset(ctx, user.Email, user.Name, resetURL); sendErr != nil {
		return fmt.Errorf("auth.forgot_password: %w", sendErr)
	}
	service.metrics.Increment("password_reset_requested")
	return nil
}

// ResetPassword verifies the mailed token, consumes its one-time id, and
// persists the re-hashed password. Consuming first keeps a replayed token
// from ever reaching the password write; when the write itself fails the
// id is re-registered so the mailed link stays usable.
func (service *Service) ResetPassword(ctx context.Context, resetToken string, newPassword string) error {
	claims, parseErr := service.tokens.ParseResetToken(resetToken)
	if parseErr != nil {
		return ErrUnauthorized
	}
	if consumeErr := service.resets.Consume(ctx, claims.ID); consumeErr != nil {
		return ErrUnauthorized
	}

	restoreToken := func() {
		if claims.ExpiresAt == nil {
			return
		}
		if registerErr := service.resets.Register(ctx, claims.ID, claims.ExpiresAt.Time); registerErr != nil {
			service.logger.Warn("failed to restore reset token after write failure", zap.Error(registerErr))
		}
	}

	user, findErr := service.users.FindByID(ctx, claims.UserID)
	if findErr != nil {
		if errors.Is(findErr, ErrUserNotFound) {
			return ErrUserNotFound
		}
		restoreToken()
		return fmt.Errorf("auth.reset_password: %w", findErr)
	}

	passwordHash, hashErr := HashPassword(newPassword, service.bcryptCost)
	if hashErr != nil {
		restoreToken()
		return fmt.Errorf("auth.reset_password: %w", hashErr)
	}
	if setErr := service.users.SetPasswordHash(ctx, user.ID, passwordHash); setErr != nil {
		restoreToken()
		return fmt.Errorf("auth.reset_password: %w", setErr)
	}
	service.metrics.Increment("password_reset_completed")
	return nil
}

// GoogleSignIn verifies a Google ID token, upserts the account, and issues
// the same dual tokens as a credential login.
func (service *Service) GoogleSignIn(ctx context.Context, googleIDToken string) (AuthResult, error) {
	if service.google == nil || service.googleClient == "" {
		return AuthResult{}, ErrGoogleSignInDisabled
	}

	payload, validateErr := service.google.Validate(ctx, googleIDToken, service.googleClient)
	if validateErr != nil {
		service.metrics.Increment("google_sign_in_failure")
		return AuthResult{}, ErrUnauthorized
	}
	issuerValue, _ := payload.Claims["iss"].(string)
	if issuerValue != "https://accounts.google.com" && issuerValue != "accounts.google.com" {
		service.metrics.Increment("google_sign_in_failure")
		return AuthResult{}, ErrUnauthorized
	}
	googleSub, _ := payload.Claims["sub"].(string)
	userEmail, _ := payload.Claims["email"].(string)
	emailVerified, _ := payload.Claims["email_verified"].(bool)
	displayName, _ := payload.Claims["name"].(string)
	if googleSub == "" || userEmail == "" || !emailVerified {
		service.metrics.Increment("google_sign_in_failure")
		return AuthResult{}, ErrUnauthorized
	}

	user, upsertErr := service.users.UpsertGoogleUser(ctx, googleSub, userEmail, displayName)
	if upsertErr != nil {
		service.metrics.Increment("google_sign_in_failure")
		return AuthResult{}, fmt.Errorf("auth.google: %w", upsertErr)
	}

	result, issueErr := service.issueTokens(ctx, user)
	if issueErr != nil {
		service.metrics.Increment("google_sign_in_failure")
		return AuthResult{}, issueErr
	}
	service.metrics.Increment("google_sign_in_success")
	return result, nil
}

func (service *Service) issueTokens(ctx context.Context, user User) (AuthResult, error) {
	accessToken, accessExpiresAt, accessErr := service.tokens.MintAccessToken(user)
	if accessErr != nil {
		return AuthResult{}, fmt.Errorf("auth.issue_tokens: %w", accessErr)
	}
	refreshToken, refreshExpiresAt, refreshErr := service.tokens.MintRefreshToken(user.ID)
	if refreshErr != nil {
		return AuthResult{}, fmt.Errorf("auth.issue_tokens: %w", refreshErr)
	}
	if persistErr := service.users.SetRefreshToken(ctx, user.ID, refreshToken); persistErr != nil {
		return AuthResult{}, fmt.Errorf("auth.issue_tokens: %w", persistErr)
	}
	return AuthResult{
		User:             user.Sanitized(),
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}
