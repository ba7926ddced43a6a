package sessionkit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/idtoken"
)

type capturingMailer struct {
	toEmail  string
	toName   string
	resetURL string
	sendErr  error
}

func (mailer *capturingMailer) SendPasswordReset(ctx context.Context, toEmail string, toName string, resetURL string) error {
	mailer.toEmail = toEmail
	mailer.toName = toName
	mailer.resetURL = resetURL
	return mailer.sendErr
}

type stubGoogleValidator struct {
	payload     *idtoken.Payload
	validateErr error
}

func (validator *stubGoogleValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	if validator.validateErr != nil {
		return nil, validator.validateErr
	}
	return validator.payload, nil
}

type serviceFixture struct {
	service *Service
	users   *MemoryUserStore
	clock   *fixedClock
	mailer  *capturingMailer
	metrics *CounterMetrics
}

func newServiceFixture(t *testing.T, mutate func(options *ServiceOptions)) *serviceFixture {
	t.Helper()

	clock := &fixedClock{current: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	config := testServerConfig()
	config.BcryptCost = bcryptTestCost

	tokens, tokenErr := NewTokenService(config, clock)
	if tokenErr != nil {
		t.Fatalf("failed to build token service: %v", tokenErr)
	}

	users := NewMemoryUserStore()
	mailer := &capturingMailer{}
	metrics := NewCounterMetrics()

	options := ServiceOptions{
		Users:   users,
		Tokens:  tokens,
		Resets:  newResetStoreWithClock(clock),
		Mailer:  mailer,
		Metrics: metrics,
		Config:  config,
	}
	if mutate != nil {
		mutate(&options)
	}

	return &serviceFixture{
		service: NewService(options),
		users:   users,
		clock:   clock,
		mailer:  mailer,
		metrics: metrics,
	}
}

func registerTestUser(t *testing.T, fixture *serviceFixture) User {
	t.Helper()
	user, registerErr := fixture.service.Register(context.Background(), RegisterInput{
		Name:     "Buyer One",
		Email:    "Buyer@Rooftop.example",
		Password: "a-strong-password",
	})
	if registerErr != nil {
		t.Fatalf("expected register to succeed, got %v", registerErr)
	}
	return user
}

func TestRegisterDefaultsToMemberAndLowercasesEmail(t *testing.T) {
	fixture := newServiceFixture(t, nil)

	user := registerTestUser(t, fixture)
	if user.Role != RoleMember {
		t.Fatalf("expected member role, got %q", user.Role)
	}
	if user.Email != "buyer@rooftop.example" {
		t.Fatalf("expected lowercased email, got %q", user.Email)
	}
	if user.PasswordHash != "" || user.RefreshToken != "" {
		t.Fatalf("expected sanitized result, got hash=%q refresh=%q", user.PasswordHash, user.RefreshToken)
	}
	if fixture.metrics.Count("register_success") != 1 {
		t.Fatalf("expected register_success to be counted")
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	registerTestUser(t, fixture)

	_, registerErr := fixture.service.Register(context.Background(), RegisterInput{
		Name:     "Someone Else",
		Email:    "buyer@rooftop.example",
		Password: "another-password",
	})
	if !errors.Is(registerErr, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", registerErr)
	}
}

func TestRegisterRejectsSuperAdminAndUnknownRoles(t *testing.T) {
	fixture := newServiceFixture(t, nil)

	for _, role := range []string{"super_admin", "owner"} {
		_, registerErr := fixture.service.Register(context.Background(), RegisterInput{
			Name:     "Pretender",
			Email:    "pretender@rooftop.example",
			Password: "a-strong-password",
			Role:     role,
		})
		if !errors.Is(registerErr, ErrRoleNotAssignable) {
			t.Fatalf("expected ErrRoleNotAssignable for role %q, got %v", role, registerErr)
		}
	}
}

func TestRegisterAllowsAgentRole(t *testing.T) {
	fixture := newServiceFixture(t, nil)

	user, registerErr := fixture.service.Register(context.Background(), RegisterInput{
		Name:     "Agent Smith",
		Email:    "agent@rooftop.example",
		Password: "a-strong-password",
		Role:     "agent",
	})
	if registerErr != nil {
		t.Fatalf("expected register to succeed, got %v", registerErr)
	}
	if user.Role != RoleAgent {
		t.Fatalf("expected agent role, got %q", user.Role)
	}
}

func TestLoginIssuesBothTokensAndPersistsRefresh(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	registered := registerTestUser(t, fixture)

	result, loginErr := fixture.service.Login(context.Background(), "buyer@rooftop.example", "a-strong-password")
	if loginErr != nil {
		t.Fatalf("expected login to succeed, got %v", loginErr)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatalf("expected both tokens, got access=%q refresh=%q", result.AccessToken, result.RefreshToken)
	}
	if result.User.ID != registered.ID {
		t.Fatalf("expected user %q, got %q", registered.ID, result.User.ID)
	}

	stored, findErr := fixture.users.FindByID(context.Background(), registered.ID)
	if findErr != nil {
		t.Fatalf("expected stored user, got %v", findErr)
	}
	if stored.RefreshToken != result.RefreshToken {
		t.Fatalf("expected refresh token persisted as the active session")
	}
}

func TestLoginDistinguishesMissingUserFromBadPassword(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	registerTestUser(t, fixture)

	if _, err := fixture.service.Login(context.Background(), "nobody@rooftop.example", "whatever-password"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := fixture.service.Login(context.Background(), "buyer@rooftop.example", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if fixture.metrics.Count("login_failure") != 2 {
		t.Fatalf("expected two login failures counted, got %d", fixture.metrics.Count("login_failure"))
	}
}

func TestSecondLoginReplacesActiveSession(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	registered := registerTestUser(t, fixture)

	first, firstErr := fixture.service.Login(context.Background(), "buyer@rooftop.example", "a-strong-password")
	if firstErr != nil {
		t.Fatalf("expected first login to succeed, got %v", firstErr)
	}

	fixture.clock.Advance(time.Minute)

	second, secondErr := fixture.service.Login(context.Background(), "buyer@rooftop.example", "a-strong-password")
	if secondErr != nil {
		t.Fatalf("expected second login to succeed, got %v", secondErr)
	}
	if first.RefreshToken == second.RefreshToken {
		t.Fatalf("expected a fresh refresh token per login")
	}

	// The first session's refresh token no longer matches the stored one.
	if _, refreshErr := fixture.service.Refresh(context.Background(), first.RefreshToken); !errors.Is(refreshErr, ErrUnauthorized) {
		t.Fatalf("expected superseded refresh token to be rejected, got %v", refreshErr)
	}

	stored, _ := fixture.users.FindByID(context.Background(), registered.ID)
	if stored.RefreshToken != second.RefreshToken {
		t.Fatalf("expected latest refresh token to win")
	}
}

func TestRefreshReturnsNewAccessTokenWithoutRotating(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	registered := registerTestUser(t, fixture)

	login, loginErr := fixture.service.Login(context.Background(), "buyer@rooftop.example", "a-strong-password")
	if loginErr != nil {
		t.Fatalf("expected login to succeed, got %v", loginErr)
	}

	fixture.clock.Advance(time.Minute)

	refreshed, refreshErr := fixture.service.Refresh(context.Background(), login.RefreshToken)
	if refreshErr != nil {
		t.Fatalf("expected refresh to succeed, got %v", refreshErr)
	}
	if refreshed.AccessToken == "" || refreshed.AccessToken == login.AccessToken {
		t.Fatalf("expected a fresh access token")
	}
	if refreshed.RefreshToken != "" {
		t.Fatalf("refresh must not rotate the refresh token")
	}

	stored, _ := fixture.users.FindByID(context.Background(), registered.ID)
	if stored.RefreshToken != login.RefreshToken {
		t.Fatalf("expected the stored refresh token to stay unchanged")
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	registered := registerTestUser(t, fixture)

	login, loginErr := fixture.service.Login(context.Background(), "buyer@rooftop.example", "a-strong-password")
	if loginErr != nil {
		t.Fatalf("expected login to succeed, got %v", loginErr)
	}

	if logoutErr := fixture.service.Logout(context.Background(), registered.ID); logoutErr != nil {
		t.Fatalf("expected logout to succeed, got %v", logoutErr)
	}

	stored, _ := fixture.users.FindByID(context.Background(), registered.ID)
	if stored.RefreshToken != "" {
		t.Fatalf("expected refresh token cleared on logout")
	}

	// A still-valid signed token fails the stored-value cross-check.
	if _, refreshErr := fixture.service.Refresh(context.Background(), login.RefreshToken); !errors.Is(refreshErr, ErrUnauthorized) {
		t.Fatalf("expected refresh after logout to fail, got %v", refreshErr)
	}
}

func TestLogoutIsIdempotentForLoggedOutUser(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	registered := registerTestUser(t, fixture)

	if err := fixture.service.Logout(context.Background(), registered.ID); err != nil {
		t.Fatalf("expected logout without a session to succeed, got %v", err)
	}
	if err := fixture.service.Logout(context.Background(), registered.ID); err != nil {
		t.Fatalf("expected repeated logout to succeed, got %v", err)
	}
	if err := fixture.service.Logout(context.Background(), "missing-user"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound for unknown account, got %v", err)
	}
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	registerTestUser(t, fixture)

	login, loginErr := fixture.service.Login(context.Background(), "buyer@rooftop.example", "a-strong-password")
	if loginErr != nil {
		t.Fatalf("expected login to succeed, got %v", loginErr)
	}

	fixture.clock.Advance(8 * 24 * time.Hour)

	if _, refreshErr := fixture.service.Refresh(context.Background(), login.RefreshToken); !errors.Is(refreshErr, ErrUnauthorized) {
		t.Fatalf("expected expired refresh token to fail, got %v", refreshErr)
	}
}

func TestForgotPasswordMailsResetLink(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	registerTestUser(t, fixture)

	if err := fixture.service.ForgotPassword(context.Background(), "buyer@rooftop.example"); err != nil {
		t.Fatalf("expected forgot password to succeed, got %v", err)
	}
	if fixture.mailer.toEmail != "buyer@rooftop.example" {
		t.Fatalf("expected mail to the account email, got %q", fixture.mailer.toEmail)
	}
	if !strings.HasPrefix(fixture.mailer.resetURL, "http://localhost:3000/reset-password/") {
		t.Fatalf("expected reset URL under the client base, got %q", fixture.mailer.resetURL)
	}
}

func TestForgotPasswordUnknownEmailFails(t *testing.T) {
	fixture := newServiceFixture(t, nil)

	if err := fixture.service.ForgotPassword(context.Background(), "nobody@rooftop.example"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestResetPasswordTokenIsSingleUse(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	registerTestUser(t, fixture)

	if err := fixture.service.ForgotPassword(context.Background(), "buyer@rooftop.example"); err != nil {
		t.Fatalf("expected forgot password to succeed, got %v", err)
	}
	resetToken := strings.TrimPrefix(fixture.mailer.resetURL, "http://localhost:3000/reset-password/")

	if err := fixture.service.ResetPassword(context.Background(), resetToken, "a-brand-new-password"); err != nil {
		t.Fatalf("expected reset to succeed, got %v", err)
	}

	// Old password gone, new password works.
	if _, err := fixture.service.Login(context.Background(), "buyer@rooftop.example", "a-strong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, err := fixture.service.Login(context.Background(), "buyer@rooftop.example", "a-brand-new-password"); err != nil {
		t.Fatalf("expected new password to log in, got %v", err)
	}

	// The same token cannot be replayed.
	if err := fixture.service.ResetPassword(context.Background(), resetToken, "yet-another-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected replayed reset token to fail, got %v", err)
	}
}

type flakyPasswordStore struct {
	UserStore
	failures int
}

func (store *flakyPasswordStore) SetPasswordHash(ctx context.Context, userID string, passwordHash string) error {
	if store.failures > 0 {
		store.failures--
		return errors.New("store unavailable")
	}
	return store.UserStore.SetPasswordHash(ctx, userID, passwordHash)
}

func TestResetPasswordKeepsTokenUsableAfterWriteFailure(t *testing.T) {
	flaky := &flakyPasswordStore{failures: 1}
	fixture := newServiceFixture(t, func(options *ServiceOptions) {
		flaky.UserStore = options.Users
		options.Users = flaky
	})
	registerTestUser(t, fixture)

	if err := fixture.service.ForgotPassword(context.Background(), "buyer@rooftop.example"); err != nil {
		t.Fatalf("expected forgot password to succeed, got %v", err)
	}
	resetToken := strings.TrimPrefix(fixture.mailer.resetURL, "http://localhost:3000/reset-password/")

	if err := fixture.service.ResetPassword(context.Background(), resetToken, "a-brand-new-password"); err == nil || errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected the store failure to surface, got %v", err)
	}

	// The same link works once the store recovers.
	if err := fixture.service.ResetPassword(context.Background(), resetToken, "a-brand-new-password"); err != nil {
		t.Fatalf("expected retry with the same token to succeed, got %v", err)
	}
	if _, loginErr := fixture.service.Login(context.Background(), "buyer@rooftop.example", "a-brand-new-password"); loginErr != nil {
		t.Fatalf("expected login with the new password, got %v", loginErr)
	}

	if err := fixture.service.ResetPassword(context.Background(), resetToken, "yet-another-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected the token to stay single use after success, got %v", err)
	}
}

func TestResetPasswordRejectsExpiredToken(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	registerTestUser(t, fixture)

	if err := fixture.service.ForgotPassword(context.Background(), "buyer@rooftop.example"); err != nil {
		t.Fatalf("expected forgot password to succeed, got %v", err)
	}
	resetToken := strings.TrimPrefix(fixture.mailer.resetURL, "http://localhost:3000/reset-password/")

	fixture.clock.Advance(6 * time.Minute)

	if err := fixture.service.ResetPassword(context.Background(), resetToken, "a-brand-new-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected expired reset token to fail, got %v", err)
	}
}

func TestResetPasswordRejectsAccessTokenAsResetToken(t *testing.T) {
	fixture := newServiceFixture(t, nil)
	registerTestUser(t, fixture)

	login, loginErr := fixture.service.Login(context.Background(), "buyer@rooftop.example", "a-strong-password")
	if loginErr != nil {
		t.Fatalf("expected login to succeed, got %v", loginErr)
	}

	if err := fixture.service.ResetPassword(context.Background(), login.AccessToken, "a-brand-new-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected access token to be rejected as reset token, got %v", err)
	}
}

func TestGoogleSignInDisabledWithoutValidator(t *testing.T) {
	fixture := newServiceFixture(t, nil)

	if _, err := fixture.service.GoogleSignIn(context.Background(), "some-id-token"); !errors.Is(err, ErrGoogleSignInDisabled) {
		t.Fatalf("expected ErrGoogleSignInDisabled, got %v", err)
	}
}

func googlePayload(claims map[string]interface{}) *idtoken.Payload {
	return &idtoken.Payload{Claims: claims}
}

func TestGoogleSignInCreatesAccountAndIssuesTokens(t *testing.T) {
	fixture := newServiceFixture(t, func(options *ServiceOptions) {
		options.Config.GoogleWebClientID = "rooftop-client-id"
		options.GoogleValidator = &stubGoogleValidator{payload: googlePayload(map[string]interface{}{
			"iss":            "https://accounts.google.com",
			"sub":            "google-sub-1",
			"email":          "google.buyer@rooftop.example",
			"email_verified": true,
			"name":           "Google Buyer",
		})}
	})

	result, signInErr := fixture.service.GoogleSignIn(context.Background(), "some-id-token")
	if signInErr != nil {
		t.Fatalf("expected google sign-in to succeed, got %v", signInErr)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatalf("expected both tokens from google sign-in")
	}
	if result.User.Role != RoleMember {
		t.Fatalf("expected new google account to be a member, got %q", result.User.Role)
	}
}

func TestGoogleSignInRejectsUnverifiedEmail(t *testing.T) {
	fixture := newServiceFixture(t, func(options *ServiceOptions) {
		options.Config.GoogleWebClientID = "rooftop-client-id"
		options.GoogleValidator = &stubGoogleValidator{payload: googlePayload(map[string]interface{}{
			"iss":            "https://accounts.google.com",
			"sub":            "google-sub-1",
			"email":          "google.buyer@rooftop.example",
			"email_verified": false,
		})}
	})

	if _, err := fixture.service.GoogleSignIn(context.Background(), "some-id-token"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unverified email, got %v", err)
	}
}

func TestGoogleSignInRejectsWrongIssuer(t *testing.T) {
	fixture := newServiceFixture(t, func(options *ServiceOptions) {
		options.Config.GoogleWebClientID = "rooftop-client-id"
		options.GoogleValidator = &stubGoogleValidator{payload: googlePayload(map[string]interface{}{
			"iss":            "https://evil.example",
			"sub":            "google-sub-1",
			"email":          "google.buyer@rooftop.example",
			"email_verified": true,
		})}
	})

	if _, err := fixture.service.GoogleSignIn(context.Background(), "some-id-token"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for foreign issuer, got %v", err)
	}
}

func TestGoogleSignInValidatorFailure(t *testing.T) {
	fixture := newServiceFixture(t, func(options *ServiceOptions) {
		options.Config.GoogleWebClientID = "rooftop-client-id"
		options.GoogleValidator = &stubGoogleValidator{validateErr: errors.New("bad signature")}
	})

	if _, err := fixture.service.GoogleSignIn(context.Background(), "some-id-token"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for validator failure, got %v", err)
	}
	if fixture.metrics.Count("google_sign_in_failure") != 1 {
		t.Fatalf("expected google_sign_in_failure counted")
	}
}
