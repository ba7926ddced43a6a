package sessionkit

import "errors"

var (
	// ErrInvalidCredentials is returned when a login password does not match.
	ErrInvalidCredentials = errors.New("auth.invalid_credentials")
	// ErrUserNotFound indicates no user record matched the lookup.
	ErrUserNotFound = errors.New("auth.user_not_found")
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("auth.email_taken")
	// ErrUnauthorized represents a missing, invalid, or revoked credential.
	ErrUnauthorized = errors.New("auth.unauthorized")
	// ErrTokenInvalid indicates a token failed signature or claim checks.
	ErrTokenInvalid = errors.New("auth.token_invalid")
	// ErrTokenExpired indicates a token passed signature checks but is past expiry.
	ErrTokenExpired = errors.New("auth.token_expired")
	// ErrRoleNotAssignable signals an attempt to self-register a privileged role.
	ErrRoleNotAssignable = errors.New("auth.role_not_assignable")
	// ErrGoogleSignInDisabled indicates no Google client ID was configured.
	ErrGoogleSignInDisabled = errors.New("auth.google_sign_in_disabled")

	// ErrResetTokenNotFound indicates the reset token was never issued or already consumed.
	ErrResetTokenNotFound = errors.New("reset_store.not_found")
	// ErrResetTokenExpired indicates the reset token expired before consumption.
	ErrResetTokenExpired = errors.New("reset_store.expired")
)
