package sessionkit

import (
	"context"
	"time"
)

// User is the credential-store record for a marketplace account.
type User struct {
	ID           string
	Email        string
	Name         string
	Role         Role
	PasswordHash string
	// RefreshToken holds the single active refresh token for the account,
	// empty when logged out. Last write wins.
	RefreshToken string
	GoogleID     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Sanitized strips credential material for response payloads.
func (user User) Sanitized() User {
	user.PasswordHash = ""
	user.RefreshToken = ""
	return user
}

// UserStore persists and retrieves marketplace accounts.
type UserStore interface {
	// Create inserts a new account. Returns ErrEmailTaken when the email
	// is already registered.
	Create(ctx context.Context, user *User) error
	// FindByEmail returns the account for a lowercase email or ErrUserNotFound.
	FindByEmail(ctx context.Context, email string) (User, error)
	// FindByID returns the account by id or ErrUserNotFound.
	FindByID(ctx context.Context, userID string) (User, error)
	// SetRefreshToken overwrites the persisted refresh token. An empty
	// token clears the field.
	SetRefreshToken(ctx context.Context, userID string, refreshToken string) error
	// SetPasswordHash replaces the stored password hash.
	SetPasswordHash(ctx context.Context, userID string, passwordHash string) error
	// UpsertGoogleUser inserts or refreshes an account keyed by Google
	// subject, returning the stored record.
	UpsertGoogleUser(ctx context.Context, googleID string, email string, name string) (User, error)
}

// ResetTokenStore tracks one-time password-reset token ids so a mailed
// reset link cannot be replayed after use.
type ResetTokenStore interface {
	// Register records a freshly minted reset token id with its expiry.
	Register(ctx context.Context, tokenID string, expiresAt time.Time) error
	// Consume validates and invalidates a reset token id.
	Consume(ctx context.Context, tokenID string) error
}
