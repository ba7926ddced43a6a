package sessionpg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rooftopmarket/rooftop-auth/internal/sessionkit"
)

const uniqueViolationCode = "23505"

// PostgresUserStore persists marketplace accounts in PostgreSQL.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

// NewPostgresUserStore constructs a Postgres store.
func NewPostgresUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

const userColumns = `id, email, name, role, password_hash, refresh_token, google_id, created_at, updated_at`

// Create inserts a new account row.
func (store *PostgresUserStore) Create(ctx context.Context, user *sessionkit.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = strings.ToLower(user.Email)
	row := store.pool.QueryRow(ctx, `
INSERT INTO users (id, email, name, role, password_hash, refresh_token, google_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at, updated_at
`, user.ID, user.Email, user.Name, string(user.Role), user.PasswordHash, user.RefreshToken, user.GoogleID)
	if scanErr := row.Scan(&user.CreatedAt, &user.UpdatedAt); scanErr != nil {
		if isUniqueViolation(scanErr) {
			return sessionkit.ErrEmailTaken
		}
		return fmt.Errorf("user_store.create.postgres: %w", scanErr)
	}
	return nil
}

// FindByEmail locates an account by lowercase email.
func (store *PostgresUserStore) FindByEmail(ctx context.Context, email string) (sessionkit.User, error) {
	return store.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email))
}

// FindByID locates an account by id.
func (store *PostgresUserStore) FindByID(ctx context.Context, userID string) (sessionkit.User, error) {
	return store.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

// SetRefreshToken overwrites the persisted refresh token; empty clears it.
func (store *PostgresUserStore) SetRefreshToken(ctx context.Context, userID string, refreshToken string) error {
	return store.updateColumn(ctx, userID, "refresh_token", refreshToken)
}

// SetPasswordHash replaces the stored password hash.
func (store *PostgresUserStore) SetPasswordHash(ctx context.Context, userID string, passwordHash string) error {
	return store.updateColumn(ctx, userID, "password_hash", passwordHash)
}

// UpsertGoogleUser inserts or refreshes an account keyed by Google subject.
func (store *PostgresUserStore) UpsertGoogleUser(ctx context.Context, googleID string, email string, name string) (sessionkit.User, error) {
	normalized := strings.ToLower(email)

	user, findErr := store.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE google_id = $1`, googleID)
	if findErr == nil {
		return store.applyGoogleProfile(ctx, user.ID, `UPDATE users SET email = $1, name = $2, updated_at = NOW() WHERE id = $3`, normalized, name, user.ID)
	}
	if !errors.Is(findErr, sessionkit.ErrUserNotFound) {
		return sessionkit.User{}, findErr
	}

	existing, emailErr := store.FindByEmail(ctx, normalized)
	if emailErr == nil {
		return store.applyGoogleProfile(ctx, existing.ID, `UPDATE users SET google_id = $1, name = $2, updated_at = NOW() WHERE id = $3`, googleID, name, existing.ID)
	}
	if !errors.Is(emailErr, sessionkit.ErrUserNotFound) {
		return sessionkit.User{}, emailErr
	}

	fresh := sessionkit.User{
		ID:       uuid.NewString(),
		Email:    normalized,
		Name:     name,
		Role:     sessionkit.RoleMember,
		GoogleID: googleID,
	}
	if createErr := store.Create(ctx, &fresh); createErr != nil {
		return sessionkit.User{}, createErr
	}
	return fresh, nil
}

func (store *PostgresUserStore) applyGoogleProfile(ctx context.Context, userID string, query string, arguments ...interface{}) (sessionkit.User, error) {
	if _, execErr := store.pool.Exec(ctx, query, arguments...); execErr != nil {
		return sessionkit.User{}, fmt.Errorf("user_store.upsert_google.postgres: %w", execErr)
	}
	return store.FindByID(ctx, userID)
}

func (store *PostgresUserStore) findOne(ctx context.Context, query string, argument interface{}) (sessionkit.User, error) {
	var user sessionkit.User
	var role string
	var createdAt, updatedAt time.Time
	row := store.pool.QueryRow(ctx, query, argument)
	scanErr := row.Scan(&user.ID, &user.Email, &user.Name, &role, &user.PasswordHash, &user.RefreshToken, &user.GoogleID, &createdAt, &updatedAt)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return sessionkit.User{}, sessionkit.ErrUserNotFound
		}
		return sessionkit.User{}, fmt.Errorf("user_store.find.postgres: %w", scanErr)
	}
	user.Role = sessionkit.Role(role)
	user.CreatedAt = createdAt
	user.UpdatedAt = updatedAt
	return user, nil
}

func (store *PostgresUserStore) updateColumn(ctx context.Context, userID string, column string, value string) error {
	tag, execErr := store.pool.Exec(ctx, `UPDATE users SET `+column+` = $1, updated_at = NOW() WHERE id = $2`, value, userID)
	if execErr != nil {
		return fmt.Errorf("user_store.update.postgres: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return sessionkit.ErrUserNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	return false
}
