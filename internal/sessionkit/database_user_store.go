package sessionkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("user_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("user_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("user_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("user_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("user_store.unsupported_no_scheme")
)

// DatabaseUserStore persists marketplace accounts using GORM.
type DatabaseUserStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseUserStore) Driver() string {
	return store.driverLabel
}

type userRecord struct {
	ID           string `gorm:"column:id;primaryKey"`
	Email        string `gorm:"column:email;uniqueIndex;not null"`
	Name         string `gorm:"column:name;not null"`
	Role         string `gorm:"column:role;not null;default:member"`
	PasswordHash string `gorm:"column:password_hash;not null;default:''"`
	RefreshToken string `gorm:"column:refresh_token;not null;default:''"`
	GoogleID     string `gorm:"column:google_id;index;not null;default:''"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userRecord) TableName() string {
	return "users"
}

// NewDatabaseUserStore constructs a GORM-backed store from a database URL
// (postgres:// or sqlite://).
func NewDatabaseUserStore(ctx context.Context, databaseURL string) (*DatabaseUserStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("user_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if openErr != nil {
		return nil, fmt.Errorf("user_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&userRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("user_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseUserStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Create inserts a new account record.
func (store *DatabaseUserStore) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = strings.ToLower(user.Email)
	record := recordFromUser(*user)
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return fmt.Errorf("user_store.create.%s: %w", store.driverLabel, err)
	}
	user.CreatedAt = record.CreatedAt
	user.UpdatedAt = record.UpdatedAt
	return nil
}

// FindByEmail locates an account by lowercase email.
func (store *DatabaseUserStore) FindByEmail(ctx context.Context, email string) (User, error) {
	var record userRecord
	err := store.db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("user_store.find_by_email.%s: %w", store.driverLabel, err)
	}
	return record.toUser(), nil
}

// FindByID locates an account by id.
func (store *DatabaseUserStore) FindByID(ctx context.Context, userID string) (User, error) {
	var record userRecord
	err := store.db.WithContext(ctx).Where("id = ?", userID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("user_store.find_by_id.%s: %w", store.driverLabel, err)
	}
	return record.toUser(), nil
}

// SetRefreshToken overwrites the persisted refresh token; empty clears it.
func (store *DatabaseUserStore) SetRefreshToken(ctx context.Context, userID string, refreshToken string) error {
	return store.updateColumn(ctx, userID, "refresh_token", refreshToken)
}

// SetPasswordHash replaces the stored password hash.
func (store *DatabaseUserStore) SetPasswordHash(ctx context.Context, userID string, passwordHash string) error {
	return store.updateColumn(ctx, userID, "password_hash", passwordHash)
}

// UpsertGoogleUser inserts or refreshes an account keyed by Google subject.
func (store *DatabaseUserStore) UpsertGoogleUser(ctx context.Context, googleID string, email string, name string) (User, error) {
	normalized := strings.ToLower(email)

	var record userRecord
	err := store.db.WithContext(ctx).Where("google_id = ?", googleID).Take(&record).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("user_store.upsert_google.%s: %w", store.driverLabel, err)
	}
	if err == nil {
		updates := map[string]interface{}{"email": normalized, "name": name}
		if updateErr := store.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", record.ID).Updates(updates).Error; updateErr != nil {
			return User{}, fmt.Errorf("user_store.upsert_google.%s: %w", store.driverLabel, updateErr)
		}
		return store.FindByID(ctx, record.ID)
	}

	// An email-registered account claims the Google identity on first OAuth login.
	existing, findErr := store.FindByEmail(ctx, normalized)
	if findErr == nil {
		updates := map[string]interface{}{"google_id": googleID, "name": name}
		if updateErr := store.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", existing.ID).Updates(updates).Error; updateErr != nil {
			return User{}, fmt.Errorf("user_store.upsert_google.%s: %w", store.driverLabel, updateErr)
		}
		return store.FindByID(ctx, existing.ID)
	}
	if !errors.Is(findErr, ErrUserNotFound) {
		return User{}, findErr
	}

	fresh := User{
		ID:       uuid.NewString(),
		Email:    normalized,
		Name:     name,
		Role:     RoleMember,
		GoogleID: googleID,
	}
	if createErr := store.Create(ctx, &fresh); createErr != nil {
		return User{}, createErr
	}
	return fresh, nil
}

func (store *DatabaseUserStore) updateColumn(ctx context.Context, userID string, column string, value string) error {
	result := store.db.WithContext(ctx).Model(&userRecord{}).
		Where("id = ?", userID).
		Update(column, value)
	if result.Error != nil {
		return fmt.Errorf("user_store.update.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		var record userRecord
		findErr := store.db.WithContext(ctx).Where("id = ?", userID).Take(&record).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		if findErr != nil {
			return fmt.Errorf("user_store.update.%s: %w", store.driverLabel, findErr)
		}
	}
	return nil
}

func recordFromUser(user User) userRecord {
	return userRecord{
		ID:           user.ID,
		Email:        user.Email,
		Name:         user.Name,
		Role:         string(user.Role),
		PasswordHash: user.PasswordHash,
		RefreshToken: user.RefreshToken,
		GoogleID:     user.GoogleID,
	}
}

func (record userRecord) toUser() User {
	return User{
		ID:           record.ID,
		Email:        record.Email,
		Name:         record.Name,
		Role:         Role(record.Role),
		PasswordHash: record.PasswordHash,
		RefreshToken: record.RefreshToken,
		GoogleID:     record.GoogleID,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("user_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("user_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("user_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("user_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
