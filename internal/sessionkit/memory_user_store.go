package sessionkit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryUserStore is an in-memory credential store intended for tests and dev.
type MemoryUserStore struct {
	mutex   sync.Mutex
	byID    map[string]*User
	byEmail map[string]string
	now     func() time.Time
}

// NewMemoryUserStore creates an empty in-memory store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new account, assigning an id when absent.
func (store *MemoryUserStore) Create(ctx context.Context, user *User) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	email := strings.ToLower(user.Email)
	if _, exists := store.byEmail[email]; exists {
		return ErrEmailTaken
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = email
	user.CreatedAt = store.now()
	user.UpdatedAt = user.CreatedAt

	record := *user
	store.byID[record.ID] = &record
	store.byEmail[email] = record.ID
	return nil
}

// FindByEmail returns the account registered under the email.
func (store *MemoryUserStore) FindByEmail(ctx context.Context, email string) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	userID, ok := store.byEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return *store.byID[userID], nil
}

// FindByID returns the account by id.
func (store *MemoryUserStore) FindByID(ctx context.Context, userID string) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, ok := store.byID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return *record, nil
}

// SetRefreshToken overwrites the persisted refresh token.
func (store *MemoryUserStore) SetRefreshToken(ctx context.Context, userID string, refreshToken string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, ok := store.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	record.RefreshToken = refreshToken
	record.UpdatedAt = store.now()
	return nil
}

// SetPasswordHash replaces the stored password hash.
func (store *MemoryUserStore) SetPasswordHash(ctx context.Context, userID string, passwordHash string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, ok := store.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	record.PasswordHash = passwordHash
	record.UpdatedAt = store.now()
	return nil
}

// UpsertGoogleUser inserts or refreshes an account keyed by Google subject.
func (store *MemoryUserStore) UpsertGoogleUser(ctx context.Context, googleID string, email string, name string) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	normalized := strings.ToLower(email)
	for _, record := range store.byID {
		if record.GoogleID == googleID {
			if record.Email != normalized {
				if ownerID, exists := store.byEmail[normalized]; exists && ownerID != record.ID {
					return User{}, ErrEmailTaken
				}
				delete(store.byEmail, record.Email)
				store.byEmail[normalized] = record.ID
				record.Email = normalized
			}
			record.Name = name
			record.UpdatedAt = store.now()
			return *record, nil
		}
	}
	if userID, exists := store.byEmail[normalized]; exists {
		record := store.byID[userID]
		record.GoogleID = googleID
		record.Name = name
		record.UpdatedAt = store.now()
		return *record, nil
	}

	record := &User{
		ID:        uuid.NewString(),
		Email:     normalized,
		Name:      name,
		Role:      RoleMember,
		GoogleID:  googleID,
		CreatedAt: store.now(),
		UpdatedAt: store.now(),
	}
	store.byID[record.ID] = record
	store.byEmail[normalized] = record.ID
	return *record, nil
}
