package sessionkit

import (
	"context"
	"sync"
	"time"
)

type memoryResetTokenStore struct {
	mutex   sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryResetTokenStore constructs an in-memory ResetTokenStore.
// Entries are purged lazily on access.
func NewMemoryResetTokenStore() ResetTokenStore {
	return &memoryResetTokenStore{
		entries: make(map[string]time.Time),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (store *memoryResetTokenStore) Register(ctx context.Context, tokenID string, expiresAt time.Time) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeExpiredLocked()
	store.entries[tokenID] = expiresAt
	return nil
}

func (store *memoryResetTokenStore) Consume(ctx context.Context, tokenID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	expiry, ok := store.entries[tokenID]
	if !ok {
		store.purgeExpiredLocked()
		return ErrResetTokenNotFound
	}
	delete(store.entries, tokenID)
	if store.now().After(expiry) {
		store.purgeExpiredLocked()
		return ErrResetTokenExpired
	}
	store.purgeExpiredLocked()
	return nil
}

func (store *memoryResetTokenStore) purgeExpiredLocked() {
	if len(store.entries) == 0 {
		return
	}
	now := store.now()
	for tokenID, expiry := range store.entries {
		if now.After(expiry) {
			delete(store.entries, tokenID)
		}
	}
}
