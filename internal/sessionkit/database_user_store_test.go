package sessionkit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newSQLiteStore(t *testing.T) *DatabaseUserStore {
	t.Helper()
	databaseURL := "sqlite://" + filepath.Join(t.TempDir(), "users.db")
	store, openErr := NewDatabaseUserStore(context.Background(), databaseURL)
	if openErr != nil {
		t.Fatalf("failed to open sqlite store: %v", openErr)
	}
	if store.Driver() != "sqlite" {
		t.Fatalf("expected sqlite driver label, got %q", store.Driver())
	}
	return store
}

func TestDatabaseUserStoreRejectsEmptyURL(t *testing.T) {
	if _, err := NewDatabaseUserStore(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty database URL")
	}
}

func TestResolveDialectorRejectsUnknownScheme(t *testing.T) {
	if _, _, err := resolveDialector("mysql://localhost/users"); !errors.Is(err, ErrUnsupportedDialect) {
		t.Fatalf("expected ErrUnsupportedDialect, got %v", err)
	}
	if _, _, err := resolveDialector("just-a-path"); err == nil {
		t.Fatalf("expected error for URL without scheme")
	}
}

func TestDatabaseUserStoreCreateAndFind(t *testing.T) {
	store := newSQLiteStore(t)

	user := User{Email: "Buyer@Rooftop.example", Name: "Buyer", Role: RoleMember, PasswordHash: "hash"}
	if createErr := store.Create(context.Background(), &user); createErr != nil {
		t.Fatalf("expected create to succeed, got %v", createErr)
	}
	if user.ID == "" {
		t.Fatalf("expected assigned id")
	}

	found, findErr := store.FindByEmail(context.Background(), "BUYER@rooftop.example")
	if findErr != nil {
		t.Fatalf("expected lookup by email, got %v", findErr)
	}
	if found.ID != user.ID || found.Email != "buyer@rooftop.example" {
		t.Fatalf("expected stored account, got %+v", found)
	}

	if _, findErr := store.FindByID(context.Background(), "missing"); !errors.Is(findErr, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", findErr)
	}
}

func TestDatabaseUserStoreDuplicateEmail(t *testing.T) {
	store := newSQLiteStore(t)

	first := User{Email: "buyer@rooftop.example", Name: "Buyer"}
	if createErr := store.Create(context.Background(), &first); createErr != nil {
		t.Fatalf("expected create to succeed, got %v", createErr)
	}

	second := User{Email: "buyer@rooftop.example", Name: "Twin"}
	if createErr := store.Create(context.Background(), &second); !errors.Is(createErr, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", createErr)
	}
}

func TestDatabaseUserStoreRefreshTokenLifecycle(t *testing.T) {
	store := newSQLiteStore(t)

	user := User{Email: "buyer@rooftop.example", Name: "Buyer"}
	if createErr := store.Create(context.Background(), &user); createErr != nil {
		t.Fatalf("expected create to succeed, got %v", createErr)
	}

	if err := store.SetRefreshToken(context.Background(), user.ID, "refresh-value"); err != nil {
		t.Fatalf("expected set to succeed, got %v", err)
	}
	stored, _ := store.FindByID(context.Background(), user.ID)
	if stored.RefreshToken != "refresh-value" {
		t.Fatalf("expected refresh token persisted, got %q", stored.RefreshToken)
	}

	if err := store.SetRefreshToken(context.Background(), user.ID, ""); err != nil {
		t.Fatalf("expected clear to succeed, got %v", err)
	}
	stored, _ = store.FindByID(context.Background(), user.ID)
	if stored.RefreshToken != "" {
		t.Fatalf("expected refresh token cleared")
	}

	if err := store.SetRefreshToken(context.Background(), "missing", "value"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound for unknown account, got %v", err)
	}
}

func TestDatabaseUserStoreSetPasswordHash(t *testing.T) {
	store := newSQLiteStore(t)

	user := User{Email: "buyer@rooftop.example", Name: "Buyer", PasswordHash: "old-hash"}
	if createErr := store.Create(context.Background(), &user); createErr != nil {
		t.Fatalf("expected create to succeed, got %v", createErr)
	}

	if err := store.SetPasswordHash(context.Background(), user.ID, "new-hash"); err != nil {
		t.Fatalf("expected update to succeed, got %v", err)
	}
	stored, _ := store.FindByID(context.Background(), user.ID)
	if stored.PasswordHash != "new-hash" {
		t.Fatalf("expected updated hash, got %q", stored.PasswordHash)
	}
}

func TestDatabaseUserStoreUpsertGoogleUser(t *testing.T) {
	store := newSQLiteStore(t)

	created, upsertErr := store.UpsertGoogleUser(context.Background(), "google-sub-1", "google@rooftop.example", "Google Buyer")
	if upsertErr != nil {
		t.Fatalf("expected upsert to succeed, got %v", upsertErr)
	}
	if created.Role != RoleMember || created.GoogleID != "google-sub-1" {
		t.Fatalf("expected fresh member account, got %+v", created)
	}

	renamed, upsertErr := store.UpsertGoogleUser(context.Background(), "google-sub-1", "google@rooftop.example", "Renamed")
	if upsertErr != nil {
		t.Fatalf("expected upsert to succeed, got %v", upsertErr)
	}
	if renamed.ID != created.ID || renamed.Name != "Renamed" {
		t.Fatalf("expected the same account refreshed, got %+v", renamed)
	}

	existing := User{Email: "password@rooftop.example", Name: "Password User", Role: RoleAgent, PasswordHash: "hash"}
	if createErr := store.Create(context.Background(), &existing); createErr != nil {
		t.Fatalf("expected create to succeed, got %v", createErr)
	}
	claimed, upsertErr := store.UpsertGoogleUser(context.Background(), "google-sub-2", "password@rooftop.example", "Password User")
	if upsertErr != nil {
		t.Fatalf("expected upsert to succeed, got %v", upsertErr)
	}
	if claimed.ID != existing.ID || claimed.GoogleID != "google-sub-2" {
		t.Fatalf("expected existing account claimed, got %+v", claimed)
	}
	if claimed.Role != RoleAgent || claimed.PasswordHash != "hash" {
		t.Fatalf("expected role and password preserved, got %+v", claimed)
	}
}

func TestBuildSQLiteDSNVariants(t *testing.T) {
	cases := []struct {
		rawURL   string
		expected string
	}{
		{"sqlite:users.db", "users.db"},
		{"sqlite://users.db", "users.db"},
		{"sqlite:///var/data/users.db", "/var/data/users.db"},
		{"sqlite://file::memory:?cache=shared", "file::memory:?cache=shared"},
	}
	for _, testCase := range cases {
		dialector, label, err := resolveDialector(testCase.rawURL)
		if err != nil {
			t.Fatalf("URL %q: expected resolution, got %v", testCase.rawURL, err)
		}
		if label != "sqlite" {
			t.Fatalf("URL %q: expected sqlite label, got %q", testCase.rawURL, label)
		}
		if dialector == nil {
			t.Fatalf("URL %q: expected dialector", testCase.rawURL)
		}
	}

	if _, _, err := resolveDialector("sqlite://"); err == nil {
		t.Fatalf("expected error for empty sqlite path")
	}
}
