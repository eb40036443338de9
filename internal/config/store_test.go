package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/grebion/tables/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store, email string, admin bool) *model.User {
	t.Helper()
	u := &model.User{
		Email:        email,
		PasswordHash: "$2a$10$fakehash",
		Name:         "Test User",
		IsAdmin:      admin,
		IsActive:     true,
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func TestSourceCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Create
	src := &model.Source{
		Name:     "warehouse",
		Label:    "Warehouse",
		Driver:   "postgres",
		DSN:      "postgres://localhost/test",
		Schema:   "public",
		IsActive: true,
		Pool:     model.DefaultPoolConfig(),
	}
	if err := s.CreateSource(ctx, src); err != nil {
		t.Fatalf("CreateSource: %v", err)
	}
	if src.ID == 0 {
		t.Fatal("expected non-zero ID after create")
	}

	// Duplicate name
	dup := &model.Source{Name: "warehouse", Driver: "mysql", DSN: "x"}
	if err := s.CreateSource(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate name, got %v", err)
	}

	// GetSourceByName
	got, err := s.GetSourceByName(ctx, "warehouse")
	if err != nil {
		t.Fatalf("GetSourceByName: %v", err)
	}
	if got.ID != src.ID || got.Driver != "postgres" {
		t.Errorf("got %+v", got)
	}

	// Update
	src.Label = "Updated Label"
	if err := s.UpdateSource(ctx, src); err != nil {
		t.Fatalf("UpdateSource: %v", err)
	}
	got, _ = s.GetSource(ctx, src.ID)
	if got.Label != "Updated Label" {
		t.Errorf("got label %q, want %q", got.Label, "Updated Label")
	}

	// List
	list, err := s.ListSources(ctx)
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d sources, want 1", len(list))
	}

	// Delete
	if err := s.DeleteSource(ctx, src.ID); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	if _, err := s.GetSource(ctx, src.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteSource(ctx, src.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSourcePoolRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := &model.Source{
		Name:   "pooltest",
		Driver: "postgres",
		DSN:    "postgres://localhost/test",
		Pool: model.PoolConfig{
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 10 * time.Minute,
			ConnMaxIdleTime: 2 * time.Minute,
		},
	}
	if err := s.CreateSource(ctx, src); err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	got, err := s.GetSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if got.Pool.MaxOpenConns != 50 {
		t.Errorf("MaxOpenConns: got %d, want 50", got.Pool.MaxOpenConns)
	}
	if got.Pool.MaxIdleConns != 10 {
		t.Errorf("MaxIdleConns: got %d, want 10", got.Pool.MaxIdleConns)
	}
	if got.Pool.ConnMaxLifetime != 10*time.Minute {
		t.Errorf("ConnMaxLifetime: got %v, want 10m", got.Pool.ConnMaxLifetime)
	}
	if got.Pool.ConnMaxIdleTime != 2*time.Minute {
		t.Errorf("ConnMaxIdleTime: got %v, want 2m", got.Pool.ConnMaxIdleTime)
	}
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// HasAnyAdmin - should be false initially
	has, err := s.HasAnyAdmin(ctx)
	if err != nil {
		t.Fatalf("HasAnyAdmin: %v", err)
	}
	if has {
		t.Error("expected no admins initially")
	}

	plain := createTestUser(t, s, "user@example.com", false)
	has, _ = s.HasAnyAdmin(ctx)
	if has {
		t.Error("a non-admin user must not count as admin")
	}

	admin := createTestUser(t, s, "admin@example.com", true)
	has, err = s.HasAnyAdmin(ctx)
	if err != nil {
		t.Fatalf("HasAnyAdmin: %v", err)
	}
	if !has {
		t.Error("expected admin to exist")
	}

	if err := s.CreateUser(ctx, &model.User{Email: "admin@example.com", PasswordHash: "x"}); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate email, got %v", err)
	}

	got, err := s.GetUserByEmail(ctx, "admin@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got.ID != admin.ID || !got.IsAdmin {
		t.Errorf("got %+v", got)
	}

	if err := s.UpdateUserLastLogin(ctx, admin.ID); err != nil {
		t.Fatalf("UpdateUserLastLogin: %v", err)
	}
	got, _ = s.GetUser(ctx, admin.ID)
	if got.LastLoginAt == nil {
		t.Error("expected last_login_at to be set")
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("got %d users, want 2", len(users))
	}

	if err := s.DeleteUser(ctx, plain.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := s.GetUser(ctx, plain.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAPIKeyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s, "keys@example.com", false)

	rawKey := "tbl_key_abc123def456"
	hash := HashAPIKey(rawKey)

	key := &model.APIKey{
		KeyHash:   hash,
		KeyPrefix: rawKey[:8],
		Label:     "Test Key",
		UserID:    user.ID,
		IsActive:  true,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := s.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if got.Label != "Test Key" {
		t.Errorf("got label %q, want %q", got.Label, "Test Key")
	}
	if got.UserID != user.ID {
		t.Errorf("got user ID %d, want %d", got.UserID, user.ID)
	}

	keys, err := s.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("got %d keys, want 1", len(keys))
	}

	if err := s.UpdateAPIKeyLastUsed(ctx, key.ID); err != nil {
		t.Fatalf("UpdateAPIKeyLastUsed: %v", err)
	}

	if err := s.RevokeAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	got2, _ := s.GetAPIKeyByHash(ctx, hash)
	if got2.IsActive {
		t.Error("expected key to be revoked (inactive)")
	}
}

func TestRevokeAPIKeyByPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s, "prefix@example.com", false)

	rawKey := "tbl_prefixtest_key_abcdef1234"
	hash := HashAPIKey(rawKey)
	prefix := rawKey[:15]

	key := &model.APIKey{
		KeyHash:   hash,
		KeyPrefix: prefix,
		Label:     "Prefix Test Key",
		UserID:    user.ID,
		IsActive:  true,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	if err := s.RevokeAPIKeyByPrefix(ctx, prefix); err != nil {
		t.Fatalf("RevokeAPIKeyByPrefix: %v", err)
	}
	got, err := s.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if got.IsActive {
		t.Error("expected key to be revoked (inactive)")
	}

	// Revoking again should return ErrNotFound (already inactive).
	if err := s.RevokeAPIKeyByPrefix(ctx, prefix); err != ErrNotFound {
		t.Errorf("expected ErrNotFound on second revoke, got %v", err)
	}
}

func TestDeleteUserCascadesKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s, "gone@example.com", false)
	key := &model.APIKey{KeyHash: HashAPIKey("k"), KeyPrefix: "k", UserID: user.ID, IsActive: true}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	if err := s.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := s.GetAPIKeyByHash(ctx, key.KeyHash); err != ErrNotFound {
		t.Errorf("expected key to be deleted with its user, got %v", err)
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "instance_id"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetSetting(ctx, "instance_id", "a"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting(ctx, "instance_id", "b"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	v, err := s.GetSetting(ctx, "instance_id")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if v != "b" {
		t.Errorf("got %q, want %q", v, "b")
	}
}

func TestHashAPIKey(t *testing.T) {
	hash1 := HashAPIKey("test-key-123")
	hash2 := HashAPIKey("test-key-123")
	hash3 := HashAPIKey("different-key")

	if hash1 != hash2 {
		t.Error("same input should produce same hash")
	}
	if hash1 == hash3 {
		t.Error("different input should produce different hash")
	}
	if len(hash1) != 64 { // SHA-256 hex = 64 chars
		t.Errorf("hash length %d, want 64", len(hash1))
	}
}

func TestLikePattern(t *testing.T) {
	tests := map[string]string{
		"abc":  "%abc%",
		"50%":  `%50\%%`,
		"a_b":  `%a\_b%`,
		`c:\x`: `%c:\\x%`,
	}
	for in, want := range tests {
		if got := likePattern(in); got != want {
			t.Errorf("likePattern(%q) = %q, want %q", in, got, want)
		}
	}
}
