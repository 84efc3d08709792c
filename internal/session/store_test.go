package session

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ashureev/questline/internal/domain"
	"github.com/ashureev/questline/internal/store"
)

func TestStore_UserIDRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore(store.NewMemory(), nil)

	// The same user arrives as a number, a float and a string.
	for _, raw := range []string{`{"userId":42}`, `{"userId":42.0}`, `{"userId":"42"}`} {
		var c domain.Credentials
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if err := s.Write(ctx, "a", "r", c.UserID); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		id, ok := s.UserID()
		if !ok || id != 42 {
			t.Errorf("after %s UserID() = %d, %v", raw, id, ok)
		}
	}
}

func TestStore_UserIDAbsentWhenUnparseable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := store.NewMemory()
	_ = kv.SetMany(ctx, map[string]string{store.KeyAuthToken: "a", store.KeyUserID: "not-a-number"})

	s := NewStore(kv, nil)
	creds, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := s.UserID(); ok {
		t.Error("expected unparseable user id to be absent")
	}
	if creds.UserID != 0 {
		t.Errorf("expected zero user id, got %d", creds.UserID)
	}
}

func TestStore_ClearAlwaysEmpties(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := store.NewMemory()
	s := NewStore(kv, nil)

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear on empty store failed: %v", err)
	}
	if err := s.Write(ctx, "a", "r", 7); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if got := s.Read(); got != (domain.Credentials{}) {
		t.Errorf("expected empty credentials, got %+v", got)
	}
	for _, k := range []string{store.KeyAuthToken, store.KeyRefreshToken, store.KeyUserID} {
		if _, ok, _ := kv.Get(ctx, k); ok {
			t.Errorf("durable key %s survived Clear", k)
		}
	}
}

func TestStore_LoadFromSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	kv, err := store.NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	if err := NewStore(kv, nil).Write(ctx, "acc", "ref", 5); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_ = kv.Close()

	kv, err = store.NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = kv.Close() }()

	creds, err := NewStore(kv, nil).Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := domain.Credentials{AccessToken: "acc", RefreshToken: "ref", UserID: 5}
	if creds != want {
		t.Errorf("got %+v, want %+v", creds, want)
	}
}

type failingKV struct{ *store.Memory }

func (f failingKV) Delete(context.Context, ...string) error { return errors.New("disk full") }

func TestStore_ClearDropsCacheOnStorageFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore(failingKV{store.NewMemory()}, nil)
	_ = s.Write(ctx, "a", "r", 1)

	if err := s.Clear(ctx); err == nil {
		t.Fatal("expected storage error")
	}
	if s.AccessToken() != "" || s.RefreshToken() != "" {
		t.Error("cache must be cleared even when storage fails")
	}
}

func TestStore_OnChangeSeesWritesAndClears(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore(store.NewMemory(), nil)

	var seen []domain.Credentials
	s.OnChange(func(c domain.Credentials) { seen = append(seen, c) })

	if err := s.Write(ctx, "a1", "r1", 7); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if len(seen) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(seen))
	}
	if seen[0].AccessToken != "a1" || seen[0].RefreshToken != "r1" || seen[0].UserID != 7 {
		t.Errorf("unexpected write notification %+v", seen[0])
	}
	if seen[1].Valid() || seen[1].RefreshToken != "" {
		t.Errorf("expected empty triple after clear, got %+v", seen[1])
	}
}
