// Package session holds the client's credential triple: an in-memory cache
// mirrored to durable key-value storage.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/questline/internal/domain"
	"github.com/ashureev/questline/internal/store"
)

// Store caches {access token, refresh token, user id} and mirrors every
// mutation to durable storage before returning. Concurrent writers are
// serialized only for memory safety; the last writer wins.
type Store struct {
	kv     store.KeyValue
	logger *slog.Logger

	mu        sync.RWMutex
	access    string
	refresh   string
	userID    string
	listeners []func(domain.Credentials)
}

// NewStore creates a Store backed by kv. Call Load once at startup.
func NewStore(kv store.KeyValue, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger}
}

// Load populates the cache from durable storage.
func (s *Store) Load(ctx context.Context) (domain.Credentials, error) {
	access, _, err := s.kv.Get(ctx, store.KeyAuthToken)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("load access token: %w", err)
	}
	refresh, _, err := s.kv.Get(ctx, store.KeyRefreshToken)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("load refresh token: %w", err)
	}
	userID, _, err := s.kv.Get(ctx, store.KeyUserID)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("load user id: %w", err)
	}

	s.mu.Lock()
	s.access, s.refresh, s.userID = access, refresh, userID
	s.mu.Unlock()

	creds := s.Read()
	s.logger.Debug("session loaded from storage", "has_access", creds.AccessToken != "", "user_id", creds.UserID)
	return creds, nil
}

// Read returns the cached triple. A user id that does not parse is absent.
func (s *Store) Read() domain.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds := domain.Credentials{AccessToken: s.access, RefreshToken: s.refresh}
	if id, err := domain.ParseID(s.userID); err == nil {
		creds.UserID = id
	}
	return creds
}

// AccessToken returns the cached access token, or "" if absent.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// RefreshToken returns the cached refresh token, or "" if absent.
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

// UserID returns the stored user id and false when absent or unparseable.
func (s *Store) UserID() (domain.ID, bool) {
	s.mu.RLock()
	raw := s.userID
	s.mu.RUnlock()
	id, err := domain.ParseID(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

// OnChange registers fn to be called with the cached triple after every
// Write and Clear, including those made by the request orchestrator. fn runs
// on the writer's goroutine and must not write to the store.
func (s *Store) OnChange(fn func(domain.Credentials)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) changed() {
	s.mu.RLock()
	listeners := append([]func(domain.Credentials){}, s.listeners...)
	s.mu.RUnlock()

	creds := s.Read()
	for _, fn := range listeners {
		fn(creds)
	}
}

// Write replaces the triple and persists it.
func (s *Store) Write(ctx context.Context, access, refresh string, userID domain.ID) error {
	entries := map[string]string{
		store.KeyAuthToken:    access,
		store.KeyRefreshToken: refresh,
		store.KeyUserID:       userID.String(),
	}
	s.mu.Lock()
	s.access, s.refresh, s.userID = access, refresh, userID.String()
	s.mu.Unlock()
	s.changed()

	if err := s.kv.SetMany(ctx, entries); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// WriteCredentials is Write for a minted triple.
func (s *Store) WriteCredentials(ctx context.Context, c domain.Credentials) error {
	return s.Write(ctx, c.AccessToken, c.RefreshToken, c.UserID)
}

// Clear empties the cache and removes the durable entries. The cache is
// cleared even if storage fails.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.access, s.refresh, s.userID = "", "", ""
	s.mu.Unlock()
	s.changed()

	if err := s.kv.Delete(ctx, store.KeyAuthToken, store.KeyRefreshToken, store.KeyUserID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
