// Package mockapi is an in-process stand-in for the questline HTTP API and
// realtime chat channel, used by tests and by cmd/mockapi.
package mockapi

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/questline/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DefaultAccessTTL is the lifetime of minted access tokens.
const DefaultAccessTTL = 15 * time.Minute

// Errors returned by account operations.
var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
)

type account struct {
	user         domain.User
	passwordHash []byte
}

// Server holds accounts, tokens and chat history in memory.
type Server struct {
	logger    *slog.Logger
	hub       *Hub
	secret    []byte
	accessTTL time.Duration

	mu            sync.Mutex
	accounts      map[domain.ID]*account
	byEmail       map[string]domain.ID
	access        map[string]domain.ID
	refresh       map[string]domain.ID
	messages      map[domain.ID][]domain.MessagePayload
	nextUserID    domain.ID
	nextMessageID domain.ID
	refreshCalls  int
	rotate        bool
}

// New creates an empty server. Refresh tokens rotate on every refresh.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:    logger,
		secret:    []byte(uuid.NewString()),
		accessTTL: DefaultAccessTTL,
		accounts:  make(map[domain.ID]*account),
		byEmail:   make(map[string]domain.ID),
		access:    make(map[string]domain.ID),
		refresh:   make(map[string]domain.ID),
		messages:  make(map[domain.ID][]domain.MessagePayload),
		rotate:    true,
	}
	s.hub = NewHub(s.storeMessage, logger)
	return s
}

// Hub returns the chat hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Register creates an account and mints its first token pair.
func (s *Server) Register(username, email, password string) (domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	if _, exists := s.byEmail[email]; exists {
		return domain.Credentials{}, ErrEmailTaken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("hash password: %w", err)
	}
	s.nextUserID++
	id := s.nextUserID
	s.accounts[id] = &account{
		user:         domain.User{ID: id, Username: username, Email: email},
		passwordHash: hash,
	}
	s.byEmail[email] = id
	s.logger.Info("Account registered", "user_id", id, "username", username)
	return s.mintLocked(id)
}

// Authenticate checks a password and mints a fresh token pair.
func (s *Server) Authenticate(email, password string) (domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return domain.Credentials{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(s.accounts[id].passwordHash, []byte(password)) != nil {
		return domain.Credentials{}, ErrInvalidCredentials
	}
	return s.mintLocked(id)
}

// Refresh exchanges a refresh token for a new access token. When rotation is
// on the old refresh token is revoked and a new one returned.
func (s *Server) Refresh(refreshToken string) (domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshCalls++
	id, ok := s.refresh[refreshToken]
	if !ok {
		return domain.Credentials{}, ErrInvalidRefresh
	}
	if !s.rotate {
		access, err := s.signAccessLocked(id)
		if err != nil {
			return domain.Credentials{}, err
		}
		return domain.Credentials{AccessToken: access, UserID: id}, nil
	}
	delete(s.refresh, refreshToken)
	return s.mintLocked(id)
}

func (s *Server) mintLocked(id domain.ID) (domain.Credentials, error) {
	access, err := s.signAccessLocked(id)
	if err != nil {
		return domain.Credentials{}, err
	}
	creds := domain.Credentials{
		AccessToken:  access,
		RefreshToken: "rt_" + uuid.NewString(),
		UserID:       id,
	}
	s.refresh[creds.RefreshToken] = id
	return creds, nil
}

// signAccessLocked issues an HS256 access token for id and records it so it
// can be revoked before it expires.
func (s *Server) signAccessLocked(id domain.ID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   id.String(),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	s.access[token] = id
	return token, nil
}

// ResolveAccess implements identity.TokenResolver. The token must carry a
// valid signature, be unexpired and not have been revoked.
func (s *Server) ResolveAccess(token string) (domain.ID, bool) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return 0, false
	}
	subject, err := domain.ParseID(claims.Subject)
	if err != nil {
		return 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.access[token]
	return id, ok && id == subject
}

// SetAccessTTL changes the lifetime of access tokens minted from now on.
func (s *Server) SetAccessTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTTL = ttl
}

// User returns a profile.
func (s *Server) User(id domain.ID) (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return domain.User{}, false
	}
	return a.user, true
}

// ExpireAccessTokens revokes every access token; refresh tokens stay valid.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = make(map[string]domain.ID)
}

// RevokeRefreshTokens revokes every refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = make(map[string]domain.ID)
}

// SetRotation controls whether refresh responses carry a new refresh token.
func (s *Server) SetRotation(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotate = on
}

// RefreshCalls returns how many refresh requests were served.
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// Messages returns the stored history of a quest room.
func (s *Server) Messages(questID domain.ID) []domain.MessagePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MessagePayload, len(s.messages[questID]))
	copy(out, s.messages[questID])
	return out
}

// storeMessage validates and appends a message, assigning its server id.
func (s *Server) storeMessage(sender domain.ID, p domain.MessagePayload) (domain.MessagePayload, error) {
	if _, err := p.Message(); err != nil {
		return domain.MessagePayload{}, err
	}
	if p.UserID != sender {
		return domain.MessagePayload{}, errSenderMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMessageID++
	p.ID = s.nextMessageID
	s.messages[p.QuestID] = append(s.messages[p.QuestID], p)
	return p, nil
}

var errSenderMismatch = errors.New("user_id does not match the authenticated user")
