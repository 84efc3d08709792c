// Package auth is the process-wide session facade: it drives the
// uninitialized → loading → authenticated/anonymous state machine, performs
// login, signup, logout, validation and refresh, and broadcasts snapshots.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ashureev/questline/internal/apiclient"
	"github.com/ashureev/questline/internal/domain"
	"github.com/ashureev/questline/internal/session"
)

// ErrOffline is returned by session-mutating operations while disconnected.
var ErrOffline = errors.New("no network connection")

// User-visible notices.
const (
	NoticeOffline        = "No network connection. Please try again when you are back online."
	NoticeSessionExpired = "Your session has expired. Please log in again."
)

// API is the subset of the request orchestrator the session facade uses.
// *apiclient.Client implements it.
type API interface {
	Login(ctx context.Context, req apiclient.LoginRequest) (domain.Credentials, error)
	Signup(ctx context.Context, req apiclient.SignupRequest) (domain.Credentials, error)
	CheckToken(ctx context.Context) error
	Refresh(ctx context.Context) (domain.Credentials, error)
	GetUser(ctx context.Context, id domain.ID) (*domain.User, error)
}

// Notifier shows a transient notice to the user.
type Notifier func(notice string)

// Option configures a Context.
type Option func(*Context)

// WithNotifier sets the notice sink.
func WithNotifier(n Notifier) Option {
	return func(c *Context) { c.notify = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// Context owns the session state. All methods are safe for concurrent use.
type Context struct {
	api      API
	sessions *session.Store
	notify   Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	state   domain.Session
	subs    map[int]chan domain.Session
	nextSub int
}

// New creates a Context in the uninitialized state, assumed connected.
func New(api API, sessions *session.Store, opts ...Option) *Context {
	c := &Context{
		api:      api,
		sessions: sessions,
		notify:   func(string) {},
		logger:   slog.Default(),
		state:    domain.Session{Status: domain.StatusUninitialized, IsConnected: true},
		subs:     make(map[int]chan domain.Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	sessions.OnChange(c.follow)
	return c
}

// follow keeps the snapshot in step with the session store when tokens are
// rotated or cleared outside the facade. A clear while authenticated ends
// the session.
func (c *Context) follow(creds domain.Credentials) {
	expired := false
	c.update(func(s *domain.Session) {
		if s.Status != domain.StatusAuthenticated {
			return
		}
		if !creds.Valid() {
			s.Status = domain.StatusAnonymous
			s.AccessToken, s.RefreshToken, s.UserID, s.User = "", "", 0, nil
			expired = true
			return
		}
		if creds.UserID == s.UserID {
			s.AccessToken, s.RefreshToken = creds.AccessToken, creds.RefreshToken
		}
	})
	if expired {
		c.logger.Warn("Stored session cleared, logging out")
		c.notify(NoticeSessionExpired)
	}
}

// Snapshot returns the current session.
func (c *Context) Snapshot() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel that always holds the latest snapshot and a
// function that stops delivery. Slow readers only miss intermediate states.
func (c *Context) Subscribe() (<-chan domain.Session, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan domain.Session, 1)
	ch <- c.state
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// update applies fn to the state and publishes the result.
func (c *Context) update(fn func(s *domain.Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state.Status
	fn(&c.state)
	if prev != c.state.Status {
		c.logger.Info("Session state changed", "from", prev.String(), "to", c.state.Status.String())
	}
	for _, ch := range c.subs {
		publish(ch, c.state)
	}
}

func publish(ch chan domain.Session, s domain.Session) {
	select {
	case ch <- s:
		return
	default:
	}
	// Replace the unread snapshot with the newer one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// SetConnected records network reachability. It does not change Status.
func (c *Context) SetConnected(connected bool) {
	c.update(func(s *domain.Session) { s.IsConnected = connected })
}

func (c *Context) requireConnected() error {
	if c.Snapshot().IsConnected {
		return nil
	}
	c.notify(NoticeOffline)
	return ErrOffline
}

// Init loads the stored session and, if a token and user id are present,
// fetches the profile. Any failure ends in the anonymous state.
func (c *Context) Init(ctx context.Context) error {
	c.update(func(s *domain.Session) {
		s.Status = domain.StatusLoading
		s.IsLoading = true
	})

	creds, err := c.sessions.Load(ctx)
	if err != nil {
		c.logger.Error("Failed to read stored session", "error", err)
		_ = c.signOut(ctx)
		return err
	}
	if !creds.Valid() {
		c.logger.Debug("No stored session")
		_ = c.signOut(ctx)
		return nil
	}

	user, err := c.api.GetUser(ctx, creds.UserID)
	if err != nil {
		c.logger.Warn("Stored session rejected, logging out", "user_id", creds.UserID, "error", err)
		_ = c.signOut(ctx)
		return err
	}
	c.signIn(c.sessions.Read(), user)
	return nil
}

// Login authenticates with email and password. On failure the session is
// left unchanged and the error is returned for display.
func (c *Context) Login(ctx context.Context, email, password string) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	return c.establish(ctx, func() (domain.Credentials, error) {
		return c.api.Login(ctx, apiclient.LoginRequest{Email: email, Password: password})
	})
}

// Signup registers a new account and signs in. On failure the session is
// left unchanged.
func (c *Context) Signup(ctx context.Context, username, email, password string) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	return c.establish(ctx, func() (domain.Credentials, error) {
		return c.api.Signup(ctx, apiclient.SignupRequest{Username: username, Email: email, Password: password})
	})
}

func (c *Context) establish(ctx context.Context, mint func() (domain.Credentials, error)) error {
	c.update(func(s *domain.Session) { s.IsLoading = true })
	defer c.update(func(s *domain.Session) { s.IsLoading = false })

	creds, err := mint()
	if err != nil {
		return err
	}
	if err := c.sessions.WriteCredentials(ctx, creds); err != nil {
		c.rollback(ctx)
		return err
	}
	user, err := c.api.GetUser(ctx, creds.UserID)
	if err != nil {
		c.logger.Warn("Profile fetch failed after sign-in", "user_id", creds.UserID, "error", err)
		c.rollback(ctx)
		return err
	}
	c.signIn(c.sessions.Read(), user)
	return nil
}

// rollback undoes a half-finished sign-in so the previous state stands.
func (c *Context) rollback(ctx context.Context) {
	prev := c.Snapshot()
	if prev.Authenticated() {
		if err := c.sessions.Write(ctx, prev.AccessToken, prev.RefreshToken, prev.UserID); err != nil {
			c.logger.Error("Failed to restore previous session", "error", err)
		}
		return
	}
	if err := c.sessions.Clear(ctx); err != nil {
		c.logger.Error("Failed to clear session", "error", err)
	}
}

// Logout clears the stored session. It works offline.
func (c *Context) Logout(ctx context.Context) error {
	c.logger.Info("Logging out")
	return c.signOut(ctx)
}

// ValidateSession asks the server whether the session is still valid and
// logs out if not.
func (c *Context) ValidateSession(ctx context.Context) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	if err := c.api.CheckToken(ctx); err != nil {
		c.forceLogout(ctx, err)
		return err
	}
	return nil
}

// RefreshSession exchanges the refresh token for new credentials and logs
// out on failure.
func (c *Context) RefreshSession(ctx context.Context) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	if _, err := c.api.Refresh(ctx); err != nil {
		c.forceLogout(ctx, err)
		return err
	}
	return nil
}

// HandleError reacts to errors from requests made outside the facade. The
// snapshot already follows the store; an authentication failure that left
// the session in place still forces a logout. err is returned unchanged.
func (c *Context) HandleError(ctx context.Context, err error) error {
	if apiclient.KindOf(err) == apiclient.KindAuth {
		c.forceLogout(ctx, err)
	}
	return err
}

// forceLogout ends an authenticated session with the expiry notice, unless
// the store was already cleared and follow has done so.
func (c *Context) forceLogout(ctx context.Context, cause error) {
	if c.Snapshot().Status != domain.StatusAuthenticated {
		return
	}
	c.logger.Warn("Session no longer valid, logging out", "error", cause)
	if apiclient.KindOf(cause) != apiclient.KindConnectivity {
		c.notify(NoticeSessionExpired)
	}
	_ = c.signOut(ctx)
}

func (c *Context) signIn(creds domain.Credentials, user *domain.User) {
	c.update(func(s *domain.Session) {
		s.Status = domain.StatusAuthenticated
		s.AccessToken = creds.AccessToken
		s.RefreshToken = creds.RefreshToken
		s.UserID = creds.UserID
		s.User = user
		s.IsLoading = false
	})
}

// signOut moves to anonymous before clearing the store so follow sees a
// session that is already over.
func (c *Context) signOut(ctx context.Context) error {
	c.update(func(s *domain.Session) {
		s.Status = domain.StatusAnonymous
		s.AccessToken, s.RefreshToken, s.UserID, s.User = "", "", 0, nil
		s.IsLoading = false
	})
	err := c.sessions.Clear(ctx)
	if err != nil {
		c.logger.Error("Failed to clear stored session", "error", err)
	}
	return err
}
