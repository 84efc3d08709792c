// Package apiclient wraps the HTTP transport with reachability checks, bearer
// injection, a single refresh-and-retry on 401, response interpretation and
// error normalization.
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/questline/internal/domain"
	"github.com/ashureev/questline/internal/metrics"
	"github.com/ashureev/questline/internal/netcheck"
	"github.com/ashureev/questline/internal/session"
	"github.com/ashureev/questline/internal/transport"
	"golang.org/x/sync/singleflight"
)

// Issuer issues a single HTTP request. *transport.Transport implements it.
type Issuer interface {
	Issue(ctx context.Context, req transport.Request) (*http.Response, error)
}

// Client is the request orchestrator shared by the session and chat layers.
type Client struct {
	transport Issuer
	sessions  *session.Store
	probe     netcheck.Probe
	metrics   *metrics.Metrics
	logger    *slog.Logger

	refreshGroup singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithProbe sets the reachability probe (default: always reachable).
func WithProbe(p netcheck.Probe) Option {
	return func(c *Client) { c.probe = p }
}

// WithMetrics sets the counters sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client.
func New(t Issuer, sessions *session.Store, opts ...Option) *Client {
	c := &Client{
		transport: t,
		sessions:  sessions,
		probe:     netcheck.Always,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sessions returns the session store the client reads tokens from.
func (c *Client) Sessions() *session.Store {
	return c.sessions
}

// Public performs an unauthenticated request (login, signup, refresh).
func (c *Client) Public(ctx context.Context, endpoint, method string, body any) (*Result, error) {
	if !c.probe.Reachable(ctx) {
		return c.record(nil, connectivityError())
	}

	resp, err := c.transport.Issue(ctx, transport.Request{Endpoint: endpoint, Method: method, Body: body})
	if err != nil {
		return c.record(nil, c.networkFault(endpoint, err))
	}
	return c.record(interpret(resp))
}

// Request performs an authenticated request. On a 401 with allowRetry set, the
// token is refreshed once and the request is issued exactly once more without
// further refresh.
func (c *Client) Request(ctx context.Context, endpoint, method string, body any, allowRetry bool) (*Result, error) {
	if !c.probe.Reachable(ctx) {
		return c.record(nil, connectivityError())
	}

	req := transport.Request{
		Endpoint: endpoint,
		Method:   method,
		Body:     body,
		Token:    c.sessions.AccessToken(),
	}

	// Phase 1: attempt with the current token.
	resp, err := c.transport.Issue(ctx, req)
	if err != nil {
		return c.record(nil, c.networkFault(endpoint, err))
	}
	if resp.StatusCode != http.StatusUnauthorized || !allowRetry {
		return c.record(interpret(resp))
	}
	discard(resp)

	// Phase 2: refresh once.
	c.logger.Debug("Access token rejected, refreshing", "endpoint", endpoint)
	creds, err := c.Refresh(ctx)
	if err != nil {
		return c.record(nil, sessionExpiredError(err))
	}

	// Phase 3: retry once with the new token; no further refresh.
	req.Token = creds.AccessToken
	resp, err = c.transport.Issue(ctx, req)
	if err != nil {
		return c.record(nil, c.networkFault(endpoint, err))
	}
	if resp.StatusCode == http.StatusUnauthorized {
		discard(resp)
		c.logger.Warn("Retried request still unauthorized, clearing session", "endpoint", endpoint)
		if clearErr := c.sessions.Clear(ctx); clearErr != nil {
			c.logger.Error("Failed to clear session", "error", clearErr)
		}
		return c.record(nil, sessionExpiredError(nil))
	}
	return c.record(interpret(resp))
}

// Refresh exchanges the stored refresh token for a new triple. Concurrent
// callers share one in-flight exchange. On any failure the session store is
// cleared and the error is returned; callers treat that as a forced logout.
func (c *Client) Refresh(ctx context.Context) (domain.Credentials, error) {
	v, err, shared := c.refreshGroup.Do("refresh", func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	if shared {
		c.logger.Debug("Joined in-flight token refresh")
	}
	if err != nil {
		return domain.Credentials{}, err
	}
	return v.(domain.Credentials), nil
}

func (c *Client) refresh(ctx context.Context) (domain.Credentials, error) {
	refreshToken := c.sessions.RefreshToken()
	if refreshToken == "" {
		c.metrics.Refresh("no_token")
		c.clearAfterRefreshFailure(ctx, ErrNoRefreshToken)
		return domain.Credentials{}, ErrNoRefreshToken
	}

	creds, err := c.RefreshToken(ctx, refreshToken)
	if err != nil {
		c.metrics.Refresh("failure")
		c.clearAfterRefreshFailure(ctx, err)
		return domain.Credentials{}, fmt.Errorf("refresh token: %w", err)
	}
	// Servers that do not rotate omit the refresh token.
	if creds.RefreshToken == "" {
		creds.RefreshToken = refreshToken
	}
	if err := c.sessions.WriteCredentials(ctx, creds); err != nil {
		c.metrics.Refresh("failure")
		c.clearAfterRefreshFailure(ctx, err)
		return domain.Credentials{}, err
	}

	c.metrics.Refresh("success")
	c.logger.Info("Access token refreshed", "user_id", creds.UserID)
	return creds, nil
}

func (c *Client) clearAfterRefreshFailure(ctx context.Context, cause error) {
	c.logger.Warn("Token refresh failed, clearing session", "error", cause)
	if err := c.sessions.Clear(ctx); err != nil {
		c.logger.Error("Failed to clear session", "error", err)
	}
}

// networkFault normalizes any sub-HTTP failure to a single transport error.
func (c *Client) networkFault(endpoint string, err error) error {
	c.logger.Debug("Request failed below HTTP", "endpoint", endpoint, "error", err)
	return transportError(err)
}

func (c *Client) record(res *Result, err error) (*Result, error) {
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			c.metrics.Request(e.Kind.String())
		} else {
			c.metrics.Request("unknown")
		}
		return nil, err
	}
	c.metrics.Request("ok")
	return res, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
