// Package transport issues single HTTP requests against the API. It does not
// retry and does not interpret status codes or bodies.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// RequestIDHeader carries a per-request trace id.
const RequestIDHeader = "X-Request-ID"

// Request describes one call. It is constructed per call and never reused.
type Request struct {
	Endpoint string
	Method   string
	Body     any
	Token    string
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport builds and issues requests against a fixed base URL.
type Transport struct {
	baseURL   string
	client    Doer
	userAgent string
}

// Option configures a Transport.
type Option func(*Transport)

// WithClient overrides the HTTP client.
func WithClient(c Doer) Option {
	return func(t *Transport) { t.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(t *Transport) { t.userAgent = ua }
}

// New creates a Transport. No timeout is imposed beyond the client's own.
func New(baseURL string, opts ...Option) *Transport {
	t := &Transport{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{},
		userAgent: "questline-client/1.0",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// BaseURL returns the configured base URL.
func (t *Transport) BaseURL() string {
	return t.baseURL
}

// Issue sends req and returns the raw response. Network faults are returned
// unchanged; the caller owns resp.Body.
func (t *Transport) Issue(ctx context.Context, req Request) (*http.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, t.url(req.Endpoint), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", t.userAgent)
	httpReq.Header.Set(RequestIDHeader, uuid.NewString())
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	return t.client.Do(httpReq)
}

func (t *Transport) url(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return t.baseURL + endpoint
}
