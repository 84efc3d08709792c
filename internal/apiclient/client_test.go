package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/questline/internal/domain"
	"github.com/ashureev/questline/internal/netcheck"
	"github.com/ashureev/questline/internal/session"
	"github.com/ashureev/questline/internal/store"
	"github.com/ashureev/questline/internal/transport"
)

func newTestClient(t *testing.T, h http.Handler, opts ...Option) (*Client, *session.Store) {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	sessions := session.NewStore(store.NewMemory(), nil)
	return New(transport.New(server.URL), sessions, opts...), sessions
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func TestRequest_RefreshesOnceAndRetriesWithNewToken(t *testing.T) {
	var refreshCalls, questCalls atomic.Int32
	var tokensSeen []string
	var mu sync.Mutex

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		var body refreshRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.RefreshToken != "r1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad refresh"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "a2", "refreshToken": "r2", "userId": 7})
	})
	mux.HandleFunc("/quests/1", func(w http.ResponseWriter, r *http.Request) {
		questCalls.Add(1)
		mu.Lock()
		tokensSeen = append(tokensSeen, bearer(r))
		mu.Unlock()
		if bearer(r) != "a2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"name": "run"})
	})

	c, sessions := newTestClient(t, mux)
	ctx := context.Background()
	_ = sessions.Write(ctx, "a1", "r1", 7)

	res, err := c.Request(ctx, "/quests/1", http.MethodGet, nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var quest map[string]string
	if err := res.Decode(&quest); err != nil || quest["name"] != "run" {
		t.Fatalf("unexpected body %v err=%v", quest, err)
	}

	if refreshCalls.Load() != 1 {
		t.Errorf("expected 1 refresh, got %d", refreshCalls.Load())
	}
	if questCalls.Load() != 2 {
		t.Errorf("expected exactly one retry, got %d calls", questCalls.Load())
	}
	if tokensSeen[0] != "a1" || tokensSeen[1] != "a2" {
		t.Errorf("unexpected tokens %v", tokensSeen)
	}
	if got := sessions.Read(); got.AccessToken != "a2" || got.RefreshToken != "r2" {
		t.Errorf("session not rotated: %+v", got)
	}
}

func TestRequest_SecondUnauthorizedDoesNotRefreshAgain(t *testing.T) {
	var refreshCalls, calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "a2", "refreshToken": "r2", "userId": 7})
	})
	mux.HandleFunc("/feeds", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	c, sessions := newTestClient(t, mux)
	ctx := context.Background()
	_ = sessions.Write(ctx, "a1", "r1", 7)

	_, err := c.Request(ctx, "/feeds", http.MethodGet, nil, true)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected session expired, got %v", err)
	}
	if KindOf(err) != KindAuth {
		t.Errorf("expected KindAuth, got %v", KindOf(err))
	}
	if refreshCalls.Load() != 1 || calls.Load() != 2 {
		t.Errorf("refreshes=%d calls=%d, want 1 and 2", refreshCalls.Load(), calls.Load())
	}
	if got := sessions.Read(); got != (domain.Credentials{}) {
		t.Errorf("expected cleared session, got %+v", got)
	}
}

func TestRequest_NoRetryWhenDisallowed(t *testing.T) {
	var refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
	})
	mux.HandleFunc("/users/1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token expired"})
	})

	c, sessions := newTestClient(t, mux)
	_ = sessions.Write(context.Background(), "a1", "r1", 1)

	_, err := c.Request(context.Background(), "/users/1", http.MethodGet, nil, false)
	if KindOf(err) != KindProtocol || err.Error() != "token expired" {
		t.Fatalf("expected protocol error 'token expired', got %v (%v)", err, KindOf(err))
	}
	if refreshCalls.Load() != 0 {
		t.Error("refresh must not run when retry is disallowed")
	}
}

func TestRefresh_NoStoredTokenSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	c, sessions := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	ctx := context.Background()
	// Access token present, refresh token absent.
	_ = sessions.Write(ctx, "a1", "", 3)

	_, err := c.Refresh(ctx)
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected ErrNoRefreshToken, got %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("expected no network calls, got %d", hits.Load())
	}
	if got := sessions.Read(); got != (domain.Credentials{}) {
		t.Errorf("expected cleared session, got %+v", got)
	}
}

func TestRefresh_FailureClearsSession(t *testing.T) {
	c, sessions := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "refresh revoked"})
	}))
	ctx := context.Background()
	_ = sessions.Write(ctx, "a1", "r1", 3)

	if _, err := c.Refresh(ctx); err == nil {
		t.Fatal("expected refresh failure")
	}
	if got := sessions.Read(); got != (domain.Credentials{}) {
		t.Errorf("expected cleared session, got %+v", got)
	}
}

func TestRefresh_CoalescesConcurrentCallers(t *testing.T) {
	var refreshCalls atomic.Int32
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		<-release
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "a2", "refreshToken": "r2", "userId": 7})
	})
	mux.HandleFunc("/friendships", func(w http.ResponseWriter, r *http.Request) {
		if bearer(r) != "a2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, []int{})
	})

	c, sessions := newTestClient(t, mux)
	ctx := context.Background()
	_ = sessions.Write(ctx, "a1", "r1", 7)

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Request(ctx, "/friendships", http.MethodGet, nil, true)
			errs <- err
		}()
	}
	// Let every caller reach the refresh before it completes.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if refreshCalls.Load() != 1 {
		t.Errorf("expected a single coalesced refresh, got %d", refreshCalls.Load())
	}
}

func TestRequest_ErrorBodyExtraction(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		body        string
		wantKind    Kind
		wantMsg     string
	}{
		{"json error field", "application/json", `{"error":"Quest not found"}`, KindProtocol, "Quest not found"},
		{"json message field", "application/json; charset=utf-8", `{"message":"Name taken"}`, KindProtocol, "Name taken"},
		{"plain text", "text/plain", "Internal Server Error", KindProtocol, "Internal Server Error"},
		{"json without fields", "application/json", `{"code":12}`, KindProtocol, `{"code":12}`},
		{"json string", "application/json", `"Internal Server Error"`, KindProtocol, "Internal Server Error"},
		{"broken json", "application/json", `{"error":`, KindMalformed, ""},
		{"undeclared json shape", "text/html", `{oops`, KindMalformed, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, sessions := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tc.contentType)
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(tc.body))
			}))
			_ = sessions.Write(context.Background(), "a", "r", 1)

			_, err := c.Request(context.Background(), "/quests/9", http.MethodGet, nil, true)
			if KindOf(err) != tc.wantKind {
				t.Fatalf("kind = %v, want %v (err %v)", KindOf(err), tc.wantKind, err)
			}
			if StatusOf(err) != http.StatusInternalServerError {
				t.Errorf("status = %d", StatusOf(err))
			}
			if tc.wantMsg != "" && err.Error() != tc.wantMsg {
				t.Errorf("message = %q, want %q", err.Error(), tc.wantMsg)
			}
		})
	}
}

func TestRequest_SuccessBranchesOnContentType(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/powerups", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"count": 3})
	})
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("pong"))
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	res, err := c.Request(ctx, "/powerups", http.MethodGet, nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := res.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if m, ok := v.(map[string]any); !ok || m["count"] != float64(3) {
		t.Errorf("expected structured value, got %#v", v)
	}

	res, err = c.Request(ctx, "/ping", http.MethodGet, nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsJSON || res.Text() != "pong" {
		t.Errorf("expected raw text, got %+v", res)
	}
	if v, _ := res.Value(); v != "pong" {
		t.Errorf("Value() = %v", v)
	}
}

func TestRequest_UnreachableFailsFast(t *testing.T) {
	var hits atomic.Int32
	offline := netcheck.ProbeFunc(func(context.Context) bool { return false })
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}), WithProbe(offline))

	_, err := c.Request(context.Background(), "/users/1", http.MethodGet, nil, true)
	if !errors.Is(err, ErrNoConnection) || KindOf(err) != KindConnectivity {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	_, err = c.Public(context.Background(), EndpointLogin, http.MethodPost, nil)
	if !errors.Is(err, ErrNoConnection) {
		t.Fatalf("expected connectivity error from Public, got %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("no request may be attempted when unreachable, got %d", hits.Load())
	}
}

func TestRequest_TransportFaultNormalized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	c := New(transport.New(url), session.NewStore(store.NewMemory(), nil))
	_, err := c.Request(context.Background(), "/users/1", http.MethodGet, nil, true)
	if !errors.Is(err, ErrNoInternet) || KindOf(err) != KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
	if err.Error() != ErrNoInternet.Error() {
		t.Errorf("message must not leak transport details: %q", err.Error())
	}
	if errors.Unwrap(err) == nil {
		t.Error("expected underlying cause to be kept for logging")
	}
}

func TestLogin_DecodesCredentials(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != EndpointLogin || r.Header.Get("Authorization") != "" {
			t.Errorf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "a", "refreshToken": "r", "userId": "11"})
	}))

	creds, err := c.Login(context.Background(), LoginRequest{Email: "a@b.c", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if creds.UserID != 11 || creds.AccessToken != "a" {
		t.Errorf("unexpected creds %+v", creds)
	}
}

func TestLogin_MissingTokenIsMalformed(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"refreshToken": "r"})
	}))
	_, err := c.Login(context.Background(), LoginRequest{})
	if KindOf(err) != KindMalformed {
		t.Fatalf("expected malformed, got %v", err)
	}
}
