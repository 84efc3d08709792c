package mockapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/questline/internal/domain"
	"github.com/coder/websocket"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(nil)
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusNotFound, "Quest not found")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"error":"Quest not found"}` {
		t.Errorf("Unexpected body %s", got)
	}
}

func TestSignupLoginAndRefreshRotation(t *testing.T) {
	s, ts := newTestServer(t)

	resp := post(t, ts.URL+"/auth/signup", "", signupRequest{Username: "ana", Email: "ana@q.io", Password: "pw"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	var first domain.Credentials
	_ = json.NewDecoder(resp.Body).Decode(&first)
	if !first.Valid() || first.RefreshToken == "" {
		t.Fatalf("Expected full credentials, got %+v", first)
	}

	if resp := post(t, ts.URL+"/auth/signup", "", signupRequest{Username: "ana", Email: "ANA@q.io", Password: "pw"}); resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate email, got %d", resp.StatusCode)
	}
	if resp := post(t, ts.URL+"/auth/login", "", loginRequest{Email: "ana@q.io", Password: "bad"}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 for bad password, got %d", resp.StatusCode)
	}

	resp = post(t, ts.URL+"/auth/refresh-token", "", refreshRequest{RefreshToken: first.RefreshToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected refresh 200, got %d", resp.StatusCode)
	}
	var second domain.Credentials
	_ = json.NewDecoder(resp.Body).Decode(&second)
	if second.RefreshToken == first.RefreshToken || second.UserID != first.UserID {
		t.Errorf("Expected rotated refresh token for same user, got %+v", second)
	}

	// The old refresh token is spent.
	if resp := post(t, ts.URL+"/auth/refresh-token", "", refreshRequest{RefreshToken: first.RefreshToken}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 for reused refresh token, got %d", resp.StatusCode)
	}
	if s.RefreshCalls() != 2 {
		t.Errorf("Expected 2 refresh calls, got %d", s.RefreshCalls())
	}
}

func TestCheckToken_ExpiredAccessToken(t *testing.T) {
	s, ts := newTestServer(t)
	creds, _ := s.Register("bo", "bo@q.io", "pw")

	if resp := post(t, ts.URL+"/auth/check-token", creds.AccessToken, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	s.ExpireAccessTokens()
	if resp := post(t, ts.URL+"/auth/check-token", creds.AccessToken, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 after expiry, got %d", resp.StatusCode)
	}
}

func TestPostMessage_ValidatesAndStores(t *testing.T) {
	s, ts := newTestServer(t)
	creds, _ := s.Register("cy", "cy@q.io", "pw")
	sentAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).Format(time.RFC3339Nano)

	bad := domain.MessagePayload{QuestID: 3, UserID: creds.UserID, SentAt: sentAt}
	if resp := post(t, ts.URL+"/quests/3/messages", creds.AccessToken, bad); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty text, got %d", resp.StatusCode)
	}
	spoofed := domain.MessagePayload{QuestID: 3, UserID: creds.UserID + 1, Text: "hi", SentAt: sentAt}
	if resp := post(t, ts.URL+"/quests/3/messages", creds.AccessToken, spoofed); resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 for spoofed sender, got %d", resp.StatusCode)
	}

	ok := domain.MessagePayload{QuestID: 3, UserID: creds.UserID, Text: "hi", SentAt: sentAt}
	resp := post(t, ts.URL+"/quests/3/messages", creds.AccessToken, ok)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	var stored domain.MessagePayload
	_ = json.NewDecoder(resp.Body).Decode(&stored)
	if stored.ID.IsZero() {
		t.Error("Expected server-assigned id")
	}
	if got := s.Messages(3); len(got) != 1 || got[0].Text != "hi" {
		t.Errorf("Unexpected history %+v", got)
	}
}

func TestChat_ConnectedNoticeAndBroadcast(t *testing.T) {
	s, ts := newTestServer(t)
	creds, _ := s.Register("di", "di@q.io", "pw")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat/8"
	header := http.Header{"Authorization": []string{"Bearer " + creds.AccessToken}}
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	_, data, err := conn.Read(ctx)
	if err != nil || string(data) != ConnectedNotice {
		t.Fatalf("Expected connected notice, got %q err=%v", data, err)
	}

	msg := domain.MessagePayload{QuestID: 8, UserID: creds.UserID, Text: "yo", SentAt: time.Now().UTC().Format(time.RFC3339Nano)}
	out, _ := json.Marshal(msg)
	if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var echoed domain.MessagePayload
	if err := json.Unmarshal(data, &echoed); err != nil || echoed.Text != "yo" || echoed.ID.IsZero() {
		t.Errorf("Unexpected broadcast %s", data)
	}
	if s.Hub().Count(8) != 1 {
		t.Errorf("Expected 1 connection in room, got %d", s.Hub().Count(8))
	}
}

func TestChat_RequiresToken(t *testing.T) {
	_, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat/8"
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("Expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 response, got %+v", resp)
	}
}

func TestChat_RejectingRefusesUpgrade(t *testing.T) {
	s, ts := newTestServer(t)
	creds, _ := s.Register("ed", "ed@q.io", "pw")
	s.Hub().SetRejecting(true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat/8"
	header := http.Header{"Authorization": []string{"Bearer " + creds.AccessToken}}
	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err == nil {
		t.Fatal("Expected dial to fail while rejecting")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 response, got %+v", resp)
	}
}

func TestResolveAccess_RejectsExpiredAndTampered(t *testing.T) {
	s := New(nil)
	creds, err := s.Register("ana", "ana@q.io", "pw")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id, ok := s.ResolveAccess(creds.AccessToken); !ok || id != creds.UserID {
		t.Fatalf("Expected fresh token to resolve to %d, got %d %v", creds.UserID, id, ok)
	}
	if _, ok := s.ResolveAccess(creds.AccessToken + "x"); ok {
		t.Error("Expected tampered token to be rejected")
	}

	s.SetAccessTTL(-time.Minute)
	expired, err := s.Authenticate("ana@q.io", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, ok := s.ResolveAccess(expired.AccessToken); ok {
		t.Error("Expected expired token to be rejected")
	}

	other := New(nil)
	if _, ok := other.ResolveAccess(creds.AccessToken); ok {
		t.Error("Expected token signed by another server to be rejected")
	}
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	s := New(nil)
	if _, err := s.Register("ana", "Ana@Q.io ", "pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := s.Authenticate("ana@q.io", "nope"); err != ErrInvalidCredentials {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.Authenticate("ANA@q.io", "pw"); err != nil {
		t.Errorf("Expected case-insensitive email match, got %v", err)
	}
	if _, err := s.Register("ana2", "ana@q.io", "pw"); err != ErrEmailTaken {
		t.Errorf("Expected ErrEmailTaken, got %v", err)
	}
}
