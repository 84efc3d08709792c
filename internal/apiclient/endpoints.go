package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ashureev/questline/internal/domain"
)

// API endpoints consumed by the client core.
const (
	EndpointLogin        = "/auth/login"
	EndpointSignup       = "/auth/signup"
	EndpointCheckToken   = "/auth/check-token"
	EndpointRefreshToken = "/auth/refresh-token"
)

// UserEndpoint returns the profile path for id.
func UserEndpoint(id domain.ID) string {
	return "/users/" + id.String()
}

// QuestMessagesEndpoint returns the chat messages path for a quest.
func QuestMessagesEndpoint(questID domain.ID) string {
	return "/quests/" + questID.String() + "/messages"
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupRequest is the body of POST /auth/signup.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Login exchanges credentials for a token triple.
func (c *Client) Login(ctx context.Context, req LoginRequest) (domain.Credentials, error) {
	return c.mint(ctx, EndpointLogin, req)
}

// Signup registers a user and returns its token triple.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (domain.Credentials, error) {
	return c.mint(ctx, EndpointSignup, req)
}

// RefreshToken calls the refresh endpoint with an explicit token. It does not
// touch the session store; see Refresh for the full protocol.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (domain.Credentials, error) {
	return c.mint(ctx, EndpointRefreshToken, refreshRequest{RefreshToken: refreshToken})
}

func (c *Client) mint(ctx context.Context, endpoint string, body any) (domain.Credentials, error) {
	res, err := c.Public(ctx, endpoint, http.MethodPost, body)
	if err != nil {
		return domain.Credentials{}, err
	}
	var creds domain.Credentials
	if err := res.Decode(&creds); err != nil {
		return domain.Credentials{}, err
	}
	if !creds.Valid() {
		return domain.Credentials{}, malformedError(res.Status, fmt.Errorf("%s: response missing accessToken or userId", endpoint))
	}
	return creds, nil
}

// CheckToken asks the server whether the current access token is valid.
func (c *Client) CheckToken(ctx context.Context) error {
	_, err := c.Request(ctx, EndpointCheckToken, http.MethodPost, nil, true)
	return err
}

// GetUser fetches a user profile.
func (c *Client) GetUser(ctx context.Context, id domain.ID) (*domain.User, error) {
	res, err := c.Request(ctx, UserEndpoint(id), http.MethodGet, nil, true)
	if err != nil {
		return nil, err
	}
	var user domain.User
	if err := res.Decode(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SendMessage posts a chat message over HTTP. If the server echoes the stored
// message it is returned; otherwise the sent message is.
func (c *Client) SendMessage(ctx context.Context, payload domain.MessagePayload) (domain.Message, error) {
	sent, err := payload.Message()
	if err != nil {
		return domain.Message{}, err
	}
	res, err := c.Request(ctx, QuestMessagesEndpoint(payload.QuestID), http.MethodPost, payload, true)
	if err != nil {
		return domain.Message{}, err
	}
	if !res.IsJSON {
		return sent, nil
	}
	var echoed domain.MessagePayload
	if err := res.Decode(&echoed); err != nil {
		return domain.Message{}, err
	}
	if m, err := echoed.Message(); err == nil {
		return m, nil
	}
	return sent, nil
}

// ListMessages returns the stored messages for a quest in server order.
// Entries that fail validation are skipped.
func (c *Client) ListMessages(ctx context.Context, questID domain.ID) ([]domain.Message, error) {
	res, err := c.Request(ctx, QuestMessagesEndpoint(questID), http.MethodGet, nil, true)
	if err != nil {
		return nil, err
	}
	var payloads []domain.MessagePayload
	if err := res.Decode(&payloads); err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(payloads))
	for _, p := range payloads {
		m, err := p.Message()
		if err != nil {
			c.logger.Debug("Skipping invalid stored message", "quest_id", questID, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// NewPayload builds an outgoing message stamped with now.
func NewPayload(questID, senderID domain.ID, text string, now time.Time) domain.MessagePayload {
	return domain.Message{QuestID: questID, SenderID: senderID, Text: text, SentAt: now}.Payload()
}
