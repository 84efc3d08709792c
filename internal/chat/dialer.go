package chat

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/questline/internal/domain"
	"github.com/coder/websocket"
)

// Conn is an open duplex connection carrying text frames.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a connection to a quest room authenticated by token.
type Dialer interface {
	Dial(ctx context.Context, questID domain.ID, token string) (Conn, error)
}

// WebSocketDialer dials {BaseURL}/{questId} with an Authorization header.
type WebSocketDialer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, questID domain.ID, token string) (Conn, error) {
	url := strings.TrimRight(d.BaseURL, "/") + "/" + questID.String()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	c, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "chat closed")
}
