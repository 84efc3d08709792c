package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/questline/internal/domain"
	"github.com/ashureev/questline/internal/metrics"
)

// API is the HTTP side of chat. *apiclient.Client implements it.
type API interface {
	SendMessage(ctx context.Context, payload domain.MessagePayload) (domain.Message, error)
	ListMessages(ctx context.Context, questID domain.ID) ([]domain.Message, error)
}

var errNoFallback = errors.New("chat connection not open and no HTTP fallback configured")

// Config configures a Room.
type Config struct {
	QuestID domain.ID
	// UserID is the sender of outgoing messages.
	UserID domain.ID
	Dialer Dialer
	API    API
	// Token returns the current access token for each dial.
	Token       func() string
	BackoffUnit time.Duration
	MaxAttempts int
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	// Callbacks run on the room's goroutine or the caller's. They must not
	// call Close.
	OnMessage     func(domain.Message)
	OnNotice      func(string)
	OnStateChange func(State)
	OnFatal       func(error)
}

// Room is the chat connection of one quest.
type Room struct {
	cfg    Config
	logger *slog.Logger
	conv   *Conversation

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	state   State
	conn    Conn
	err     error
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	closing bool
}

// NewRoom creates a room in the connecting state. Call Start to connect.
func NewRoom(cfg Config) *Room {
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = DefaultBackoffUnit
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Token == nil {
		cfg.Token = func() string { return "" }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Room{
		cfg:    cfg,
		logger: logger.With("quest_id", cfg.QuestID),
		conv:   NewConversation(),
		now:    time.Now,
		after:  time.After,
		state:  StateConnecting,
		done:   make(chan struct{}),
	}
}

// Start launches the connection loop. It returns immediately.
func (r *Room) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	go r.run(ctx)
}

// Close tears the room down: the active connection is closed and no further
// reconnection is scheduled. It waits for the loop to exit.
func (r *Room) Close() error {
	r.mu.Lock()
	if !r.started {
		r.started = true
		close(r.done)
	}
	r.closing = true
	cancel, conn := r.cancel, r.conn
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	<-r.done
	return nil
}

// Done is closed when the connection loop has exited.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// Err returns ErrConnectionFailed (wrapped) once the room has failed.
func (r *Room) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// State returns the current connection state.
func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Messages returns the room's message sequence.
func (r *Room) Messages() []domain.Message {
	return r.conv.Messages()
}

func (r *Room) setState(s State) {
	r.mu.Lock()
	if r.state == s {
		r.mu.Unlock()
		return
	}
	r.state = s
	r.mu.Unlock()

	r.logger.Debug("Chat state changed", "state", s.String())
	if r.cfg.OnStateChange != nil {
		r.cfg.OnStateChange(s)
	}
}

func (r *Room) run(ctx context.Context) {
	defer close(r.done)

	// attempt is the number of the next reconnect; 0 is the initial dial.
	attempt := 0
	var lastErr error
	for {
		if attempt > 0 {
			if attempt > r.cfg.MaxAttempts {
				r.fail(lastErr)
				return
			}
			delay := Backoff(attempt, r.cfg.BackoffUnit)
			r.cfg.Metrics.Reconnect()
			r.logger.Info("Scheduling chat reconnect", "attempt", attempt, "delay", delay)
			select {
			case <-r.after(delay):
			case <-ctx.Done():
				r.setState(StateClosed)
				return
			}
		}

		r.setState(StateConnecting)
		conn, err := r.cfg.Dialer.Dial(ctx, r.cfg.QuestID, r.cfg.Token())
		if err != nil {
			if ctx.Err() != nil {
				r.setState(StateClosed)
				return
			}
			r.logger.Warn("Chat connect failed", "attempt", attempt, "error", err)
			lastErr = err
			attempt++
			continue
		}

		if !r.attach(conn) {
			_ = conn.Close()
			r.setState(StateClosed)
			return
		}
		attempt = 0
		r.setState(StateOpen)

		err = r.readLoop(ctx, conn)
		r.detach(conn)
		if ctx.Err() != nil {
			r.setState(StateClosed)
			return
		}
		r.setState(StateClosed)
		r.logger.Warn("Chat connection closed unexpectedly", "error", err)
		lastErr = err
		attempt = 1
	}
}

// attach publishes conn for Send unless the room is being torn down.
func (r *Room) attach(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return false
	}
	r.conn = conn
	return true
}

func (r *Room) detach(conn Conn) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
	_ = conn.Close()
}

func (r *Room) fail(cause error) {
	err := ErrConnectionFailed
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrConnectionFailed, cause)
	}
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()

	r.logger.Error("Chat reconnect budget exhausted", "attempts", r.cfg.MaxAttempts, "error", cause)
	r.setState(StateFailed)
	if r.cfg.OnFatal != nil {
		r.cfg.OnFatal(err)
	}
}

func (r *Room) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		r.handleFrame(data)
	}
}

func (r *Room) handleFrame(data []byte) {
	f, err := parseFrame(data)
	switch {
	case err != nil:
		r.logger.Debug("Ignoring chat frame", "error", err)
	case f.notice:
		if r.cfg.OnNotice != nil {
			r.cfg.OnNotice(ConnectedNotice)
		}
	case f.message.QuestID != r.cfg.QuestID:
		r.logger.Debug("Ignoring message for another quest", "other_quest_id", f.message.QuestID)
	default:
		r.admit(f.message)
	}
}

// admit appends m unless it is a duplicate.
func (r *Room) admit(m domain.Message) bool {
	if !r.conv.Append(m) {
		r.cfg.Metrics.Duplicate()
		return false
	}
	if r.cfg.OnMessage != nil {
		r.cfg.OnMessage(m)
	}
	return true
}

func (r *Room) openConn() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateOpen {
		return nil
	}
	return r.conn
}

// Send publishes text to the room. It goes over the open connection when
// there is one and through the HTTP API otherwise. The sent message is
// appended to the local sequence.
func (r *Room) Send(ctx context.Context, text string) (domain.Message, error) {
	msg := domain.Message{
		QuestID:  r.cfg.QuestID,
		SenderID: r.cfg.UserID,
		Text:     text,
		SentAt:   r.now().UTC(),
	}
	payload := msg.Payload()
	if _, err := payload.Message(); err != nil {
		return domain.Message{}, err
	}

	if conn := r.openConn(); conn != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return domain.Message{}, fmt.Errorf("encode message: %w", err)
		}
		err = conn.Write(ctx, data)
		if err == nil {
			r.admit(msg)
			return msg, nil
		}
		if ctx.Err() != nil {
			return domain.Message{}, err
		}
		r.logger.Warn("Chat socket write failed, sending over HTTP", "error", err)
	}

	if r.cfg.API == nil {
		return domain.Message{}, errNoFallback
	}
	r.cfg.Metrics.Fallback()
	sent, err := r.cfg.API.SendMessage(ctx, payload)
	if err != nil {
		return domain.Message{}, err
	}
	r.admit(sent)
	return sent, nil
}

// LoadHistory fetches stored messages over HTTP and admits them through the
// dedup path. It returns how many were new.
func (r *Room) LoadHistory(ctx context.Context) (int, error) {
	if r.cfg.API == nil {
		return 0, nil
	}
	msgs, err := r.cfg.API.ListMessages(ctx, r.cfg.QuestID)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, m := range msgs {
		if m.QuestID != r.cfg.QuestID {
			continue
		}
		if r.admit(m) {
			added++
		}
	}
	return added, nil
}
