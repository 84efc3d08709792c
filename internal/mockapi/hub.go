package mockapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/questline/internal/domain"
	"github.com/ashureev/questline/internal/identity"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// ConnectedNotice is the text frame sent right after a chat connection is accepted.
const ConnectedNotice = "You are connected."

const writeTimeout = 5 * time.Second

type persistFunc func(sender domain.ID, p domain.MessagePayload) (domain.MessagePayload, error)

// Hub tracks chat connections per quest room and fans messages out to them.
type Hub struct {
	persist persistFunc
	logger  *slog.Logger

	mu        sync.RWMutex
	rooms     map[domain.ID]map[*websocket.Conn]domain.ID
	rejecting bool
}

// NewHub creates a hub that stores messages through persist before broadcasting.
func NewHub(persist persistFunc, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		persist: persist,
		logger:  logger,
		rooms:   make(map[domain.ID]map[*websocket.Conn]domain.ID),
	}
}

// Register adds a connection to a quest room.
func (h *Hub) Register(questID, userID domain.ID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.rooms[questID]; !exists {
		h.rooms[questID] = make(map[*websocket.Conn]domain.ID)
	}
	h.rooms[questID][conn] = userID
	h.logger.Info("Chat connection registered", "quest_id", questID, "user_id", userID)
}

// Unregister removes a connection from a quest room.
func (h *Hub) Unregister(questID domain.ID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.rooms[questID]; ok {
		if userID, exists := conns[conn]; exists {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(h.rooms, questID)
			}
			h.logger.Info("Chat connection unregistered", "quest_id", questID, "user_id", userID)
		}
	}
}

// Count returns the number of open connections in a room.
func (h *Hub) Count(questID domain.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[questID])
}

// SetRejecting makes the hub refuse new connections with 503 while on.
func (h *Hub) SetRejecting(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejecting = on
}

func (h *Hub) isRejecting() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rejecting
}

// Drop abruptly closes every connection in a room without a close handshake.
func (h *Hub) Drop(questID domain.ID) {
	h.mu.Lock()
	conns := h.rooms[questID]
	delete(h.rooms, questID)
	h.mu.Unlock()

	for conn, userID := range conns {
		_ = conn.CloseNow()
		h.logger.Info("Chat connection dropped", "quest_id", questID, "user_id", userID)
	}
}

// Broadcast sends p to every connection in its room.
func (h *Hub) Broadcast(questID domain.ID, p domain.MessagePayload) {
	data, err := json.Marshal(p)
	if err != nil {
		h.logger.Error("Failed to encode chat message", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[questID]))
	for conn := range h.rooms[questID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			h.logger.Debug("Chat broadcast write failed", "quest_id", questID, "error", err)
		}
		cancel()
	}
}

// ServeHTTP upgrades an authenticated request on /ws/chat/{questId}.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	questID, err := domain.ParseID(chi.URLParam(r, "questId"))
	if err != nil || questID.IsZero() {
		Error(w, http.StatusBadRequest, "invalid quest id")
		return
	}
	userID := identity.UserIDFromContext(r.Context())
	if h.isRejecting() {
		Error(w, http.StatusServiceUnavailable, "chat unavailable")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.Register(questID, userID, ws)
	defer h.Unregister(questID, ws)

	ctx := r.Context()
	if err := ws.Write(ctx, websocket.MessageText, []byte(ConnectedNotice)); err != nil {
		h.logger.Debug("Failed to send connected notice", "error", err)
		return
	}
	h.readLoop(ctx, ws, questID, userID)
}

func (h *Hub) readLoop(ctx context.Context, ws *websocket.Conn, questID, userID domain.ID) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				h.logger.Debug("WebSocket read ended", "error", err, "user_id", userID)
			}
			return
		}

		var p domain.MessagePayload
		if err := json.Unmarshal(data, &p); err != nil {
			h.logger.Debug("Ignoring non-JSON chat frame", "user_id", userID)
			continue
		}
		if p.QuestID != questID {
			h.logger.Debug("Ignoring chat frame for another room", "quest_id", p.QuestID, "room", questID)
			continue
		}

		stored, err := h.persist(userID, p)
		if err != nil {
			h.writeJSON(ws, map[string]string{"error": err.Error()})
			continue
		}
		h.Broadcast(questID, stored)
	}
}

func (h *Hub) writeJSON(ws *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("Failed to send chat error frame", "error", err)
	}
}
