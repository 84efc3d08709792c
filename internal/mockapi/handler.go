package mockapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ashureev/questline/internal/domain"
	"github.com/ashureev/questline/internal/identity"
	"github.com/ashureev/questline/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Per-client limits on the credential endpoints.
const (
	authRPS   = 20
	authBurst = 100
)

// Routes builds the chi router serving the API and the chat channel.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLog(s.logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(authRPS, authBurst))
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/refresh-token", s.handleRefresh)
	})

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(s))
		r.Post("/auth/check-token", s.handleCheckToken)
		r.Get("/users/{id}", s.handleGetUser)
		r.Get("/quests/{id}/messages", s.handleListMessages)
		r.Post("/quests/{id}/messages", s.handlePostMessage)
		r.Get("/ws/chat/{questId}", s.hub.ServeHTTP)
	})

	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	creds, err := s.Authenticate(req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		Error(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, creds)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		Error(w, http.StatusBadRequest, "username, email and password are required")
		return
	}
	creds, err := s.Register(req.Username, req.Email, req.Password)
	if errors.Is(err, ErrEmailTaken) {
		Error(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusCreated, creds)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		Error(w, http.StatusBadRequest, "refreshToken is required")
		return
	}
	creds, err := s.Refresh(req.RefreshToken)
	if errors.Is(err, ErrInvalidRefresh) {
		Error(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, creds)
}

func (s *Server) handleCheckToken(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"valid":  true,
		"userId": identity.UserIDFromContext(r.Context()),
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid user id")
		return
	}
	user, ok := s.User(id)
	if !ok {
		Error(w, http.StatusNotFound, "User not found")
		return
	}
	JSON(w, http.StatusOK, user)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	questID, err := domain.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid quest id")
		return
	}
	JSON(w, http.StatusOK, s.Messages(questID))
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	questID, err := domain.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid quest id")
		return
	}
	var p domain.MessagePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if p.QuestID.IsZero() {
		p.QuestID = questID
	}
	if p.QuestID != questID {
		Error(w, http.StatusBadRequest, "questId does not match the path")
		return
	}

	stored, err := s.storeMessage(identity.UserIDFromContext(r.Context()), p)
	switch {
	case errors.Is(err, domain.ErrInvalidMessage):
		Error(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, errSenderMismatch):
		Error(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.hub.Broadcast(questID, stored)
	JSON(w, http.StatusCreated, stored)
}
