package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jcallahan/palaver/internal/chat"
	"github.com/jcallahan/palaver/internal/ratelimit"
	"github.com/jcallahan/palaver/internal/store"
	"github.com/jcallahan/palaver/internal/ws"
)

const (
	defaultRegisterLimit  = 10
	defaultRegisterWindow = time.Minute
)

// Server is the HTTP front of the chat service: registration, presence
// and history endpoints, plus the WebSocket upgrade path.
type Server struct {
	addr      string
	mux       *http.ServeMux
	store     store.Store
	hub       *ws.Hub
	wsHandler *ws.Handler
	limiter   *ratelimit.IPLimiter

	history     int
	maxConns    int
	idleTimeout time.Duration
	rateMax     int
	rateWindow  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithStore substitutes the persistence backend (e.g. Redis).
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithHistoryLimit sets how many recent messages joiners receive.
func WithHistoryLimit(n int) Option {
	return func(s *Server) {
		s.history = n
	}
}

// WithMaxConns caps concurrent WebSocket connections.
func WithMaxConns(n int) Option {
	return func(s *Server) {
		s.maxConns = n
	}
}

// WithIdleTimeout closes WebSocket connections idle for longer than d.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

// WithRegisterRateLimit tunes the per-IP registration limiter.
func WithRegisterRateLimit(max int, window time.Duration) Option {
	return func(s *Server) {
		s.rateMax = max
		s.rateWindow = window
	}
}

// New creates a Server listening on addr.
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:       addr,
		mux:        http.NewServeMux(),
		rateMax:    defaultRegisterLimit,
		rateWindow: defaultRegisterWindow,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		s.store = store.NewMemoryStore()
	}

	var connOpts []ws.ConnManagerOption
	if s.maxConns > 0 {
		connOpts = append(connOpts, ws.WithMaxConns(s.maxConns))
	}
	if s.idleTimeout > 0 {
		connOpts = append(connOpts, ws.WithIdleTimeout(s.idleTimeout))
	}

	var hubOpts []ws.HubOption
	if len(connOpts) > 0 {
		hubOpts = append(hubOpts, ws.WithConnManager(ws.NewConnManager(connOpts...)))
	}
	if s.history > 0 {
		hubOpts = append(hubOpts, ws.WithHistoryLimit(s.history))
	}

	s.hub = ws.NewHub(s.store, hubOpts...)
	s.wsHandler = ws.NewHandler(s.hub)
	s.limiter = ratelimit.NewIPLimiter(s.rateMax, s.rateWindow)
	s.routes()
	return s
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	return http.ListenAndServe(s.addr, s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/users", s.handleCreateUser)
	s.mux.HandleFunc("GET /api/users/online", s.handleOnlineUsers)
	s.mux.HandleFunc("GET /api/messages", s.handleMessages)
	s.mux.HandleFunc("DELETE /api/messages/last", s.handleDeleteLastMessage)
	s.mux.Handle("GET /ws", s.wsHandler)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.hub.ConnMgr().Count(),
	})
}

type createUserRequest struct {
	Username    string `json:"username"`
	AvatarColor string `json:"avatarColor"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "Too many registrations, try again later")
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user data")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if err := chat.ValidateUsername(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AvatarColor == "" {
		req.AvatarColor = chat.DefaultAvatarColor
	}
	if !chat.ValidAvatarColor(req.AvatarColor) {
		writeError(w, http.StatusBadRequest, "Unknown avatar color")
		return
	}

	user, err := s.store.CreateUser(req.Username, req.AvatarColor)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			writeError(w, http.StatusBadRequest, "Username already taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

func (s *Server) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	users := s.store.OnlineUsers()
	if users == nil {
		users = []*chat.User{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	msgs := s.store.RecentMessages(limit)
	if msgs == nil {
		msgs = []*chat.Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}

// handleDeleteLastMessage removes the globally most recent message.
// The endpoint is deliberately unauthenticated: any caller may delete
// the latest message, and no broadcast is emitted.
func (s *Server) handleDeleteLastMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.store.DeleteLastMessage()
	if !ok {
		writeError(w, http.StatusNotFound, "No messages to delete")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message":        "Message deleted",
		"deletedMessage": msg,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
