// Package api exposes the chat subsystem over HTTP: conversation management,
// the message turn endpoint, history reads, and health/status probes.
//
// Authentication happens upstream: the reverse proxy in front of this
// service resolves the caller's identity and forwards it as the X-User-ID
// and X-User-Role headers. Requests without an identity are rejected.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/talky-edu/talky-backend/common/version"
	"github.com/talky-edu/talky-backend/internal/talky/chat"
	"github.com/talky-edu/talky-backend/internal/talky/store"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

// Server serves the chat HTTP API.
type Server struct {
	addr      string
	pipeline  *chat.Pipeline
	store     *store.Store
	logger    *slog.Logger
	startedAt time.Time
	mux       *http.ServeMux
	server    *http.Server
}

// New creates the API server (does not start it). A nil logger falls back
// to slog.Default().
func New(addr string, pipeline *chat.Pipeline, st *store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:      addr,
		pipeline:  pipeline,
		store:     st,
		logger:    logger,
		startedAt: time.Now(),
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	s.mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	s.mux.HandleFunc("PUT /api/conversations/{id}", s.handleRenameConversation)
	s.mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	s.mux.HandleFunc("POST /api/messages", s.handleSendMessage)
	s.mux.HandleFunc("GET /api/messages/{conversationId}", s.handleHistory)

	return s
}

// ServeHTTP implements http.Handler so the server can be exercised with
// httptest without a live listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start begins listening in the background. It blocks until the listener is
// established so the caller knows the port is open before returning.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", s.addr, err)
	}

	s.server = &http.Server{Handler: s.mux}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server stopped", "err", err)
		}
	}()

	s.logger.Info("api server listening", "addr", ln.Addr().String())
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// --- request/response shapes ---

type conversationResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type createConversationRequest struct {
	Title string `json:"title"`
}

type renameConversationRequest struct {
	Title string `json:"title"`
}

type sendMessageRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

type turnResponse struct {
	Reply          string    `json:"reply"`
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
}

type historyEntry struct {
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status        string    `json:"status"`
	Version       string    `json:"version"`
	Commit        string    `json:"commit"`
	BuildTime     string    `json:"build_time"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSecs    float64   `json:"uptime_seconds"`
	Conversations int       `json:"conversations"`
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountConversations(r.Context())
	if err != nil {
		s.logger.Error("status: count conversations", "err", err)
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:        "ok",
		Version:       version.Version,
		Commit:        version.GitCommit,
		BuildTime:     version.BuildTime,
		StartedAt:     s.startedAt,
		UptimeSecs:    time.Since(s.startedAt).Seconds(),
		Conversations: count,
	})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := s.identity(w, r)
	if !ok {
		return
	}

	var req createConversationRequest
	if r.Body != nil {
		// The title is optional; an empty or absent body means the default.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	conv, err := s.pipeline.CreateConversation(r.Context(), userID, req.Title, role)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConversationResponse(conv))
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := s.identity(w, r)
	if !ok {
		return
	}

	convs, err := s.store.ListConversationsByUser(r.Context(), userID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := s.identity(w, r); !ok {
		return
	}

	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req renameConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeError(w, http.StatusBadRequest, "a non-empty title is required")
		return
	}

	if err := s.store.RenameConversation(r.Context(), id, req.Title); err != nil {
		s.writeStoreError(w, err)
		return
	}

	conv, err := s.store.GetConversation(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := s.identity(w, r); !ok {
		return
	}

	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := s.store.DeleteConversation(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := s.identity(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "a non-empty message is required")
		return
	}

	turn := chat.TurnRequest{
		UserID: userID,
		Role:   role,
		Prompt: req.Message,
	}
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed conversation_id")
			return
		}
		turn.ConversationID = id
	}

	result, err := s.pipeline.SendMessage(r.Context(), turn)
	switch {
	case errors.Is(err, chat.ErrTurnInProgress):
		writeError(w, http.StatusConflict, "a message is already being processed in this conversation")
		return
	case err != nil:
		s.writeStoreError(w, err)
		return
	}

	status := http.StatusOK
	if result.RateLimited {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, turnResponse{
		Reply:          result.Reply,
		Type:           string(result.Type),
		ConversationID: result.ConversationID.String(),
		Timestamp:      result.Timestamp,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := s.identity(w, r); !ok {
		return
	}

	id, ok := pathUUID(w, r, "conversationId")
	if !ok {
		return
	}

	msgs, err := s.pipeline.History(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	out := make([]historyEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, historyEntry{
			Content:        m.Content,
			Type:           string(m.Type),
			ConversationID: m.ConversationID.String(),
			Timestamp:      m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- helpers ---

// identity extracts the authenticated caller from the proxy headers. When
// the user header is missing the request is rejected with 401 and identity
// returns ok=false.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) (userID, role string, ok bool) {
	userID = r.Header.Get(headerUserID)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing authenticated identity")
		return "", "", false
	}
	return userID, r.Header.Get(headerUserRole), true
}

// writeStoreError maps pipeline/store errors to HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, store.ErrConversationLimit):
		writeError(w, http.StatusForbidden, "you have reached the maximum number of conversations")
	case errors.Is(err, store.ErrTitleConflict):
		writeError(w, http.StatusConflict, "a conversation with that title already exists")
	default:
		s.logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed conversation id")
		return uuid.Nil, false
	}
	return id, true
}

func toConversationResponse(c *store.Conversation) conversationResponse {
	return conversationResponse{
		ID:        c.ID.String(),
		Title:     c.Title,
		Mode:      c.Mode,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
