package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/observability"
	"chat-relay/repositories"

	"github.com/julienschmidt/httprouter"
	"github.com/samber/lo"
)

type contextKey string

const identityKey contextKey = "identity"

// Handler serves the authenticated REST surface next to the socket
// endpoints: conversation listing, health and debug stats. Unauthenticated
// access is permitted only for the explicitly public paths.
type Handler struct {
	log      *slog.Logger
	tokens   auth.TokenService
	messages repositories.IMessageRepository
	users    repositories.IUserRepository
	stats    *observability.RelayStats
}

func NewHandler(
	log *slog.Logger,
	tokens auth.TokenService,
	messages repositories.IMessageRepository,
	users repositories.IUserRepository,
	stats *observability.RelayStats,
) *Handler {
	return &Handler{
		log:      log,
		tokens:   tokens,
		messages: messages,
		users:    users,
		stats:    stats,
	}
}

func (h *Handler) Routes(mux *httprouter.Router) {
	mux.GET("/healthz", h.handleHealth)
	mux.GET("/debug/stats", h.handleStats)
	mux.GET("/api/messages/:userID", h.requireAuth(h.handleConversation))
}

// requireAuth validates the Authorization Bearer header and injects the
// caller identity into the request context for the wrapped handler.
func (h *Handler) requireAuth(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, "authorization token is missing", http.StatusUnauthorized)
			return
		}

		identity, ok := h.tokens.Validate(strings.TrimPrefix(header, "Bearer "))
		if !ok {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next(w, r.WithContext(ctx), p)
	}
}

// ConversationResponse is one page of a conversation, newest first.
type ConversationResponse struct {
	Messages   []domain.Message `json:"messages"`
	NextCursor *string          `json:"nextCursor,omitempty"`
}

// handleConversation lists the messages exchanged between the caller and the
// user addressed by the path, with cursor pagination.
func (h *Handler) handleConversation(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	caller, ok := r.Context().Value(identityKey).(domain.Identity)
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	otherID, err := strconv.ParseInt(p.ByName("userID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	if _, err := h.users.GetByID(otherID); err != nil {
		http.Error(w, "unknown user", http.StatusNotFound)
		return
	}

	var cursor *string
	if c := r.URL.Query().Get("cursor"); c != "" {
		cursor = lo.ToPtr(c)
	}

	messages, nextCursor, err := h.messages.GetConversation(caller.ID, otherID, cursor)
	if err != nil {
		h.log.Error("Conversation query failed", "caller", caller.ID, "other", otherID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// The repository hands back a nil cursor once the scan is exhausted.
	h.writeJSON(w, ConversationResponse{Messages: messages, NextCursor: nextCursor})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	h.writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	h.writeJSON(w, h.stats.Latest())
}

func (h *Handler) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Response encoding failed", "err", err)
	}
}
