package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"

	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/observability"
	"chat-relay/relay"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Handler exposes the upgrade endpoints: the primary raw WebSocket path and
// the fallback-transport path with its negotiation probe sub-endpoint. Both
// accept connections from any origin and both are gated by the handshake
// authenticator before the upgrade is accepted.
type Handler struct {
	log        *slog.Logger
	gate       *auth.HandshakeGate
	registry   contract.IRegistry
	router     *relay.Router
	stats      *observability.RelayStats
	upgrader   websocket.Upgrader
	sendBuffer int
}

func NewHandler(
	log *slog.Logger,
	gate *auth.HandshakeGate,
	registry contract.IRegistry,
	router *relay.Router,
	stats *observability.RelayStats,
	sendBuffer int,
) *Handler {
	return &Handler{
		log:      log,
		gate:     gate,
		registry: registry,
		router:   router,
		stats:    stats,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sendBuffer: sendBuffer,
	}
}

// Routes registers the transport endpoints on the shared router. The fallback
// tree is mounted as one catch-all: httprouter refuses a static /info sibling
// next to the per-session wildcard, so the suffix dispatch happens in
// handleFallback instead.
func (h *Handler) Routes(mux *httprouter.Router) {
	mux.GET("/ws", h.handleUpgrade)
	mux.GET("/ws-sockjs/*rest", h.handleFallback)
}

// handleFallback dispatches within the fallback-transport tree: the /info
// negotiation probe, or the /<server>/<session>/websocket upgrade.
func (h *Handler) handleFallback(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	rest := strings.Trim(p.ByName("rest"), "/")
	segments := strings.Split(rest, "/")
	switch {
	case rest == "info":
		h.handleInfo(w, r, p)
	case len(segments) == 3 && segments[2] == "websocket":
		h.handleUpgrade(w, r, p)
	default:
		http.NotFound(w, r)
	}
}

// handleUpgrade gates and accepts one upgrade attempt. On rejection no
// connection, session or registry entry is created.
func (h *Handler) handleUpgrade(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	pending, err := h.gate.Admit(r)
	if err != nil {
		h.stats.IncrAuthRejected()
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Upgrade failed", "err", err)
		return
	}
	h.stats.IncrConnection()

	session := NewSession(uuid.NewString(), conn, pending, h.registry, h.router, h.log, h.sendBuffer)
	session.Start(context.Background())
}

// handleInfo serves the transport-negotiation probe. It is never rejected;
// the gate stashes a present token for the follow-up upgrade of the same
// negotiation sequence.
func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	_, _ = h.gate.Admit(r)

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"websocket":     true,
		"origins":       []string{"*:*"},
		"cookie_needed": false,
		"entropy":       rand.Int31(),
	})
}
