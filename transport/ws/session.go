package ws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/relay"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Session is one open socket. It carries the pending authentication record
// produced by the handshake gate until the first connect frame consumes it
// and binds the principal. Frames from a single session are processed in
// arrival order by its read pump; deliveries go through a buffered send
// channel drained by the write pump so the router never blocks on a slow
// client.
type Session struct {
	id      string
	ws      *websocket.Conn
	send    chan Frame
	done    chan struct{}
	pending *auth.PendingAuth

	mu        sync.RWMutex
	principal *domain.Identity
	closed    bool

	registry contract.IRegistry
	router   *relay.Router
	log      *slog.Logger
}

func NewSession(
	id string,
	conn *websocket.Conn,
	pending *auth.PendingAuth,
	registry contract.IRegistry,
	router *relay.Router,
	log *slog.Logger,
	sendBuffer int,
) *Session {
	return &Session{
		id:       id,
		ws:       conn,
		send:     make(chan Frame, sendBuffer),
		done:     make(chan struct{}),
		pending:  pending,
		registry: registry,
		router:   router,
		log:      log,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Principal() (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.principal == nil {
		return domain.Identity{}, false
	}
	return *s.principal, true
}

// Deliver queues a persisted message for the client. A closed session or a
// full buffer reports the session dead rather than blocking or panicking: the
// send channel is never closed, so a delivery racing the teardown at worst
// parks a frame in the buffer of an exited write pump.
func (s *Session) Deliver(destination string, msg domain.Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("session %s is closed", s.id)
	}
	frame := Frame{Type: FrameMessage, Destination: destination, Message: &msg}
	select {
	case s.send <- frame:
		return nil
	default:
		return fmt.Errorf("session %s send buffer full", s.id)
	}
}

// Start runs both pumps. It returns immediately; the session lives until the
// peer disconnects or a write fails.
func (s *Session) Start(ctx context.Context) {
	go s.writePump()
	go s.readPump(ctx)
}

func (s *Session) readPump(ctx context.Context) {
	defer func() {
		// Mark the session dead before it leaves the registry, so a router
		// holding a pre-teardown snapshot sees an error from Deliver instead
		// of a live-looking handle.
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.registry.Unregister(s)
		close(s.done)
		_ = s.ws.Close()
		s.log.Debug("Session closed", "session", s.id)
	}()

	s.ws.SetReadLimit(maxMessageSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Error("Read error", "session", s.id, "err", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.reply(errorFrame(CodeInvalidPayload, "malformed frame"))
			continue
		}
		s.handleFrame(ctx, frame)
	}
}

func (s *Session) handleFrame(ctx context.Context, frame Frame) {
	switch frame.Type {
	case FrameConnect:
		s.bind()
	case FrameSend:
		s.handleSend(ctx, frame)
	default:
		s.reply(errorFrame(CodeInvalidPayload, "unknown frame type"))
	}
}

// bind consumes the pending authentication record exactly once and attaches
// the principal for the remainder of the session. Without a record the
// session proceeds unauthenticated and every send is rejected downstream.
// A repeated connect frame on a bound session just re-acknowledges.
func (s *Session) bind() {
	s.mu.Lock()
	if s.principal == nil && s.pending != nil {
		identity := s.pending.Identity
		s.principal = &identity
		s.pending = nil
		s.mu.Unlock()

		s.registry.Register(identity, s)
		s.log.Info("Principal bound", "session", s.id, "user", identity.Username)
		s.reply(Frame{Type: FrameConnected, User: identity.Username})
		return
	}

	var user string
	if s.principal != nil {
		user = s.principal.Username
	}
	s.mu.Unlock()
	s.reply(Frame{Type: FrameConnected, User: user})
}

func (s *Session) handleSend(ctx context.Context, frame Frame) {
	if frame.Route != RouteChatSend {
		s.reply(errorFrame(CodeUnknownRoute, frame.Route))
		return
	}
	if frame.Payload == nil {
		s.reply(errorFrame(CodeInvalidPayload, "missing payload"))
		return
	}

	if _, err := s.router.HandleSend(ctx, s, *frame.Payload); err != nil {
		s.reply(errorFrame(sendErrorCode(err), err.Error()))
	}
	// Success is implicit: no acknowledgement frame beyond transport level.
}

func sendErrorCode(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrUnboundPrincipal):
		return CodeUnauthenticated
	case stderrors.Is(err, errors.ErrUnknownRecipient):
		return CodeUnknownRecipient
	case stderrors.Is(err, errors.ErrStoreFailure):
		return CodeStoreFailure
	default:
		return CodeInvalidPayload
	}
}

// reply queues a frame to this session, dropping it if the session is gone or
// the buffer is full. The read pump must never block on its own peer's backlog.
func (s *Session) reply(frame Frame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.send <- frame:
	default:
		s.log.Debug("Reply dropped, send buffer full", "session", s.id)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.ws.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
