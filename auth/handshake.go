package auth

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"chat-relay/domain"
	"chat-relay/errors"
)

// probeSuffix marks transport-negotiation sub-requests issued by
// fallback-transport clients before the real upgrade. They are metadata
// probes, never authentication attempts, and must not be rejected.
const probeSuffix = "/info"

// stashTTL bounds how long a token stashed by a probe stays usable by the
// follow-up upgrade of the same negotiation sequence.
const stashTTL = 30 * time.Second

// PendingAuth is the typed record produced by the handshake gate for a newly
// admitted connection. The transport attaches it to the session and the
// identity binder consumes it exactly once, on the first connect frame.
type PendingAuth struct {
	Identity domain.Identity
	IssuedAt time.Time
}

// HandshakeGate intercepts every connection-upgrade attempt before the
// transport accepts it. It owns no global state beyond the short-lived
// negotiation stash.
type HandshakeGate struct {
	tokens TokenService
	log    *slog.Logger
	stash  negotiationStash
}

func NewHandshakeGate(tokens TokenService, log *slog.Logger) *HandshakeGate {
	return &HandshakeGate{
		tokens: tokens,
		log:    log,
		stash:  negotiationStash{entries: make(map[string]stashEntry)},
	}
}

// Admit gates one upgrade request.
//
// Probe requests (path ending in /info) are always admitted: a present token
// is stashed for the subsequent real upgrade and (nil, nil) is returned,
// meaning "admitted without identity".
//
// For real upgrades the token is looked up in order: the token query
// parameter, the Authorization Bearer header, then the negotiation stash. A
// missing or invalid token rejects the upgrade with ErrInvalidToken and no
// connection is created.
func (g *HandshakeGate) Admit(r *http.Request) (*PendingAuth, error) {
	if strings.HasSuffix(r.URL.Path, probeSuffix) {
		if token := extractToken(r); token != "" {
			g.stash.put(clientAddr(r), token)
			g.log.Debug("Stored token from negotiation probe", "path", r.URL.Path)
		}
		return nil, nil
	}

	token := extractToken(r)
	if token == "" {
		token, _ = g.stash.take(clientAddr(r))
	}

	identity, ok := g.tokens.Validate(token)
	if !ok {
		g.log.Warn("Handshake rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
		return nil, errors.ErrInvalidToken
	}

	g.log.Debug("Handshake admitted", "user", identity.Username, "path", r.URL.Path)
	return &PendingAuth{Identity: identity, IssuedAt: time.Now().UTC()}, nil
}

// extractToken reads the credential from the query string or the
// Authorization header. Query values arrive URL-decoded from net/url.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// clientAddr keys the negotiation stash. The probe and the real upgrade are
// separate HTTP requests, so the client network address is the only link
// between the two halves of one negotiation sequence.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type stashEntry struct {
	token string
	at    time.Time
}

// negotiationStash holds tokens handed over by probe requests until the real
// upgrade claims them. Entries are consumed on use and expire after stashTTL.
type negotiationStash struct {
	mu      sync.Mutex
	entries map[string]stashEntry
}

func (s *negotiationStash) put(addr, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[addr] = stashEntry{token: token, at: time.Now()}
}

func (s *negotiationStash) take(addr string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[addr]
	if !ok {
		return "", false
	}
	delete(s.entries, addr)
	if time.Since(entry.at) > stashTTL {
		return "", false
	}
	return entry.token, true
}
