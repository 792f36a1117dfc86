package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/relay"
	"chat-relay/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type relayFixture struct {
	server   *httptest.Server
	tokens   auth.TokenService
	messages repositories.MessageRepository
	registry *relay.Registry
	alice    domain.Identity
	bob      domain.Identity
}

func newRelayFixture(t *testing.T) relayFixture {
	t.Helper()
	req := require.New(t)

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	log := logs.GetLoggerFromLevel(slog.LevelError)
	messages := repositories.NewMessageRepository(db, log, nil)
	users, err := repositories.NewUserRepository(db)
	req.NoError(err)
	t.Cleanup(func() { _ = users.Close() })

	alice, err := users.CreateUser("alice", "hash-a")
	req.NoError(err)
	bob, err := users.CreateUser("bob", "hash-b")
	req.NoError(err)

	registry := relay.NewRegistry()
	router := relay.NewRouter(log, registry, messages, users, nil, nil)
	tokens := auth.NewTokenService("e2e-test-secret", time.Hour)
	gate := auth.NewHandshakeGate(tokens, log)

	mux := httprouter.New()
	NewHandler(log, gate, registry, router, nil, 16).Routes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return relayFixture{
		server:   server,
		tokens:   tokens,
		messages: messages,
		registry: registry,
		alice:    alice,
		bob:      bob,
	}
}

func (f relayFixture) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + path
}

// dial opens a socket for the identity, sends the connect frame and waits for
// the acknowledgement, so the caller knows the principal is bound.
func (f relayFixture) dial(t *testing.T, identity domain.Identity) *websocket.Conn {
	t.Helper()
	req := require.New(t)

	token, err := f.tokens.Generate(identity)
	req.NoError(err)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("/ws?token="+token), nil)
	req.NoError(err)
	t.Cleanup(func() { _ = conn.Close() })

	req.NoError(conn.WriteJSON(Frame{Type: FrameConnect}))
	ack := readFrame(t, conn)
	req.Equal(FrameConnected, ack.Type)
	req.Equal(identity.Username, ack.User)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func Test_Upgrade_Rejected_Without_Token(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL("/ws"), nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func Test_Upgrade_Rejected_With_Forged_Token(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL("/ws?token=forged"), nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func Test_Connect_Binds_Principal(t *testing.T) {
	f := newRelayFixture(t)

	// dial asserts the connected acknowledgement carries the username.
	f.dial(t, f.alice)
}

func Test_Send_Delivers_To_Online_Recipient(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	bobConn := f.dial(t, f.bob)
	aliceConn := f.dial(t, f.alice)

	req.NoError(aliceConn.WriteJSON(Frame{
		Type:    FrameSend,
		Route:   RouteChatSend,
		Payload: &domain.SendCommand{RecipientID: f.bob.ID, Content: "hello bob"},
	}))

	frame := readFrame(t, bobConn)
	req.Equal(FrameMessage, frame.Type)
	req.Equal(relay.DeliveryDestination, frame.Destination)
	req.NotNil(frame.Message)
	req.Equal("hello bob", frame.Message.Content)
	req.Equal(f.alice.ID, frame.Message.SenderID)
	req.Equal(f.bob.ID, frame.Message.RecipientID)

	// Store-before-deliver: the delivered record is already on disk.
	stored, _, err := f.messages.GetConversation(f.alice.ID, f.bob.ID, nil)
	req.NoError(err)
	req.Len(stored, 1)
	req.Equal(frame.Message.ID, stored[0].ID)
}

func Test_Send_To_Offline_Recipient_Is_Persisted(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	aliceConn := f.dial(t, f.alice)
	req.NoError(aliceConn.WriteJSON(Frame{
		Type:    FrameSend,
		Route:   RouteChatSend,
		Payload: &domain.SendCommand{RecipientID: f.bob.ID, Content: "read this later"},
	}))

	// No error frame comes back; poll the store until the write lands.
	req.Eventually(func() bool {
		stored, _, err := f.messages.GetConversation(f.alice.ID, f.bob.ID, nil)
		return err == nil && len(stored) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func Test_Send_Before_Connect_Is_Rejected(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	token, err := f.tokens.Generate(f.alice)
	req.NoError(err)
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("/ws?token="+token), nil)
	req.NoError(err)
	t.Cleanup(func() { _ = conn.Close() })

	req.NoError(conn.WriteJSON(Frame{
		Type:    FrameSend,
		Route:   RouteChatSend,
		Payload: &domain.SendCommand{RecipientID: f.bob.ID, Content: "too early"},
	}))

	frame := readFrame(t, conn)
	req.Equal(FrameError, frame.Type)
	req.Equal(CodeUnauthenticated, frame.Code)
}

func Test_Send_To_Unknown_Recipient_Returns_Error_Frame(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	aliceConn := f.dial(t, f.alice)
	req.NoError(aliceConn.WriteJSON(Frame{
		Type:    FrameSend,
		Route:   RouteChatSend,
		Payload: &domain.SendCommand{RecipientID: 999, Content: "anyone?"},
	}))

	frame := readFrame(t, aliceConn)
	req.Equal(FrameError, frame.Type)
	req.Equal(CodeUnknownRecipient, frame.Code)
}

func Test_Send_On_Unknown_Route_Returns_Error_Frame(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	aliceConn := f.dial(t, f.alice)
	req.NoError(aliceConn.WriteJSON(Frame{
		Type:    FrameSend,
		Route:   "chat.broadcast",
		Payload: &domain.SendCommand{RecipientID: f.bob.ID, Content: "hello"},
	}))

	frame := readFrame(t, aliceConn)
	req.Equal(FrameError, frame.Type)
	req.Equal(CodeUnknownRoute, frame.Code)
}

func Test_Malformed_Frame_Returns_Error_Without_Closing(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	aliceConn := f.dial(t, f.alice)
	req.NoError(aliceConn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	frame := readFrame(t, aliceConn)
	req.Equal(FrameError, frame.Type)
	req.Equal(CodeInvalidPayload, frame.Code)

	// The session survives the bad frame.
	req.NoError(aliceConn.WriteJSON(Frame{Type: FrameConnect}))
	ack := readFrame(t, aliceConn)
	req.Equal(FrameConnected, ack.Type)
}

func Test_Fallback_Probe_And_Upgrade(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	token, err := f.tokens.Generate(f.alice)
	req.NoError(err)

	// The negotiation probe is always 200 and stashes the token.
	resp, err := http.Get(f.server.URL + "/ws-sockjs/info?token=" + token)
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	var info map[string]any
	req.NoError(json.NewDecoder(resp.Body).Decode(&info))
	req.Equal(true, info["websocket"])

	// The follow-up upgrade carries no token; the stash authenticates it.
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("/ws-sockjs/123/abc/websocket"), nil)
	req.NoError(err)
	t.Cleanup(func() { _ = conn.Close() })

	req.NoError(conn.WriteJSON(Frame{Type: FrameConnect}))
	ack := readFrame(t, conn)
	req.Equal(FrameConnected, ack.Type)
	req.Equal("alice", ack.User)
}

func Test_Unknown_Fallback_Path_Is_Not_Found(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	resp, err := http.Get(f.server.URL + "/ws-sockjs/unexpected")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/ws-sockjs/123/abc/xhr_streaming")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusNotFound, resp.StatusCode)
}

// A router may hold a registry snapshot taken just before the recipient's
// teardown. Delivering through such a handle must report the session dead,
// never panic.
func Test_Deliver_After_Disconnect_Reports_Dead_Session(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	bobConn := f.dial(t, f.bob)
	snapshot := f.registry.ConnectionsFor(f.bob.ID)
	req.Len(snapshot, 1)

	req.NoError(bobConn.Close())
	req.Eventually(func() bool {
		return f.registry.Sessions() == 0
	}, 2*time.Second, 10*time.Millisecond)

	err := snapshot[0].Deliver(relay.DeliveryDestination, domain.Message{Content: "too late"})
	req.Error(err)
}

func Test_Fanout_To_Every_Open_Connection(t *testing.T) {
	req := require.New(t)
	f := newRelayFixture(t)

	laptop := f.dial(t, f.bob)
	phone := f.dial(t, f.bob)
	aliceConn := f.dial(t, f.alice)

	req.NoError(aliceConn.WriteJSON(Frame{
		Type:    FrameSend,
		Route:   RouteChatSend,
		Payload: &domain.SendCommand{RecipientID: f.bob.ID, Content: "to every device"},
	}))

	for _, conn := range []*websocket.Conn{laptop, phone} {
		frame := readFrame(t, conn)
		req.Equal(FrameMessage, frame.Type)
		req.Equal("to every device", frame.Message.Content)
	}
}
