package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/observability"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type apiFixture struct {
	server   *httptest.Server
	tokens   auth.TokenService
	messages *mocks.MockIMessageRepository
	users    *mocks.MockIUserRepository
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	messages := mocks.NewMockIMessageRepository(ctrl)
	users := mocks.NewMockIUserRepository(ctrl)
	log := logs.GetLoggerFromLevel(slog.LevelError)
	tokens := auth.NewTokenService("api-test-secret", time.Hour)
	stats := observability.NewRelayStats(log, nil)

	mux := httprouter.New()
	NewHandler(log, tokens, messages, users, stats).Routes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return apiFixture{server: server, tokens: tokens, messages: messages, users: users}
}

func (f apiFixture) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	r, err := http.NewRequest(http.MethodGet, f.server.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func Test_Conversation_Requires_Token(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	resp := f.get(t, "/api/messages/2", "")
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp = f.get(t, "/api/messages/2", "forged")
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func Test_Conversation_Listing(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)
	alice := domain.Identity{ID: 1, Username: "alice"}
	bob := domain.Identity{ID: 2, Username: "bob"}

	stored := []domain.Message{
		{ID: uuid.New(), SenderID: 2, RecipientID: 1, Content: "newest", At: time.Now().UTC()},
		{ID: uuid.New(), SenderID: 1, RecipientID: 2, Content: "older", At: time.Now().UTC().Add(-time.Minute)},
	}
	f.users.EXPECT().GetByID(bob.ID).Return(bob, nil)
	f.messages.EXPECT().GetConversation(alice.ID, bob.ID, nil).Return(stored, lo.ToPtr("cursor-1"), nil)

	token, err := f.tokens.Generate(alice)
	req.NoError(err)
	resp := f.get(t, "/api/messages/2", token)
	req.Equal(http.StatusOK, resp.StatusCode)

	var body ConversationResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&body))
	req.Len(body.Messages, 2)
	req.Equal("newest", body.Messages[0].Content)
	req.Equal("older", body.Messages[1].Content)
	req.NotNil(body.NextCursor)
	req.Equal("cursor-1", *body.NextCursor)
}

func Test_Conversation_Forwards_Cursor(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)
	alice := domain.Identity{ID: 1, Username: "alice"}
	bob := domain.Identity{ID: 2, Username: "bob"}

	f.users.EXPECT().GetByID(bob.ID).Return(bob, nil)
	f.messages.EXPECT().
		GetConversation(alice.ID, bob.ID, gomock.Cond(func(c *string) bool {
			return c != nil && *c == "cursor-1"
		})).
		Return(nil, nil, nil)

	token, err := f.tokens.Generate(alice)
	req.NoError(err)
	resp := f.get(t, "/api/messages/2?cursor=cursor-1", token)
	req.Equal(http.StatusOK, resp.StatusCode)

	var body ConversationResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&body))
	req.Empty(body.Messages)
	req.Nil(body.NextCursor)
}

func Test_Conversation_With_Unknown_User(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)
	alice := domain.Identity{ID: 1, Username: "alice"}

	f.users.EXPECT().GetByID(int64(99)).Return(domain.Identity{}, errors.ErrUserNotFound)

	token, err := f.tokens.Generate(alice)
	req.NoError(err)
	resp := f.get(t, "/api/messages/99", token)
	req.Equal(http.StatusNotFound, resp.StatusCode)
}

func Test_Conversation_With_Invalid_User_Id(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)
	alice := domain.Identity{ID: 1, Username: "alice"}

	token, err := f.tokens.Generate(alice)
	req.NoError(err)
	resp := f.get(t, "/api/messages/not-a-number", token)
	req.Equal(http.StatusBadRequest, resp.StatusCode)
}

func Test_Conversation_Storage_Failure(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)
	alice := domain.Identity{ID: 1, Username: "alice"}
	bob := domain.Identity{ID: 2, Username: "bob"}

	f.users.EXPECT().GetByID(bob.ID).Return(bob, nil)
	f.messages.EXPECT().GetConversation(alice.ID, bob.ID, nil).
		Return(nil, nil, fmt.Errorf("iterator failure"))

	token, err := f.tokens.Generate(alice)
	req.NoError(err)
	resp := f.get(t, "/api/messages/2", token)
	req.Equal(http.StatusInternalServerError, resp.StatusCode)
}

func Test_Health_And_Stats_Are_Public(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	resp := f.get(t, "/healthz", "")
	req.Equal(http.StatusOK, resp.StatusCode)

	resp = f.get(t, "/debug/stats", "")
	req.Equal(http.StatusOK, resp.StatusCode)
	var snapshot observability.Snapshot
	req.NoError(json.NewDecoder(resp.Body).Decode(&snapshot))
}
