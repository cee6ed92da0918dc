package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantumchat/chat"
	"quantumchat/config"
	"quantumchat/database"
	"quantumchat/handlers"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newServer(t *testing.T, transport string) *httptest.Server {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	cfg := &config.Config{
		JWTSecret:     "test-secret",
		JWTExpiry:     time.Hour,
		AuthTransport: transport,
		ResetTokenTTL: time.Hour,
		ClientURL:     "http://client.test",
	}
	srv := httptest.NewServer(handlers.NewRouter(cfg, handlers.Deps{DB: db}))
	t.Cleanup(srv.Close)
	return srv
}

func loggedIn(t *testing.T, srv *httptest.Server) (*Client, *RemoteIdentity) {
	t.Helper()
	ctx := context.Background()
	c := New(srv.URL + "/")
	id := NewRemoteIdentity(c)
	require.NoError(t, id.Register(ctx, "ada", "ada@example.com", "secret123"))
	_, err := id.Login(ctx, "ada@example.com", "secret123")
	require.NoError(t, err)
	return c, id
}

func TestRemoteIdentity(t *testing.T) {
	for _, transport := range []string{config.TransportBearer, config.TransportCookie} {
		t.Run(transport, func(t *testing.T) {
			srv := newServer(t, transport)
			ctx := context.Background()
			c := New(srv.URL)
			id := NewRemoteIdentity(c)

			_, err := id.CurrentUser(ctx)
			assert.ErrorIs(t, err, ErrUnauthorized)

			require.NoError(t, id.Register(ctx, "ada", "ada@example.com", "secret123"))
			_, err = id.Login(ctx, "ada@example.com", "wrong-pass")
			assert.ErrorIs(t, err, ErrUnauthorized)

			user, err := id.Login(ctx, "ada@example.com", "secret123")
			require.NoError(t, err)
			assert.Equal(t, "ada", user.Username)
			if transport == config.TransportBearer {
				assert.NotEmpty(t, c.Token())
			} else {
				assert.Empty(t, c.Token())
			}

			me, err := id.CurrentUser(ctx)
			require.NoError(t, err)
			assert.Equal(t, user.ID, me.ID)

			require.NoError(t, id.Logout(ctx))
			if transport == config.TransportCookie {
				_, err = id.CurrentUser(ctx)
				assert.ErrorIs(t, err, ErrUnauthorized)
			}
			assert.Empty(t, c.Token())
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	srv := newServer(t, config.TransportBearer)
	_, id := loggedIn(t, srv)

	err := id.Register(context.Background(), "ada", "ada@example.com", "secret123")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "already exists")
}

func TestClientPersister(t *testing.T) {
	srv := newServer(t, config.TransportBearer)
	c, _ := loggedIn(t, srv)
	ctx := context.Background()

	created, err := c.CreateChat(ctx, chat.NewChat{Title: "Trip"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	updated, err := c.AppendMessages(ctx, created.ID, []chat.Message{{Role: chat.RoleUser, Text: "hi", Time: "10:00"}})
	require.NoError(t, err)
	require.Len(t, updated.Messages, 1)

	title := "Lisbon"
	renamed, err := c.UpdateChat(ctx, created.ID, chat.ChatUpdate{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", renamed.Title)

	archived := true
	renamed, err = c.UpdateChat(ctx, created.ID, chat.ChatUpdate{Archived: &archived})
	require.NoError(t, err)
	assert.True(t, renamed.Archived)

	chats, err := c.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "hi", chats[0].Messages[0].Text)

	require.NoError(t, c.DeleteChat(ctx, created.ID))
	err = c.DeleteChat(ctx, created.ID)
	assert.ErrorIs(t, err, chat.ErrChatNotFound)

	blank := "  "
	_, err = c.CreateChat(ctx, chat.NewChat{Title: "x"})
	require.NoError(t, err)
	chats, _ = c.ListChats(ctx)
	_, err = c.UpdateChat(ctx, chats[0].ID, chat.ChatUpdate{Title: &blank})
	assert.ErrorIs(t, err, chat.ErrValidation)
}

func TestClientWithoutSession(t *testing.T) {
	srv := newServer(t, config.TransportBearer)
	_, err := New(srv.URL).ListChats(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

type echoGenerator struct{}

func (echoGenerator) Configured() bool { return true }

func (echoGenerator) GenerateStream(_ context.Context, prompt string, _ []chat.Message, _ *chat.CancelToken, onChunk chat.ChunkFunc) error {
	onChunk(chat.Chunk{Text: "you said: "})
	onChunk(chat.Chunk{Text: prompt})
	onChunk(chat.Chunk{Done: true})
	return nil
}

func TestCoordinatorOverREST(t *testing.T) {
	srv := newServer(t, config.TransportBearer)
	c, _ := loggedIn(t, srv)
	ctx := context.Background()

	reg := chat.NewRegistry(c)
	require.NoError(t, reg.Load(ctx))
	coord := chat.NewCoordinator(reg, echoGenerator{})

	res, err := coord.Send(ctx, "plan a weekend in Porto")
	require.NoError(t, err)
	assert.Equal(t, chat.TurnCompleted, res.State)

	chats, err := c.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, res.ChatID, chats[0].ID)
	assert.Equal(t, "Plan a weekend", chats[0].Title)
	require.Len(t, chats[0].Messages, 2)
	assert.Equal(t, "you said: plan a weekend in Porto", chats[0].Messages[1].Text)

	// a fresh session sees the same state
	other := chat.NewRegistry(c)
	require.NoError(t, other.Load(ctx))
	got, ok := other.Get(res.ChatID)
	require.True(t, ok)
	assert.Len(t, got.Messages, 2)
}

type silentGenerator struct{}

func (silentGenerator) Configured() bool { return true }

func (silentGenerator) GenerateStream(_ context.Context, _ string, _ []chat.Message, _ *chat.CancelToken, onChunk chat.ChunkFunc) error {
	onChunk(chat.Chunk{Done: true})
	return nil
}

func TestCoordinatorOverREST_EmptyReplyIsSaved(t *testing.T) {
	srv := newServer(t, config.TransportBearer)
	c, _ := loggedIn(t, srv)
	ctx := context.Background()

	reg := chat.NewRegistry(c)
	require.NoError(t, reg.Load(ctx))
	coord := chat.NewCoordinator(reg, silentGenerator{})

	res, err := coord.Send(ctx, "are you there")
	require.NoError(t, err)
	assert.Equal(t, chat.TurnCompleted, res.State)
	assert.NoError(t, res.Err)
	assert.False(t, res.Message.IsError)
	assert.NotContains(t, res.Message.Text, chat.NotSavedMarker)

	chats, err := c.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Len(t, chats[0].Messages, 2)
	assert.Equal(t, chat.RoleAssistant, chats[0].Messages[1].Role)
	assert.Equal(t, "", chats[0].Messages[1].Text)
}

func TestLocalIdentity(t *testing.T) {
	ctx := context.Background()
	id := NewLocalIdentity()

	_, err := id.CurrentUser(ctx)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = id.Login(ctx, "", "x")
	assert.ErrorIs(t, err, ErrUnauthorized)

	u, err := id.Login(ctx, " Ada@Example.com ", "anything")
	require.NoError(t, err)
	assert.Equal(t, "ada", u.Username)
	assert.Equal(t, "ada@example.com", u.Email)

	again, err := id.Login(ctx, "ada@example.com", "other")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)

	require.NoError(t, id.Logout(ctx))
	_, err = id.CurrentUser(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
