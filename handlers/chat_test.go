package handlers

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantumchat/chat"
	"quantumchat/utils"
)

type wsFrame struct {
	Type    string        `json:"type"`
	ChatID  string        `json:"chat_id"`
	Chats   []chat.Chat   `json:"chats"`
	Message *chat.Message `json:"message"`
	Delta   string        `json:"delta"`
	Notice  string        `json:"notice"`
	State   string        `json:"state"`
	Error   string        `json:"error"`
}

func dialChat(t *testing.T, srv *httptest.Server, token, chatID string) *websocket.Conn {
	t.Helper()
	q := url.Values{"token": {token}}
	if chatID != "" {
		q.Set(chat.ChatIDParam, chatID)
	}
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?" + q.Encode()
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil collects frames up to and including the first of type stop.
func readUntil(t *testing.T, conn *websocket.Conn, stop string) []wsFrame {
	t.Helper()
	var frames []wsFrame
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var f wsFrame
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if f.Type == stop {
			return frames
		}
	}
}

func framesOf(frames []wsFrame, typ string) []wsFrame {
	var out []wsFrame
	for _, f := range frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func TestChatWebSocket_StreamsAndPersists(t *testing.T) {
	app := newTestApp(t, nil, replyGenerator{parts: []string{"Hi ", "there"}})
	srv := httptest.NewServer(app.router)
	defer srv.Close()
	token := app.signUp(t, "ada@example.com")

	conn := dialChat(t, srv, token, "")
	loaded := readUntil(t, conn, string(chat.EventChatsLoaded))
	assert.Empty(t, loaded[len(loaded)-1].Chats)

	require.NoError(t, conn.WriteJSON(chatCommand{Type: "message", Content: "hello there friend, how are you"}))
	frames := readUntil(t, conn, "turn_result")

	created := framesOf(frames, string(chat.EventChatCreated))
	require.Len(t, created, 1)
	chatID := created[0].ChatID

	var streamed strings.Builder
	for _, f := range framesOf(frames, string(chat.EventChunk)) {
		streamed.WriteString(f.Delta)
	}
	assert.Equal(t, "Hi there", streamed.String())
	require.Len(t, framesOf(frames, string(chat.EventCompleted)), 1)

	result := frames[len(frames)-1]
	assert.Equal(t, "completed", result.State)
	assert.Equal(t, chatID, result.ChatID)
	require.NotNil(t, result.Message)
	assert.Equal(t, "Hi there", result.Message.Text)

	w := app.do(http.MethodGet, "/api/chats/"+chatID, nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	stored := decode[chat.Chat](t, w)
	assert.Equal(t, "Hello there friend", stored.Title)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, "hello there friend, how are you", stored.Messages[0].Text)
	assert.Equal(t, "Hi there", stored.Messages[1].Text)
}

func TestChatWebSocket_FallbackAndCommands(t *testing.T) {
	app := newTestApp(t, nil, nil)
	srv := httptest.NewServer(app.router)
	defer srv.Close()
	token := app.signUp(t, "ada@example.com")

	conn := dialChat(t, srv, token, "")
	readUntil(t, conn, string(chat.EventChatsLoaded))

	require.NoError(t, conn.WriteJSON(chatCommand{Type: "message", Content: "anyone home"}))
	frames := readUntil(t, conn, "turn_result")
	result := frames[len(frames)-1]
	require.NotNil(t, result.Message)
	assert.Equal(t, chat.FallbackReply, result.Message.Text)
	chatID := result.ChatID

	require.NoError(t, conn.WriteJSON(chatCommand{Type: "rename", ChatID: chatID, Title: "Home check"}))
	updated := readUntil(t, conn, string(chat.EventChatUpdated))
	assert.Equal(t, chatID, updated[len(updated)-1].ChatID)

	require.NoError(t, conn.WriteJSON(chatCommand{Type: "rename", ChatID: chatID, Title: "  "}))
	errFrames := readUntil(t, conn, "error")
	assert.Contains(t, errFrames[len(errFrames)-1].Error, "title is empty")

	require.NoError(t, conn.WriteJSON(chatCommand{Type: "message", Content: "   "}))
	errFrames = readUntil(t, conn, "error")
	assert.Contains(t, errFrames[len(errFrames)-1].Error, "message is empty")

	require.NoError(t, conn.WriteJSON(chatCommand{Type: "bogus"}))
	errFrames = readUntil(t, conn, "error")
	assert.Equal(t, "Unknown message type", errFrames[len(errFrames)-1].Error)

	require.NoError(t, conn.WriteJSON(chatCommand{Type: "delete", ChatID: chatID}))
	readUntil(t, conn, string(chat.EventChatDeleted))

	require.NoError(t, conn.WriteJSON(chatCommand{Type: "list"}))
	list := readUntil(t, conn, string(chat.EventChatsLoaded))
	assert.Empty(t, list[len(list)-1].Chats)
}

func TestChatWebSocket_SelectsInitialChat(t *testing.T) {
	app := newTestApp(t, nil, replyGenerator{parts: []string{"ok"}})
	srv := httptest.NewServer(app.router)
	defer srv.Close()
	token := app.signUp(t, "ada@example.com")

	existing := decode[chat.Chat](t, app.do(http.MethodPost, "/api/chats", map[string]string{"title": "Existing"}, token))

	conn := dialChat(t, srv, token, existing.ID)
	frames := readUntil(t, conn, string(chat.EventLocation))
	assert.Equal(t, existing.ID, frames[len(frames)-1].ChatID)

	require.NoError(t, conn.WriteJSON(chatCommand{Type: "message", Content: "continue please"}))
	frames = readUntil(t, conn, "turn_result")
	assert.Empty(t, framesOf(frames, string(chat.EventChatCreated)), "message goes to the selected chat")
	assert.Equal(t, existing.ID, frames[len(frames)-1].ChatID)
}

func TestChatWebSocket_RequiresToken(t *testing.T) {
	app := newTestApp(t, nil, nil)
	srv := httptest.NewServer(app.router)
	defer srv.Close()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatSession_LogsFailedWrites(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := upgrader.Upgrade(w, r, nil); err == nil {
			c.Close()
		}
	}))
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.NoError(t, conn.Close())

	var buf bytes.Buffer
	s := &chatSession{
		log: slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
		out: &wsWriter{conn: conn},
	}
	s.sendError("boom")
	s.forward(chat.Event{Type: chat.EventNotice, Notice: "hi"})

	logs := buf.String()
	assert.Equal(t, 2, strings.Count(logs, "chat ws write failed"))
	assert.Contains(t, logs, `"frame":"error"`)
	assert.Contains(t, logs, `"frame":"`+string(chat.EventNotice)+`"`)
}

func TestChatWebSocket_SnapshotClearedOnLogout(t *testing.T) {
	app := newTestApp(t, nil, replyGenerator{parts: []string{"sure"}})
	srv := httptest.NewServer(app.router)
	defer srv.Close()
	token := app.signUp(t, "ada@example.com")
	claims, err := utils.ParseToken(app.cfg.JWTSecret, token)
	require.NoError(t, err)
	cache := chat.NewCache(app.kv, claims.UserID.String())

	conn := dialChat(t, srv, token, "")
	readUntil(t, conn, string(chat.EventChatsLoaded))
	require.NoError(t, conn.WriteJSON(chatCommand{Type: "message", Content: "remember this"}))
	readUntil(t, conn, "turn_result")

	chats, ok, err := cache.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, chats, 1)
	assert.Len(t, chats[0].Messages, 2)

	w := app.do(http.MethodPost, "/api/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	_, ok, err = cache.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
