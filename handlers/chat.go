package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quantumchat/chat"
	"quantumchat/config"
	"quantumchat/logger"
	"quantumchat/services"
	"quantumchat/utils"
)

// ChatHandler serves /ws/chat: one chat.Registry and chat.Coordinator per
// connection, persisted through the gorm store.
type ChatHandler struct {
	cfg       *config.Config
	store     *services.ChatStore
	kv        chat.KV
	generator chat.Generator
	events    *services.ChatEvents
	upgrader  websocket.Upgrader
}

func NewChatHandler(cfg *config.Config, store *services.ChatStore, kv chat.KV, generator chat.Generator, events *services.ChatEvents) *ChatHandler {
	return &ChatHandler{
		cfg:       cfg,
		store:     store,
		kv:        kv,
		generator: generator,
		events:    events,
		upgrader:  newUpgrader(append([]string{cfg.ClientURL}, cfg.AllowedOrigins...)),
	}
}

type chatCommand struct {
	Type    string `json:"type"` // message | cancel | select | new | rename | archive | restore | delete | list
	Content string `json:"content,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
	Title   string `json:"title,omitempty"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type turnFrame struct {
	Type    string        `json:"type"`
	ChatID  string        `json:"chat_id,omitempty"`
	State   string        `json:"state"`
	Message *chat.Message `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
}

func (h *ChatHandler) HandleWebSocket(c *gin.Context) {
	token := services.ExtractToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
		return
	}
	claims, err := utils.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("chat ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s, err := h.newSession(claims.UserID, conn, c.Query(chat.ChatIDParam))
	if err != nil {
		slog.Error("chat session setup failed", "error", err)
		return
	}
	s.run()
}

type chatSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	userID   uuid.UUID
	conn     *websocket.Conn
	out      *wsWriter
	registry *chat.Registry
	coord    *chat.Coordinator
	events   *services.ChatEvents
	initial  string

	turns sync.WaitGroup
}

func (h *ChatHandler) newSession(userID uuid.UUID, conn *websocket.Conn, initialChatID string) (*chatSession, error) {
	nav, err := chat.NewURLNavigator("/chat")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &chatSession{
		ctx:     ctx,
		cancel:  cancel,
		log:     slog.With("sessionId", logger.NewRequestID(), "userId", userID),
		userID:  userID,
		conn:    conn,
		out:     &wsWriter{conn: conn},
		events:  h.events,
		initial: initialChatID,
	}
	s.registry = chat.NewRegistry(h.store.ForUser(userID),
		chat.WithNavigator(nav),
		chat.WithCache(chat.NewCache(h.kv, userID.String())),
		chat.WithObserver(chat.ObserverFunc(s.forward)),
	)
	s.coord = chat.NewCoordinator(s.registry, h.generator)
	return s, nil
}

// forward runs under the core's locks and only writes to the socket.
func (s *chatSession) forward(e chat.Event) {
	s.write(string(e.Type), e)
}

func (s *chatSession) write(kind string, v any) {
	if err := s.out.writeJSON(v); err != nil {
		s.log.Debug("chat ws write failed", "frame", kind, "error", err)
	}
}

func (s *chatSession) run() {
	defer func() {
		s.coord.Cancel()
		s.cancel()
		s.turns.Wait()
		s.log.Info("chat session closed")
	}()

	s.log.Info("chat session opened")
	if err := s.registry.Load(s.ctx); err != nil {
		s.log.Warn("loading chats failed, using cache", "error", err)
	}
	if s.initial != "" {
		if err := s.registry.Select(s.initial); err != nil {
			s.sendError("Chat not found")
		}
	}

	keepAlive(s.conn)
	go s.pingLoop()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("chat ws error", "error", err)
			}
			return
		}

		var cmd chatCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			s.sendError("Invalid message format")
			continue
		}
		s.handle(cmd)
	}
}

func (s *chatSession) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.out.ping(); err != nil {
				s.conn.Close()
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *chatSession) handle(cmd chatCommand) {
	switch cmd.Type {
	case "message":
		s.turns.Add(1)
		go func() {
			defer s.turns.Done()
			s.send(cmd.Content)
		}()
	case "cancel":
		s.coord.Cancel()
	case "select":
		if err := s.registry.Select(cmd.ChatID); err != nil {
			s.sendError("Chat not found")
		}
	case "new":
		s.registry.NewChat()
	case "list":
		s.forward(chat.Event{Type: chat.EventChatsLoaded, Chats: s.registry.List()})
	case "rename":
		_, err := s.registry.Rename(s.ctx, cmd.ChatID, cmd.Title)
		s.afterMutation("updated", cmd.ChatID, err)
	case "archive":
		_, err := s.registry.Archive(s.ctx, cmd.ChatID)
		s.afterMutation("updated", cmd.ChatID, err)
	case "restore":
		_, err := s.registry.Restore(s.ctx, cmd.ChatID)
		s.afterMutation("updated", cmd.ChatID, err)
	case "delete":
		err := s.registry.Delete(s.ctx, cmd.ChatID)
		s.afterMutation("deleted", cmd.ChatID, err)
	default:
		s.sendError("Unknown message type")
	}
}

func (s *chatSession) send(text string) {
	res, err := s.coord.Send(s.ctx, text)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrTurnInFlight):
			s.sendError("A reply is already being generated")
			return
		case errors.Is(err, chat.ErrValidation):
			s.sendError(err.Error())
			return
		}
		s.log.Warn("turn aborted", "chatId", res.ChatID, "error", err)
	}

	frame := turnFrame{Type: "turn_result", ChatID: res.ChatID, State: res.State.String()}
	if res.State.Terminal() && res.Message.Role != "" {
		m := res.Message
		frame.Message = &m
	}
	if res.Err != nil {
		frame.Error = res.Err.Error()
	} else if err != nil {
		frame.Error = err.Error()
	}
	s.write(frame.Type, frame)

	if res.ChatID != "" {
		s.events.Publish(s.ctx, s.userID, "updated", res.ChatID)
	}
}

func (s *chatSession) afterMutation(action, chatID string, err error) {
	switch {
	case err == nil:
		s.events.Publish(s.ctx, s.userID, action, chatID)
	case errors.Is(err, chat.ErrChatNotFound):
		s.sendError("Chat not found")
	case errors.Is(err, chat.ErrValidation):
		s.sendError(err.Error())
	default:
		// persistence failures already reached the client as a notice
		s.log.Warn("chat mutation failed", "action", action, "chatId", chatID, "error", err)
	}
}

func (s *chatSession) sendError(msg string) {
	s.write("error", errorFrame{Type: "error", Error: msg})
}
