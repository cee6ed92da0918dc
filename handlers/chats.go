package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"quantumchat/chat"
	"quantumchat/middleware"
	"quantumchat/services"
)

// ChatsHandler is the REST surface of the chat store.
type ChatsHandler struct {
	store  *services.ChatStore
	events *services.ChatEvents
}

func NewChatsHandler(store *services.ChatStore, events *services.ChatEvents) *ChatsHandler {
	return &ChatsHandler{store: store, events: events}
}

type appendMessagesRequest struct {
	Messages []chat.Message `json:"messages" binding:"required"`
}

// List returns the user's chats, most recently updated first.
// ?archived=true|false filters by archive state.
func (h *ChatsHandler) List(c *gin.Context) {
	var opts services.ListOptions
	if raw := c.Query("archived"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "archived must be true or false"})
			return
		}
		opts.Archived = &v
	}

	chats, err := h.store.List(c.Request.Context(), middleware.UserID(c), opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

func (h *ChatsHandler) Get(c *gin.Context) {
	id, ok := chatID(c)
	if !ok {
		return
	}
	ch, err := h.store.Get(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h *ChatsHandler) Create(c *gin.Context) {
	var req chat.NewChat
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := chat.ValidateMessages(req.Messages); err != nil {
		h.fail(c, err)
		return
	}

	userID := middleware.UserID(c)
	ch, err := h.store.Create(c.Request.Context(), userID, req)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.events.Publish(c.Request.Context(), userID, "created", ch.ID)
	c.JSON(http.StatusCreated, ch)
}

func (h *ChatsHandler) AppendMessages(c *gin.Context) {
	id, ok := chatID(c)
	if !ok {
		return
	}
	var req appendMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages are required"})
		return
	}
	if err := chat.ValidateMessages(req.Messages); err != nil {
		h.fail(c, err)
		return
	}

	userID := middleware.UserID(c)
	ch, err := h.store.Append(c.Request.Context(), userID, id, req.Messages)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.events.Publish(c.Request.Context(), userID, "updated", ch.ID)
	c.JSON(http.StatusOK, ch)
}

// Update renames, archives or restores a chat.
func (h *ChatsHandler) Update(c *gin.Context) {
	id, ok := chatID(c)
	if !ok {
		return
	}
	var req chat.ChatUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	userID := middleware.UserID(c)
	ch, err := h.store.Update(c.Request.Context(), userID, id, req)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.events.Publish(c.Request.Context(), userID, "updated", ch.ID)
	c.JSON(http.StatusOK, ch)
}

func (h *ChatsHandler) Delete(c *gin.Context) {
	id, ok := chatID(c)
	if !ok {
		return
	}

	userID := middleware.UserID(c)
	if err := h.store.Delete(c.Request.Context(), userID, id); err != nil {
		h.fail(c, err)
		return
	}

	h.events.Publish(c.Request.Context(), userID, "deleted", id.String())
	c.JSON(http.StatusOK, gin.H{"message": "Chat deleted"})
}

func (h *ChatsHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrChatNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
	case errors.Is(err, chat.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		middleware.Logger(c).Error("chat store failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
	}
}

func chatID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return uuid.Nil, false
	}
	return id, true
}
