package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"quantumchat/config"
	"quantumchat/services"
	"quantumchat/utils"
)

type SyncHandler struct {
	cfg      *config.Config
	events   *services.ChatEvents
	upgrader websocket.Upgrader
}

func NewSyncHandler(cfg *config.Config, events *services.ChatEvents) *SyncHandler {
	return &SyncHandler{
		cfg:      cfg,
		events:   events,
		upgrader: newUpgrader(append([]string{cfg.ClientURL}, cfg.AllowedOrigins...)),
	}
}

// HandleWebSocket subscribes to Redis pub/sub for the authenticated user
// and forwards chat change events to the connected WebSocket client.
func (h *SyncHandler) HandleWebSocket(c *gin.Context) {
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
		slog.Warn("sync ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	out := &wsWriter{conn: conn}

	if !h.events.Enabled() {
		slog.Info("sync unavailable without redis, closing ws")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "sync unavailable"),
			time.Now().Add(wsWriteWait))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubsub := h.events.Subscribe(ctx, claims.UserID)
	defer pubsub.Close()

	channel := services.UserChannel(claims.UserID)
	slog.Info("sync subscribed", "channel", channel)

	keepAlive(conn)

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := out.ping(); err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Redis → WS: forward pub/sub messages to client
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					cancel()
					return
				}
				if err := out.writeText([]byte(msg.Payload)); err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// WS → /dev/null: just keep the read loop alive to detect disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	slog.Info("sync client disconnected", "channel", channel)
}
