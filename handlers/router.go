package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"quantumchat/chat"
	"quantumchat/config"
	"quantumchat/middleware"
	"quantumchat/services"
)

// Deps are the long-lived collaborators shared by all handlers. Redis may
// be nil. KV defaults to Redis, or process memory without it.
type Deps struct {
	DB        *gorm.DB
	Redis     *redis.Client
	KV        chat.KV
	Generator chat.Generator
}

func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	store := services.NewChatStore(deps.DB)
	events := services.NewChatEvents(deps.Redis)
	kv := deps.KV
	if kv == nil {
		kv = services.NewKV(deps.Redis)
	}

	authHandler := NewAuthHandler(cfg, deps.DB,
		services.NewLoginLockout(deps.Redis),
		services.NewTokenTransport(cfg),
		services.NewResetTokens(deps.Redis, deps.DB, cfg.ResetTokenTTL),
		services.NewGoogleUserinfo(cfg.GoogleUserinfoURL),
		kv,
	)
	settingsHandler := NewSettingsHandler(deps.DB)
	chatsHandler := NewChatsHandler(store, events)
	chatHandler := NewChatHandler(cfg, store, kv, deps.Generator, events)
	syncHandler := NewSyncHandler(cfg, events)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(), middleware.SecurityHeaders(), middleware.CORS(cfg))

	authLimiter := middleware.NewRateLimiter(10, 1*time.Minute)

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "QuantumChat API is running...")
	})
	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := r.Group("/api/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/logout", authHandler.Logout)
		auth.POST("/google", authHandler.Google)
		auth.POST("/social", authHandler.Social)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)
	}

	protected := r.Group("/api")
	protected.Use(middleware.AuthRequired(cfg.JWTSecret))
	{
		protected.GET("/auth/me", authHandler.Me)
		protected.PATCH("/auth/plan", authHandler.UpdatePlan)

		protected.GET("/settings", settingsHandler.Get)
		protected.PUT("/settings", settingsHandler.Update)

		protected.GET("/chats", chatsHandler.List)
		protected.POST("/chats", chatsHandler.Create)
		protected.GET("/chats/:id", chatsHandler.Get)
		protected.POST("/chats/:id/messages", chatsHandler.AppendMessages)
		protected.PATCH("/chats/:id", chatsHandler.Update)
		protected.DELETE("/chats/:id", chatsHandler.Delete)
	}

	// WebSocket routes (auth via ?token= query param or cookie)
	r.GET("/ws/chat", chatHandler.HandleWebSocket)
	r.GET("/ws/sync", syncHandler.HandleWebSocket)

	return r
}
