package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"quantumchat/config"
	"quantumchat/database"
	"quantumchat/gemini"
	"quantumchat/handlers"
	"quantumchat/logger"
	"quantumchat/models"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{})

	// Database
	db, err := database.Connect(cfg)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
	rdb := database.ConnectRedis(cfg)

	seedDemoUser(db, cfg)

	generator, err := gemini.New(context.Background(), gemini.Config{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel})
	if err != nil {
		slog.Error("gemini client failed", "error", err)
		os.Exit(1)
	}
	if !generator.Configured() {
		slog.Warn("GEMINI_API_KEY not set, chat replies use the fallback text")
	}

	r := handlers.NewRouter(cfg, handlers.Deps{DB: db, Redis: rdb, Generator: generator})

	slog.Info("server starting", "port", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		slog.Error("failed to start server", "error", err)
		os.Exit(1)
	}
}

func seedDemoUser(db *gorm.DB, cfg *config.Config) {
	if cfg.DemoEmail == "" || cfg.DemoPassword == "" {
		return
	}
	email := strings.ToLower(strings.TrimSpace(cfg.DemoEmail))

	var count int64
	db.Model(&models.User{}).Where("email = ?", email).Count(&count)
	if count > 0 {
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash demo password", "error", err)
		return
	}

	username, _, _ := strings.Cut(email, "@")
	user := models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Provider:     models.ProviderLocal,
	}
	if err := db.Create(&user).Error; err != nil {
		slog.Error("failed to create demo user", "error", err)
		return
	}

	slog.Info("demo user created", "email", email)
}
