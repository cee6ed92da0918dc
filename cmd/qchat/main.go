// Command qchat is a terminal client for QuantumChat. It keeps chats on a
// QuantumChat server, or in a local SQLite file with -offline, and streams
// replies from Gemini directly.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"quantumchat/chat"
	"quantumchat/client"
	"quantumchat/config"
	"quantumchat/database"
	"quantumchat/gemini"
	"quantumchat/logger"
	"quantumchat/models"
	"quantumchat/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "qchat:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.toml (default ~/.config/qchat/config.toml)")
	offline := flag.Bool("offline", false, "keep chats in a local SQLite file")
	flag.Parse()

	path, required := *configPath, *configPath != ""
	if path == "" {
		if p, err := DefaultConfigPath(); err == nil {
			path = p
		}
	}
	cfg, err := LoadConfig(path, required)
	if err != nil {
		return err
	}
	if *offline {
		cfg.Offline = true
	}
	logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	persister, nav, err := connect(ctx, cfg)
	if err != nil {
		return err
	}

	gen, err := gemini.New(ctx, gemini.Config{APIKey: cfg.Gemini.APIKey, Model: cfg.Gemini.Model})
	if err != nil {
		return err
	}
	if !gen.Configured() {
		slog.Warn("GEMINI_API_KEY not set, replies use the fallback text")
	}

	s := newSession(persister, gen, nav, os.Stdout)
	if err := s.registry.Load(ctx); err != nil {
		slog.Warn("could not load chats", "error", err)
	}
	fmt.Println("type /help for commands")

	// Ctrl-C stops the reply in progress, or quits when idle.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	go func() {
		for range sig {
			if !s.coord.Cancel() {
				stop()
				return
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok || !s.handle(ctx, line) {
				break loop
			}
		}
	}

	s.coord.Cancel()
	s.wait()
	return nil
}

// connect returns the chat persister for cfg and the navigator that
// tracks the active chat.
func connect(ctx context.Context, cfg *Config) (chat.Persister, chat.Navigator, error) {
	if cfg.Offline {
		return connectOffline(ctx, cfg)
	}

	api := client.New(cfg.Server)
	identity := client.NewRemoteIdentity(api)
	if cfg.Email == "" || cfg.Password == "" {
		return nil, nil, errors.New("email and password are required, set them in the config file or QCHAT_EMAIL/QCHAT_PASSWORD")
	}
	user, err := identity.Login(ctx, cfg.Email, cfg.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("login: %w", err)
	}
	slog.Info("logged in", "server", cfg.Server, "user", user.Username)

	nav, err := chat.NewURLNavigator(cfg.Server + "/chat")
	if err != nil {
		return nil, nil, err
	}
	return api, nav, nil
}

func connectOffline(ctx context.Context, cfg *Config) (chat.Persister, chat.Navigator, error) {
	identity := client.NewLocalIdentity()
	email := cfg.Email
	if email == "" {
		email = "me@localhost"
	}
	user, err := identity.Login(ctx, email, "offline")
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Connect(&config.Config{DBDriver: "sqlite", SQLitePath: cfg.DataPath})
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, nil, err
	}

	row := models.User{Username: user.Username, Email: user.Email}
	if err := db.WithContext(ctx).Where("email = ?", user.Email).FirstOrCreate(&row).Error; err != nil {
		return nil, nil, fmt.Errorf("local user: %w", err)
	}

	nav, err := chat.NewURLNavigator("qchat://local/chat")
	if err != nil {
		return nil, nil, err
	}
	return services.NewChatStore(db).ForUser(row.ID), nav, nil
}
