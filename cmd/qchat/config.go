package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"quantumchat/gemini"
)

type Config struct {
	Server   string       `toml:"server"`
	Email    string       `toml:"email"`
	Password string       `toml:"password"`
	Offline  bool         `toml:"offline"`
	DataPath string       `toml:"data_path"`
	Gemini   GeminiConfig `toml:"gemini"`
	Log      LogConfig    `toml:"log"`
}

type GeminiConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Server:   "http://localhost:5000",
		DataPath: "qchat.db",
		Gemini:   GeminiConfig{Model: gemini.DefaultModel},
		Log:      LogConfig{Level: "warn", Format: "text"},
	}
}

// DefaultConfigPath is ~/.config/qchat/config.toml.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "qchat", "config.toml"), nil
}

// LoadConfig reads path over the defaults and applies env overrides. A
// missing file is only an error when required is set.
func LoadConfig(path string, required bool) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) || required {
				return nil, fmt.Errorf("load config %s: %w", path, err)
			}
		}
	}
	cfg.ApplyEnvOverrides()

	cfg.Server = strings.TrimRight(cfg.Server, "/")
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = gemini.DefaultModel
	}
	if !cfg.Offline && cfg.Server == "" {
		return nil, errors.New("server is required unless offline")
	}
	return cfg, nil
}

func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("QCHAT_SERVER"); v != "" {
		c.Server = v
	}
	if v := os.Getenv("QCHAT_EMAIL"); v != "" {
		c.Email = v
	}
	if v := os.Getenv("QCHAT_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("QCHAT_OFFLINE"); v != "" {
		c.Offline = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		c.Gemini.Model = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}
