package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "DB_DRIVER", "JWT_EXPIRY", "AUTH_TRANSPORT", "REDIS_URL", "RESET_TOKEN_TTL", "CLIENT_URL"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 720*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, TransportCookie, cfg.AuthTransport)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, time.Hour, cfg.ResetTokenTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AUTH_TRANSPORT", "Bearer")
	t.Setenv("JWT_EXPIRY", "bogus")
	t.Setenv("SOCIAL_LOGIN_MOCK", "true")
	t.Setenv("ALLOWED_ORIGINS", " http://a.test , ,http://b.test")
	t.Setenv("CLIENT_URL", "http://app.test/")

	cfg := Load()
	assert.Equal(t, TransportBearer, cfg.AuthTransport)
	assert.Equal(t, 720*time.Hour, cfg.JWTExpiry)
	assert.True(t, cfg.SocialLoginMock)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, "http://app.test", cfg.ClientURL)
}
