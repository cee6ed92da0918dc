package services

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"quantumchat/config"
)

const TokenCookie = "token"

// TokenTransport delivers the session token to the client after login
// and removes it on logout.
type TokenTransport interface {
	Name() string
	Issue(c *gin.Context, token string)
	Clear(c *gin.Context)
}

func NewTokenTransport(cfg *config.Config) TokenTransport {
	if cfg.AuthTransport == config.TransportBearer {
		return BearerTransport{}
	}
	return CookieTransport{Secure: cfg.CookieSecure, MaxAge: cfg.JWTExpiry}
}

// CookieTransport stores the token in an HttpOnly cookie.
type CookieTransport struct {
	Secure bool
	MaxAge time.Duration
}

func (CookieTransport) Name() string { return config.TransportCookie }

func (t CookieTransport) Issue(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(TokenCookie, token, int(t.MaxAge.Seconds()), "/", "", t.Secure, true)
}

func (t CookieTransport) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(TokenCookie, "", -1, "/", "", t.Secure, true)
}

// BearerTransport leaves storage to the client, which sends the token in
// the Authorization header.
type BearerTransport struct{}

func (BearerTransport) Name() string { return config.TransportBearer }
func (BearerTransport) Issue(*gin.Context, string) {}
func (BearerTransport) Clear(*gin.Context) {}

// ExtractToken reads the token from the Authorization header, then the
// cookie, then the token query parameter used by WebSocket clients.
func ExtractToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if v, err := c.Cookie(TokenCookie); err == nil && v != "" {
		return v
	}
	return c.Query("token")
}
