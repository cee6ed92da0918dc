package middleware

import (
	"github.com/gin-gonic/gin"
)

func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "SAMEORIGIN")
		c.Header("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Header("Content-Security-Policy",
			"default-src 'self'; "+
				"script-src 'self' https://accounts.google.com; "+
				"style-src 'self' 'unsafe-inline'; "+
				"img-src 'self' data: https://*.googleusercontent.com; "+
				"connect-src 'self' wss: ws: https://generativelanguage.googleapis.com; "+
				"frame-src https://accounts.google.com;")

		c.Next()
	}
}
