package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	TransportCookie = "cookie"
	TransportBearer = "bearer"
)

type Config struct {
	Port string

	DBDriver   string
	SQLitePath string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	JWTSecret     string
	JWTExpiry     time.Duration
	AuthTransport string
	CookieSecure  bool

	RedisURL       string
	AllowedOrigins []string
	ClientURL      string

	GeminiAPIKey string
	GeminiModel  string

	SocialLoginMock   bool
	ResetTokenTTL     time.Duration
	GoogleUserinfoURL string

	DemoEmail    string
	DemoPassword string
}

func Load() *Config {
	godotenv.Load()
	godotenv.Load("../.env")

	return &Config{
		Port: getEnv("PORT", "5000"),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		SQLitePath: getEnv("SQLITE_PATH", "quantumchat.db"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "quantumchat"),
		DBPassword: getEnv("DB_PASSWORD", "quantumchat"),
		DBName:     getEnv("DB_NAME", "quantumchat"),

		JWTSecret:     getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		JWTExpiry:     parseDuration(getEnv("JWT_EXPIRY", "720h"), 720*time.Hour),
		AuthTransport: parseTransport(getEnv("AUTH_TRANSPORT", TransportCookie)),
		CookieSecure:  parseBool(getEnv("COOKIE_SECURE", "false")),

		RedisURL:       getEnv("REDIS_URL", ""),
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", defaultOrigins())),
		ClientURL:      strings.TrimRight(getEnv("CLIENT_URL", "http://localhost:5173"), "/"),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		SocialLoginMock:   parseBool(getEnv("SOCIAL_LOGIN_MOCK", "false")),
		ResetTokenTTL:     parseDuration(getEnv("RESET_TOKEN_TTL", "1h"), time.Hour),
		GoogleUserinfoURL: getEnv("GOOGLE_USERINFO_URL", "https://www.googleapis.com/oauth2/v3/userinfo"),

		DemoEmail:    getEnv("DEMO_EMAIL", ""),
		DemoPassword: getEnv("DEMO_PASSWORD", ""),
	}
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=disable TimeZone=UTC"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func parseTransport(s string) string {
	if strings.EqualFold(s, TransportBearer) {
		return TransportBearer
	}
	return TransportCookie
}

func defaultOrigins() string {
	if os.Getenv("GIN_MODE") != "release" {
		return "http://localhost:5173,http://localhost:5000"
	}
	return "http://localhost:5173"
}

func parseOrigins(s string) []string {
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
