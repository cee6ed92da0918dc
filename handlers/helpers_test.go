package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"quantumchat/chat"
	"quantumchat/config"
	"quantumchat/database"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testApp struct {
	router *gin.Engine
	db     *gorm.DB
	cfg    *config.Config
	kv     *chat.MemoryKV
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:         "test-secret",
		JWTExpiry:         time.Hour,
		AuthTransport:     config.TransportBearer,
		ResetTokenTTL:     time.Hour,
		ClientURL:         "http://client.test",
		SocialLoginMock:   true,
		GoogleUserinfoURL: "http://127.0.0.1:0/unused",
	}
}

func newTestApp(t *testing.T, cfg *config.Config, gen chat.Generator) *testApp {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	if cfg == nil {
		cfg = testConfig()
	}
	kv := chat.NewMemoryKV()
	return &testApp{
		router: NewRouter(cfg, Deps{DB: db, KV: kv, Generator: gen}),
		db:     db,
		cfg:    cfg,
		kv:     kv,
	}
}

func (a *testApp) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

// signUp registers and logs in a user, returning the bearer token.
func (a *testApp) signUp(t *testing.T, email string) string {
	t.Helper()
	w := a.do(http.MethodPost, "/api/auth/register", gin.H{"username": "user", "email": email, "password": "secret123"}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(http.MethodPost, "/api/auth/login", gin.H{"email": email, "password": "secret123"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// replyGenerator streams fixed fragments.
type replyGenerator struct {
	parts []string
}

func (g replyGenerator) Configured() bool { return true }

func (g replyGenerator) GenerateStream(_ context.Context, _ string, _ []chat.Message, token *chat.CancelToken, onChunk chat.ChunkFunc) error {
	for _, p := range g.parts {
		if token.Cancelled() {
			return nil
		}
		onChunk(chat.Chunk{Text: p})
	}
	onChunk(chat.Chunk{Done: true})
	return nil
}
