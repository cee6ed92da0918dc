package client

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
	Pro      int    `json:"pro"`
}

// Identity resolves who the session acts for.
type Identity interface {
	CurrentUser(ctx context.Context) (User, error)
	Login(ctx context.Context, email, password string) (User, error)
	Logout(ctx context.Context) error
}

// RemoteIdentity authenticates against /api/auth on the server.
type RemoteIdentity struct {
	client *Client
}

func NewRemoteIdentity(c *Client) *RemoteIdentity {
	return &RemoteIdentity{client: c}
}

type loginResponse struct {
	Token     string `json:"token"`
	Transport string `json:"transport"`
	User      User   `json:"user"`
}

// Register creates a local account. It does not log in.
func (r *RemoteIdentity) Register(ctx context.Context, username, email, password string) error {
	body := map[string]string{"username": username, "email": email, "password": password}
	return r.client.do(ctx, http.MethodPost, "/api/auth/register", body, nil)
}

func (r *RemoteIdentity) Login(ctx context.Context, email, password string) (User, error) {
	var resp loginResponse
	body := map[string]string{"email": email, "password": password}
	if err := r.client.do(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return User{}, err
	}
	// cookie sessions ride on the jar
	if resp.Transport == "bearer" {
		r.client.SetToken(resp.Token)
	}
	return resp.User, nil
}

func (r *RemoteIdentity) CurrentUser(ctx context.Context) (User, error) {
	var u User
	err := r.client.do(ctx, http.MethodGet, "/api/auth/me", nil, &u)
	return u, err
}

func (r *RemoteIdentity) Logout(ctx context.Context) error {
	err := r.client.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	r.client.SetToken("")
	return err
}

// LocalIdentity is an offline stand-in that accepts any credentials.
type LocalIdentity struct {
	mu   sync.Mutex
	user *User
}

func NewLocalIdentity() *LocalIdentity {
	return &LocalIdentity{}
}

func (l *LocalIdentity) Login(_ context.Context, email, password string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return User{}, ErrUnauthorized
	}
	name, _, _ := strings.Cut(email, "@")

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.user != nil && l.user.Email == email {
		return *l.user, nil
	}
	l.user = &User{
		ID:       uuid.NewString(),
		Username: name,
		Email:    email,
		Provider: "local",
	}
	return *l.user, nil
}

func (l *LocalIdentity) CurrentUser(context.Context) (User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.user == nil {
		return User{}, ErrUnauthorized
	}
	return *l.user, nil
}

func (l *LocalIdentity) Logout(context.Context) error {
	l.mu.Lock()
	l.user = nil
	l.mu.Unlock()
	return nil
}
