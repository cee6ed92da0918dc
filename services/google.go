package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrGoogleToken = errors.New("google token rejected")

type GoogleProfile struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// GoogleUserinfo exchanges an OAuth access token for the user's profile.
type GoogleUserinfo struct {
	url    string
	client *http.Client
}

func NewGoogleUserinfo(url string) *GoogleUserinfo {
	return &GoogleUserinfo{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (g *GoogleUserinfo) Fetch(ctx context.Context, accessToken string) (GoogleProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return GoogleProfile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return GoogleProfile{}, fmt.Errorf("google userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GoogleProfile{}, fmt.Errorf("%w: status %d", ErrGoogleToken, resp.StatusCode)
	}

	var p GoogleProfile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return GoogleProfile{}, fmt.Errorf("google userinfo: %w", err)
	}
	if p.Email == "" {
		return GoogleProfile{}, fmt.Errorf("%w: no email in profile", ErrGoogleToken)
	}
	return p, nil
}
