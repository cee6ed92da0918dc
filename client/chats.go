package client

import (
	"context"
	"net/http"
	"net/url"

	"quantumchat/chat"
)

var _ chat.Persister = (*Client)(nil)

func chatPath(id string) string {
	return "/api/chats/" + url.PathEscape(id)
}

func (c *Client) ListChats(ctx context.Context) ([]chat.Chat, error) {
	var chats []chat.Chat
	if err := c.do(ctx, http.MethodGet, "/api/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (c *Client) CreateChat(ctx context.Context, in chat.NewChat) (chat.Chat, error) {
	var out chat.Chat
	err := c.do(ctx, http.MethodPost, "/api/chats", in, &out)
	return out, err
}

func (c *Client) AppendMessages(ctx context.Context, chatID string, msgs []chat.Message) (chat.Chat, error) {
	var out chat.Chat
	body := struct {
		Messages []chat.Message `json:"messages"`
	}{msgs}
	err := c.do(ctx, http.MethodPost, chatPath(chatID)+"/messages", body, &out)
	return out, err
}

func (c *Client) UpdateChat(ctx context.Context, chatID string, upd chat.ChatUpdate) (chat.Chat, error) {
	var out chat.Chat
	err := c.do(ctx, http.MethodPatch, chatPath(chatID), upd, &out)
	return out, err
}

func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodDelete, chatPath(chatID), nil, nil)
}
