// Package chat holds the client-session core of QuantumChat: the chat
// registry, the message list primitives and the coordinator that drives
// one streamed assistant reply per user turn.
//
// The package talks to the outside world only through the ports in
// ports.go. The server wires it to gorm, the terminal client to the REST API.
package chat

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat transcript.
type Message struct {
	Role        Role   `json:"role"`
	Text        string `json:"text"`
	Time        string `json:"time"`
	IsStreaming bool   `json:"is_streaming,omitempty"`
	IsError     bool   `json:"is_error,omitempty"`
}

// Chat is a conversation record as the session sees it.
type Chat struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Archived   bool       `json:"archived"`
	ArchivedAt *time.Time `json:"archived_at"`
	Messages   []Message  `json:"messages"`
}

// NewChat is the payload for creating a chat remotely.
type NewChat struct {
	Title    string    `json:"title"`
	Messages []Message `json:"messages,omitempty"`
}

// ChatUpdate carries the mutable chat fields. Nil fields are left alone.
type ChatUpdate struct {
	Title    *string `json:"title,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

// Clone returns a deep copy so callers never share the registry's slices.
func (c Chat) Clone() Chat {
	out := c
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		copy(out.Messages, c.Messages)
	}
	if c.ArchivedAt != nil {
		at := *c.ArchivedAt
		out.ArchivedAt = &at
	}
	return out
}

func (c Chat) recency() time.Time {
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	return c.CreatedAt
}

// FormatTime renders the display timestamp stored on messages.
func FormatTime(t time.Time) string {
	return t.Format("15:04")
}
