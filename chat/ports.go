package chat

import "context"

// Persister stores chats remotely. All calls may block and may fail.
type Persister interface {
	CreateChat(ctx context.Context, in NewChat) (Chat, error)
	AppendMessages(ctx context.Context, chatID string, msgs []Message) (Chat, error)
	UpdateChat(ctx context.Context, chatID string, upd ChatUpdate) (Chat, error)
	DeleteChat(ctx context.Context, chatID string) error
	ListChats(ctx context.Context) ([]Chat, error)
}

// Chunk is one callback from a streaming generation call. A stream is zero
// or more text chunks followed by exactly one chunk with Done or Err set.
type Chunk struct {
	Text string
	Done bool
	Err  string
}

type ChunkFunc func(Chunk)

// Generator produces an assistant reply as a stream of chunks.
// Implementations should stop yielding once token is cancelled.
type Generator interface {
	Configured() bool
	GenerateStream(ctx context.Context, prompt string, history []Message, token *CancelToken, onChunk ChunkFunc) error
}

// Navigator mirrors the active chat into the client's location, such as
// the chatId query parameter of a web URL.
type Navigator interface {
	SetChatID(id string)
	ClearChatID()
}

type EventType string

const (
	EventChatsLoaded      EventType = "chats"
	EventChatCreated      EventType = "chat_created"
	EventChatUpdated      EventType = "chat_updated"
	EventChatDeleted      EventType = "chat_deleted"
	EventMessageAppended  EventType = "message"
	EventAssistantStarted EventType = "assistant_started"
	EventChunk            EventType = "stream"
	EventCompleted        EventType = "complete"
	EventCancelled        EventType = "cancelled"
	EventFailed           EventType = "failed"
	EventNotice           EventType = "notice"
	EventLocation         EventType = "location"
)

// Event describes one state change of the session.
type Event struct {
	Type    EventType `json:"type"`
	ChatID  string    `json:"chat_id,omitempty"`
	Chat    *Chat     `json:"chat,omitempty"`
	Chats   []Chat    `json:"chats,omitempty"`
	Message *Message  `json:"message,omitempty"`
	Delta   string    `json:"delta,omitempty"`
	Notice  string    `json:"notice,omitempty"`
}

// Observer receives events while the emitting component holds its lock,
// so it must not call back into the Registry or Coordinator.
type Observer interface {
	OnEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }
