package chat

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry is the session's local cache of chats plus the active selection.
// Remote calls are made without the lock held; their results are applied
// afterwards.
type Registry struct {
	persister Persister
	nav       Navigator
	cache     *Cache
	observer  Observer
	now       func() time.Time

	mu     sync.Mutex
	chats  []*Chat
	active string
}

type RegistryOption func(*Registry)

func WithNavigator(n Navigator) RegistryOption {
	return func(r *Registry) { r.nav = n }
}

func WithCache(c *Cache) RegistryOption {
	return func(r *Registry) { r.cache = c }
}

func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) { r.observer = o }
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(p Persister, opts ...RegistryOption) *Registry {
	r := &Registry{
		persister: p,
		nav:       noopNavigator{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the local cache with the remote chat list. When the remote
// call fails the last cached snapshot, if any, is restored instead.
func (r *Registry) Load(ctx context.Context) error {
	chats, err := r.persister.ListChats(ctx)
	if err != nil {
		perr := &PersistenceError{Op: "list", Err: err}
		if r.cache != nil {
			if cached, ok, cerr := r.cache.Load(ctx); cerr == nil && ok {
				r.replaceAll(cached)
			}
		}
		r.Notify("Failed to load chats: " + err.Error())
		return perr
	}

	r.replaceAll(chats)
	r.snapshot(ctx)
	return nil
}

// SaveCache writes the current chat list to the KV cache, if configured.
// Messages still streaming are left out.
func (r *Registry) SaveCache(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	chats := r.List()
	for i := range chats {
		kept := chats[i].Messages[:0]
		for _, m := range chats[i].Messages {
			if !m.IsStreaming {
				kept = append(kept, m)
			}
		}
		chats[i].Messages = kept
	}
	return r.cache.Save(ctx, chats)
}

func (r *Registry) snapshot(ctx context.Context) {
	if err := r.SaveCache(ctx); err != nil {
		slog.Warn("failed to snapshot chat list", "error", err)
	}
}

func (r *Registry) replaceAll(chats []Chat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.chats = make([]*Chat, 0, len(chats))
	for _, c := range chats {
		cc := c.Clone()
		r.chats = append(r.chats, &cc)
	}
	r.sortLocked()
	r.emitLocked(Event{Type: EventChatsLoaded, Chats: r.listLocked()})
}

// EnsureChatForMessage returns activeID when it names a known chat and
// otherwise creates a chat titled after firstUserMessage.
func (r *Registry) EnsureChatForMessage(ctx context.Context, activeID, firstUserMessage string) (string, error) {
	if activeID != "" {
		if _, ok := r.Get(activeID); ok {
			return activeID, nil
		}
	}

	title := NormalizeTitle(DeriveTitle(firstUserMessage))
	created, err := r.persister.CreateChat(ctx, NewChat{Title: title})
	if err != nil {
		r.Notify("Failed to create chat: " + err.Error())
		return "", &PersistenceError{Op: "create", Err: err}
	}

	r.mu.Lock()

	c := created.Clone()
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	r.chats = append([]*Chat{&c}, r.chats...)
	r.sortLocked()

	snap := c.Clone()
	r.emitLocked(Event{Type: EventChatCreated, ChatID: c.ID, Chat: &snap})
	r.mu.Unlock()

	r.snapshot(ctx)
	return c.ID, nil
}

// AppendMessage adds msg to a local chat. Unknown ids are ignored, which
// covers a chat deleted while a turn was in flight.
func (r *Registry) AppendMessage(chatID string, msg Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.findLocked(chatID)
	if c == nil {
		return false
	}
	c.appendMessage(msg, r.now())
	r.sortLocked()

	m := msg
	r.emitLocked(Event{Type: EventMessageAppended, ChatID: chatID, Message: &m})
	return true
}

func (r *Registry) Rename(ctx context.Context, chatID, newTitle string) (Chat, error) {
	title := NormalizeTitle(newTitle)
	if title == "" {
		r.Notify("Chat title cannot be empty")
		return Chat{}, ErrEmptyTitle
	}
	if _, ok := r.Get(chatID); !ok {
		return Chat{}, ErrChatNotFound
	}

	updated, err := r.persister.UpdateChat(ctx, chatID, ChatUpdate{Title: &title})
	if err != nil {
		r.Notify("Failed to rename chat: " + err.Error())
		return Chat{}, &PersistenceError{Op: "rename", Err: err}
	}
	c := r.applyRemote(chatID, updated)
	r.snapshot(ctx)
	return c, nil
}

func (r *Registry) Archive(ctx context.Context, chatID string) (Chat, error) {
	return r.setArchived(ctx, chatID, true)
}

func (r *Registry) Restore(ctx context.Context, chatID string) (Chat, error) {
	return r.setArchived(ctx, chatID, false)
}

func (r *Registry) setArchived(ctx context.Context, chatID string, archived bool) (Chat, error) {
	if _, ok := r.Get(chatID); !ok {
		return Chat{}, ErrChatNotFound
	}

	op := "restore"
	if archived {
		op = "archive"
	}

	updated, err := r.persister.UpdateChat(ctx, chatID, ChatUpdate{Archived: &archived})
	if err != nil {
		r.Notify("Failed to " + op + " chat: " + err.Error())
		return Chat{}, &PersistenceError{Op: op, Err: err}
	}
	if !archived {
		updated.ArchivedAt = nil
	}
	c := r.applyRemote(chatID, updated)
	r.snapshot(ctx)
	return c, nil
}

// applyRemote replaces the local record's metadata with the server's copy.
// Local messages are kept so an in-flight placeholder survives.
func (r *Registry) applyRemote(chatID string, remote Chat) Chat {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.findLocked(chatID)
	if c == nil {
		return remote.Clone()
	}

	c.Title = remote.Title
	c.Archived = remote.Archived
	c.ArchivedAt = nil
	if remote.ArchivedAt != nil {
		at := *remote.ArchivedAt
		c.ArchivedAt = &at
	}
	if !remote.CreatedAt.IsZero() {
		c.CreatedAt = remote.CreatedAt
	}
	if remote.UpdatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = remote.UpdatedAt
	}
	r.sortLocked()

	snap := c.Clone()
	r.emitLocked(Event{Type: EventChatUpdated, ChatID: chatID, Chat: &snap})
	return c.Clone()
}

// Delete removes a chat permanently, archived or not.
func (r *Registry) Delete(ctx context.Context, chatID string) error {
	if _, ok := r.Get(chatID); !ok {
		return ErrChatNotFound
	}

	if err := r.persister.DeleteChat(ctx, chatID); err != nil {
		r.Notify("Failed to delete chat: " + err.Error())
		return &PersistenceError{Op: "delete", Err: err}
	}

	r.mu.Lock()
	for i, c := range r.chats {
		if c.ID == chatID {
			r.chats = append(r.chats[:i], r.chats[i+1:]...)
			break
		}
	}
	r.emitLocked(Event{Type: EventChatDeleted, ChatID: chatID})

	if r.active == chatID {
		r.clearActiveLocked()
	}
	r.mu.Unlock()

	r.snapshot(ctx)
	return nil
}

// Select makes chatID the active chat.
func (r *Registry) Select(chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findLocked(chatID) == nil {
		return ErrChatNotFound
	}
	r.active = chatID
	r.nav.SetChatID(chatID)
	r.emitLocked(Event{Type: EventLocation, ChatID: chatID})
	return nil
}

// NewChat clears the selection so the next send starts a new conversation.
func (r *Registry) NewChat() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearActiveLocked()
}

func (r *Registry) clearActiveLocked() {
	r.active = ""
	r.nav.ClearChatID()
	r.emitLocked(Event{Type: EventLocation})
}

func (r *Registry) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// List returns a copy of all chats, most recently updated first.
func (r *Registry) List() []Chat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked()
}

func (r *Registry) Get(chatID string) (Chat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.findLocked(chatID)
	if c == nil {
		return Chat{}, false
	}
	return c.Clone(), true
}

// Notify emits a user-visible notice.
func (r *Registry) Notify(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(Event{Type: EventNotice, Notice: text})
}

// Streaming primitives used by the Coordinator.

func (r *Registry) history(chatID string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.findLocked(chatID)
	if c == nil {
		return nil
	}
	out := make([]Message, len(c.Messages))
	copy(out, c.Messages)
	return out
}

func (r *Registry) startAssistant(chatID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.findLocked(chatID)
	if c == nil {
		return -1, false
	}
	idx, ok := c.appendPlaceholder(r.now())
	if ok {
		r.sortLocked()
	}
	return idx, ok
}

func (r *Registry) appendFragment(chatID string, idx int, fragment string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.findLocked(chatID)
	return c != nil && c.appendFragment(idx, fragment)
}

func (r *Registry) finishStreaming(chatID string, idx int, final func(string) string, isError bool) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.findLocked(chatID)
	if c == nil {
		return Message{}, false
	}
	return c.finishStreaming(idx, final, isError)
}

func (r *Registry) annotate(chatID string, idx int, suffix string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.findLocked(chatID)
	if c == nil {
		return Message{}, false
	}
	return c.annotate(idx, suffix)
}

func (r *Registry) emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(e)
}

func (r *Registry) emitLocked(e Event) {
	if r.observer != nil {
		r.observer.OnEvent(e)
	}
}

func (r *Registry) findLocked(chatID string) *Chat {
	for _, c := range r.chats {
		if c.ID == chatID {
			return c
		}
	}
	return nil
}

func (r *Registry) sortLocked() {
	sort.SliceStable(r.chats, func(i, j int) bool {
		return r.chats[i].recency().After(r.chats[j].recency())
	})
}

func (r *Registry) listLocked() []Chat {
	out := make([]Chat, 0, len(r.chats))
	for _, c := range r.chats {
		out = append(out, c.Clone())
	}
	return out
}
