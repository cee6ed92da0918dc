package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errBackend = errors.New("backend unavailable")

// memPersister is an in-memory Persister with per-operation failure switches.
type memPersister struct {
	mu    sync.Mutex
	seq   int
	chats map[string]*Chat
	now   func() time.Time

	failCreate bool
	failList   bool
	failUpdate bool
	failDelete bool
	// failAppendAfter fails every AppendMessages call once this many calls
	// have succeeded. Negative disables it.
	failAppendAfter int

	createCalls int
	appendCalls int
	updateCalls int
	deleteCalls int
}

func newMemPersister() *memPersister {
	return &memPersister{
		chats:           make(map[string]*Chat),
		now:             time.Now,
		failAppendAfter: -1,
	}
}

func (p *memPersister) CreateChat(_ context.Context, in NewChat) (Chat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.createCalls++
	if p.failCreate {
		return Chat{}, errBackend
	}
	p.seq++
	now := p.now()
	c := &Chat{
		ID:        fmt.Sprintf("chat-%d", p.seq),
		Title:     in.Title,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  append([]Message{}, in.Messages...),
	}
	p.chats[c.ID] = c
	return c.Clone(), nil
}

func (p *memPersister) AppendMessages(_ context.Context, chatID string, msgs []Message) (Chat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failAppendAfter >= 0 && p.appendCalls >= p.failAppendAfter {
		p.appendCalls++
		return Chat{}, errBackend
	}
	p.appendCalls++
	c, ok := p.chats[chatID]
	if !ok {
		return Chat{}, ErrChatNotFound
	}
	c.Messages = append(c.Messages, msgs...)
	c.UpdatedAt = p.now()
	return c.Clone(), nil
}

func (p *memPersister) UpdateChat(_ context.Context, chatID string, upd ChatUpdate) (Chat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.updateCalls++
	if p.failUpdate {
		return Chat{}, errBackend
	}
	c, ok := p.chats[chatID]
	if !ok {
		return Chat{}, ErrChatNotFound
	}
	if upd.Title != nil {
		c.Title = *upd.Title
	}
	if upd.Archived != nil {
		c.Archived = *upd.Archived
		if c.Archived {
			at := p.now()
			c.ArchivedAt = &at
		} else {
			c.ArchivedAt = nil
		}
	}
	return c.Clone(), nil
}

func (p *memPersister) DeleteChat(_ context.Context, chatID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.deleteCalls++
	if p.failDelete {
		return errBackend
	}
	if _, ok := p.chats[chatID]; !ok {
		return ErrChatNotFound
	}
	delete(p.chats, chatID)
	return nil
}

func (p *memPersister) ListChats(context.Context) ([]Chat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failList {
		return nil, errBackend
	}
	out := make([]Chat, 0, len(p.chats))
	for _, c := range p.chats {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (p *memPersister) stored(chatID string) (Chat, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.chats[chatID]
	if !ok {
		return Chat{}, false
	}
	return c.Clone(), true
}

// scriptGenerator replays a fixed list of chunks and an optional error.
type scriptGenerator struct {
	configured bool
	chunks     []Chunk
	err        error

	mu      sync.Mutex
	calls   int
	prompts []string
	history [][]Message
}

func (g *scriptGenerator) Configured() bool { return g.configured }

func (g *scriptGenerator) GenerateStream(_ context.Context, prompt string, history []Message, token *CancelToken, onChunk ChunkFunc) error {
	g.mu.Lock()
	g.calls++
	g.prompts = append(g.prompts, prompt)
	g.history = append(g.history, history)
	g.mu.Unlock()

	for _, ch := range g.chunks {
		if token.Cancelled() {
			return nil
		}
		onChunk(ch)
	}
	return g.err
}

// gatedGenerator emits the first chunks, then blocks until released and
// keeps emitting regardless of cancellation, like a network call that
// cannot be aborted.
type gatedGenerator struct {
	before  []string
	after   []string
	reached chan struct{}
	release chan struct{}
}

func newGatedGenerator(before, after []string) *gatedGenerator {
	return &gatedGenerator{
		before:  before,
		after:   after,
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedGenerator) Configured() bool { return true }

func (g *gatedGenerator) GenerateStream(_ context.Context, _ string, _ []Message, _ *CancelToken, onChunk ChunkFunc) error {
	for _, s := range g.before {
		onChunk(Chunk{Text: s})
	}
	close(g.reached)
	<-g.release
	for _, s := range g.after {
		onChunk(Chunk{Text: s})
	}
	onChunk(Chunk{Done: true})
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func streamingCount(c Chat) int {
	n := 0
	for _, m := range c.Messages {
		if m.IsStreaming {
			n++
		}
	}
	return n
}

func textChunks(parts ...string) []Chunk {
	out := make([]Chunk, 0, len(parts)+1)
	for _, p := range parts {
		out = append(out, Chunk{Text: p})
	}
	return append(out, Chunk{Done: true})
}
