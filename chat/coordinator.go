package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	CancelledMarker = " (Cancelled)"
	NotSavedMarker  = " (not saved)"

	FallbackReply = "Gemini API not configured. Set GEMINI_API_KEY to get real responses."
)

// TurnState is the lifecycle of one user turn.
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnUserMessagePersisting
	TurnAssistantPending
	TurnStreaming
	TurnCompleted
	TurnCancelled
	TurnFailed
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnUserMessagePersisting:
		return "user_message_persisting"
	case TurnAssistantPending:
		return "assistant_pending"
	case TurnStreaming:
		return "streaming"
	case TurnCompleted:
		return "completed"
	case TurnCancelled:
		return "cancelled"
	case TurnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s TurnState) Terminal() bool {
	return s == TurnCompleted || s == TurnCancelled || s == TurnFailed
}

// TurnResult is the terminal outcome of Send. Err carries a GenerationError
// for failed generations or a PersistenceError when the finished reply
// could not be saved.
type TurnResult struct {
	ChatID  string
	State   TurnState
	Message Message
	Chunks  int
	Err     error
}

type turn struct {
	chatID string
	state  TurnState
	token  *CancelToken
	index  int
	text   strings.Builder
	chunks int
	final  Message
	err    error

	// orphaned is set once the chat is deleted under the turn.
	orphaned bool
}

func (t *turn) result() TurnResult {
	return TurnResult{
		ChatID:  t.chatID,
		State:   t.state,
		Message: t.final,
		Chunks:  t.chunks,
		Err:     t.err,
	}
}

// Coordinator runs assistant turns against a Registry. One turn at a time
// holds the in-flight gate.
type Coordinator struct {
	registry  *Registry
	generator Generator
	now       func() time.Time

	mu   sync.Mutex
	turn *turn
	busy bool
}

func NewCoordinator(registry *Registry, generator Generator) *Coordinator {
	return &Coordinator{
		registry:  registry,
		generator: generator,
		now:       registry.now,
	}
}

// Send runs one turn and blocks until it reaches a terminal state.
// The returned error is non-nil only when no assistant message was
// produced: validation, the in-flight gate, or a persistence failure
// before the placeholder.
func (c *Coordinator) Send(ctx context.Context, text string) (TurnResult, error) {
	prompt := strings.TrimSpace(text)
	if prompt == "" {
		return TurnResult{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return TurnResult{}, ErrTurnInFlight
	}
	t := &turn{state: TurnUserMessagePersisting, index: -1}
	c.turn = t
	c.busy = true
	c.mu.Unlock()

	chatID, err := c.registry.EnsureChatForMessage(ctx, c.registry.ActiveID(), prompt)
	if err != nil {
		return c.abort(t, err)
	}
	c.mu.Lock()
	t.chatID = chatID
	c.mu.Unlock()
	if err := c.registry.Select(chatID); err != nil {
		return c.abort(t, err)
	}

	history := c.registry.history(chatID)
	userMsg := Message{Role: RoleUser, Text: prompt, Time: FormatTime(c.now())}
	if _, err := c.registry.persister.AppendMessages(ctx, chatID, []Message{userMsg}); err != nil {
		c.registry.Notify("Failed to save message: " + err.Error())
		return c.abort(t, &PersistenceError{Op: "append", Err: err})
	}
	c.registry.AppendMessage(chatID, userMsg)

	c.mu.Lock()
	idx, ok := c.registry.startAssistant(chatID)
	if !ok {
		t.state = TurnFailed
		t.err = ErrChatNotFound
		c.releaseLocked(t)
		c.mu.Unlock()
		return t.result(), ErrChatNotFound
	}
	t.index = idx
	t.state = TurnAssistantPending
	t.token = NewCancelToken()
	c.registry.emit(Event{Type: EventAssistantStarted, ChatID: chatID})
	token := t.token

	if c.generator == nil || !c.generator.Configured() {
		t.text.WriteString(FallbackReply)
		c.completeLocked(t)
		c.mu.Unlock()
		return c.settle(ctx, t)
	}
	t.state = TurnStreaming
	c.mu.Unlock()

	var genErr error
	if !token.Cancelled() {
		genErr = c.generator.GenerateStream(ctx, prompt, history, token, func(ch Chunk) {
			c.apply(t, ch)
		})
	}

	c.mu.Lock()
	if !t.state.Terminal() {
		if genErr != nil {
			c.failLocked(t, genErr.Error(), genErr)
		} else {
			c.completeLocked(t)
		}
	}
	c.mu.Unlock()

	return c.settle(ctx, t)
}

// Cancel stops the in-flight turn. The partial text keeps a cancellation
// marker and the gate opens immediately; chunks that still arrive for the
// cancelled turn are dropped.
func (c *Coordinator) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.turn
	if t == nil || t.token == nil || t.state.Terminal() {
		return false
	}

	t.token.Cancel()
	msg, ok := c.registry.finishStreaming(t.chatID, t.index, func(cur string) string {
		return cur + CancelledMarker
	}, false)
	t.state = TurnCancelled
	c.busy = false
	if !ok {
		t.orphaned = true
		t.final = Message{Role: RoleAssistant, Text: t.text.String() + CancelledMarker, Time: FormatTime(c.now())}
		return true
	}
	t.final = msg

	m := msg
	c.registry.emit(Event{Type: EventCancelled, ChatID: t.chatID, Message: &m})
	return true
}

// InFlight reports whether a turn currently holds the gate.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// State returns the state of the most recent turn.
func (c *Coordinator) State() TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == nil {
		return TurnIdle
	}
	return c.turn.state
}

func (c *Coordinator) apply(t *turn, ch Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.state.Terminal() || t.token.Cancelled() {
		return
	}

	switch {
	case ch.Err != "":
		c.failLocked(t, ch.Err, nil)
	case ch.Done:
		if ch.Text != "" {
			c.appendLocked(t, ch.Text)
		}
		c.completeLocked(t)
	case ch.Text != "":
		c.appendLocked(t, ch.Text)
	}
}

func (c *Coordinator) appendLocked(t *turn, fragment string) {
	t.text.WriteString(fragment)
	t.chunks++
	if !c.registry.appendFragment(t.chatID, t.index, fragment) {
		t.orphaned = true
		return
	}
	c.registry.emit(Event{Type: EventChunk, ChatID: t.chatID, Delta: fragment})
}

func (c *Coordinator) completeLocked(t *turn) {
	final := strings.TrimSpace(t.text.String())
	msg, ok := c.registry.finishStreaming(t.chatID, t.index, func(string) string { return final }, false)
	t.state = TurnCompleted
	if !ok {
		t.orphaned = true
		t.final = Message{Role: RoleAssistant, Text: final, Time: FormatTime(c.now())}
		return
	}
	t.final = msg

	m := msg
	c.registry.emit(Event{Type: EventCompleted, ChatID: t.chatID, Message: &m})
}

func (c *Coordinator) failLocked(t *turn, reason string, cause error) {
	text := "Error: " + reason
	msg, ok := c.registry.finishStreaming(t.chatID, t.index, func(string) string { return text }, true)
	t.state = TurnFailed
	t.err = &GenerationError{Message: reason, Err: cause}
	if !ok {
		t.orphaned = true
		t.final = Message{Role: RoleAssistant, Text: text, Time: FormatTime(c.now()), IsError: true}
		return
	}
	t.final = msg

	m := msg
	c.registry.emit(Event{Type: EventFailed, ChatID: t.chatID, Message: &m})
}

// settle persists a completed reply and releases the gate. A failed save
// keeps the reply visible but flags it. A turn whose chat was deleted ends
// without saving or notifying.
func (c *Coordinator) settle(ctx context.Context, t *turn) (TurnResult, error) {
	c.mu.Lock()
	if _, ok := c.registry.Get(t.chatID); !ok {
		t.orphaned = true
	}
	if t.orphaned {
		t.err = ErrChatNotFound
		c.releaseLocked(t)
		c.mu.Unlock()
		return t.result(), nil
	}
	state, chatID, final := t.state, t.chatID, t.final
	c.mu.Unlock()

	if state == TurnCompleted {
		_, err := c.registry.persister.AppendMessages(ctx, chatID, []Message{final})
		if errors.Is(err, ErrChatNotFound) {
			c.mu.Lock()
			defer c.mu.Unlock()
			t.orphaned = true
			t.err = ErrChatNotFound
			c.releaseLocked(t)
			return t.result(), nil
		}
		if err != nil {
			c.mu.Lock()
			msg, ok := c.registry.annotate(chatID, t.index, NotSavedMarker)
			if !ok {
				msg = final
				msg.Text += NotSavedMarker
				msg.IsError = true
			}
			t.final = msg
			t.err = &PersistenceError{Op: "append", Err: err}
			m := msg
			c.registry.emit(Event{Type: EventChatUpdated, ChatID: chatID, Message: &m})
			c.mu.Unlock()
			c.registry.Notify("Reply could not be saved: " + err.Error())
		}
	}

	c.registry.snapshot(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(t)
	return t.result(), nil
}

func (c *Coordinator) abort(t *turn, err error) (TurnResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.state = TurnFailed
	t.err = err
	c.releaseLocked(t)
	return t.result(), err
}

func (c *Coordinator) releaseLocked(t *turn) {
	if c.turn == t {
		c.busy = false
	}
}
