package chat

import "time"

// Message list primitives. Callers hold the registry lock.

func (c *Chat) appendMessage(m Message, at time.Time) {
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = at
}

func (c *Chat) streamingIndex() int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].IsStreaming {
			return i
		}
	}
	return -1
}

// appendPlaceholder adds an empty streaming assistant message. It refuses
// when another message of the chat is still streaming.
func (c *Chat) appendPlaceholder(at time.Time) (int, bool) {
	if c.streamingIndex() >= 0 {
		return -1, false
	}
	c.appendMessage(Message{
		Role:        RoleAssistant,
		Time:        FormatTime(at),
		IsStreaming: true,
	}, at)
	return len(c.Messages) - 1, true
}

func (c *Chat) appendFragment(idx int, fragment string) bool {
	if !c.isStreamingAt(idx) {
		return false
	}
	c.Messages[idx].Text += fragment
	return true
}

// finishStreaming freezes the streaming message at idx. The final text is
// computed from the text accumulated so far.
func (c *Chat) finishStreaming(idx int, final func(current string) string, isError bool) (Message, bool) {
	if !c.isStreamingAt(idx) {
		return Message{}, false
	}
	m := &c.Messages[idx]
	m.Text = final(m.Text)
	m.IsStreaming = false
	m.IsError = isError
	return *m, true
}

// annotate marks a finished assistant message as failed after the fact.
func (c *Chat) annotate(idx int, suffix string) (Message, bool) {
	if idx < 0 || idx >= len(c.Messages) {
		return Message{}, false
	}
	m := &c.Messages[idx]
	if m.Role != RoleAssistant || m.IsStreaming {
		return Message{}, false
	}
	m.Text += suffix
	m.IsError = true
	return *m, true
}

func (c *Chat) isStreamingAt(idx int) bool {
	return idx >= 0 && idx < len(c.Messages) &&
		c.Messages[idx].Role == RoleAssistant && c.Messages[idx].IsStreaming
}

// ValidateMessages is the rule every Persister applies before storing.
// An assistant reply may be empty: a stream can finish without text.
func ValidateMessages(msgs []Message) error {
	for _, m := range msgs {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return ErrBadRole
		}
		if m.Time == "" {
			return ErrMissingTime
		}
		if m.Role == RoleUser && m.Text == "" {
			return ErrEmptyMessage
		}
	}
	return nil
}
