package chat

import (
	"net/url"
	"sync"
)

const ChatIDParam = "chatId"

// URLNavigator keeps the active chat in the chatId query parameter of a URL.
type URLNavigator struct {
	mu sync.Mutex
	u  url.URL
}

func NewURLNavigator(rawURL string) (*URLNavigator, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &URLNavigator{u: *u}, nil
}

func (n *URLNavigator) SetChatID(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	q := n.u.Query()
	q.Set(ChatIDParam, id)
	n.u.RawQuery = q.Encode()
}

func (n *URLNavigator) ClearChatID() {
	n.mu.Lock()
	defer n.mu.Unlock()

	q := n.u.Query()
	q.Del(ChatIDParam)
	n.u.RawQuery = q.Encode()
}

// ChatID returns the chat selected in the URL, or "".
func (n *URLNavigator) ChatID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.u.Query().Get(ChatIDParam)
}

func (n *URLNavigator) String() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.u.String()
}

type noopNavigator struct{}

func (noopNavigator) SetChatID(string) {}
func (noopNavigator) ClearChatID()     {}
