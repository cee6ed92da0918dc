package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// CacheSchemaVersion is bumped whenever the snapshot layout changes.
// Snapshots written with another version are discarded on load.
const CacheSchemaVersion = 1

// KV is a small key-value persistence port for session-local state.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Cache stores a versioned snapshot of the chat list in a KV.
type Cache struct {
	kv  KV
	key string
}

type cacheSnapshot struct {
	Version int    `json:"version"`
	Chats   []Chat `json:"chats"`
}

// NewCache scopes the snapshot key, typically by user id.
func NewCache(kv KV, scope string) *Cache {
	return &Cache{kv: kv, key: fmt.Sprintf("chat_history:v%d:%s", CacheSchemaVersion, scope)}
}

func (c *Cache) Save(ctx context.Context, chats []Chat) error {
	data, err := json.Marshal(cacheSnapshot{Version: CacheSchemaVersion, Chats: chats})
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, c.key, data)
}

// Load returns the cached chats. ok is false when nothing usable is stored.
func (c *Cache) Load(ctx context.Context) (chats []Chat, ok bool, err error) {
	data, found, err := c.kv.Get(ctx, c.key)
	if err != nil || !found {
		return nil, false, err
	}

	var snap cacheSnapshot
	if err := json.Unmarshal(data, &snap); err != nil || snap.Version != CacheSchemaVersion {
		return nil, false, c.kv.Remove(ctx, c.key)
	}
	return snap.Chats, true, nil
}

func (c *Cache) Clear(ctx context.Context) error {
	return c.kv.Remove(ctx, c.key)
}

// MemoryKV is an in-process KV.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryKV) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
