package streamclient

import (
	"errors"
	"sync"
	"time"
)

// ErrCacheMiss is returned when no entry exists for a message id.
var ErrCacheMiss = errors.New("streamclient: cache miss")

// CachedStream is the durable per-message record. Its lifecycle is
// independent of the server-side job: the entry outlives retention, which
// is what makes rendering long-finished streams possible offline.
type CachedStream struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cache stores stream state keyed by message id.
type Cache interface {
	Read(messageID string) (CachedStream, error)
	Write(messageID string, entry CachedStream) error
}

// MemoryCache keeps entries in process memory.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]CachedStream
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]CachedStream)}
}

func (c *MemoryCache) Read(messageID string) (CachedStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[messageID]
	if !ok {
		return CachedStream{}, ErrCacheMiss
	}
	return entry, nil
}

func (c *MemoryCache) Write(messageID string, entry CachedStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[messageID] = entry
	return nil
}
