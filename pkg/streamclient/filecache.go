package streamclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileCache persists one JSON file per message id under a base directory.
// It is the durable option for CLI sessions that stop and restart.
type FileCache struct {
	baseDir string
}

// NewFileCache initializes a FileCache rooted at baseDir.
func NewFileCache(baseDir string) (*FileCache, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, errors.New("streamclient: cache base dir is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("streamclient: ensure cache dir: %w", err)
	}
	return &FileCache{baseDir: baseDir}, nil
}

func (c *FileCache) Read(messageID string) (CachedStream, error) {
	path, err := c.entryPath(messageID)
	if err != nil {
		return CachedStream{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return CachedStream{}, ErrCacheMiss
		}
		return CachedStream{}, fmt.Errorf("streamclient: read cache entry: %w", err)
	}
	var entry CachedStream
	if err := json.Unmarshal(data, &entry); err != nil {
		return CachedStream{}, fmt.Errorf("streamclient: decode cache entry: %w", err)
	}
	return entry, nil
}

func (c *FileCache) Write(messageID string, entry CachedStream) error {
	path, err := c.entryPath(messageID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("streamclient: encode cache entry: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("streamclient: write cache entry: %w", err)
	}
	return nil
}

// entryPath maps a message id onto a flat filename, refusing anything that
// could escape the cache directory.
func (c *FileCache) entryPath(messageID string) (string, error) {
	key := sanitizeMessageID(messageID)
	if key == "" {
		return "", errors.New("streamclient: invalid message id")
	}
	return filepath.Join(c.baseDir, key+".json"), nil
}

func sanitizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if strings.Trim(out, "_") == "" {
		return ""
	}
	return out
}
