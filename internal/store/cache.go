package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"tubesync/internal/core"
)

// Cache persists resolved metadata keyed by video identity.
type Cache interface {
	Get(identity string) (core.TrackMetadata, bool)
	Put(identity string, meta core.TrackMetadata) error
	Len() int
	Close() error
}

// Open returns the cache for backend rooted at path.
func Open(backend, path string, logger *zap.Logger) (Cache, error) {
	switch backend {
	case "", core.CacheBackendJSON:
		return OpenJSONCache(path, logger)
	case core.CacheBackendSQLite:
		return OpenSQLiteCache(path)
	case core.CacheBackendMemory:
		return NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

// MemoryCache is a process-local cache, used for dry runs and tests.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]core.TrackMetadata
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]core.TrackMetadata)}
}

func (c *MemoryCache) Get(identity string) (core.TrackMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.entries[identity]
	return meta, ok
}

func (c *MemoryCache) Put(identity string, meta core.TrackMetadata) error {
	if identity == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[identity] = meta
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) Close() error { return nil }

// JSONCache keeps the whole cache in memory and rewrites the JSON document on every Put.
// A missing or unreadable file starts an empty cache.
type JSONCache struct {
	MemoryCache
	path   string
	logger *zap.Logger
	// writeMu serializes file rewrites.
	writeMu sync.Mutex
}

// OpenJSONCache loads the cache document at path.
func OpenJSONCache(path string, logger *zap.Logger) (*JSONCache, error) {
	if path == "" {
		return nil, errors.New("cache path is required")
	}
	c := &JSONCache{
		MemoryCache: MemoryCache{entries: make(map[string]core.TrackMetadata)},
		path:        path,
		logger:      logger.Named("cache"),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return c, nil
	case err != nil:
		c.logger.Warn("Could not read metadata cache, starting empty", zap.String("path", path), zap.Error(err))
		return c, nil
	}

	if err := json.Unmarshal(data, &c.entries); err != nil {
		c.logger.Warn("Metadata cache is corrupt, starting empty", zap.String("path", path), zap.Error(err))
		c.entries = make(map[string]core.TrackMetadata)
	}
	if c.entries == nil {
		c.entries = make(map[string]core.TrackMetadata)
	}
	c.logger.Debug("Loaded metadata cache", zap.String("path", path), zap.Int("entries", len(c.entries)))
	return c, nil
}

// Put stores meta and rewrites the cache file. A failed write leaves the in-memory entry in place.
func (c *JSONCache) Put(identity string, meta core.TrackMetadata) error {
	if identity == "" {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.entries[identity] = meta
	data, err := json.MarshalIndent(c.entries, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode metadata cache: %w", err)
	}

	if err := WriteFileAtomic(c.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save metadata cache: %w", err)
	}
	return nil
}

// WriteFileAtomic writes data to a temporary file in the target directory and renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
