package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	syncerrors "github.com/devrev/pairdb/docsync/internal/errors"
	"github.com/devrev/pairdb/docsync/internal/metrics"
	"go.uber.org/zap"
)

// Cache is the durable local copy of every collection. It keeps decoded
// documents in memory and persists each write through the Store.
type Cache struct {
	store   Store
	data    map[string]json.RawMessage
	mu      sync.RWMutex
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a cache on top of store
func New(store Store, m *metrics.Metrics, logger *zap.Logger) *Cache {
	return &Cache{
		store:   store,
		data:    make(map[string]json.RawMessage),
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Read returns the document stored under key. Missing, malformed and
// corrupted entries all report false; partial data is never returned.
func (c *Cache) Read(key string) (json.RawMessage, bool) {
	c.mu.RLock()
	value, found := c.data[key]
	c.mu.RUnlock()
	if found {
		return value, true
	}

	raw, err := c.store.Load(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("Failed to load cache entry",
				zap.String("key", key),
				zap.Error(err))
		}
		return nil, false
	}

	value, err = decodeEntry(raw)
	if err != nil {
		c.metrics.CacheDecodeErrors.Inc()
		c.logger.Warn("Discarding malformed cache entry",
			zap.String("key", key),
			zap.Error(syncerrors.DecodeFailed(key, err)))
		return nil, false
	}

	c.mu.Lock()
	// A concurrent write wins over what we just loaded from disk
	if current, ok := c.data[key]; ok {
		value = current
	} else {
		c.data[key] = value
	}
	c.mu.Unlock()

	return value, true
}

// Write replaces the whole document under key and persists it synchronously.
// The in-memory copy is updated even when persistence fails; the returned
// error is informational.
func (c *Cache) Write(key string, value json.RawMessage) error {
	encoded, err := encodeEntry(value, c.now())
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}

	c.mu.Lock()
	c.data[key] = bytes.Clone(value)
	err = c.store.Save(key, encoded)
	c.mu.Unlock()

	if err != nil {
		c.metrics.CachePersistFails.Inc()
		return fmt.Errorf("failed to persist %q: %w", key, err)
	}
	return nil
}

// Delete removes key from memory and from the store
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return c.store.Delete(key)
}

// Keys lists every persisted key
func (c *Cache) Keys() ([]string, error) {
	return c.store.Keys()
}
