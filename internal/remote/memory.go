package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/devrev/pairdb/docsync/internal/model"
	"go.uber.org/zap"
)

const memoryBufferSize = 64

// recordID identifies a (tenant, key) pair without joining the two strings
type recordID struct {
	tenantID string
	key      string
}

// MemoryStore implements RecordStore in process memory
type MemoryStore struct {
	records map[recordID]model.RemoteRecord
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory record store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[recordID]model.RemoteRecord),
	}
}

// Get retrieves a record
func (s *MemoryStore) Get(ctx context.Context, tenantID, key string) (*model.RemoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[recordID{tenantID, key}]
	if !exists {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Put stores a record, replacing any previous one
func (s *MemoryStore) Put(ctx context.Context, rec *model.RemoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *rec
	stored.Value = append([]byte(nil), rec.Value...)
	s.records[recordID{rec.TenantID, rec.Key}] = stored
	return nil
}

// ListKeys returns every key stored for a tenant, sorted
func (s *MemoryStore) ListKeys(ctx context.Context, tenantID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for id := range s.records {
		if id.tenantID == tenantID {
			keys = append(keys, id.key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() {}

// MemoryChannel implements Channel in process memory. Each subscriber gets
// its own delivery goroutine, so records arrive asynchronously and in
// publish order.
type MemoryChannel struct {
	topics map[recordID][]*memorySubscription
	mu     sync.RWMutex
}

type memorySubscription struct {
	channel *MemoryChannel
	topic   recordID
	handler Handler
	queue   chan *model.RemoteRecord
	done    chan struct{}
	once    sync.Once
}

// NewMemoryChannel creates an in-memory channel
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		topics: make(map[recordID][]*memorySubscription),
	}
}

// Publish delivers rec to every subscriber of its topic
func (c *MemoryChannel) Publish(ctx context.Context, rec *model.RemoteRecord) error {
	c.mu.RLock()
	subs := append([]*memorySubscription(nil), c.topics[recordID{rec.TenantID, rec.Key}]...)
	c.mu.RUnlock()

	for _, sub := range subs {
		delivered := *rec
		select {
		case sub.queue <- &delivered:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers handler for (tenantID, key)
func (c *MemoryChannel) Subscribe(ctx context.Context, tenantID, key string, handler Handler) (Subscription, error) {
	sub := &memorySubscription{
		channel: c,
		topic:   recordID{tenantID, key},
		handler: handler,
		queue:   make(chan *model.RemoteRecord, memoryBufferSize),
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	c.topics[sub.topic] = append(c.topics[sub.topic], sub)
	c.mu.Unlock()

	go sub.run()
	closeOnDone(ctx, sub.done, sub)

	return sub, nil
}

// Subscribers returns the number of live subscriptions for (tenantID, key)
func (c *MemoryChannel) Subscribers(tenantID, key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.topics[recordID{tenantID, key}])
}

// Ping always succeeds
func (c *MemoryChannel) Ping(ctx context.Context) error {
	return nil
}

// Close drops every subscription
func (c *MemoryChannel) Close() error {
	c.mu.RLock()
	var all []*memorySubscription
	for _, subs := range c.topics {
		all = append(all, subs...)
	}
	c.mu.RUnlock()

	for _, sub := range all {
		sub.Close()
	}
	return nil
}

func (s *memorySubscription) run() {
	for {
		select {
		case rec := <-s.queue:
			s.handler(rec)
		case <-s.done:
			return
		}
	}
}

// Close removes the subscription; pending records are discarded
func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		close(s.done)

		s.channel.mu.Lock()
		defer s.channel.mu.Unlock()

		subs := s.channel.topics[s.topic]
		remaining := make([]*memorySubscription, 0, len(subs))
		for _, other := range subs {
			if other != s {
				remaining = append(remaining, other)
			}
		}
		if len(remaining) == 0 {
			delete(s.channel.topics, s.topic)
		} else {
			s.channel.topics[s.topic] = remaining
		}
	})
	return nil
}

// NewMemoryRemote returns a Hub backed entirely by process memory
func NewMemoryRemote(logger *zap.Logger) (*Hub, *MemoryStore, *MemoryChannel) {
	store := NewMemoryStore()
	channel := NewMemoryChannel()
	return NewHub(store, channel, logger), store, channel
}
