// Package bus fans local collection changes out to in-process listeners.
package bus

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/devrev/pairdb/docsync/internal/metrics"
	"go.uber.org/zap"
)

// Listener receives every published change it is subscribed to
type Listener func(key string, value json.RawMessage)

type subscription struct {
	id       uint64
	key      string // empty for global subscriptions
	listener Listener
	active   atomic.Bool // Cleared on unsubscribe; in-flight publishes skip it
}

// Bus is a publish/subscribe registry indexed by key. Listeners run
// synchronously on the publishing goroutine, in subscription order.
type Bus struct {
	mu      sync.RWMutex
	nextID  uint64
	byKey   map[string][]*subscription
	global  []*subscription
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates an empty bus
func New(m *metrics.Metrics, logger *zap.Logger) *Bus {
	return &Bus{
		byKey:   make(map[string][]*subscription),
		metrics: m,
		logger:  logger,
	}
}

// Subscribe registers a listener for every key
func (b *Bus) Subscribe(listener Listener) (unsubscribe func()) {
	return b.add("", listener)
}

// SubscribeKey registers a listener for a single key
func (b *Bus) SubscribeKey(key string, listener Listener) (unsubscribe func()) {
	return b.add(key, listener)
}

func (b *Bus) add(key string, listener Listener) func() {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, key: key, listener: listener}
	sub.active.Store(true)
	if key == "" {
		b.global = append(b.global, sub)
	} else {
		b.byKey[key] = append(b.byKey[key], sub)
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub.active.Store(false)
	if sub.key == "" {
		b.global = without(b.global, sub)
		return
	}

	remaining := without(b.byKey[sub.key], sub)
	if len(remaining) == 0 {
		delete(b.byKey, sub.key)
	} else {
		b.byKey[sub.key] = remaining
	}
}

// without returns a new slice so snapshots held by in-flight publishes stay intact
func without(subs []*subscription, target *subscription) []*subscription {
	out := make([]*subscription, 0, len(subs))
	for _, s := range subs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// Publish delivers (key, value) to the key's listeners and to global
// listeners. A panicking listener is recovered and logged; delivery to the
// rest continues.
func (b *Bus) Publish(key string, value json.RawMessage) {
	b.metrics.BusPublishes.Inc()

	for _, sub := range b.snapshot(key) {
		// A listener earlier in this publish may have unsubscribed sub
		if !sub.active.Load() {
			continue
		}
		b.deliver(sub, key, value)
	}
}

// snapshot merges keyed and global subscribers by subscription id
func (b *Bus) snapshot(key string) []*subscription {
	b.mu.RLock()
	keyed := b.byKey[key]
	global := b.global
	b.mu.RUnlock()

	merged := make([]*subscription, 0, len(keyed)+len(global))
	i, j := 0, 0
	for i < len(keyed) && j < len(global) {
		if keyed[i].id < global[j].id {
			merged = append(merged, keyed[i])
			i++
		} else {
			merged = append(merged, global[j])
			j++
		}
	}
	merged = append(merged, keyed[i:]...)
	merged = append(merged, global[j:]...)
	return merged
}

func (b *Bus) deliver(sub *subscription, key string, value json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.ListenerPanics.Inc()
			b.logger.Error("Listener panic recovered",
				zap.String("key", key),
				zap.Uint64("subscription_id", sub.id),
				zap.Any("panic", r))
		}
	}()

	sub.listener(key, value)
}

// Len returns the number of registered listeners
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.global)
	for _, subs := range b.byKey {
		n += len(subs)
	}
	return n
}
