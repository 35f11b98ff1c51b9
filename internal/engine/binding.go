package engine

import (
	"bytes"
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// State is the lifecycle state of a Binding
type State int32

const (
	StateUnbound State = iota
	StatePulling
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StatePulling:
		return "pulling"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Binding is one collaborator's live lease on a collection. It serves the
// cached value immediately and follows every later change to the key.
type Binding struct {
	engine   *Engine
	key      string
	tenantID string
	onChange func(value json.RawMessage)

	mu    sync.RWMutex
	value json.RawMessage
	lease *realtimeLease

	state       atomic.Int32
	pulling     atomic.Bool
	pullDone    chan struct{}
	unsubscribe func()
	closeOnce   sync.Once
}

// Bind mounts a binding on key. The returned binding is already Live and
// holds the cached value (or def). When the key is synchronized and a tenant
// is known, the binding joins the engine's realtime channel for the key and
// a pull is issued in the background. onChange may be nil.
func (e *Engine) Bind(key string, def json.RawMessage, onChange func(value json.RawMessage)) *Binding {
	b := &Binding{
		engine:   e,
		key:      key,
		onChange: onChange,
		pullDone: make(chan struct{}),
	}

	b.state.Store(int32(StatePulling))
	b.value = e.Read(key, def)
	b.unsubscribe = e.bus.SubscribeKey(key, b.receive)

	if e.syncable(key) && !e.closed.Load() {
		b.tenantID = e.TenantID()
	}

	if b.tenantID != "" {
		b.lease = e.acquireRealtime(b.tenantID, key)
		b.pulling.Store(true)
		go b.mount(b.lease, e.currentWriteSeq(key))
	} else {
		close(b.pullDone)
	}

	b.state.Store(int32(StateLive))
	e.track(b)

	e.logger.Debug("Binding mounted",
		zap.String("key", key),
		zap.String("tenant_id", b.tenantID))

	return b
}

// mount waits for the shared realtime channel and then pulls the current
// remote record
func (b *Binding) mount(lease *realtimeLease, issued uint64) {
	defer close(b.pullDone)
	defer b.pulling.Store(false)

	<-lease.ready
	b.engine.pull(b.tenantID, b.key, issued)
}

func (b *Binding) receive(key string, value json.RawMessage) {
	b.mu.Lock()
	if b.State() == StateClosed {
		b.mu.Unlock()
		return
	}
	b.value = value
	b.mu.Unlock()

	if b.onChange != nil {
		b.onChange(bytes.Clone(value))
	}
}

// Key returns the bound collection key
func (b *Binding) Key() string {
	return b.key
}

// TenantID returns the tenant the binding synchronizes for, "" when local
func (b *Binding) TenantID() string {
	return b.tenantID
}

// State returns the current lifecycle state
func (b *Binding) State() State {
	return State(b.state.Load())
}

// Value returns the latest known document
func (b *Binding) Value() json.RawMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bytes.Clone(b.value)
}

// Pulling reports whether the initial pull is still outstanding
func (b *Binding) Pulling() bool {
	return b.pulling.Load()
}

// PullDone is closed once the initial pull has finished, failed or was skipped
func (b *Binding) PullDone() <-chan struct{} {
	return b.pullDone
}

// Write replaces the bound document. After Close it does nothing.
func (b *Binding) Write(value json.RawMessage) {
	if b.State() != StateLive {
		b.engine.logger.Warn("Ignoring write on closed binding", zap.String("key", b.key))
		return
	}
	b.engine.Write(b.key, value)
}

// Close unsubscribes from the bus and releases the realtime channel, which
// is torn down with the last binding on the key. It is terminal and idempotent. An in-flight pull may still complete and
// update the cache.
func (b *Binding) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.state.Store(int32(StateClosed))
		b.mu.Unlock()

		b.unsubscribe()
		if b.lease != nil {
			b.engine.releaseRealtime(b.lease, b.tenantID, b.key)
		}
		b.engine.untrack(b)

		b.engine.logger.Debug("Binding closed", zap.String("key", b.key))
	})
}
