package engine

import (
	"context"

	"github.com/devrev/pairdb/docsync/internal/remote"
	"go.uber.org/zap"
)

// realtimeLease is the one realtime subscription an engine holds for a
// (tenant, key) pair, shared by every binding on that pair
type realtimeLease struct {
	id     string
	refs   int
	cancel context.CancelFunc
	sub    remote.Subscription
	ready  chan struct{} // Closed once the subscribe attempt has returned
}

func leaseID(tenantID, key string) string {
	return tenantID + "/" + key
}

// acquireRealtime returns the lease for (tenantID, key), opening the remote
// subscription in the background for the first holder
func (e *Engine) acquireRealtime(tenantID, key string) *realtimeLease {
	id := leaseID(tenantID, key)

	e.leasesMu.Lock()
	defer e.leasesMu.Unlock()

	if l, ok := e.leases[id]; ok {
		l.refs++
		return l
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &realtimeLease{
		id:     id,
		refs:   1,
		cancel: cancel,
		ready:  make(chan struct{}),
	}
	e.leases[id] = l
	e.metrics.RealtimeSubscriptions.Inc()

	go e.openRealtime(ctx, l, tenantID, key)
	return l
}

func (e *Engine) openRealtime(ctx context.Context, l *realtimeLease, tenantID, key string) {
	defer close(l.ready)

	sub, err := e.remote.Subscribe(ctx, tenantID, key, e.receiveRealtime(tenantID, key))
	if err != nil {
		e.recordError(err)
		e.logger.Warn("Realtime subscribe failed",
			zap.String("tenant_id", tenantID),
			zap.String("key", key),
			zap.Error(err))

		// Let the next Bind try again
		e.leasesMu.Lock()
		if e.leases[l.id] == l {
			delete(e.leases, l.id)
			e.metrics.RealtimeSubscriptions.Dec()
		}
		e.leasesMu.Unlock()
		return
	}

	e.leasesMu.Lock()
	if l.refs == 0 {
		e.leasesMu.Unlock()
		closeSubscription(e.logger, sub, tenantID, key)
		return
	}
	l.sub = sub
	e.leasesMu.Unlock()
}

// releaseRealtime drops one reference; the last one closes the subscription
func (e *Engine) releaseRealtime(l *realtimeLease, tenantID, key string) {
	e.leasesMu.Lock()
	l.refs--
	if l.refs > 0 {
		e.leasesMu.Unlock()
		return
	}
	if e.leases[l.id] == l {
		delete(e.leases, l.id)
		e.metrics.RealtimeSubscriptions.Dec()
	}
	sub := l.sub
	l.sub = nil
	e.leasesMu.Unlock()

	l.cancel()
	if sub != nil {
		closeSubscription(e.logger, sub, tenantID, key)
	}
}

func closeSubscription(logger *zap.Logger, sub remote.Subscription, tenantID, key string) {
	if err := sub.Close(); err != nil {
		logger.Warn("Failed to close realtime channel",
			zap.String("tenant_id", tenantID),
			zap.String("key", key),
			zap.Error(err))
	}
}
