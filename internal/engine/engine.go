// Package engine ties the durable cache, the change bus and the remote
// adapter together behind four operations: Read, Write, Subscribe and
// ExternalUpdate. One Engine is constructed per process and handed to every
// Binding.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/pairdb/docsync/internal/bus"
	"github.com/devrev/pairdb/docsync/internal/cache"
	syncerrors "github.com/devrev/pairdb/docsync/internal/errors"
	"github.com/devrev/pairdb/docsync/internal/metrics"
	"github.com/devrev/pairdb/docsync/internal/model"
	"github.com/devrev/pairdb/docsync/internal/remote"
	"github.com/devrev/pairdb/docsync/internal/util/workerpool"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Update sources for the external update metric
const (
	SourcePull     = "pull"
	SourceRealtime = "realtime"
	SourceExternal = "external"
)

// Options configures an Engine
type Options struct {
	ProfileKey      string
	LocalOnlyKeys   []string
	TenantID        string // Static override; empty means resolve from the profile
	ClientID        string
	PullTimeout     time.Duration
	UpsertTimeout   time.Duration
	UpsertWorkers   int
	UpsertQueueSize int
}

// DefaultOptions returns the options used when a field is left zero
func DefaultOptions() Options {
	return Options{
		ProfileKey:      model.DefaultProfileKey,
		PullTimeout:     10 * time.Second,
		UpsertTimeout:   10 * time.Second,
		UpsertWorkers:   4,
		UpsertQueueSize: 256,
	}
}

// Engine owns the process-wide cache and bus and dispatches remote
// synchronization in the background
type Engine struct {
	cache     *cache.Cache
	bus       *bus.Bus
	remote    remote.Remote
	pool      *workerpool.WorkerPool
	opts      Options
	localOnly map[string]struct{}
	metrics   *metrics.Metrics
	logger    *zap.Logger
	closed    atomic.Bool

	tenantMu sync.Mutex
	tenantID string

	seqMu    sync.Mutex
	writeSeq map[string]uint64

	statusMu sync.Mutex
	status   model.SyncStatus

	bindingsMu sync.Mutex
	bindings   map[*Binding]struct{}

	leasesMu sync.Mutex
	leases   map[string]*realtimeLease
}

// New creates an engine. A nil remote runs the engine purely locally.
func New(c *cache.Cache, r remote.Remote, opts Options, m *metrics.Metrics, logger *zap.Logger) *Engine {
	defaults := DefaultOptions()
	if opts.ProfileKey == "" {
		opts.ProfileKey = defaults.ProfileKey
	}
	if opts.PullTimeout <= 0 {
		opts.PullTimeout = defaults.PullTimeout
	}
	if opts.UpsertTimeout <= 0 {
		opts.UpsertTimeout = defaults.UpsertTimeout
	}
	if opts.UpsertWorkers <= 0 {
		opts.UpsertWorkers = defaults.UpsertWorkers
	}
	if opts.UpsertQueueSize <= 0 {
		opts.UpsertQueueSize = defaults.UpsertQueueSize
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.New().String()
	}

	localOnly := map[string]struct{}{opts.ProfileKey: {}}
	for _, key := range opts.LocalOnlyKeys {
		localOnly[key] = struct{}{}
	}

	e := &Engine{
		cache:     c,
		bus:       bus.New(m, logger),
		remote:    r,
		opts:      opts,
		localOnly: localOnly,
		metrics:   m,
		logger:    logger,
		writeSeq:  make(map[string]uint64),
		bindings:  make(map[*Binding]struct{}),
		leases:    make(map[string]*realtimeLease),
	}

	if r != nil {
		e.pool = workerpool.NewWorkerPool(&workerpool.Config{
			Name:       "upsert",
			MaxWorkers: opts.UpsertWorkers,
			QueueSize:  opts.UpsertQueueSize,
			Logger:     logger,
		})
	}

	logger.Info("Sync engine started",
		zap.String("client_id", opts.ClientID),
		zap.Bool("remote", r != nil),
		zap.Int("local_only_keys", len(localOnly)))

	return e
}

// ClientID identifies this engine as the origin of its upserts
func (e *Engine) ClientID() string {
	return e.opts.ClientID
}

// Read returns the cached document under key, or def when there is none.
// def is returned as is and never stored.
func (e *Engine) Read(key string, def json.RawMessage) json.RawMessage {
	value, ok := e.cache.Read(key)
	if !ok {
		return def
	}
	return bytes.Clone(value)
}

// Write replaces the document under key, notifies every listener and then
// schedules the remote upsert. It never fails: invalid input and calls after
// Close are logged and ignored.
func (e *Engine) Write(key string, value json.RawMessage) {
	if e.closed.Load() {
		e.logger.Warn("Ignoring write after engine close", zap.String("key", key))
		return
	}
	if key == "" || !json.Valid(value) {
		e.logger.Warn("Ignoring invalid write", zap.String("key", key))
		return
	}
	value = bytes.Clone(value)

	if err := e.cache.Write(key, value); err != nil {
		e.logger.Warn("Local write not persisted", zap.String("key", key), zap.Error(err))
	}
	e.bumpWriteSeq(key)
	e.metrics.LocalWrites.WithLabelValues(key).Inc()

	e.bus.Publish(key, value)
	e.scheduleUpsert(key, value)
}

// Subscribe registers listener for changes to every key
func (e *Engine) Subscribe(listener bus.Listener) (unsubscribe func()) {
	return e.bus.Subscribe(listener)
}

// ExternalUpdate applies a document that originated elsewhere. It updates
// the cache and notifies listeners but never issues an upsert.
func (e *Engine) ExternalUpdate(key string, value json.RawMessage) {
	e.applyExternal(key, value, SourceExternal)
}

func (e *Engine) applyExternal(key string, value json.RawMessage, source string) {
	if e.closed.Load() {
		e.logger.Debug("Ignoring external update after engine close",
			zap.String("key", key),
			zap.String("source", source))
		return
	}
	if key == "" || !json.Valid(value) {
		e.logger.Warn("Ignoring invalid external update",
			zap.String("key", key),
			zap.String("source", source))
		return
	}
	value = bytes.Clone(value)

	if err := e.cache.Write(key, value); err != nil {
		e.logger.Warn("External update not persisted",
			zap.String("key", key),
			zap.String("source", source),
			zap.Error(err))
	}
	e.metrics.ExternalUpdates.WithLabelValues(source).Inc()

	e.bus.Publish(key, value)
}

// TenantID returns the tenant this process syncs for, or "" while none is
// known. Once a tenant has been resolved it never changes.
func (e *Engine) TenantID() string {
	if e.opts.TenantID != "" {
		return e.opts.TenantID
	}

	e.tenantMu.Lock()
	defer e.tenantMu.Unlock()

	if e.tenantID != "" {
		return e.tenantID
	}

	raw, ok := e.cache.Read(e.opts.ProfileKey)
	if !ok {
		return ""
	}
	var profile model.Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		e.logger.Warn("Profile is not an object", zap.String("key", e.opts.ProfileKey), zap.Error(err))
		return ""
	}
	if profile.TenantID != "" {
		e.tenantID = profile.TenantID
		e.logger.Info("Tenant resolved", zap.String("tenant_id", e.tenantID))
	}
	return e.tenantID
}

// IsLocalOnly reports whether key is never synchronized remotely
func (e *Engine) IsLocalOnly(key string) bool {
	_, ok := e.localOnly[key]
	return ok
}

// syncable reports whether key can be exchanged with the remote at all
func (e *Engine) syncable(key string) bool {
	return e.remote != nil && !e.IsLocalOnly(key)
}

func (e *Engine) scheduleUpsert(key string, value json.RawMessage) {
	if !e.syncable(key) {
		return
	}
	tenantID := e.TenantID()
	if tenantID == "" {
		e.logger.Debug("No tenant resolved, write stays local", zap.String("key", key))
		return
	}

	rec := &model.RemoteRecord{
		TenantID: tenantID,
		Key:      key,
		Value:    value,
		Origin:   e.opts.ClientID,
	}

	// Counted before Submit; the worker may finish before Submit returns
	e.metrics.PendingUpserts.Inc()
	err := e.pool.Submit(workerpool.Task{
		ID:       key,
		ShardKey: tenantID + "/" + key,
		Fn: func(ctx context.Context) error {
			return e.upsert(ctx, rec)
		},
	})
	if errors.Is(err, workerpool.ErrQueueFull) {
		err = syncerrors.QueueFull("upsert", e.opts.UpsertQueueSize).WithDetail("key", key)
	}
	if err != nil {
		e.metrics.PendingUpserts.Dec()
		e.statusMu.Lock()
		e.status.DroppedWrites++
		e.statusMu.Unlock()
		e.recordError(err)
		e.metrics.Upserts.WithLabelValues("dropped").Inc()
		e.logger.Warn("Upsert dropped",
			zap.String("tenant_id", tenantID),
			zap.String("key", key),
			zap.Error(err))
		return
	}
}

func (e *Engine) upsert(ctx context.Context, rec *model.RemoteRecord) error {
	defer e.metrics.PendingUpserts.Dec()

	ctx, cancel := context.WithTimeout(ctx, e.opts.UpsertTimeout)
	defer cancel()

	start := time.Now()
	err := e.remote.Upsert(ctx, rec)
	e.metrics.UpsertDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		e.recordError(syncerrors.RemoteUnavailable("upsert failed", err))
		e.metrics.Upserts.WithLabelValues("error").Inc()
		e.logger.Warn("Upsert failed",
			zap.String("tenant_id", rec.TenantID),
			zap.String("key", rec.Key),
			zap.Error(err))
		return err
	}

	e.recordSync()
	e.metrics.Upserts.WithLabelValues("ok").Inc()
	return nil
}

// pull fetches the remote record for key and injects it as an external
// update, unless a local write to key happened after issued was taken
func (e *Engine) pull(tenantID, key string, issued uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.PullTimeout)
	defer cancel()

	rec, err := e.remote.Pull(ctx, tenantID, key)
	if errors.Is(err, remote.ErrNotFound) {
		e.recordSync()
		e.metrics.Pulls.WithLabelValues("not_found").Inc()
		return
	}
	if err != nil {
		e.recordError(syncerrors.RemoteUnavailable("pull failed", err))
		e.metrics.Pulls.WithLabelValues("error").Inc()
		e.logger.Warn("Pull failed",
			zap.String("tenant_id", tenantID),
			zap.String("key", key),
			zap.Error(err))
		return
	}
	e.recordSync()

	if rec.TenantID != tenantID || rec.Key != key {
		e.metrics.Pulls.WithLabelValues("foreign").Inc()
		e.logger.Warn("Discarding pulled record for foreign topic",
			zap.String("tenant_id", tenantID),
			zap.String("key", key),
			zap.String("record_tenant_id", rec.TenantID),
			zap.String("record_key", rec.Key))
		return
	}
	if e.currentWriteSeq(key) != issued {
		e.metrics.Pulls.WithLabelValues("stale").Inc()
		e.logger.Debug("Discarding pull overtaken by a local write",
			zap.String("tenant_id", tenantID),
			zap.String("key", key))
		return
	}

	e.metrics.Pulls.WithLabelValues("ok").Inc()
	e.applyExternal(key, rec.Value, SourcePull)
}

// receiveRealtime returns the handler for a binding's realtime channel
func (e *Engine) receiveRealtime(tenantID, key string) remote.Handler {
	return func(rec *model.RemoteRecord) {
		switch {
		case rec.TenantID != tenantID || rec.Key != key:
			e.metrics.RealtimeEvents.WithLabelValues("foreign").Inc()
			e.logger.Warn("Dropping realtime record for foreign topic",
				zap.String("tenant_id", tenantID),
				zap.String("key", key),
				zap.String("record_tenant_id", rec.TenantID))
		case rec.Origin != "" && rec.Origin == e.opts.ClientID:
			e.metrics.RealtimeEvents.WithLabelValues("echo").Inc()
		default:
			e.metrics.RealtimeEvents.WithLabelValues("applied").Inc()
			e.applyExternal(key, rec.Value, SourceRealtime)
		}
	}
}

func (e *Engine) bumpWriteSeq(key string) {
	e.seqMu.Lock()
	e.writeSeq[key]++
	e.seqMu.Unlock()
}

func (e *Engine) currentWriteSeq(key string) uint64 {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	return e.writeSeq[key]
}

func (e *Engine) recordError(err error) {
	e.statusMu.Lock()
	e.status.LastError = err.Error()
	e.status.LastErrorAt = time.Now().UTC()
	e.statusMu.Unlock()
}

func (e *Engine) recordSync() {
	e.statusMu.Lock()
	e.status.LastSyncedAt = time.Now().UTC()
	e.statusMu.Unlock()
}

// Status reports background synchronization state
func (e *Engine) Status() model.SyncStatus {
	e.statusMu.Lock()
	status := e.status
	e.statusMu.Unlock()

	if e.pool != nil {
		status.PendingWrites = e.pool.Pending()
	}
	return status
}

// CachedKeys lists every key held in the local cache
func (e *Engine) CachedKeys() ([]string, error) {
	return e.cache.Keys()
}

// Evict drops the local copy of key. Nothing is published or sent to the
// remote; the next Bind on a synchronized key pulls it again.
func (e *Engine) Evict(key string) error {
	if err := e.cache.Delete(key); err != nil {
		return fmt.Errorf("failed to evict %q: %w", key, err)
	}
	e.logger.Info("Evicted cached collection", zap.String("key", key))
	return nil
}

// UpsertStats reports the background upsert workers. ok is false when the
// engine runs without a remote.
func (e *Engine) UpsertStats() (stats workerpool.Stats, ok bool) {
	if e.pool == nil {
		return workerpool.Stats{}, false
	}
	return e.pool.Stats(), true
}

// Flush waits until every scheduled upsert has completed or ctx is done
func (e *Engine) Flush(ctx context.Context) error {
	if e.pool == nil {
		return nil
	}
	return e.pool.WaitIdle(ctx)
}

// Close closes every open binding and waits up to timeout for scheduled
// upserts to finish. Reads keep working afterwards; writes are ignored.
func (e *Engine) Close(timeout time.Duration) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.bindingsMu.Lock()
	open := make([]*Binding, 0, len(e.bindings))
	for b := range e.bindings {
		open = append(open, b)
	}
	e.bindingsMu.Unlock()

	for _, b := range open {
		b.Close()
	}

	e.logger.Info("Sync engine closing", zap.Int("closed_bindings", len(open)))

	if e.pool == nil {
		return nil
	}
	return e.pool.Stop(timeout)
}

func (e *Engine) track(b *Binding) {
	e.bindingsMu.Lock()
	e.bindings[b] = struct{}{}
	e.bindingsMu.Unlock()
	e.metrics.ActiveBindings.Inc()
}

func (e *Engine) untrack(b *Binding) {
	e.bindingsMu.Lock()
	delete(e.bindings, b)
	e.bindingsMu.Unlock()
	e.metrics.ActiveBindings.Dec()
}
