package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/devrev/pairdb/docsync/internal/model"
	"go.uber.org/zap"
)

// Hub implements Remote by pairing a RecordStore with a Channel:
// upserts are persisted and then broadcast to the (tenant, key) topic.
type Hub struct {
	store   RecordStore
	channel Channel
	logger  *zap.Logger
	now     func() time.Time
}

// NewHub creates a new hub
func NewHub(store RecordStore, channel Channel, logger *zap.Logger) *Hub {
	return &Hub{
		store:   store,
		channel: channel,
		logger:  logger,
		now:     time.Now,
	}
}

// Pull reads the tenant's record for key
func (h *Hub) Pull(ctx context.Context, tenantID, key string) (*model.RemoteRecord, error) {
	return h.store.Get(ctx, tenantID, key)
}

// Upsert overwrites the tenant's record and notifies live subscribers.
// A failed broadcast is logged; the record is already durable.
func (h *Hub) Upsert(ctx context.Context, rec *model.RemoteRecord) error {
	if rec.TenantID == "" || rec.Key == "" {
		return fmt.Errorf("upsert requires tenant and key")
	}

	stored := *rec
	stored.UpdatedAt = h.now().UTC()

	if err := h.store.Put(ctx, &stored); err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	*rec = stored

	if err := h.channel.Publish(ctx, &stored); err != nil {
		h.logger.Warn("Failed to broadcast record",
			zap.String("tenant_id", stored.TenantID),
			zap.String("key", stored.Key),
			zap.Error(err))
	}

	return nil
}

// ListKeys returns every key the tenant has a record for
func (h *Hub) ListKeys(ctx context.Context, tenantID string) ([]string, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("list requires tenant")
	}
	return h.store.ListKeys(ctx, tenantID)
}

// Subscribe opens a realtime channel. Records for any other tenant or key
// are dropped before reaching handler.
func (h *Hub) Subscribe(ctx context.Context, tenantID, key string, handler Handler) (Subscription, error) {
	return h.channel.Subscribe(ctx, tenantID, key, func(rec *model.RemoteRecord) {
		if rec.TenantID != tenantID || rec.Key != key {
			h.logger.Warn("Dropping realtime record for foreign topic",
				zap.String("subscribed_tenant_id", tenantID),
				zap.String("tenant_id", rec.TenantID),
				zap.String("key", rec.Key))
			return
		}
		handler(rec)
	})
}

// Ping checks both backends
func (h *Hub) Ping(ctx context.Context) error {
	if err := h.store.Ping(ctx); err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	if err := h.channel.Ping(ctx); err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	return nil
}

// Close releases both backends
func (h *Hub) Close() error {
	h.store.Close()
	return h.channel.Close()
}
