// Package remote provides tenant-scoped access to the shared collection store:
// one-shot pulls, fire-and-forget upserts and realtime push channels.
package remote

import (
	"context"
	"errors"

	"github.com/devrev/pairdb/docsync/internal/model"
)

// ErrNotFound is returned when a tenant has no record for a key
var ErrNotFound = errors.New("collection not found")

// Handler receives full replacement documents from a realtime channel
type Handler func(rec *model.RemoteRecord)

// Subscription is a live realtime channel for one (tenant, key) pair
type Subscription interface {
	Close() error
}

// Remote is the adapter the sync engine talks to
type Remote interface {
	Pull(ctx context.Context, tenantID, key string) (*model.RemoteRecord, error)
	Upsert(ctx context.Context, rec *model.RemoteRecord) error
	Subscribe(ctx context.Context, tenantID, key string, handler Handler) (Subscription, error)
}

// KeyLister is implemented by remotes that can enumerate a tenant's keys
type KeyLister interface {
	ListKeys(ctx context.Context, tenantID string) ([]string, error)
}

// RecordStore persists one record per (tenant, key)
type RecordStore interface {
	Get(ctx context.Context, tenantID, key string) (*model.RemoteRecord, error)
	Put(ctx context.Context, rec *model.RemoteRecord) error
	ListKeys(ctx context.Context, tenantID string) ([]string, error)
	Ping(ctx context.Context) error
	Close()
}

// Channel fans records out to realtime subscribers of the same (tenant, key)
type Channel interface {
	Publish(ctx context.Context, rec *model.RemoteRecord) error
	Subscribe(ctx context.Context, tenantID, key string, handler Handler) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// Topic builds the channel name for a (tenant, key) pair
func Topic(prefix, tenantID, key string) string {
	return prefix + ":" + tenantID + ":" + key
}

// closeOnDone closes sub when ctx ends, unless sub is closed first
func closeOnDone(ctx context.Context, done <-chan struct{}, sub Subscription) {
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-done:
		}
	}()
}
