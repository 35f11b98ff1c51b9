package model

import (
	"encoding/json"
	"time"
)

// DefaultProfileKey is the collection holding the active user profile.
// It is local-only and never synchronized remotely.
const DefaultProfileKey = "profile"

// Profile is the subset of the user profile collection docsync cares about
type Profile struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id,omitempty"`
	Name     string `json:"name,omitempty"`
}

// RemoteRecord is the server-side representation of one collection for one tenant
type RemoteRecord struct {
	TenantID  string          `json:"tenant_id"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
	Origin    string          `json:"origin,omitempty"` // Client id of the writer
}

// SyncStatus is the observable state of background synchronization
type SyncStatus struct {
	PendingWrites int       `json:"pending_writes"`
	DroppedWrites uint64    `json:"dropped_writes"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorAt   time.Time `json:"last_error_at,omitempty"`
	LastSyncedAt  time.Time `json:"last_synced_at,omitempty"`
}

// Healthy reports whether the last remote operation succeeded
func (s SyncStatus) Healthy() bool {
	return s.LastError == "" || s.LastSyncedAt.After(s.LastErrorAt)
}
