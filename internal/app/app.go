// Package app wires configuration into the concrete remote adapters and the
// sync engine shared by the docsync binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/devrev/pairdb/docsync/internal/cache"
	"github.com/devrev/pairdb/docsync/internal/config"
	"github.com/devrev/pairdb/docsync/internal/engine"
	"github.com/devrev/pairdb/docsync/internal/health"
	"github.com/devrev/pairdb/docsync/internal/metrics"
	"github.com/devrev/pairdb/docsync/internal/middleware"
	"github.com/devrev/pairdb/docsync/internal/remote"
	"go.uber.org/zap"
)

// Backend is a remote adapter together with its health checks
type Backend struct {
	Remote remote.Remote
	Checks map[string]health.Pinger
	close  func() error
}

// Close releases the backend connections
func (b *Backend) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}

// OpenHub builds the store-backed hub used by the gateway and by clients in
// direct or memory mode
func OpenHub(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	if cfg.Remote.Mode != config.RemoteModeDirect {
		hub, store, channel := remote.NewMemoryRemote(logger)
		return &Backend{
			Remote: hub,
			Checks: map[string]health.Pinger{"store": store, "channel": channel},
			close:  hub.Close,
		}, nil
	}

	store, err := remote.NewPostgresStore(
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection store: %w", err)
	}
	if cfg.Database.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	logger.Info("Collection store initialized",
		zap.String("database_host", cfg.Database.Host),
		zap.String("database_name", cfg.Database.Database))

	channel, err := remote.NewRedisChannel(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.ChannelPrefix,
		logger,
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open realtime channel: %w", err)
	}
	logger.Info("Realtime channel initialized", zap.String("redis_host", cfg.Redis.Host))

	hub := remote.NewHub(store, channel, logger)
	return &Backend{
		Remote: hub,
		Checks: map[string]health.Pinger{"postgres": store, "redis": channel},
		close:  hub.Close,
	}, nil
}

// OpenRemote builds the client-side adapter selected by remote.mode.
// It returns a nil Backend in local-only mode.
func OpenRemote(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	switch cfg.Remote.Mode {
	case config.RemoteModeNone, "":
		return nil, nil
	case config.RemoteModeGateway:
		token, err := authToken(cfg)
		if err != nil {
			return nil, err
		}
		r, err := remote.NewHTTPRemote(cfg.Remote.GatewayURL, token, cfg.Remote.Timeout, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{Remote: r}, nil
	default:
		return OpenHub(ctx, cfg, logger)
	}
}

// authToken returns the configured token, or mints a short-lived one when
// the client shares the gateway secret and has a static tenant
func authToken(cfg *config.Config) (string, error) {
	if cfg.Remote.AuthToken != "" || cfg.Gateway.JWTSecret == "" || cfg.Client.TenantID == "" {
		return cfg.Remote.AuthToken, nil
	}
	token, err := middleware.IssueToken([]byte(cfg.Gateway.JWTSecret), cfg.Client.TenantID, cfg.Client.ID, time.Hour)
	if err != nil {
		return "", fmt.Errorf("failed to issue auth token: %w", err)
	}
	return token, nil
}

// EngineOptions maps the client and sync sections onto engine options
func EngineOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		ProfileKey:      cfg.Client.ProfileKey,
		LocalOnlyKeys:   cfg.Client.LocalOnlyKeys,
		TenantID:        cfg.Client.TenantID,
		ClientID:        cfg.Client.ID,
		PullTimeout:     cfg.Sync.PullTimeout,
		UpsertTimeout:   cfg.Sync.UpsertTimeout,
		UpsertWorkers:   cfg.Sync.UpsertWorkers,
		UpsertQueueSize: cfg.Sync.UpsertQueueSize,
	}
}

// NewEngine opens the on-disk cache and the configured remote and starts an
// engine on them. The returned Backend must be closed after the engine.
func NewEngine(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*engine.Engine, *Backend, error) {
	store, err := cache.NewFileStore(cfg.Client.CacheDir, cfg.Client.CachePrefix)
	if err != nil {
		return nil, nil, err
	}

	backend, err := OpenRemote(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	var r remote.Remote
	if backend != nil {
		r = backend.Remote
	}

	e := engine.New(cache.New(store, m, logger), r, EngineOptions(cfg), m, logger)
	return e, backend, nil
}
