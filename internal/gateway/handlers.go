package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/devrev/pairdb/docsync/internal/config"
	syncerrors "github.com/devrev/pairdb/docsync/internal/errors"
	"github.com/devrev/pairdb/docsync/internal/metrics"
	"github.com/devrev/pairdb/docsync/internal/model"
	"github.com/devrev/pairdb/docsync/internal/remote"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxNameLength = 256

// Handlers contains all HTTP handlers and their dependencies
type Handlers struct {
	ctx          context.Context
	backend      remote.Remote
	errorHandler *syncerrors.Handler
	metrics      *metrics.Metrics
	logger       *zap.Logger
	cfg          config.GatewayConfig
	upgrader     websocket.Upgrader
}

// NewHandlers creates a new Handlers instance. Streams are closed when ctx
// is cancelled.
func NewHandlers(
	ctx context.Context,
	backend remote.Remote,
	errorHandler *syncerrors.Handler,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg config.GatewayConfig,
) *Handlers {
	return &Handlers{
		ctx:          ctx,
		backend:      backend,
		errorHandler: errorHandler,
		metrics:      m,
		logger:       logger,
		cfg:          cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Access is granted by the bearer token, not the page origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// CollectionList is the body of a list response
type CollectionList struct {
	TenantID string   `json:"tenant_id"`
	Keys     []string `json:"keys"`
}

// ListCollections handles GET /v1/tenants/{tenant_id}/collections
func (h *Handlers) ListCollections(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tenantID := pathVar(r, "tenant_id")
	if reason := validateName(tenantID); reason != "" {
		h.fail(w, r, "list", start, syncerrors.InvalidTenantID(tenantID, reason))
		return
	}

	lister, ok := h.backend.(remote.KeyLister)
	if !ok {
		h.fail(w, r, "list", start, syncerrors.RemoteUnavailable("collection listing is not supported", nil))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.ReadTimeout)
	defer cancel()

	keys, err := lister.ListKeys(ctx, tenantID)
	if err != nil {
		h.fail(w, r, "list", start, syncerrors.RemoteUnavailable("failed to list collections", err))
		return
	}

	h.observe("list", http.StatusOK, start)
	syncerrors.WriteJSON(w, http.StatusOK, CollectionList{TenantID: tenantID, Keys: keys})
}

// GetCollection handles GET /v1/tenants/{tenant_id}/collections/{key}
func (h *Handlers) GetCollection(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tenantID, key, err := collectionVars(r)
	if err != nil {
		h.fail(w, r, "get", start, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.ReadTimeout)
	defer cancel()

	rec, err := h.backend.Pull(ctx, tenantID, key)
	if errors.Is(err, remote.ErrNotFound) {
		h.fail(w, r, "get", start, syncerrors.NotFound(tenantID, key))
		return
	}
	if err != nil {
		h.fail(w, r, "get", start, syncerrors.RemoteUnavailable("failed to read collection", err))
		return
	}

	h.observe("get", http.StatusOK, start)
	syncerrors.WriteJSON(w, http.StatusOK, rec)
}

// PutCollection handles PUT /v1/tenants/{tenant_id}/collections/{key}.
// The body is the whole replacement document.
func (h *Handlers) PutCollection(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tenantID, key, err := collectionVars(r)
	if err != nil {
		h.fail(w, r, "put", start, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxDocumentSize))
	if err != nil {
		h.fail(w, r, "put", start, syncerrors.InvalidDocument(key, err))
		return
	}
	if !json.Valid(body) {
		h.fail(w, r, "put", start, syncerrors.InvalidDocument(key, nil))
		return
	}

	rec := &model.RemoteRecord{
		TenantID: tenantID,
		Key:      key,
		Value:    json.RawMessage(body),
		Origin:   r.Header.Get(remote.OriginHeader),
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.WriteTimeout)
	defer cancel()

	if err := h.backend.Upsert(ctx, rec); err != nil {
		h.fail(w, r, "put", start, syncerrors.RemoteUnavailable("failed to write collection", err))
		return
	}

	h.logger.Debug("Collection replaced",
		zap.String("tenant_id", tenantID),
		zap.String("key", key),
		zap.String("origin", rec.Origin),
		zap.Int("size", len(body)))

	h.observe("put", http.StatusOK, start)
	syncerrors.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, operation string, start time.Time, err error) {
	h.observe(operation, syncerrors.HTTPStatus(err), start)
	h.errorHandler.HandleError(w, r, err)
}

func (h *Handlers) observe(operation string, status int, start time.Time) {
	h.metrics.RequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	h.metrics.RequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// collectionVars extracts and validates the tenant and key of a request
func collectionVars(r *http.Request) (string, string, error) {
	tenantID := pathVar(r, "tenant_id")
	key := pathVar(r, "key")

	if err := validateName(tenantID); err != "" {
		return "", "", syncerrors.InvalidTenantID(tenantID, err)
	}
	if err := validateName(key); err != "" {
		return "", "", syncerrors.InvalidKey(key, err)
	}
	return tenantID, key, nil
}

// validateName returns why name cannot be used, or ""
func validateName(name string) string {
	switch {
	case name == "":
		return "must not be empty"
	case len(name) > maxNameLength:
		return "too long"
	case strings.ContainsAny(name, ":\x00"):
		// ':' separates tenant and key in channel names
		return "must not contain ':'"
	}
	return ""
}
