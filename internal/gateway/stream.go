package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/devrev/pairdb/docsync/internal/model"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamBufferSize = 64
	writeWait        = 10 * time.Second
)

// StreamCollection handles GET /v1/tenants/{tenant_id}/collections/{key}/stream.
// Every record written for (tenant, key) is pushed as one JSON text message
// until the client disconnects or the server shuts down. A client that falls
// too far behind is disconnected.
func (h *Handlers) StreamCollection(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tenantID, key, err := collectionVars(r)
	if err != nil {
		h.fail(w, r, "stream", start, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied
		h.logger.Debug("Websocket upgrade failed", zap.Error(err))
		h.observe("stream", http.StatusBadRequest, start)
		return
	}
	defer conn.Close()
	h.observe("stream", http.StatusSwitchingProtocols, start)

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	records := make(chan *model.RemoteRecord, streamBufferSize)
	sub, err := h.backend.Subscribe(ctx, tenantID, key, func(rec *model.RemoteRecord) {
		select {
		case records <- rec:
		case <-ctx.Done():
		default:
			h.logger.Warn("Stream client too slow, disconnecting",
				zap.String("tenant_id", tenantID),
				zap.String("key", key))
			cancel()
		}
	})
	if err != nil {
		h.logger.Warn("Failed to open realtime channel",
			zap.String("tenant_id", tenantID),
			zap.String("key", key),
			zap.Error(err))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "realtime channel unavailable"),
			time.Now().Add(writeWait))
		return
	}
	defer sub.Close()

	h.metrics.StreamClients.Inc()
	defer h.metrics.StreamClients.Dec()

	h.logger.Info("Stream opened",
		zap.String("tenant_id", tenantID),
		zap.String("key", key),
		zap.String("remote_addr", r.RemoteAddr))

	pingInterval := h.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}

	// The reader handles control frames and notices the client going away
	conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-records:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(rec); err != nil {
				h.logger.Debug("Stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			h.logger.Info("Stream closed",
				zap.String("tenant_id", tenantID),
				zap.String("key", key))
			return
		}
	}
}
