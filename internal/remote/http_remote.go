package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/devrev/pairdb/docsync/internal/model"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// OriginHeader carries the writing client's id on upserts
const OriginHeader = "X-Docsync-Origin"

// CollectionPath is the gateway path for one tenant's collection
func CollectionPath(tenantID, key string) string {
	return "/v1/tenants/" + url.PathEscape(tenantID) + "/collections/" + url.PathEscape(key)
}

// HTTPRemote implements Remote against a docsync gateway: REST for pull and
// upsert, a websocket stream for realtime records
type HTTPRemote struct {
	baseURL *url.URL
	token   string
	client  *http.Client
	dialer  *websocket.Dialer
	logger  *zap.Logger
}

// NewHTTPRemote creates a gateway client
func NewHTTPRemote(baseURL, token string, timeout time.Duration, logger *zap.Logger) (*HTTPRemote, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse gateway url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}

	return &HTTPRemote{
		baseURL: u,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
		logger: logger,
	}, nil
}

// Pull fetches the tenant's record for key
func (r *HTTPRemote) Pull(ctx context.Context, tenantID, key string) (*model.RemoteRecord, error) {
	req, err := r.newRequest(ctx, http.MethodGet, CollectionPath(tenantID, key), nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to pull collection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var rec model.RemoteRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

// Upsert replaces the tenant's record for rec.Key
func (r *HTTPRemote) Upsert(ctx context.Context, rec *model.RemoteRecord) error {
	req, err := r.newRequest(ctx, http.MethodPut, CollectionPath(rec.TenantID, rec.Key), bytes.NewReader(rec.Value))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if rec.Origin != "" {
		req.Header.Set(OriginHeader, rec.Origin)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upsert collection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return nil
}

// Subscribe opens the websocket stream for (tenantID, key). The stream is
// not re-established after it drops.
func (r *HTTPRemote) Subscribe(ctx context.Context, tenantID, key string, handler Handler) (Subscription, error) {
	// http -> ws, https -> wss
	wsURL := "ws" + strings.TrimPrefix(r.baseURL.String(), "http") + CollectionPath(tenantID, key) + "/stream"

	header := http.Header{}
	if r.token != "" {
		header.Set("Authorization", "Bearer "+r.token)
	}

	conn, resp, err := r.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to open stream (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	sub := &streamSubscription{
		conn: conn,
		done: make(chan struct{}),
	}

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !sub.closed() {
					r.logger.Warn("Realtime stream error",
						zap.String("tenant_id", tenantID),
						zap.String("key", key),
						zap.Error(err))
				}
				return
			}

			var rec model.RemoteRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				r.logger.Warn("Dropping malformed stream message",
					zap.String("tenant_id", tenantID),
					zap.String("key", key),
					zap.Error(err))
				continue
			}
			handler(&rec)
		}
	}()
	closeOnDone(ctx, sub.done, sub)

	return sub, nil
}

func (r *HTTPRemote) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL.String()+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	return req, nil
}

// responseError turns a gateway error body into an error
func responseError(resp *http.Response) error {
	var body struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &body); err != nil || body.ErrorCode == "" {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("gateway returned status %d: %s: %s", resp.StatusCode, body.ErrorCode, body.Message)
}

type streamSubscription struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (s *streamSubscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *streamSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		deadline := time.Now().Add(time.Second)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = s.conn.Close()
	})
	return err
}
