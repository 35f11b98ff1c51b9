package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-1", seen)
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec)["error_code"])
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1, zap.NewNop())
	handler := limiter.Limit(okHandler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decodeError(t, rec)["error_code"])
}

func TestChain_RunsInOrder(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	Chain(mark("a"), mark("b"), mark("c"))(okHandler).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTenantAuth(t *testing.T) {
	secret := []byte("test-secret")
	tenantOf := func(r *http.Request) string { return r.URL.Query().Get("tenant") }

	var gotClaims *Claims
	handler := TenantAuth(secret, tenantOf, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	valid, err := IssueToken(secret, "tenant-1", "alice", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(secret, "tenant-1", "alice", -time.Hour)
	require.NoError(t, err)
	noExpiry, err := IssueToken(secret, "tenant-1", "", 0)
	require.NoError(t, err)
	foreignKey, err := IssueToken([]byte("other-secret"), "tenant-1", "alice", time.Hour)
	require.NoError(t, err)
	noTenant, err := IssueToken(secret, "", "alice", time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{TenantID: "tenant-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		tenant     string
		wantStatus int
		wantCode   string
	}{
		{"valid", "Bearer " + valid, "tenant-1", http.StatusOK, ""},
		{"lowercase scheme", "bearer " + valid, "tenant-1", http.StatusOK, ""},
		{"no expiry", "Bearer " + noExpiry, "tenant-1", http.StatusOK, ""},
		{"no tenant in path", "Bearer " + valid, "", http.StatusOK, ""},
		{"missing header", "", "tenant-1", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong scheme", "Basic " + valid, "tenant-1", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"garbage", "Bearer not-a-jwt", "tenant-1", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"expired", "Bearer " + expired, "tenant-1", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong key", "Bearer " + foreignKey, "tenant-1", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"alg none", "Bearer " + none, "tenant-1", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"token without tenant", "Bearer " + noTenant, "tenant-1", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"other tenant", "Bearer " + valid, "tenant-2", http.StatusForbidden, "FORBIDDEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotClaims = nil
			req := httptest.NewRequest(http.MethodGet, "/?tenant="+tt.tenant, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, rec)["error_code"])
				assert.Nil(t, gotClaims)
				return
			}
			require.NotNil(t, gotClaims)
			assert.Equal(t, "tenant-1", gotClaims.TenantID)
		})
	}
}

func TestLogging_PreservesStatus(t *testing.T) {
	handler := Logging(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(strings.Repeat("x", 3)))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "xxx", rec.Body.String())
}
