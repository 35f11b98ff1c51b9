package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	syncerrors "github.com/devrev/pairdb/docsync/internal/errors"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Claims are the token claims a docsync client presents
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token granting access to tenantID. A zero ttl
// issues a token without expiry.
func IssueToken(secret []byte, tenantID, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ClaimsFromContext returns the claims TenantAuth verified for the request
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// TenantAuth verifies the bearer token and requires its tenant_id claim to
// match the tenant tenantOf extracts from the request. Requests without a
// tenant in the path only need a valid token.
func TenantAuth(secret []byte, tenantOf func(*http.Request) string, logger *zap.Logger) func(http.Handler) http.Handler {
	errs := syncerrors.NewHandler(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				errs.HandleError(w, r, syncerrors.Unauthorized("missing bearer token", nil))
				return
			}

			claims := &Claims{}
			_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil {
				errs.HandleError(w, r, syncerrors.Unauthorized("invalid token", err))
				return
			}
			if claims.TenantID == "" {
				errs.HandleError(w, r, syncerrors.Unauthorized("token has no tenant", nil))
				return
			}

			if tenantID := tenantOf(r); tenantID != "" && tenantID != claims.TenantID {
				logger.Warn("Tenant mismatch",
					zap.String("request_id", r.Header.Get("X-Request-ID")),
					zap.String("tenant_id", tenantID),
					zap.String("token_tenant_id", claims.TenantID))
				errs.HandleError(w, r, syncerrors.Forbidden("token is not valid for this tenant"))
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
