package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"go.uber.org/zap"
)

type contextKey string

const (
	tenantContextKey contextKey = "tenant"
	tenantSlotKey    contextKey = "tenant_slot"
)

func TenantFromContext(ctx context.Context) *domain.Tenant {
	t, _ := ctx.Value(tenantContextKey).(*domain.Tenant)
	return t
}

// WithTenant stores the tenant in ctx.
func WithTenant(ctx context.Context, t *domain.Tenant) context.Context {
	if slot, ok := ctx.Value(tenantSlotKey).(*string); ok && t != nil {
		*slot = t.ID.String()
	}
	return context.WithValue(ctx, tenantContextKey, t)
}

func APIKeyAuth(tenantStore domain.TenantStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			tenant, err := tenantStore.GetByAPIKeyHash(r.Context(), hashAPIKey(parts[1]))
			if err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					LoggerFromContext(r.Context()).Warn("api key lookup failed", zap.Error(err))
				}
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenant)))
		})
	}
}

func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// HashAPIKey is exported for use when creating tenants.
func HashAPIKey(key string) string {
	return hashAPIKey(key)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
