package tenant

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/bizpilot/insight-gateway/internal/httputil"
)

// Middleware authenticates requests via Bearer API key and binds the
// resolved tenant context to the request. A caller with neither a tenant
// nor cross-tenant capability is rejected before the pipeline runs.
func Middleware(store CallerStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteAuthError(w, reqID, "Missing Authorization header. Use: Authorization: Bearer <api-key>")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				httputil.WriteAuthError(w, reqID, "Invalid Authorization format. Use: Authorization: Bearer <api-key>")
				return
			}
			if token == "" {
				httputil.WriteAuthError(w, reqID, "Empty API key")
				return
			}

			keyHash := HashKey(token)
			rec, err := store.Lookup(r.Context(), keyHash)
			if err != nil {
				slog.Error("key lookup failed", "error", err, "key_prefix", KeyPrefix(token))
				httputil.WriteInternalError(w, reqID, "Internal error during authentication")
				return
			}
			if rec == nil {
				slog.Warn("auth failed: key not found", "key_prefix", KeyPrefix(token))
				httputil.WriteAuthError(w, reqID, "Invalid API key")
				return
			}

			if rec.TenantID == "" && !rec.CrossTenantAdmin {
				slog.Warn("no tenant resolved", "request_id", reqID, "key_id", rec.KeyID)
				httputil.WriteNoTenantError(w, reqID)
				return
			}

			tc := &Context{
				CallerID:         rec.KeyID,
				CallerName:       rec.Name,
				TenantID:         rec.TenantID,
				CrossTenantAdmin: rec.CrossTenantAdmin,
				AllowedTenantIDs: rec.AllowedTenantIDs,
			}

			ctx := ContextWith(r.Context(), tc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
