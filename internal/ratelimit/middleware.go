package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bizpilot/insight-gateway/internal/httputil"
	"github.com/bizpilot/insight-gateway/internal/telemetry"
	"github.com/bizpilot/insight-gateway/internal/tenant"
)

const (
	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
)

// Middleware returns chi middleware that enforces the per-caller request
// budget. Denial is surfaced with a Retry-After hint; it is the only
// rejection callers are expected to back off and retry.
func Middleware(limiter Limiter, quota int, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			tc, ok := tenant.FromContext(r.Context())
			if !ok {
				// No tenant context; let the auth middleware handle it
				next.ServeHTTP(w, r)
				return
			}

			d := limiter.Allow(r.Context(), tc.CallerID)

			w.Header().Set(headerRateLimitRequests, strconv.Itoa(quota))
			w.Header().Set(headerRateLimitRemainingRequests, strconv.Itoa(d.Remaining))
			w.Header().Set(headerRateLimitReset, d.ResetAt.Format(time.RFC3339))

			if !d.Allowed {
				slog.Warn("rate limit exceeded",
					"request_id", reqID,
					"caller_id", tc.CallerID,
					"tenant_id", tc.TenantID,
					"quota", quota,
				)
				if metrics != nil {
					metrics.RecordRateLimitDenied(tc.TenantID)
				}
				retryAfter := int(d.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				httputil.WriteRateLimitError(w, reqID, retryAfter,
					fmt.Sprintf("Rate limit exceeded: %d requests per window. Retry after %s", quota, d.ResetAt.Format(time.RFC3339)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
