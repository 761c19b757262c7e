package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/angelmondragon/subsync/api/responses"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/redis"
)

// UserSyncRateLimit caps how often one authenticated user may force a billing
// sync. It must run after Auth. A zero limit or window disables it.
func UserSyncRateLimit(limiter redis.RateLimiter, limit int, window time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 || window <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			caller, ok := CallerFromContext(ctx)
			if !ok {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			win, err := limiter.Allow(ctx, redis.UserSyncScope(caller.UserID.String()), int64(limit), window)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
				return
			}
			if !win.Allowed {
				retryAfter := int(math.Ceil(win.ResetIn.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"attempts":       win.Count,
						"retry_after":    retryAfter,
						"limit":          limit,
						"window_seconds": int(window.Seconds()),
					}), "billing.sync.rate_limited")
				}
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many sync requests"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
