package middleware

import (
	"net/http"

	"github.com/angelmondragon/subsync/api/responses"
	"github.com/angelmondragon/subsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
)

// RequireRole admits callers whose token carries one of roles. It must run
// after Auth.
func RequireRole(logg *logger.Logger, roles ...enums.AccountRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			caller, ok := CallerFromContext(ctx)
			if !ok {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			for _, allowed := range roles {
				if caller.Role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			if logg != nil {
				logg.Warn(logg.WithFields(ctx, map[string]any{
					"role":     string(caller.Role),
					"path":     r.URL.Path,
					"security": true,
				}), "auth.role_denied")
			}
			responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeForbidden, "insufficient role"))
		})
	}
}
