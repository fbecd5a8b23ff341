package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/identity"
	"github.com/frahmantamala/familyguard/internal/session"
	"github.com/frahmantamala/familyguard/internal/transport"
)

// RequirePermission rejects requests whose session lacks perm. It must run
// after SessionAuth.
func RequirePermission(perm identity.Permission, lg *slog.Logger) func(http.Handler) http.Handler {
	base := transport.NewBaseHandler(lg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := session.FromContext(r.Context())
			if !ok {
				base.WriteAppError(w, internal.ErrSessionNotFound)
				return
			}
			if !s.Has(perm) {
				base.Logger.Warn("access denied: session lacks permission",
					"username", s.Username,
					"role", s.Role,
					"required_permission", perm)
				base.WriteAppError(w, internal.NewPermissionDeniedError(
					fmt.Sprintf("permission %s is required", perm), internal.ErrCodeMissingPermission))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
