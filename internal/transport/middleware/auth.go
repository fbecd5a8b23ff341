package middleware

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/session"
	"github.com/frahmantamala/familyguard/internal/transport"
	"github.com/frahmantamala/familyguard/pkg/logger"
)

// SessionAuth resolves the bearer session id and stores the session in the
// request context. Validation refreshes the session's activity.
func SessionAuth(sessions *session.Manager, lg *slog.Logger) func(http.Handler) http.Handler {
	base := transport.NewBaseHandler(lg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := base.ExtractTokenFromHeader(r)
			if token == "" {
				base.WriteAppError(w, internal.ErrSessionNotFound)
				return
			}

			s, err := sessions.Validate(r.Context(), token)
			if err != nil {
				base.WriteAppError(w, err)
				return
			}

			ctx := session.ContextWithSession(r.Context(), s)
			ctx = internal.ContextWithSessionID(ctx, token)
			ctx = logger.With(ctx, "username", s.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
