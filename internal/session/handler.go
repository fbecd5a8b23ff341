package session

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/identity"
	"github.com/frahmantamala/familyguard/internal/transport"
	"github.com/go-chi/chi"
)

type Authenticator interface {
	Authenticate(ctx context.Context, username, password, ip string) (*identity.User, error)
}

type LoginDTO struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	SessionID string            `json:"session_id"`
	ExpiresIn int               `json:"expires_in"`
	User      identity.UserView `json:"user"`
}

type PermissionResponse struct {
	Permission identity.Permission `json:"permission"`
	Granted    bool                `json:"granted"`
}

type Handler struct {
	*transport.BaseHandler
	auth     Authenticator
	sessions *Manager
	roles    *identity.RoleTable
}

func NewHandler(auth Authenticator, sessions *Manager, roles *identity.RoleTable, lg *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		auth:        auth,
		sessions:    sessions,
		roles:       roles,
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}

	ip := transport.ClientIP(r)
	user, err := h.auth.Authenticate(r.Context(), dto.Username, dto.Password, ip)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	id, err := h.sessions.Create(r.Context(), user, ip)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, LoginResponse{
		SessionID: id,
		ExpiresIn: int(h.sessions.Timeout().Seconds()),
		User:      user.ToView(h.roles.Permissions(user.Role)),
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := internal.SessionIDFromContext(r.Context())
	if token == "" {
		token = h.ExtractTokenFromHeader(r)
	}
	if token == "" {
		h.WriteAppError(w, internal.ErrSessionNotFound)
		return
	}
	if !h.sessions.Logout(r.Context(), token) {
		h.WriteAppError(w, internal.ErrSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	s, err := h.current(r)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, s.ToView())
}

func (h *Handler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	perm := identity.Permission(chi.URLParam(r, "permission"))
	s, err := h.current(r)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, PermissionResponse{Permission: perm, Granted: s.Has(perm)})
}

// current prefers the session resolved by the auth middleware.
func (h *Handler) current(r *http.Request) (*Session, error) {
	if s, ok := FromContext(r.Context()); ok {
		return s, nil
	}
	return h.sessions.Validate(r.Context(), h.ExtractTokenFromHeader(r))
}
