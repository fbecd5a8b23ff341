package gate

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/identity"
	"github.com/frahmantamala/familyguard/internal/session"
	"github.com/frahmantamala/familyguard/internal/transport"
	"github.com/go-chi/chi"
)

type ValidateDTO struct {
	Operation string         `json:"operation"`
	User      string         `json:"user,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

type DecisionResponse struct {
	Decision
	Error *internal.AppError `json:"error,omitempty"`
}

type BlockDTO struct {
	Reason string `json:"reason"`
}

type RulesResponse struct {
	Rules     []OperationRule `json:"rules"`
	Blacklist []string        `json:"blacklist"`
	Whitelist []string        `json:"whitelist"`
}

type Handler struct {
	*transport.BaseHandler
	gate *Gate
}

func NewHandler(g *Gate, lg *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		gate:        g,
	}
}

// Validate handles POST /gate/validate. The user defaults to the caller;
// naming another user needs MANAGE_RULES.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var dto ValidateDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}
	caller := actor(r)
	switch {
	case dto.User == "":
		dto.User = caller
	case dto.User != caller && !holds(r, identity.PermManageRules):
		h.WriteAppError(w, internal.NewPermissionDeniedError(
			"permission MANAGE_RULES is required to validate for another user",
			internal.ErrCodeMissingPermission))
		return
	}

	d := h.gate.ValidateOperation(r.Context(), dto.Operation, dto.User, dto.Params)
	resp := DecisionResponse{Decision: d}
	if appErr, ok := internal.IsAppError(d.Err); ok {
		resp.Error = appErr
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	t := h.gate.RuleTable()
	h.WriteJSON(w, http.StatusOK, RulesResponse{
		Rules:     t.Rules(),
		Blacklist: t.Blacklist(),
		Whitelist: t.Whitelist(),
	})
}

func (h *Handler) AddRule(w http.ResponseWriter, r *http.Request) {
	var rule OperationRule
	if err := h.DecodeJSON(r, &rule); err != nil {
		h.WriteAppError(w, err)
		return
	}
	if err := h.gate.AddRule(r.Context(), actor(r), rule); err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, rule)
}

func (h *Handler) RemoveRule(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.RemoveRule(r.Context(), actor(r), chi.URLParam(r, "operation")); err != nil {
		h.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Blacklist(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.AddToBlacklist(r.Context(), actor(r), chi.URLParam(r, "operation")); err != nil {
		h.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Unblacklist(w http.ResponseWriter, r *http.Request) {
	if !h.gate.RemoveFromBlacklist(r.Context(), actor(r), chi.URLParam(r, "operation")) {
		h.WriteAppError(w, internal.ErrRuleNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Whitelist(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.AddToWhitelist(r.Context(), actor(r), chi.URLParam(r, "operation")); err != nil {
		h.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Unwhitelist(w http.ResponseWriter, r *http.Request) {
	if !h.gate.RemoveFromWhitelist(r.Context(), actor(r), chi.URLParam(r, "operation")) {
		h.WriteAppError(w, internal.ErrRuleNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEvents handles GET /gate/events?limit=&user=&pending=true
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var events []SecurityEvent
	switch {
	case q.Get("pending") == "true":
		events = h.gate.PendingApprovals()
	case q.Get("user") != "":
		events = h.gate.UserActivity(q.Get("user"))
	default:
		events = h.gate.SecurityEvents(transport.QueryInt(r, "limit", 100))
	}
	if events == nil {
		events = []SecurityEvent{}
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.gate.SecurityEvent(chi.URLParam(r, "id"))
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ev)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	ev, err := h.gate.ApproveOperation(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ev)
}

func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	var dto BlockDTO
	if r.ContentLength != 0 {
		if err := h.DecodeJSON(r, &dto); err != nil {
			h.WriteAppError(w, err)
			return
		}
	}
	ev, err := h.gate.BlockOperation(r.Context(), chi.URLParam(r, "id"), actor(r), dto.Reason)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ev)
}

func holds(r *http.Request, perm identity.Permission) bool {
	s, ok := session.FromContext(r.Context())
	return ok && s.Has(perm)
}

func actor(r *http.Request) string {
	if s, ok := session.FromContext(r.Context()); ok {
		return s.Username
	}
	return ""
}
