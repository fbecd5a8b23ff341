package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	pipeline *Pipeline
}

func NewHandler(pipeline *Pipeline, lg *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		pipeline:    pipeline,
	}
}

// ListEvents handles GET /audit/events?user=&operation=&type=&level=&limit=
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filter{
		User:      q.Get("user"),
		Operation: q.Get("operation"),
		Type:      q.Get("type"),
		Limit:     transport.QueryInt(r, "limit", DefaultLimit),
	}
	if raw := q.Get("level"); raw != "" {
		level, err := ParseLevel(raw)
		if err != nil {
			h.WriteAppError(w, err)
			return
		}
		f.Level = level
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": h.pipeline.Events(r.Context(), f),
	})
}

// Report handles GET /audit/report?start=RFC3339&end=RFC3339. A missing end
// means now; a missing start means 24 hours before end.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	end := time.Now()
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.WriteAppError(w, internal.NewValidationFieldError("end", "end must be RFC3339", internal.ErrCodeInvalidRange))
			return
		}
		end = t
	}
	start := end.Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.WriteAppError(w, internal.NewValidationFieldError("start", "start must be RFC3339", internal.ErrCodeInvalidRange))
			return
		}
		start = t
	}

	report, err := h.pipeline.Report(r.Context(), start, end)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, h.pipeline.Stats())
}
