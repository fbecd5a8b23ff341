package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/frahmantamala/familyguard/internal/audit"
	auditDatamodel "github.com/frahmantamala/familyguard/internal/core/datamodel/audit"
	"github.com/jmoiron/sqlx"
)

// Sink persists audit events into the audit_events table.
type Sink struct {
	db *sqlx.DB
}

func NewSink(db *sqlx.DB) *Sink {
	return &Sink{db: db}
}

func (s *Sink) Write(ctx context.Context, ev *audit.Event) error {
	details := "{}"
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		details = string(b)
	}

	row := auditDatamodel.EventRow{
		ID:        ev.ID,
		Type:      ev.Type,
		UserName:  ev.User,
		Operation: ev.Operation,
		Level:     string(ev.Level),
		Success:   ev.Success,
		Details:   details,
		CreatedAt: ev.Timestamp.UTC(),
	}

	query := `
INSERT INTO audit_events (id, event_type, user_name, operation, level, success, details, created_at)
VALUES (:id, :event_type, :user_name, :operation, :level, :success, :details, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Sink) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM audit_events WHERE created_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	return res.RowsAffected()
}

// Query reads persisted events newest first, optionally for one level.
func (s *Sink) Query(ctx context.Context, level audit.Level, limit int) ([]*audit.Event, error) {
	if limit <= 0 {
		limit = audit.DefaultLimit
	}

	query := `SELECT id, event_type, user_name, operation, level, success, details, created_at FROM audit_events`
	args := []interface{}{}
	if level != "" {
		query += ` WHERE level = ?`
		args = append(args, string(level))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	var rows []auditDatamodel.EventRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}

	out := make([]*audit.Event, 0, len(rows))
	for _, r := range rows {
		ev := &audit.Event{
			ID:        r.ID,
			Type:      r.Type,
			User:      r.UserName,
			Operation: r.Operation,
			Level:     audit.Level(r.Level),
			Success:   r.Success,
			Timestamp: r.CreatedAt,
		}
		if r.Details != "" && r.Details != "{}" {
			if err := json.Unmarshal([]byte(r.Details), &ev.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, nil
}
