package audit

import "time"

// EventRow is the persisted form of an audit event; Details holds JSON.
type EventRow struct {
	ID        string    `db:"id"`
	Type      string    `db:"event_type"`
	UserName  string    `db:"user_name"`
	Operation string    `db:"operation"`
	Level     string    `db:"level"`
	Success   bool      `db:"success"`
	Details   string    `db:"details"`
	CreatedAt time.Time `db:"created_at"`
}
