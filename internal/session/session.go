package session

import (
	"time"

	"github.com/frahmantamala/familyguard/internal/identity"
)

type State string

const (
	StateCreated     State = "CREATED"
	StateActive      State = "ACTIVE"
	StateExpired     State = "EXPIRED"
	StateInvalidated State = "INVALIDATED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateExpired || s == StateInvalidated
}

// Session carries a permission snapshot taken at creation. The snapshot is
// never refreshed from the role table.
type Session struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	Username     string                 `json:"username"`
	Role         identity.Role          `json:"role"`
	Permissions  identity.PermissionSet `json:"permissions"`
	CreatedAt    time.Time              `json:"created_at"`
	LastActivity time.Time              `json:"last_activity"`
	SourceIP     string                 `json:"source_ip"`
	Active       bool                   `json:"active"`
	State        State                  `json:"state"`
}

func (s *Session) Has(p identity.Permission) bool {
	return s.Permissions.Has(p)
}

func (s *Session) clone() *Session {
	c := *s
	c.Permissions = s.Permissions.Clone()
	return &c
}

// View is the public projection; it never includes the token itself.
type View struct {
	UserID       string                `json:"user_id"`
	Username     string                `json:"username"`
	Role         identity.Role         `json:"role"`
	Permissions  []identity.Permission `json:"permissions"`
	CreatedAt    time.Time             `json:"created_at"`
	LastActivity time.Time             `json:"last_activity"`
	SourceIP     string                `json:"source_ip"`
	State        State                 `json:"state"`
}

func (s *Session) ToView() View {
	return View{
		UserID:       s.UserID,
		Username:     s.Username,
		Role:         s.Role,
		Permissions:  s.Permissions.Slice(),
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		SourceIP:     s.SourceIP,
		State:        s.State,
	}
}
