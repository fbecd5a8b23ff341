package identity

import "time"

type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Role           Role      `json:"role"`
	Active         bool      `json:"active"`
	Archived       bool      `json:"archived"`
	FailedAttempts int       `json:"failed_attempts"`
	LockedUntil    time.Time `json:"locked_until,omitempty"`
	LastLogin      time.Time `json:"last_login,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsLocked reports whether a lock window is open at now.
func (u *User) IsLocked(now time.Time) bool {
	return !u.LockedUntil.IsZero() && now.Before(u.LockedUntil)
}

func (u *User) clone() *User {
	c := *u
	return &c
}

// UserView is the public projection of a user, with permissions resolved.
type UserView struct {
	ID          string       `json:"id"`
	Username    string       `json:"username"`
	Role        Role         `json:"role"`
	Active      bool         `json:"active"`
	Permissions []Permission `json:"permissions"`
	LastLogin   *time.Time   `json:"last_login,omitempty"`
}

func (u *User) ToView(perms PermissionSet) UserView {
	v := UserView{
		ID:          u.ID,
		Username:    u.Username,
		Role:        u.Role,
		Active:      u.Active,
		Permissions: perms.Slice(),
	}
	if !u.LastLogin.IsZero() {
		last := u.LastLogin
		v.LastLogin = &last
	}
	return v
}
