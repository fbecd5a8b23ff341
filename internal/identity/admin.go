package identity

import (
	"context"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/audit"
)

// PasswordSetter is implemented by credential collaborators that can
// provision secrets, such as BcryptVerifier.
type PasswordSetter interface {
	SetPassword(userID, password string) error
}

// Admin is the audited user lifecycle path: provisioning, role changes,
// soft archival and manual unlock.
type Admin struct {
	store    *Store
	lockout  *LockoutTracker
	setter   PasswordSetter
	recorder audit.Recorder
}

func NewAdmin(store *Store, lockout *LockoutTracker, setter PasswordSetter, recorder audit.Recorder) *Admin {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Admin{store: store, lockout: lockout, setter: setter, recorder: recorder}
}

func (a *Admin) CreateUser(ctx context.Context, actor, username string, role Role, password string) (*User, error) {
	u, err := a.store.Create(username, role)
	if err != nil {
		return nil, err
	}
	if password != "" {
		if a.setter == nil {
			return nil, internal.NewInternalError("no credential store configured", nil)
		}
		if err := a.setter.SetPassword(u.ID, password); err != nil {
			return nil, internal.NewInternalError("failed to store credentials", err)
		}
	}
	a.record(ctx, actor, "create_user", map[string]interface{}{"user_id": u.ID, "username": username, "role": role})
	return u, nil
}

func (a *Admin) ChangeRole(ctx context.Context, actor, userID string, role Role) (*User, error) {
	before, err := a.store.Get(userID)
	if err != nil {
		return nil, err
	}
	u, err := a.store.ChangeRole(userID, role)
	if err != nil {
		return nil, err
	}
	a.record(ctx, actor, "change_role", map[string]interface{}{"user_id": userID, "from": before.Role, "to": role})
	return u, nil
}

func (a *Admin) Archive(ctx context.Context, actor, userID string) (*User, error) {
	u, err := a.store.Archive(userID)
	if err != nil {
		return nil, err
	}
	a.record(ctx, actor, "archive_user", map[string]interface{}{"user_id": userID})
	return u, nil
}

func (a *Admin) Unlock(ctx context.Context, actor, userID string) error {
	if err := a.lockout.Unlock(userID); err != nil {
		return err
	}
	a.record(ctx, actor, "unlock_user", map[string]interface{}{"user_id": userID})
	return nil
}

func (a *Admin) record(ctx context.Context, actor, operation string, details map[string]interface{}) {
	a.recorder.Record(ctx, audit.Entry{
		Type:      audit.TypeUserAdmin,
		User:      actor,
		Operation: operation,
		Level:     audit.LevelWarning,
		Success:   true,
		Details:   details,
	})
}
