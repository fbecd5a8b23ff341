package identity

import (
	"time"
)

const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 15 * time.Minute
)

// LockState is the outcome of a lockout check or update.
type LockState struct {
	Locked         bool
	LockedUntil    time.Time
	FailedAttempts int
	// JustLocked is set when this call opened the lock window.
	JustLocked bool
	// Released is set when this call observed an elapsed window and cleared it.
	Released bool
}

// LockoutTracker keeps the failed-attempt counter and lock window on the
// user record. All transitions go through Store.Update so a user never has
// more than one open window.
type LockoutTracker struct {
	store       *Store
	maxAttempts int
	duration    time.Duration
	now         func() time.Time
}

type LockoutOption func(*LockoutTracker)

func WithMaxAttempts(max int) LockoutOption {
	return func(l *LockoutTracker) {
		if max > 0 {
			l.maxAttempts = max
		}
	}
}

func WithLockoutDuration(d time.Duration) LockoutOption {
	return func(l *LockoutTracker) {
		if d > 0 {
			l.duration = d
		}
	}
}

func WithLockoutClock(now func() time.Time) LockoutOption {
	return func(l *LockoutTracker) {
		l.now = now
	}
}

func NewLockoutTracker(store *Store, opts ...LockoutOption) *LockoutTracker {
	l := &LockoutTracker{
		store:       store,
		maxAttempts: DefaultMaxFailedAttempts,
		duration:    DefaultLockoutDuration,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *LockoutTracker) MaxAttempts() int { return l.maxAttempts }

// Observe reports the lock state at now. An elapsed window is cleared here,
// which is the LOCKED -> UNLOCKED transition on timer expiry.
func (l *LockoutTracker) Observe(userID string) (LockState, error) {
	var state LockState
	_, err := l.store.Update(userID, func(u *User) error {
		now := l.now()
		if !u.LockedUntil.IsZero() && !now.Before(u.LockedUntil) {
			u.LockedUntil = time.Time{}
			u.FailedAttempts = 0
			state.Released = true
		}
		state.Locked = u.IsLocked(now)
		state.LockedUntil = u.LockedUntil
		state.FailedAttempts = u.FailedAttempts
		return nil
	})
	return state, err
}

// RecordFailure counts a failed verification and opens the lock window once
// the threshold is reached.
func (l *LockoutTracker) RecordFailure(userID string) (LockState, error) {
	var state LockState
	_, err := l.store.Update(userID, func(u *User) error {
		now := l.now()
		if u.IsLocked(now) {
			state.Locked = true
			state.LockedUntil = u.LockedUntil
			state.FailedAttempts = u.FailedAttempts
			return nil
		}
		u.FailedAttempts++
		if u.FailedAttempts >= l.maxAttempts {
			u.LockedUntil = now.Add(l.duration)
			state.JustLocked = true
		}
		state.Locked = u.IsLocked(now)
		state.LockedUntil = u.LockedUntil
		state.FailedAttempts = u.FailedAttempts
		return nil
	})
	return state, err
}

// Reset clears the counter and any lock; called after a successful login.
func (l *LockoutTracker) Reset(userID string) error {
	_, err := l.store.Update(userID, func(u *User) error {
		u.FailedAttempts = 0
		u.LockedUntil = time.Time{}
		return nil
	})
	return err
}

// Unlock is the administrative release of a lock window.
func (l *LockoutTracker) Unlock(userID string) error {
	return l.Reset(userID)
}

func (l *LockoutTracker) IsLocked(userID string) bool {
	u, err := l.store.Get(userID)
	if err != nil {
		return false
	}
	return u.IsLocked(l.now())
}
