package identity

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/core/common/validation"
	"github.com/google/uuid"
)

// Store holds users in memory, indexed by id and username. Users are never
// deleted; Archive retires them.
type Store struct {
	mu          sync.RWMutex
	users       map[string]*User
	usersByName map[string]*User
	roles       *RoleTable
	now         func() time.Time
}

type StoreOption func(*Store)

func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(roles *RoleTable, opts ...StoreOption) *Store {
	s := &Store{
		users:       make(map[string]*User),
		usersByName: make(map[string]*User),
		roles:       roles,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Roles() *RoleTable {
	return s.roles
}

// Create provisions a new active user.
func (s *Store) Create(username string, role Role) (*User, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, err
	}
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByName[username]; exists {
		return nil, internal.NewConflictError(fmt.Sprintf("user %q already exists", username), internal.ErrCodeUserExists)
	}

	now := s.now()
	u := &User{
		ID:        uuid.New().String(),
		Username:  username,
		Role:      role,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[u.ID] = u
	s.usersByName[u.Username] = u
	return u.clone(), nil
}

func (s *Store) Get(id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.users[id]
	if !exists {
		return nil, internal.ErrUserNotFound
	}
	return u.clone(), nil
}

func (s *Store) GetByUsername(username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.usersByName[username]
	if !exists {
		return nil, internal.ErrUserNotFound
	}
	return u.clone(), nil
}

func (s *Store) List() []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Update applies fn to the stored user under the write lock, so
// read-modify-write sequences such as lockout counting are atomic.
func (s *Store) Update(id string, fn func(u *User) error) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.users[id]
	if !exists {
		return nil, internal.ErrUserNotFound
	}
	working := u.clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.UpdatedAt = s.now()
	*u = *working
	return u.clone(), nil
}

func (s *Store) ChangeRole(id string, role Role) (*User, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}
	return s.Update(id, func(u *User) error {
		u.Role = role
		return nil
	})
}

func (s *Store) Archive(id string) (*User, error) {
	return s.Update(id, func(u *User) error {
		u.Archived = true
		u.Active = false
		return nil
	})
}

func (s *Store) Permissions(u *User) PermissionSet {
	return s.roles.Permissions(u.Role)
}

func (s *Store) SnapshotKey() string { return "identity.users" }

func (s *Store) Export() (json.RawMessage, error) {
	return json.Marshal(s.List())
}

func (s *Store) Import(data json.RawMessage) error {
	var users []*User
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("decode users: %w", err)
	}

	byID := make(map[string]*User, len(users))
	byName := make(map[string]*User, len(users))
	for _, u := range users {
		if u.ID == "" || u.Username == "" {
			return fmt.Errorf("decode users: user without id or username")
		}
		if _, dup := byName[u.Username]; dup {
			return fmt.Errorf("decode users: duplicate username %q", u.Username)
		}
		byID[u.ID] = u
		byName[u.Username] = u
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = byID
	s.usersByName = byName
	return nil
}
