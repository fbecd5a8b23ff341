package identity

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/frahmantamala/familyguard/internal"
)

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleParent  Role = "PARENT"
	RoleAnalyst Role = "ANALYST"
	RoleMonitor Role = "MONITOR"
	RoleGuest   Role = "GUEST"
)

var AllRoles = []Role{RoleAdmin, RoleParent, RoleAnalyst, RoleMonitor, RoleGuest}

func ParseRole(s string) (Role, error) {
	for _, r := range AllRoles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", internal.NewValidationError(fmt.Sprintf("unknown role %q", s), internal.ErrCodeInvalidRole)
}

type Permission string

const (
	PermReadData          Permission = "READ_DATA"
	PermWriteData         Permission = "WRITE_DATA"
	PermDeleteData        Permission = "DELETE_DATA"
	PermManageUsers       Permission = "MANAGE_USERS"
	PermManageRules       Permission = "MANAGE_RULES"
	PermApproveOperations Permission = "APPROVE_OPERATIONS"
	PermViewAudit         Permission = "VIEW_AUDIT"
	PermExportData        Permission = "EXPORT_DATA"
	PermExecuteScans      Permission = "EXECUTE_SCANS"
	PermManageVPN         Permission = "MANAGE_VPN"
	PermIncidentResponse  Permission = "INCIDENT_RESPONSE"
)

var AllPermissions = []Permission{
	PermReadData, PermWriteData, PermDeleteData, PermManageUsers, PermManageRules,
	PermApproveOperations, PermViewAudit, PermExportData, PermExecuteScans,
	PermManageVPN, PermIncidentResponse,
}

// PermissionSet is a set of capability flags. It marshals as a sorted list.
type PermissionSet map[Permission]struct{}

func NewPermissionSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var perms []Permission
	if err := json.Unmarshal(data, &perms); err != nil {
		return err
	}
	*s = NewPermissionSet(perms...)
	return nil
}

func defaultRolePermissions() map[Role]PermissionSet {
	return map[Role]PermissionSet{
		RoleAdmin: NewPermissionSet(AllPermissions...),
		RoleParent: NewPermissionSet(
			PermReadData, PermWriteData, PermApproveOperations, PermViewAudit,
			PermExecuteScans, PermManageVPN,
		),
		RoleAnalyst: NewPermissionSet(
			PermReadData, PermWriteData, PermViewAudit, PermExportData,
			PermExecuteScans, PermIncidentResponse,
		),
		RoleMonitor: NewPermissionSet(PermReadData, PermViewAudit),
		RoleGuest:   NewPermissionSet(PermReadData),
	}
}

// RoleTable maps each role to its permission set. Lookups hand out copies so
// a caller can never mutate the table through a returned set.
type RoleTable struct {
	mu    sync.RWMutex
	roles map[Role]PermissionSet
}

func NewRoleTable() *RoleTable {
	return &RoleTable{roles: defaultRolePermissions()}
}

func (t *RoleTable) Permissions(role Role) PermissionSet {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roles[role].Clone()
}

func (t *RoleTable) HasPermission(role Role, p Permission) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roles[role].Has(p)
}

// SetRolePermissions is the administrative update path for the table.
// Sessions issued earlier keep their own snapshot.
func (t *RoleTable) SetRolePermissions(role Role, perms ...Permission) error {
	if _, err := ParseRole(string(role)); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roles[role] = NewPermissionSet(perms...)
	return nil
}

func (t *RoleTable) SnapshotKey() string { return "identity.roles" }

func (t *RoleTable) Export() (json.RawMessage, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return json.Marshal(t.roles)
}

func (t *RoleTable) Import(data json.RawMessage) error {
	var roles map[Role]PermissionSet
	if err := json.Unmarshal(data, &roles); err != nil {
		return fmt.Errorf("decode role table: %w", err)
	}
	for role := range roles {
		if _, err := ParseRole(string(role)); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roles = roles
	return nil
}
