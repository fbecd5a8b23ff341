package gate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/core/common/validation"
	"github.com/frahmantamala/familyguard/internal/identity"
)

type RiskTier string

const (
	RiskLow      RiskTier = "LOW"
	RiskMedium   RiskTier = "MEDIUM"
	RiskHigh     RiskTier = "HIGH"
	RiskCritical RiskTier = "CRITICAL"
)

var AllRiskTiers = []RiskTier{RiskLow, RiskMedium, RiskHigh, RiskCritical}

func ParseRiskTier(s string) (RiskTier, error) {
	r := RiskTier(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllRiskTiers {
		if r == known {
			return r, nil
		}
	}
	return "", internal.NewValidationFieldError("risk", fmt.Sprintf("unknown risk tier %q", s), internal.ErrCodeInvalidRisk)
}

// OperationRule classifies one operation. RequiredPermission is only
// enforced by the session-mode protector.
type OperationRule struct {
	Operation          string              `json:"operation"`
	Risk               RiskTier            `json:"risk"`
	AutoBlock          bool                `json:"auto_block"`
	RequireApproval    bool                `json:"require_approval"`
	Monitor            bool                `json:"monitor"`
	RequiredPermission identity.Permission `json:"required_permission,omitempty"`
	Description        string              `json:"description,omitempty"`
}

func (r OperationRule) Validate() error {
	if err := validation.ValidateOperationName(r.Operation); err != nil {
		return err
	}
	if _, err := ParseRiskTier(string(r.Risk)); err != nil {
		return err
	}
	if r.RequiredPermission != "" {
		known := false
		for _, p := range identity.AllPermissions {
			if p == r.RequiredPermission {
				known = true
				break
			}
		}
		if !known {
			return internal.NewValidationFieldError("required_permission", fmt.Sprintf("unknown permission %q", r.RequiredPermission), internal.ErrCodeValidationFailed)
		}
	}
	return nil
}

// DefaultRule applies to operations without an explicit rule.
func DefaultRule(operation string) OperationRule {
	return OperationRule{Operation: operation, Risk: RiskMedium, Monitor: true}
}

func DefaultRules() []OperationRule {
	return []OperationRule{
		{Operation: "delete_user", Risk: RiskCritical, RequireApproval: true, Monitor: true, RequiredPermission: identity.PermManageUsers, Description: "Remove a family member account"},
		{Operation: "modify_permissions", Risk: RiskCritical, RequireApproval: true, Monitor: true, RequiredPermission: identity.PermManageUsers, Description: "Change role permissions"},
		{Operation: "system_shutdown", Risk: RiskCritical, RequireApproval: true, Monitor: true, RequiredPermission: identity.PermManageRules, Description: "Stop protection services"},
		{Operation: "disable_security", Risk: RiskCritical, AutoBlock: true, Monitor: true, RequiredPermission: identity.PermManageRules, Description: "Turn off protection features"},
		{Operation: "bulk_delete", Risk: RiskCritical, AutoBlock: true, Monitor: true, RequiredPermission: identity.PermDeleteData, Description: "Delete data in bulk"},
		{Operation: "export_all_data", Risk: RiskHigh, RequireApproval: true, Monitor: true, RequiredPermission: identity.PermExportData, Description: "Export every stored record"},
		{Operation: "incident_response", Risk: RiskHigh, Monitor: true, RequiredPermission: identity.PermIncidentResponse, Description: "Run an incident response playbook"},
		{Operation: "modify_rules", Risk: RiskHigh, Monitor: true, RequiredPermission: identity.PermManageRules, Description: "Change gate rules"},
		{Operation: "quarantine_file", Risk: RiskMedium, Monitor: true, RequiredPermission: identity.PermExecuteScans, Description: "Move a file to quarantine"},
		{Operation: "virus_scan", Risk: RiskLow, RequiredPermission: identity.PermExecuteScans, Description: "Scan files for malware"},
		{Operation: "vpn_connect", Risk: RiskLow, Monitor: true, RequiredPermission: identity.PermManageVPN, Description: "Open a VPN tunnel"},
		{Operation: "vpn_disconnect", Risk: RiskLow, RequiredPermission: identity.PermManageVPN, Description: "Close a VPN tunnel"},
		{Operation: "view_audit_logs", Risk: RiskLow, RequiredPermission: identity.PermViewAudit, Description: "Read the audit trail"},
		{Operation: "read_data", Risk: RiskLow, RequiredPermission: identity.PermReadData, Description: "Read protected data"},
	}
}

// RuleTable holds rules and the explicit operation lists under one lock.
type RuleTable struct {
	mu        sync.RWMutex
	rules     map[string]OperationRule
	blacklist map[string]struct{}
	whitelist map[string]struct{}
}

func NewRuleTable(rules []OperationRule, blacklist, whitelist []string) (*RuleTable, error) {
	t := &RuleTable{
		rules:     make(map[string]OperationRule, len(rules)),
		blacklist: make(map[string]struct{}, len(blacklist)),
		whitelist: make(map[string]struct{}, len(whitelist)),
	}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		t.rules[r.Operation] = r
	}
	for _, op := range blacklist {
		t.blacklist[op] = struct{}{}
	}
	for _, op := range whitelist {
		if _, dup := t.blacklist[op]; dup {
			return nil, internal.NewValidationError(fmt.Sprintf("operation %q cannot be both blacklisted and whitelisted", op), internal.ErrCodeValidationFailed)
		}
		t.whitelist[op] = struct{}{}
	}
	return t, nil
}

// Lookup returns the rule for operation, or the MEDIUM/monitor default.
func (t *RuleTable) Lookup(operation string) (OperationRule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rules[operation]
	if !ok {
		return DefaultRule(operation), false
	}
	return r, true
}

func (t *RuleTable) Set(rule OperationRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules[rule.Operation] = rule
	return nil
}

func (t *RuleTable) Remove(operation string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rules[operation]; !ok {
		return internal.ErrRuleNotFound
	}
	delete(t.rules, operation)
	return nil
}

func (t *RuleTable) Rules() []OperationRule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]OperationRule, 0, len(t.rules))
	for _, r := range t.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

func (t *RuleTable) IsBlacklisted(operation string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.blacklist[operation]
	return ok
}

func (t *RuleTable) IsWhitelisted(operation string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.whitelist[operation]
	return ok
}

// AddToBlacklist also drops the operation from the whitelist.
func (t *RuleTable) AddToBlacklist(operation string) error {
	if err := validation.ValidateOperationName(operation); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.whitelist, operation)
	t.blacklist[operation] = struct{}{}
	return nil
}

func (t *RuleTable) RemoveFromBlacklist(operation string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.blacklist[operation]
	delete(t.blacklist, operation)
	return ok
}

// AddToWhitelist refuses blacklisted operations; the blacklist always wins.
func (t *RuleTable) AddToWhitelist(operation string) error {
	if err := validation.ValidateOperationName(operation); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.blacklist[operation]; ok {
		return internal.NewConflictError(fmt.Sprintf("operation %s is blacklisted", operation), internal.ErrCodeOperationBlacklisted)
	}
	t.whitelist[operation] = struct{}{}
	return nil
}

func (t *RuleTable) RemoveFromWhitelist(operation string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.whitelist[operation]
	delete(t.whitelist, operation)
	return ok
}

func (t *RuleTable) Blacklist() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.blacklist)
}

func (t *RuleTable) Whitelist() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.whitelist)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type ruleTableState struct {
	Rules     []OperationRule `json:"rules"`
	Blacklist []string        `json:"blacklist"`
	Whitelist []string        `json:"whitelist"`
}

func (t *RuleTable) SnapshotKey() string { return "gate.rules" }

func (t *RuleTable) Export() (json.RawMessage, error) {
	return json.Marshal(ruleTableState{
		Rules:     t.Rules(),
		Blacklist: t.Blacklist(),
		Whitelist: t.Whitelist(),
	})
}

func (t *RuleTable) Import(data json.RawMessage) error {
	var state ruleTableState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode rule table: %w", err)
	}
	restored, err := NewRuleTable(state.Rules, state.Blacklist, state.Whitelist)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules = restored.rules
	t.blacklist = restored.blacklist
	t.whitelist = restored.whitelist
	return nil
}
