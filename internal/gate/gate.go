package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/audit"
	"github.com/frahmantamala/familyguard/internal/core/common/ringbuffer"
	"github.com/frahmantamala/familyguard/internal/core/common/validation"
	"github.com/frahmantamala/familyguard/internal/metrics"
)

const (
	DefaultMaxOperationsPerMinute = 60
	DefaultOperationTimeout       = 30 * time.Second
	DefaultMaxSecurityEvents      = 10000
	DefaultMaxUserHistory         = 100
)

// Operation is the unit of work the gate protects. It must honour ctx
// cancellation; the gate stops waiting at the timeout either way.
type Operation func(ctx context.Context, params map[string]any) (any, error)

type Decision struct {
	Allowed bool     `json:"allowed"`
	Message string   `json:"message"`
	Risk    RiskTier `json:"risk"`
	Err     error    `json:"-"`
	EventID string   `json:"event_id"`

	pendingApproval bool
	usesGrant       bool
}

type Result struct {
	Success bool   `json:"success"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
	EventID string `json:"event_id"`
}

const (
	KindValidation = "validation"
	KindExecution  = "execution"
)

// SecurityEvent is immutable once recorded. Review replaces the stored
// value with a reviewed copy.
type SecurityEvent struct {
	ID              string     `json:"id"`
	Operation       string     `json:"operation"`
	User            string     `json:"user"`
	Risk            RiskTier   `json:"risk"`
	Approved        bool       `json:"approved"`
	Blocked         bool       `json:"blocked"`
	PendingApproval bool       `json:"pending_approval"`
	Reason          string     `json:"reason"`
	Kind            string     `json:"kind"`
	Timestamp       time.Time  `json:"timestamp"`
	ReviewedBy      string     `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
}

func (e SecurityEvent) Reviewed() bool { return e.ReviewedBy != "" }

type Policy struct {
	RequireApprovalForCritical bool
	AutoBlockHighRisk          bool
	OperationTimeout           time.Duration
}

type grantKey struct {
	operation string
	user      string
}

// Gate decides and records every operation attempt. The rule table and the
// limiter lock themselves; mu guards the event ring, histories and grants.
type Gate struct {
	rules    *RuleTable
	limiter  *SlidingWindowLimiter
	policy   Policy
	recorder audit.Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	events     *ringbuffer.Ring[SecurityEvent]
	history    map[string]*ringbuffer.Ring[SecurityEvent]
	historyCap int
	grants     map[grantKey]int
}

type Option func(*gateOptions)

type gateOptions struct {
	maxPerMinute int
	maxEvents    int
	historyCap   int
	policy       Policy
	recorder     audit.Recorder
	now          func() time.Time
}

func WithMaxOperationsPerMinute(n int) Option {
	return func(o *gateOptions) {
		if n > 0 {
			o.maxPerMinute = n
		}
	}
}

func WithMaxSecurityEvents(n int) Option {
	return func(o *gateOptions) {
		if n > 0 {
			o.maxEvents = n
		}
	}
}

func WithMaxUserHistory(n int) Option {
	return func(o *gateOptions) {
		if n > 0 {
			o.historyCap = n
		}
	}
}

func WithPolicy(p Policy) Option {
	return func(o *gateOptions) {
		if p.OperationTimeout <= 0 {
			p.OperationTimeout = DefaultOperationTimeout
		}
		o.policy = p
	}
}

func WithRecorder(recorder audit.Recorder) Option {
	return func(o *gateOptions) {
		if recorder != nil {
			o.recorder = recorder
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *gateOptions) {
		o.now = now
	}
}

func New(rules *RuleTable, logger *slog.Logger, opts ...Option) *Gate {
	o := gateOptions{
		maxPerMinute: DefaultMaxOperationsPerMinute,
		maxEvents:    DefaultMaxSecurityEvents,
		historyCap:   DefaultMaxUserHistory,
		policy: Policy{
			RequireApprovalForCritical: true,
			AutoBlockHighRisk:          true,
			OperationTimeout:           DefaultOperationTimeout,
		},
		recorder: audit.NopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Gate{
		rules:      rules,
		limiter:    NewSlidingWindowLimiter(o.maxPerMinute, DefaultWindow, o.now),
		policy:     o.policy,
		recorder:   o.recorder,
		logger:     logger,
		now:        o.now,
		events:     ringbuffer.New[SecurityEvent](o.maxEvents),
		history:    make(map[string]*ringbuffer.Ring[SecurityEvent]),
		historyCap: o.historyCap,
		grants:     make(map[grantKey]int),
	}
}

func (g *Gate) RuleTable() *RuleTable { return g.rules }

func (g *Gate) Limiter() *SlidingWindowLimiter { return g.limiter }

// evaluate applies the precedence chain. With consume set, the limiter
// records a hit; otherwise it only peeks.
func (g *Gate) evaluate(operation, user string, consume bool) Decision {
	if err := validation.ValidateOperationName(operation); err != nil {
		return Decision{Message: "invalid operation name", Risk: RiskMedium, Err: err}
	}
	if err := validation.ValidateUsername(user); err != nil {
		return Decision{Message: "invalid user", Risk: RiskMedium, Err: err}
	}

	if g.rules.IsBlacklisted(operation) {
		msg := fmt.Sprintf("operation %s is blacklisted", operation)
		return Decision{Message: msg, Risk: RiskCritical, Err: internal.NewOperationBlockedError(msg, internal.ErrCodeOperationBlacklisted)}
	}
	if g.rules.IsWhitelisted(operation) {
		return Decision{Allowed: true, Message: "operation whitelisted", Risk: RiskLow}
	}

	var underLimit bool
	if consume {
		underLimit = g.limiter.Allow(user)
	} else {
		underLimit = g.limiter.Peek(user)
	}
	if !underLimit {
		metrics.RateLimitHits.Inc()
		msg := fmt.Sprintf("rate limit exceeded: %d operations per minute", g.limiter.Limit())
		return Decision{Message: msg, Risk: RiskHigh, Err: internal.NewRateLimitError(msg)}
	}

	rule, _ := g.rules.Lookup(operation)
	d := Decision{Allowed: true, Message: "operation allowed", Risk: rule.Risk}

	if rule.RequireApproval && g.policy.RequireApprovalForCritical {
		if !g.hasGrant(operation, user) {
			msg := fmt.Sprintf("operation %s requires approval", operation)
			return Decision{Message: msg, Risk: rule.Risk, Err: internal.NewOperationBlockedError(msg, internal.ErrCodeApprovalRequired), pendingApproval: true}
		}
		d.Message = "operation allowed by approval"
		d.usesGrant = true
	}

	if rule.AutoBlock && g.policy.AutoBlockHighRisk {
		msg := fmt.Sprintf("operation %s is automatically blocked (risk %s)", operation, rule.Risk)
		return Decision{Message: msg, Risk: rule.Risk, Err: internal.NewOperationBlockedError(msg, internal.ErrCodeAutoBlocked)}
	}
	return d
}

// ValidateOperation is a dry run: it records the decision but consumes
// neither a rate-limit slot nor an approval grant.
func (g *Gate) ValidateOperation(ctx context.Context, operation, user string, params map[string]any) Decision {
	d := g.evaluate(operation, user, false)

	ev := g.record(operation, user, KindValidation, d.Risk, d.Allowed, !d.Allowed, d.pendingApproval, d.Message)
	d.EventID = ev.ID

	level := audit.LevelInfo
	if !d.Allowed {
		level = audit.LevelError
	}
	g.recorder.Record(ctx, audit.Entry{
		Type:      audit.TypeValidation,
		User:      user,
		Operation: operation,
		Level:     level,
		Success:   d.Allowed,
		Details:   g.details(ev, d.Message, params),
	})
	metrics.GateDecisions.WithLabelValues(outcome(d.Allowed), string(d.Risk)).Inc()
	return d
}

// ExecuteWithProtection validates the attempt and runs fn when allowed.
// Every call yields one security event and one audit event.
func (g *Gate) ExecuteWithProtection(ctx context.Context, operation, user string, params map[string]any, fn Operation) Result {
	var d Decision
	if fn == nil {
		d = Decision{Message: "operation function is required", Risk: RiskMedium, Err: internal.NewValidationError("operation function is required", internal.ErrCodeValidationFailed)}
	} else {
		d = g.evaluate(operation, user, true)
	}
	if d.Allowed && d.usesGrant && !g.consumeGrant(operation, user) {
		msg := fmt.Sprintf("operation %s requires approval", operation)
		d = Decision{Message: msg, Risk: d.Risk, Err: internal.NewOperationBlockedError(msg, internal.ErrCodeApprovalRequired), pendingApproval: true}
	}
	metrics.GateDecisions.WithLabelValues(outcome(d.Allowed), string(d.Risk)).Inc()

	if !d.Allowed {
		ev := g.record(operation, user, KindExecution, d.Risk, false, true, d.pendingApproval, d.Message)
		g.recorder.Record(ctx, audit.Entry{
			Type:      audit.TypeOperation,
			User:      user,
			Operation: operation,
			Level:     audit.LevelError,
			Success:   false,
			Details:   g.details(ev, d.Message, params),
		})
		metrics.GateExecutions.WithLabelValues("blocked").Inc()
		return Result{Message: d.Message, Err: d.Err, EventID: ev.ID}
	}

	started := g.now()
	value, err := g.run(ctx, operation, fn, params)
	elapsed := g.now().Sub(started)
	metrics.GateExecutionDuration.Observe(elapsed.Seconds())

	if err != nil {
		msg := err.Error()
		ev := g.record(operation, user, KindExecution, d.Risk, true, false, false, msg)
		details := g.details(ev, msg, params)
		details["duration_ms"] = elapsed.Milliseconds()
		g.recorder.Record(ctx, audit.Entry{
			Type:      audit.TypeOperation,
			User:      user,
			Operation: operation,
			Level:     audit.LevelError,
			Success:   false,
			Details:   details,
		})
		metrics.GateExecutions.WithLabelValues("error").Inc()
		g.logger.Warn("protected operation failed", "operation", operation, "user", user, "error", err)
		return Result{Message: msg, Err: err, EventID: ev.ID}
	}

	ev := g.record(operation, user, KindExecution, d.Risk, true, false, false, d.Message)
	details := g.details(ev, d.Message, params)
	details["duration_ms"] = elapsed.Milliseconds()
	g.recorder.Record(ctx, audit.Entry{
		Type:      audit.TypeOperation,
		User:      user,
		Operation: operation,
		Level:     audit.LevelInfo,
		Success:   true,
		Details:   details,
	})
	metrics.GateExecutions.WithLabelValues("success").Inc()
	return Result{Success: true, Value: value, Message: "operation completed", EventID: ev.ID}
}

// Deny records an attempt refused before the gate could evaluate it, such
// as an invalid session. It leaves one blocked security event and one ERROR
// audit event, like any other denial.
func (g *Gate) Deny(ctx context.Context, kind, operation, user string, params map[string]any, cause error) Decision {
	rule, _ := g.rules.Lookup(operation)
	msg := "operation denied"
	if cause != nil {
		msg = cause.Error()
	}

	ev := g.record(operation, user, kind, rule.Risk, false, true, false, msg)
	auditType := audit.TypeOperation
	if kind == KindValidation {
		auditType = audit.TypeValidation
	}
	details := g.details(ev, msg, params)
	details["kind"] = string(internal.KindOf(cause))
	g.recorder.Record(ctx, audit.Entry{
		Type:      auditType,
		User:      user,
		Operation: operation,
		Level:     audit.LevelError,
		Success:   false,
		Details:   details,
	})
	metrics.GateDecisions.WithLabelValues(outcome(false), string(rule.Risk)).Inc()
	if kind == KindExecution {
		metrics.GateExecutions.WithLabelValues("blocked").Inc()
	}
	return Decision{Message: msg, Risk: rule.Risk, Err: cause, EventID: ev.ID}
}

type runOutcome struct {
	value any
	err   error
}

// run executes fn under the operation timeout. Errors, panics and the
// timeout all come back as execution errors.
func (g *Gate) run(ctx context.Context, operation string, fn Operation, params map[string]any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, g.policy.OperationTimeout)
	defer cancel()

	done := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runOutcome{err: internal.NewExecutionError(fmt.Sprintf("operation %s panicked: %v", operation, r), internal.ErrCodeExecutionPanic, nil)}
			}
		}()
		v, err := fn(ctx, copyParams(params))
		done <- runOutcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil {
			return out.value, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, g.timeoutError(operation, ctx.Err())
		}
		if internal.KindOf(out.err) == internal.ErrorTypeExecution {
			return nil, out.err
		}
		return nil, internal.NewExecutionError(fmt.Sprintf("operation %s failed: %v", operation, out.err), internal.ErrCodeExecutionFailed, out.err)
	case <-ctx.Done():
		return nil, g.timeoutError(operation, ctx.Err())
	}
}

func (g *Gate) timeoutError(operation string, cause error) error {
	if errors.Is(cause, context.Canceled) {
		return internal.NewExecutionError(fmt.Sprintf("operation %s was cancelled", operation), internal.ErrCodeExecutionFailed, cause)
	}
	return internal.NewExecutionError(fmt.Sprintf("operation %s timed out after %s", operation, g.policy.OperationTimeout), internal.ErrCodeExecutionTimeout, cause)
}

func (g *Gate) record(operation, user, kind string, risk RiskTier, approved, blocked, pending bool, reason string) SecurityEvent {
	ev := SecurityEvent{
		ID:              uuid.NewString(),
		Operation:       operation,
		User:            user,
		Risk:            risk,
		Approved:        approved,
		Blocked:         blocked,
		PendingApproval: pending,
		Reason:          reason,
		Kind:            kind,
		Timestamp:       g.now(),
	}

	g.mu.Lock()
	g.events.Push(ev)
	if user != "" {
		g.userHistory(user).Push(ev)
	}
	g.mu.Unlock()
	return ev
}

// userHistory must be called with mu held.
func (g *Gate) userHistory(user string) *ringbuffer.Ring[SecurityEvent] {
	h, ok := g.history[user]
	if !ok {
		h = ringbuffer.New[SecurityEvent](g.historyCap)
		g.history[user] = h
	}
	return h
}

func (g *Gate) details(ev SecurityEvent, message string, params map[string]any) map[string]interface{} {
	d := map[string]interface{}{
		"security_event_id": ev.ID,
		"risk":              string(ev.Risk),
		"message":           message,
	}
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d["param_keys"] = keys
	}
	return d
}

func (g *Gate) hasGrant(operation, user string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.grants[grantKey{operation, user}] > 0
}

func (g *Gate) consumeGrant(operation, user string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := grantKey{operation, user}
	if g.grants[k] == 0 {
		return false
	}
	g.grants[k]--
	if g.grants[k] == 0 {
		delete(g.grants, k)
	}
	return true
}

// PendingGrants reports how many approved executions remain for user.
func (g *Gate) PendingGrants(operation, user string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.grants[grantKey{operation, user}]
}

// review swaps the stored event for a reviewed copy in the main ring and
// the user's history.
func (g *Gate) review(eventID string, apply func(*SecurityEvent) error) (SecurityEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := g.events.Len() - 1; i >= 0; i-- {
		ev := g.events.At(i)
		if ev.ID != eventID {
			continue
		}
		if ev.Reviewed() {
			return SecurityEvent{}, internal.NewConflictError(fmt.Sprintf("security event %s was already reviewed by %s", eventID, ev.ReviewedBy), internal.ErrCodeEventReviewed)
		}
		updated := ev
		if err := apply(&updated); err != nil {
			return SecurityEvent{}, err
		}
		g.events.Set(i, updated)
		if h, ok := g.history[ev.User]; ok {
			for j := 0; j < h.Len(); j++ {
				if h.At(j).ID == eventID {
					h.Set(j, updated)
					break
				}
			}
		}
		return updated, nil
	}
	return SecurityEvent{}, internal.ErrEventNotFound
}

// ApproveOperation marks an event approved. An event that was pending
// approval grants its user one future execution of the operation. Users
// cannot approve their own events.
func (g *Gate) ApproveOperation(ctx context.Context, eventID, approver string) (SecurityEvent, error) {
	if approver == "" {
		return SecurityEvent{}, internal.NewValidationError("approver is required", internal.ErrCodeValidationFailed)
	}

	ev, err := g.review(eventID, func(ev *SecurityEvent) error {
		if ev.User == approver {
			return internal.NewPermissionDeniedError(fmt.Sprintf("%s cannot approve their own %s request", approver, ev.Operation), internal.ErrCodeSelfApproval)
		}
		if g.rules.IsBlacklisted(ev.Operation) {
			return internal.NewOperationBlockedError(fmt.Sprintf("operation %s is blacklisted and cannot be approved", ev.Operation), internal.ErrCodeOperationBlacklisted)
		}
		now := g.now()
		ev.Approved = true
		ev.Blocked = false
		ev.ReviewedBy = approver
		ev.ReviewedAt = &now
		if ev.PendingApproval {
			g.grants[grantKey{ev.Operation, ev.User}]++
		}
		return nil
	})
	if err != nil {
		return SecurityEvent{}, err
	}

	g.recorder.Record(ctx, audit.Entry{
		Type:      audit.TypeApproval,
		User:      approver,
		Operation: "approve_operation",
		Level:     audit.LevelWarning,
		Success:   true,
		Details: map[string]interface{}{
			"security_event_id": ev.ID,
			"target_operation":  ev.Operation,
			"target_user":       ev.User,
			"granted":           ev.PendingApproval,
		},
	})
	g.logger.Info("operation approved", "event_id", ev.ID, "operation", ev.Operation, "user", ev.User, "approver", approver)
	return ev, nil
}

// BlockOperation marks an event blocked and revokes outstanding grants for
// the same operation and user.
func (g *Gate) BlockOperation(ctx context.Context, eventID, blocker, reason string) (SecurityEvent, error) {
	if blocker == "" {
		return SecurityEvent{}, internal.NewValidationError("blocker is required", internal.ErrCodeValidationFailed)
	}

	ev, err := g.review(eventID, func(ev *SecurityEvent) error {
		now := g.now()
		ev.Approved = false
		ev.Blocked = true
		if reason != "" {
			ev.Reason = reason
		}
		ev.ReviewedBy = blocker
		ev.ReviewedAt = &now
		delete(g.grants, grantKey{ev.Operation, ev.User})
		return nil
	})
	if err != nil {
		return SecurityEvent{}, err
	}

	g.recorder.Record(ctx, audit.Entry{
		Type:      audit.TypeApproval,
		User:      blocker,
		Operation: "block_operation",
		Level:     audit.LevelSecurity,
		Success:   true,
		Details: map[string]interface{}{
			"security_event_id": ev.ID,
			"target_operation":  ev.Operation,
			"target_user":       ev.User,
			"reason":            ev.Reason,
		},
	})
	g.logger.Warn("operation blocked by reviewer", "event_id", ev.ID, "operation", ev.Operation, "user", ev.User, "blocker", blocker)
	return ev, nil
}

func (g *Gate) AddRule(ctx context.Context, actor string, rule OperationRule) error {
	if err := g.rules.Set(rule); err != nil {
		return err
	}
	g.auditRuleChange(ctx, actor, "add_security_rule", map[string]interface{}{
		"target_operation": rule.Operation,
		"risk":             string(rule.Risk),
		"auto_block":       rule.AutoBlock,
		"require_approval": rule.RequireApproval,
	})
	return nil
}

func (g *Gate) RemoveRule(ctx context.Context, actor, operation string) error {
	if err := g.rules.Remove(operation); err != nil {
		return err
	}
	g.auditRuleChange(ctx, actor, "remove_security_rule", map[string]interface{}{"target_operation": operation})
	return nil
}

func (g *Gate) AddToBlacklist(ctx context.Context, actor, operation string) error {
	if err := g.rules.AddToBlacklist(operation); err != nil {
		return err
	}
	g.auditRuleChange(ctx, actor, "blacklist_add", map[string]interface{}{"target_operation": operation})
	return nil
}

func (g *Gate) RemoveFromBlacklist(ctx context.Context, actor, operation string) bool {
	removed := g.rules.RemoveFromBlacklist(operation)
	if removed {
		g.auditRuleChange(ctx, actor, "blacklist_remove", map[string]interface{}{"target_operation": operation})
	}
	return removed
}

func (g *Gate) AddToWhitelist(ctx context.Context, actor, operation string) error {
	if err := g.rules.AddToWhitelist(operation); err != nil {
		return err
	}
	g.auditRuleChange(ctx, actor, "whitelist_add", map[string]interface{}{"target_operation": operation})
	return nil
}

func (g *Gate) RemoveFromWhitelist(ctx context.Context, actor, operation string) bool {
	removed := g.rules.RemoveFromWhitelist(operation)
	if removed {
		g.auditRuleChange(ctx, actor, "whitelist_remove", map[string]interface{}{"target_operation": operation})
	}
	return removed
}

func (g *Gate) auditRuleChange(ctx context.Context, actor, action string, details map[string]interface{}) {
	g.recorder.Record(ctx, audit.Entry{
		Type:      audit.TypeRuleChange,
		User:      actor,
		Operation: action,
		Level:     audit.LevelWarning,
		Success:   true,
		Details:   details,
	})
	g.logger.Info("gate rules changed", "action", action, "actor", actor)
}

func (g *Gate) Rules() []OperationRule { return g.rules.Rules() }

// SecurityEvents returns up to limit events, newest first. A non-positive
// limit returns everything.
func (g *Gate) SecurityEvents(limit int) []SecurityEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]SecurityEvent, 0, min(g.events.Len(), max(limit, 0)))
	g.events.Newest(func(ev SecurityEvent) bool {
		out = append(out, ev)
		return limit <= 0 || len(out) < limit
	})
	return out
}

// PendingApprovals lists unreviewed events that are waiting for approval.
func (g *Gate) PendingApprovals() []SecurityEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []SecurityEvent
	g.events.Newest(func(ev SecurityEvent) bool {
		if ev.PendingApproval && !ev.Reviewed() {
			out = append(out, ev)
		}
		return true
	})
	return out
}

func (g *Gate) SecurityEvent(id string) (SecurityEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var found *SecurityEvent
	g.events.Newest(func(ev SecurityEvent) bool {
		if ev.ID == id {
			found = &ev
			return false
		}
		return true
	})
	if found == nil {
		return SecurityEvent{}, internal.ErrEventNotFound
	}
	return *found, nil
}

// UserActivity returns the user's recent events, newest first.
func (g *Gate) UserActivity(user string) []SecurityEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.history[user]
	if !ok {
		return []SecurityEvent{}
	}
	out := make([]SecurityEvent, 0, h.Len())
	h.Newest(func(ev SecurityEvent) bool {
		out = append(out, ev)
		return true
	})
	return out
}

func (g *Gate) SnapshotKey() string { return "gate.security_events" }

type gateState struct {
	Events []SecurityEvent `json:"events"`
	Grants []grantState    `json:"grants,omitempty"`
}

type grantState struct {
	Operation string `json:"operation"`
	User      string `json:"user"`
	Remaining int    `json:"remaining"`
}

func (g *Gate) Export() (json.RawMessage, error) {
	g.mu.Lock()
	state := gateState{Events: g.events.Slice()}
	for k, n := range g.grants {
		state.Grants = append(state.Grants, grantState{Operation: k.operation, User: k.user, Remaining: n})
	}
	g.mu.Unlock()

	sort.Slice(state.Grants, func(i, j int) bool {
		if state.Grants[i].Operation != state.Grants[j].Operation {
			return state.Grants[i].Operation < state.Grants[j].Operation
		}
		return state.Grants[i].User < state.Grants[j].User
	})
	return json.Marshal(state)
}

// Import replaces the event ring and grants, rebuilding per-user histories
// from the restored events.
func (g *Gate) Import(data json.RawMessage) error {
	var state gateState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode security events: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.events.Reset()
	g.history = make(map[string]*ringbuffer.Ring[SecurityEvent])
	g.grants = make(map[grantKey]int)
	for _, ev := range state.Events {
		g.events.Push(ev)
		g.userHistory(ev.User).Push(ev)
	}
	for _, gr := range state.Grants {
		if gr.Remaining > 0 {
			g.grants[grantKey{gr.Operation, gr.User}] = gr.Remaining
		}
	}
	return nil
}

func outcome(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

func copyParams(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
