package guard

import (
	"context"
	"fmt"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/gate"
	"github.com/frahmantamala/familyguard/internal/session"
)

// Protector is the execute-operation contract offered to collaborators.
// In gate mode the actor is a user name; in session mode it is a session
// id that must be valid and hold the rule's required permission.
type Protector interface {
	Mode() string
	Validate(ctx context.Context, actor, operation string, params map[string]any) gate.Decision
	Execute(ctx context.Context, actor, operation string, params map[string]any, fn gate.Operation) gate.Result
}

func NewProtector(mode string, g *gate.Gate, sessions *session.Manager) (Protector, error) {
	switch mode {
	case "", internal.IntegrationModeGate:
		return &gateProtector{gate: g}, nil
	case internal.IntegrationModeSession:
		if sessions == nil {
			return nil, internal.NewValidationError("session mode needs a session manager", internal.ErrCodeValidationFailed)
		}
		return &sessionProtector{gate: g, sessions: sessions}, nil
	default:
		return nil, internal.NewValidationFieldError("integration.mode", fmt.Sprintf("unknown integration mode %q", mode), internal.ErrCodeValidationFailed)
	}
}

type gateProtector struct {
	gate *gate.Gate
}

func (p *gateProtector) Mode() string { return internal.IntegrationModeGate }

func (p *gateProtector) Validate(ctx context.Context, user, operation string, params map[string]any) gate.Decision {
	return p.gate.ValidateOperation(ctx, operation, user, params)
}

func (p *gateProtector) Execute(ctx context.Context, user, operation string, params map[string]any, fn gate.Operation) gate.Result {
	return p.gate.ExecuteWithProtection(ctx, operation, user, params, fn)
}

type sessionProtector struct {
	gate     *gate.Gate
	sessions *session.Manager
}

func (p *sessionProtector) Mode() string { return internal.IntegrationModeSession }

// authorize resolves the session and checks the rule's permission. The
// session is returned whenever it could be identified, even on error.
func (p *sessionProtector) authorize(ctx context.Context, sessionID, operation string) (*session.Session, error) {
	s, err := p.sessions.Resolve(ctx, sessionID)
	if err != nil {
		return s, err
	}
	rule, _ := p.gate.RuleTable().Lookup(operation)
	if rule.RequiredPermission != "" && !s.Has(rule.RequiredPermission) {
		return s, internal.NewPermissionDeniedError(
			fmt.Sprintf("permission %s is required for %s", rule.RequiredPermission, operation),
			internal.ErrCodeMissingPermission)
	}
	return s, nil
}

func username(s *session.Session) string {
	if s == nil {
		return ""
	}
	return s.Username
}

func (p *sessionProtector) Validate(ctx context.Context, sessionID, operation string, params map[string]any) gate.Decision {
	s, err := p.authorize(ctx, sessionID, operation)
	if err != nil {
		return p.gate.Deny(ctx, gate.KindValidation, operation, username(s), params, err)
	}
	return p.gate.ValidateOperation(ctx, operation, s.Username, params)
}

func (p *sessionProtector) Execute(ctx context.Context, sessionID, operation string, params map[string]any, fn gate.Operation) gate.Result {
	s, err := p.authorize(ctx, sessionID, operation)
	if err != nil {
		d := p.gate.Deny(ctx, gate.KindExecution, operation, username(s), params, err)
		return gate.Result{Message: d.Message, Err: d.Err, EventID: d.EventID}
	}
	return p.gate.ExecuteWithProtection(session.ContextWithSession(ctx, s), operation, s.Username, params, fn)
}
