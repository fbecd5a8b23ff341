package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/frahmantamala/familyguard/internal"
)

type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
	LevelSecurity Level = "SECURITY"
)

var AllLevels = []Level{LevelInfo, LevelWarning, LevelError, LevelCritical, LevelSecurity}

func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllLevels {
		if l == known {
			return l, nil
		}
	}
	return "", internal.NewValidationFieldError("level", fmt.Sprintf("unknown audit level %q", s), internal.ErrCodeInvalidLevel)
}

// Handling is the per-level dispatch row.
type Handling struct {
	FileLog            bool
	Persist            bool
	Alert              bool
	ImmediateNotify    bool
	SecurityTeamNotify bool
}

func (l Level) Handling() Handling {
	switch l {
	case LevelWarning:
		return Handling{FileLog: true, Persist: true}
	case LevelError:
		return Handling{FileLog: true, Persist: true, Alert: true}
	case LevelCritical:
		return Handling{FileLog: true, Persist: true, Alert: true, ImmediateNotify: true}
	case LevelSecurity:
		return Handling{FileLog: true, Persist: true, Alert: true, ImmediateNotify: true, SecurityTeamNotify: true}
	default:
		return Handling{FileLog: true}
	}
}

// Event types emitted by the core.
const (
	TypeAuthentication = "authentication"
	TypeSession        = "session"
	TypeOperation      = "operation"
	TypeValidation     = "validation"
	TypeRuleChange     = "rule_change"
	TypeApproval       = "approval"
	TypeUserAdmin      = "user_admin"
)

// Event is an immutable audit record. Details must not be mutated after
// the event is stored.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	User      string                 `json:"user"`
	Operation string                 `json:"operation"`
	Level     Level                  `json:"level"`
	Success   bool                   `json:"success"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Entry is what callers hand to a Recorder.
type Entry struct {
	Type      string
	User      string
	Operation string
	Level     Level
	Success   bool
	Details   map[string]interface{}
}

// Recorder is the write side of the pipeline, as seen by the gate and the
// identity and session managers.
type Recorder interface {
	Record(ctx context.Context, entry Entry) string
}

type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Entry) string { return "" }
