package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeAuditAlert               = "audit.alert"
	EventTypeImmediateNotification    = "audit.notify.immediate"
	EventTypeSecurityTeamNotification = "audit.notify.security_team"
)

// AuditNotificationEvent carries an audit record to alerting and
// notification subscribers.
type AuditNotificationEvent struct {
	BaseEvent
	AuditEventID string `json:"audit_event_id"`
	AuditType    string `json:"audit_type"`
	Level        string `json:"level"`
	User         string `json:"user"`
	Operation    string `json:"operation"`
	Success      bool   `json:"success"`
}

func NewAuditNotificationEvent(eventType, auditEventID, auditType, level, user, operation string, success bool, details map[string]interface{}) *AuditNotificationEvent {
	data := map[string]interface{}{
		"audit_event_id": auditEventID,
		"audit_type":     auditType,
		"level":          level,
		"user":           user,
		"operation":      operation,
		"success":        success,
	}
	for k, v := range details {
		if _, taken := data[k]; !taken {
			data[k] = v
		}
	}

	return &AuditNotificationEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Data:      data,
		},
		AuditEventID: auditEventID,
		AuditType:    auditType,
		Level:        level,
		User:         user,
		Operation:    operation,
		Success:      success,
	}
}
