// Package notify delivers audit alerts and notifications published on the
// event bus to the configured channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/familyguard/internal/core/events"
	"github.com/frahmantamala/familyguard/internal/metrics"
)

const DefaultTimeout = 2 * time.Second

// Notification is the wire form of an audit alert.
type Notification struct {
	ID           string                 `json:"id"`
	Kind         string                 `json:"kind"`
	AuditEventID string                 `json:"audit_event_id"`
	AuditType    string                 `json:"audit_type"`
	Level        string                 `json:"level"`
	User         string                 `json:"user"`
	Operation    string                 `json:"operation"`
	Success      bool                   `json:"success"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

func FromEvent(event events.Event) Notification {
	n := Notification{
		ID:        event.EventID(),
		Kind:      event.EventType(),
		Timestamp: event.OccurredAt(),
	}
	if data, ok := event.Payload().(map[string]interface{}); ok {
		n.Data = data
	}
	if ae, ok := event.(*events.AuditNotificationEvent); ok {
		n.AuditEventID = ae.AuditEventID
		n.AuditType = ae.AuditType
		n.Level = ae.Level
		n.User = ae.User
		n.Operation = ae.Operation
		n.Success = ae.Success
	}
	return n
}

type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Notifier fans bus events out to every channel.
type Notifier struct {
	channels []Channel
	timeout  time.Duration
	logger   *slog.Logger
}

func NewNotifier(logger *slog.Logger, timeout time.Duration, channels ...Channel) *Notifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Notifier{channels: channels, timeout: timeout, logger: logger}
}

// Register subscribes the notifier to every audit notification type.
func (n *Notifier) Register(bus *events.EventBus) {
	for _, t := range []string{
		events.EventTypeAuditAlert,
		events.EventTypeImmediateNotification,
		events.EventTypeSecurityTeamNotification,
	} {
		bus.Subscribe(t, n.Handle)
	}
}

func (n *Notifier) Handle(ctx context.Context, event events.Event) error {
	msg := FromEvent(event)

	var errs []error
	for _, ch := range n.channels {
		sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
		err := ch.Send(sendCtx, msg)
		cancel()

		if err != nil {
			metrics.NotificationsSent.WithLabelValues(ch.Name(), "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		metrics.NotificationsSent.WithLabelValues(ch.Name(), "ok").Inc()
	}
	return errors.Join(errs...)
}

// LogChannel writes notifications to a structured logger.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(ctx context.Context, n Notification) error {
	level := slog.LevelWarn
	if n.Kind == events.EventTypeSecurityTeamNotification {
		level = slog.LevelError
	}
	c.logger.Log(ctx, level, "audit notification",
		"kind", n.Kind,
		"audit_event_id", n.AuditEventID,
		"level", n.Level,
		"user", n.User,
		"operation", n.Operation,
		"success", n.Success)
	return nil
}

// Subject maps an event type onto prefix, e.g. "audit.alert" becomes
// "<prefix>.alert".
func Subject(prefix, eventType string) string {
	suffix := strings.TrimPrefix(eventType, "audit.")
	if prefix == "" {
		return eventType
	}
	return prefix + "." + suffix
}
