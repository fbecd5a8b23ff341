package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/core/common/ringbuffer"
	"github.com/frahmantamala/familyguard/internal/core/events"
	"github.com/frahmantamala/familyguard/internal/metrics"
	"github.com/google/uuid"
)

const (
	DefaultMaxEvents = 10000
	DefaultLimit     = 100
)

// Publisher is where alerts and notifications go; *events.EventBus
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Pipeline stores audit events in a bounded ring, keeps aggregate counters
// and dispatches per-level handling.
type Pipeline struct {
	mu       sync.RWMutex
	events   *ringbuffer.Ring[*Event]
	counters counters

	fileLog    *slog.Logger
	dispatcher *Dispatcher
	publisher  Publisher
	logger     *slog.Logger
	now        func() time.Time
}

type counters struct {
	total       int64
	byLevel     map[Level]int64
	byUser      map[string]int64
	byOperation map[string]int64
	successes   int64
	failures    int64
}

func newCounters() counters {
	return counters{
		byLevel:     make(map[Level]int64),
		byUser:      make(map[string]int64),
		byOperation: make(map[string]int64),
	}
}

func (c *counters) add(ev *Event) {
	c.total++
	c.byLevel[ev.Level]++
	if ev.User != "" {
		c.byUser[ev.User]++
	}
	if ev.Operation != "" {
		c.byOperation[ev.Operation]++
	}
	if ev.Success {
		c.successes++
	} else {
		c.failures++
	}
}

type Option func(*Pipeline)

func WithMaxEvents(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.events = ringbuffer.New[*Event](n)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithFileLogger sets the logger used for the "file log" column.
func WithFileLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.fileLog = l
		}
	}
}

func WithDispatcher(d *Dispatcher) Option {
	return func(p *Pipeline) {
		p.dispatcher = d
	}
}

func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) {
		p.publisher = pub
	}
}

func NewPipeline(logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		events:   ringbuffer.New[*Event](DefaultMaxEvents),
		counters: newCounters(),
		fileLog:  logger,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Record implements Recorder. Malformed entries are logged and dropped so
// the caller's business path is never interrupted.
func (p *Pipeline) Record(ctx context.Context, entry Entry) string {
	id, err := p.Log(ctx, entry)
	if err != nil {
		p.logger.Warn("audit entry rejected", "error", err, "type", entry.Type, "operation", entry.Operation)
		return ""
	}
	return id
}

// Log creates an immutable event, stores it and dispatches it by level.
func (p *Pipeline) Log(ctx context.Context, entry Entry) (string, error) {
	if entry.Type == "" {
		return "", internal.NewValidationFieldError("type", "audit event type is required", internal.ErrCodeValidationFailed)
	}
	level, err := ParseLevel(string(entry.Level))
	if err != nil {
		return "", err
	}

	ev := &Event{
		ID:        uuid.New().String(),
		Type:      entry.Type,
		User:      entry.User,
		Operation: entry.Operation,
		Level:     level,
		Success:   entry.Success,
		Details:   copyDetails(entry.Details),
		Timestamp: p.now(),
	}

	p.mu.Lock()
	p.events.Push(ev)
	p.counters.add(ev)
	stored := p.events.Len()
	p.mu.Unlock()

	metrics.AuditEvents.WithLabelValues(string(level)).Inc()
	metrics.AuditStored.Set(float64(stored))

	p.dispatch(ctx, ev)
	return ev.ID, nil
}

func (p *Pipeline) dispatch(ctx context.Context, ev *Event) {
	h := ev.Level.Handling()

	if h.FileLog {
		p.fileLog.LogAttrs(ctx, slogLevel(ev.Level), "audit event",
			slog.String("audit_id", ev.ID),
			slog.String("type", ev.Type),
			slog.String("user", ev.User),
			slog.String("operation", ev.Operation),
			slog.String("level", string(ev.Level)),
			slog.Bool("success", ev.Success),
			slog.Any("details", ev.Details),
		)
	}
	if h.Persist && p.dispatcher != nil {
		p.dispatcher.Enqueue(ev)
	}
	if h.Alert {
		p.publish(ctx, events.EventTypeAuditAlert, ev)
	}
	if h.ImmediateNotify {
		p.publish(ctx, events.EventTypeImmediateNotification, ev)
	}
	if h.SecurityTeamNotify {
		p.publish(ctx, events.EventTypeSecurityTeamNotification, ev)
	}
}

func (p *Pipeline) publish(ctx context.Context, eventType string, ev *Event) {
	if p.publisher == nil {
		return
	}
	n := events.NewAuditNotificationEvent(eventType, ev.ID, ev.Type, string(ev.Level), ev.User, ev.Operation, ev.Success, ev.Details)
	if err := p.publisher.Publish(ctx, n); err != nil {
		p.logger.Error("failed to publish audit notification",
			"event_type", eventType,
			"audit_id", ev.ID,
			"error", err)
	}
}

// Filter selects events; zero fields match everything.
type Filter struct {
	User      string
	Operation string
	Type      string
	Level     Level
	Limit     int
}

func (f Filter) matches(ev *Event) bool {
	if f.User != "" && ev.User != f.User {
		return false
	}
	if f.Operation != "" && ev.Operation != f.Operation {
		return false
	}
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.Level != "" && ev.Level != f.Level {
		return false
	}
	return true
}

// Events returns matching events, newest first.
func (p *Pipeline) Events(ctx context.Context, f Filter) []*Event {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Event, 0, min(limit, p.events.Len()))
	p.events.Newest(func(ev *Event) bool {
		if f.matches(ev) {
			out = append(out, ev.clone())
		}
		return len(out) < limit
	})
	return out
}

func (p *Pipeline) Get(id string) (*Event, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var found *Event
	p.events.Newest(func(ev *Event) bool {
		if ev.ID == id {
			found = ev.clone()
			return false
		}
		return true
	})
	return found, found != nil
}

func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.events.Len()
}

// Stats are lifetime aggregates; they are not reduced by eviction or sweeps.
type Stats struct {
	Total       int64            `json:"total"`
	ByLevel     map[Level]int64  `json:"by_level"`
	ByUser      map[string]int64 `json:"by_user"`
	ByOperation map[string]int64 `json:"by_operation"`
	Successes   int64            `json:"successes"`
	Failures    int64            `json:"failures"`
	InMemory    int              `json:"in_memory"`
}

func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Stats{
		Total:       p.counters.total,
		ByLevel:     make(map[Level]int64, len(p.counters.byLevel)),
		ByUser:      make(map[string]int64, len(p.counters.byUser)),
		ByOperation: make(map[string]int64, len(p.counters.byOperation)),
		Successes:   p.counters.successes,
		Failures:    p.counters.failures,
		InMemory:    p.events.Len(),
	}
	for k, v := range p.counters.byLevel {
		s.ByLevel[k] = v
	}
	for k, v := range p.counters.byUser {
		s.ByUser[k] = v
	}
	for k, v := range p.counters.byOperation {
		s.ByOperation[k] = v
	}
	return s
}

// PurgeBefore drops up to batch events older than cutoff and returns how
// many were removed. Events are stored in arrival order, so only the front
// of the ring is examined.
func (p *Pipeline) PurgeBefore(cutoff time.Time, batch int) int {
	p.mu.Lock()
	removed := p.events.DropWhile(func(ev *Event) bool {
		return ev.Timestamp.Before(cutoff)
	}, batch)
	stored := p.events.Len()
	p.mu.Unlock()

	if removed > 0 {
		metrics.AuditStored.Set(float64(stored))
	}
	return removed
}

func (p *Pipeline) SnapshotKey() string { return "audit.events" }

func (p *Pipeline) Export() (json.RawMessage, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return json.Marshal(p.events.Slice())
}

// Import replaces the stored events and rebuilds counters from them.
func (p *Pipeline) Import(data json.RawMessage) error {
	var list []*Event
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decode audit events: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.events.Reset()
	p.counters = newCounters()
	for _, ev := range list {
		p.events.Push(ev)
		p.counters.add(ev)
	}
	metrics.AuditStored.Set(float64(p.events.Len()))
	return nil
}

// clone hands callers a copy so stored events stay immutable.
func (e *Event) clone() *Event {
	c := *e
	c.Details = copyDetails(e.Details)
	return &c
}

func copyDetails(in map[string]interface{}) map[string]interface{} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
