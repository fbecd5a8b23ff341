package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/frahmantamala/familyguard/internal/core/events"
	"github.com/frahmantamala/familyguard/internal/notify"
	"github.com/frahmantamala/familyguard/pkg/logger"
	"github.com/nats-io/nats.go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestNotify(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Notify Suite")
}

type fakeConn struct {
	mu   sync.Mutex
	msgs []*nats.Msg
	err  error
}

func (c *fakeConn) PublishMsg(msg *nats.Msg) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) Messages() []*nats.Msg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*nats.Msg(nil), c.msgs...)
}

type failingChannel struct{}

func (failingChannel) Name() string { return "broken" }

func (failingChannel) Send(ctx context.Context, n notify.Notification) error {
	return errors.New("unreachable")
}

var _ = Describe("Notifier", func() {
	var (
		ctx  context.Context
		conn *fakeConn
	)

	alert := func(eventType string) *events.AuditNotificationEvent {
		return events.NewAuditNotificationEvent(eventType, "audit-1", "authentication", "SECURITY", "analyst", "login", false,
			map[string]interface{}{"ip": "10.0.0.9"})
	}

	BeforeEach(func() {
		ctx = context.Background()
		conn = &fakeConn{}
	})

	It("maps event types onto subjects", func() {
		Expect(notify.Subject("familyguard.audit", events.EventTypeAuditAlert)).To(Equal("familyguard.audit.alert"))
		Expect(notify.Subject("familyguard.audit", events.EventTypeSecurityTeamNotification)).To(Equal("familyguard.audit.notify.security_team"))
		Expect(notify.Subject("", events.EventTypeAuditAlert)).To(Equal("audit.alert"))
	})

	It("publishes JSON notifications to NATS", func() {
		n := notify.NewNotifier(logger.Discard(), time.Second, notify.NewNATSChannel(conn, "familyguard.audit"))
		Expect(n.Handle(ctx, alert(events.EventTypeImmediateNotification))).To(Succeed())

		msgs := conn.Messages()
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Subject).To(Equal("familyguard.audit.notify.immediate"))
		Expect(msgs[0].Header.Get("Audit-Level")).To(Equal("SECURITY"))

		var decoded notify.Notification
		Expect(json.Unmarshal(msgs[0].Data, &decoded)).To(Succeed())
		Expect(decoded.AuditEventID).To(Equal("audit-1"))
		Expect(decoded.User).To(Equal("analyst"))
		Expect(decoded.Data).To(HaveKeyWithValue("ip", "10.0.0.9"))
	})

	It("keeps delivering when one channel fails", func() {
		n := notify.NewNotifier(logger.Discard(), time.Second, failingChannel{}, notify.NewNATSChannel(conn, "p"))
		err := n.Handle(ctx, alert(events.EventTypeAuditAlert))
		Expect(err).To(MatchError(ContainSubstring("broken")))
		Expect(conn.Messages()).To(HaveLen(1))
	})

	It("receives bus events after registering", func() {
		bus := events.NewEventBus(logger.Discard())
		n := notify.NewNotifier(logger.Discard(), time.Second, notify.NewLogChannel(logger.Discard()), notify.NewNATSChannel(conn, "p"))
		n.Register(bus)

		Expect(bus.HandlerCount(events.EventTypeAuditAlert)).To(Equal(1))
		Expect(bus.HandlerCount(events.EventTypeSecurityTeamNotification)).To(Equal(1))

		Expect(bus.Publish(ctx, alert(events.EventTypeSecurityTeamNotification))).To(Succeed())
		Expect(bus.Wait(ctx)).To(Succeed())
		Expect(conn.Messages()).To(HaveLen(1))
	})

	It("closes an injected connection without error", func() {
		Expect(notify.NewNATSChannel(conn, "p").Close()).To(Succeed())
	})
})
