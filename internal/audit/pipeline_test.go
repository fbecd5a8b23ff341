package audit_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/audit"
	"github.com/frahmantamala/familyguard/internal/core/events"
	"github.com/frahmantamala/familyguard/pkg/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Pipeline", func() {
	var (
		ctx       context.Context
		clock     *fakeClock
		publisher *capturingPublisher
		pipeline  *audit.Pipeline
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = newFakeClock()
		publisher = &capturingPublisher{}
		pipeline = audit.NewPipeline(logger.Discard(),
			audit.WithClock(clock.Now),
			audit.WithPublisher(publisher),
			audit.WithMaxEvents(100),
		)
	})

	log := func(user, op string, level audit.Level, success bool) string {
		id, err := pipeline.Log(ctx, audit.Entry{
			Type:      audit.TypeOperation,
			User:      user,
			Operation: op,
			Level:     level,
			Success:   success,
		})
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	It("rejects entries without a type or with an unknown level", func() {
		_, err := pipeline.Log(ctx, audit.Entry{Level: audit.LevelInfo})
		Expect(internal.KindOf(err)).To(Equal(internal.ErrorTypeValidation))

		_, err = pipeline.Log(ctx, audit.Entry{Type: "x", Level: "LOUD"})
		Expect(internal.KindOf(err)).To(Equal(internal.ErrorTypeValidation))

		Expect(pipeline.Record(ctx, audit.Entry{Type: "x", Level: "LOUD"})).To(BeEmpty())
		Expect(pipeline.Len()).To(BeZero())
	})

	It("copies details so later caller mutation has no effect", func() {
		details := map[string]interface{}{"k": "v"}
		id, err := pipeline.Log(ctx, audit.Entry{Type: "t", Level: audit.LevelInfo, Details: details})
		Expect(err).NotTo(HaveOccurred())
		details["k"] = "changed"

		ev, ok := pipeline.Get(id)
		Expect(ok).To(BeTrue())
		Expect(ev.Details).To(HaveKeyWithValue("k", "v"))
	})

	It("hands out copies that cannot alter stored events", func() {
		id, err := pipeline.Log(ctx, audit.Entry{
			Type:    "t",
			User:    "mom",
			Level:   audit.LevelCritical,
			Details: map[string]interface{}{"k": "v"},
		})
		Expect(err).NotTo(HaveOccurred())

		listed := pipeline.Events(ctx, audit.Filter{User: "mom"})
		Expect(listed).To(HaveLen(1))
		listed[0].Details["k"] = "tampered"
		listed[0].User = "someone-else"

		got, ok := pipeline.Get(id)
		Expect(ok).To(BeTrue())
		got.Details["k"] = "tampered"

		report, err := pipeline.Report(ctx, clock.Now().Add(-time.Minute), clock.Now().Add(time.Minute))
		Expect(err).NotTo(HaveOccurred())
		Expect(report.CriticalEvents).To(HaveLen(1))
		report.CriticalEvents[0].Details["k"] = "tampered"

		again, ok := pipeline.Get(id)
		Expect(ok).To(BeTrue())
		Expect(again.User).To(Equal("mom"))
		Expect(again.Details).To(HaveKeyWithValue("k", "v"))
	})

	DescribeTable("per-level notifications",
		func(level audit.Level, expected []string) {
			log("u", "op", level, false)
			Expect(publisher.types()).To(Equal(expected))
		},
		Entry("INFO", audit.LevelInfo, []string{}),
		Entry("WARNING", audit.LevelWarning, []string{}),
		Entry("ERROR", audit.LevelError, []string{events.EventTypeAuditAlert}),
		Entry("CRITICAL", audit.LevelCritical, []string{events.EventTypeAuditAlert, events.EventTypeImmediateNotification}),
		Entry("SECURITY", audit.LevelSecurity, []string{
			events.EventTypeAuditAlert, events.EventTypeImmediateNotification, events.EventTypeSecurityTeamNotification,
		}),
	)

	It("persists only WARNING and above", func() {
		sink := &memorySink{}
		d := audit.NewDispatcher(sink, audit.DispatcherConfig{MaxWorkers: 2, QueueSize: 10}, logger.Discard(), logger.Discard())
		pipeline = audit.NewPipeline(logger.Discard(), audit.WithDispatcher(d))

		for _, l := range audit.AllLevels {
			log("u", "op", l, true)
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		Expect(d.Shutdown(shutdownCtx)).To(Succeed())
		Expect(sink.Len()).To(Equal(4))
	})

	Describe("queries", func() {
		BeforeEach(func() {
			log("alice", "vpn.connect", audit.LevelInfo, true)
			clock.Advance(time.Second)
			log("bob", "vpn.connect", audit.LevelError, false)
			clock.Advance(time.Second)
			log("alice", "scan.run", audit.LevelWarning, true)
			clock.Advance(time.Second)
			log("alice", "vpn.connect", audit.LevelError, false)
		})

		It("returns newest first", func() {
			got := pipeline.Events(ctx, audit.Filter{})
			Expect(got).To(HaveLen(4))
			Expect(got[0].Timestamp.After(got[3].Timestamp)).To(BeTrue())
		})

		It("filters by user, operation and level together", func() {
			got := pipeline.Events(ctx, audit.Filter{User: "alice", Operation: "vpn.connect", Level: audit.LevelError})
			Expect(got).To(HaveLen(1))
			Expect(got[0].User).To(Equal("alice"))
		})

		It("applies the limit after filtering", func() {
			got := pipeline.Events(ctx, audit.Filter{User: "alice", Limit: 2})
			Expect(got).To(HaveLen(2))
			Expect(got[0].Operation).To(Equal("vpn.connect"))
			Expect(got[1].Operation).To(Equal("scan.run"))
		})

		It("keeps lifetime counters", func() {
			stats := pipeline.Stats()
			Expect(stats.Total).To(Equal(int64(4)))
			Expect(stats.ByUser).To(HaveKeyWithValue("alice", int64(3)))
			Expect(stats.ByOperation).To(HaveKeyWithValue("vpn.connect", int64(3)))
			Expect(stats.ByLevel).To(HaveKeyWithValue(audit.LevelError, int64(2)))
			Expect(stats.Successes).To(Equal(int64(2)))
			Expect(stats.Failures).To(Equal(int64(2)))
		})
	})

	Describe("reports", func() {
		It("counts exactly the events logged inside the range", func() {
			t0 := clock.Now()
			levels := []audit.Level{audit.LevelInfo, audit.LevelWarning, audit.LevelError, audit.LevelCritical, audit.LevelSecurity, audit.LevelInfo}
			for i, l := range levels {
				log(fmt.Sprintf("user%d", i%2), "op", l, i%3 == 0)
				clock.Advance(time.Minute)
			}
			t1 := clock.Now()
			clock.Advance(time.Minute)
			log("late", "op", audit.LevelInfo, true)

			r, err := pipeline.Report(ctx, t0, t1)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.TotalEvents).To(Equal(len(levels)))

			sum := 0
			for _, n := range r.ByLevel {
				sum += n
			}
			Expect(sum).To(Equal(r.TotalEvents))
			Expect(r.CriticalEvents).To(HaveLen(1))
			Expect(r.SecurityEvents).To(HaveLen(1))
			Expect(r.Successes).To(Equal(2))
			Expect(r.SuccessRate).To(BeNumerically("~", 2.0/6.0, 0.0001))
			Expect(r.ByUser).NotTo(HaveKey("late"))
		})

		It("includes both range boundaries", func() {
			t0 := clock.Now()
			log("a", "op", audit.LevelInfo, true)
			r, err := pipeline.Report(ctx, t0, t0)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.TotalEvents).To(Equal(1))
		})

		It("rejects an inverted range", func() {
			_, err := pipeline.Report(ctx, clock.Now(), clock.Now().Add(-time.Hour))
			Expect(internal.KindOf(err)).To(Equal(internal.ErrorTypeValidation))
		})

		It("reports zero success rate for an empty range", func() {
			r, err := pipeline.Report(ctx, clock.Now(), clock.Now().Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(r.TotalEvents).To(BeZero())
			Expect(r.SuccessRate).To(BeZero())
			Expect(r.ByLevel).To(HaveLen(len(audit.AllLevels)))
		})
	})

	It("evicts the oldest events beyond the in-memory cap", func() {
		pipeline = audit.NewPipeline(logger.Discard(), audit.WithClock(clock.Now), audit.WithMaxEvents(3))
		first := log("u", "op1", audit.LevelInfo, true)
		log("u", "op2", audit.LevelInfo, true)
		log("u", "op3", audit.LevelInfo, true)
		log("u", "op4", audit.LevelInfo, true)

		Expect(pipeline.Len()).To(Equal(3))
		_, ok := pipeline.Get(first)
		Expect(ok).To(BeFalse())
		Expect(pipeline.Stats().Total).To(Equal(int64(4)))
	})

	It("accepts concurrent writers", func() {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				for j := 0; j < 5; j++ {
					_, err := pipeline.Log(ctx, audit.Entry{Type: "t", User: fmt.Sprint(i), Level: audit.LevelInfo})
					Expect(err).NotTo(HaveOccurred())
				}
			}(i)
		}
		wg.Wait()
		Expect(pipeline.Len()).To(Equal(100))
	})

	It("round-trips events through export and import", func() {
		log("alice", "op", audit.LevelWarning, true)
		log("bob", "op", audit.LevelError, false)
		data, err := pipeline.Export()
		Expect(err).NotTo(HaveOccurred())

		restored := audit.NewPipeline(logger.Discard())
		Expect(restored.Import(data)).To(Succeed())
		Expect(restored.Len()).To(Equal(2))
		Expect(restored.Stats().ByUser).To(HaveKeyWithValue("bob", int64(1)))
	})
})
