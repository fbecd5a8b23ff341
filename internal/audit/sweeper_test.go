package audit_test

import (
	"context"
	"time"

	"github.com/frahmantamala/familyguard/internal/audit"
	"github.com/frahmantamala/familyguard/pkg/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type countingHousekeeper struct{ calls int }

func (c *countingHousekeeper) PurgeExpired(ctx context.Context) int {
	c.calls++
	return 2
}

var _ = Describe("Sweeper", func() {
	var (
		ctx      context.Context
		clock    *fakeClock
		pipeline *audit.Pipeline
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = newFakeClock()
		pipeline = audit.NewPipeline(logger.Discard(), audit.WithClock(clock.Now))
	})

	logAt := func(n int) {
		for i := 0; i < n; i++ {
			_, err := pipeline.Log(ctx, audit.Entry{Type: "t", Level: audit.LevelInfo})
			Expect(err).NotTo(HaveOccurred())
		}
	}

	It("removes events older than the retention window in batches", func() {
		logAt(7)
		clock.Advance(91 * 24 * time.Hour)
		logAt(2)

		sweeper := audit.NewSweeper(pipeline, logger.Discard(),
			audit.WithRetention(90*24*time.Hour),
			audit.WithBatchSize(3),
			audit.WithSweepClock(clock.Now),
		)
		res := sweeper.Sweep(ctx)

		Expect(res.MemoryRemoved).To(Equal(7))
		Expect(res.Batches).To(Equal(3))
		Expect(pipeline.Len()).To(Equal(2))
	})

	It("keeps events exactly at the cutoff", func() {
		logAt(1)
		clock.Advance(24 * time.Hour)

		sweeper := audit.NewSweeper(pipeline, logger.Discard(),
			audit.WithRetention(24*time.Hour),
			audit.WithSweepClock(clock.Now),
		)
		Expect(sweeper.Sweep(ctx).MemoryRemoved).To(BeZero())
	})

	It("purges the sink and runs housekeeping", func() {
		sink := &memorySink{}
		d := audit.NewDispatcher(sink, audit.DispatcherConfig{}, logger.Discard(), logger.Discard())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			Expect(d.Shutdown(shutdownCtx)).To(Succeed())
		}()
		hk := &countingHousekeeper{}

		sweeper := audit.NewSweeper(pipeline, logger.Discard(),
			audit.WithSweepClock(clock.Now),
			audit.WithSinkPurge(d),
			audit.WithHousekeeper(hk),
		)
		res := sweeper.Sweep(ctx)

		Expect(sink.purged).To(HaveLen(1))
		Expect(sink.purged[0]).To(Equal(clock.Now().Add(-audit.DefaultRetention)))
		Expect(hk.calls).To(Equal(1))
		Expect(res.HousekeepingRemoved).To(Equal(2))
	})

	It("runs on its interval and stops within the bound", func() {
		logAt(1)
		clock.Advance(100 * 24 * time.Hour)

		sweeper := audit.NewSweeper(pipeline, logger.Discard(),
			audit.WithInterval(10*time.Millisecond),
			audit.WithSweepClock(clock.Now),
		)
		sweeper.Start(ctx)
		Eventually(pipeline.Len).Should(BeZero())

		stopCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		Expect(sweeper.Stop(stopCtx)).To(Succeed())
	})

	It("stops cleanly when never started", func() {
		sweeper := audit.NewSweeper(pipeline, logger.Discard())
		stopCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		Expect(sweeper.Stop(stopCtx)).To(Succeed())
	})
})

var _ = Describe("Dispatcher", func() {
	It("falls back to the local log when the sink fails", func() {
		sink := &memorySink{fail: true}
		d := audit.NewDispatcher(sink, audit.DispatcherConfig{MaxWorkers: 1}, logger.Discard(), logger.Discard())

		d.Enqueue(&audit.Event{ID: "x", Level: audit.LevelWarning})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		Expect(d.Shutdown(ctx)).To(Succeed())
		Expect(sink.Len()).To(BeZero())
	})

	It("never blocks the caller when the queue is full", func() {
		block := make(chan struct{})
		sink := &memorySink{block: block}
		d := audit.NewDispatcher(sink, audit.DispatcherConfig{MaxWorkers: 1, QueueSize: 1}, logger.Discard(), logger.Discard())

		done := make(chan struct{})
		go func() {
			for i := 0; i < 50; i++ {
				d.Enqueue(&audit.Event{ID: "x", Level: audit.LevelWarning})
			}
			close(done)
		}()
		Eventually(done).Should(BeClosed())

		close(block)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		Expect(d.Shutdown(ctx)).To(Succeed())
		Expect(sink.Len()).To(BeNumerically("<", 50))
	})

	It("drains queued events on shutdown and rejects later ones", func() {
		sink := &memorySink{}
		d := audit.NewDispatcher(sink, audit.DispatcherConfig{MaxWorkers: 2, QueueSize: 100}, logger.Discard(), logger.Discard())
		for i := 0; i < 20; i++ {
			d.Enqueue(&audit.Event{ID: "x", Level: audit.LevelWarning})
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		Expect(d.Shutdown(ctx)).To(Succeed())
		Expect(sink.Len()).To(Equal(20))

		d.Enqueue(&audit.Event{ID: "late", Level: audit.LevelWarning})
		Expect(sink.Len()).To(Equal(20))
	})
})
