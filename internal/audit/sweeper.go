package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/familyguard/internal/metrics"
)

const (
	DefaultRetention      = 90 * 24 * time.Hour
	DefaultSweepInterval  = 24 * time.Hour
	DefaultSweepBatchSize = 500
)

// Housekeeper is anything the sweeper should prune on its cadence, such as
// the session table.
type Housekeeper interface {
	PurgeExpired(ctx context.Context) int
}

type SweepResult struct {
	Cutoff              time.Time     `json:"cutoff"`
	MemoryRemoved       int           `json:"memory_removed"`
	SinkRemoved         int64         `json:"sink_removed"`
	HousekeepingRemoved int           `json:"housekeeping_removed"`
	Batches             int           `json:"batches"`
	Duration            time.Duration `json:"duration"`
}

// Sweeper runs the retention sweep on its own goroutine. Each batch takes
// the pipeline lock separately so live writes interleave with a long sweep.
type Sweeper struct {
	pipeline     *Pipeline
	dispatcher   *Dispatcher
	housekeepers []Housekeeper
	retention    time.Duration
	interval     time.Duration
	batchSize    int
	logger       *slog.Logger
	now          func() time.Time

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

type SweeperOption func(*Sweeper)

func WithRetention(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.now = now
	}
}

func WithSinkPurge(d *Dispatcher) SweeperOption {
	return func(s *Sweeper) {
		s.dispatcher = d
	}
}

func WithHousekeeper(h Housekeeper) SweeperOption {
	return func(s *Sweeper) {
		if h != nil {
			s.housekeepers = append(s.housekeepers, h)
		}
	}
}

func NewSweeper(pipeline *Pipeline, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		pipeline:  pipeline,
		retention: DefaultRetention,
		interval:  DefaultSweepInterval,
		batchSize: DefaultSweepBatchSize,
		logger:    logger,
		now:       time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs one pass.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	started := time.Now()
	res := SweepResult{Cutoff: s.now().Add(-s.retention)}

	for {
		n := s.pipeline.PurgeBefore(res.Cutoff, s.batchSize)
		res.MemoryRemoved += n
		if n > 0 {
			res.Batches++
		}
		if n < s.batchSize || ctx.Err() != nil {
			break
		}
	}

	if s.dispatcher != nil && ctx.Err() == nil {
		removed, err := s.dispatcher.Purge(ctx, res.Cutoff)
		if err != nil {
			s.logger.Warn("audit sink purge failed", "error", err)
		}
		res.SinkRemoved = removed
	}

	for _, h := range s.housekeepers {
		res.HousekeepingRemoved += h.PurgeExpired(ctx)
	}

	res.Duration = time.Since(started)
	metrics.AuditSweepDuration.Observe(res.Duration.Seconds())
	metrics.AuditSweepRemoved.WithLabelValues("memory").Add(float64(res.MemoryRemoved))
	metrics.AuditSweepRemoved.WithLabelValues("sink").Add(float64(res.SinkRemoved))
	metrics.AuditSweepRemoved.WithLabelValues("housekeeping").Add(float64(res.HousekeepingRemoved))

	s.logger.Info("retention sweep finished",
		"cutoff", res.Cutoff,
		"memory_removed", res.MemoryRemoved,
		"sink_removed", res.SinkRemoved,
		"housekeeping_removed", res.HousekeepingRemoved,
		"batches", res.Batches,
		"duration", res.Duration)
	return res
}

// Start launches the periodic sweep. It is a no-op after the first call.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.run(ctx)
		s.logger.Info("retention sweeper started", "interval", s.interval, "retention", s.retention)
	})
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	sweepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-sweepCtx.Done():
		}
	}()

	for {
		select {
		case <-ticker.C:
			s.Sweep(sweepCtx)
		case <-sweepCtx.Done():
			return
		}
	}
}

// Stop signals the sweeper and waits for it, bounded by ctx. Stopping a
// sweeper that never started also prevents a later Start.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.startOnce.Do(func() { close(s.done) })

	select {
	case <-s.done:
		s.logger.Info("retention sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
