package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/familyguard/internal/metrics"
)

// Sink is the external store for events at WARNING and above.
type Sink interface {
	Write(ctx context.Context, ev *Event) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Worker struct {
	ID         int
	WorkerPool chan chan *Event
	JobChannel chan *Event
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan *Event, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan *Event),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(*Event)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			w.WorkerPool <- w.JobChannel

			select {
			case ev := <-w.JobChannel:
				processFunc(ev)
			case <-ctx.Done():
				w.Logger.Debug("audit sink worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type DispatcherConfig struct {
	MaxWorkers   int
	QueueSize    int
	WriteTimeout time.Duration
}

// Dispatcher hands events to the sink on a bounded worker pool. A full
// queue or a failed write degrades to the fallback logger; Enqueue never
// blocks.
type Dispatcher struct {
	sink         Sink
	fallback     *slog.Logger
	logger       *slog.Logger
	writeTimeout time.Duration

	jobQueue   chan *Event
	workerPool chan chan *Event
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	draining   chan struct{}
	wg         sync.WaitGroup
	once       sync.Once
	stopOnce   sync.Once

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sink Sink, config DispatcherConfig, fallback, logger *slog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}
	writeTimeout := config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	d := &Dispatcher{
		sink:         sink,
		fallback:     fallback,
		logger:       logger,
		writeTimeout: writeTimeout,
		jobQueue:     make(chan *Event, queueSize),
		workerPool:   make(chan chan *Event, maxWorkers),
		maxWorkers:   maxWorkers,
		ctx:          ctx,
		cancel:       cancel,
		draining:     make(chan struct{}),
	}
	d.start()
	return d
}

func (d *Dispatcher) start() {
	d.once.Do(func() {
		for i := 0; i < d.maxWorkers; i++ {
			worker := NewWorker(i, d.workerPool, d.logger)
			worker.Start(d.ctx, &d.wg, d.write)
		}

		d.wg.Add(1)
		go d.dispatch()

		d.logger.Info("audit sink dispatcher started",
			"max_workers", d.maxWorkers,
			"queue_size", cap(d.jobQueue))
	})
}

func (d *Dispatcher) dispatch() {
	defer d.wg.Done()

	for {
		select {
		case ev := <-d.jobQueue:
			if !d.hand(ev) {
				return
			}
		case <-d.draining:
			for {
				select {
				case ev := <-d.jobQueue:
					if !d.hand(ev) {
						return
					}
				default:
					d.cancel()
					return
				}
			}
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) hand(ev *Event) bool {
	select {
	case jobChannel := <-d.workerPool:
		select {
		case jobChannel <- ev:
			return true
		case <-d.ctx.Done():
			d.fallbackLog(ev, "shutdown")
			return false
		}
	case <-d.ctx.Done():
		d.fallbackLog(ev, "shutdown")
		return false
	}
}

// Enqueue queues ev for the sink without blocking.
func (d *Dispatcher) Enqueue(ev *Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.fallbackLog(ev, "closed")
		return
	}

	select {
	case d.jobQueue <- ev:
	default:
		d.fallbackLog(ev, "queue_full")
	}
}

func (d *Dispatcher) write(ev *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.writeTimeout)
	defer cancel()

	if err := d.sink.Write(ctx, ev); err != nil {
		d.logger.Warn("audit sink write failed", "audit_id", ev.ID, "error", err)
		d.fallbackLog(ev, "write_failed")
	}
}

func (d *Dispatcher) fallbackLog(ev *Event, reason string) {
	metrics.AuditSinkErrors.WithLabelValues(reason).Inc()
	d.fallback.Error("audit event not persisted",
		"reason", reason,
		"audit_id", ev.ID,
		"type", ev.Type,
		"user", ev.User,
		"operation", ev.Operation,
		"level", string(ev.Level),
		"success", ev.Success,
		"details", ev.Details,
		"timestamp", ev.Timestamp)
}

// Purge forwards a retention cutoff to the sink.
func (d *Dispatcher) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	return d.sink.DeleteBefore(ctx, cutoff)
}

// Shutdown stops accepting events, drains the queue and waits for the
// workers. If ctx ends first the remaining work is abandoned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.stopOnce.Do(func() { close(d.draining) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("audit sink dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
