package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/vinayprograms/orderclaim/logging"
	"github.com/vinayprograms/orderclaim/telemetry"
)

// DispatcherConfig tunes a Dispatcher.
type DispatcherConfig struct {
	// Workers bounds concurrent deliveries. Default 8.
	Workers int

	// QueueSize is how many deliveries may wait for a worker before new
	// ones are dropped. Default 1024.
	QueueSize int

	// Timeout bounds one delivery. Default 5s.
	Timeout time.Duration
}

// DefaultDispatcherConfig returns the default tuning.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{Workers: 8, QueueSize: 1024, Timeout: 5 * time.Second}
}

type delivery struct {
	ctx    context.Context
	userID string
	event  Event
}

// Dispatcher fans events out to a Notifier without blocking the caller.
type Dispatcher struct {
	notifier Notifier
	name     string
	cfg      DispatcherConfig
	log      *logging.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer

	mu     sync.RWMutex
	closed bool
	queue  chan delivery
	done   chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger for delivery failures.
func WithLogger(l *logging.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l.WithComponent("notify") }
}

// WithMetrics counts sent, failed and dropped deliveries.
func WithMetrics(m *telemetry.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer wraps each delivery in a span.
func WithTracer(t *telemetry.Tracer) DispatcherOption {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithConfig overrides the default tuning.
func WithConfig(cfg DispatcherConfig) DispatcherOption {
	return func(d *Dispatcher) { d.cfg = cfg }
}

// NewDispatcher starts a dispatcher delivering through n. name labels the
// notifier in spans. Close must be called to drain it.
func NewDispatcher(n Notifier, name string, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifier: n,
		name:     name,
		cfg:      DefaultDispatcherConfig(),
		log:      logging.Nop(),
		tracer:   telemetry.GetTracer(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.Workers <= 0 {
		d.cfg.Workers = 8
	}
	if d.cfg.QueueSize <= 0 {
		d.cfg.QueueSize = 1024
	}
	if d.cfg.Timeout <= 0 {
		d.cfg.Timeout = 5 * time.Second
	}

	d.queue = make(chan delivery, d.cfg.QueueSize)
	d.done = make(chan struct{})
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	p := pool.New().WithMaxGoroutines(d.cfg.Workers)
	for job := range d.queue {
		job := job
		p.Go(func() { d.deliver(job) })
	}
	p.Wait()
}

// Dispatch queues ev for each distinct, non-empty user id and returns
// immediately. The caller's cancellation does not reach the delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event, userIDs ...string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		if d.closed {
			d.dropped(id, ev, "dispatcher closed")
			continue
		}
		select {
		case d.queue <- delivery{ctx: context.WithoutCancel(ctx), userID: id, event: ev}:
		default:
			d.dropped(id, ev, "queue full")
		}
	}
}

func (d *Dispatcher) deliver(job delivery) {
	ctx, cancel := context.WithTimeout(job.ctx, d.cfg.Timeout)
	defer cancel()

	ctx, span := d.tracer.StartNotifySpan(ctx, d.name, job.userID)
	err := d.notifier.Notify(ctx, job.userID, job.event)
	d.tracer.EndNotifySpan(span, err)

	if err != nil {
		d.metrics.ObserveNotification("failed")
		d.log.SideEffectFailed("notify", job.event.ID, err)
		return
	}
	d.metrics.ObserveNotification("sent")
}

func (d *Dispatcher) dropped(userID string, ev Event, reason string) {
	d.metrics.ObserveNotification("dropped")
	d.log.Warn("notification dropped", map[string]interface{}{
		"task":   ev.ID,
		"user":   userID,
		"action": ev.Action,
		"reason": reason,
	})
}

// Close stops accepting events and waits for queued deliveries to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}
