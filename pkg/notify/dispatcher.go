package notify

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"topup-fulfillment/pkg/metrics"

	"go.uber.org/zap"
)

// Dispatcher queues events in memory and hands them to every transport from
// a small worker pool. Each send gets its own timeout. A full queue drops
// the event.
type Dispatcher struct {
	transports []Transport
	queue      chan Event
	workers    int
	timeout    time.Duration
	log        *zap.Logger
	metrics    *metrics.Metrics

	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

type Options struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
}

func NewDispatcher(opts Options, log *zap.Logger, m *metrics.Metrics, transports ...Transport) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Dispatcher{
		transports: transports,
		queue:      make(chan Event, opts.QueueSize),
		workers:    opts.Workers,
		timeout:    opts.Timeout,
		log:        log.With(zap.String("component", "notify")),
		metrics:    m,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		ctx = context.WithoutCancel(ctx)
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.worker(ctx)
		}
		d.log.Info("notify_dispatcher_started", zap.Int("workers", d.workers), zap.Int("transports", len(d.transports)))
	})
}

// Stop closes the queue and waits for queued events to be sent.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		d.wg.Wait()
		d.log.Info("notify_dispatcher_stopped")
	})
}

func (d *Dispatcher) Notify(ctx context.Context, e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.log.Warn("notify_after_stop", zap.String("order_id", e.OrderID))
		return
	}
	select {
	case d.queue <- e:
	default:
		d.metrics.Notification("queue", "dropped")
		d.log.Warn("notify_queue_full", zap.String("order_id", e.OrderID), zap.String("status", string(e.Status)))
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for e := range d.queue {
		for _, t := range d.transports {
			d.send(ctx, t, e)
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, t Transport, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.Notification(t.Name(), "panic")
			d.log.Error("notify_transport_panic",
				zap.String("transport", t.Name()),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := t.Send(ctx, e); err != nil {
		d.metrics.Notification(t.Name(), "failed")
		d.log.Warn("notify_send_failed",
			zap.String("transport", t.Name()),
			zap.String("order_id", e.OrderID),
			zap.Error(err),
		)
		return
	}
	d.metrics.Notification(t.Name(), "sent")
}
