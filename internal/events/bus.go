package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// DefaultHandlerTimeout bounds a single handler invocation.
const DefaultHandlerTimeout = 30 * time.Second

// DefaultQueueSize is the number of handler runs the bus holds while every worker is busy.
const DefaultQueueSize = 1024

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

type delivery struct {
	ctx     context.Context
	handler Handler
	event   Event
}

// Bus delivers events to subscribed handlers on an ants worker pool.
// Publish never waits for a worker: deliveries go to a bounded queue and are
// dropped with a warning when it is full. Handler errors are logged only.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler

	qmu     sync.RWMutex
	queue   chan delivery
	closed  bool
	stopped chan struct{}
	once    sync.Once

	pool    *ants.Pool
	wg      sync.WaitGroup
	dropped atomic.Int64
	timeout time.Duration
	logger  *zap.Logger
}

// NewBus creates a bus running at most workers handlers at a time and holding
// up to queueSize more.
func NewBus(workers, queueSize int, logger *zap.Logger) (*Bus, error) {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		handlers: make(map[string][]Handler),
		queue:    make(chan delivery, queueSize),
		stopped:  make(chan struct{}),
		timeout:  DefaultHandlerTimeout,
		logger:   logger,
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p interface{}) {
		b.logger.Error("event handler panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create event worker pool: %w", err)
	}
	b.pool = pool
	go b.dispatch()
	return b, nil
}

// Subscribe implements Subscriber.
func (b *Bus) Subscribe(eventType string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("nil handler for %s", eventType)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("subscribed to event", zap.String("event_type", eventType))
	return nil
}

// Publish implements Publisher. Handlers run detached from ctx cancellation,
// each bounded by the bus handler timeout.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := b.handlers[event.Type()]
	b.mu.RUnlock()

	b.logger.Debug("publishing event",
		zap.String("event_type", event.Type()),
		zap.String("event_id", event.ID()),
		zap.Int("handler_count", len(handlers)),
	)

	b.qmu.RLock()
	defer b.qmu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	base := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		b.wg.Add(1)
		select {
		case b.queue <- delivery{ctx: base, handler: handler, event: event}:
		default:
			b.wg.Done()
			b.dropped.Add(1)
			b.logger.Warn("event queue full, dropping delivery",
				zap.String("event_type", event.Type()),
				zap.String("event_id", event.ID()),
				zap.String("product_id", event.Key()),
			)
		}
	}
	return nil
}

// dispatch hands queued deliveries to the pool, waiting for a free worker.
func (b *Bus) dispatch() {
	defer close(b.stopped)
	for d := range b.queue {
		d := d
		err := b.pool.Submit(func() {
			defer b.wg.Done()
			b.run(d.ctx, d.handler, d.event)
		})
		if err != nil {
			b.wg.Done()
			b.logger.Error("failed to run event handler",
				zap.String("event_type", d.event.Type()),
				zap.String("event_id", d.event.ID()),
				zap.Error(err),
			)
		}
	}
}

func (b *Bus) run(ctx context.Context, handler Handler, event Event) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := handler.Handle(ctx, event); err != nil {
		b.logger.Error("event handler failed",
			zap.String("event_type", event.Type()),
			zap.String("event_id", event.ID()),
			zap.String("product_id", event.Key()),
			zap.Error(err),
		)
	}
}

// Dropped returns how many deliveries were discarded on a full queue.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Drain waits until every queued handler has finished or ctx is done.
// It reports whether the bus went idle.
func (b *Bus) Drain(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops accepting events and releases the worker pool. Deliveries still
// queued are discarded; call Drain first to let them run.
func (b *Bus) Close() {
	b.once.Do(func() {
		b.qmu.Lock()
		b.closed = true
		close(b.queue)
		b.qmu.Unlock()

		b.pool.Release()
		<-b.stopped
	})
}

var (
	_ Publisher  = (*Bus)(nil)
	_ Subscriber = (*Bus)(nil)
	_ Publisher  = NopPublisher{}
)
