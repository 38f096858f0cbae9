/**
 * @description
 * Fire-and-forget notification dispatch. Lifecycle operations enqueue an event and
 * return immediately; a single worker goroutine publishes to the events exchange.
 *
 * @notes
 * - Notify never blocks. When the queue is full the event is dropped and logged.
 * - Publish failures are logged and swallowed.
 */
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pankajsagvekar/meal-mitra/internal/domain"
	"github.com/pankajsagvekar/meal-mitra/pkg/rabbitmq"
)

// Notifier is what the lifecycle code depends on.
type Notifier interface {
	Notify(recipient string, kind domain.NotificationKind, payload map[string]string)
}

// Dispatcher queues notifications for asynchronous publishing.
type Dispatcher struct {
	publisher rabbitmq.Publisher
	exchange  string
	timeout   time.Duration
	logger    *slog.Logger

	queue     chan domain.NotificationEvent
	closeOnce sync.Once
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
}

// NewDispatcher creates a dispatcher with a bounded queue. Call Start to begin publishing.
func NewDispatcher(publisher rabbitmq.Publisher, exchange string, queueSize int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{}
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		publisher: publisher,
		exchange:  exchange,
		timeout:   timeout,
		logger:    logger,
		queue:     make(chan domain.NotificationEvent, queueSize),
		done:      make(chan struct{}),
	}
}

// Notify enqueues an event without blocking.
func (d *Dispatcher) Notify(recipient string, kind domain.NotificationKind, payload map[string]string) {
	if recipient == "" {
		d.logger.Warn("notification dropped", "kind", kind, "reason", "no recipient")
		return
	}
	event := domain.NotificationEvent{
		ID:        uuid.New(),
		Kind:      kind,
		Recipient: recipient,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("notification dropped", "kind", kind, "reason", "dispatcher closed")
		return
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("notification dropped", "kind", kind, "reason", "queue full", "capacity", cap(d.queue))
	}
}

// Start launches the publishing worker. It drains the queue after Close.
func (d *Dispatcher) Start() {
	go func() {
		defer close(d.done)
		for event := range d.queue {
			d.publish(event)
		}
	}()
}

func (d *Dispatcher) publish(event domain.NotificationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.publisher.Publish(ctx, d.exchange, event.Kind.RoutingKey(), event); err != nil {
		d.logger.Error("notification publish failed", "kind", event.Kind, "event_id", event.ID, "error", err)
		return
	}
	d.logger.Debug("notification published", "kind", event.Kind, "event_id", event.ID)
}

// Close stops accepting events and waits up to ctx for the queue to drain.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
