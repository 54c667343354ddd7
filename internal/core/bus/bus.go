// Package bus is the process-wide channel over which live screens exchange
// entity changes.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lorrc/carenet-sync/internal/core/domain"
	apperrors "github.com/lorrc/carenet-sync/internal/core/errors"
	"github.com/lorrc/carenet-sync/internal/core/ports"
	"github.com/lorrc/carenet-sync/internal/infrastructure/metrics"
)

// ErrClosed is returned by Publish once the dispatch loop has stopped.
var ErrClosed = fmt.Errorf("change bus closed: %w", apperrors.ErrUnavailable)

type subscriber struct {
	id      string
	handler func(domain.ChangeEvent)
}

// ChangeBus delivers every published event to every subscriber, in publish
// order, from a single dispatch goroutine. It keeps no history.
type ChangeBus struct {
	events chan domain.ChangeEvent
	done   chan struct{}
	stop   sync.Once

	// writers serialize on mu; dispatch reads the current slice without locking
	mu          sync.Mutex
	subscribers atomic.Pointer[[]subscriber]

	logger *slog.Logger
}

var _ ports.ChangeBus = (*ChangeBus)(nil)

// New creates a bus whose publish queue holds bufferSize events.
func New(bufferSize int, logger *slog.Logger) *ChangeBus {
	if bufferSize < 0 {
		bufferSize = 0
	}
	b := &ChangeBus{
		events: make(chan domain.ChangeEvent, bufferSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "change_bus"),
	}
	empty := []subscriber{}
	b.subscribers.Store(&empty)
	return b
}

// Subscribe registers handler under subscriberID, replacing any previous
// handler with the same id. Handlers run on the dispatch goroutine.
func (b *ChangeBus) Subscribe(subscriberID string, handler func(domain.ChangeEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.subscribers.Load()
	next := make([]subscriber, 0, len(current)+1)
	for _, s := range current {
		if s.id != subscriberID {
			next = append(next, s)
		}
	}
	next = append(next, subscriber{id: subscriberID, handler: handler})
	b.subscribers.Store(&next)

	metrics.SetSubscribers(len(next))
	b.logger.Debug("subscriber added", "subscriber_id", subscriberID, "total", len(next))
}

// Unsubscribe removes subscriberID. Unknown ids are ignored.
func (b *ChangeBus) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.subscribers.Load()
	next := make([]subscriber, 0, len(current))
	for _, s := range current {
		if s.id != subscriberID {
			next = append(next, s)
		}
	}
	if len(next) == len(current) {
		return
	}
	b.subscribers.Store(&next)

	metrics.SetSubscribers(len(next))
	b.logger.Debug("subscriber removed", "subscriber_id", subscriberID, "total", len(next))
}

// SubscriberCount returns the number of registered subscribers.
func (b *ChangeBus) SubscriberCount() int {
	return len(*b.subscribers.Load())
}

// Publish queues event for delivery. It blocks while the queue is full
// until ctx is done or the bus stops; events are never dropped silently.
func (b *ChangeBus) Publish(ctx context.Context, event domain.ChangeEvent) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	select {
	case b.events <- event:
		metrics.IncPublished(string(event.Type))
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		b.logger.Warn("publish abandoned",
			"event_type", event.Type,
			"origin_screen", event.Origin.ScreenID,
			"error", ctx.Err(),
		)
		return ctx.Err()
	}
}

// Run dispatches queued events until ctx is done. This MUST be run as a goroutine.
func (b *ChangeBus) Run(ctx context.Context) {
	defer b.stop.Do(func() { close(b.done) })

	b.logger.Info("change bus started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("change bus stopped", "pending", len(b.events))
			return
		case event := <-b.events:
			b.dispatch(event)
		}
	}
}

// Done is closed after Run returns.
func (b *ChangeBus) Done() <-chan struct{} {
	return b.done
}

// Ping reports ErrClosed once the dispatch loop has stopped.
func (b *ChangeBus) Ping(context.Context) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
		return nil
	}
}

func (b *ChangeBus) dispatch(event domain.ChangeEvent) {
	subscribers := *b.subscribers.Load()

	b.logger.Debug("dispatching event",
		"event_type", event.Type,
		"origin_screen", event.Origin.ScreenID,
		"subscriber_count", len(subscribers),
	)

	for _, s := range subscribers {
		b.deliver(s, event)
	}
}

func (b *ChangeBus) deliver(s subscriber, event domain.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				"subscriber_id", s.id,
				"event_type", event.Type,
				"panic", r,
			)
		}
	}()
	s.handler(event)
	metrics.IncDelivered(string(event.Type))
}
