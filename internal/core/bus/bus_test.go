package bus_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lorrc/carenet-sync/internal/core/bus"
	"github.com/lorrc/carenet-sync/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T, buffer int) (*bus.ChangeBus, context.CancelFunc) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(buffer, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	t.Cleanup(cancel)
	return b, cancel
}

type recorder struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (r *recorder) handle(e domain.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []domain.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ChangeEvent(nil), r.events...)
}

func TestChangeBus_DeliversToAllSubscribersInOrder(t *testing.T) {
	b, _ := newTestBus(t, 16)
	first, second := &recorder{}, &recorder{}
	b.Subscribe("screen-a", first.handle)
	b.Subscribe("screen-b", second.handle)

	ref := domain.Ref(domain.KindPost, "p1")
	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Publish(context.Background(), domain.CommentCountChanged(ref, i, nil)))
	}

	for _, r := range []*recorder{first, second} {
		r := r
		assert.Eventually(t, func() bool { return len(r.snapshot()) == 5 }, time.Second, 5*time.Millisecond)
		for i, e := range r.snapshot() {
			assert.Equal(t, i+1, e.Delta)
		}
	}
}

func TestChangeBus_Unsubscribe(t *testing.T) {
	b, _ := newTestBus(t, 16)
	kept, removed := &recorder{}, &recorder{}
	b.Subscribe("kept", kept.handle)
	b.Subscribe("removed", removed.handle)
	assert.Equal(t, 2, b.SubscriberCount())

	b.Unsubscribe("removed")
	b.Unsubscribe("never-subscribed")
	assert.Equal(t, 1, b.SubscriberCount())

	require.NoError(t, b.Publish(context.Background(), domain.FollowChanged("u1", true)))

	assert.Eventually(t, func() bool { return len(kept.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, removed.snapshot())
}

func TestChangeBus_SubscribeReplacesSameID(t *testing.T) {
	b, _ := newTestBus(t, 4)
	old, current := &recorder{}, &recorder{}
	b.Subscribe("screen", old.handle)
	b.Subscribe("screen", current.handle)
	assert.Equal(t, 1, b.SubscriberCount())

	require.NoError(t, b.Publish(context.Background(), domain.FollowChanged("u1", false)))

	assert.Eventually(t, func() bool { return len(current.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, old.snapshot())
}

func TestChangeBus_PanickingSubscriberDoesNotStopDelivery(t *testing.T) {
	b, _ := newTestBus(t, 4)
	healthy := &recorder{}
	b.Subscribe("broken", func(domain.ChangeEvent) { panic("boom") })
	b.Subscribe("healthy", healthy.handle)

	require.NoError(t, b.Publish(context.Background(), domain.VisibilityRemoved(domain.Ref(domain.KindCase, "c1"))))
	require.NoError(t, b.Publish(context.Background(), domain.VisibilityRemoved(domain.Ref(domain.KindCase, "c2"))))

	assert.Eventually(t, func() bool { return len(healthy.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestChangeBus_PublishBlocksWhenFull(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(1, logger) // not running

	require.NoError(t, b.Publish(context.Background(), domain.FollowChanged("u1", true)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Publish(ctx, domain.FollowChanged("u2", true))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChangeBus_PublishAfterStop(t *testing.T) {
	b, cancel := newTestBus(t, 4)
	require.NoError(t, b.Ping(context.Background()))
	cancel()
	<-b.Done()

	assert.ErrorIs(t, b.Ping(context.Background()), bus.ErrClosed)
	err := b.Publish(context.Background(), domain.FollowChanged("u1", true))
	assert.ErrorIs(t, err, bus.ErrClosed)
}
