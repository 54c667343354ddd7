package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lorrc/carenet-sync/internal/core/connection"
	"github.com/lorrc/carenet-sync/internal/core/domain"
	apperrors "github.com/lorrc/carenet-sync/internal/core/errors"
	"github.com/lorrc/carenet-sync/internal/core/ports"
	"github.com/lorrc/carenet-sync/internal/core/store"
	"github.com/lorrc/carenet-sync/internal/infrastructure/metrics"
)

// ScreenDeps are the collaborators shared by every screen.
type ScreenDeps struct {
	Source     ports.DataSource
	Bus        ports.ChangeBus
	Presenter  ports.Presenter
	Notifier   ports.Notifier
	Machine    *connection.Machine
	Aggregator AggregatorConfig
	// Clock defaults to time.Now
	Clock  func() time.Time
	Logger *slog.Logger
}

// Screen is one live view: its own store, its own load and a bus subscription.
type Screen struct {
	id       string
	viewerID string
	kind     domain.ScreenKind
	topic    string
	specs    []domain.FetchSpec

	store      *store.EntityStore
	aggregator *ContentAggregator
	deps       ScreenDeps

	closed     atomic.Bool
	loaded     atomic.Bool
	revealOnce sync.Once
	revealed   chan struct{}
	done       chan struct{}
	startedAt  time.Time

	// background notifications
	wg sync.WaitGroup

	logger *slog.Logger
}

var _ ports.Screen = (*Screen)(nil)

func newScreen(id string, params ports.OpenScreenParams, specs []domain.FetchSpec, deps ScreenDeps) *Screen {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	s := &Screen{
		id:       id,
		viewerID: params.ViewerID,
		kind:     params.Kind,
		topic:    params.Topic,
		specs:    specs,
		store:    store.New(),
		deps:     deps,
		revealed: make(chan struct{}),
		done:     make(chan struct{}),
		logger: deps.Logger.With(
			"component", "screen",
			"screen_id", id,
			"viewer_id", params.ViewerID,
		),
	}
	s.aggregator = NewContentAggregator(
		deps.Source,
		s.store,
		LoadScope{ViewerID: params.ViewerID, Topic: params.Topic, OwnerID: params.SubjectID},
		deps.Aggregator,
		s.isOpen,
		deps.Logger,
	)
	return s
}

// start subscribes to the bus and kicks off the initial load.
func (s *Screen) start(ctx context.Context) {
	s.deps.Bus.Subscribe(s.id, s.onChange)
	s.startedAt = s.deps.Clock()
	// fetches outlive the request that opened the screen
	s.aggregator.Load(context.WithoutCancel(ctx), s.specs, s.reveal)
}

func (s *Screen) ID() string       { return s.id }
func (s *Screen) ViewerID() string { return s.viewerID }
func (s *Screen) Loaded() bool     { return s.loaded.Load() }

func (s *Screen) isOpen() bool { return !s.closed.Load() }

// Snapshot returns a copy of everything the screen displays.
func (s *Screen) Snapshot() domain.ScreenSnapshot {
	return domain.ScreenSnapshot{
		ScreenID: s.id,
		Kind:     s.kind,
		Topic:    s.topic,
		Loaded:   s.loaded.Load(),
		Sections: s.store.Items(),
	}
}

// WaitLoaded blocks until the screen revealed, closed or ctx is done.
func (s *Screen) WaitLoaded(ctx context.Context) error {
	select {
	case <-s.revealed:
		return nil
	case <-s.done:
		return apperrors.ErrScreenClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reveal is the join continuation. It runs at most once.
func (s *Screen) reveal() {
	s.revealOnce.Do(func() {
		if !s.isOpen() {
			return
		}
		s.loaded.Store(true)
		metrics.ObserveLoad(string(s.kind), s.deps.Clock().Sub(s.startedAt))
		s.deps.Presenter.Reveal(s.Snapshot())
		close(s.revealed)
		s.logger.Debug("screen revealed")
	})
}

// LoadMore appends the next page of section.
func (s *Screen) LoadMore(ctx context.Context, section domain.Section) error {
	if !s.isOpen() {
		return apperrors.ErrScreenClosed
	}
	spec, ok := s.spec(section)
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrSectionUnknown, section)
	}

	added, err := s.aggregator.LoadMore(ctx, spec)
	if err != nil {
		return err
	}
	if added > 0 && s.loaded.Load() {
		s.deps.Presenter.Refresh(domain.ScreenUpdate{
			Type:     domain.UpdateAppend,
			ScreenID: s.id,
			Section:  section,
			Payload:  s.store.Items()[section],
		})
	}
	return nil
}

// SetLiked likes or unlikes ref.
func (s *Screen) SetLiked(ctx context.Context, ref domain.EntityRef, liked bool) error {
	action := domain.ActionUnlike
	if liked {
		action = domain.ActionLike
	}
	return s.mutate(ctx, action, ref, func() (store.Undo, bool, error) {
		return s.store.SetLiked(ref, liked)
	}, domain.LikeChanged(ref, liked))
}

// SetBookmarked bookmarks or unbookmarks ref.
func (s *Screen) SetBookmarked(ctx context.Context, ref domain.EntityRef, bookmarked bool) error {
	action := domain.ActionUnbookmark
	if bookmarked {
		action = domain.ActionBookmark
	}
	return s.mutate(ctx, action, ref, func() (store.Undo, bool, error) {
		return s.store.SetBookmarked(ref, bookmarked)
	}, domain.BookmarkChanged(ref, bookmarked))
}

// SetFollowed follows or unfollows userID.
func (s *Screen) SetFollowed(ctx context.Context, userID string, followed bool) error {
	if userID == s.viewerID {
		return apperrors.ErrSelfConnection
	}
	action := domain.ActionUnfollow
	if followed {
		action = domain.ActionFollow
	}
	return s.mutate(ctx, action, domain.Ref(domain.KindUser, userID), func() (store.Undo, bool, error) {
		return s.store.SetFollowed(userID, followed)
	}, domain.FollowChanged(userID, followed))
}

// Hide removes ref from every section of every screen of this viewer.
func (s *Screen) Hide(ctx context.Context, ref domain.EntityRef) error {
	return s.mutate(ctx, domain.ActionHide, ref, func() (store.Undo, bool, error) {
		undo, err := s.store.Remove(ref)
		return undo, err == nil, err
	}, domain.VisibilityRemoved(ref))
}

// ChangeConnection drives the relationship with userID through action.
// Cool-down and illegal transitions fail locally without a remote call.
func (s *Screen) ChangeConnection(ctx context.Context, userID string, action domain.Action) (domain.Relationship, error) {
	if userID == s.viewerID {
		return domain.Relationship{}, apperrors.ErrSelfConnection
	}
	user, ok := s.store.User(userID)
	if !ok {
		return domain.Relationship{}, fmt.Errorf("%w: %s", apperrors.ErrUserNotFound, userID)
	}

	next, err := s.deps.Machine.Transition(user.Connection, action, s.deps.Clock())
	if err != nil {
		return user.Connection, err
	}

	err = s.mutate(ctx, action, domain.Ref(domain.KindUser, userID), func() (store.Undo, bool, error) {
		undo, err := s.store.SetConnection(userID, next)
		return undo, err == nil, err
	}, domain.ConnectionChanged(userID, next.Phase, next.ChangedAt))
	if err != nil {
		return user.Connection, err
	}

	if action == domain.ActionConnect || action == domain.ActionAccept {
		s.wg.Add(1)
		go s.notifyConnection(userID, action)
	}
	return next, nil
}

// RecordComment propagates a comment persisted elsewhere. Only top-level
// comments (empty path) move the visible count.
func (s *Screen) RecordComment(ctx context.Context, ref domain.EntityRef, path []string, delta int) error {
	if !s.isOpen() {
		return apperrors.ErrScreenClosed
	}
	if delta != 1 && delta != -1 {
		return apperrors.ErrInvalidDelta
	}

	event := domain.CommentCountChanged(ref, delta, path)
	if event.IsTopLevel() {
		if _, err := s.store.AddComments(ref, delta); err == nil {
			s.refresh(ref)
		}
	}
	if err := s.publish(ctx, event); err != nil {
		return fmt.Errorf("record comment on %s: %w", ref, err)
	}
	return nil
}

// Close unsubscribes the screen. Late fetch completions and bus
// deliveries become no-ops. Close is idempotent.
func (s *Screen) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.deps.Bus.Unsubscribe(s.id)
	close(s.done)
	s.logger.Debug("screen closed")
}

// wait blocks until background notifications finish.
func (s *Screen) wait() {
	s.wg.Wait()
}

// mutate runs the optimistic protocol: change locally, show it, confirm
// remotely, then either publish or put everything back.
func (s *Screen) mutate(
	ctx context.Context,
	action domain.Action,
	ref domain.EntityRef,
	local func() (store.Undo, bool, error),
	event domain.ChangeEvent,
) error {
	if !s.isOpen() {
		return apperrors.ErrScreenClosed
	}

	// 1. Local change
	undo, changed, err := local()
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	s.refresh(ref)

	// 2. Remote confirmation
	err = s.deps.Source.Mutate(ctx, domain.MutationRequest{
		ViewerID: s.viewerID,
		Action:   action,
		Ref:      ref,
		At:       s.deps.Clock(),
	})
	if err != nil {
		// 3a. Roll back, nothing is published
		s.store.Restore(undo)
		s.refresh(ref)
		metrics.IncRollback(string(action))
		s.logger.WarnContext(ctx, "mutation failed, rolled back",
			"action", action,
			"ref", ref.String(),
			"error", err,
		)
		return fmt.Errorf("%s %s: %w", action, ref, err)
	}

	// 3b. Tell the other screens. The change is confirmed remotely, so a
	// failed publish is counted and logged but not reported to the caller.
	_ = s.publish(ctx, event)
	return nil
}

// publish sends event with a fresh echo token. Failures are counted so
// screens that missed a confirmed change show up in metrics.
func (s *Screen) publish(ctx context.Context, event domain.ChangeEvent) error {
	token := ulid.Make().String()
	event.Origin = domain.Origin{ViewerID: s.viewerID, ScreenID: s.id, Token: token}

	s.store.ExpectEcho(token)
	if err := s.deps.Bus.Publish(ctx, event); err != nil {
		s.store.ForgetEcho(token)
		metrics.IncPublishFailure(string(event.Type))
		s.logger.ErrorContext(ctx, "failed to publish change",
			"event_type", event.Type,
			"error", err,
		)
		return err
	}
	return nil
}

// onChange is the bus handler.
func (s *Screen) onChange(event domain.ChangeEvent) {
	if !s.isOpen() {
		return
	}
	if event.ViewerScoped() && event.Origin.ViewerID != s.viewerID {
		return
	}

	switch s.store.Apply(event) {
	case store.Echo:
		metrics.IncEchoSuppressed()
	case store.Applied:
		switch event.Type {
		case domain.ChangeFollow, domain.ChangeConnection:
			s.refresh(domain.Ref(domain.KindUser, event.UserID))
		default:
			s.refresh(event.Ref)
		}
	}
}

// refresh pushes the current rendering of ref once the screen is revealed.
func (s *Screen) refresh(ref domain.EntityRef) {
	if !s.loaded.Load() || !s.isOpen() {
		return
	}
	update := domain.ScreenUpdate{ScreenID: s.id, Ref: ref}
	if item, ok := s.store.Item(ref); ok && s.onScreen(ref) {
		update.Type = domain.UpdateRefresh
		update.Payload = item
	} else {
		update.Type = domain.UpdateRemoved
	}
	s.deps.Presenter.Refresh(update)
}

// onScreen reports whether ref is visible anywhere. Owners count as visible
// through the items they own.
func (s *Screen) onScreen(ref domain.EntityRef) bool {
	if ref.Kind == domain.KindUser {
		return true
	}
	e, ok := s.store.Entity(ref)
	return ok && e.Visible
}

func (s *Screen) spec(section domain.Section) (domain.FetchSpec, bool) {
	for _, spec := range s.specs {
		if spec.Section == section {
			return spec, true
		}
	}
	return domain.FetchSpec{}, false
}

func (s *Screen) notifyConnection(userID string, action domain.Action) {
	defer s.wg.Done()

	message := "You have a new connection request."
	if action == domain.ActionAccept {
		message = "Your connection request was accepted."
	}

	s.deps.Notifier.Notify(context.Background(), ports.NotificationParams{
		RecipientUserID: userID,
		ActorUserID:     s.viewerID,
		Action:          action,
		Subject:         "Connection update",
		Message:         message,
	})
}
