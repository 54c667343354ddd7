package ports

import (
	"context"

	"github.com/lorrc/carenet-sync/internal/core/domain"
)

// Broadcaster publishes change events to every live screen.
type Broadcaster interface {
	Publish(ctx context.Context, event domain.ChangeEvent) error
}

// ChangeBus is the process-wide channel screens subscribe to.
type ChangeBus interface {
	Broadcaster
	Subscribe(subscriberID string, handler func(domain.ChangeEvent))
	Unsubscribe(subscriberID string)
}

// Presenter receives what a screen should display.
type Presenter interface {
	Reveal(snapshot domain.ScreenSnapshot)
	Refresh(update domain.ScreenUpdate)
}

// NotificationParams defines the input for notifying another user.
type NotificationParams struct {
	RecipientUserID string
	ActorUserID     string
	Action          domain.Action
	Subject         string
	Message         string
}

// Notifier defines the port for sending asynchronous notifications.
type Notifier interface {
	Notify(ctx context.Context, params NotificationParams)
}

// OpenScreenParams defines the input for opening a screen.
type OpenScreenParams struct {
	ViewerID string
	Kind     domain.ScreenKind
	Topic    string
	// SubjectID is the profile owner for profile screens.
	SubjectID string
	// Sections limits which sections load; empty means the kind's defaults.
	Sections []domain.Section
}

// Screen is one live view owned by a viewer.
type Screen interface {
	ID() string
	ViewerID() string
	Loaded() bool
	// WaitLoaded blocks until the initial load revealed the screen.
	WaitLoaded(ctx context.Context) error
	Snapshot() domain.ScreenSnapshot
	LoadMore(ctx context.Context, section domain.Section) error
	SetLiked(ctx context.Context, ref domain.EntityRef, liked bool) error
	SetBookmarked(ctx context.Context, ref domain.EntityRef, bookmarked bool) error
	SetFollowed(ctx context.Context, userID string, followed bool) error
	ChangeConnection(ctx context.Context, userID string, action domain.Action) (domain.Relationship, error)
	Hide(ctx context.Context, ref domain.EntityRef) error
	RecordComment(ctx context.Context, ref domain.EntityRef, path []string, delta int) error
	Close()
}

// ScreenService opens, finds and closes screens.
type ScreenService interface {
	Open(ctx context.Context, params OpenScreenParams) (Screen, error)
	Get(viewerID, screenID string) (Screen, error)
	// List returns the viewer's open screens ordered by id.
	List(viewerID string) []Screen
	Close(viewerID, screenID string) error
	Shutdown()
}
