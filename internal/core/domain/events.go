package domain

import "time"

// ChangeType defines the kind of entity change carried on the bus.
type ChangeType string

const (
	ChangeLike         ChangeType = "LIKE_CHANGED"
	ChangeBookmark     ChangeType = "BOOKMARK_CHANGED"
	ChangeCommentCount ChangeType = "COMMENT_COUNT_CHANGED"
	ChangeVisibility   ChangeType = "VISIBILITY_REMOVED"
	ChangeFollow       ChangeType = "FOLLOW_CHANGED"
	ChangeConnection   ChangeType = "CONNECTION_CHANGED"
)

// Origin identifies the viewer, the screen and the individual publish that
// caused an event.
type Origin struct {
	ViewerID string `json:"viewerId"`
	ScreenID string `json:"screenId"`
	Token    string `json:"token"`
}

// ChangeEvent is a tagged union over the entity changes screens exchange.
// Only the fields relevant to Type are set; use the constructors below.
type ChangeEvent struct {
	Type ChangeType `json:"type"`

	// Like, bookmark, comment and visibility changes
	Ref         EntityRef `json:"ref,omitempty"`
	DidLike     bool      `json:"didLike,omitempty"`
	DidBookmark bool      `json:"didBookmark,omitempty"`
	Delta       int       `json:"delta,omitempty"`
	// Path lists ancestor comment ids; empty means a top-level comment.
	Path []string `json:"path,omitempty"`

	// Follow and connection changes
	UserID     string       `json:"userId,omitempty"`
	IsFollowed bool         `json:"isFollowed,omitempty"`
	Connection Relationship `json:"connection,omitempty"`

	Origin Origin `json:"origin"`
}

func LikeChanged(ref EntityRef, didLike bool) ChangeEvent {
	return ChangeEvent{Type: ChangeLike, Ref: ref, DidLike: didLike}
}

func BookmarkChanged(ref EntityRef, didBookmark bool) ChangeEvent {
	return ChangeEvent{Type: ChangeBookmark, Ref: ref, DidBookmark: didBookmark}
}

func CommentCountChanged(ref EntityRef, delta int, path []string) ChangeEvent {
	return ChangeEvent{Type: ChangeCommentCount, Ref: ref, Delta: delta, Path: path}
}

func VisibilityRemoved(ref EntityRef) ChangeEvent {
	return ChangeEvent{Type: ChangeVisibility, Ref: ref}
}

func FollowChanged(userID string, isFollowed bool) ChangeEvent {
	return ChangeEvent{Type: ChangeFollow, UserID: userID, IsFollowed: isFollowed}
}

func ConnectionChanged(userID string, phase ConnectionPhase, at time.Time) ChangeEvent {
	return ChangeEvent{
		Type:       ChangeConnection,
		UserID:     userID,
		Connection: Relationship{Phase: phase, ChangedAt: at},
	}
}

// IsTopLevel reports whether a comment change affects the parent's visible count.
func (e ChangeEvent) IsTopLevel() bool {
	return len(e.Path) == 0
}

// ViewerScoped reports whether the event describes the origin viewer's own
// state (flags, follows, relationships, hidden items) rather than shared counts.
// Screens of other viewers must not apply viewer-scoped events.
func (e ChangeEvent) ViewerScoped() bool {
	return e.Type != ChangeCommentCount
}
