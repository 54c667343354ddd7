package domain

import (
	"time"
)

// EntityKind identifies which collection an entity belongs to.
type EntityKind string

const (
	KindPost  EntityKind = "post"
	KindCase  EntityKind = "case"
	KindUser  EntityKind = "user"
	KindJob   EntityKind = "job"
	KindGroup EntityKind = "group"
)

// IsValid checks if the kind is one of the known entity kinds
func (k EntityKind) IsValid() bool {
	switch k {
	case KindPost, KindCase, KindUser, KindJob, KindGroup:
		return true
	default:
		return false
	}
}

// EntityRef is the routing key for change events.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// Ref builds an EntityRef.
func Ref(kind EntityKind, id string) EntityRef {
	return EntityRef{Kind: kind, ID: id}
}

func (r EntityRef) String() string {
	return string(r.Kind) + "/" + r.ID
}

// Entity is a screen-local projection of a post, case, job or group.
// Counters never go below zero.
type Entity struct {
	Ref           EntityRef `json:"ref"`
	OwnerID       string    `json:"ownerId"`
	Title         string    `json:"title"`
	LikeCount     int       `json:"likeCount"`
	DidLike       bool      `json:"didLike"`
	BookmarkCount int       `json:"bookmarkCount"`
	DidBookmark   bool      `json:"didBookmark"`
	CommentCount  int       `json:"commentCount"`
	Visible       bool      `json:"visible"`
	CreatedAt     time.Time `json:"createdAt"`
}

// SetLiked sets DidLike and moves LikeCount by one in the same direction.
// It reports whether the flag changed.
func (e *Entity) SetLiked(liked bool) bool {
	if e.DidLike == liked {
		return false
	}
	e.DidLike = liked
	e.LikeCount = clampedAdd(e.LikeCount, boolDelta(liked))
	return true
}

// SetBookmarked sets DidBookmark and moves BookmarkCount by one in the same direction.
func (e *Entity) SetBookmarked(bookmarked bool) bool {
	if e.DidBookmark == bookmarked {
		return false
	}
	e.DidBookmark = bookmarked
	e.BookmarkCount = clampedAdd(e.BookmarkCount, boolDelta(bookmarked))
	return true
}

// AddComments adjusts CommentCount, clamping at zero.
func (e *Entity) AddComments(delta int) {
	e.CommentCount = clampedAdd(e.CommentCount, delta)
}

func boolDelta(on bool) int {
	if on {
		return 1
	}
	return -1
}

func clampedAdd(value, delta int) int {
	value += delta
	if value < 0 {
		return 0
	}
	return value
}
