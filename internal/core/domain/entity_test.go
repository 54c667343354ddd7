package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lorrc/carenet-sync/internal/core/domain"
)

func TestEntityKind_IsValid(t *testing.T) {
	for _, k := range []domain.EntityKind{domain.KindPost, domain.KindCase, domain.KindUser, domain.KindJob, domain.KindGroup} {
		assert.True(t, k.IsValid(), k)
	}
	assert.False(t, domain.EntityKind("comment").IsValid())
	assert.False(t, domain.EntityKind("").IsValid())
}

func TestEntity_SetLiked(t *testing.T) {
	e := domain.Entity{LikeCount: 3}

	assert.True(t, e.SetLiked(true))
	assert.Equal(t, 4, e.LikeCount)
	assert.True(t, e.DidLike)

	// idempotent in the same direction
	assert.False(t, e.SetLiked(true))
	assert.Equal(t, 4, e.LikeCount)

	assert.True(t, e.SetLiked(false))
	assert.Equal(t, 3, e.LikeCount)
}

func TestEntity_CountersNeverGoNegative(t *testing.T) {
	e := domain.Entity{DidLike: true, DidBookmark: true}

	e.SetLiked(false)
	e.SetBookmarked(false)
	e.AddComments(-1)

	assert.Zero(t, e.LikeCount)
	assert.Zero(t, e.BookmarkCount)
	assert.Zero(t, e.CommentCount)
}

func TestEntity_SetBookmarked(t *testing.T) {
	e := domain.Entity{BookmarkCount: 1}
	assert.True(t, e.SetBookmarked(true))
	assert.Equal(t, 2, e.BookmarkCount)
	assert.False(t, e.SetBookmarked(true))
}

func TestEntityRef_String(t *testing.T) {
	assert.Equal(t, "case/c-1", domain.Ref(domain.KindCase, "c-1").String())
}

func TestChangeEvent_Scoping(t *testing.T) {
	ref := domain.Ref(domain.KindPost, "p-1")

	tests := []struct {
		name   string
		event  domain.ChangeEvent
		scoped bool
	}{
		{"like", domain.LikeChanged(ref, true), true},
		{"bookmark", domain.BookmarkChanged(ref, false), true},
		{"hide", domain.VisibilityRemoved(ref), true},
		{"follow", domain.FollowChanged("u-1", true), true},
		{"connection", domain.ConnectionChanged("u-1", domain.PhasePending, time.Now()), true},
		{"comment count", domain.CommentCountChanged(ref, 1, nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.scoped, tt.event.ViewerScoped())
		})
	}
}

func TestChangeEvent_IsTopLevel(t *testing.T) {
	ref := domain.Ref(domain.KindPost, "p-1")
	assert.True(t, domain.CommentCountChanged(ref, 1, nil).IsTopLevel())
	assert.False(t, domain.CommentCountChanged(ref, 1, []string{"c-9"}).IsTopLevel())
}

func TestPage_OwnerIDs(t *testing.T) {
	page := domain.Page{Items: []domain.EntityStub{
		{Entity: domain.Entity{Ref: domain.Ref(domain.KindPost, "p-1"), OwnerID: "u-1"}},
		{Entity: domain.Entity{Ref: domain.Ref(domain.KindPost, "p-2"), OwnerID: "u-2"}},
		{Entity: domain.Entity{Ref: domain.Ref(domain.KindPost, "p-3"), OwnerID: "u-1"}},
		{Entity: domain.Entity{Ref: domain.Ref(domain.KindPost, "p-4")}},
		{User: &domain.UserProjection{ID: "u-3"}},
	}}

	assert.Equal(t, []string{"u-1", "u-2"}, page.OwnerIDs())
	assert.False(t, page.IsEmpty())
	assert.True(t, domain.Page{}.IsEmpty())
}

func TestEntityStub_Ref(t *testing.T) {
	user := domain.EntityStub{User: &domain.UserProjection{ID: "u-1"}}
	assert.Equal(t, domain.Ref(domain.KindUser, "u-1"), user.Ref())

	post := domain.EntityStub{Entity: domain.Entity{Ref: domain.Ref(domain.KindPost, "p-1")}}
	assert.Equal(t, domain.Ref(domain.KindPost, "p-1"), post.Ref())
}

func TestAction_IsConnectionAction(t *testing.T) {
	assert.True(t, domain.ActionConnect.IsConnectionAction())
	assert.True(t, domain.ActionRemove.IsConnectionAction())
	assert.False(t, domain.ActionFollow.IsConnectionAction())
	assert.False(t, domain.ActionHide.IsConnectionAction())
}

func TestConnectionPhase_IsValid(t *testing.T) {
	assert.True(t, domain.PhaseUnconnect.IsValid())
	assert.True(t, domain.NoRelationship().Phase.IsValid())
	assert.False(t, domain.ConnectionPhase("blocked").IsValid())
}
