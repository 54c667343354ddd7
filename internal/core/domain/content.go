package domain

import "time"

// Section names one independently loaded collection on a screen.
type Section string

const (
	SectionTopUsers      Section = "top_users"
	SectionTopPosts      Section = "top_posts"
	SectionTopCases      Section = "top_cases"
	SectionTopJobs       Section = "top_jobs"
	SectionTopGroups     Section = "top_groups"
	SectionWhoToFollow   Section = "who_to_follow"
	SectionProfilePosts  Section = "profile_posts"
	SectionProfileCases  Section = "profile_cases"
	SectionProfileHeader Section = "profile_header"
)

// FetchSpec describes one fetch a screen fans out during load.
type FetchSpec struct {
	Section Section
	Kind    EntityKind
	Limit   int
	// ResolveOwners adds a second stage that resolves each stub's owner.
	ResolveOwners bool
}

// EntityStub is what a page fetch returns before owners are resolved.
// Users arrive in User; every other kind arrives in Entity.
type EntityStub struct {
	Entity Entity
	User   *UserProjection
}

// Ref returns the routing key of the stub.
func (s EntityStub) Ref() EntityRef {
	if s.User != nil {
		return Ref(KindUser, s.User.ID)
	}
	return s.Entity.Ref
}

// Page is one page of a paginated fetch. An empty page means exhausted.
type Page struct {
	Items      []EntityStub
	NextCursor string
}

// IsEmpty reports whether the page carries no items.
func (p Page) IsEmpty() bool {
	return len(p.Items) == 0
}

// OwnerIDs returns the distinct owner ids referenced by non-user items.
func (p Page) OwnerIDs() []string {
	seen := make(map[string]struct{}, len(p.Items))
	ids := make([]string, 0, len(p.Items))
	for _, item := range p.Items {
		if item.User != nil || item.Entity.OwnerID == "" {
			continue
		}
		if _, ok := seen[item.Entity.OwnerID]; ok {
			continue
		}
		seen[item.Entity.OwnerID] = struct{}{}
		ids = append(ids, item.Entity.OwnerID)
	}
	return ids
}

// Action is a user action backed by a remote mutation.
type Action string

const (
	ActionLike       Action = "like"
	ActionUnlike     Action = "unlike"
	ActionBookmark   Action = "bookmark"
	ActionUnbookmark Action = "unbookmark"
	ActionFollow     Action = "follow"
	ActionUnfollow   Action = "unfollow"
	ActionConnect    Action = "connect"
	ActionWithdraw   Action = "withdraw"
	ActionAccept     Action = "accept"
	ActionRemove     Action = "remove"
	ActionHide       Action = "hide"
)

// IsConnectionAction reports whether the action drives the connection state machine.
func (a Action) IsConnectionAction() bool {
	switch a {
	case ActionConnect, ActionWithdraw, ActionAccept, ActionRemove:
		return true
	default:
		return false
	}
}

// MutationRequest is the remote effect of a user action.
type MutationRequest struct {
	ViewerID string
	Action   Action
	Ref      EntityRef
	At       time.Time
}
