// Package store holds a screen's local projections of entities and users and
// applies change events to them.
package store

import (
	"fmt"
	"sync"

	"github.com/lorrc/carenet-sync/internal/core/domain"
	apperrors "github.com/lorrc/carenet-sync/internal/core/errors"
)

// Outcome reports what Apply did with an event.
type Outcome int

const (
	// Ignored means the event did not touch anything on this store.
	Ignored Outcome = iota
	// Applied means at least one projection changed.
	Applied
	// Echo means the event was this store's own publish coming back.
	Echo
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Echo:
		return "echo"
	default:
		return "ignored"
	}
}

type section struct {
	refs      []domain.EntityRef
	cursor    string
	exhausted bool
}

// EntityStore is safe for concurrent use. Every accessor returns copies.
type EntityStore struct {
	mu       sync.RWMutex
	entities map[domain.EntityRef]*domain.Entity
	users    map[string]*domain.UserProjection
	sections map[domain.Section]*section
	order    []domain.Section
	echoes   map[string]struct{}
}

// New creates an empty store.
func New() *EntityStore {
	return &EntityStore{
		entities: make(map[domain.EntityRef]*domain.Entity),
		users:    make(map[string]*domain.UserProjection),
		sections: make(map[domain.Section]*section),
		echoes:   make(map[string]struct{}),
	}
}

// Declare registers sections so they render, in order, even while empty.
func (s *EntityStore) Declare(sections ...domain.Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range sections {
		s.sectionLocked(name)
	}
}

// Append adds a fetched page to a section along with its resolved owners.
// Items already on the section are skipped; projections already in the
// store win over fetched copies. An empty page marks the section exhausted.
func (s *EntityStore) Append(name domain.Section, page domain.Page, owners []domain.UserProjection) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec := s.sectionLocked(name)
	sec.cursor = page.NextCursor
	if page.IsEmpty() {
		sec.exhausted = true
	}

	for i := range owners {
		s.putUserLocked(owners[i])
	}

	present := make(map[domain.EntityRef]struct{}, len(sec.refs))
	for _, ref := range sec.refs {
		present[ref] = struct{}{}
	}

	added := 0
	for _, item := range page.Items {
		ref := item.Ref()
		if _, ok := present[ref]; ok {
			continue
		}
		if item.User != nil {
			s.putUserLocked(*item.User)
		} else if _, ok := s.entities[ref]; !ok {
			entity := item.Entity
			entity.Visible = true
			s.entities[ref] = &entity
		}
		present[ref] = struct{}{}
		sec.refs = append(sec.refs, ref)
		added++
	}
	return added
}

// Cursor returns the pagination cursor for a section and whether it is exhausted.
func (s *EntityStore) Cursor(name domain.Section) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.sections[name]
	if !ok {
		return "", false
	}
	return sec.cursor, sec.exhausted
}

// HasSection reports whether the section was declared or loaded.
func (s *EntityStore) HasSection(name domain.Section) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sections[name]
	return ok
}

// ExpectEcho registers the token of an event this store is about to publish.
func (s *EntityStore) ExpectEcho(token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.echoes[token] = struct{}{}
}

// ForgetEcho drops a token whose publish did not go out.
func (s *EntityStore) ForgetEcho(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.echoes, token)
}

// Apply merges an event into the store. Refs not held here are a no-op.
func (s *EntityStore) Apply(event domain.ChangeEvent) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token := event.Origin.Token; token != "" {
		if _, ok := s.echoes[token]; ok {
			delete(s.echoes, token)
			return Echo
		}
	}

	switch event.Type {
	case domain.ChangeLike:
		if e, ok := s.entities[event.Ref]; ok && e.SetLiked(event.DidLike) {
			return Applied
		}
	case domain.ChangeBookmark:
		if e, ok := s.entities[event.Ref]; ok && e.SetBookmarked(event.DidBookmark) {
			return Applied
		}
	case domain.ChangeCommentCount:
		if !event.IsTopLevel() {
			return Ignored
		}
		if e, ok := s.entities[event.Ref]; ok {
			before := e.CommentCount
			e.AddComments(event.Delta)
			if e.CommentCount != before {
				return Applied
			}
		}
	case domain.ChangeVisibility:
		if len(s.removeLocked(event.Ref)) > 0 {
			return Applied
		}
	case domain.ChangeFollow:
		if u, ok := s.users[event.UserID]; ok && u.IsFollowed != event.IsFollowed {
			u.IsFollowed = event.IsFollowed
			return Applied
		}
	case domain.ChangeConnection:
		if u, ok := s.users[event.UserID]; ok && u.Connection != event.Connection {
			u.Connection = event.Connection
			return Applied
		}
	}
	return Ignored
}

type undoField int

const (
	undoNone undoField = iota
	undoLike
	undoBookmark
	undoComments
	undoFollow
	undoConnection
	undoRemove
)

// Undo reverses one local mutation. It records only the field the mutation
// touched, so events applied in the meantime survive a Restore.
type Undo struct {
	field  undoField
	ref    domain.EntityRef
	userID string

	// flag values before and after the local change
	prev, next bool
	// comment delta that actually landed after clamping
	delta int
	// relationships before and after the local change
	prevRel, nextRel domain.Relationship
	positions        map[domain.Section]int
}

// SetLiked flips the like flag locally. changed is false when the flag
// already had the requested value.
func (s *EntityStore) SetLiked(ref domain.EntityRef, liked bool) (undo Undo, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[ref]
	if !ok {
		return Undo{}, false, fmt.Errorf("%w: %s", apperrors.ErrEntityNotFound, ref)
	}
	prev := e.DidLike
	if !e.SetLiked(liked) {
		return Undo{}, false, nil
	}
	return Undo{field: undoLike, ref: ref, prev: prev, next: liked}, true, nil
}

// SetBookmarked flips the bookmark flag locally.
func (s *EntityStore) SetBookmarked(ref domain.EntityRef, bookmarked bool) (undo Undo, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[ref]
	if !ok {
		return Undo{}, false, fmt.Errorf("%w: %s", apperrors.ErrEntityNotFound, ref)
	}
	prev := e.DidBookmark
	if !e.SetBookmarked(bookmarked) {
		return Undo{}, false, nil
	}
	return Undo{field: undoBookmark, ref: ref, prev: prev, next: bookmarked}, true, nil
}

// AddComments adjusts an entity's comment count locally.
func (s *EntityStore) AddComments(ref domain.EntityRef, delta int) (Undo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[ref]
	if !ok {
		return Undo{}, fmt.Errorf("%w: %s", apperrors.ErrEntityNotFound, ref)
	}
	before := e.CommentCount
	e.AddComments(delta)
	return Undo{field: undoComments, ref: ref, delta: e.CommentCount - before}, nil
}

// SetFollowed changes whether the viewer follows userID.
func (s *EntityStore) SetFollowed(userID string, followed bool) (undo Undo, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return Undo{}, false, fmt.Errorf("%w: %s", apperrors.ErrUserNotFound, userID)
	}
	if u.IsFollowed == followed {
		return Undo{}, false, nil
	}
	undo = Undo{field: undoFollow, userID: userID, prev: u.IsFollowed, next: followed}
	u.IsFollowed = followed
	return undo, true, nil
}

// SetConnection replaces the viewer's relationship with userID.
func (s *EntityStore) SetConnection(userID string, rel domain.Relationship) (Undo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return Undo{}, fmt.Errorf("%w: %s", apperrors.ErrUserNotFound, userID)
	}
	undo := Undo{field: undoConnection, userID: userID, prevRel: u.Connection, nextRel: rel}
	u.Connection = rel
	return undo, nil
}

// Remove takes ref off every section it appears in.
func (s *EntityStore) Remove(ref domain.EntityRef) (Undo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevVisible := false
	if e, ok := s.entities[ref]; ok {
		prevVisible = e.Visible
	}
	positions := s.removeLocked(ref)
	if len(positions) == 0 {
		return Undo{}, fmt.Errorf("%w: %s", apperrors.ErrEntityNotFound, ref)
	}
	return Undo{field: undoRemove, ref: ref, prev: prevVisible, positions: positions}, nil
}

// Restore reverses the field undo recorded, provided it still holds the
// locally written value. Everything else on the projection is left as is.
func (s *EntityStore) Restore(undo Undo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch undo.field {
	case undoLike:
		if e, ok := s.entities[undo.ref]; ok && e.DidLike == undo.next {
			e.SetLiked(undo.prev)
		}
	case undoBookmark:
		if e, ok := s.entities[undo.ref]; ok && e.DidBookmark == undo.next {
			e.SetBookmarked(undo.prev)
		}
	case undoComments:
		if e, ok := s.entities[undo.ref]; ok {
			e.AddComments(-undo.delta)
		}
	case undoFollow:
		if u, ok := s.users[undo.userID]; ok && u.IsFollowed == undo.next {
			u.IsFollowed = undo.prev
		}
	case undoConnection:
		if u, ok := s.users[undo.userID]; ok && u.Connection == undo.nextRel {
			u.Connection = undo.prevRel
		}
	case undoRemove:
		s.reinsertLocked(undo)
	}
}

func (s *EntityStore) reinsertLocked(undo Undo) {
	for name, index := range undo.positions {
		sec := s.sectionLocked(name)
		if containsRef(sec.refs, undo.ref) {
			continue
		}
		if index > len(sec.refs) {
			index = len(sec.refs)
		}
		sec.refs = append(sec.refs, domain.EntityRef{})
		copy(sec.refs[index+1:], sec.refs[index:])
		sec.refs[index] = undo.ref
	}
	if e, ok := s.entities[undo.ref]; ok {
		e.Visible = undo.prev
	}
}

func containsRef(refs []domain.EntityRef, ref domain.EntityRef) bool {
	for _, candidate := range refs {
		if candidate == ref {
			return true
		}
	}
	return false
}

// Entity returns a copy of the entity projection for ref.
func (s *EntityStore) Entity(ref domain.EntityRef) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[ref]
	if !ok {
		return domain.Entity{}, false
	}
	return *e, true
}

// User returns a copy of the user projection for id.
func (s *EntityStore) User(id string) (domain.UserProjection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.UserProjection{}, false
	}
	return *u, true
}

// Sections returns section names in declaration order.
func (s *EntityStore) Sections() []domain.Section {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Section(nil), s.order...)
}

// Items renders the current contents of every section.
func (s *EntityStore) Items() map[domain.Section][]domain.SectionItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.Section][]domain.SectionItem, len(s.sections))
	for _, name := range s.order {
		sec := s.sections[name]
		items := make([]domain.SectionItem, 0, len(sec.refs))
		for _, ref := range sec.refs {
			items = append(items, s.itemLocked(ref))
		}
		out[name] = items
	}
	return out
}

// Item renders a single ref, as shown on the screen.
func (s *EntityStore) Item(ref domain.EntityRef) (domain.SectionItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ref.Kind == domain.KindUser {
		if _, ok := s.users[ref.ID]; !ok {
			return domain.SectionItem{}, false
		}
	} else if _, ok := s.entities[ref]; !ok {
		return domain.SectionItem{}, false
	}
	return s.itemLocked(ref), true
}

func (s *EntityStore) itemLocked(ref domain.EntityRef) domain.SectionItem {
	item := domain.SectionItem{Ref: ref}
	if ref.Kind == domain.KindUser {
		if u, ok := s.users[ref.ID]; ok {
			copied := *u
			item.User = &copied
		}
		return item
	}
	if e, ok := s.entities[ref]; ok {
		copied := *e
		item.Entity = &copied
		if owner, ok := s.users[e.OwnerID]; ok {
			ownerCopy := *owner
			item.Owner = &ownerCopy
		}
	}
	return item
}

func (s *EntityStore) sectionLocked(name domain.Section) *section {
	sec, ok := s.sections[name]
	if !ok {
		sec = &section{}
		s.sections[name] = sec
		s.order = append(s.order, name)
	}
	return sec
}

func (s *EntityStore) putUserLocked(u domain.UserProjection) {
	if _, ok := s.users[u.ID]; ok {
		return
	}
	if u.Connection.Phase == "" {
		u.Connection.Phase = domain.PhaseNone
	}
	s.users[u.ID] = &u
}

// removeLocked drops ref from all sections and returns where it was.
func (s *EntityStore) removeLocked(ref domain.EntityRef) map[domain.Section]int {
	positions := make(map[domain.Section]int)
	for name, sec := range s.sections {
		for i, candidate := range sec.refs {
			if candidate != ref {
				continue
			}
			sec.refs = append(sec.refs[:i], sec.refs[i+1:]...)
			positions[name] = i
			break
		}
	}
	if e, ok := s.entities[ref]; ok && len(positions) > 0 {
		e.Visible = false
	}
	return positions
}
