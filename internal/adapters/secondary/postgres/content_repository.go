package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorrc/carenet-sync/internal/core/domain"
	apperrors "github.com/lorrc/carenet-sync/internal/core/errors"
	"github.com/lorrc/carenet-sync/internal/core/ports"
)

const maxPageSize = 100

// ContentRepository serves screens from postgres.
type ContentRepository struct {
	pool       *pgxpool.Pool
	tx         *TransactionManager
	maxRetries int
	logger     *slog.Logger
}

var _ ports.DataSource = (*ContentRepository)(nil)

// NewContentRepository creates a data source over pool.
func NewContentRepository(pool *pgxpool.Pool, maxRetries int, logger *slog.Logger) *ContentRepository {
	return &ContentRepository{
		pool:       pool,
		tx:         NewTransactionManager(pool),
		maxRetries: maxRetries,
		logger:     logger.With("component", "content_repository"),
	}
}

// Fetch returns one keyset page. NextCursor is the last id of a non-empty page.
func (r *ContentRepository) Fetch(ctx context.Context, params ports.FetchParams) (domain.Page, error) {
	if !params.Kind.IsValid() {
		return domain.Page{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidKind, params.Kind)
	}
	if params.Limit < 1 || params.Limit > maxPageSize {
		params.Limit = maxPageSize
	}

	var page domain.Page
	err := withRetry(ctx, r.maxRetries, func() error {
		var err error
		if params.Kind == domain.KindUser {
			page.Items, err = r.fetchUsers(ctx, params)
		} else {
			page.Items, err = r.fetchEntities(ctx, params)
		}
		return err
	})
	if err != nil {
		r.logger.WarnContext(ctx, "fetch failed", "kind", params.Kind, "error", err)
		return domain.Page{}, err
	}

	if n := len(page.Items); n > 0 {
		page.NextCursor = page.Items[n-1].Ref().ID
	}
	return page, nil
}

const selectEntities = `
SELECT e.id, e.owner_id, e.title,
       e.like_count, EXISTS (SELECT 1 FROM likes l WHERE l.viewer_id = $1 AND l.kind = e.kind AND l.entity_id = e.id),
       e.bookmark_count, EXISTS (SELECT 1 FROM bookmarks b WHERE b.viewer_id = $1 AND b.kind = e.kind AND b.entity_id = e.id),
       e.comment_count, e.created_at
FROM entities e
WHERE e.kind = $2
  AND NOT EXISTS (SELECT 1 FROM hidden_entities h WHERE h.viewer_id = $1 AND h.kind = e.kind AND h.entity_id = e.id)
  AND ($3 = '' OR e.owner_id = $3)
  AND ($4 = '' OR e.topic ILIKE '%' || $4 || '%' OR e.title ILIKE '%' || $4 || '%')
  AND e.id > $5
ORDER BY e.id
LIMIT $6`

func (r *ContentRepository) fetchEntities(ctx context.Context, params ports.FetchParams) ([]domain.EntityStub, error) {
	rows, err := GetDBTX(ctx, r.pool).Query(ctx, selectEntities,
		params.ViewerID, string(params.Kind), params.OwnerID, params.Topic, params.Cursor, params.Limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.EntityStub, error) {
		e := domain.Entity{Ref: domain.EntityRef{Kind: params.Kind}, Visible: true}
		err := row.Scan(&e.Ref.ID, &e.OwnerID, &e.Title,
			&e.LikeCount, &e.DidLike,
			&e.BookmarkCount, &e.DidBookmark,
			&e.CommentCount, &e.CreatedAt)
		return domain.EntityStub{Entity: e}, err
	})
}

const userColumns = `
SELECT u.id, u.name, u.profession, u.speciality,
       EXISTS (SELECT 1 FROM follows f WHERE f.follower_id = $1 AND f.followee_id = u.id),
       c.phase, c.changed_at
FROM users u
LEFT JOIN connections c ON c.viewer_id = $1 AND c.subject_id = u.id`

// profile headers may show the viewer; listings never do
const selectUsers = userColumns + `
WHERE (($2 = '' AND u.id <> $1) OR u.id = $2)
  AND ($3 = '' OR u.name ILIKE '%' || $3 || '%' OR u.speciality ILIKE '%' || $3 || '%' OR u.profession ILIKE '%' || $3 || '%')
  AND u.id > $4
ORDER BY u.id
LIMIT $5`

func (r *ContentRepository) fetchUsers(ctx context.Context, params ports.FetchParams) ([]domain.EntityStub, error) {
	rows, err := GetDBTX(ctx, r.pool).Query(ctx, selectUsers,
		params.ViewerID, params.OwnerID, params.Topic, params.Cursor, params.Limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.EntityStub, error) {
		u, err := scanUser(row)
		return domain.EntityStub{User: &u}, err
	})
}

// ResolveOwners returns the users with the given ids as seen by viewerID.
func (r *ContentRepository) ResolveOwners(ctx context.Context, viewerID string, ids []string) ([]domain.UserProjection, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var users []domain.UserProjection
	err := withRetry(ctx, r.maxRetries, func() error {
		rows, err := GetDBTX(ctx, r.pool).Query(ctx, userColumns+` WHERE u.id = ANY($2)`, viewerID, ids)
		if err != nil {
			return err
		}
		users, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.UserProjection, error) {
			return scanUser(row)
		})
		return err
	})
	return users, err
}

func scanUser(row pgx.CollectableRow) (domain.UserProjection, error) {
	var (
		u         domain.UserProjection
		phase     pgtype.Text
		changedAt pgtype.Timestamptz
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Profession, &u.Speciality, &u.IsFollowed, &phase, &changedAt); err != nil {
		return u, err
	}
	// no connections row means the users never interacted
	u.Connection = domain.Relationship{
		Phase:     domain.ConnectionPhase(fromText(phase, string(domain.PhaseNone))),
		ChangedAt: fromTimestamptz(changedAt),
	}
	return u, nil
}

// Mutate applies one action in a transaction. Repeating an action that is
// already in effect is not an error.
func (r *ContentRepository) Mutate(ctx context.Context, req domain.MutationRequest) error {
	err := withRetry(ctx, r.maxRetries, func() error {
		return r.tx.WithTransaction(ctx, func(ctx context.Context) error {
			return r.mutate(ctx, req)
		})
	})
	if err != nil {
		r.logger.WarnContext(ctx, "mutation failed",
			"action", req.Action,
			"ref", req.Ref.String(),
			"error", err,
		)
	}
	return err
}

func (r *ContentRepository) mutate(ctx context.Context, req domain.MutationRequest) error {
	switch req.Action {
	case domain.ActionLike:
		return r.toggle(ctx, "likes", "like_count", req, true)
	case domain.ActionUnlike:
		return r.toggle(ctx, "likes", "like_count", req, false)
	case domain.ActionBookmark:
		return r.toggle(ctx, "bookmarks", "bookmark_count", req, true)
	case domain.ActionUnbookmark:
		return r.toggle(ctx, "bookmarks", "bookmark_count", req, false)
	case domain.ActionHide:
		return r.hide(ctx, req)
	case domain.ActionFollow, domain.ActionUnfollow:
		return r.follow(ctx, req)
	case domain.ActionConnect, domain.ActionWithdraw, domain.ActionAccept, domain.ActionRemove:
		return r.connect(ctx, req)
	default:
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidAction, req.Action)
	}
}

// toggle inserts or deletes the viewer's row in table and moves the
// entity's counter only when the row actually changed.
func (r *ContentRepository) toggle(ctx context.Context, table, counter string, req domain.MutationRequest, on bool) error {
	db := GetDBTX(ctx, r.pool)
	if err := r.requireEntity(ctx, req.Ref); err != nil {
		return err
	}

	var (
		tag   pgconn.CommandTag
		err   error
		delta = "+ 1"
	)
	if on {
		tag, err = db.Exec(ctx,
			`INSERT INTO `+table+` (viewer_id, kind, entity_id, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
			req.ViewerID, string(req.Ref.Kind), req.Ref.ID, req.At)
	} else {
		tag, err = db.Exec(ctx,
			`DELETE FROM `+table+` WHERE viewer_id = $1 AND kind = $2 AND entity_id = $3`,
			req.ViewerID, string(req.Ref.Kind), req.Ref.ID)
		delta = "- 1"
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	_, err = db.Exec(ctx,
		`UPDATE entities SET `+counter+` = GREATEST(`+counter+` `+delta+`, 0) WHERE kind = $1 AND id = $2`,
		string(req.Ref.Kind), req.Ref.ID)
	return err
}

func (r *ContentRepository) hide(ctx context.Context, req domain.MutationRequest) error {
	if err := r.requireEntity(ctx, req.Ref); err != nil {
		return err
	}
	_, err := GetDBTX(ctx, r.pool).Exec(ctx,
		`INSERT INTO hidden_entities (viewer_id, kind, entity_id, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		req.ViewerID, string(req.Ref.Kind), req.Ref.ID, req.At)
	return err
}

func (r *ContentRepository) follow(ctx context.Context, req domain.MutationRequest) error {
	if err := r.requireUser(ctx, req.Ref.ID); err != nil {
		return err
	}
	db := GetDBTX(ctx, r.pool)
	if req.Action == domain.ActionFollow {
		_, err := db.Exec(ctx,
			`INSERT INTO follows (follower_id, followee_id, created_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			req.ViewerID, req.Ref.ID, req.At)
		return err
	}
	_, err := db.Exec(ctx, `DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`, req.ViewerID, req.Ref.ID)
	return err
}

// connect records both directions of a relationship change.
func (r *ContentRepository) connect(ctx context.Context, req domain.MutationRequest) error {
	if err := r.requireUser(ctx, req.Ref.ID); err != nil {
		return err
	}

	var mine, theirs domain.ConnectionPhase
	switch req.Action {
	case domain.ActionConnect:
		mine, theirs = domain.PhasePending, domain.PhaseReceived
	case domain.ActionWithdraw:
		mine, theirs = domain.PhaseWithdraw, domain.PhaseNone
	case domain.ActionAccept:
		mine, theirs = domain.PhaseConnected, domain.PhaseConnected
	case domain.ActionRemove:
		mine, theirs = domain.PhaseUnconnect, domain.PhaseUnconnect
	}

	if err := r.setPhase(ctx, req.ViewerID, req.Ref.ID, mine, req.At); err != nil {
		return err
	}
	return r.setPhase(ctx, req.Ref.ID, req.ViewerID, theirs, req.At)
}

func (r *ContentRepository) setPhase(ctx context.Context, viewerID, subjectID string, phase domain.ConnectionPhase, at time.Time) error {
	db := GetDBTX(ctx, r.pool)
	if phase == domain.PhaseNone {
		_, err := db.Exec(ctx, `DELETE FROM connections WHERE viewer_id = $1 AND subject_id = $2`, viewerID, subjectID)
		return err
	}
	_, err := db.Exec(ctx, `
INSERT INTO connections (viewer_id, subject_id, phase, changed_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (viewer_id, subject_id) DO UPDATE SET phase = EXCLUDED.phase, changed_at = EXCLUDED.changed_at`,
		viewerID, subjectID, string(phase), at)
	return err
}

func (r *ContentRepository) requireEntity(ctx context.Context, ref domain.EntityRef) error {
	var exists bool
	err := GetDBTX(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM entities WHERE kind = $1 AND id = $2)`, string(ref.Kind), ref.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", apperrors.ErrNotFound, ref)
	}
	return nil
}

func (r *ContentRepository) requireUser(ctx context.Context, id string) error {
	var exists bool
	err := GetDBTX(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: user %s", apperrors.ErrNotFound, id)
	}
	return nil
}

// Ping checks the pool for readiness probes.
func (r *ContentRepository) Ping(ctx context.Context) error {
	return classify(r.pool.Ping(ctx))
}
