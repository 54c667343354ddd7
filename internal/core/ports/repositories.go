package ports

import (
	"context"

	"github.com/lorrc/carenet-sync/internal/core/domain"
)

// FetchParams selects one page of entity stubs.
type FetchParams struct {
	ViewerID string
	Topic    string
	// OwnerID restricts the page to one user's content (profile screens).
	OwnerID string
	Kind    domain.EntityKind
	Cursor  string
	Limit   int
}

// DataSource is the remote backend every screen reads from and writes to.
// Implementations return an empty page, not an error, when a listing is exhausted.
type DataSource interface {
	Fetch(ctx context.Context, params FetchParams) (domain.Page, error)
	// ResolveOwners returns the users for ids in no particular order.
	ResolveOwners(ctx context.Context, viewerID string, ids []string) ([]domain.UserProjection, error)
	Mutate(ctx context.Context, req domain.MutationRequest) error
}
