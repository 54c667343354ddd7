package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lorrc/carenet-sync/internal/core/async"
	"github.com/lorrc/carenet-sync/internal/core/domain"
	"github.com/lorrc/carenet-sync/internal/core/ports"
	"github.com/lorrc/carenet-sync/internal/core/store"
	"github.com/lorrc/carenet-sync/internal/infrastructure/metrics"
)

// LoadScope is what every fetch of one screen shares.
type LoadScope struct {
	ViewerID string
	Topic    string
	OwnerID  string
}

// AggregatorConfig bounds owner resolution.
type AggregatorConfig struct {
	OwnerBatchSize       int
	MaxConcurrentFetches int
}

// sectionResult is the composite output of a section's fetch pipeline.
type sectionResult struct {
	page   domain.Page
	owners []domain.UserProjection
}

// ContentAggregator fans a screen's fetches out to the data source and
// fans their completions back in through a JoinCounter.
type ContentAggregator struct {
	source ports.DataSource
	store  *store.EntityStore
	scope  LoadScope
	cfg    AggregatorConfig
	// alive reports whether results should still be stored
	alive  func() bool
	logger *slog.Logger
}

// NewContentAggregator creates an aggregator writing into st.
func NewContentAggregator(
	source ports.DataSource,
	st *store.EntityStore,
	scope LoadScope,
	cfg AggregatorConfig,
	alive func() bool,
	logger *slog.Logger,
) *ContentAggregator {
	if cfg.OwnerBatchSize < 1 {
		cfg.OwnerBatchSize = 10
	}
	if cfg.MaxConcurrentFetches < 1 {
		cfg.MaxConcurrentFetches = 1
	}
	if alive == nil {
		alive = func() bool { return true }
	}
	return &ContentAggregator{
		source: source,
		store:  st,
		scope:  scope,
		cfg:    cfg,
		alive:  alive,
		logger: logger.With("component", "content_aggregator"),
	}
}

// Load starts one pipeline per spec and calls onReady exactly once after
// every pipeline has finished, successfully or not. It does not block.
func (a *ContentAggregator) Load(ctx context.Context, specs []domain.FetchSpec, onReady func()) *async.JoinCounter {
	names := make([]domain.Section, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Section)
	}
	a.store.Declare(names...)

	join := async.NewJoinCounter(len(specs), onReady)

	for _, spec := range specs {
		spec := spec
		a.fetchSection(ctx, spec, "").OnComplete(func(result sectionResult, err error) {
			defer join.Signal()

			if err != nil {
				metrics.IncFetchFailure(string(spec.Section))
				a.logger.WarnContext(ctx, "section fetch failed, rendering empty",
					"section", spec.Section,
					"error", err,
				)
				return
			}
			if !a.alive() {
				return
			}
			a.store.Append(spec.Section, result.page, result.owners)
		})
	}

	return join
}

// LoadMore fetches the next page of a section and appends it. It returns
// the number of items added; zero with a nil error means the section is exhausted.
func (a *ContentAggregator) LoadMore(ctx context.Context, spec domain.FetchSpec) (int, error) {
	cursor, exhausted := a.store.Cursor(spec.Section)
	if exhausted {
		return 0, nil
	}

	result, err := a.fetchSection(ctx, spec, cursor).Await(ctx)
	if err != nil {
		metrics.IncFetchFailure(string(spec.Section))
		return 0, fmt.Errorf("loading more %s: %w", spec.Section, err)
	}
	if !a.alive() {
		return 0, nil
	}
	return a.store.Append(spec.Section, result.page, result.owners), nil
}

// fetchSection runs stage 1 (page) and, when the spec asks for it,
// stage 2 (owners) as one composite result.
func (a *ContentAggregator) fetchSection(ctx context.Context, spec domain.FetchSpec, cursor string) *async.Result[sectionResult] {
	page := async.Go(ctx, func(ctx context.Context) (domain.Page, error) {
		return a.source.Fetch(ctx, ports.FetchParams{
			ViewerID: a.scope.ViewerID,
			Topic:    a.scope.Topic,
			OwnerID:  a.scope.OwnerID,
			Kind:     spec.Kind,
			Cursor:   cursor,
			Limit:    spec.Limit,
		})
	})

	return async.Then(page, func(p domain.Page) *async.Result[sectionResult] {
		ids := p.OwnerIDs()
		if !spec.ResolveOwners || len(ids) == 0 {
			return async.Resolved(sectionResult{page: p})
		}
		return async.Go(ctx, func(ctx context.Context) (sectionResult, error) {
			owners, err := a.resolveOwners(ctx, ids)
			if err != nil {
				return sectionResult{}, err
			}
			return sectionResult{page: p, owners: owners}, nil
		})
	})
}

// resolveOwners looks ids up in batches, several batches at a time.
// Results come back in the order of ids; ids the source does not know are dropped.
func (a *ContentAggregator) resolveOwners(ctx context.Context, ids []string) ([]domain.UserProjection, error) {
	var (
		mu    sync.Mutex
		index = make(map[string]domain.UserProjection, len(ids))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxConcurrentFetches)

	for start := 0; start < len(ids); start += a.cfg.OwnerBatchSize {
		end := start + a.cfg.OwnerBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		g.Go(func() error {
			users, err := a.source.ResolveOwners(gctx, a.scope.ViewerID, batch)
			if err != nil {
				return fmt.Errorf("resolving %d owners: %w", len(batch), err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, u := range users {
				index[u.ID] = u
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	owners := make([]domain.UserProjection, 0, len(index))
	for _, id := range ids {
		if u, ok := index[id]; ok {
			owners = append(owners, u)
		}
	}
	return owners, nil
}
