package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/lorrc/carenet-sync/internal/core/domain"
	apperrors "github.com/lorrc/carenet-sync/internal/core/errors"
	"github.com/lorrc/carenet-sync/internal/core/ports"
	"github.com/lorrc/carenet-sync/internal/infrastructure/metrics"
)

// ManagerConfig holds per-viewer limits and paging.
type ManagerConfig struct {
	PageSize            int
	MaxScreensPerViewer int
}

// ScreenManager owns every open screen in the process.
type ScreenManager struct {
	mu       sync.Mutex
	screens  map[string]*Screen
	byViewer map[string]int

	deps   ScreenDeps
	cfg    ManagerConfig
	logger *slog.Logger
}

var _ ports.ScreenService = (*ScreenManager)(nil)

// NewScreenManager creates a manager opening screens with deps.
func NewScreenManager(deps ScreenDeps, cfg ManagerConfig) *ScreenManager {
	if cfg.PageSize < 1 {
		cfg.PageSize = 10
	}
	return &ScreenManager{
		screens:  make(map[string]*Screen),
		byViewer: make(map[string]int),
		deps:     deps,
		cfg:      cfg,
		logger:   deps.Logger.With("component", "screen_manager"),
	}
}

// Open validates params, registers a new screen and starts its load.
// The returned screen reveals asynchronously.
func (m *ScreenManager) Open(ctx context.Context, params ports.OpenScreenParams) (ports.Screen, error) {
	// 1. Validate input
	specs, err := m.specsFor(params)
	if err != nil {
		return nil, err
	}

	// 2. Enforce the per-viewer limit and register
	m.mu.Lock()
	if m.cfg.MaxScreensPerViewer > 0 && m.byViewer[params.ViewerID] >= m.cfg.MaxScreensPerViewer {
		m.mu.Unlock()
		return nil, apperrors.ErrTooManyScreens
	}
	screen := newScreen(uuid.NewString(), params, specs, m.deps)
	m.screens[screen.ID()] = screen
	m.byViewer[params.ViewerID]++
	m.mu.Unlock()

	metrics.AddOpenScreens(1)
	m.logger.InfoContext(ctx, "screen opened",
		"screen_id", screen.ID(),
		"viewer_id", params.ViewerID,
		"kind", params.Kind,
		"sections", len(specs),
	)

	// 3. Start loading
	screen.start(ctx)
	return screen, nil
}

// Get returns a viewer's open screen. Screens of other viewers are reported as missing.
func (m *ScreenManager) Get(viewerID, screenID string) (ports.Screen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	screen, ok := m.screens[screenID]
	if !ok || screen.ViewerID() != viewerID {
		return nil, apperrors.ErrScreenNotFound
	}
	return screen, nil
}

// List returns the viewer's open screens ordered by id.
func (m *ScreenManager) List(viewerID string) []ports.Screen {
	m.mu.Lock()
	defer m.mu.Unlock()

	screens := make([]ports.Screen, 0, m.byViewer[viewerID])
	for _, screen := range m.screens {
		if screen.ViewerID() == viewerID {
			screens = append(screens, screen)
		}
	}
	sort.Slice(screens, func(i, j int) bool { return screens[i].ID() < screens[j].ID() })
	return screens
}

// Close closes and forgets a viewer's screen.
func (m *ScreenManager) Close(viewerID, screenID string) error {
	m.mu.Lock()
	screen, ok := m.screens[screenID]
	if !ok || screen.ViewerID() != viewerID {
		m.mu.Unlock()
		return apperrors.ErrScreenNotFound
	}
	m.forgetLocked(screen)
	m.mu.Unlock()

	screen.Close()
	m.logger.Info("screen closed", "screen_id", screenID, "viewer_id", viewerID)
	return nil
}

// Shutdown closes every screen and waits for their background work.
func (m *ScreenManager) Shutdown() {
	m.mu.Lock()
	screens := make([]*Screen, 0, len(m.screens))
	for _, screen := range m.screens {
		screens = append(screens, screen)
		m.forgetLocked(screen)
	}
	m.mu.Unlock()

	for _, screen := range screens {
		screen.Close()
	}
	for _, screen := range screens {
		screen.wait()
	}
	m.logger.Info("all screens closed", "count", len(screens))
}

// Count returns the number of open screens.
func (m *ScreenManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.screens)
}

func (m *ScreenManager) forgetLocked(screen *Screen) {
	delete(m.screens, screen.ID())
	if m.byViewer[screen.ViewerID()]--; m.byViewer[screen.ViewerID()] <= 0 {
		delete(m.byViewer, screen.ViewerID())
	}
	metrics.AddOpenScreens(-1)
}

// specsFor resolves the fetches a screen runs.
func (m *ScreenManager) specsFor(params ports.OpenScreenParams) ([]domain.FetchSpec, error) {
	if params.ViewerID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	defaults, err := DefaultSections(params.Kind, m.cfg.PageSize)
	if err != nil {
		return nil, err
	}
	switch params.Kind {
	case domain.ScreenTopic:
		if strings.TrimSpace(params.Topic) == "" {
			return nil, apperrors.NewBadRequestError(apperrors.ErrBadRequest, "topic is required for topic screens")
		}
	case domain.ScreenProfile:
		if params.SubjectID == "" {
			return nil, apperrors.NewBadRequestError(apperrors.ErrBadRequest, "subject is required for profile screens")
		}
	}

	if len(params.Sections) == 0 {
		return defaults, nil
	}

	specs := make([]domain.FetchSpec, 0, len(params.Sections))
	for _, section := range params.Sections {
		spec, ok := findSpec(defaults, section)
		if !ok {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrSectionUnknown, section)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// DefaultSections lists the sections a screen kind loads, in display order.
func DefaultSections(kind domain.ScreenKind, pageSize int) ([]domain.FetchSpec, error) {
	switch kind {
	case domain.ScreenHome, domain.ScreenTopic:
		return []domain.FetchSpec{
			{Section: domain.SectionTopUsers, Kind: domain.KindUser, Limit: pageSize},
			{Section: domain.SectionTopPosts, Kind: domain.KindPost, Limit: pageSize, ResolveOwners: true},
			{Section: domain.SectionTopCases, Kind: domain.KindCase, Limit: pageSize, ResolveOwners: true},
			{Section: domain.SectionTopJobs, Kind: domain.KindJob, Limit: pageSize},
			{Section: domain.SectionTopGroups, Kind: domain.KindGroup, Limit: pageSize},
			{Section: domain.SectionWhoToFollow, Kind: domain.KindUser, Limit: pageSize},
		}, nil
	case domain.ScreenProfile:
		return []domain.FetchSpec{
			{Section: domain.SectionProfileHeader, Kind: domain.KindUser, Limit: 1},
			{Section: domain.SectionProfilePosts, Kind: domain.KindPost, Limit: pageSize, ResolveOwners: true},
			{Section: domain.SectionProfileCases, Kind: domain.KindCase, Limit: pageSize, ResolveOwners: true},
		}, nil
	default:
		return nil, apperrors.NewBadRequestError(apperrors.ErrBadRequest, fmt.Sprintf("unknown screen kind %q", kind))
	}
}

func findSpec(specs []domain.FetchSpec, section domain.Section) (domain.FetchSpec, bool) {
	for _, spec := range specs {
		if spec.Section == section {
			return spec, true
		}
	}
	return domain.FetchSpec{}, false
}
