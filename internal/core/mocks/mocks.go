package mocks

import (
	"context"
	"sync"

	"github.com/lorrc/carenet-sync/internal/core/domain"
	"github.com/lorrc/carenet-sync/internal/core/ports"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of ports.DataSource
type MockDataSource struct {
	mock.Mock
}

var _ ports.DataSource = (*MockDataSource)(nil)

func NewMockDataSource() *MockDataSource {
	return &MockDataSource{}
}

func (m *MockDataSource) Fetch(ctx context.Context, params ports.FetchParams) (domain.Page, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return domain.Page{}, args.Error(1)
	}
	return args.Get(0).(domain.Page), args.Error(1)
}

func (m *MockDataSource) ResolveOwners(ctx context.Context, viewerID string, ids []string) ([]domain.UserProjection, error) {
	args := m.Called(ctx, viewerID, ids)
	if fn, ok := args.Get(0).(func(context.Context, string, []string) []domain.UserProjection); ok {
		return fn(ctx, viewerID, ids), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.UserProjection), args.Error(1)
}

func (m *MockDataSource) Mutate(ctx context.Context, req domain.MutationRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// KindIs matches FetchParams of one entity kind.
func KindIs(kind domain.EntityKind) interface{} {
	return mock.MatchedBy(func(p ports.FetchParams) bool { return p.Kind == kind })
}

// ActionIs matches MutationRequests of one action.
func ActionIs(action domain.Action) interface{} {
	return mock.MatchedBy(func(r domain.MutationRequest) bool { return r.Action == action })
}

// MockNotifier is a mock implementation of ports.Notifier
type MockNotifier struct {
	mock.Mock
}

var _ ports.Notifier = (*MockNotifier)(nil)

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Notify(ctx context.Context, params ports.NotificationParams) {
	m.Called(ctx, params)
}

// MockBroadcaster is a mock implementation of ports.Broadcaster
type MockBroadcaster struct {
	mock.Mock
}

var _ ports.Broadcaster = (*MockBroadcaster)(nil)

func NewMockBroadcaster() *MockBroadcaster {
	return &MockBroadcaster{}
}

func (m *MockBroadcaster) Publish(ctx context.Context, event domain.ChangeEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockPresenter records what a screen shows. Reveal and Refresh arrive on
// background goroutines, so reads go through the accessors.
type MockPresenter struct {
	mu      sync.Mutex
	reveals []domain.ScreenSnapshot
	updates []domain.ScreenUpdate
}

var _ ports.Presenter = (*MockPresenter)(nil)

func NewMockPresenter() *MockPresenter {
	return &MockPresenter{}
}

func (m *MockPresenter) Reveal(snapshot domain.ScreenSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reveals = append(m.reveals, snapshot)
}

func (m *MockPresenter) Refresh(update domain.ScreenUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, update)
}

// Reveals returns the snapshots revealed so far.
func (m *MockPresenter) Reveals() []domain.ScreenSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ScreenSnapshot(nil), m.reveals...)
}

// Updates returns the refreshes pushed so far.
func (m *MockPresenter) Updates() []domain.ScreenUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ScreenUpdate(nil), m.updates...)
}

// UpdatesFor returns the refreshes pushed to one screen.
func (m *MockPresenter) UpdatesFor(screenID string) []domain.ScreenUpdate {
	var out []domain.ScreenUpdate
	for _, u := range m.Updates() {
		if u.ScreenID == screenID {
			out = append(out, u)
		}
	}
	return out
}

// RevealCount returns how many times screenID was revealed.
func (m *MockPresenter) RevealCount(screenID string) int {
	count := 0
	for _, s := range m.Reveals() {
		if s.ScreenID == screenID {
			count++
		}
	}
	return count
}

// MockScreenService is a mock implementation of ports.ScreenService
type MockScreenService struct {
	mock.Mock
}

var _ ports.ScreenService = (*MockScreenService)(nil)

func NewMockScreenService() *MockScreenService {
	return &MockScreenService{}
}

func (m *MockScreenService) Open(ctx context.Context, params ports.OpenScreenParams) (ports.Screen, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Screen), args.Error(1)
}

func (m *MockScreenService) Get(viewerID, screenID string) (ports.Screen, error) {
	args := m.Called(viewerID, screenID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Screen), args.Error(1)
}

func (m *MockScreenService) List(viewerID string) []ports.Screen {
	args := m.Called(viewerID)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]ports.Screen)
}

func (m *MockScreenService) Close(viewerID, screenID string) error {
	args := m.Called(viewerID, screenID)
	return args.Error(0)
}

func (m *MockScreenService) Shutdown() {
	m.Called()
}

// MockScreen is a mock implementation of ports.Screen
type MockScreen struct {
	mock.Mock
}

var _ ports.Screen = (*MockScreen)(nil)

func NewMockScreen() *MockScreen {
	return &MockScreen{}
}

func (m *MockScreen) ID() string {
	return m.Called().String(0)
}

func (m *MockScreen) ViewerID() string {
	return m.Called().String(0)
}

func (m *MockScreen) Loaded() bool {
	return m.Called().Bool(0)
}

func (m *MockScreen) WaitLoaded(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockScreen) Snapshot() domain.ScreenSnapshot {
	return m.Called().Get(0).(domain.ScreenSnapshot)
}

func (m *MockScreen) LoadMore(ctx context.Context, section domain.Section) error {
	return m.Called(ctx, section).Error(0)
}

func (m *MockScreen) SetLiked(ctx context.Context, ref domain.EntityRef, liked bool) error {
	return m.Called(ctx, ref, liked).Error(0)
}

func (m *MockScreen) SetBookmarked(ctx context.Context, ref domain.EntityRef, bookmarked bool) error {
	return m.Called(ctx, ref, bookmarked).Error(0)
}

func (m *MockScreen) SetFollowed(ctx context.Context, userID string, followed bool) error {
	return m.Called(ctx, userID, followed).Error(0)
}

func (m *MockScreen) ChangeConnection(ctx context.Context, userID string, action domain.Action) (domain.Relationship, error) {
	args := m.Called(ctx, userID, action)
	return args.Get(0).(domain.Relationship), args.Error(1)
}

func (m *MockScreen) Hide(ctx context.Context, ref domain.EntityRef) error {
	return m.Called(ctx, ref).Error(0)
}

func (m *MockScreen) RecordComment(ctx context.Context, ref domain.EntityRef, path []string, delta int) error {
	return m.Called(ctx, ref, path, delta).Error(0)
}

func (m *MockScreen) Close() {
	m.Called()
}
