package http

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	mw "github.com/lorrc/carenet-sync/internal/adapters/primary/http/middleware"
	"github.com/lorrc/carenet-sync/internal/auth"
	"github.com/lorrc/carenet-sync/internal/core/domain"
	apperrors "github.com/lorrc/carenet-sync/internal/core/errors"
	"github.com/lorrc/carenet-sync/internal/core/mocks"
	"github.com/lorrc/carenet-sync/internal/core/ports"
)

const (
	testViewer = "viewer-1"
	testScreen = "screen-1"
)

type handlerHarness struct {
	router  http.Handler
	screens *mocks.MockScreenService
	screen  *mocks.MockScreen
	token   string
}

func newHandlerHarness(t *testing.T) *handlerHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tm := auth.NewTokenManager("test-secret", time.Hour)
	token, err := tm.GenerateToken(testViewer)
	require.NoError(t, err)

	screens := mocks.NewMockScreenService()
	handler := NewScreenHandler(screens, NewErrorHandler(logger), logger, time.Second)

	r := chi.NewRouter()
	r.Route("/api/v1/screens", func(r chi.Router) {
		r.Use(mw.JWTMiddleware(tm))
		handler.RegisterRoutes(r, nil)
	})

	return &handlerHarness{
		router:  r,
		screens: screens,
		screen:  mocks.NewMockScreen(),
		token:   token,
	}
}

func (h *handlerHarness) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "/api/v1/screens"+path, reader)
	req.Header.Set("Authorization", "Bearer "+h.token)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

// withScreen makes the harness screen resolvable under testScreen.
func (h *handlerHarness) withScreen() {
	h.screens.On("Get", testViewer, testScreen).Return(h.screen, nil)
}

func post(id string, liked bool) domain.SectionItem {
	likes := 0
	if liked {
		likes = 1
	}
	return domain.SectionItem{
		Ref: domain.Ref(domain.KindPost, id),
		Entity: &domain.Entity{
			Ref:       domain.Ref(domain.KindPost, id),
			DidLike:   liked,
			LikeCount: likes,
			Visible:   true,
		},
	}
}

func snapshotWith(items ...domain.SectionItem) domain.ScreenSnapshot {
	return domain.ScreenSnapshot{
		ScreenID: testScreen,
		Kind:     domain.ScreenHome,
		Loaded:   true,
		Sections: map[domain.Section][]domain.SectionItem{domain.SectionTopPosts: items},
	}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestScreenHandler_Open(t *testing.T) {
	h := newHandlerHarness(t)
	h.screens.On("Open", mock.Anything, ports.OpenScreenParams{
		ViewerID: testViewer,
		Kind:     domain.ScreenTopic,
		Topic:    "cardiology",
		Sections: []domain.Section{domain.SectionTopPosts},
	}).Return(h.screen, nil)
	h.screen.On("Snapshot").Return(snapshotWith())

	rr := h.do(http.MethodPost, "/", `{"kind":"topic","topic":"cardiology","sections":["top_posts"]}`)

	assert.Equal(t, http.StatusCreated, rr.Code)
	data := decodeBody(t, rr)["data"].(map[string]interface{})
	assert.Equal(t, testScreen, data["screenId"])
	h.screens.AssertExpectations(t)
}

func TestScreenHandler_OpenWaitsForLoad(t *testing.T) {
	h := newHandlerHarness(t)
	h.screens.On("Open", mock.Anything, mock.Anything).Return(h.screen, nil)
	h.screen.On("WaitLoaded", mock.Anything).Return(nil).Once()
	h.screen.On("Snapshot").Return(snapshotWith(post("p1", false)))

	rr := h.do(http.MethodPost, "/?wait=true", `{"kind":"home"}`)

	assert.Equal(t, http.StatusCreated, rr.Code)
	h.screen.AssertExpectations(t)
}

func TestScreenHandler_OpenValidation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"unknown kind", `{"kind":"feed"}`, http.StatusUnprocessableEntity},
		{"topic without topic", `{"kind":"topic"}`, http.StatusUnprocessableEntity},
		{"profile without subject", `{"kind":"profile"}`, http.StatusUnprocessableEntity},
		{"malformed body", `{"kind":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandlerHarness(t)
			rr := h.do(http.MethodPost, "/", tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code)
			h.screens.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
		})
	}
}

func TestScreenHandler_OpenTooManyScreens(t *testing.T) {
	h := newHandlerHarness(t)
	h.screens.On("Open", mock.Anything, mock.Anything).Return(nil, apperrors.ErrTooManyScreens)

	rr := h.do(http.MethodPost, "/", `{"kind":"home"}`)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "TOO_MANY_SCREENS", decodeBody(t, rr)["code"])
}

func TestScreenHandler_RequiresToken(t *testing.T) {
	h := newHandlerHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/screens/"+testScreen, nil)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	h.screens.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestScreenHandler_Snapshot(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		h := newHandlerHarness(t)
		h.withScreen()
		h.screen.On("Snapshot").Return(snapshotWith(post("p1", false)))

		rr := h.do(http.MethodGet, "/"+testScreen, "")
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("other viewer's screen", func(t *testing.T) {
		h := newHandlerHarness(t)
		h.screens.On("Get", testViewer, "someone-elses").Return(nil, apperrors.ErrScreenNotFound)

		rr := h.do(http.MethodGet, "/someone-elses", "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "SCREEN_NOT_FOUND", decodeBody(t, rr)["code"])
	})
}

func TestScreenHandler_Like(t *testing.T) {
	h := newHandlerHarness(t)
	h.withScreen()
	ref := domain.Ref(domain.KindPost, "p1")
	h.screen.On("SetLiked", mock.Anything, ref, true).Return(nil).Once()
	h.screen.On("Snapshot").Return(snapshotWith(post("p1", true)))

	rr := h.do(http.MethodPut, "/"+testScreen+"/entities/post/p1/like", "")

	require.Equal(t, http.StatusOK, rr.Code)
	data := decodeBody(t, rr)["data"].(map[string]interface{})
	entity := data["entity"].(map[string]interface{})
	assert.Equal(t, true, entity["didLike"])
	assert.EqualValues(t, 1, entity["likeCount"])
	h.screen.AssertExpectations(t)
}

func TestScreenHandler_UnlikeAndBookmark(t *testing.T) {
	h := newHandlerHarness(t)
	h.withScreen()
	ref := domain.Ref(domain.KindCase, "c1")
	h.screen.On("SetLiked", mock.Anything, ref, false).Return(nil).Once()
	h.screen.On("SetBookmarked", mock.Anything, ref, true).Return(nil).Once()
	h.screen.On("SetBookmarked", mock.Anything, ref, false).Return(nil).Once()
	h.screen.On("Snapshot").Return(snapshotWith())

	// Rows missing from the snapshot answer 204.
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/"+testScreen+"/entities/case/c1/like", "").Code)
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodPut, "/"+testScreen+"/entities/case/c1/bookmark", "").Code)
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/"+testScreen+"/entities/case/c1/bookmark", "").Code)
	h.screen.AssertExpectations(t)
}

func TestScreenHandler_InvalidKind(t *testing.T) {
	h := newHandlerHarness(t)
	h.withScreen()

	rr := h.do(http.MethodPut, "/"+testScreen+"/entities/video/v1/like", "")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	h.screen.AssertNotCalled(t, "SetLiked", mock.Anything, mock.Anything, mock.Anything)
}

func TestScreenHandler_MutationFailure(t *testing.T) {
	h := newHandlerHarness(t)
	h.withScreen()
	ref := domain.Ref(domain.KindPost, "p1")
	h.screen.On("SetLiked", mock.Anything, ref, true).
		Return(fmt.Errorf("like %s: %w", ref, apperrors.ErrNetwork))

	rr := h.do(http.MethodPut, "/"+testScreen+"/entities/post/p1/like", "")

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "BACKEND_UNAVAILABLE", decodeBody(t, rr)["code"])
}

func TestScreenHandler_Hide(t *testing.T) {
	h := newHandlerHarness(t)
	h.withScreen()
	ref := domain.Ref(domain.KindJob, "j1")
	h.screen.On("Hide", mock.Anything, ref).Return(nil).Once()
	h.screen.On("Snapshot").Return(snapshotWith())

	rr := h.do(http.MethodDelete, "/"+testScreen+"/entities/job/j1", "")

	assert.Equal(t, http.StatusNoContent, rr.Code)
	h.screen.AssertExpectations(t)
}

func TestScreenHandler_RecordComment(t *testing.T) {
	t.Run("nested comment", func(t *testing.T) {
		h := newHandlerHarness(t)
		h.withScreen()
		ref := domain.Ref(domain.KindPost, "p1")
		h.screen.On("RecordComment", mock.Anything, ref, []string{"c9"}, 1).Return(nil).Once()
		h.screen.On("Snapshot").Return(snapshotWith(post("p1", false)))

		rr := h.do(http.MethodPost, "/"+testScreen+"/entities/post/p1/comments", `{"path":["c9"],"delta":1}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		h.screen.AssertExpectations(t)
	})

	t.Run("bad delta", func(t *testing.T) {
		h := newHandlerHarness(t)
		h.withScreen()

		rr := h.do(http.MethodPost, "/"+testScreen+"/entities/post/p1/comments", `{"delta":2}`)

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		h.screen.AssertNotCalled(t, "RecordComment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestScreenHandler_Follow(t *testing.T) {
	h := newHandlerHarness(t)
	h.withScreen()
	h.screen.On("SetFollowed", mock.Anything, "u2", true).Return(nil).Once()
	h.screen.On("SetFollowed", mock.Anything, testViewer, true).Return(apperrors.ErrSelfConnection).Once()
	h.screen.On("Snapshot").Return(domain.ScreenSnapshot{
		Sections: map[domain.Section][]domain.SectionItem{
			domain.SectionTopUsers: {{
				Ref:  domain.Ref(domain.KindUser, "u2"),
				User: &domain.UserProjection{ID: "u2", IsFollowed: true},
			}},
		},
	})

	rr := h.do(http.MethodPut, "/"+testScreen+"/users/u2/follow", "")
	require.Equal(t, http.StatusOK, rr.Code)
	user := decodeBody(t, rr)["data"].(map[string]interface{})["user"].(map[string]interface{})
	assert.Equal(t, true, user["isFollowed"])

	rr = h.do(http.MethodPut, "/"+testScreen+"/users/"+testViewer+"/follow", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestScreenHandler_ChangeConnection(t *testing.T) {
	changedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	retryAt := changedAt.Add(3 * 7 * 24 * time.Hour)

	tests := []struct {
		name       string
		body       string
		setup      func(s *mocks.MockScreen)
		wantStatus int
		wantCode   string
	}{
		{
			name: "connect",
			body: `{"action":"connect"}`,
			setup: func(s *mocks.MockScreen) {
				s.On("ChangeConnection", mock.Anything, "u2", domain.ActionConnect).
					Return(domain.Relationship{Phase: domain.PhasePending, ChangedAt: changedAt}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "cooldown",
			body: `{"action":"connect"}`,
			setup: func(s *mocks.MockScreen) {
				s.On("ChangeConnection", mock.Anything, "u2", domain.ActionConnect).
					Return(domain.Relationship{Phase: domain.PhaseWithdraw, ChangedAt: changedAt},
						&apperrors.CooldownError{Phase: string(domain.PhaseWithdraw), RetryAt: retryAt})
			},
			wantStatus: http.StatusConflict,
			wantCode:   "CONNECTION_COOLDOWN",
		},
		{
			name: "illegal transition",
			body: `{"action":"accept"}`,
			setup: func(s *mocks.MockScreen) {
				s.On("ChangeConnection", mock.Anything, "u2", domain.ActionAccept).
					Return(domain.NoRelationship(), apperrors.ErrInvalidTransition)
			},
			wantStatus: http.StatusConflict,
			wantCode:   "INVALID_TRANSITION",
		},
		{
			name:       "not a connection action",
			body:       `{"action":"like"}`,
			setup:      func(s *mocks.MockScreen) {},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandlerHarness(t)
			h.withScreen()
			tt.setup(h.screen)

			rr := h.do(http.MethodPost, "/"+testScreen+"/users/u2/connection", tt.body)

			require.Equal(t, tt.wantStatus, rr.Code)
			body := decodeBody(t, rr)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["code"])
			}
			if tt.name == "cooldown" {
				details := body["details"].(map[string]interface{})
				assert.Equal(t, retryAt.Format(time.RFC3339), details["retryAt"])
			}
			if tt.name == "connect" {
				data := body["data"].(map[string]interface{})
				assert.Equal(t, "pending", data["phase"])
			}
		})
	}
}

func TestScreenHandler_LoadMore(t *testing.T) {
	t.Run("appends", func(t *testing.T) {
		h := newHandlerHarness(t)
		h.withScreen()
		h.screen.On("LoadMore", mock.Anything, domain.SectionTopPosts).Return(nil).Once()
		h.screen.On("Snapshot").Return(snapshotWith(post("p1", false), post("p2", false)))

		rr := h.do(http.MethodPost, "/"+testScreen+"/more/top_posts", "")

		require.Equal(t, http.StatusOK, rr.Code)
		data := decodeBody(t, rr)["data"].(map[string]interface{})
		assert.Len(t, data["items"], 2)
	})

	t.Run("unknown section", func(t *testing.T) {
		h := newHandlerHarness(t)
		h.withScreen()
		h.screen.On("LoadMore", mock.Anything, domain.Section("top_videos")).Return(apperrors.ErrSectionUnknown)

		rr := h.do(http.MethodPost, "/"+testScreen+"/more/top_videos", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("closed screen", func(t *testing.T) {
		h := newHandlerHarness(t)
		h.withScreen()
		h.screen.On("LoadMore", mock.Anything, domain.SectionTopPosts).Return(apperrors.ErrScreenClosed)

		rr := h.do(http.MethodPost, "/"+testScreen+"/more/top_posts", "")
		assert.Equal(t, http.StatusGone, rr.Code)
	})
}

func TestScreenHandler_Close(t *testing.T) {
	h := newHandlerHarness(t)
	h.screens.On("Close", testViewer, testScreen).Return(nil).Once()
	h.screens.On("Close", testViewer, "gone").Return(apperrors.ErrScreenNotFound).Once()

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/"+testScreen, "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, "/gone", "").Code)
	h.screens.AssertExpectations(t)
}
