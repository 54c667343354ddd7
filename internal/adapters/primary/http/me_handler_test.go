package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "github.com/lorrc/carenet-sync/internal/adapters/primary/http/middleware"
	"github.com/lorrc/carenet-sync/internal/auth"
	"github.com/lorrc/carenet-sync/internal/core/domain"
	"github.com/lorrc/carenet-sync/internal/core/mocks"
	"github.com/lorrc/carenet-sync/internal/core/ports"
)

func newMeRouter(t *testing.T, screens ports.ScreenService) (http.Handler, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tm := auth.NewTokenManager("test-secret", time.Hour)
	token, err := tm.GenerateToken(testViewer)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Route("/api/v1/me", func(r chi.Router) {
		r.Use(mw.JWTMiddleware(tm))
		NewMeHandler(screens, NewErrorHandler(logger), logger).RegisterRoutes(r)
	})
	return r, token
}

func TestMeHandler_ListsOpenScreens(t *testing.T) {
	screens := mocks.NewMockScreenService()
	home := mocks.NewMockScreen()
	home.On("ID").Return("screen-a")
	home.On("Snapshot").Return(domain.ScreenSnapshot{ScreenID: "screen-a", Kind: domain.ScreenHome, Loaded: true})
	topic := mocks.NewMockScreen()
	topic.On("ID").Return("screen-b")
	topic.On("Snapshot").Return(domain.ScreenSnapshot{ScreenID: "screen-b", Kind: domain.ScreenTopic, Topic: "cardiology"})
	screens.On("List", testViewer).Return([]ports.Screen{home, topic})

	router, token := newMeRouter(t, screens)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data MeResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, testViewer, body.Data.ViewerID)
	assert.Equal(t, []OpenScreenSummary{
		{ScreenID: "screen-a", Kind: domain.ScreenHome, Loaded: true},
		{ScreenID: "screen-b", Kind: domain.ScreenTopic, Topic: "cardiology"},
	}, body.Data.Screens)
}

func TestMeHandler_EmptyListIsArray(t *testing.T) {
	screens := mocks.NewMockScreenService()
	screens.On("List", testViewer).Return(nil)
	router, token := newMeRouter(t, screens)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/screens", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"data":[]}`, rr.Body.String())
}

func TestMeHandler_RequiresToken(t *testing.T) {
	router, _ := newMeRouter(t, mocks.NewMockScreenService())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/me/screens", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
