package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wsAdapter "github.com/lorrc/carenet-sync/internal/adapters/primary/websocket"
	"github.com/lorrc/carenet-sync/internal/auth"
	"github.com/lorrc/carenet-sync/internal/config"
	"github.com/lorrc/carenet-sync/internal/core/domain"
	"github.com/lorrc/carenet-sync/internal/core/mocks"
)

func newWebSocketServer(t *testing.T) (*httptest.Server, *wsAdapter.Hub, *mocks.MockScreenService, *auth.TokenManager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tm := auth.NewTokenManager("test-secret", time.Hour)

	hub := wsAdapter.NewHub(wsAdapter.DefaultConfig(), logger)
	screens := mocks.NewMockScreenService()
	hub.UseScreens(screens)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	cfg := &config.Config{
		App:       config.AppConfig{Environment: "development"},
		WebSocket: config.WebSocketConfig{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
	handler := NewWebSocketHandler(hub, tm, cfg, NewErrorHandler(logger), logger)

	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, hub, screens, tm
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
}

func TestWebSocketHandler_StreamsScreenUpdates(t *testing.T) {
	srv, hub, screens, tm := newWebSocketServer(t)
	screen := mocks.NewMockScreen()
	screen.On("Loaded").Return(false)
	screens.On("Get", "viewer-1", "screen-1").Return(screen, nil)

	token, err := tm.GenerateToken("viewer-1")
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "token="+token+"&screen=screen-1"), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var ack domain.ScreenUpdate
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, wsAdapter.UpdateSubscribed, ack.Type)
	assert.Equal(t, "screen-1", ack.ScreenID)

	ref := domain.Ref(domain.KindPost, "p1")
	hub.Refresh(domain.ScreenUpdate{Type: domain.UpdateRefresh, ScreenID: "screen-1", Ref: ref})

	var update domain.ScreenUpdate
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, domain.UpdateRefresh, update.Type)
	assert.Equal(t, ref, update.Ref)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "PING"}))
	var pong domain.ScreenUpdate
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, wsAdapter.UpdatePong, pong.Type)
}

func TestWebSocketHandler_RejectsBadTokens(t *testing.T) {
	srv, _, _, _ := newWebSocketServer(t)

	for _, query := range []string{"", "token=garbage"} {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, query), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		_ = resp.Body.Close()
	}
}
