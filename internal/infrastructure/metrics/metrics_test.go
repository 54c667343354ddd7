package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandler_ExposesEngineMetrics(t *testing.T) {
	IncPublished("LIKE_CHANGED")
	IncDelivered("LIKE_CHANGED")
	IncPublishFailure("FOLLOW_CHANGED")
	IncEchoSuppressed()
	SetSubscribers(3)
	IncFetchFailure("top_posts")
	IncRollback("like")
	AddOpenScreens(1)
	IncRateLimited("viewer")
	SetWebSocketClients(2)
	ObserveLoad("home", 25*time.Millisecond)

	body := scrape(t)
	for _, want := range []string{
		`carenet_sync_bus_events_published_total{type="LIKE_CHANGED"}`,
		`carenet_sync_bus_events_delivered_total{type="LIKE_CHANGED"}`,
		`carenet_sync_bus_publish_failures_total{type="FOLLOW_CHANGED"}`,
		`carenet_sync_echoes_suppressed_total`,
		`carenet_sync_bus_subscribers 3`,
		`carenet_sync_fetch_failures_total{section="top_posts"}`,
		`carenet_sync_optimistic_rollbacks_total{action="like"}`,
		`carenet_sync_open_screens`,
		`carenet_sync_http_rate_limited_total{scope="viewer"}`,
		`carenet_sync_websocket_clients 2`,
		`carenet_sync_screen_load_duration_seconds_count{screen_kind="home"}`,
	} {
		assert.Contains(t, body, want)
	}
}
