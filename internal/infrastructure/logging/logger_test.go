package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var line map[string]any
		require.NoError(t, dec.Decode(&line))
		out = append(out, line)
	}
	return out
}

func TestNewLogger_AddsServiceAndContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Format: "json", Output: &buf, ServiceName: "svc", Environment: "test"})

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithViewerID(ctx, "viewer-1")
	ctx = WithScreenID(ctx, "screen-1")
	logger.InfoContext(ctx, "hello")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "svc", lines[0]["service"])
	assert.Equal(t, "test", lines[0]["environment"])
	assert.Equal(t, "req-1", lines[0]["request_id"])
	assert.Equal(t, "viewer-1", lines[0]["viewer_id"])
	assert.Equal(t, "screen-1", lines[0]["screen_id"])
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "warn", Output: &buf})

	logger.Info("dropped")
	logger.Warn("kept")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["msg"])
}

func TestGetRequestID(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
	assert.Equal(t, "abc", GetRequestID(WithRequestID(context.Background(), "abc")))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	assert.Same(t, base, LoggerFromContext(context.Background(), base))

	LoggerFromContext(WithViewerID(context.Background(), "viewer-9"), base).Info("x")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "viewer-9", lines[0]["viewer_id"])
}

func TestLogPanic(t *testing.T) {
	var buf bytes.Buffer
	LogPanic(slog.New(slog.NewJSONHandler(&buf, nil)), errors.New("boom"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "panic recovered", lines[0]["msg"])
	assert.Contains(t, lines[0]["stack_trace"], "goroutine")
}

func TestHTTPRequestLogger_LevelByStatus(t *testing.T) {
	var buf bytes.Buffer
	l := &HTTPRequestLogger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	l.LogRequest(context.Background(), "GET", "/a", 200, time.Millisecond, 10, "1.2.3.4", "ua")
	l.LogRequest(context.Background(), "GET", "/b", 404, time.Millisecond, 10, "1.2.3.4", "ua")
	l.LogRequest(context.Background(), "GET", "/c", 503, time.Millisecond, 10, "1.2.3.4", "ua")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "WARN", lines[1]["level"])
	assert.Equal(t, "ERROR", lines[2]["level"])
}
