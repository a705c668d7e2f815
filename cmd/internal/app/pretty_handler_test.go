package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrettyHandler_PlainLine(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))

	log.With("component", "ws").WithGroup("req").Info("http.request",
		"method", "GET",
		"status", 404,
		"note", "two words",
		slog.Group("db", "backend", "sqlite"),
	)

	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "ts="))
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Contains(t, line, "lvl=[INFO]")
	assert.Contains(t, line, "msg=http.request")
	assert.Contains(t, line, " component=ws")
	assert.Contains(t, line, " req.method=GET")
	assert.Contains(t, line, " req.status=404")
	assert.Contains(t, line, ` req.note="two words"`)
	assert.Contains(t, line, " req.db.backend=sqlite")
	assert.NotContains(t, line, "\x1b[")
}

func TestPrettyHandler_ColorAndLevels(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, true))

	log.Info("hidden")
	assert.Empty(t, buf.String())

	log.Error("server.fail", "err", errors.New("boom"), "status", 503)
	line := buf.String()
	assert.Contains(t, line, ansiRed+"[ERROR]"+ansiReset)
	assert.Contains(t, line, "err="+ansiRed+"boom"+ansiReset)
	assert.Contains(t, line, "status="+ansiRed+"503"+ansiReset)
}

func TestQuoteIfNeeded(t *testing.T) {
	assert.Equal(t, `""`, quoteIfNeeded(""))
	assert.Equal(t, "plain", quoteIfNeeded("plain"))
	assert.Equal(t, `"a=b"`, quoteIfNeeded("a=b"))
}
