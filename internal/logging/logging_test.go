package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf).WithField("component", "fitting")

	logger.Debug("hidden")
	logger.Info("fit started", map[string]interface{}{"model": "gaussian"})
	logger.WithError(assert.AnError).Warn("fit slow")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "fit started", entries[0]["message"])
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "gaussian", entries[0]["model"])
	assert.Equal(t, "fitting", entries[0]["component"])
	assert.Contains(t, entries[0]["caller"], "logging/logging_test.go")
	assert.Equal(t, assert.AnError.Error(), entries[1]["error"])
}

func TestLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithFormat(DebugLevel, TextFormat, &buf)
	logger.Info("job done", map[string]interface{}{"id": "abc", "status": "ok now"})

	line := buf.String()
	assert.Contains(t, line, "INFO  job done")
	assert.Contains(t, line, "id=abc")
	assert.Contains(t, line, `status="ok now"`)
	assert.Less(t, strings.Index(line, "id="), strings.Index(line, "status="))
}

func TestFatalExits(t *testing.T) {
	code := 0
	old := exit
	exit = func(c int) { code = c }
	defer func() { exit = old }()

	var buf bytes.Buffer
	New(InfoLevel, &buf).Fatal("boom")
	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "FATAL")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLevel(" ERROR "))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
}

func TestNewLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "psffit.log")
	logger, closer, err := NewLogger(&Config{Level: "warn", Format: "text", Output: path})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, WarnLevel, logger.Level())
	logger.Warn("disk write")
}

func TestZapAdapter(t *testing.T) {
	var buf bytes.Buffer
	zl := NewZapLogger(New(DebugLevel, &buf)).Named("fitting").With(zap.String("model", "moffat"))

	zl.Warn("Fit did not converge",
		zap.Float64("loss", 0.125),
		zap.Int("iterations", 7),
		zap.Bool("converged", false),
		zap.Duration("elapsed", 2*time.Second),
		zap.Strings("free", []string{"x", "y"}),
	)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "WARN", e["level"])
	assert.Equal(t, "moffat", e["model"])
	assert.Equal(t, "fitting", e["logger"])
	assert.Equal(t, 0.125, e["loss"])
	assert.Equal(t, 7.0, e["iterations"])
	assert.Equal(t, false, e["converged"])
	assert.Equal(t, []interface{}{"x", "y"}, e["free"])
	assert.Contains(t, e["caller"], "logging/logging_test.go")

	quiet := NewZapLogger(New(ErrorLevel, &buf))
	buf.Reset()
	quiet.Info("dropped")
	assert.Empty(t, buf.String())
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf)

	var fromCtx *CtxLogger
	h := middleware.RequestID(Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = FromContext(r.Context())
		http.Error(w, "nope", http.StatusBadRequest)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/fit", nil))

	require.NotNil(t, fromCtx)
	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "Request rejected", entries[0]["message"])
	assert.Equal(t, 400.0, entries[0]["status"])
	assert.Equal(t, "/api/v1/fit", entries[0]["path"])
	assert.NotEmpty(t, entries[0]["request_id"])
}
