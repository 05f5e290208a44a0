package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/psffit/internal/api"
	"github.com/copyleftdev/psffit/internal/config"
	"github.com/copyleftdev/psffit/internal/logging"
	"github.com/copyleftdev/psffit/internal/metrics"
	"github.com/copyleftdev/psffit/internal/psf"
	"github.com/copyleftdev/psffit/internal/store"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		Environment: "test",
	}

	cfg.HTTP.Port = 8080
	cfg.HTTP.MaxBodyBytes = 1 << 20

	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"

	cfg.Fit.WorkerCount = 2
	cfg.Fit.Timeout = time.Minute
	cfg.Fit.Algorithm = "lbfgs"
	cfg.Fit.MaxIterations = 1000
	cfg.Fit.GradientThreshold = 1e-8
	cfg.Fit.FunctionTolerance = 1e-12
	cfg.Fit.PopulationSize = 40
	cfg.Fit.Seed = 1
	cfg.Fit.Span = 0.25

	return cfg
}

type testServer struct {
	*Server
	router  chi.Router
	store   store.Store
	metrics *metrics.Metrics
	logs    *bytes.Buffer
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	logs := &bytes.Buffer{}
	logger := logging.NewWithFormat(logging.DebugLevel, logging.JSONFormat, logs)
	st := store.NewMemoryStore()
	m := metrics.New(prometheus.NewRegistry())

	srv := NewServer(cfg, logger, st, m)
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	t.Cleanup(func() { srv.Close() })

	return &testServer{Server: srv, router: r, store: st, metrics: m, logs: logs}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(v), rr.Body.String())
}

func fitRequest(t *testing.T) api.FitRequest {
	t.Helper()
	truth := psf.NewParams(psf.S("x", 9.3), psf.S("y", 8.6), psf.S("fwhm", 2.8), psf.S("amp", 4))
	data, err := psf.Render(psf.Gaussian{}, truth, psf.NewDomain(1, 18, 1, 18))
	require.NoError(t, err)
	return api.FitRequest{
		Model:   "gaussian",
		Initial: psf.NewParams(psf.S("x", 9), psf.S("y", 8.8), psf.S("fwhm", 2.6), psf.S("amp", 3.8)),
		Data:    data,
	}
}

func (ts *testServer) waitFinished(t *testing.T, id string) api.FitResponse {
	t.Helper()
	var resp api.FitResponse
	require.Eventually(t, func() bool {
		rr := ts.do(t, http.MethodGet, "/api/v1/fit/"+id, nil)
		if rr.Code != http.StatusOK {
			return false
		}
		resp = api.FitResponse{}
		decodeBody(t, rr, &resp)
		return resp.State.Terminal()
	}, 30*time.Second, 10*time.Millisecond)
	return resp
}

func TestRegisterRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{http.MethodPost, "/api/v1/fit", true},
		{http.MethodGet, "/api/v1/fit", true},
		{http.MethodGet, "/api/v1/fit/123", true},
		{http.MethodDelete, "/api/v1/fit/123", true},
		{http.MethodPost, "/api/v1/render", true},
		{http.MethodPost, "/rpc", true},
		{http.MethodGet, "/healthz", false}, // Not registered by server package
		{http.MethodGet, "/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := ts.do(t, tt.method, tt.path, nil)
			routed := rr.Code != http.StatusNotFound || strings.Contains(rr.Body.String(), "error")
			assert.Equal(t, tt.shouldExist, routed, "%s %s -> %d", tt.method, tt.path, rr.Code)
		})
	}
}

func TestFitJobLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(t, http.MethodPost, "/api/v1/fit", fitRequest(t))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var started api.FitResponse
	decodeBody(t, rr, &started)
	require.NotEmpty(t, started.ID)
	assert.Equal(t, "gaussian", started.Model)
	assert.Equal(t, store.StatePending, started.State)

	done := ts.waitFinished(t, started.ID)
	require.Equal(t, store.StateCompleted, done.State, done.Error)
	require.NotNil(t, done.Result)
	require.NotNil(t, done.FinishedAt)
	assert.InEpsilon(t, 9.3, done.Result.Params.Float("x", 0), 1e-3)
	assert.InEpsilon(t, 2.8, done.Result.Params.Float("fwhm", 0), 1e-3)
	assert.Equal(t, psf.NewDomain(1, 18, 1, 18), done.Result.Model.Domain)

	rr = ts.do(t, http.MethodGet, "/api/v1/fit", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []api.FitResponse
	decodeBody(t, rr, &list)
	require.Len(t, list, 1)
	assert.Equal(t, started.ID, list[0].ID)

	assert.Eventually(t, func() bool {
		return testutil.CollectAndCount(ts.metrics.FitsTotal) == 1 &&
			testutil.ToFloat64(ts.metrics.JobsRunning) == 0
	}, 5*time.Second, 10*time.Millisecond)

	rr = ts.do(t, http.MethodDelete, "/api/v1/fit/"+started.ID, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestStartFitRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t, nil)

	unknown := fitRequest(t)
	unknown.Model = "sersic"
	infeasible := fitRequest(t)
	infeasible.MaxFWHM = 1

	tests := map[string]interface{}{
		"malformed json": `{"model": `,
		"unknown model":  unknown,
		"missing data":   api.FitRequest{Model: "gaussian", Initial: psf.NewParams(psf.S("fwhm", 2))},
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, "/api/v1/fit", body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}

	// An infeasible start is only detected once the job runs.
	rr := ts.do(t, http.MethodPost, "/api/v1/fit", infeasible)
	require.Equal(t, http.StatusAccepted, rr.Code)
	var started api.FitResponse
	decodeBody(t, rr, &started)
	done := ts.waitFinished(t, started.ID)
	assert.Equal(t, store.StateFailed, done.State)
	assert.Contains(t, done.Error, "fwhm")
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(ts.metrics.FitsTotal.WithLabelValues("gaussian", metrics.OutcomeFailed)) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestUnknownFitJob(t *testing.T) {
	ts := newTestServer(t, nil)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/fit/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/v1/fit/nope", nil).Code)
}

func TestCancelPendingFit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fit.WorkerCount = 1
	ts := newTestServer(t, cfg)

	// Occupy the only worker slot so the job stays pending.
	ts.sem <- struct{}{}

	rr := ts.do(t, http.MethodPost, "/api/v1/fit", fitRequest(t))
	require.Equal(t, http.StatusAccepted, rr.Code)
	var started api.FitResponse
	decodeBody(t, rr, &started)

	rr = ts.do(t, http.MethodDelete, "/api/v1/fit/"+started.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var cancelled api.FitResponse
	decodeBody(t, rr, &cancelled)
	assert.Equal(t, store.StateCancelled, cancelled.State)

	<-ts.sem
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(ts.metrics.FitsTotal.WithLabelValues("gaussian", metrics.OutcomeCancelled)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	job, err := ts.store.Get(context.Background(), started.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateCancelled, job.State)
	assert.Equal(t, "cancelled by request", job.Error)
	assert.Nil(t, job.Result)
}

func TestFitTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fit.Timeout = time.Nanosecond
	ts := newTestServer(t, cfg)

	rr := ts.do(t, http.MethodPost, "/api/v1/fit", fitRequest(t))
	require.Equal(t, http.StatusAccepted, rr.Code)
	var started api.FitResponse
	decodeBody(t, rr, &started)

	done := ts.waitFinished(t, started.ID)
	assert.Equal(t, store.StateFailed, done.State)
	assert.Contains(t, done.Error, "timed out")
}

func TestRender(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(t, http.MethodPost, "/api/v1/render", api.RenderRequest{
		Model:  "airydisk",
		Params: psf.NewParams(psf.S("x", 4), psf.S("y", 5), psf.S("fwhm", 2), psf.S("amp", 3)),
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp api.RenderResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, "airydisk", resp.Model)
	assert.Equal(t, psf.NewDomain(1, 7, 2, 8), resp.Grid.Domain)
	assert.InDelta(t, 3.0, resp.Grid.At(4, 5), 1e-12)

	r, theta := 3.0, 0.0
	rr = ts.do(t, http.MethodPost, "/api/v1/render", api.RenderRequest{
		Model:    "gaussian",
		Params:   psf.NewParams(psf.S("fwhm", 2)),
		Position: &api.PositionRequest{R: &r, Theta: &theta, Origin: &[2]float64{4, 5}},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var polar api.RenderResponse
	decodeBody(t, rr, &polar)
	assert.Equal(t, [2]float64{7, 5}, polar.Center)
	assert.Equal(t, psf.NewDomain(4, 10, 2, 8), polar.Grid.Domain)

	rr = ts.do(t, http.MethodPost, "/api/v1/render", api.RenderRequest{Model: "gaussian"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, http.MethodPost, "/api/v1/render", api.RenderRequest{
		Model:    "gaussian",
		Params:   psf.NewParams(psf.S("fwhm", 2)),
		Position: &api.PositionRequest{R: &r},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestJSONRPC(t *testing.T) {
	ts := newTestServer(t, nil)

	render := `{"model": "gaussian", "params": {"x": 2, "y": 2, "fwhm": 1}}`
	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantField string
	}{
		{name: "parse error", body: `{"jsonrpc": `, wantCode: codeParseError},
		{name: "wrong version", body: `{"jsonrpc": "1.0", "id": 1, "method": "fit.status"}`, wantCode: codeInvalidRequest},
		{name: "unknown method", body: `{"jsonrpc": "2.0", "id": 1, "method": "fit.pause"}`, wantCode: codeMethodNotFound},
		{name: "missing params", body: `{"jsonrpc": "2.0", "id": 1, "method": "fit.status"}`, wantCode: codeInvalidParams},
		{name: "missing id", body: `{"jsonrpc": "2.0", "id": 1, "method": "fit.cancel", "params": {}}`, wantCode: codeInvalidParams},
		{name: "unknown job", body: `{"jsonrpc": "2.0", "id": 1, "method": "fit.status", "params": {"id": "x"}}`, wantCode: codeNotFound},
		{name: "render", body: `{"jsonrpc": "2.0", "id": 1, "method": "model.render", "params": ` + render + `}`, wantField: "grid"},
		{name: "render array params", body: `{"jsonrpc": "2.0", "id": 1, "method": "model.render", "params": [` + render + `]}`, wantField: "grid"},
		{name: "bad render", body: `{"jsonrpc": "2.0", "id": 1, "method": "model.render", "params": {"model": "gaussian"}}`, wantCode: codeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, "/rpc", tt.body)
			assert.Equal(t, http.StatusOK, rr.Code)

			var resp struct {
				JSONRPC string                 `json:"jsonrpc"`
				Result  map[string]interface{} `json:"result"`
				Error   *rpcError              `json:"error"`
			}
			decodeBody(t, rr, &resp)
			assert.Equal(t, "2.0", resp.JSONRPC)

			if tt.wantCode != 0 {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.wantCode, resp.Error.Code)
				return
			}
			require.Nil(t, resp.Error)
			assert.Contains(t, resp.Result, tt.wantField)
		})
	}
}

func TestJSONRPCFitLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	params, err := json.Marshal(fitRequest(t))
	require.NoError(t, err)
	rr := ts.do(t, http.MethodPost, "/rpc", `{"jsonrpc": "2.0", "id": "a", "method": "fit.start", "params": `+string(params)+`}`)

	var started struct {
		ID     string          `json:"id"`
		Result api.FitResponse `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	decodeBody(t, rr, &started)
	require.Nil(t, started.Error)
	assert.Equal(t, "a", started.ID)
	require.NotEmpty(t, started.Result.ID)

	ts.waitFinished(t, started.Result.ID)

	rr = ts.do(t, http.MethodPost, "/rpc", `{"jsonrpc": "2.0", "id": 2, "method": "fit.status", "params": {"id": "`+started.Result.ID+`"}}`)
	var status struct {
		Result api.FitResponse `json:"result"`
	}
	decodeBody(t, rr, &status)
	assert.Equal(t, store.StateCompleted, status.Result.State)

	rr = ts.do(t, http.MethodPost, "/rpc", `{"jsonrpc": "2.0", "id": 3, "method": "fit.cancel", "params": {"id": "`+started.Result.ID+`"}}`)
	var cancel struct {
		Error *rpcError `json:"error"`
	}
	decodeBody(t, rr, &cancel)
	require.NotNil(t, cancel.Error)
	assert.Equal(t, codeFinished, cancel.Error.Code)
}

func TestRecoverJobs(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	for id, state := range map[string]store.State{
		"pending":   store.StatePending,
		"running":   store.StateRunning,
		"completed": store.StateCompleted,
	} {
		require.NoError(t, ts.store.Save(ctx, &store.Job{ID: id, Model: "gaussian", State: state, CreatedAt: now, UpdatedAt: now}))
	}

	n, err := ts.RecoverJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, want := range map[string]store.State{
		"pending":   store.StateFailed,
		"running":   store.StateFailed,
		"completed": store.StateCompleted,
	} {
		job, err := ts.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, job.State, id)
	}
	assert.Contains(t, ts.logs.String(), "Marked interrupted fit jobs as failed")
}

func TestClose(t *testing.T) {
	ts := newTestServer(t, nil)
	assert.NoError(t, ts.Close(), "Close should not return an error")
}
