// Package server implements the HTTP and JSON-RPC front end of the fit
// service.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copyleftdev/psffit/internal/api"
	"github.com/copyleftdev/psffit/internal/config"
	"github.com/copyleftdev/psffit/internal/errors"
	"github.com/copyleftdev/psffit/internal/logging"
	"github.com/copyleftdev/psffit/internal/metrics"
	"github.com/copyleftdev/psffit/internal/store"
)

// Server runs fit jobs in the background and serves their state.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	zap      *zap.Logger
	store    store.Store
	metrics  *metrics.Metrics
	defaults api.Defaults

	// sem bounds the number of fits running at once.
	sem chan struct{}

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	// mu serializes job state transitions and guards cancels.
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewServer creates a server that keeps jobs in st and records fits in m.
func NewServer(cfg *config.Config, logger *logging.Logger, st store.Store, m *metrics.Metrics) *Server {
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		logger:  logger,
		zap:     logging.NewZapLogger(logger).Named("fit"),
		store:   st,
		metrics: m,
		defaults: api.Defaults{
			Optimizer: cfg.Fit.Optimizer(),
			MaxFWHM:   cfg.Fit.MaxFWHM,
		},
		sem:     make(chan struct{}, cfg.Fit.WorkerCount),
		ctx:     ctx,
		stop:    stop,
		cancels: make(map[string]context.CancelFunc),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/fit", s.handleStartFit)
		r.Get("/fit", s.handleListFits)
		r.Get("/fit/{id}", s.handleFitStatus)
		r.Delete("/fit/{id}", s.handleCancelFit)
		r.Post("/render", s.handleRender)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// Close cancels running fits and waits for them to record their outcome.
func (s *Server) Close() error {
	s.stop()
	s.wg.Wait()
	return nil
}

func (s *Server) handleStartFit(w http.ResponseWriter, r *http.Request) {
	var req api.FitRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	job, err := s.startFit(&req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusAccepted, api.NewFitResponse(job))
}

func (s *Server) handleListFits(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]api.FitResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, api.NewFitResponse(j))
	}
	s.respond(w, http.StatusOK, out)
}

func (s *Server) handleFitStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, api.NewFitResponse(job))
}

func (s *Server) handleCancelFit(w http.ResponseWriter, r *http.Request) {
	job, err := s.cancelFit(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, api.NewFitResponse(job))
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req api.RenderRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := req.Render(s.zap)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, res)
}

// decode reads a JSON body of at most HTTP.MaxBodyBytes into v.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, s.cfg.HTTP.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errors.InvalidArgument("decode", "invalid request body: %v", err)
	}
	return nil
}

func (s *Server) respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request error", map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		})
	}
	s.respond(w, status, map[string]interface{}{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errFinished):
		return http.StatusConflict
	default:
		return errors.StatusCode(err)
	}
}
