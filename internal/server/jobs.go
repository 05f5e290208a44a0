package server

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/psffit/internal/api"
	"github.com/copyleftdev/psffit/internal/errors"
	"github.com/copyleftdev/psffit/internal/fitting"
	"github.com/copyleftdev/psffit/internal/metrics"
	"github.com/copyleftdev/psffit/internal/store"
)

// errFinished is returned when a finished job is asked to change.
var errFinished = errors.New("fit job already finished")

// storeTimeout bounds store writes made outside a request.
const storeTimeout = 5 * time.Second

// startFit validates req, records a pending job and runs it in the
// background.
func (s *Server) startFit(req *api.FitRequest) (*store.Job, error) {
	call, err := req.Build(s.defaults)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &store.Job{
		ID:        uuid.New().String(),
		Model:     call.Model.Name(),
		State:     store.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Fit.Timeout)
	s.mu.Lock()
	if err := s.save(job); err != nil {
		s.mu.Unlock()
		cancel()
		return nil, err
	}
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	s.logger.Info("Fit job accepted", map[string]interface{}{
		"job_id": job.ID,
		"model":  job.Model,
	})

	s.wg.Add(1)
	go s.runFit(ctx, job.ID, call)
	return job, nil
}

func (s *Server) runFit(ctx context.Context, id string, call *api.FitCall) {
	defer s.wg.Done()
	defer s.release(id)

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		s.finish(id, call.Model.Name(), nil, ctx.Err(), 0, -1)
		return
	}

	if _, err := s.update(id, func(j *store.Job) { j.State = store.StateRunning }); err != nil {
		if errors.Is(err, errFinished) {
			s.metrics.ObserveFit(call.Model.Name(), metrics.OutcomeCancelled, 0, -1)
		}
		return
	}
	s.metrics.JobsRunning.Inc()
	defer s.metrics.JobsRunning.Dec()

	start := time.Now()
	res, err := call.Run(ctx, s.zap.With(zap.String("job_id", id)))
	evaluations := -1
	if res != nil {
		evaluations = res.Evaluations
	}
	s.finish(id, call.Model.Name(), res, err, time.Since(start), evaluations)
}

// finish records the outcome of a fit. A job cancelled by request stays
// cancelled.
func (s *Server) finish(id, model string, res *fitting.Result, fitErr error, elapsed time.Duration, evaluations int) {
	outcome := metrics.OutcomeFailed
	job, err := s.update(id, func(j *store.Job) {
		switch {
		case fitErr == nil:
			j.State = store.StateCompleted
			j.Result = res
			outcome = metrics.OutcomeConverged
			if !res.Converged {
				outcome = metrics.OutcomeStalled
			}
		case errors.Is(fitErr, context.DeadlineExceeded):
			j.State = store.StateFailed
			j.Error = "fit timed out after " + s.cfg.Fit.Timeout.String()
		case errors.Is(fitErr, context.Canceled):
			j.State = store.StateCancelled
			j.Error = "server shutting down"
			outcome = metrics.OutcomeCancelled
		default:
			j.State = store.StateFailed
			j.Error = fitErr.Error()
		}
	})
	if errors.Is(err, errFinished) {
		outcome = metrics.OutcomeCancelled
	} else if err != nil {
		s.logger.Error("Failed to record fit outcome", map[string]interface{}{
			"job_id": id,
			"error":  err.Error(),
		})
		return
	}
	s.metrics.ObserveFit(model, outcome, elapsed, evaluations)

	if job != nil {
		fields := map[string]interface{}{
			"job_id":     id,
			"model":      model,
			"state":      string(job.State),
			"outcome":    outcome,
			"elapsed_ms": elapsed.Milliseconds(),
		}
		if job.State == store.StateFailed {
			fields["error"] = job.Error
			s.logger.Warn("Fit job failed", fields)
		} else {
			s.logger.Info("Fit job finished", fields)
		}
	}
}

// cancelFit marks a pending or running job cancelled and stops its fit.
func (s *Server) cancelFit(id string) (*store.Job, error) {
	job, err := s.update(id, func(j *store.Job) {
		j.State = store.StateCancelled
		j.Error = "cancelled by request"
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	cancel := s.cancels[id]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.logger.Info("Fit job cancelled", map[string]interface{}{"job_id": id})
	return job, nil
}

func (s *Server) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
}

// update applies fn to the stored job and saves it. Finished jobs are left
// alone and yield errFinished with the stored job.
func (s *Server) update(id string, fn func(j *store.Job)) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State.Terminal() {
		return job, errors.Wrapf(errFinished, "job %s is %s", id, job.State)
	}

	fn(job)
	now := time.Now().UTC()
	job.UpdatedAt = now
	if job.State.Terminal() {
		job.FinishedAt = &now
	}
	if err := s.store.Save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// save must be called with s.mu held.
func (s *Server) save(job *store.Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return s.store.Save(ctx, job)
}

// RecoverJobs fails jobs left pending or running by a previous process and
// returns how many were changed.
func (s *Server) RecoverJobs(ctx context.Context) (int, error) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, j := range jobs {
		if j.State.Terminal() {
			continue
		}
		if _, err := s.update(j.ID, func(j *store.Job) {
			j.State = store.StateFailed
			j.Error = "interrupted by server restart"
		}); err != nil && !errors.Is(err, errFinished) {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.logger.Warn("Marked interrupted fit jobs as failed", map[string]interface{}{"count": n})
	}
	return n, nil
}
