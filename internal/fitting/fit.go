// Package fitting fits point-spread-function models to gridded data by
// minimizing a penalized loss over the free parameters.
package fitting

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/psffit/internal/errors"
	"github.com/copyleftdev/psffit/internal/optimization"
	"github.com/copyleftdev/psffit/internal/psf"
)

// Options configures Fit. The zero value fits over the whole data grid with
// squared error, no frozen parameters, unbounded fwhm and L-BFGS.
type Options struct {
	Domain    *psf.Domain
	Frozen    psf.Params
	Residual  Residual
	MaxFWHM   float64
	Optimizer optimization.Optimizer
	Logger    *zap.Logger
}

// Result is a completed fit.
type Result struct {
	// Params holds the best free parameters. Frozen ones are not included.
	Params psf.Params `json:"params"`
	// Model is the best fit rendered over the fit domain.
	Model *psf.Grid `json:"model"`

	Loss        float64 `json:"loss"`
	Converged   bool    `json:"converged"`
	Status      string  `json:"status"`
	Iterations  int     `json:"iterations"`
	Evaluations int     `json:"evaluations"`
}

// Fit adjusts the parameters of initial to match data. Argument errors are
// returned before the optimizer runs. A run that does not converge is logged
// as a warning and still returns its best point.
func Fit(ctx context.Context, m psf.Model, initial psf.Params, data *psf.Grid, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		return nil, errors.InvalidArgument("Fit", "model is nil")
	}
	logger = logger.With(zap.String("model", m.Name()))

	if err := Validate(initial, opts.Frozen); err != nil {
		return nil, err
	}
	keys := initial.Keys()
	x0, err := Flatten(initial)
	if err != nil {
		return nil, err
	}

	obj, err := NewObjective(m, keys, data, ObjectiveConfig{
		Domain:   opts.Domain,
		Frozen:   opts.Frozen,
		Residual: opts.Residual,
		MaxFWHM:  opts.MaxFWHM,
	})
	if err != nil {
		return nil, err
	}
	if v := obj.Violation(initial); v != "" {
		return nil, errors.InvalidArgument("Fit", "initial guess %v violates the %s constraint", initial, v)
	}

	optimizer := opts.Optimizer
	if optimizer == nil {
		optimizer = optimization.Default()
	}

	start := time.Now()
	logger.Debug("Starting fit",
		zap.Strings("free", keys),
		zap.Int("slots", len(x0)),
		zap.String("algorithm", string(optimizer.Name())),
		zap.Stringer("domain", obj.Domain()),
	)

	res, err := optimizer.Minimize(ctx, obj.Problem(), x0)
	if err != nil {
		return nil, errors.Wrapf(err, "fit %s", m.Name())
	}

	if !res.Converged {
		logger.Warn("Fit did not converge",
			zap.String("status", res.Status),
			zap.Float64("loss", res.F),
			zap.Int("iterations", res.Iterations),
		)
	}

	best, err := Unflatten(keys, res.X)
	if err != nil {
		return nil, err
	}
	inst, err := psf.New(m, opts.Frozen.Merge(best), psf.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	logger.Debug("Fit finished",
		zap.Stringer("params", best),
		zap.Float64("loss", res.F),
		zap.Int("evaluations", res.Evaluations),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Result{
		Params:      best,
		Model:       inst.Render(obj.Domain()),
		Loss:        res.F,
		Converged:   res.Converged,
		Status:      res.Status,
		Iterations:  res.Iterations,
		Evaluations: res.Evaluations,
	}, nil
}
