// Package api defines the request and response documents shared by the fit
// service and the psffit command, and turns them into library calls.
package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/psffit/internal/errors"
	"github.com/copyleftdev/psffit/internal/fitting"
	"github.com/copyleftdev/psffit/internal/optimization"
	"github.com/copyleftdev/psffit/internal/psf"
	"github.com/copyleftdev/psffit/internal/store"
)

// OptimizerRequest overrides optimizer defaults. Zero fields keep the default.
type OptimizerRequest struct {
	Algorithm         string  `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
	MaxIterations     int     `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	GradientThreshold float64 `json:"gradient_threshold,omitempty" yaml:"gradient_threshold,omitempty"`
	FunctionTolerance float64 `json:"function_tolerance,omitempty" yaml:"function_tolerance,omitempty"`
	PopulationSize    int     `json:"population_size,omitempty" yaml:"population_size,omitempty"`
	Seed              int64   `json:"seed,omitempty" yaml:"seed,omitempty"`
	Span              float64 `json:"span,omitempty" yaml:"span,omitempty"`
}

// Apply returns base with the fields set in r replaced.
func (r *OptimizerRequest) Apply(base optimization.Config) optimization.Config {
	if r == nil {
		return base
	}
	if r.Algorithm != "" {
		base.Algorithm = optimization.Algorithm(r.Algorithm)
	}
	if r.MaxIterations != 0 {
		base.MaxIterations = r.MaxIterations
	}
	if r.GradientThreshold != 0 {
		base.GradientThreshold = r.GradientThreshold
	}
	if r.FunctionTolerance != 0 {
		base.FunctionTolerance = r.FunctionTolerance
	}
	if r.PopulationSize != 0 {
		base.PopulationSize = r.PopulationSize
	}
	if r.Seed != 0 {
		base.Seed = r.Seed
	}
	if r.Span != 0 {
		base.Span = r.Span
	}
	return base
}

// PositionRequest places the model center in one of three forms: x and y,
// a pos vector, or r and theta (degrees) about an optional origin. It
// replaces any x, y or pos in the accompanying parameters.
type PositionRequest struct {
	X      *float64    `json:"x,omitempty" yaml:"x,omitempty"`
	Y      *float64    `json:"y,omitempty" yaml:"y,omitempty"`
	Pos    *[2]float64 `json:"pos,omitempty" yaml:"pos,omitempty,flow"`
	R      *float64    `json:"r,omitempty" yaml:"r,omitempty"`
	Theta  *float64    `json:"theta,omitempty" yaml:"theta,omitempty"`
	Origin *[2]float64 `json:"origin,omitempty" yaml:"origin,omitempty,flow"`
}

// Spec returns the position form r describes.
func (r *PositionRequest) Spec() (psf.PositionSpec, error) {
	cartesian := r.X != nil || r.Y != nil
	polar := r.R != nil || r.Theta != nil || r.Origin != nil
	forms := 0
	for _, set := range []bool{cartesian, r.Pos != nil, polar} {
		if set {
			forms++
		}
	}
	if forms != 1 {
		return psf.PositionSpec{}, errors.InvalidArgument("PositionRequest.Spec", "position needs exactly one of x/y, pos, or r/theta")
	}

	switch {
	case cartesian:
		if r.X == nil || r.Y == nil {
			return psf.PositionSpec{}, errors.InvalidArgument("PositionRequest.Spec", "x and y must be given together")
		}
		return psf.Cartesian(*r.X, *r.Y), nil
	case r.Pos != nil:
		return psf.Vector(*r.Pos), nil
	default:
		if r.R == nil || r.Theta == nil {
			return psf.PositionSpec{}, errors.InvalidArgument("PositionRequest.Spec", "r and theta must be given together")
		}
		if r.Origin != nil {
			return psf.PolarAbout(*r.Origin, *r.R, *r.Theta), nil
		}
		return psf.Polar(*r.R, *r.Theta), nil
	}
}

// place stores the resolved position in p. A nil request leaves p as is.
func (r *PositionRequest) place(p psf.Params) (psf.Params, error) {
	if r == nil {
		return p, nil
	}
	spec, err := r.Spec()
	if err != nil {
		return p, err
	}
	return p.WithPosition(spec)
}

// FitRequest asks for one model to be fitted to a data grid. Position, when
// set, supplies the starting center.
type FitRequest struct {
	Model     string            `json:"model" yaml:"model"`
	Initial   psf.Params        `json:"initial" yaml:"initial"`
	Position  *PositionRequest  `json:"position,omitempty" yaml:"position,omitempty"`
	Frozen    psf.Params        `json:"frozen,omitempty" yaml:"frozen,omitempty"`
	Data      *psf.Grid         `json:"data" yaml:"data"`
	Domain    *psf.Domain       `json:"domain,omitempty" yaml:"domain,omitempty"`
	Residual  string            `json:"residual,omitempty" yaml:"residual,omitempty"`
	MaxFWHM   float64           `json:"max_fwhm,omitempty" yaml:"max_fwhm,omitempty"`
	Optimizer *OptimizerRequest `json:"optimizer,omitempty" yaml:"optimizer,omitempty"`
}

// Defaults are applied to requests that leave a setting out.
type Defaults struct {
	Optimizer optimization.Config
	MaxFWHM   float64
}

// DefaultDefaults returns the library defaults.
func DefaultDefaults() Defaults {
	return Defaults{Optimizer: optimization.DefaultConfig()}
}

// FitCall is a validated FitRequest ready to run.
type FitCall struct {
	Model   psf.Model
	Initial psf.Params
	Data    *psf.Grid
	Options fitting.Options
}

// Build resolves the names in r and checks everything that can be checked
// without running the fit.
func (r *FitRequest) Build(d Defaults) (*FitCall, error) {
	m, err := psf.Lookup(r.Model)
	if err != nil {
		return nil, err
	}
	if r.Data == nil {
		return nil, errors.InvalidArgument("FitRequest.Build", "data grid is required")
	}
	initial, err := r.Position.place(r.Initial)
	if err != nil {
		return nil, err
	}
	if err := fitting.Validate(initial, r.Frozen); err != nil {
		return nil, err
	}
	residual, err := fitting.ResidualByName(r.Residual)
	if err != nil {
		return nil, err
	}
	opt, err := optimization.New(r.Optimizer.Apply(d.Optimizer))
	if err != nil {
		return nil, err
	}

	maxFWHM := d.MaxFWHM
	if r.MaxFWHM != 0 {
		maxFWHM = r.MaxFWHM
	}

	return &FitCall{
		Model:   m,
		Initial: initial,
		Data:    r.Data,
		Options: fitting.Options{
			Domain:    r.Domain,
			Frozen:    r.Frozen,
			Residual:  residual,
			MaxFWHM:   maxFWHM,
			Optimizer: opt,
		},
	}, nil
}

// Run fits c, logging through logger.
func (c *FitCall) Run(ctx context.Context, logger *zap.Logger) (*fitting.Result, error) {
	opts := c.Options
	opts.Logger = logger
	return fitting.Fit(ctx, c.Model, c.Initial, c.Data, opts)
}

// FitResponse reports a fit job or a synchronous fit.
type FitResponse struct {
	ID         string          `json:"id,omitempty" yaml:"id,omitempty"`
	Model      string          `json:"model" yaml:"model"`
	State      store.State     `json:"state" yaml:"state"`
	Result     *fitting.Result `json:"result,omitempty" yaml:"result,omitempty"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt  *time.Time      `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// NewFitResponse describes job.
func NewFitResponse(job *store.Job) FitResponse {
	created := job.CreatedAt
	return FitResponse{
		ID:         job.ID,
		Model:      job.Model,
		State:      job.State,
		Result:     job.Result,
		Error:      job.Error,
		CreatedAt:  &created,
		FinishedAt: job.FinishedAt,
	}
}

// RenderRequest asks for a model to be sampled on a grid. Without a domain
// the model's bounding box is used.
type RenderRequest struct {
	Model    string           `json:"model" yaml:"model"`
	Params   psf.Params       `json:"params" yaml:"params"`
	Position *PositionRequest `json:"position,omitempty" yaml:"position,omitempty"`
	Domain   *psf.Domain      `json:"domain,omitempty" yaml:"domain,omitempty"`
	MaxSize  float64          `json:"max_size,omitempty" yaml:"max_size,omitempty"`
}

// RenderResponse is a sampled model.
type RenderResponse struct {
	Model  string     `json:"model" yaml:"model"`
	Center [2]float64 `json:"center" yaml:"center"`
	Grid   *psf.Grid  `json:"grid" yaml:"grid"`
}

// Render samples the requested model.
func (r *RenderRequest) Render(logger *zap.Logger) (*RenderResponse, error) {
	m, err := psf.Lookup(r.Model)
	if err != nil {
		return nil, err
	}
	params, err := r.Position.place(r.Params)
	if err != nil {
		return nil, err
	}
	inst, err := psf.New(m, params, psf.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	var d psf.Domain
	if r.Domain != nil {
		d = *r.Domain
	} else {
		maxsize := r.MaxSize
		if maxsize == 0 {
			maxsize = psf.DefaultMaxSize
		}
		if maxsize < 0 {
			return nil, errors.InvalidArgument("RenderRequest.Render", "max_size must be positive")
		}
		d = inst.BoundingBox(maxsize)
	}
	if d.Empty() {
		return nil, errors.InvalidArgument("RenderRequest.Render", "domain %v is empty", d)
	}

	return &RenderResponse{
		Model:  m.Name(),
		Center: inst.Center(),
		Grid:   inst.Render(d),
	}, nil
}
