// Package optimization adapts external minimizers to the fitting loop.
package optimization

import (
	"context"
	"strings"

	"github.com/copyleftdev/psffit/internal/errors"
)

// Algorithm names a minimization method.
type Algorithm string

const (
	LBFGS      Algorithm = "lbfgs"
	BFGS       Algorithm = "bfgs"
	NelderMead Algorithm = "neldermead"
	Mayfly     Algorithm = "mayfly"
)

// Algorithms lists the supported algorithms.
func Algorithms() []Algorithm {
	return []Algorithm{LBFGS, BFGS, NelderMead, Mayfly}
}

// Problem is a scalar function to minimize.
type Problem struct {
	// Func evaluates the objective. It may return +Inf for infeasible x.
	Func func(x []float64) float64

	// Grad stores the gradient of Func at x in grad. It may be nil for
	// derivative-free algorithms.
	Grad func(grad, x []float64)
}

// Result is the outcome of a minimization.
type Result struct {
	// X is the best location found.
	X []float64
	// F is the objective at X.
	F float64
	// Converged reports whether a convergence criterion was met.
	Converged bool
	// Status describes how the run ended.
	Status string
	// Iterations is the number of major iterations.
	Iterations int
	// Evaluations is the number of objective evaluations.
	Evaluations int
}

// Optimizer minimizes a Problem starting from x0.
type Optimizer interface {
	// Minimize runs until convergence, an iteration limit or ctx is done.
	// A non-nil Result is returned whenever any location was evaluated,
	// including when ctx ends the run.
	Minimize(ctx context.Context, p Problem, x0 []float64) (*Result, error)

	// Name returns the algorithm name.
	Name() Algorithm
}

// Config selects and tunes an Optimizer.
type Config struct {
	Algorithm Algorithm

	// MaxIterations bounds the number of major iterations.
	MaxIterations int

	// GradientThreshold stops gradient methods when the gradient infinity
	// norm falls below it.
	GradientThreshold float64

	// FunctionTolerance is the absolute and relative change in the
	// objective below which the run counts as converged.
	FunctionTolerance float64

	// PopulationSize, Seed and Span configure the Mayfly swarm. Span is the
	// relative search half-width around x0.
	PopulationSize int
	Seed           int64
	Span           float64
}

// DefaultConfig returns the L-BFGS configuration used by the fitting loop.
func DefaultConfig() Config {
	return Config{
		Algorithm:         LBFGS,
		MaxIterations:     1000,
		GradientThreshold: 1e-8,
		FunctionTolerance: 1e-12,
		PopulationSize:    40,
		Seed:              1,
		Span:              0.25,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.MaxIterations <= 0:
		return errors.InvalidArgument("Config.Validate", "max iterations must be positive, got %d", c.MaxIterations)
	case c.GradientThreshold < 0:
		return errors.InvalidArgument("Config.Validate", "gradient threshold must not be negative")
	case c.FunctionTolerance < 0:
		return errors.InvalidArgument("Config.Validate", "function tolerance must not be negative")
	}
	if c.Algorithm == Mayfly {
		if c.PopulationSize < minPopulation {
			return errors.InvalidArgument("Config.Validate", "mayfly population must be at least %d, got %d", minPopulation, c.PopulationSize)
		}
		if c.Span <= 0 {
			return errors.InvalidArgument("Config.Validate", "mayfly span must be positive")
		}
	}
	return nil
}

// ParseAlgorithm returns the algorithm named s, ignoring case.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case "":
		return LBFGS, nil
	case "nelder-mead":
		return NelderMead, nil
	}
	for _, known := range Algorithms() {
		if a == known {
			return a, nil
		}
	}
	return "", errors.InvalidArgument("ParseAlgorithm", "unknown algorithm %q", s)
}

// New returns the optimizer described by cfg.
func New(cfg Config) (Optimizer, error) {
	alg, err := ParseAlgorithm(string(cfg.Algorithm))
	if err != nil {
		return nil, err
	}
	cfg.Algorithm = alg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if alg == Mayfly {
		return &mayflyOptimizer{cfg: cfg}, nil
	}
	return &gonumOptimizer{cfg: cfg}, nil
}

// Default returns the optimizer for DefaultConfig.
func Default() Optimizer {
	return &gonumOptimizer{cfg: DefaultConfig()}
}
