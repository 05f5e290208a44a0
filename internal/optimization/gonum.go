package optimization

import (
	"context"

	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/psffit/internal/errors"
)

// gonumOptimizer runs a gonum/optimize local method.
type gonumOptimizer struct {
	cfg Config
}

func (g *gonumOptimizer) Name() Algorithm { return g.cfg.Algorithm }

func (g *gonumOptimizer) method() optimize.Method {
	switch g.cfg.Algorithm {
	case BFGS:
		return &optimize.BFGS{}
	case NelderMead:
		return &optimize.NelderMead{}
	default:
		return &optimize.LBFGS{}
	}
}

func (g *gonumOptimizer) Minimize(ctx context.Context, p Problem, x0 []float64) (*Result, error) {
	if p.Func == nil {
		return nil, errors.InvalidArgument("Minimize", "problem has no objective")
	}
	if len(x0) == 0 {
		return nil, errors.InvalidArgument("Minimize", "empty starting point")
	}
	method := g.method()
	if _, err := method.Uses(optimize.Available{Grad: p.Grad != nil}); err != nil {
		return nil, errors.InvalidArgument("Minimize", "%s: %v", g.cfg.Algorithm, err)
	}

	problem := optimize.Problem{
		Func: p.Func,
		Grad: p.Grad,
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: g.cfg.GradientThreshold,
		MajorIterations:   g.cfg.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   g.cfg.FunctionTolerance,
			Relative:   g.cfg.FunctionTolerance,
			Iterations: 50,
		},
	}

	res, err := optimize.Minimize(problem, append([]float64(nil), x0...), settings, method)
	if res == nil {
		return nil, errors.Wrap(err, "gonum minimize")
	}

	out := &Result{
		X:           res.X,
		F:           res.F,
		Converged:   err == nil && !res.Status.Early(),
		Status:      res.Status.String(),
		Iterations:  res.MajorIterations,
		Evaluations: res.FuncEvaluations,
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		out.Converged = false
		return out, errors.Wrap(ctxErr, "gonum minimize")
	}
	if err != nil {
		out.Status += ": " + err.Error()
	}
	return out, nil
}
