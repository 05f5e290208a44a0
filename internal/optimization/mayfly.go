package optimization

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/cwbudde/mayfly"
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/psffit/internal/errors"
)

const minPopulation = 20

// mayflyOptimizer runs the Mayfly swarm in a box around x0. The swarm works
// on u in [-1, 1]^n, mapped to x_i = x0_i + u_i*w_i with
// w_i = max(|x0_i|*Span, Span).
type mayflyOptimizer struct {
	cfg Config
}

func (m *mayflyOptimizer) Name() Algorithm { return Mayfly }

func (m *mayflyOptimizer) Minimize(ctx context.Context, p Problem, x0 []float64) (*Result, error) {
	if p.Func == nil {
		return nil, errors.InvalidArgument("Minimize", "problem has no objective")
	}
	dim := len(x0)
	if dim == 0 {
		return nil, errors.InvalidArgument("Minimize", "empty starting point")
	}

	width := make([]float64, dim)
	for i, v := range x0 {
		width[i] = math.Max(math.Abs(v)*m.cfg.Span, m.cfg.Span)
	}
	toX := func(u []float64) []float64 {
		x := floats.MulTo(make([]float64, dim), u, width)
		floats.Add(x, x0)
		return x
	}

	var progress bestTrace
	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(u []float64) float64 {
		if ctx.Err() != nil {
			return math.Inf(1)
		}
		f := p.Func(toX(u))
		progress.add(f)
		return f
	}
	config.ProblemSize = dim
	config.MaxIterations = m.cfg.MaxIterations
	config.NPop = m.cfg.PopulationSize
	config.LowerBound = -1
	config.UpperBound = 1
	config.Rand = rand.New(rand.NewSource(m.cfg.Seed))

	res, err := mayfly.Optimize(config)
	if err != nil {
		return nil, errors.Wrap(err, "mayfly optimize")
	}

	// The swarm reports infeasible costs as a finite sentinel, so the best
	// position is scored again with the real objective.
	out := &Result{
		X:           toX(res.GlobalBest.Position),
		Iterations:  m.cfg.MaxIterations,
		Evaluations: progress.count(),
	}
	out.F = p.Func(out.X)
	if f0 := p.Func(x0); f0 < out.F || math.IsNaN(out.F) {
		out.X = append([]float64(nil), x0...)
		out.F = f0
	}

	switch {
	case !feasibleCost(out.F):
		out.Status = "Infeasible"
	case progress.stalled(m.cfg.FunctionTolerance):
		out.Status = "FunctionConvergence"
		out.Converged = true
	default:
		out.Status = "IterationLimit"
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		out.Converged = false
		out.Status = "Cancelled"
		return out, errors.Wrap(ctxErr, "mayfly optimize")
	}
	return out, nil
}

// infeasibleCost is the value mayfly substitutes for a non-finite cost.
const infeasibleCost = 1e100

func feasibleCost(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f < infeasibleCost
}

// bestTrace records the best objective seen after each evaluation.
type bestTrace struct {
	mu   sync.Mutex
	best []float64
}

func (t *bestTrace) add(f float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := math.Inf(1)
	if n := len(t.best); n > 0 {
		cur = t.best[n-1]
	}
	if feasibleCost(f) && f < cur {
		cur = f
	}
	t.best = append(t.best, cur)
}

func (t *bestTrace) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.best)
}

// stalled reports whether the best cost improved by no more than tol
// (absolute and relative) over the second half of the run.
func (t *bestTrace) stalled(tol float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.best)
	if n < 2 {
		return false
	}
	last := t.best[n-1]
	if !feasibleCost(last) {
		return false
	}
	mid := t.best[(n-1)/2]
	return mid-last <= tol*(1+math.Abs(last))
}
