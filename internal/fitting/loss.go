package fitting

import (
	"math"

	"gonum.org/v1/gonum/num/dual"

	"github.com/copyleftdev/psffit/internal/errors"
	"github.com/copyleftdev/psffit/internal/optimization"
	"github.com/copyleftdev/psffit/internal/psf"
)

// Names of the feasibility constraints, in the order they are checked.
const (
	ConstraintX     = "x"
	ConstraintY     = "y"
	ConstraintFWHM  = "fwhm"
	ConstraintRatio = "ratio"
	ConstraintTheta = "theta"
	ConstraintAlpha = "alpha"
)

// ObjectiveConfig configures NewObjective.
type ObjectiveConfig struct {
	// Domain is the index range summed over. Nil means the whole data grid.
	Domain *psf.Domain
	// Frozen parameters are passed to the model but never optimized.
	Frozen psf.Params
	// Residual defaults to SquaredError.
	Residual Residual
	// MaxFWHM is an exclusive upper bound on every fwhm component. Zero,
	// negative or +Inf means unbounded.
	MaxFWHM float64
}

// Objective is the penalized loss of a model against data over a flat
// parameter vector. It holds no mutable state and may be shared.
type Objective struct {
	model    psf.Model
	keys     []string
	data     *psf.Grid
	domain   psf.Domain
	frozen   psf.Params
	residual Residual
	maxFWHM  float64
}

// NewObjective builds the loss for the free parameters keys.
func NewObjective(m psf.Model, keys []string, data *psf.Grid, cfg ObjectiveConfig) (*Objective, error) {
	if m == nil {
		return nil, errors.InvalidArgument("NewObjective", "model is nil")
	}
	if data == nil || data.Data == nil {
		return nil, errors.InvalidArgument("NewObjective", "no data")
	}
	if len(keys) == 0 {
		return nil, errors.InvalidArgument("NewObjective", "no free parameters")
	}

	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			return nil, errors.InvalidArgument("NewObjective", "duplicate parameter %q", k)
		}
		seen[k] = true
		if !m.Recognizes(k) {
			return nil, errors.InvalidArgument("NewObjective", "%s does not recognize parameter %q", m.Name(), k)
		}
		if cfg.Frozen.Has(k) {
			return nil, errors.InvalidArgument("NewObjective", "parameter %q is both free and frozen", k)
		}
	}
	for _, k := range cfg.Frozen.Keys() {
		if !m.Recognizes(k) {
			return nil, errors.InvalidArgument("NewObjective", "%s does not recognize frozen parameter %q", m.Name(), k)
		}
	}

	domain := data.Domain
	if cfg.Domain != nil {
		domain = *cfg.Domain
		if !domain.Within(data.Domain) {
			return nil, errors.InvalidArgument("NewObjective", "domain %v is outside the data %v", domain, data.Domain)
		}
	}

	residual := cfg.Residual
	if residual == nil {
		residual = SquaredError
	}
	maxFWHM := cfg.MaxFWHM
	if maxFWHM <= 0 {
		maxFWHM = math.Inf(1)
	}

	return &Objective{
		model:    m,
		keys:     append([]string(nil), keys...),
		data:     data,
		domain:   domain,
		frozen:   cfg.Frozen,
		residual: residual,
		maxFWHM:  maxFWHM,
	}, nil
}

// Keys returns the free parameter names in vector order.
func (o *Objective) Keys() []string { return append([]string(nil), o.keys...) }

// Domain returns the index range the loss sums over.
func (o *Objective) Domain() psf.Domain { return o.domain }

// Problem returns o as an optimization problem.
func (o *Objective) Problem() optimization.Problem {
	return optimization.Problem{Func: o.Func, Grad: o.Grad}
}

// Violation returns the first constraint the free parameters break together
// with the frozen ones, or "" when the point is feasible.
func (o *Objective) Violation(free psf.Params) string {
	return o.violation(o.frozen.Merge(free))
}

func (o *Objective) violation(p psf.Params) string {
	c, err := p.Position()
	if err != nil {
		return ConstraintX
	}
	if !(c[0] >= float64(o.domain.XMin)-0.5 && c[0] <= float64(o.domain.XMax)+0.5) {
		return ConstraintX
	}
	if !(c[1] >= float64(o.domain.YMin)-0.5 && c[1] <= float64(o.domain.YMax)+0.5) {
		return ConstraintY
	}

	fwhm, ok := p.Get(psf.ParamFWHM)
	if !ok {
		return ConstraintFWHM
	}
	for _, f := range fwhm.Components() {
		if !(f > 0 && f < o.maxFWHM) {
			return ConstraintFWHM
		}
	}

	if v, ok := p.Get(psf.ParamRatio); ok {
		if r := v.Float(); !(r > 0 && r < 1) {
			return ConstraintRatio
		}
	}
	if v, ok := p.Get(psf.ParamTheta); ok {
		if th := v.Float(); !(th > -45 && th < 45) {
			return ConstraintTheta
		}
	}
	if v, ok := p.Get(psf.ParamAlpha); ok {
		if a := v.Float(); !(a > 0) {
			return ConstraintAlpha
		}
	}
	return ""
}

// Func returns the loss at x, or +Inf when x is infeasible.
func (o *Objective) Func(x []float64) float64 {
	p, ok := o.feasible(x)
	if !ok {
		return math.Inf(1)
	}
	in, err := psf.NewDual(o.model, p, psf.Params{})
	if err != nil {
		return math.Inf(1)
	}
	return o.sum(in).Real
}

// Grad stores the gradient of Func at x in grad, one forward-mode pass per
// slot. The gradient at an infeasible point is zero.
func (o *Objective) Grad(grad, x []float64) {
	for i := range grad {
		grad[i] = 0
	}
	p, ok := o.feasible(x)
	if !ok {
		return
	}

	seed := make([]float64, len(x))
	for k := range x {
		seed[k] = 1
		tangent, err := Unflatten(o.keys, seed)
		seed[k] = 0
		if err != nil {
			return
		}
		in, err := psf.NewDual(o.model, p, tangent)
		if err != nil {
			return
		}
		grad[k] = o.sum(in).Emag
	}
}

func (o *Objective) feasible(x []float64) (psf.Params, bool) {
	free, err := Unflatten(o.keys, x)
	if err != nil {
		return psf.Params{}, false
	}
	p := o.frozen.Merge(free)
	return p, o.violation(p) == ""
}

func (o *Objective) sum(in *psf.Instance) dual.Number {
	var total dual.Number
	d := o.domain
	for y := d.YMin; y <= d.YMax; y++ {
		for x := d.XMin; x <= d.XMax; x++ {
			r := dual.Sub(in.AtDual(float64(x), float64(y)), dual.Number{Real: o.data.At(x, y)})
			total = dual.Add(total, o.residual(r))
		}
	}
	return total
}
