// Package psf implements lazily evaluated two-dimensional point-spread
// function models.
//
// Every model is evaluated in dual-number arithmetic so that the same code
// path serves plain float evaluation and forward-mode derivatives.
package psf

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/num/dual"

	"github.com/copyleftdev/psffit/internal/errors"
)

// Model is a point-spread-function variant. The set of models is closed:
// Gaussian, AiryDisk and Moffat.
type Model interface {
	// Name returns the lower-case model name used by Lookup.
	Name() string
	// ParamNames returns the recognized parameter names.
	ParamNames() []string
	// Recognizes reports whether name is a parameter of the model.
	Recognizes(name string) bool

	// kernel returns the unscaled profile at squared normalized radius rho2.
	// The value at rho2 == 0 is exactly 1.
	kernel(rho2 dual.Number, s *shape) dual.Number
}

var commonParams = []string{ParamX, ParamY, ParamPos, ParamFWHM, ParamAmp, ParamBkg, ParamTheta}

func recognizes(name string, extra ...string) bool {
	for _, n := range commonParams {
		if n == name {
			return true
		}
	}
	for _, n := range extra {
		if n == name {
			return true
		}
	}
	return false
}

func paramNames(extra ...string) []string {
	names := make([]string, 0, len(commonParams)+len(extra))
	names = append(names, commonParams...)
	return append(names, extra...)
}

// shape holds resolved parameter values, each carrying a tangent.
type shape struct {
	x, y     dual.Number
	fwhm     [2]dual.Number
	diagonal bool
	amp      dual.Number
	bkg      dual.Number
	theta    dual.Number
	ratio    dual.Number
	alpha    dual.Number
}

// Instance is a model with resolved parameters. It is immutable and safe for
// concurrent use.
type Instance struct {
	model  Model
	params Params
	s      shape
}

// Option configures New.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for evaluation warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New resolves p against m. Unrecognized names, a missing fwhm and malformed
// positions are argument errors. A non-zero theta on a scalar fwhm is logged
// as a warning and otherwise ignored.
func New(m Model, p Params, opts ...Option) (*Instance, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	inst, err := NewDual(m, p, Params{})
	if err != nil {
		return nil, err
	}
	if !inst.s.diagonal && inst.s.theta.Real != 0 {
		o.logger.Warn(fmt.Sprintf("isotropic %s is not affected by non-zero rotation angle θ", m.Name()),
			zap.String("model", m.Name()),
			zap.Float64("theta", inst.s.theta.Real),
		)
	}
	return inst, nil
}

// NewDual is New with a tangent for every parameter. Names missing from
// tangent have a zero tangent. A pair fwhm takes a pair tangent.
func NewDual(m Model, p, tangent Params) (*Instance, error) {
	if m == nil {
		return nil, errors.InvalidArgument("New", "model is nil")
	}
	for _, e := range p.entries {
		if !m.Recognizes(e.Name) {
			return nil, errors.InvalidArgument("New", "%s does not recognize parameter %q", m.Name(), e.Name)
		}
		if e.Value.IsPair() && !PairAllowed(e.Name) {
			return nil, errors.InvalidArgument("New", "parameter %q must be a scalar", e.Name)
		}
	}
	for _, e := range tangent.entries {
		if !p.Has(e.Name) {
			return nil, errors.InvalidArgument("New", "tangent for unknown parameter %q", e.Name)
		}
	}

	center, err := p.Position()
	if err != nil {
		return nil, err
	}
	fwhm, ok := p.Get(ParamFWHM)
	if !ok {
		return nil, errors.InvalidArgument("New", "%s requires fwhm", m.Name())
	}

	s := shape{
		x:        dual.Number{Real: center[0], Emag: tangent.Float(ParamX, 0)},
		y:        dual.Number{Real: center[1], Emag: tangent.Float(ParamY, 0)},
		diagonal: fwhm.IsPair(),
		amp:      dualOf(p, tangent, ParamAmp, 1),
		bkg:      dualOf(p, tangent, ParamBkg, 0),
		theta:    dualOf(p, tangent, ParamTheta, 0),
		ratio:    dualOf(p, tangent, ParamRatio, 0),
		alpha:    dualOf(p, tangent, ParamAlpha, 1),
	}
	fx, fy := fwhm.XY()
	var tx, ty float64
	if t, ok := tangent.Get(ParamFWHM); ok {
		tx, ty = t.XY()
	}
	s.fwhm = [2]dual.Number{{Real: fx, Emag: tx}, {Real: fy, Emag: ty}}

	return &Instance{model: m, params: p, s: s}, nil
}

func dualOf(p, tangent Params, name string, def float64) dual.Number {
	return dual.Number{Real: p.Float(name, def), Emag: tangent.Float(name, 0)}
}

// Model returns the model variant.
func (in *Instance) Model() Model { return in.model }

// Params returns the parameters the instance was built from.
func (in *Instance) Params() Params { return in.params }

// Center returns the resolved center.
func (in *Instance) Center() [2]float64 {
	return [2]float64{in.s.x.Real, in.s.y.Real}
}

// At evaluates the model at (x, y).
func (in *Instance) At(x, y float64) float64 {
	return in.AtDual(x, y).Real
}

// AtDual evaluates the model at (x, y). Emag carries the directional
// derivative along the tangent given to NewDual.
func (in *Instance) AtDual(x, y float64) dual.Number {
	s := &in.s
	dx := dual.Sub(dual.Number{Real: x}, s.x)
	dy := dual.Sub(dual.Number{Real: y}, s.y)

	var rho2 dual.Number
	if s.diagonal {
		rad := dual.Scale(math.Pi/180, s.theta)
		c, sn := dual.Cos(rad), dual.Sin(rad)
		u := dual.Add(dual.Mul(c, dx), dual.Mul(sn, dy))
		v := dual.Sub(dual.Mul(c, dy), dual.Mul(sn, dx))
		u = dual.Mul(u, dual.Inv(s.fwhm[0]))
		v = dual.Mul(v, dual.Inv(s.fwhm[1]))
		rho2 = dual.Add(dual.Mul(u, u), dual.Mul(v, v))
	} else {
		r2 := dual.Add(dual.Mul(dx, dx), dual.Mul(dy, dy))
		rho2 = dual.Mul(r2, dual.Inv(dual.Mul(s.fwhm[0], s.fwhm[0])))
	}

	k := in.model.kernel(rho2, s)
	return dual.Add(dual.Mul(s.amp, k), s.bkg)
}

// Render evaluates the instance over every index of d.
func (in *Instance) Render(d Domain) *Grid {
	g := NewGrid(d)
	for y := d.YMin; y <= d.YMax; y++ {
		for x := d.XMin; x <= d.XMax; x++ {
			g.Set(x, y, in.At(float64(x), float64(y)))
		}
	}
	return g
}

// BoundingBox returns the index box covering maxsize FWHMs around the center.
func (in *Instance) BoundingBox(maxsize float64) Domain {
	fwhm := Scalar(in.s.fwhm[0].Real)
	if in.s.diagonal {
		fwhm = Pair(in.s.fwhm[0].Real, in.s.fwhm[1].Real)
	}
	return BoundingBox(in.Center(), fwhm, maxsize)
}

// Evaluate is a one-off evaluation of m with p at (x, y).
func Evaluate(m Model, p Params, x, y float64, opts ...Option) (float64, error) {
	in, err := New(m, p, opts...)
	if err != nil {
		return 0, err
	}
	return in.At(x, y), nil
}

// Render evaluates m with p over every index of d.
func Render(m Model, p Params, d Domain, opts ...Option) (*Grid, error) {
	if d.Empty() {
		return nil, errors.InvalidArgument("Render", "empty domain %v", d)
	}
	in, err := New(m, p, opts...)
	if err != nil {
		return nil, err
	}
	return in.Render(d), nil
}
