package psf

import (
	"math"

	"gonum.org/v1/gonum/num/dual"
)

// Moffat is a Moffat profile with power index alpha (default 1).
type Moffat struct{}

func (Moffat) Name() string                { return "moffat" }
func (Moffat) ParamNames() []string        { return paramNames(ParamAlpha) }
func (Moffat) Recognizes(name string) bool { return recognizes(name, ParamAlpha) }

// kernel is (1 + 4(2^(1/α) - 1)ρ²)^(-α), written as exp(-α log(1+z)) so the
// tangent of alpha flows through.
func (Moffat) kernel(rho2 dual.Number, s *shape) dual.Number {
	alpha := s.alpha
	two := dual.Exp(dual.Scale(math.Ln2, dual.Inv(alpha)))
	c := dual.Scale(4, dual.Sub(two, dual.Number{Real: 1}))
	z := dual.Mul(c, rho2)
	return dual.Exp(dual.Scale(-1, dual.Mul(alpha, dual.Log(dual.Add(dual.Number{Real: 1}, z)))))
}
