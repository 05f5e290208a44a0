package psf

import (
	"math"

	"gonum.org/v1/gonum/num/dual"
)

// Gaussian is a Gaussian profile whose full width at half maximum is fwhm.
type Gaussian struct{}

func (Gaussian) Name() string                { return "gaussian" }
func (Gaussian) ParamNames() []string        { return paramNames() }
func (Gaussian) Recognizes(name string) bool { return recognizes(name) }

func (Gaussian) kernel(rho2 dual.Number, _ *shape) dual.Number {
	return dual.Exp(dual.Scale(-4*math.Ln2, rho2))
}
