package psf

import (
	"math"

	"gonum.org/v1/gonum/num/dual"
)

// airyFWHM scales a radius in FWHM units to the first-kind Bessel argument
// at which an unobscured Airy pattern falls to half maximum.
const airyFWHM = math.Pi * 1.02899397

// AiryDisk is the diffraction pattern of a circular aperture with an optional
// central obscuration ratio (default 0).
type AiryDisk struct{}

func (AiryDisk) Name() string                { return "airydisk" }
func (AiryDisk) ParamNames() []string        { return paramNames(ParamRatio) }
func (AiryDisk) Recognizes(name string) bool { return recognizes(name, ParamRatio) }

func (AiryDisk) kernel(rho2 dual.Number, s *shape) dual.Number {
	if rho2.Real == 0 {
		return dual.Number{Real: 1}
	}
	q := dual.Scale(airyFWHM, dual.Sqrt(rho2))
	eps := s.ratio
	eps2 := dual.Mul(eps, eps)

	num := dual.Sub(jinc(q), dual.Mul(eps2, jinc(dual.Mul(eps, q))))
	amp := dual.Mul(num, dual.Inv(dual.Sub(dual.Number{Real: 1}, eps2)))
	return dual.Mul(amp, amp)
}

// jinc is 2J1(v)/v with its limit 1 at the origin.
func jinc(v dual.Number) dual.Number {
	f, df := jincReal(v.Real)
	return dual.Number{Real: f, Emag: df * v.Emag}
}

func jincReal(v float64) (f, df float64) {
	if math.Abs(v) < 1e-6 {
		return 1 - v*v/8, -v / 4
	}
	j0, j1 := math.J0(v), math.J1(v)
	return 2 * j1 / v, 2*j0/v - 4*j1/(v*v)
}
