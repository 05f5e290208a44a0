package psf

import (
	"math"

	"github.com/copyleftdev/psffit/internal/errors"
)

type positionKind int

const (
	positionUnset positionKind = iota
	positionCartesian
	positionVector
	positionPolar
)

// PositionSpec describes a model center in one of the supported forms. The
// zero value matches no form.
type PositionSpec struct {
	kind   positionKind
	a, b   float64
	origin [2]float64
}

// Cartesian places the center at (x, y).
func Cartesian(x, y float64) PositionSpec {
	return PositionSpec{kind: positionCartesian, a: x, b: y}
}

// Vector places the center at pos.
func Vector(pos [2]float64) PositionSpec {
	return PositionSpec{kind: positionVector, a: pos[0], b: pos[1]}
}

// Polar places the center at radius r and angle theta (degrees) about the
// origin.
func Polar(r, theta float64) PositionSpec {
	return PositionSpec{kind: positionPolar, a: r, b: theta}
}

// PolarAbout is Polar about an arbitrary origin.
func PolarAbout(origin [2]float64, r, theta float64) PositionSpec {
	return PositionSpec{kind: positionPolar, a: r, b: theta, origin: origin}
}

// Resolve returns the canonical (x, y) of the spec.
func (s PositionSpec) Resolve() ([2]float64, error) {
	switch s.kind {
	case positionCartesian, positionVector:
		return [2]float64{s.a, s.b}, nil
	case positionPolar:
		rad := s.b * math.Pi / 180
		return [2]float64{
			s.origin[0] + s.a*math.Cos(rad),
			s.origin[1] + s.a*math.Sin(rad),
		}, nil
	default:
		return [2]float64{}, errors.InvalidArgument("Resolve", "position needs x/y, pos, or r/theta")
	}
}
