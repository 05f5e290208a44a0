package fitting

import (
	"strings"

	"gonum.org/v1/gonum/num/dual"

	"github.com/copyleftdev/psffit/internal/errors"
)

// Residual maps a model-minus-data difference to its loss contribution.
type Residual func(r dual.Number) dual.Number

// SquaredError is the default chi-squared style residual.
func SquaredError(r dual.Number) dual.Number {
	return dual.Mul(r, r)
}

// AbsoluteError is the L1 residual.
func AbsoluteError(r dual.Number) dual.Number {
	return dual.Abs(r)
}

// ResidualByName returns the residual for "squared" (also "l2", the default
// for an empty name) or "absolute" (also "l1").
func ResidualByName(name string) (Residual, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "squared", "square", "l2":
		return SquaredError, nil
	case "absolute", "abs", "l1":
		return AbsoluteError, nil
	}
	return nil, errors.InvalidArgument("ResidualByName", "unknown residual %q", name)
}
