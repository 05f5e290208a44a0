package fitting

import (
	"github.com/copyleftdev/psffit/internal/errors"
	"github.com/copyleftdev/psffit/internal/psf"
)

// Flatten writes p to a vector in key order. A pair fwhm takes two
// consecutive slots, x component first; every other key takes one and must
// be a scalar.
func Flatten(p psf.Params) ([]float64, error) {
	out := make([]float64, 0, p.Len()+1)
	for _, e := range p.Entries() {
		if !e.Value.IsPair() {
			out = append(out, e.Value.Float())
			continue
		}
		if e.Name != psf.ParamFWHM {
			return nil, errors.InvalidArgument("Flatten", "parameter %q is a pair, only fwhm may be", e.Name)
		}
		fx, fy := e.Value.XY()
		out = append(out, fx, fy)
	}
	return out, nil
}

// Unflatten is the inverse of Flatten for the given key order. One slot more
// than len(keys) means fwhm is a pair.
func Unflatten(keys []string, values []float64) (psf.Params, error) {
	hasFWHM := false
	for _, k := range keys {
		if k == psf.ParamFWHM {
			hasFWHM = true
			break
		}
	}

	var pairFWHM bool
	switch {
	case len(values) == len(keys):
	case len(values) == len(keys)+1 && hasFWHM:
		pairFWHM = true
	default:
		return psf.Params{}, errors.InvalidArgument("Unflatten", "%d values do not match %d keys", len(values), len(keys))
	}

	entries := make([]psf.Entry, 0, len(keys))
	j := 0
	for _, k := range keys {
		if k == psf.ParamFWHM && pairFWHM {
			entries = append(entries, psf.P(k, values[j], values[j+1]))
			j += 2
			continue
		}
		entries = append(entries, psf.S(k, values[j]))
		j++
	}
	return psf.NewParams(entries...), nil
}

// Validate checks a free/frozen parameter split before any numeric work.
func Validate(free, frozen psf.Params) error {
	if free.Len() == 0 {
		return errors.InvalidArgument("Validate", "no free parameters")
	}
	for _, e := range free.Entries() {
		if frozen.Has(e.Name) {
			return errors.InvalidArgument("Validate", "parameter %q is both free and frozen", e.Name)
		}
		if e.Name == psf.ParamPos {
			return errors.InvalidArgument("Validate", "pos cannot be fit, use x and y")
		}
		if e.Value.IsPair() && e.Name != psf.ParamFWHM {
			return errors.InvalidArgument("Validate", "free parameter %q must be a scalar", e.Name)
		}
	}

	if free.Has(psf.ParamTheta) {
		fwhm, ok := free.Get(psf.ParamFWHM)
		if !ok {
			fwhm, ok = frozen.Get(psf.ParamFWHM)
		}
		if !ok || !fwhm.IsPair() {
			return errors.InvalidArgument("Validate", "theta cannot be fit with an isotropic fwhm")
		}
	}
	return nil
}
