package psf

import "math"

// DefaultMaxSize is the default bounding-box extent in FWHMs.
const DefaultMaxSize = 3

// BoundingBox returns the inclusive index range round(c ± maxsize*fwhm/2) on
// each axis. Rounding is half to even. A scalar fwhm applies to both axes.
func BoundingBox(center [2]float64, fwhm Value, maxsize float64) Domain {
	fx, fy := fwhm.XY()
	hx := maxsize * fx / 2
	hy := maxsize * fy / 2
	return Domain{
		XMin: int(math.RoundToEven(center[0] - hx)),
		XMax: int(math.RoundToEven(center[0] + hx)),
		YMin: int(math.RoundToEven(center[1] - hy)),
		YMax: int(math.RoundToEven(center[1] + hy)),
	}
}
