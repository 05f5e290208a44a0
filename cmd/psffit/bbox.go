package main

import (
	"github.com/spf13/cobra"

	"github.com/copyleftdev/psffit/internal/errors"
	"github.com/copyleftdev/psffit/internal/psf"
)

func (c *cli) newBBoxCmd() *cobra.Command {
	var (
		x, y    float64
		fwhm    []float64
		maxSize float64
	)
	cmd := &cobra.Command{
		Use:     "bbox",
		Short:   "Print the index box around a source",
		Example: "  psffit bbox --x 12.5 --y 40 --fwhm 2.5\n  psffit bbox --x 12.5 --y 40 --fwhm 3,2 --max-size 5",
		RunE: func(cmd *cobra.Command, args []string) error {
			var v psf.Value
			switch len(fwhm) {
			case 1:
				v = psf.Scalar(fwhm[0])
			case 2:
				v = psf.Pair(fwhm[0], fwhm[1])
			default:
				return errors.InvalidArgument("bbox", "fwhm takes one or two values, got %d", len(fwhm))
			}
			if maxSize <= 0 {
				return errors.InvalidArgument("bbox", "max-size must be positive")
			}
			return c.write(cmd.OutOrStdout(), psf.BoundingBox([2]float64{x, y}, v, maxSize))
		},
	}

	cmd.Flags().Float64Var(&x, "x", 0, "Source x position")
	cmd.Flags().Float64Var(&y, "y", 0, "Source y position")
	cmd.Flags().Float64SliceVar(&fwhm, "fwhm", nil, "FWHM, or x,y FWHM pair (required)")
	cmd.Flags().Float64Var(&maxSize, "max-size", psf.DefaultMaxSize, "Box extent in FWHMs")
	cmd.MarkFlagRequired("fwhm")
	return cmd
}
