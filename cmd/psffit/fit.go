package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/copyleftdev/psffit/internal/api"
	"github.com/copyleftdev/psffit/internal/config"
	"github.com/copyleftdev/psffit/internal/fitting"
	"github.com/copyleftdev/psffit/internal/store"
)

type fitFlags struct {
	file      string
	algorithm string
	timeout   time.Duration
	maxFWHM   float64
	quiet     bool
}

func (c *cli) newFitCmd() *cobra.Command {
	f := &fitFlags{}
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a model to a data grid",
		Long: `Reads a fit request (YAML or JSON) naming the model, the initial guess, the
frozen parameters and the data grid, runs the fit and prints the result.`,
		Example: "  psffit fit -f star.yaml\n  psffit fit -f - --algorithm mayfly < star.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runFit(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Fit request file, or - for stdin (required)")
	cmd.Flags().StringVar(&f.algorithm, "algorithm", "", "Override the optimizer (lbfgs, bfgs, neldermead, mayfly)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Abort the fit after this long (default FIT_TIMEOUT)")
	cmd.Flags().Float64Var(&f.maxFWHM, "max-fwhm", 0, "Upper bound on fwhm (default FIT_MAX_FWHM, 0 is unbounded)")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Do not print the fit summary")
	cmd.MarkFlagRequired("file")
	return cmd
}

func (c *cli) runFit(cmd *cobra.Command, f *fitFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var req api.FitRequest
	if err := readRequest(cmd, f.file, &req); err != nil {
		return err
	}
	if f.algorithm != "" {
		if req.Optimizer == nil {
			req.Optimizer = &api.OptimizerRequest{}
		}
		req.Optimizer.Algorithm = f.algorithm
	}
	if f.maxFWHM != 0 {
		req.MaxFWHM = f.maxFWHM
	}

	call, err := req.Build(api.Defaults{Optimizer: cfg.Fit.Optimizer(), MaxFWHM: cfg.Fit.MaxFWHM})
	if err != nil {
		return err
	}

	timeout := f.timeout
	if timeout <= 0 {
		timeout = cfg.Fit.Timeout
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	c.logger.Info("Starting fit", map[string]interface{}{
		"model":     call.Model.Name(),
		"algorithm": string(call.Options.Optimizer.Name()),
		"free":      call.Initial.Keys(),
	})
	start := time.Now()
	res, err := call.Run(ctx, c.zap)
	if err != nil {
		return err
	}

	if !f.quiet {
		printSummary(cmd.ErrOrStderr(), call.Model.Name(), res, time.Since(start))
	}
	return c.write(cmd.OutOrStdout(), api.FitResponse{
		Model:  call.Model.Name(),
		State:  store.StateCompleted,
		Result: res,
	})
}

func printSummary(w io.Writer, model string, res *fitting.Result, elapsed time.Duration) {
	if res.Converged {
		color.New(color.FgGreen, color.Bold).Fprintf(w, "✓ %s converged", model)
	} else {
		color.New(color.FgYellow, color.Bold).Fprintf(w, "! %s did not converge", model)
	}
	dim := color.New(color.FgHiBlack)
	dim.Fprintf(w, " (%s, loss %.6g, %d iterations, %d evaluations, %s)\n",
		res.Status, res.Loss, res.Iterations, res.Evaluations, elapsed.Round(time.Millisecond))

	name := color.New(color.FgCyan)
	for _, e := range res.Params.Entries() {
		name.Fprintf(w, "  %-6s", e.Name)
		fmt.Fprintf(w, " %v\n", e.Value)
	}
}
