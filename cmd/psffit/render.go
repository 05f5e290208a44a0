package main

import (
	"github.com/spf13/cobra"

	"github.com/copyleftdev/psffit/internal/api"
)

func (c *cli) newRenderCmd() *cobra.Command {
	var (
		file    string
		maxSize float64
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Sample a model on a grid",
		Long: `Reads a render request (YAML or JSON) naming the model, its parameters and
optionally a domain. Without a domain the model's bounding box is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req api.RenderRequest
			if err := readRequest(cmd, file, &req); err != nil {
				return err
			}
			if maxSize != 0 {
				req.MaxSize = maxSize
			}
			res, err := req.Render(c.zap)
			if err != nil {
				return err
			}
			return c.write(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Render request file, or - for stdin (required)")
	cmd.Flags().Float64Var(&maxSize, "max-size", 0, "Bounding box extent in FWHMs when no domain is given (default 3)")
	cmd.MarkFlagRequired("file")
	return cmd
}
