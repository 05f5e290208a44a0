package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/psffit/internal/psf"
)

var version = "0.1.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "psffit version %s (models: %v)\n", version, psf.Names())
		},
	}
}
